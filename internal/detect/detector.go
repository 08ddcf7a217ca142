// Package detect runs region detectors on preview frames.
//
// Detection never sits on the encode path: the pipeline hands frames to a
// Runner through a keep-only-latest mailbox and the Runner publishes results
// as events for overlay consumers.
package detect

import (
	"context"
	"image"
	"time"

	"github.com/smazurov/livenode/internal/media"
)

// Defaults for the luma detector and the runner.
const (
	DefaultThreshold uint8 = 200
	DefaultMinPixels       = 256
	DefaultStep            = 4
	DefaultInterval        = 200 * time.Millisecond
)

// Box is a detected region in frame pixel coordinates.
type Box struct {
	Rect       image.Rectangle
	Confidence float64
	Label      string
}

// Detector finds regions of interest in a packed I420 frame. The frame
// must be treated as read-only.
type Detector interface {
	Name() string
	Detect(ctx context.Context, f media.Frame) ([]Box, error)
}

// Config tunes the built-in luma detector and the runner cadence.
type Config struct {
	// Threshold is the minimum luma of a foreground sample.
	Threshold uint8
	// MinPixels drops regions covering fewer frame pixels.
	MinPixels int
	// Step samples every Nth pixel in both directions.
	Step int
	// Interval is the minimum time between two detector runs.
	Interval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Threshold == 0 {
		c.Threshold = DefaultThreshold
	}
	if c.MinPixels <= 0 {
		c.MinPixels = DefaultMinPixels
	}
	if c.Step <= 0 {
		c.Step = DefaultStep
	}
	if c.Interval < 0 {
		c.Interval = 0
	}
	return c
}

// Result is one detector run.
type Result struct {
	Detector string
	FrameSeq uint64
	Width    int
	Height   int
	Boxes    []Box
	Elapsed  time.Duration
	At       time.Time
}
