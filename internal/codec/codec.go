// Package codec abstracts a hardware H.264 encoder the way platform codec
// APIs expose one: configure, start, queue raw input (or render into an
// input surface), dequeue encoded output, stop, release.
package codec

import (
	"context"
	"errors"
	"time"

	"github.com/smazurov/livenode/internal/media"
)

// ErrSurfaceUnsupported is returned by CreateInputSurface when the codec
// only accepts raw buffers.
var ErrSurfaceUnsupported = errors.New("codec has no input surface")

// OutputKind tells what DequeueOutput produced.
type OutputKind int

const (
	// OutputNone means nothing was ready before the timeout.
	OutputNone OutputKind = iota
	// OutputFormatChanged carries the negotiated output format.
	OutputFormatChanged
	// OutputBuffer carries one encoded access unit.
	OutputBuffer
)

func (k OutputKind) String() string {
	switch k {
	case OutputFormatChanged:
		return "format_changed"
	case OutputBuffer:
		return "buffer"
	default:
		return "none"
	}
}

// Output is one result of DequeueOutput. Buffers must be handed back with
// ReleaseOutput.
type Output struct {
	Kind    OutputKind
	Format  media.Format
	Payload []byte
	PTS     time.Duration
	Flags   media.UnitFlags
}

// Codec is a hardware encoder instance. Configure must precede Start;
// CreateInputSurface is only valid between the two.
type Codec interface {
	Name() string
	Configure(cfg media.Config) error
	CreateInputSurface() (media.Surface, error)
	Start() error
	// InputBufferSize is the largest raw frame QueueInput accepts.
	InputBufferSize() int
	QueueInput(buf []byte, pts time.Duration) error
	DequeueOutput(timeout time.Duration) (Output, error)
	ReleaseOutput(out Output)
	RequestKeyframe() error
	Stop() error
	Release() error
}

// Factory creates an unconfigured codec for cfg. It fails with a
// ResourceExhaustion error when no suitable encoder exists.
type Factory func(ctx context.Context, cfg media.Config) (Codec, error)
