package camera

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/smazurov/livenode/internal/ffmpeg"
	"github.com/smazurov/livenode/internal/logging"
	"github.com/smazurov/livenode/internal/media"
	"github.com/smazurov/livenode/internal/process"
)

// DeviceConfig selects a capture device.
type DeviceConfig struct {
	Device      string `toml:"device" json:"device"`
	Driver      string `toml:"driver" json:"driver,omitempty"`
	InputFormat string `toml:"input_format" json:"input_format,omitempty"`
	Width       int    `toml:"width" json:"width"`
	Height      int    `toml:"height" json:"height"`
	FPS         int    `toml:"fps" json:"fps"`
	// TestPattern uses FFmpeg's testsrc2 instead of a device.
	TestPattern bool   `toml:"test_pattern" json:"test_pattern"`
	Overlay     string `toml:"overlay" json:"overlay,omitempty"`
}

// FFmpeg captures from a V4L2 or AVFoundation device through an FFmpeg
// subprocess that decodes to raw I420 on stdout.
type FFmpeg struct {
	cfg    DeviceConfig
	logger logging.Logger
	slot   callbackSlot
	errs   errorSlot

	mu      sync.Mutex
	proc    *process.Process
	wg      sync.WaitGroup
	running bool
	err     error
}

// NewFFmpeg creates a device camera.
func NewFFmpeg(cfg DeviceConfig, logger logging.Logger) *FFmpeg {
	return &FFmpeg{cfg: cfg, logger: logger}
}

func (c *FFmpeg) Name() string {
	if c.cfg.TestPattern {
		return "testsrc2"
	}
	return c.cfg.Device
}

func (c *FFmpeg) SetCallback(cb FrameCallback) { c.slot.set(cb) }

func (c *FFmpeg) SetErrorCallback(cb func(error)) { c.errs.set(cb) }

func (c *FFmpeg) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return errors.New("camera already started")
	}

	cmd, err := ffmpeg.BuildCaptureCommand(&ffmpeg.CaptureParams{
		DevicePath:   c.cfg.Device,
		InputDriver:  c.cfg.Driver,
		InputFormat:  c.cfg.InputFormat,
		Width:        c.cfg.Width,
		Height:       c.cfg.Height,
		FPS:          c.cfg.FPS,
		IsTestSource: c.cfg.TestPattern,
		TestOverlay:  c.cfg.Overlay,
		Options:      ffmpeg.DefaultOptions(),
	})
	if err != nil {
		return media.NewError(media.KindConfiguration, "camera command", err)
	}

	proc, err := process.Start(ctx, cmd, c.logger, process.Options{
		LogParser: ffmpeg.ParseLogLevel,
		NoStdin:   true,
	})
	if err != nil {
		return media.NewError(media.KindResourceExhaustion, "camera start", err)
	}

	c.proc = proc
	c.running = true
	c.err = nil
	c.wg.Add(1)
	go c.capture(proc)
	c.logger.Info("Camera started", "source", c.Name(), "pid", proc.Pid(), "width", c.cfg.Width, "height", c.cfg.Height, "fps", c.cfg.FPS)
	return nil
}

func (c *FFmpeg) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	proc := c.proc
	c.mu.Unlock()

	proc.Stop()
	_ = proc.CloseStdout()
	c.wg.Wait()
	c.logger.Info("Camera stopped", "source", c.Name())
	return nil
}

// Err returns why capture ended on its own, if it did.
func (c *FFmpeg) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *FFmpeg) capture(proc *process.Process) {
	defer c.wg.Done()

	w, h := c.cfg.Width, c.cfg.Height
	size := media.I420Size(w, h)
	start := time.Now()
	var seq uint64

	for {
		// Each frame gets its own buffer; ownership moves to the callback
		buf := make([]byte, size)
		if _, err := io.ReadFull(proc.Stdout(), buf); err != nil {
			c.mu.Lock()
			unexpected := c.running
			if unexpected {
				c.err = fmt.Errorf("camera stream ended after %d frames: %w", seq, err)
				c.logger.Warn("Camera stream ended", "source", c.Name(), "error", err, "frames", seq)
			}
			cause := c.err
			c.mu.Unlock()
			if unexpected {
				c.errs.report(cause)
			}
			return
		}
		seq++
		f := media.NewI420Frame(buf, w, h, time.Since(start))
		f.Seq = seq
		c.slot.deliver(f)
	}
}
