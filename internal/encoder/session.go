// Package encoder manages one hardware encoder session: configuration,
// input strategy, output draining and teardown.
package encoder

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/livenode/internal/codec"
	"github.com/smazurov/livenode/internal/logging"
	"github.com/smazurov/livenode/internal/media"
)

// ResultKind classifies a Drain result.
type ResultKind int

const (
	NoData ResultKind = iota
	FormatChanged
	AccessUnit
)

func (k ResultKind) String() string {
	switch k {
	case FormatChanged:
		return "format_changed"
	case AccessUnit:
		return "access_unit"
	default:
		return "no_data"
	}
}

// DrainResult is one step of encoder output. Units must be released by the
// caller.
type DrainResult struct {
	Kind   ResultKind
	Format media.Format
	Unit   media.AccessUnit
}

// Stats are cumulative session counters.
type Stats struct {
	Submitted      uint64 `json:"submitted"`
	Units          uint64 `json:"units"`
	Keyframes      uint64 `json:"keyframes"`
	Bytes          uint64 `json:"bytes"`
	DroppedLeading uint64 `json:"dropped_leading"`
}

// Session is a live encoder. Exactly one exists per running pipeline; it is
// never reused after Stop.
type Session struct {
	codec  codec.Codec
	input  InputStrategy
	cfg    media.Config
	logger logging.Logger

	stopped  atomic.Bool
	stopOnce sync.Once
	stopErr  error

	// drain state, touched only by the draining goroutine
	sentConfig   bool
	sentKeyframe bool
	lastPTS      int64
	havePTS      bool
	firstPTS     time.Duration
	haveFirst    bool
	seq          uint64

	submitted      atomic.Uint64
	units          atomic.Uint64
	keyframes      atomic.Uint64
	bytes          atomic.Uint64
	droppedLeading atomic.Uint64
}

// Start creates, configures and starts a codec for cfg. On failure every
// resource acquired so far is released before returning.
func Start(ctx context.Context, factory codec.Factory, cfg media.Config, logger logging.Logger) (*Session, error) {
	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c, err := factory(ctx, cfg)
	if err != nil {
		if media.KindOf(err) == "" {
			err = media.NewError(media.KindResourceExhaustion, "create codec", err)
		}
		return nil, err
	}

	if err := c.Configure(cfg); err != nil {
		_ = c.Release()
		if media.KindOf(err) == "" {
			err = media.NewError(media.KindConfiguration, "configure", err)
		}
		return nil, err
	}

	input, err := chooseInput(c, cfg.Input)
	if err != nil {
		_ = c.Release()
		return nil, err
	}

	if err := c.Start(); err != nil {
		input.release()
		_ = c.Release()
		if media.KindOf(err) == "" {
			err = media.NewError(media.KindConfiguration, "start", err)
		}
		return nil, err
	}

	logger.Info("Encoder session started",
		"codec", c.Name(),
		"input", input.Kind(),
		"size", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"fps", cfg.FPS,
		"bitrate", cfg.Bitrate,
		"gop", cfg.GOP())

	return &Session{codec: c, input: input, cfg: cfg, logger: logger}, nil
}

// Config returns the normalized configuration of the session.
func (s *Session) Config() media.Config { return s.cfg }

// Input returns the session's input strategy.
func (s *Session) Input() InputStrategy { return s.input }

// CodecName names the underlying codec implementation.
func (s *Session) CodecName() string { return s.codec.Name() }

// Submit queues a packed I420 frame; buffer strategy only.
func (s *Session) Submit(buf []byte, ts time.Duration) error {
	if s.stopped.Load() {
		return media.NewError(media.KindStateViolation, "submit", media.ErrSessionClosed)
	}
	if err := s.input.Submit(buf, ts); err != nil {
		return err
	}
	s.submitted.Add(1)
	return nil
}

// Surface returns the encoder input surface, or nil for the buffer
// strategy. Frames presented through it count as submitted.
func (s *Session) Surface() media.Surface {
	surface := s.input.Surface()
	if surface == nil {
		return nil
	}
	return &countingSurface{Surface: surface, n: &s.submitted}
}

type countingSurface struct {
	media.Surface
	n *atomic.Uint64
}

func (c *countingSurface) Present(img image.Image, pts time.Duration) error {
	if err := c.Surface.Present(img, pts); err != nil {
		return err
	}
	c.n.Add(1)
	return nil
}

// RequestKeyframe asks the codec for an IDR picture as soon as possible.
func (s *Session) RequestKeyframe() error {
	if s.stopped.Load() {
		return media.NewError(media.KindStateViolation, "request keyframe", media.ErrSessionClosed)
	}
	return s.codec.RequestKeyframe()
}

// Drain returns the next output, waiting at most timeout. It must be
// called from a single goroutine.
func (s *Session) Drain(timeout time.Duration) (DrainResult, error) {
	if s.stopped.Load() {
		return DrainResult{}, media.NewError(media.KindStateViolation, "drain", media.ErrSessionClosed)
	}

	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}
		out, err := s.codec.DequeueOutput(remaining)
		if err != nil {
			if media.KindOf(err) == "" {
				err = media.NewError(media.KindTransientIO, "drain", err)
			}
			return DrainResult{}, err
		}

		switch out.Kind {
		case codec.OutputNone:
			return DrainResult{Kind: NoData}, nil
		case codec.OutputFormatChanged:
			s.logger.Info("Encoder output format", "encoder", out.Format.Encoder, "profile", out.Format.Profile, "level", out.Format.Level)
			return DrainResult{Kind: FormatChanged, Format: out.Format}, nil
		}

		// A rejected output may have more queued behind it. Past the
		// deadline the next dequeue does not wait.
		if unit, ok := s.admit(out); ok {
			return DrainResult{Kind: AccessUnit, Unit: unit}, nil
		}
	}
}

// admit enforces output ordering: CONFIG at most once and before the first
// keyframe, no deltas before the first keyframe, strictly increasing PTS.
func (s *Session) admit(out codec.Output) (media.AccessUnit, bool) {
	switch {
	case out.Flags.Has(media.FlagConfig):
		if s.sentConfig || s.sentKeyframe {
			s.codec.ReleaseOutput(out)
			return media.AccessUnit{}, false
		}
		s.sentConfig = true
	case out.Flags.Has(media.FlagKeyframe):
		s.sentKeyframe = true
		s.keyframes.Add(1)
	default:
		if !s.sentKeyframe {
			s.codec.ReleaseOutput(out)
			s.droppedLeading.Add(1)
			if err := s.codec.RequestKeyframe(); err != nil {
				s.logger.Debug("Keyframe request failed", "error", err)
			}
			return media.AccessUnit{}, false
		}
	}

	pts := s.rebase(out.PTS, out.Flags.Has(media.FlagConfig))
	c := s.codec
	unit := media.NewAccessUnit(out.Payload, pts, out.Flags, func() { c.ReleaseOutput(out) })
	unit.Seq = s.seq
	s.seq++
	s.units.Add(1)
	s.bytes.Add(uint64(len(out.Payload)))
	return unit, true
}

// rebase converts codec timestamps to microseconds since the first output.
// Pictures are clamped to be strictly increasing; a CONFIG unit shares the
// timestamp of the picture that follows it.
func (s *Session) rebase(ts time.Duration, config bool) int64 {
	if !s.haveFirst {
		s.firstPTS = ts
		s.haveFirst = true
	}
	pts := (ts - s.firstPTS).Microseconds()
	if config {
		return max(pts, 0)
	}
	if s.havePTS && pts <= s.lastPTS {
		pts = s.lastPTS + 1
	}
	s.lastPTS = pts
	s.havePTS = true
	return pts
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	return Stats{
		Submitted:      s.submitted.Load(),
		Units:          s.units.Load(),
		Keyframes:      s.keyframes.Load(),
		Bytes:          s.bytes.Load(),
		DroppedLeading: s.droppedLeading.Load(),
	}
}

// Stop stops and releases the codec and its input. Safe to call more than
// once; later calls return the first result.
func (s *Session) Stop() error {
	s.stopOnce.Do(func() {
		s.stopped.Store(true)
		var errs []error
		if err := s.codec.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop codec: %w", err))
		}
		s.input.release()
		if err := s.codec.Release(); err != nil {
			errs = append(errs, fmt.Errorf("release codec: %w", err))
		}
		s.stopErr = errors.Join(errs...)
		s.logger.Info("Encoder session stopped", "codec", s.codec.Name(), "units", s.units.Load())
	})
	return s.stopErr
}
