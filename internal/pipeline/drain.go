package pipeline

import (
	"errors"
	"runtime"
	"time"

	"github.com/smazurov/livenode/internal/encoder"
	"github.com/smazurov/livenode/internal/events"
	"github.com/smazurov/livenode/internal/media"
	"github.com/smazurov/livenode/internal/metrics"
)

// Drain error backoff bounds.
const (
	minBackoff = 5 * time.Millisecond
	maxBackoff = 200 * time.Millisecond
)

// drainLoop polls the session on a locked OS thread and forwards output to
// the sink in emission order. It exits at the next poll boundary after the
// run is cancelled, so no Drain call overlaps the session release.
func (p *Pipeline) drainLoop(r *run) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(r.drainDone)
	r.drainThread.Store(int64(threadID()))

	var backoff time.Duration
	for {
		if r.ctx.Err() != nil {
			return
		}

		start := time.Now()
		res, err := r.session.Drain(p.opts.DrainTimeout)
		if err != nil {
			switch {
			case errors.Is(err, media.ErrCodecFailed):
				p.fail(r, err)
				return
			case errors.Is(err, media.ErrStateViolation):
				return
			}

			backoff = nextBackoff(backoff)
			metrics.IncDrainErrors(string(media.KindOf(err)))
			p.logger.Warn("Drain failed, retrying", "error", err, "backoff", backoff)
			select {
			case <-r.ctx.Done():
				return
			case <-time.After(backoff):
			}
			continue
		}
		backoff = 0

		switch res.Kind {
		case encoder.NoData:
			runtime.Gosched()
		case encoder.FormatChanged:
			r.inSink.Store(true)
			p.onFormat(res.Format)
			r.inSink.Store(false)
		case encoder.AccessUnit:
			metrics.ObserveDrainLatency(time.Since(start))
			r.inSink.Store(true)
			p.forward(res.Unit)
			r.inSink.Store(false)
		}
	}
}

func nextBackoff(cur time.Duration) time.Duration {
	if cur < minBackoff {
		return minBackoff
	}
	return min(cur*2, maxBackoff)
}

// forward hands one unit to the sink and releases it. Sink errors never
// stop the loop.
func (p *Pipeline) forward(u media.AccessUnit) {
	defer u.Release()

	metrics.ObserveAccessUnit(unitKind(u.Flags), len(u.Payload))
	if err := p.opts.Sink.OnAccessUnit(u); err != nil {
		metrics.IncDrainErrors("sink")
		p.logger.Warn("Sink rejected access unit", "seq", u.Seq, "flags", u.Flags, "error", err)
	}
}

func (p *Pipeline) onFormat(f media.Format) {
	p.mu.Lock()
	p.format = &f
	p.mu.Unlock()

	p.opts.Sink.OnFormat(f)
	p.logger.Info("Output format changed",
		"codec", f.Codec, "width", f.Width, "height", f.Height,
		"profile", f.Profile, "level", f.Level, "encoder", f.Encoder)

	if p.opts.Bus != nil {
		p.opts.Bus.Publish(events.FormatChangedEvent{
			Codec:     f.Codec,
			Width:     f.Width,
			Height:    f.Height,
			FPS:       f.FPS,
			Profile:   f.Profile,
			Level:     f.Level,
			Encoder:   f.Encoder,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	}
}

func unitKind(flags media.UnitFlags) string {
	switch {
	case flags.Has(media.FlagConfig):
		return "config"
	case flags.Has(media.FlagKeyframe):
		return "keyframe"
	default:
		return "delta"
	}
}
