package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/livenode/internal/encoder"
	"github.com/smazurov/livenode/internal/events"
	"github.com/smazurov/livenode/internal/gpu"
	"github.com/smazurov/livenode/internal/media"
	"github.com/smazurov/livenode/internal/metrics"
)

// run is one encoder session with its feeding and draining goroutines.
type run struct {
	gen     uint64
	session *encoder.Session
	shader  string
	mailbox *media.Mailbox

	ctx       context.Context
	cancel    context.CancelFunc
	inputDone chan struct{}
	drainDone chan struct{}
	failOnce  sync.Once

	// drainThread is the OS thread the drain loop is locked to; inSink is
	// set while it is calling into the sink.
	drainThread atomic.Int64
	inSink      atomic.Bool
}

// onDrainLoop reports whether the caller is this run's drain loop, which
// happens when a sink calls back into the pipeline.
func (r *run) onDrainLoop() bool {
	if tid := threadID(); tid != 0 {
		return int64(tid) == r.drainThread.Load()
	}
	return r.inSink.Load()
}

// startRun builds a session for cfg. On failure everything acquired here
// has been released.
func (p *Pipeline) startRun(ctx context.Context, cfg media.Config) (*run, error) {
	if err := p.ensureCamera(cfg); err != nil {
		return nil, err
	}

	// The session outlives the request that started it.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	session, err := encoder.Start(runCtx, p.opts.Codec, cfg, p.logger)
	if err != nil {
		cancel()
		return nil, err
	}

	p.gen++
	r := &run{
		gen:       p.gen,
		session:   session,
		mailbox:   media.NewMailbox(),
		ctx:       runCtx,
		cancel:    cancel,
		inputDone: make(chan struct{}),
		drainDone: make(chan struct{}),
	}

	if session.Input().Kind() == media.InputSurface {
		ready := make(chan error, 1)
		go p.gpuLoop(r, cfg.Shader, ready)
		if err := <-ready; err != nil {
			<-r.inputDone
			_ = session.Stop()
			cancel()
			return nil, err
		}
		r.shader = cfg.Shader
	} else {
		go p.submitLoop(r)
	}
	go p.drainLoop(r)

	return r, nil
}

// teardown stops the loops, joins them with the configured bound and
// releases the session.
func (p *Pipeline) teardown(r *run) error {
	r.cancel()
	r.mailbox.Close()

	deadline := time.NewTimer(p.opts.JoinTimeout)
	defer deadline.Stop()

	var errs []error
	loops := []struct {
		name string
		done chan struct{}
	}{{"input", r.inputDone}, {"drain", r.drainDone}}
	for _, l := range loops {
		select {
		case <-l.done:
		case <-deadline.C:
			p.logger.Error("Loop did not exit in time", "loop", l.name, "timeout", p.opts.JoinTimeout)
			errs = append(errs, fmt.Errorf("%s loop join timed out after %s", l.name, p.opts.JoinTimeout))
		}
	}

	if err := r.session.Stop(); err != nil {
		errs = append(errs, err)
	}
	for range r.session.Stats().DroppedLeading {
		metrics.IncFramesDropped(metrics.DropLeadingDelta)
	}
	return errors.Join(errs...)
}

// fail reports a fatal loop error once per session and stops the session
// from another goroutine, since the caller is one of the joined loops.
func (p *Pipeline) fail(r *run, err error) {
	r.failOnce.Do(func() {
		name := r.session.CodecName()
		p.logger.Error("Encoder failed, stopping pipeline", "encoder", name, "error", err)
		if p.opts.Bus != nil {
			p.opts.Bus.Publish(events.EncoderFailureEvent{
				Encoder:   name,
				Error:     err.Error(),
				Timestamp: time.Now().UTC().Format(time.RFC3339),
			})
		}
		go p.stopGeneration(r.gen, err, true)
	})
}

// gpuLoop owns the compositor. GPU contexts are bound to the thread that
// created them, so creation, drawing and release all happen here.
func (p *Pipeline) gpuLoop(r *run, shader string, ready chan<- error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(r.inputDone)

	comp, err := gpu.NewCompositor(p.opts.Backend, r.session.Surface(), shader)
	ready <- err
	if err != nil {
		return
	}
	defer func() {
		if err := comp.Release(); err != nil {
			p.logger.Warn("Compositor release failed", "error", err)
		}
	}()
	p.logger.Debug("Compositor ready", "backend", p.opts.Backend.Name(), "program", comp.Program())

	for {
		f, ok := r.mailbox.Take(r.ctx)
		if !ok {
			return
		}
		if !p.handleInputErr(r, comp.Draw(f)) {
			return
		}
	}
}

// submitLoop copies packed frames into codec input buffers.
func (p *Pipeline) submitLoop(r *run) {
	defer close(r.inputDone)
	for {
		f, ok := r.mailbox.Take(r.ctx)
		if !ok {
			return
		}
		buf := f.Packed()
		if buf == nil {
			metrics.IncFramesDropped(metrics.DropSubmitError)
			continue
		}
		if !p.handleInputErr(r, r.session.Submit(buf, f.Timestamp)) {
			return
		}
	}
}

// handleInputErr classifies a draw or submit result and reports whether
// the loop should continue.
func (p *Pipeline) handleInputErr(r *run, err error) bool {
	switch {
	case err == nil:
		metrics.IncFramesSubmitted()
		return true
	case errors.Is(err, media.ErrFrame), errors.Is(err, media.ErrTransientIO):
		metrics.IncFramesDropped(metrics.DropSubmitError)
		p.logger.Debug("Frame not submitted", "error", err)
		return true
	case errors.Is(err, media.ErrStateViolation):
		return false
	default:
		p.fail(r, err)
		return false
	}
}
