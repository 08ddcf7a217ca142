package pipeline

import (
	"errors"
	"time"

	"github.com/smazurov/livenode/internal/camera"
	"github.com/smazurov/livenode/internal/events"
	"github.com/smazurov/livenode/internal/media"
	"github.com/smazurov/livenode/internal/metrics"
)

// ensureCamera makes sure a camera matching cfg is capturing. A camera
// with a different geometry or rate is replaced. Caller holds transition.
func (p *Pipeline) ensureCamera(cfg media.Config) error {
	if p.source != nil && sameCapture(p.sourceCfg, cfg) {
		return nil
	}
	p.stopCamera()

	src, err := p.opts.NewSource(cfg)
	if err != nil {
		if media.KindOf(err) == "" {
			err = media.NewError(media.KindConfiguration, "create camera", err)
		}
		return err
	}
	src.SetCallback(p.onFrame)
	// The callback runs on the capture goroutine, which stopCamera waits for.
	src.SetErrorCallback(func(err error) { go p.captureFailed(src, err) })
	if err := src.Start(p.baseCtx); err != nil {
		src.SetCallback(nil)
		src.SetErrorCallback(nil)
		return err
	}
	p.source = src
	p.sourceCfg = cfg
	p.logger.Debug("Camera bound", "source", src.Name(), "width", cfg.Width, "height", cfg.Height, "fps", cfg.FPS)
	return nil
}

// settleCamera stops the camera unless the pipeline is enabled, in which
// case it keeps running in preview-only mode. Caller holds transition.
func (p *Pipeline) settleCamera() {
	if p.source == nil {
		return
	}
	if p.Enabled() {
		if p.State() != StateRunning {
			p.logger.Info("Camera in preview-only mode", "source", p.source.Name())
		}
		return
	}
	p.stopCamera()
}

func (p *Pipeline) stopCamera() {
	if p.source == nil {
		return
	}
	src := p.source
	p.source = nil
	src.SetCallback(nil)
	src.SetErrorCallback(nil)
	if err := src.Stop(); err != nil {
		p.logger.Warn("Camera stop failed", "source", src.Name(), "error", err)
	}
	p.logger.Debug("Camera unbound", "source", src.Name())
}

// captureFailed handles a camera that stopped delivering frames on its own.
// The running session is stopped and the camera unbound; the enabled and
// streaming requests stay, so the next Start or enable opens it again.
func (p *Pipeline) captureFailed(src camera.Source, err error) {
	p.transition.Lock()
	defer p.transition.Unlock()
	if p.source != src {
		return
	}

	err = media.NewError(media.KindResourceExhaustion, "capture", err)
	p.logger.Error("Camera failed", "source", src.Name(), "error", err)
	if p.opts.Bus != nil {
		p.opts.Bus.Publish(events.CaptureFailureEvent{
			Source:    src.Name(),
			Error:     err.Error(),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	}

	p.mu.Lock()
	p.lastErr = err
	p.mu.Unlock()
	running := p.State() == StateRunning
	if stopErr := p.stopLocked(err); stopErr != nil {
		p.logger.Warn("Stop after camera failure returned error", "error", stopErr)
	}
	p.stopCamera()
	if !running {
		p.announce(p.State(), p.State(), err)
	}
}

func sameCapture(a, b media.Config) bool {
	return a.Width == b.Width && a.Height == b.Height && a.FPS == b.FPS
}

// onFrame runs on the camera's capture goroutine. It repacks the frame and
// hands it on without blocking.
func (p *Pipeline) onFrame(f media.Frame) {
	n := p.captured.Add(1)
	metrics.IncFramesCaptured()
	if n == 1 {
		p.logger.Info("First frame captured", "width", f.Width, "height", f.Height, "format", f.Format)
	} else if n%frameLogInterval == 0 {
		p.logger.Debug("Frames captured", "count", n, "dropped", p.extractor.Dropped())
	}

	out, err := p.extractor.Extract(f)
	if err != nil {
		reason := metrics.DropSubmitError
		if errors.Is(err, media.ErrUnsupportedFormat) {
			reason = metrics.DropUnsupportedFormat
		}
		metrics.IncFramesDropped(reason)
		p.logger.Debug("Frame dropped", "seq", f.Seq, "error", err)
		return
	}

	if p.opts.Detector != nil {
		p.opts.Detector.Submit(out)
	}
	if r := p.active.Load(); r != nil {
		if r.mailbox.Put(out) {
			p.replaced.Add(1)
			metrics.IncFramesDropped(metrics.DropReplaced)
		}
	}
}
