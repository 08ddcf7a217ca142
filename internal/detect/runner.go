package detect

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/smazurov/livenode/internal/events"
	"github.com/smazurov/livenode/internal/logging"
	"github.com/smazurov/livenode/internal/media"
	"github.com/smazurov/livenode/internal/metrics"
)

// EventPublisher publishes detection results.
type EventPublisher interface {
	Publish(ev events.Event)
}

// Runner feeds frames to a Detector on its own goroutine. Submit never
// blocks; frames arriving while a run is in progress replace each other
// and only the newest one is analysed.
type Runner struct {
	detector Detector
	bus      EventPublisher
	logger   logging.Logger
	interval time.Duration

	mu      sync.Mutex
	mailbox *media.Mailbox
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	latest  Result
	runs    uint64
	lastRun time.Time
}

// NewRunner creates a runner. bus may be nil.
func NewRunner(d Detector, cfg Config, bus EventPublisher, logger logging.Logger) *Runner {
	return &Runner{
		detector: d,
		bus:      bus,
		logger:   logger,
		interval: cfg.withDefaults().Interval,
	}
}

// Start launches the detector goroutine. Calling Start on a running
// runner does nothing.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.mailbox = media.NewMailbox()
	mb := r.mailbox

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.loop(ctx, mb)
	}()
	r.logger.Info("Detector started", "detector", r.detector.Name(), "interval", r.interval)
}

// Stop ends the goroutine and waits for an in-flight run. Idempotent.
func (r *Runner) Stop() {
	r.mu.Lock()
	cancel, mb := r.cancel, r.mailbox
	r.cancel = nil
	r.mu.Unlock()
	if cancel == nil {
		return
	}

	cancel()
	mb.Close()
	r.wg.Wait()
	r.logger.Info("Detector stopped", "detector", r.detector.Name())
}

// Submit offers a frame for analysis. Frames submitted before Start or
// after Stop are ignored.
func (r *Runner) Submit(f media.Frame) {
	r.mu.Lock()
	mb := r.mailbox
	running := r.cancel != nil
	r.mu.Unlock()
	if !running {
		return
	}
	if mb.Put(f) {
		metrics.IncDetectorRuns("skipped")
	}
}

// Latest returns the most recent result.
func (r *Runner) Latest() (Result, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latest, r.runs > 0
}

func (r *Runner) loop(ctx context.Context, mb *media.Mailbox) {
	for {
		f, ok := mb.Take(ctx)
		if !ok {
			return
		}

		r.mu.Lock()
		wait := r.interval - time.Since(r.lastRun)
		r.mu.Unlock()
		if wait > 0 && !r.lastRun.IsZero() {
			metrics.IncDetectorRuns("skipped")
			continue
		}

		r.run(ctx, f)
	}
}

func (r *Runner) run(ctx context.Context, f media.Frame) {
	start := time.Now()
	boxes, err := r.detector.Detect(ctx, f)
	elapsed := time.Since(start)

	r.mu.Lock()
	r.lastRun = start
	r.mu.Unlock()

	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		metrics.IncDetectorRuns("error")
		r.logger.Warn("Detector failed", "detector", r.detector.Name(), "seq", f.Seq, "error", err)
		return
	}
	metrics.IncDetectorRuns("ok")

	res := Result{
		Detector: r.detector.Name(),
		FrameSeq: f.Seq,
		Width:    f.Width,
		Height:   f.Height,
		Boxes:    boxes,
		Elapsed:  elapsed,
		At:       start,
	}

	r.mu.Lock()
	r.latest = res
	r.runs++
	r.mu.Unlock()

	if r.bus != nil {
		r.bus.Publish(ToEvent(res))
	}
	r.logger.Debug("Detection", "seq", f.Seq, "boxes", len(boxes), "elapsed", elapsed)
}

// ToEvent converts a result to its event form.
func ToEvent(res Result) events.DetectionEvent {
	boxes := make([]events.DetectionBox, len(res.Boxes))
	for i, b := range res.Boxes {
		boxes[i] = events.DetectionBox{
			X:          b.Rect.Min.X,
			Y:          b.Rect.Min.Y,
			Width:      b.Rect.Dx(),
			Height:     b.Rect.Dy(),
			Confidence: b.Confidence,
			Label:      b.Label,
		}
	}
	return events.DetectionEvent{
		Detector:    res.Detector,
		FrameSeq:    res.FrameSeq,
		FrameWidth:  res.Width,
		FrameHeight: res.Height,
		Boxes:       boxes,
		Timestamp:   res.At.UTC().Format(time.RFC3339Nano),
	}
}
