package exporters

import (
	"context"
	"time"

	"github.com/smazurov/livenode/internal/events"
	"github.com/smazurov/livenode/internal/metrics"
)

// EventPublisher is the part of the event bus the exporter needs.
type EventPublisher interface {
	Publish(ev events.Event)
}

// SSEExporter turns the metric totals into rate events once per interval
// for /api/events clients.
type SSEExporter struct {
	bus      EventPublisher
	interval time.Duration

	cancel context.CancelFunc
	done   chan struct{}

	prev     metrics.PipelineTotals
	prevTime time.Time
}

func NewSSEExporter(bus EventPublisher) *SSEExporter {
	return &SSEExporter{bus: bus, interval: time.Second}
}

func (s *SSEExporter) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.prev, s.prevTime = metrics.GetPipelineTotals(), time.Now()
	go s.run(ctx)
}

// Stop ends the loop and waits for it. Calling it again is a no-op.
func (s *SSEExporter) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
}

func (s *SSEExporter) run(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.publish(now)
		}
	}
}

func (s *SSEExporter) publish(now time.Time) {
	cur := metrics.GetPipelineTotals()
	secs := now.Sub(s.prevTime).Seconds()
	if secs <= 0 {
		secs = s.interval.Seconds()
	}
	perSecond := func(a, b uint64) float64 { return float64(a-b) / secs }

	ev := events.PipelineMetricsEvent{
		CaptureFPS: perSecond(cur.Captured, s.prev.Captured),
		EncodeFPS:  perSecond(cur.Submitted, s.prev.Submitted),
		Bitrate:    perSecond(cur.Bytes, s.prev.Bytes) * 8,
		Dropped:    cur.Dropped,
		Units:      cur.Units,
		Keyframes:  cur.Keyframes,
		Timestamp:  now.UTC().Format(time.RFC3339),
	}
	if loads := metrics.MPPLoads(); len(loads) > 0 {
		ev.CodecLoad = make(map[string]float64, len(loads))
		for device, l := range loads {
			ev.CodecLoad[device] = l.Utilization
		}
	}
	s.bus.Publish(ev)
	s.prev, s.prevTime = cur, now

	for encoder, p := range metrics.GetAllEncoderProgress() {
		s.bus.Publish(events.EncoderMetricsEvent{
			Encoder:       encoder,
			FPS:           p.FPS,
			Speed:         p.Speed,
			DroppedFrames: p.DroppedFrames,
		})
	}
}

// GetEventTypes names the metric events for SSE registration.
func GetEventTypes() map[string]any {
	return map[string]any{
		"pipeline-metrics": events.PipelineMetricsEvent{},
		"encoder-metrics":  events.EncoderMetricsEvent{},
	}
}
