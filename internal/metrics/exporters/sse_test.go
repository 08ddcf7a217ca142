package exporters

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/livenode/internal/events"
	"github.com/smazurov/livenode/internal/metrics"
)

type recordingBus struct {
	mu     sync.Mutex
	events []events.Event
	signal chan struct{}
}

func newRecordingBus() *recordingBus {
	return &recordingBus{signal: make(chan struct{}, 100)}
}

func (b *recordingBus) Publish(ev events.Event) {
	b.mu.Lock()
	b.events = append(b.events, ev)
	b.mu.Unlock()
	select {
	case b.signal <- struct{}{}:
	default:
	}
}

func (b *recordingBus) snapshot() []events.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]events.Event(nil), b.events...)
}

func (b *recordingBus) lastPipeline() *events.PipelineMetricsEvent {
	var got *events.PipelineMetricsEvent
	for _, ev := range b.snapshot() {
		if e, ok := ev.(events.PipelineMetricsEvent); ok {
			got = &e
		}
	}
	return got
}

func TestSSEExporterPublishesEncoderProgress(t *testing.T) {
	const encoder = "sse-test-encoder"
	metrics.SetEncoderFPS(encoder, 30)
	metrics.SetEncoderSpeed(encoder, 1)
	defer metrics.DeleteEncoderMetrics(encoder)

	bus := newRecordingBus()
	exporter := NewSSEExporter(bus)
	exporter.interval = 20 * time.Millisecond
	exporter.Start(context.Background())

	select {
	case <-bus.signal:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for metrics")
	}
	exporter.Stop()

	if bus.lastPipeline() == nil {
		t.Error("no PipelineMetricsEvent")
	}
	var seen bool
	for _, ev := range bus.snapshot() {
		if e, ok := ev.(events.EncoderMetricsEvent); ok && e.Encoder == encoder {
			seen = true
			if e.FPS != 30 || e.Speed != 1 {
				t.Errorf("encoder event = %+v", e)
			}
		}
	}
	if !seen {
		t.Error("no EncoderMetricsEvent for the test encoder")
	}
}

func TestSSEExporterComputesRates(t *testing.T) {
	bus := newRecordingBus()
	exporter := NewSSEExporter(bus)
	start := time.Now()
	exporter.prev, exporter.prevTime = metrics.GetPipelineTotals(), start

	for range 10 {
		metrics.IncFramesCaptured()
	}
	metrics.ObserveAccessUnit("delta", 125)
	exporter.publish(start.Add(2 * time.Second))

	got := bus.lastPipeline()
	if got == nil {
		t.Fatal("no pipeline event")
	}
	if got.CaptureFPS != 5 || got.Bitrate != 500 {
		t.Errorf("CaptureFPS = %v, Bitrate = %v; want 5, 500", got.CaptureFPS, got.Bitrate)
	}
	if got.CodecLoad != nil {
		t.Errorf("CodecLoad = %v without an MPP sample", got.CodecLoad)
	}
}

func TestSSEExporterIncludesCodecLoad(t *testing.T) {
	metrics.SetMPPLoads(map[string]metrics.MPPLoad{"rkvenc0": {Load: 30, Utilization: 64}})
	defer metrics.SetMPPLoads(nil)

	bus := newRecordingBus()
	exporter := NewSSEExporter(bus)
	exporter.prevTime = time.Now()
	exporter.publish(time.Now().Add(time.Second))

	if got := bus.lastPipeline(); got == nil || got.CodecLoad["rkvenc0"] != 64 {
		t.Errorf("event = %+v", got)
	}
}

func TestSSEExporterStop(t *testing.T) {
	bus := newRecordingBus()
	exporter := NewSSEExporter(bus)
	exporter.interval = 10 * time.Millisecond

	exporter.Stop()
	exporter.Start(t.Context())
	time.Sleep(40 * time.Millisecond)
	exporter.Stop()
	exporter.Stop()

	n := len(bus.snapshot())
	if n == 0 {
		t.Error("no events while running")
	}
	time.Sleep(30 * time.Millisecond)
	if after := len(bus.snapshot()); after != n {
		t.Errorf("events after Stop: %d, want %d", after, n)
	}
}

func TestGetEventTypes(t *testing.T) {
	types := GetEventTypes()
	for _, name := range []string{"pipeline-metrics", "encoder-metrics"} {
		if _, ok := types[name]; !ok {
			t.Errorf("missing %s", name)
		}
	}
}
