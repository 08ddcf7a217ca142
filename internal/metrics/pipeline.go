package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Frame drop reasons.
const (
	DropUnsupportedFormat = "unsupported_format"
	DropReplaced          = "replaced"
	DropSubmitError       = "submit_error"
	DropLeadingDelta      = "leading_delta"
)

var (
	framesCaptured = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "livenode",
		Subsystem: "pipeline",
		Name:      "frames_captured_total",
		Help:      "Frames delivered by the camera",
	})

	framesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "livenode",
		Subsystem: "pipeline",
		Name:      "frames_dropped_total",
		Help:      "Frames dropped before reaching the encoder",
	}, []string{"reason"})

	framesSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "livenode",
		Subsystem: "pipeline",
		Name:      "frames_submitted_total",
		Help:      "Frames handed to the encoder",
	})

	accessUnits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "livenode",
		Subsystem: "pipeline",
		Name:      "access_units_total",
		Help:      "Encoded access units drained from the encoder",
	}, []string{"kind"})

	encodedBytes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "livenode",
		Subsystem: "pipeline",
		Name:      "encoded_bytes_total",
		Help:      "Bytes of encoded output",
	})

	drainErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "livenode",
		Subsystem: "pipeline",
		Name:      "drain_errors_total",
		Help:      "Errors returned while draining the encoder",
	}, []string{"kind"})

	pipelineState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "livenode",
		Subsystem: "pipeline",
		Name:      "state",
		Help:      "Pipeline state: 0 idle, 1 starting, 2 running, 3 stopping, 4 error",
	})

	drainLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "livenode",
		Subsystem: "pipeline",
		Name:      "drain_latency_seconds",
		Help:      "Time spent in one drain call",
		Buckets:   []float64{.0005, .001, .0025, .005, .01, .015, .025, .05},
	})

	detectorRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "livenode",
		Subsystem: "detector",
		Name:      "runs_total",
		Help:      "Detector invocations by result",
	}, []string{"result"})

	// Local totals for SSE exporter access.
	totals   PipelineTotals
	totalsMu sync.RWMutex
)

// PipelineTotals mirrors the pipeline counters.
type PipelineTotals struct {
	Captured  uint64
	Dropped   uint64
	Submitted uint64
	Units     uint64
	Keyframes uint64
	Bytes     uint64
	State     int
}

// IncFramesCaptured counts one camera frame.
func IncFramesCaptured() {
	framesCaptured.Inc()
	updateTotals(func(t *PipelineTotals) { t.Captured++ })
}

// IncFramesDropped counts one dropped frame.
func IncFramesDropped(reason string) {
	framesDropped.WithLabelValues(reason).Inc()
	updateTotals(func(t *PipelineTotals) { t.Dropped++ })
}

// IncFramesSubmitted counts one frame handed to the encoder.
func IncFramesSubmitted() {
	framesSubmitted.Inc()
	updateTotals(func(t *PipelineTotals) { t.Submitted++ })
}

// ObserveAccessUnit counts one drained unit of the given kind
// ("config", "keyframe" or "delta").
func ObserveAccessUnit(kind string, bytes int) {
	accessUnits.WithLabelValues(kind).Inc()
	encodedBytes.Add(float64(bytes))
	updateTotals(func(t *PipelineTotals) {
		t.Units++
		t.Bytes += uint64(bytes)
		if kind == "keyframe" {
			t.Keyframes++
		}
	})
}

// IncDrainErrors counts one drain error of the given kind.
func IncDrainErrors(kind string) {
	drainErrors.WithLabelValues(kind).Inc()
}

// ObserveDrainLatency records the duration of one drain call.
func ObserveDrainLatency(d time.Duration) {
	drainLatency.Observe(d.Seconds())
}

// SetPipelineState records the numeric pipeline state.
func SetPipelineState(state int) {
	pipelineState.Set(float64(state))
	updateTotals(func(t *PipelineTotals) { t.State = state })
}

// IncDetectorRuns counts one detector invocation ("ok", "error" or "skipped").
func IncDetectorRuns(result string) {
	detectorRuns.WithLabelValues(result).Inc()
}

// GetPipelineTotals returns a copy of the pipeline totals.
func GetPipelineTotals() PipelineTotals {
	totalsMu.RLock()
	defer totalsMu.RUnlock()
	return totals
}

func updateTotals(update func(*PipelineTotals)) {
	totalsMu.Lock()
	defer totalsMu.Unlock()
	update(&totals)
}
