package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPipelineCounters(t *testing.T) {
	before := GetPipelineTotals()
	droppedBefore := testutil.ToFloat64(framesDropped.WithLabelValues(DropReplaced))

	IncFramesCaptured()
	IncFramesCaptured()
	IncFramesDropped(DropReplaced)
	IncFramesSubmitted()
	ObserveAccessUnit("keyframe", 1000)
	ObserveAccessUnit("delta", 200)
	SetPipelineState(2)

	after := GetPipelineTotals()
	if after.Captured-before.Captured != 2 {
		t.Errorf("captured delta = %d", after.Captured-before.Captured)
	}
	if after.Dropped-before.Dropped != 1 || after.Submitted-before.Submitted != 1 {
		t.Errorf("dropped/submitted = %+v", after)
	}
	if after.Units-before.Units != 2 || after.Keyframes-before.Keyframes != 1 || after.Bytes-before.Bytes != 1200 {
		t.Errorf("units = %+v", after)
	}
	if after.State != 2 || testutil.ToFloat64(pipelineState) != 2 {
		t.Errorf("state = %d", after.State)
	}
	if got := testutil.ToFloat64(framesDropped.WithLabelValues(DropReplaced)) - droppedBefore; got != 1 {
		t.Errorf("dropped counter delta = %v", got)
	}
}

func TestDrainLatencyHistogram(t *testing.T) {
	ObserveDrainLatency(3 * time.Millisecond)
	if n := testutil.CollectAndCount(drainLatency); n != 1 {
		t.Errorf("histogram series = %d, want 1", n)
	}
}
