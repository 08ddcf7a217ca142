package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSetMPPLoadsReplacesSample(t *testing.T) {
	t.Cleanup(func() { SetMPPLoads(nil) })

	SetMPPLoads(map[string]MPPLoad{
		"rkvenc0": {Load: 45.5, Utilization: 78.2},
		"rkvenc1": {Load: 10, Utilization: 12},
	})
	if got := testutil.ToFloat64(mppDeviceUtilization.WithLabelValues("rkvenc0")); got != 78.2 {
		t.Errorf("rkvenc0 utilization = %v, want 78.2", got)
	}

	SetMPPLoads(map[string]MPPLoad{"rkvenc0": {Load: 50, Utilization: 80}})
	if n := testutil.CollectAndCount(mppDeviceLoad); n != 1 {
		t.Errorf("load series = %d, want 1 after rkvenc1 vanished", n)
	}
	loads := MPPLoads()
	if len(loads) != 1 || loads["rkvenc0"].Load != 50 {
		t.Errorf("MPPLoads() = %v", loads)
	}
}
