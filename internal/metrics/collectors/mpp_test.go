package collectors

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/smazurov/livenode/internal/metrics"
)

func TestParseMPPLoad(t *testing.T) {
	content := `rkvenc0: load: 45% utilization: 78%
rkvdec: load: 12.5% utilization: 33.3%

garbage line here
rkvenc1: load: 45%
rkjpegd: utilization: 1% load: 2%
rkvenc2: load: many% utilization: 3%`

	loads, err := parseMPPLoad(strings.NewReader(content))
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]metrics.MPPLoad{
		"rkvenc0": {Load: 45, Utilization: 78},
		"rkvdec":  {Load: 12.5, Utilization: 33.3},
		"rkjpegd": {Load: 2, Utilization: 1},
	}
	if len(loads) != len(want) {
		t.Fatalf("got %v, want %v", loads, want)
	}
	for dev, w := range want {
		if loads[dev] != w {
			t.Errorf("%s = %+v, want %+v", dev, loads[dev], w)
		}
	}
}

func TestMPPCollectorSamplesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "load")
	if err := os.WriteFile(path, []byte("rkvenc-test0: load: 40% utilization: 55%\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	m := NewMPPCollector(path, time.Hour)
	if !m.Available() {
		t.Fatal("collector should see the load file")
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(time.Second)
	for metrics.MPPLoads()["rkvenc-test0"].Load != 40 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := metrics.MPPLoads()["rkvenc-test0"]; got.Load != 40 || got.Utilization != 55 {
		t.Errorf("sample = %+v", got)
	}

	if err := m.Stop(); err != nil {
		t.Fatal(err)
	}
	if len(metrics.MPPLoads()) != 0 {
		t.Error("Stop should clear the gauges")
	}
	if NewMPPCollector(filepath.Join(t.TempDir(), "missing"), 0).Available() {
		t.Error("missing file should not be available")
	}
}
