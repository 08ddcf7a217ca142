package collectors

import (
	"bufio"
	"context"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/smazurov/livenode/internal/logging"
	"github.com/smazurov/livenode/internal/metrics"
)

// DefaultMPPLoadPath is where Rockchip kernels report codec load.
const DefaultMPPLoadPath = "/proc/mpp_service/load"

// MPPCollector samples Rockchip MPP codec load, the hardware behind the
// rkmpp encoders, into the mpp gauges.
type MPPCollector struct {
	logger   logging.Logger
	path     string
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewMPPCollector creates a collector reading path every interval.
func NewMPPCollector(path string, interval time.Duration) *MPPCollector {
	if path == "" {
		path = DefaultMPPLoadPath
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &MPPCollector{
		logger:   logging.GetLogger("mpp"),
		path:     path,
		interval: interval,
	}
}

// Available reports whether the load file exists on this host.
func (m *MPPCollector) Available() bool {
	_, err := os.Stat(m.path)
	return err == nil
}

func (m *MPPCollector) Start(ctx context.Context) error {
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go m.run(ctx)
	return nil
}

// Stop ends sampling and clears the gauges.
func (m *MPPCollector) Stop() error {
	if m.cancel == nil {
		return nil
	}
	m.cancel()
	<-m.done
	m.cancel = nil
	metrics.SetMPPLoads(nil)
	return nil
}

func (m *MPPCollector) run(ctx context.Context) {
	defer close(m.done)
	m.logger.Info("Sampling MPP codec load", "path", m.path, "interval", m.interval)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		m.sample()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *MPPCollector) sample() {
	f, err := os.Open(m.path)
	if err != nil {
		m.logger.Warn("Failed to open MPP load file", "error", err)
		return
	}
	defer f.Close()

	loads, err := parseMPPLoad(f)
	if err != nil {
		m.logger.Warn("Failed to read MPP load", "error", err)
		return
	}
	metrics.SetMPPLoads(loads)
}

// parseMPPLoad reads lines such as
//
//	rkvenc0: load: 45% utilization: 78%
//
// keyed by the device name without its colon. Unparseable lines are skipped.
func parseMPPLoad(r io.Reader) (map[string]metrics.MPPLoad, error) {
	loads := map[string]metrics.MPPLoad{}
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 5 {
			continue
		}
		load, okLoad := percentAfter(fields, "load:")
		util, okUtil := percentAfter(fields, "utilization:")
		if !okLoad || !okUtil {
			continue
		}
		loads[strings.TrimSuffix(fields[0], ":")] = metrics.MPPLoad{Load: load, Utilization: util}
	}
	return loads, sc.Err()
}

func percentAfter(fields []string, label string) (float64, bool) {
	for i := 1; i < len(fields)-1; i++ {
		if fields[i] == label {
			v, err := strconv.ParseFloat(strings.TrimSuffix(fields[i+1], "%"), 64)
			return v, err == nil
		}
	}
	return 0, false
}
