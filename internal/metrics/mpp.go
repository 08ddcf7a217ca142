package metrics

import (
	"maps"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	mppDeviceLoad = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "livenode",
		Subsystem: "mpp",
		Name:      "device_load",
		Help:      "Rockchip MPP device load percentage",
	}, []string{"device"})

	mppDeviceUtilization = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "livenode",
		Subsystem: "mpp",
		Name:      "device_utilization",
		Help:      "Rockchip MPP device utilization percentage",
	}, []string{"device"})

	mppMu    sync.RWMutex
	mppLoads = map[string]MPPLoad{}
)

// MPPLoad is one sample of a Rockchip codec block.
type MPPLoad struct {
	Load        float64
	Utilization float64
}

// SetMPPLoads replaces the per-device gauges with a fresh sample. Devices
// missing from the sample lose their series.
func SetMPPLoads(sample map[string]MPPLoad) {
	mppMu.Lock()
	defer mppMu.Unlock()

	for device := range mppLoads {
		if _, ok := sample[device]; !ok {
			mppDeviceLoad.DeleteLabelValues(device)
			mppDeviceUtilization.DeleteLabelValues(device)
		}
	}
	for device, l := range sample {
		mppDeviceLoad.WithLabelValues(device).Set(l.Load)
		mppDeviceUtilization.WithLabelValues(device).Set(l.Utilization)
	}
	mppLoads = maps.Clone(sample)
}

// MPPLoads returns the last sample.
func MPPLoads() map[string]MPPLoad {
	mppMu.RLock()
	defer mppMu.RUnlock()
	return maps.Clone(mppLoads)
}
