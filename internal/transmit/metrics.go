package transmit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	webrtcPackets = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "livenode",
		Subsystem: "webrtc",
		Name:      "samples_total",
		Help:      "Access units written to the WebRTC track",
	})

	webrtcBytes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "livenode",
		Subsystem: "webrtc",
		Name:      "bytes_total",
		Help:      "Bytes written to the WebRTC track",
	})

	webrtcRTCPPackets = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "livenode",
		Subsystem: "webrtc",
		Name:      "rtcp_packets_total",
		Help:      "Total RTCP packets received from WebRTC peers",
	})

	webrtcNACKsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "livenode",
		Subsystem: "webrtc",
		Name:      "nacks_received_total",
		Help:      "Total NACK requests received from WebRTC peers (indicates packet loss)",
	})

	webrtcKeyframeRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "livenode",
		Subsystem: "webrtc",
		Name:      "keyframe_requests_total",
		Help:      "PLI and FIR requests received from WebRTC peers",
	}, []string{"type"})

	webrtcActivePeers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "livenode",
		Subsystem: "webrtc",
		Name:      "active_peers",
		Help:      "Number of currently active WebRTC peer connections",
	})
)

func recordSample(bytes int) {
	webrtcPackets.Inc()
	webrtcBytes.Add(float64(bytes))
}

func recordNACKs(count int) {
	webrtcNACKsReceived.Add(float64(count))
}

func recordKeyframeRequest(kind string) {
	webrtcKeyframeRequests.WithLabelValues(kind).Inc()
}

func setActivePeers(count int) {
	webrtcActivePeers.Set(float64(count))
}
