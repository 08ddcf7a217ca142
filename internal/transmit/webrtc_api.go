package transmit

import (
	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/nack"
	"github.com/pion/interceptor/pkg/report"
	"github.com/pion/rtcp"
	pion "github.com/pion/webrtc/v4"
)

// NACKBufferSize is the number of packets kept for retransmission.
// At 8 Mbit/s with ~1200 byte packets this is about 1.5 seconds.
const NACKBufferSize = 1024

// SRTPReplayProtectionWindow must be at least as large as NACKBufferSize.
const SRTPReplayProtectionWindow = 2048

// NewWebRTCAPI creates a send-only H.264 WebRTC API with NACK
// retransmission, RTCP reports and an RTCP monitor for metrics.
func NewWebRTCAPI() (*pion.API, error) {
	m := &pion.MediaEngine{}
	if err := registerCodecs(m); err != nil {
		return nil, err
	}

	i := &interceptor.Registry{}
	if err := configureInterceptors(m, i); err != nil {
		return nil, err
	}
	i.Add(&rtcpMonitorInterceptorFactory{})

	s := pion.SettingEngine{}
	s.SetSRTPReplayProtectionWindow(SRTPReplayProtectionWindow)

	return pion.NewAPI(
		pion.WithMediaEngine(m),
		pion.WithInterceptorRegistry(i),
		pion.WithSettingEngine(s),
	), nil
}

func registerCodecs(m *pion.MediaEngine) error {
	feedback := []pion.RTCPFeedback{
		{Type: "goog-remb"},
		{Type: "ccm", Parameter: "fir"},
		{Type: "nack"},
		{Type: "nack", Parameter: "pli"},
	}

	for i, profile := range []string{"42001f", "42e01f", "4d001f", "64001f", "640028"} {
		codec := pion.RTPCodecParameters{
			RTPCodecCapability: pion.RTPCodecCapability{
				MimeType:     pion.MimeTypeH264,
				ClockRate:    90000,
				SDPFmtpLine:  "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=" + profile,
				RTCPFeedback: feedback,
			},
			PayloadType: pion.PayloadType(96 + i),
		}
		if err := m.RegisterCodec(codec, pion.RTPCodecTypeVideo); err != nil {
			return err
		}
	}
	return nil
}

func configureInterceptors(m *pion.MediaEngine, i *interceptor.Registry) error {
	responder, err := nack.NewResponderInterceptor(nack.ResponderSize(NACKBufferSize))
	if err != nil {
		return err
	}
	m.RegisterFeedback(pion.RTCPFeedback{Type: "nack"}, pion.RTPCodecTypeVideo)
	m.RegisterFeedback(pion.RTCPFeedback{Type: "nack", Parameter: "pli"}, pion.RTPCodecTypeVideo)
	i.Add(responder)

	sender, err := report.NewSenderInterceptor()
	if err != nil {
		return err
	}
	i.Add(sender)
	return nil
}

type rtcpMonitorInterceptorFactory struct{}

func (f *rtcpMonitorInterceptorFactory) NewInterceptor(_ string) (interceptor.Interceptor, error) {
	return &rtcpMonitorInterceptor{}, nil
}

// rtcpMonitorInterceptor counts RTCP feedback for metrics.
type rtcpMonitorInterceptor struct {
	interceptor.NoOp
}

func (r *rtcpMonitorInterceptor) BindRTCPReader(reader interceptor.RTCPReader) interceptor.RTCPReader {
	return &rtcpMonitorReader{reader: reader}
}

type rtcpMonitorReader struct {
	reader interceptor.RTCPReader
}

func (r *rtcpMonitorReader) Read(b []byte, a interceptor.Attributes) (int, interceptor.Attributes, error) {
	n, attr, err := r.reader.Read(b, a)
	if err != nil {
		return n, attr, err
	}

	packets, parseErr := rtcp.Unmarshal(b[:n])
	if parseErr != nil {
		return n, attr, err
	}

	for _, pkt := range packets {
		webrtcRTCPPackets.Inc()
		if p, ok := pkt.(*rtcp.TransportLayerNack); ok {
			count := 0
			for _, nack := range p.Nacks {
				count += 1 + len(nack.PacketList())
			}
			recordNACKs(count)
		}
	}
	return n, attr, err
}
