package transmit

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AlexxIT/go2rtc/pkg/core"
	"github.com/pion/rtcp"
	pion "github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"

	"github.com/smazurov/livenode/internal/logging"
	"github.com/smazurov/livenode/internal/media"
)

// ErrNoOffer is returned for an empty SDP offer.
var ErrNoOffer = errors.New("empty SDP offer")

// keyframeThrottle bounds how often peer feedback reaches the encoder.
const keyframeThrottle = 500 * time.Millisecond

// WebRTCConfig holds configuration for WebRTC peers.
type WebRTCConfig struct {
	// ICEServers for STUN/TURN (empty for LAN-only)
	ICEServers []pion.ICEServer
}

// WebRTCSink serves the stream to browsers. Every peer shares one
// sample track; PLI and FIR from any peer request a keyframe.
type WebRTCSink struct {
	api    *pion.API
	config WebRTCConfig
	track  *pion.TrackLocalStaticSample
	logger logging.Logger

	onKey       atomic.Pointer[KeyframeRequester]
	lastRequest atomic.Int64

	mu      sync.Mutex
	peers   map[string]*pion.PeerConnection
	codec   *core.Codec
	ps      paramSets
	lastPTS int64
	frameUS int64
	closed  bool
}

// NewWebRTCSink creates a sink with no peers.
func NewWebRTCSink(config WebRTCConfig, logger logging.Logger) (*WebRTCSink, error) {
	api, err := NewWebRTCAPI()
	if err != nil {
		return nil, fmt.Errorf("webrtc api: %w", err)
	}
	track, err := pion.NewTrackLocalStaticSample(pion.RTPCodecCapability{
		MimeType:  pion.MimeTypeH264,
		ClockRate: 90000,
	}, "video", "livenode")
	if err != nil {
		return nil, fmt.Errorf("webrtc track: %w", err)
	}
	return &WebRTCSink{
		api:     api,
		config:  config,
		track:   track,
		logger:  logger,
		peers:   make(map[string]*pion.PeerConnection),
		lastPTS: -1,
		frameUS: int64(time.Second/time.Duration(media.DefaultFPS)) / 1000,
	}, nil
}

// SetKeyframeRequester sets the callback for peer keyframe requests.
func (s *WebRTCSink) SetKeyframeRequester(fn KeyframeRequester) {
	if fn == nil {
		s.onKey.Store(nil)
		return
	}
	s.onKey.Store(&fn)
}

// Codec describes the current stream, nil before the first format.
func (s *WebRTCSink) Codec() *core.Codec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codec
}

// PeerCount returns the number of active peers.
func (s *WebRTCSink) PeerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

// CreatePeer answers a browser's SDP offer. The answer includes all ICE
// candidates (no trickle).
func (s *WebRTCSink) CreatePeer(offer string) (string, error) {
	if offer == "" {
		return "", ErrNoOffer
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return "", ErrClosed
	}

	pc, err := s.api.NewPeerConnection(pion.Configuration{ICEServers: s.config.ICEServers})
	if err != nil {
		return "", err
	}

	sender, err := pc.AddTrack(s.track)
	if err != nil {
		_ = pc.Close()
		return "", err
	}

	if err := pc.SetRemoteDescription(pion.SessionDescription{Type: pion.SDPTypeOffer, SDP: offer}); err != nil {
		_ = pc.Close()
		return "", err
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		_ = pc.Close()
		return "", err
	}
	gathered := pion.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		_ = pc.Close()
		return "", err
	}
	<-gathered

	peerID := core.RandString(8, 10)
	s.mu.Lock()
	s.peers[peerID] = pc
	count := len(s.peers)
	s.mu.Unlock()
	setActivePeers(count)
	s.logger.Debug("WebRTC peer created", "peer_id", peerID, "total_peers", count)

	go s.readRTCP(peerID, sender)

	pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		switch state {
		case pion.PeerConnectionStateConnected:
			s.requestKeyframe("connect")
		case pion.PeerConnectionStateDisconnected,
			pion.PeerConnectionStateFailed,
			pion.PeerConnectionStateClosed:
			s.removePeer(peerID, state.String())
		}
	})

	return pc.LocalDescription().SDP, nil
}

// readRTCP drains the sender's RTCP so interceptors see NACKs, and turns
// PLI/FIR into keyframe requests.
func (s *WebRTCSink) readRTCP(peerID string, sender *pion.RTPSender) {
	for {
		packets, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, pkt := range packets {
			switch pkt.(type) {
			case *rtcp.PictureLossIndication:
				recordKeyframeRequest("pli")
				s.requestKeyframe("pli")
			case *rtcp.FullIntraRequest:
				recordKeyframeRequest("fir")
				s.requestKeyframe("fir")
			}
		}
	}
}

func (s *WebRTCSink) requestKeyframe(reason string) {
	now := time.Now().UnixNano()
	last := s.lastRequest.Load()
	if now-last < int64(keyframeThrottle) || !s.lastRequest.CompareAndSwap(last, now) {
		return
	}
	if fn := s.onKey.Load(); fn != nil {
		s.logger.Debug("Keyframe requested by peer", "reason", reason)
		(*fn)()
	}
}

func (s *WebRTCSink) removePeer(peerID, state string) {
	s.mu.Lock()
	pc, ok := s.peers[peerID]
	delete(s.peers, peerID)
	remaining := len(s.peers)
	s.mu.Unlock()
	if !ok {
		return
	}
	_ = pc.Close()
	setActivePeers(remaining)
	s.logger.Debug("WebRTC peer disconnected", "peer_id", peerID, "state", state, "remaining_peers", remaining)
}

func (s *WebRTCSink) OnFormat(f media.Format) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ps.fromFormat(f)
	s.codec = StreamCodec(f)
	if f.FPS > 0 {
		s.frameUS = int64(time.Second/time.Duration(f.FPS)) / 1000
	}
}

func (s *WebRTCSink) OnAccessUnit(u media.AccessUnit) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if u.IsConfig() {
		// sent ahead of the next keyframe instead
		s.ps.store(u.Payload)
		s.mu.Unlock()
		return nil
	}
	payload := s.ps.prepare(u)
	duration := s.frameUS
	if s.lastPTS >= 0 && u.PTS > s.lastPTS {
		duration = u.PTS - s.lastPTS
	}
	s.lastPTS = u.PTS
	peers := len(s.peers)
	s.mu.Unlock()

	if peers == 0 {
		return nil
	}
	if err := s.track.WriteSample(pionmedia.Sample{
		Data:     payload,
		Duration: time.Duration(duration) * time.Microsecond,
	}); err != nil {
		return err
	}
	recordSample(len(payload))
	return nil
}

// Close disconnects every peer.
func (s *WebRTCSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	peers := s.peers
	s.peers = make(map[string]*pion.PeerConnection)
	s.mu.Unlock()

	var errs []error
	for _, pc := range peers {
		errs = append(errs, pc.Close())
	}
	setActivePeers(0)
	return errors.Join(errs...)
}
