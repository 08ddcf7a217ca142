package transmit

import (
	"fmt"
	"math/rand/v2"
	"net"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"

	"github.com/smazurov/livenode/internal/media"
)

// DefaultMTU leaves room for IP/UDP headers on a 1500 byte link.
const DefaultMTU = 1200

// RTPConfig configures an RTPSink.
type RTPConfig struct {
	// Address is the UDP host:port packets are sent to.
	Address     string
	PayloadType uint8
	MTU         uint16
}

// RTPSink packetizes H.264 per RFC 6184 and sends it over UDP.
type RTPSink struct {
	mu         sync.Mutex
	conn       net.Conn
	packetizer rtp.Packetizer
	ps         paramSets
	ssrc       uint32
	tsBase     uint32
	packets    uint64
	bytes      uint64
	closed     bool
}

// NewRTPSink dials cfg.Address.
func NewRTPSink(cfg RTPConfig) (*RTPSink, error) {
	if cfg.PayloadType == 0 {
		cfg.PayloadType = 96
	}
	if cfg.MTU == 0 {
		cfg.MTU = DefaultMTU
	}
	conn, err := net.Dial("udp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.Address, err)
	}
	return newRTPSink(conn, cfg), nil
}

func newRTPSink(conn net.Conn, cfg RTPConfig) *RTPSink {
	ssrc := rand.Uint32()
	return &RTPSink{
		conn:       conn,
		ssrc:       ssrc,
		tsBase:     rand.Uint32(),
		packetizer: rtp.NewPacketizer(cfg.MTU, cfg.PayloadType, ssrc, &codecs.H264Payloader{}, rtp.NewRandomSequencer(), 90000),
	}
}

func (s *RTPSink) OnFormat(f media.Format) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ps.fromFormat(f)
}

func (s *RTPSink) OnAccessUnit(u media.AccessUnit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	// SPS/PPS are held by the payloader and sent as STAP-A with the next slice
	payload := s.ps.prepare(u)
	ts := s.tsBase + uint32(u.PTS*90/1000)
	for _, pkt := range s.packetizer.Packetize(payload, 0) {
		pkt.Timestamp = ts
		raw, err := pkt.Marshal()
		if err != nil {
			return err
		}
		if _, err := s.conn.Write(raw); err != nil {
			return err
		}
		s.packets++
		s.bytes += uint64(len(raw))
	}
	return nil
}

// Stats returns packets and bytes sent.
func (s *RTPSink) Stats() (packets, bytes uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.packets, s.bytes
}

func (s *RTPSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}
