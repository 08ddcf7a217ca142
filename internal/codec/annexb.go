package codec

import (
	"bytes"
	"errors"
	"io"

	"github.com/AlexxIT/go2rtc/pkg/h264"

	"github.com/smazurov/livenode/internal/media"
)

const readChunk = 64 * 1024

// Unit is one access unit cut from an Annex-B stream.
type Unit struct {
	NALUs [][]byte
	Flags media.UnitFlags
}

// Payload returns the unit as Annex-B with 4-byte start codes.
func (u Unit) Payload() []byte {
	return JoinAnnexB(u.NALUs...)
}

// AnnexBSplitter cuts an H.264 elementary stream into access units.
//
// Parameter sets are lifted out of pictures: a CONFIG unit holding SPS and
// PPS is returned whenever they first appear or change, and pictures carry
// only their slices plus SEI.
type AnnexBSplitter struct {
	r   io.Reader
	buf []byte
	eof bool

	peek []byte

	sps, pps         []byte
	emittedSPS       []byte
	emittedPPS       []byte
	pendingConfig    bool
	pendingPicture   [][]byte
	pendingHasSlices bool
}

// NewAnnexBSplitter reads from r.
func NewAnnexBSplitter(r io.Reader) *AnnexBSplitter {
	return &AnnexBSplitter{r: r}
}

// SPS returns the most recent sequence parameter set.
func (s *AnnexBSplitter) SPS() []byte { return s.sps }

// PPS returns the most recent picture parameter set.
func (s *AnnexBSplitter) PPS() []byte { return s.pps }

// Next returns the next unit, or io.EOF once the stream is exhausted.
func (s *AnnexBSplitter) Next() (Unit, error) {
	for {
		nal, err := s.nextNAL()
		if errors.Is(err, io.EOF) {
			if s.pendingHasSlices {
				return s.flushPicture(), nil
			}
			return Unit{}, io.EOF
		}
		if err != nil {
			return Unit{}, err
		}
		if len(nal) == 0 {
			continue
		}

		t := NALType(nal)
		switch {
		case IsParameterSet(t), t == h264.NALUTypeAUD:
			if s.pendingHasSlices {
				s.peek = nal
				return s.flushPicture(), nil
			}
			if t == h264.NALUTypeSPS {
				s.sps = nal
			} else if t == h264.NALUTypePPS {
				s.pps = nal
			}

		case t == h264.NALUTypeSEI:
			if s.pendingHasSlices {
				s.peek = nal
				return s.flushPicture(), nil
			}
			s.pendingPicture = append(s.pendingPicture, nal)

		case IsVCL(t):
			if s.pendingHasSlices && firstSliceOfPicture(nal) {
				s.peek = nal
				return s.flushPicture(), nil
			}
			if !s.pendingHasSlices && s.configChanged() {
				s.peek = nal
				return s.flushConfig(), nil
			}
			s.pendingPicture = append(s.pendingPicture, nal)
			s.pendingHasSlices = true

		default:
			// filler, end of sequence and friends are not forwarded
		}
	}
}

func (s *AnnexBSplitter) configChanged() bool {
	if s.sps == nil || s.pps == nil {
		return false
	}
	return !bytes.Equal(s.sps, s.emittedSPS) || !bytes.Equal(s.pps, s.emittedPPS)
}

func (s *AnnexBSplitter) flushConfig() Unit {
	s.emittedSPS, s.emittedPPS = s.sps, s.pps
	return Unit{NALUs: [][]byte{s.sps, s.pps}, Flags: media.FlagConfig}
}

func (s *AnnexBSplitter) flushPicture() Unit {
	u := Unit{NALUs: s.pendingPicture, Flags: media.FlagDelta}
	for _, nal := range u.NALUs {
		if IsIDR(NALType(nal)) {
			u.Flags = media.FlagKeyframe
			break
		}
	}
	s.pendingPicture = nil
	s.pendingHasSlices = false
	return u
}

// nextNAL returns the next NAL unit without its start code. The returned
// slice is owned by the caller.
func (s *AnnexBSplitter) nextNAL() ([]byte, error) {
	if s.peek != nil {
		nal := s.peek
		s.peek = nil
		return nal, nil
	}

	for {
		start := indexStartCode(s.buf, 0)
		if start < 0 {
			if s.eof {
				s.buf = nil
				return nil, io.EOF
			}
			if err := s.fill(); err != nil {
				return nil, err
			}
			continue
		}
		body := start + 3
		end := indexStartCode(s.buf, body)
		if end < 0 && !s.eof {
			if err := s.fill(); err != nil {
				return nil, err
			}
			continue
		}
		if end < 0 {
			end = len(s.buf)
		}
		nal := bytes.Clone(trimTrailingZeros(s.buf[body:end]))
		s.buf = s.buf[end:]
		return nal, nil
	}
}

func (s *AnnexBSplitter) fill() error {
	chunk := make([]byte, readChunk)
	n, err := s.r.Read(chunk)
	s.buf = append(s.buf, chunk[:n]...)
	if errors.Is(err, io.EOF) {
		s.eof = true
		return nil
	}
	return err
}

// indexStartCode finds the next 3-byte start code at or after from.
func indexStartCode(b []byte, from int) int {
	if from >= len(b) {
		return -1
	}
	i := bytes.Index(b[from:], []byte{0, 0, 1})
	if i < 0 {
		return -1
	}
	return from + i
}
