package transmit

import (
	"sync/atomic"

	"github.com/AlexxIT/go2rtc/pkg/h264"

	"github.com/smazurov/livenode/internal/codec"
	"github.com/smazurov/livenode/internal/logging"
	"github.com/smazurov/livenode/internal/media"
)

// LogSink logs what a network sender would transmit.
type LogSink struct {
	logger logging.Logger
	every  uint64
	units  atomic.Uint64
}

// NewLogSink logs keyframes, config units and every Nth delta unit.
func NewLogSink(logger logging.Logger, every int) *LogSink {
	if every <= 0 {
		every = 30
	}
	return &LogSink{logger: logger, every: uint64(every)}
}

func (s *LogSink) OnFormat(f media.Format) {
	s.logger.Info("Output format", "codec", f.Codec, "width", f.Width, "height", f.Height,
		"fps", f.FPS, "profile", f.Profile, "level", f.Level, "encoder", f.Encoder)
}

func (s *LogSink) OnAccessUnit(u media.AccessUnit) error {
	n := s.units.Add(1)
	if u.Flags.Has(media.FlagDelta) && n%s.every != 1 {
		return nil
	}
	s.logger.Debug("Access unit", "seq", u.Seq, "pts_us", u.PTS, "flags", u.Flags.String(),
		"bytes", len(u.Payload), "nalus", nalSummary(u.Payload))
	return nil
}

func (s *LogSink) Close() error { return nil }

// Units returns how many units were seen.
func (s *LogSink) Units() uint64 { return s.units.Load() }

func nalSummary(payload []byte) []string {
	var kinds []string
	for _, nal := range codec.SplitNALUs(payload) {
		kinds = append(kinds, nalName(codec.NALType(nal)))
	}
	return kinds
}

func nalName(t byte) string {
	switch t {
	case h264.NALUTypePFrame:
		return "slice"
	case h264.NALUTypeIFrame:
		return "idr"
	case h264.NALUTypeSEI:
		return "sei"
	case h264.NALUTypeSPS:
		return "sps"
	case h264.NALUTypePPS:
		return "pps"
	case h264.NALUTypeAUD:
		return "aud"
	default:
		return "other"
	}
}
