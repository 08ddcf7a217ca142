package transmit

import (
	"encoding/base64"
	"fmt"

	"github.com/AlexxIT/go2rtc/pkg/core"

	"github.com/smazurov/livenode/internal/codec"
	"github.com/smazurov/livenode/internal/media"
)

// paramSets tracks the latest SPS/PPS and whether they were just sent
// in-band, so they can be injected before every keyframe that lacks them.
type paramSets struct {
	sps, pps []byte
	sentPS   bool
}

func (p *paramSets) fromFormat(f media.Format) {
	if len(f.SPS) > 0 {
		p.sps = append(p.sps[:0], f.SPS...)
	}
	if len(f.PPS) > 0 {
		p.pps = append(p.pps[:0], f.PPS...)
	}
}

// store records the parameter sets of a CONFIG payload without marking
// them as sent.
func (p *paramSets) store(payload []byte) {
	sps, pps := codec.ParameterSets(payload)
	if sps != nil {
		p.sps = append(p.sps[:0], sps...)
	}
	if pps != nil {
		p.pps = append(p.pps[:0], pps...)
	}
}

// prepare returns the payload to send for u. CONFIG units update the stored
// sets. Keyframes get SPS/PPS prepended unless they were just seen.
func (p *paramSets) prepare(u media.AccessUnit) []byte {
	switch {
	case u.IsConfig():
		p.store(u.Payload)
		p.sentPS = true
		return u.Payload
	case u.IsKeyframe():
		payload := u.Payload
		if inSPS, _ := codec.ParameterSets(payload); inSPS != nil {
			p.sentPS = true
		}
		if !p.sentPS && len(p.sps) > 0 && len(p.pps) > 0 {
			ps := codec.JoinAnnexB(p.sps, p.pps)
			payload = append(ps, u.Payload...)
		}
		p.sentPS = false
		return payload
	default:
		return u.Payload
	}
}

// StreamCodec describes the stream for SDP signaling.
func StreamCodec(f media.Format) *core.Codec {
	fmtp := "packetization-mode=1"
	if len(f.SPS) >= 4 {
		fmtp += fmt.Sprintf(";profile-level-id=%02x%02x%02x", f.SPS[1], f.SPS[2], f.SPS[3])
	} else if f.Profile > 0 {
		fmtp += fmt.Sprintf(";profile-level-id=%02x00%02x", f.Profile, f.Level)
	}
	if len(f.SPS) > 0 && len(f.PPS) > 0 {
		fmtp += ";sprop-parameter-sets=" + base64.StdEncoding.EncodeToString(f.SPS) +
			"," + base64.StdEncoding.EncodeToString(f.PPS)
	}
	return &core.Codec{
		Name:        core.CodecH264,
		ClockRate:   90000,
		PayloadType: 96,
		FmtpLine:    fmtp,
	}
}
