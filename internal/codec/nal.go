package codec

import (
	"bytes"
	"encoding/binary"

	"github.com/AlexxIT/go2rtc/pkg/h264"
)

var startCode = []byte{0, 0, 0, 1}

// NALType returns the nal_unit_type of a NAL unit without start code.
func NALType(nal []byte) byte {
	if len(nal) == 0 {
		return 0
	}
	return nal[0] & 0x1F
}

// IsVCL reports whether nalType carries slice data.
func IsVCL(nalType byte) bool {
	return nalType >= h264.NALUTypePFrame && nalType <= h264.NALUTypeIFrame
}

// IsIDR reports whether nalType is an IDR slice.
func IsIDR(nalType byte) bool {
	return nalType == h264.NALUTypeIFrame
}

// IsParameterSet reports whether nalType is an SPS or PPS.
func IsParameterSet(nalType byte) bool {
	return nalType == h264.NALUTypeSPS || nalType == h264.NALUTypePPS
}

// firstSliceOfPicture reports whether a VCL NAL starts a new picture:
// first_mb_in_slice is ue(v) coded, so a leading 1 bit means zero.
func firstSliceOfPicture(nal []byte) bool {
	return len(nal) > 1 && nal[1]&0x80 != 0
}

// SplitNALUs returns the NAL units of an Annex-B buffer without start codes.
func SplitNALUs(annexb []byte) [][]byte {
	var out [][]byte
	start := -1
	i := 0
	for i+3 <= len(annexb) {
		if annexb[i] == 0 && annexb[i+1] == 0 && annexb[i+2] == 1 {
			if start >= 0 {
				out = append(out, trimTrailingZeros(annexb[start:i]))
			}
			i += 3
			start = i
			continue
		}
		i++
	}
	if start >= 0 && start < len(annexb) {
		out = append(out, annexb[start:])
	}
	return out
}

// JoinAnnexB concatenates NAL units with 4-byte start codes.
func JoinAnnexB(nalus ...[]byte) []byte {
	n := 0
	for _, nal := range nalus {
		n += len(startCode) + len(nal)
	}
	out := make([]byte, 0, n)
	for _, nal := range nalus {
		out = append(out, startCode...)
		out = append(out, nal...)
	}
	return out
}

// ToAVCC converts Annex-B to length-prefixed NAL units.
func ToAVCC(annexb []byte) []byte {
	nalus := SplitNALUs(annexb)
	n := 0
	for _, nal := range nalus {
		n += 4 + len(nal)
	}
	out := make([]byte, n)
	off := 0
	for _, nal := range nalus {
		binary.BigEndian.PutUint32(out[off:], uint32(len(nal)))
		copy(out[off+4:], nal)
		off += 4 + len(nal)
	}
	return out
}

// ParameterSets returns the SPS and PPS found in an Annex-B buffer.
func ParameterSets(annexb []byte) (sps, pps []byte) {
	for _, nal := range SplitNALUs(annexb) {
		switch NALType(nal) {
		case h264.NALUTypeSPS:
			sps = nal
		case h264.NALUTypePPS:
			pps = nal
		}
	}
	return sps, pps
}

// ContainsIDR reports whether an Annex-B buffer holds an IDR slice.
func ContainsIDR(annexb []byte) bool {
	for _, nal := range SplitNALUs(annexb) {
		if IsIDR(NALType(nal)) {
			return true
		}
	}
	return false
}

// SPSProfileLevel reads profile_idc and level_idc from an SPS.
func SPSProfileLevel(sps []byte) (profile, level int) {
	if len(sps) < 4 {
		return 0, 0
	}
	return int(sps[1]), int(sps[3])
}

// the zero byte of a 4-byte start code belongs to the next NAL
func trimTrailingZeros(b []byte) []byte {
	return bytes.TrimRight(b, "\x00")
}
