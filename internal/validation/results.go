package validation

import "slices"

// Results is the outcome of one hardware encoder validation run.
type Results struct {
	Timestamp      string          `toml:"timestamp" json:"timestamp"`
	FFmpegVersion  string          `toml:"ffmpeg_version" json:"ffmpeg_version"`
	TestResolution string          `toml:"test_resolution" json:"test_resolution"`
	H264           CodecValidation `toml:"h264" json:"h264"`
}

// CodecValidation lists encoders that passed or failed a test encode.
type CodecValidation struct {
	Working []string `toml:"working" json:"working"`
	Failed  []string `toml:"failed" json:"failed"`
}

// IsWorking reports whether encoder passed validation.
func (r *Results) IsWorking(encoder string) bool {
	if r == nil {
		return false
	}
	return slices.Contains(r.H264.Working, encoder)
}
