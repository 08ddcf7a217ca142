package validation

import (
	"context"
	"fmt"
	"maps"
	"slices"
)

// family is a validator described by data: every hardware family differs
// only in names and FFmpeg settings.
type family struct {
	name        string
	description string
	match       []string
	encoders    []string
	hardware    bool
	settings    EncoderSettings
	run         Runner
}

func (f *family) Name() string           { return f.name }
func (f *family) Description() string    { return f.description }
func (f *family) Hardware() bool         { return f.hardware }
func (f *family) EncoderNames() []string { return slices.Clone(f.encoders) }

func (f *family) CanValidate(encoderName string) bool {
	return containsAny(encoderName, f.match...)
}

func (f *family) Settings(encoderName string) (*EncoderSettings, error) {
	if !f.CanValidate(encoderName) {
		return nil, fmt.Errorf("encoder %s is not supported by %s validator", encoderName, f.name)
	}
	s := f.settings
	s.GlobalArgs = slices.Clone(f.settings.GlobalArgs)
	s.OutputParams = maps.Clone(f.settings.OutputParams)
	if s.PixelFormat == "" {
		s.PixelFormat = "yuv420p"
	}
	return &s, nil
}

func (f *family) Validate(ctx context.Context, encoderName string) error {
	return ValidateWithSettings(ctx, f, encoderName, f.run)
}

// NewVaapiValidator handles Intel/AMD VAAPI on Linux.
func NewVaapiValidator(run Runner) EncoderValidator {
	return &family{
		name:        "vaapi",
		description: "VAAPI (Video Acceleration API) - Intel/AMD hardware acceleration on Linux",
		match:       []string{"vaapi"},
		encoders:    []string{"h264_vaapi"},
		hardware:    true,
		settings: EncoderSettings{
			GlobalArgs:   []string{"-vaapi_device", "/dev/dri/renderD128"},
			OutputParams: map[string]string{"rc_mode": "CBR"},
			VideoFilters: "format=nv12,hwupload",
			Profile:      "constrained_baseline",
		},
		run: run,
	}
}

// NewNvencValidator handles NVIDIA NVENC.
func NewNvencValidator(run Runner) EncoderValidator {
	return &family{
		name:        "nvenc",
		description: "NVIDIA NVENC - hardware encoding on NVIDIA GPUs",
		match:       []string{"nvenc"},
		encoders:    []string{"h264_nvenc"},
		hardware:    true,
		settings: EncoderSettings{
			OutputParams: map[string]string{"preset": "p1", "tune": "ull", "rc": "cbr", "zerolatency": "1"},
			Profile:      "baseline",
		},
		run: run,
	}
}

// NewQsvValidator handles Intel Quick Sync Video.
func NewQsvValidator(run Runner) EncoderValidator {
	return &family{
		name:        "qsv",
		description: "Intel Quick Sync Video - hardware encoding on Intel iGPUs",
		match:       []string{"qsv"},
		encoders:    []string{"h264_qsv"},
		hardware:    true,
		settings: EncoderSettings{
			GlobalArgs:   []string{"-init_hw_device", "qsv=hw", "-filter_hw_device", "hw"},
			OutputParams: map[string]string{"preset": "veryfast", "low_power": "1"},
			VideoFilters: "format=nv12,hwupload=extra_hw_frames=64",
			PixelFormat:  "nv12",
			Profile:      "baseline",
		},
		run: run,
	}
}

// NewRkmppValidator handles Rockchip MPP.
func NewRkmppValidator(run Runner) EncoderValidator {
	return &family{
		name:        "rkmpp",
		description: "Rockchip MPP - hardware acceleration on Rockchip SoCs",
		match:       []string{"rkmpp"},
		encoders:    []string{"h264_rkmpp"},
		hardware:    true,
		settings: EncoderSettings{
			OutputParams: map[string]string{"rc_mode": "CBR"},
			PixelFormat:  "nv12",
			Profile:      "baseline",
		},
		run: run,
	}
}

// NewV4l2m2mValidator handles V4L2 memory-to-memory encoders (Raspberry Pi and similar).
func NewV4l2m2mValidator(run Runner) EncoderValidator {
	return &family{
		name:        "v4l2m2m",
		description: "V4L2 M2M - stateful hardware codecs exposed through V4L2",
		match:       []string{"v4l2m2m"},
		encoders:    []string{"h264_v4l2m2m"},
		hardware:    true,
		settings: EncoderSettings{
			OutputParams: map[string]string{"num_capture_buffers": "16"},
			Profile:      "baseline",
		},
		run: run,
	}
}

// NewVideoToolboxValidator handles Apple VideoToolbox.
func NewVideoToolboxValidator(run Runner) EncoderValidator {
	return &family{
		name:        "videotoolbox",
		description: "Apple VideoToolbox - hardware encoding on macOS",
		match:       []string{"videotoolbox"},
		encoders:    []string{"h264_videotoolbox"},
		hardware:    true,
		settings: EncoderSettings{
			OutputParams: map[string]string{"realtime": "1", "allow_sw": "0"},
			Profile:      "baseline",
		},
		run: run,
	}
}

// NewAmfValidator handles AMD AMF.
func NewAmfValidator(run Runner) EncoderValidator {
	return &family{
		name:        "amf",
		description: "AMD AMF - hardware encoding on AMD GPUs",
		match:       []string{"_amf"},
		encoders:    []string{"h264_amf"},
		hardware:    true,
		settings: EncoderSettings{
			OutputParams: map[string]string{"usage": "ultralowlatency", "rc": "cbr"},
			Profile:      "constrained_baseline",
		},
		run: run,
	}
}

// NewSoftwareValidator handles software encoders. They are never selected
// automatically and serve explicit overrides and development hosts.
func NewSoftwareValidator(run Runner) EncoderValidator {
	return &family{
		name:        "software",
		description: "Software encoders - CPU fallback for explicit overrides",
		match:       []string{"libx264", "libopenh264"},
		encoders:    []string{"libx264", "libopenh264"},
		settings: EncoderSettings{
			Profile: "baseline",
		},
		run: run,
	}
}
