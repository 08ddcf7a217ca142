package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	pion "github.com/pion/webrtc/v4"

	"github.com/smazurov/livenode/internal/camera"
	"github.com/smazurov/livenode/internal/detect"
	"github.com/smazurov/livenode/internal/logging"
	"github.com/smazurov/livenode/internal/media"
	"github.com/smazurov/livenode/internal/transmit"
)

// Duration is a time.Duration written as a Go duration string ("2s") in TOML.
type Duration time.Duration

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", b, err)
	}
	*d = Duration(v)
	return nil
}

// File is the layout of livenode.toml.
type File struct {
	Pipeline PipelineSection `toml:"pipeline"`
	Camera   CameraSection   `toml:"camera"`
	Transmit TransmitSection `toml:"transmit"`
	Detect   DetectSection   `toml:"detect"`
	Logging  logging.Config  `toml:"logging"`
}

// PipelineSection is [pipeline]: the encoder session plus the two
// lifecycle flags.
type PipelineSection struct {
	// Enabled runs the camera; Streaming additionally attaches the encoder.
	Enabled          bool     `toml:"enabled"`
	Streaming        bool     `toml:"streaming"`
	Width            int      `toml:"width"`
	Height           int      `toml:"height"`
	FPS              int      `toml:"fps"`
	Bitrate          int      `toml:"bitrate"`
	KeyframeInterval Duration `toml:"keyframe_interval"`
	Input            string   `toml:"input"`
	Codec            string   `toml:"codec"`
	Encoder          string   `toml:"encoder,omitempty"`
	Shader           string   `toml:"shader,omitempty"`
}

// Media returns the normalized session configuration.
func (p PipelineSection) Media() media.Config {
	return media.Config{
		Width:            p.Width,
		Height:           p.Height,
		FPS:              p.FPS,
		Bitrate:          p.Bitrate,
		KeyframeInterval: time.Duration(p.KeyframeInterval),
		Input:            media.InputStrategy(p.Input),
		Codec:            p.Codec,
		Encoder:          p.Encoder,
		Shader:           p.Shader,
	}.Normalize()
}

// SetMedia replaces the session fields, keeping the lifecycle flags.
func (p *PipelineSection) SetMedia(cfg media.Config) {
	p.Width = cfg.Width
	p.Height = cfg.Height
	p.FPS = cfg.FPS
	p.Bitrate = cfg.Bitrate
	p.KeyframeInterval = Duration(cfg.KeyframeInterval)
	p.Input = string(cfg.Input)
	p.Codec = cfg.Codec
	p.Encoder = cfg.Encoder
	p.Shader = cfg.Shader
}

// Camera source kinds.
const (
	SourceSynthetic = "synthetic"
	SourceDevice    = "device"
)

// CameraSection is [camera].
type CameraSection struct {
	// Source is "synthetic" or "device".
	Source      string `toml:"source"`
	Device      string `toml:"device,omitempty"`
	Driver      string `toml:"driver,omitempty"`
	InputFormat string `toml:"input_format,omitempty"`
	TestPattern bool   `toml:"test_pattern,omitempty"`
	Overlay     string `toml:"overlay,omitempty"`
}

// DeviceConfig sizes a device capture to the session configuration.
func (c CameraSection) DeviceConfig(cfg media.Config) camera.DeviceConfig {
	return camera.DeviceConfig{
		Device:      c.Device,
		Driver:      c.Driver,
		InputFormat: c.InputFormat,
		Width:       cfg.Width,
		Height:      cfg.Height,
		FPS:         cfg.FPS,
		TestPattern: c.TestPattern,
		Overlay:     c.Overlay,
	}
}

// TransmitSection is [transmit].
type TransmitSection struct {
	// AnnexBFile records the stream to a raw .h264 file when set.
	AnnexBFile string `toml:"annexb_file,omitempty"`
	// LogEvery logs every Nth delta unit through the log sink. 0 disables it.
	LogEvery       int      `toml:"log_every"`
	RTP            []string `toml:"rtp,omitempty"`
	RTPPayloadType uint8    `toml:"rtp_payload_type,omitempty"`
	RTPMTU         uint16   `toml:"rtp_mtu,omitempty"`
	WebRTC         bool     `toml:"webrtc"`
	ICEServers     []string `toml:"ice_servers,omitempty"`
}

// RTPConfigs returns one sink configuration per destination.
func (t TransmitSection) RTPConfigs() []transmit.RTPConfig {
	out := make([]transmit.RTPConfig, 0, len(t.RTP))
	for _, addr := range t.RTP {
		out = append(out, transmit.RTPConfig{Address: addr, PayloadType: t.RTPPayloadType, MTU: t.RTPMTU})
	}
	return out
}

// WebRTCConfig converts the ICE server URLs.
func (t TransmitSection) WebRTCConfig() transmit.WebRTCConfig {
	var cfg transmit.WebRTCConfig
	if len(t.ICEServers) > 0 {
		cfg.ICEServers = []pion.ICEServer{{URLs: t.ICEServers}}
	}
	return cfg
}

// DetectSection is [detect].
type DetectSection struct {
	Enabled   bool     `toml:"enabled"`
	Threshold int      `toml:"threshold"`
	MinPixels int      `toml:"min_pixels"`
	Step      int      `toml:"step"`
	Interval  Duration `toml:"interval"`
}

// Config converts the section for the detector.
func (d DetectSection) Config() detect.Config {
	return detect.Config{
		Threshold: uint8(min(max(d.Threshold, 0), 255)),
		MinPixels: d.MinPixels,
		Step:      d.Step,
		Interval:  time.Duration(d.Interval),
	}
}

// DefaultFile returns the configuration used when no file exists.
func DefaultFile() File {
	var f File
	f.Pipeline.Enabled = true
	f.Pipeline.Streaming = true
	f.Pipeline.SetMedia(media.DefaultConfig())
	f.Camera.Source = SourceSynthetic
	f.Transmit.LogEvery = 30
	f.Transmit.WebRTC = true
	f.Detect = DetectSection{
		Threshold: int(detect.DefaultThreshold),
		MinPixels: detect.DefaultMinPixels,
		Step:      detect.DefaultStep,
		Interval:  Duration(detect.DefaultInterval),
	}
	f.Logging = logging.Config{Level: "info", Format: "text", Modules: map[string]string{}}
	return f
}

// LoadFile reads path over the defaults. A missing file yields the defaults.
func LoadFile(path string) (File, error) {
	f := DefaultFile()
	if path == "" {
		return f, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return f, nil
	}
	if err != nil {
		return f, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("failed to parse TOML config: %w", err)
	}
	if err := f.Validate(); err != nil {
		return f, err
	}
	return f, nil
}

// Validate checks cross-field constraints.
func (f File) Validate() error {
	if err := f.Pipeline.Media().Validate(); err != nil {
		return fmt.Errorf("[pipeline]: %w", err)
	}
	switch f.Camera.Source {
	case SourceSynthetic:
	case SourceDevice:
		if f.Camera.Device == "" && !f.Camera.TestPattern {
			return errors.New("[camera]: device source needs device or test_pattern")
		}
	default:
		return fmt.Errorf("[camera]: unknown source %q", f.Camera.Source)
	}
	for _, addr := range f.Transmit.RTP {
		if !strings.Contains(addr, ":") {
			return fmt.Errorf("[transmit]: rtp destination %q is not host:port", addr)
		}
	}
	return nil
}

// LoadPipeline reads only the [pipeline] section; the watcher uses it so a
// broken unrelated section does not block hot reloads.
func LoadPipeline(path string) (PipelineSection, error) {
	var raw struct {
		Pipeline PipelineSection `toml:"pipeline"`
	}
	raw.Pipeline = DefaultFile().Pipeline

	data, err := os.ReadFile(path)
	if err != nil {
		return raw.Pipeline, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(data, &raw); err != nil {
		return raw.Pipeline, fmt.Errorf("failed to parse TOML config: %w", err)
	}
	if err := raw.Pipeline.Media().Validate(); err != nil {
		return raw.Pipeline, fmt.Errorf("[pipeline]: %w", err)
	}
	return raw.Pipeline, nil
}

// SavePipeline rewrites the [pipeline] section of path. Every other table,
// including ones this package does not know, is written back unchanged.
// The write goes through a temp file and rename.
func SavePipeline(path string, p PipelineSection) error {
	f, err := LoadFile(path)
	if err != nil {
		return err
	}
	f.Pipeline = p
	if err := f.Validate(); err != nil {
		return err
	}

	doc := map[string]any{}
	existing, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(existing, &doc); err != nil {
			return fmt.Errorf("failed to parse TOML config: %w", err)
		}
	case !errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("read config: %w", err)
	}

	section, err := toml.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	var table map[string]any
	if err := toml.Unmarshal(section, &table); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	doc["pipeline"] = table

	data, err := toml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".livenode-*.toml")
	if err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
