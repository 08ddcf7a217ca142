package events

// Event type constants for kelindar/event.
const (
	TypePipelineStateChanged uint32 = iota + 1
	TypeFormatChanged
	TypeDetection
	TypeEncoderFailure
	TypeLogEntry
	TypePipelineMetrics
	TypeEncoderMetrics
	TypeCaptureFailure
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// PipelineStateChangedEvent is published on every pipeline state transition.
type PipelineStateChangedEvent struct {
	State     string `json:"state" example:"running" doc:"New pipeline state"`
	Previous  string `json:"previous" example:"starting" doc:"Previous pipeline state"`
	Enabled   bool   `json:"enabled" doc:"Whether the camera is enabled"`
	Streaming bool   `json:"streaming" doc:"Whether the encoder is attached"`
	Error     string `json:"error,omitempty" doc:"Failure that caused the transition"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for PipelineStateChangedEvent.
func (e PipelineStateChangedEvent) Type() uint32 { return TypePipelineStateChanged }

// FormatChangedEvent is published when the encoder reports its output format.
type FormatChangedEvent struct {
	Codec     string `json:"codec" example:"h264" doc:"Output codec"`
	Width     int    `json:"width" example:"1280" doc:"Coded width"`
	Height    int    `json:"height" example:"720" doc:"Coded height"`
	FPS       int    `json:"fps" example:"30" doc:"Frame rate"`
	Profile   int    `json:"profile" example:"66" doc:"H.264 profile_idc"`
	Level     int    `json:"level" example:"31" doc:"H.264 level_idc"`
	Encoder   string `json:"encoder" example:"h264_vaapi" doc:"Encoder implementation"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for FormatChangedEvent.
func (e FormatChangedEvent) Type() uint32 { return TypeFormatChanged }

// DetectionBox is a detected region in frame pixel coordinates.
type DetectionBox struct {
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Confidence float64 `json:"confidence"`
	Label      string  `json:"label,omitempty"`
}

// DetectionEvent carries detector results for overlay consumers.
type DetectionEvent struct {
	Detector    string         `json:"detector" example:"luma-blob" doc:"Detector name"`
	FrameSeq    uint64         `json:"frame_seq" doc:"Sequence number of the analysed frame"`
	FrameWidth  int            `json:"frame_width" doc:"Width of the analysed frame"`
	FrameHeight int            `json:"frame_height" doc:"Height of the analysed frame"`
	Boxes       []DetectionBox `json:"boxes" doc:"Detected regions"`
	Timestamp   string         `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for DetectionEvent.
func (e DetectionEvent) Type() uint32 { return TypeDetection }

// EncoderFailureEvent is published when the encoder fails and the pipeline
// stops itself.
type EncoderFailureEvent struct {
	Encoder   string `json:"encoder" example:"h264_vaapi" doc:"Failing encoder"`
	Error     string `json:"error" doc:"Failure description"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for EncoderFailureEvent.
func (e EncoderFailureEvent) Type() uint32 { return TypeEncoderFailure }

// CaptureFailureEvent is published when the camera stops delivering frames
// on its own.
type CaptureFailureEvent struct {
	Source    string `json:"source" example:"/dev/video0" doc:"Failing camera"`
	Error     string `json:"error" doc:"Failure description"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for CaptureFailureEvent.
func (e CaptureFailureEvent) Type() uint32 { return TypeCaptureFailure }

// LogEntryEvent represents a log entry for SSE streaming.
type LogEntryEvent struct {
	Seq        uint64         `json:"seq" example:"42" doc:"Monotonic sequence number for deduplication"`
	Timestamp  string         `json:"timestamp" example:"2025-01-09T10:30:00.123Z" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"pipeline" doc:"Source module"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured log attributes"`
}

// Type returns the event type identifier for LogEntryEvent.
func (e LogEntryEvent) Type() uint32 { return TypeLogEntry }

// PipelineMetricsEvent is a periodic throughput summary.
type PipelineMetricsEvent struct {
	CaptureFPS float64 `json:"capture_fps" example:"29.97" doc:"Frames per second delivered by the camera"`
	EncodeFPS  float64 `json:"encode_fps" example:"29.97" doc:"Frames per second submitted to the encoder"`
	Bitrate    float64 `json:"bitrate" example:"2000000" doc:"Encoded bits per second"`
	Dropped    uint64  `json:"dropped" doc:"Total frames dropped"`
	Units      uint64  `json:"units" doc:"Total access units"`
	Keyframes  uint64  `json:"keyframes" doc:"Total keyframes"`
	// CodecLoad is the utilization percentage of each hardware codec block.
	CodecLoad map[string]float64 `json:"codec_load,omitempty" doc:"Hardware codec utilization by device"`
	Timestamp string             `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for PipelineMetricsEvent.
func (e PipelineMetricsEvent) Type() uint32 { return TypePipelineMetrics }

// EncoderMetricsEvent carries the last progress report of an encoder process.
type EncoderMetricsEvent struct {
	Encoder       string  `json:"encoder" example:"h264_vaapi" doc:"Encoder name"`
	FPS           float64 `json:"fps" example:"30" doc:"Encoding FPS"`
	Speed         float64 `json:"speed" example:"1.0" doc:"Speed relative to real time"`
	DroppedFrames float64 `json:"dropped_frames" doc:"Frames dropped by the encoder"`
}

// Type returns the event type identifier for EncoderMetricsEvent.
func (e EncoderMetricsEvent) Type() uint32 { return TypeEncoderMetrics }
