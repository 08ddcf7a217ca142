package models

import (
	"time"

	"github.com/smazurov/livenode/internal/validation"
)

// Health check models
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Service status"`
	Message string `json:"message" example:"API is healthy" doc:"Status message"`
	State   string `json:"state" example:"running" doc:"Pipeline lifecycle state"`
}

type HealthResponse struct {
	Body HealthData
}

// Version models
type VersionData struct {
	Version   string `json:"version" example:"dev" doc:"Application version"`
	GitCommit string `json:"git_commit" example:"abc1234" doc:"Git commit SHA"`
	BuildDate string `json:"build_date" example:"2024-12-15 14:30" doc:"Build timestamp"`
	GoVersion string `json:"go_version" example:"go1.24.0" doc:"Go compiler version"`
	Platform  string `json:"platform" example:"linux/arm64" doc:"Platform"`
}

type VersionResponse struct {
	Body VersionData
}

// Pipeline models
type PipelineConfigData struct {
	Width            int    `json:"width" minimum:"2" maximum:"7680" example:"1280" doc:"Frame width, rounded up to even"`
	Height           int    `json:"height" minimum:"2" maximum:"4320" example:"720" doc:"Frame height, rounded up to even"`
	FPS              int    `json:"fps" minimum:"1" maximum:"240" example:"30" doc:"Frame rate"`
	Bitrate          int    `json:"bitrate" minimum:"64000" example:"2000000" doc:"Target bitrate in bits per second"`
	KeyframeInterval string `json:"keyframe_interval" example:"2s" doc:"Time between IDR pictures"`
	Input            string `json:"input" enum:"surface,buffer,auto" example:"auto" doc:"Encoder input strategy"`
	Codec            string `json:"codec" enum:"h264" example:"h264" doc:"Output codec"`
	Encoder          string `json:"encoder,omitempty" example:"h264_vaapi" doc:"Encoder override; empty selects automatically"`
	Shader           string `json:"shader,omitempty" example:"passthrough" doc:"Compositor program for the surface path"`
}

type FormatData struct {
	Codec   string `json:"codec" example:"h264" doc:"Output codec"`
	Width   int    `json:"width" example:"1280" doc:"Coded width"`
	Height  int    `json:"height" example:"720" doc:"Coded height"`
	FPS     int    `json:"fps" example:"30" doc:"Frame rate"`
	Profile int    `json:"profile" example:"66" doc:"H.264 profile_idc"`
	Level   int    `json:"level" example:"31" doc:"H.264 level_idc"`
	Encoder string `json:"encoder" example:"h264_vaapi" doc:"Encoder implementation"`
}

type PipelineCounters struct {
	FramesCaptured  uint64 `json:"frames_captured" doc:"Frames delivered by the camera"`
	FramesDropped   uint64 `json:"frames_dropped" doc:"Frames dropped by plane extraction"`
	FramesReplaced  uint64 `json:"frames_replaced" doc:"Frames superseded before the encoder took them"`
	SlowPathFrames  uint64 `json:"slow_path_frames" doc:"Frames copied row by row because of padding"`
	FramesSubmitted uint64 `json:"frames_submitted" doc:"Frames handed to the encoder"`
	Units           uint64 `json:"units" doc:"Access units drained"`
	Keyframes       uint64 `json:"keyframes" doc:"Keyframes drained"`
	Bytes           uint64 `json:"bytes" doc:"Encoded bytes drained"`
	Sessions        uint64 `json:"sessions" doc:"Encoder sessions started"`
}

type PipelineData struct {
	State     string             `json:"state" enum:"idle,starting,running,stopping,error" example:"running" doc:"Lifecycle state"`
	Enabled   bool               `json:"enabled" doc:"Whether the camera is switched on"`
	Streaming bool               `json:"streaming" doc:"Whether the encoder is attached"`
	Config    PipelineConfigData `json:"config" doc:"Configuration of the next or current session"`
	Codec     string             `json:"codec,omitempty" example:"h264_vaapi" doc:"Active codec implementation"`
	Input     string             `json:"input,omitempty" example:"surface" doc:"Resolved input strategy of the active session"`
	Shader    string             `json:"shader,omitempty" example:"passthrough" doc:"Active compositor program"`
	Format    *FormatData        `json:"format,omitempty" doc:"Last announced output format"`
	Counters  PipelineCounters   `json:"counters" doc:"Cumulative counters"`
	StartedAt *time.Time         `json:"started_at,omitempty" doc:"When the active session started"`
	Uptime    time.Duration      `json:"uptime,omitempty" example:"3600000000000" doc:"Session uptime in nanoseconds"`
	LastError string             `json:"last_error,omitempty" doc:"Failure that ended the last session"`
}

type PipelineResponse struct {
	Body PipelineData
}

type EnabledRequest struct {
	Body struct {
		Enabled bool `json:"enabled" doc:"Switch the camera on or off"`
	}
}

type PipelineConfigRequest struct {
	Body PipelineConfigData
}

// Encoder models
type EncodersData struct {
	Validated bool                `json:"validated" doc:"Whether validation results exist"`
	Results   *validation.Results `json:"results,omitempty" doc:"Last validation run"`
	Working   []string            `json:"working" doc:"Encoders that passed validation"`
}

type EncodersResponse struct {
	Body EncodersData
}

// Detection models
type DetectionRegion struct {
	X          int     `json:"x" doc:"Left edge in pixels"`
	Y          int     `json:"y" doc:"Top edge in pixels"`
	Width      int     `json:"width" doc:"Box width in pixels"`
	Height     int     `json:"height" doc:"Box height in pixels"`
	Confidence float64 `json:"confidence" example:"0.8" doc:"Detector confidence 0..1"`
	Label      string  `json:"label" example:"bright" doc:"Region label"`
}

type DetectionData struct {
	Available   bool              `json:"available" doc:"Whether a result exists yet"`
	Detector    string            `json:"detector,omitempty" example:"luma-blob" doc:"Detector name"`
	FrameSeq    uint64            `json:"frame_seq,omitempty" doc:"Sequence number of the analysed frame"`
	FrameWidth  int               `json:"frame_width,omitempty" doc:"Width of the analysed frame"`
	FrameHeight int               `json:"frame_height,omitempty" doc:"Height of the analysed frame"`
	Boxes       []DetectionRegion `json:"boxes" doc:"Detected regions"`
	Duration    time.Duration     `json:"duration,omitempty" doc:"Detector run time in nanoseconds"`
}

type DetectionResponse struct {
	Body DetectionData
}

// Log models
type LogEntryData struct {
	Seq        uint64         `json:"seq" doc:"Sequence number"`
	Timestamp  time.Time      `json:"timestamp" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"pipeline" doc:"Source module"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured attributes"`
}

type LogsRequest struct {
	Since uint64 `query:"since" doc:"Return entries with a sequence number above this"`
	Limit int    `query:"limit" minimum:"0" maximum:"10000" default:"200" doc:"Maximum number of entries"`
}

type LogsResponse struct {
	Body struct {
		Entries []LogEntryData `json:"entries" doc:"Log entries, oldest first"`
		Count   int            `json:"count" doc:"Number of returned entries"`
	}
}

type LogLevelsResponse struct {
	Body struct {
		Levels map[string]string `json:"levels" doc:"Effective level per module"`
	}
}

type LogLevelRequest struct {
	Module string `path:"module" example:"pipeline" doc:"Logger module"`
	Body   struct {
		Level string `json:"level" enum:"debug,info,warn,error" example:"debug" doc:"New level"`
	}
}

// Error response
type MessageResponse struct {
	Body struct {
		Message string `json:"message" doc:"Operation result message"`
	}
}
