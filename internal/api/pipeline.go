package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/livenode/internal/api/models"
	"github.com/smazurov/livenode/internal/config"
	"github.com/smazurov/livenode/internal/media"
	"github.com/smazurov/livenode/internal/pipeline"
)

func (s *Server) registerPipelineRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-pipeline",
		Method:      http.MethodGet,
		Path:        "/api/pipeline",
		Summary:     "Get Pipeline",
		Description: "Lifecycle state, configuration and counters of the camera pipeline",
		Tags:        []string{"pipeline"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(ctx context.Context, input *struct{}) (*models.PipelineResponse, error) {
		return s.pipelineResponse(), nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "set-pipeline-enabled",
		Method:      http.MethodPut,
		Path:        "/api/pipeline/enabled",
		Summary:     "Enable or Disable Camera",
		Description: "Switch the camera on (preview, plus encoding when streaming is requested) or off",
		Tags:        []string{"pipeline"},
		Security:    withAuth(),
		Errors:      []int{400, 401, 409, 500, 503},
	}, func(ctx context.Context, input *models.EnabledRequest) (*models.PipelineResponse, error) {
		if err := s.pipeline.SetEnabled(ctx, input.Body.Enabled); err != nil {
			return nil, pipelineError("Failed to change camera state", err)
		}
		s.persist()
		return s.pipelineResponse(), nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "start-streaming",
		Method:      http.MethodPost,
		Path:        "/api/pipeline/streaming/start",
		Summary:     "Start Streaming",
		Description: "Attach the hardware encoder. While the camera is disabled the request waits for enable.",
		Tags:        []string{"pipeline"},
		Security:    withAuth(),
		Errors:      []int{400, 401, 409, 500, 503},
	}, func(ctx context.Context, input *struct{}) (*models.PipelineResponse, error) {
		if err := s.pipeline.StartStreaming(ctx); err != nil {
			return nil, pipelineError("Failed to start streaming", err)
		}
		s.persist()
		return s.pipelineResponse(), nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "stop-streaming",
		Method:      http.MethodPost,
		Path:        "/api/pipeline/streaming/stop",
		Summary:     "Stop Streaming",
		Description: "Detach the encoder; the camera stays in preview while enabled",
		Tags:        []string{"pipeline"},
		Security:    withAuth(),
		Errors:      []int{401, 500},
	}, func(ctx context.Context, input *struct{}) (*models.PipelineResponse, error) {
		if err := s.pipeline.StopStreaming(); err != nil {
			return nil, pipelineError("Failed to stop streaming", err)
		}
		s.persist()
		return s.pipelineResponse(), nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "update-pipeline-config",
		Method:      http.MethodPut,
		Path:        "/api/pipeline/config",
		Summary:     "Update Pipeline Config",
		Description: "Replace the session configuration. A running session restarts with the new settings.",
		Tags:        []string{"pipeline"},
		Security:    withAuth(),
		Errors:      []int{400, 401, 409, 422, 500, 503},
	}, func(ctx context.Context, input *models.PipelineConfigRequest) (*models.PipelineResponse, error) {
		cfg, err := configFromModel(input.Body)
		if err != nil {
			return nil, huma.Error422UnprocessableEntity("Invalid configuration", err)
		}
		if err := s.pipeline.Reconfigure(ctx, cfg); err != nil {
			return nil, pipelineError("Failed to apply configuration", err)
		}
		s.persist()
		return s.pipelineResponse(), nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "request-keyframe",
		Method:      http.MethodPost,
		Path:        "/api/pipeline/keyframe",
		Summary:     "Request Keyframe",
		Description: "Ask the running encoder for an IDR picture",
		Tags:        []string{"pipeline"},
		Security:    withAuth(),
		Errors:      []int{401, 500},
	}, func(ctx context.Context, input *struct{}) (*models.MessageResponse, error) {
		if err := s.pipeline.RequestKeyframe(); err != nil {
			return nil, pipelineError("Keyframe request failed", err)
		}
		resp := &models.MessageResponse{}
		resp.Body.Message = "keyframe requested"
		return resp, nil
	})
}

// persist writes the live pipeline state to the config file. Failures are
// logged; the live change already happened.
func (s *Server) persist() {
	path := s.options.ConfigPath
	if path == "" {
		return
	}
	st := s.pipeline.Stats()
	sec := config.PipelineSection{Enabled: st.Enabled, Streaming: st.Streaming}
	sec.SetMedia(st.Config)
	if err := config.SavePipeline(path, sec); err != nil {
		s.logger.Warn("Failed to persist pipeline config", "path", path, "error", err)
	}
}

func (s *Server) pipelineResponse() *models.PipelineResponse {
	return &models.PipelineResponse{Body: toPipelineData(s.pipeline.Stats(), time.Now())}
}

func toPipelineData(st pipeline.Stats, now time.Time) models.PipelineData {
	d := models.PipelineData{
		State:     st.State.String(),
		Enabled:   st.Enabled,
		Streaming: st.Streaming,
		Config:    modelFromConfig(st.Config),
		Codec:     st.Codec,
		Input:     string(st.Input),
		Shader:    st.Shader,
		LastError: st.LastError,
		Counters: models.PipelineCounters{
			FramesCaptured:  st.FramesCaptured,
			FramesDropped:   st.FramesDropped,
			FramesReplaced:  st.FramesReplaced,
			SlowPathFrames:  st.SlowPathFrames,
			FramesSubmitted: st.FramesSubmitted,
			Units:           st.Units,
			Keyframes:       st.Keyframes,
			Bytes:           st.Bytes,
			Sessions:        st.Sessions,
		},
	}
	if f := st.Format; f != nil {
		d.Format = &models.FormatData{
			Codec:   f.Codec,
			Width:   f.Width,
			Height:  f.Height,
			FPS:     f.FPS,
			Profile: f.Profile,
			Level:   f.Level,
			Encoder: f.Encoder,
		}
	}
	if !st.StartedAt.IsZero() {
		started := st.StartedAt
		d.StartedAt = &started
		d.Uptime = now.Sub(started)
	}
	return d
}

func modelFromConfig(c media.Config) models.PipelineConfigData {
	return models.PipelineConfigData{
		Width:            c.Width,
		Height:           c.Height,
		FPS:              c.FPS,
		Bitrate:          c.Bitrate,
		KeyframeInterval: c.KeyframeInterval.String(),
		Input:            string(c.Input),
		Codec:            c.Codec,
		Encoder:          c.Encoder,
		Shader:           c.Shader,
	}
}

func configFromModel(m models.PipelineConfigData) (media.Config, error) {
	cfg := media.Config{
		Width:   m.Width,
		Height:  m.Height,
		FPS:     m.FPS,
		Bitrate: m.Bitrate,
		Input:   media.InputStrategy(m.Input),
		Codec:   m.Codec,
		Encoder: m.Encoder,
		Shader:  m.Shader,
	}
	if m.KeyframeInterval != "" {
		d, err := time.ParseDuration(m.KeyframeInterval)
		if err != nil {
			return cfg, err
		}
		cfg.KeyframeInterval = d
	}
	cfg = cfg.Normalize()
	return cfg, cfg.Validate()
}

// pipelineError maps the media error taxonomy onto HTTP statuses.
func pipelineError(msg string, err error) error {
	switch media.KindOf(err) {
	case media.KindConfiguration:
		return huma.Error422UnprocessableEntity(msg, err)
	case media.KindStateViolation:
		return huma.Error409Conflict(msg, err)
	case media.KindResourceExhaustion:
		return huma.Error503ServiceUnavailable(msg, err)
	default:
		return huma.Error500InternalServerError(msg, err)
	}
}
