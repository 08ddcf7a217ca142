package api

import (
	"context"
	"maps"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"github.com/smazurov/livenode/internal/events"
	"github.com/smazurov/livenode/internal/metrics/exporters"
)

func (s *Server) registerSSERoutes() {
	eventTypes := map[string]any{
		"pipeline-state-changed": events.PipelineStateChangedEvent{},
		"format-changed":         events.FormatChangedEvent{},
		"detection":              events.DetectionEvent{},
		"encoder-failure":        events.EncoderFailureEvent{},
		"capture-failure":        events.CaptureFailureEvent{},
	}
	maps.Copy(eventTypes, exporters.GetEventTypes())

	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Server-Sent Events Stream",
		Description: "Real-time pipeline state, format, detection, encoder and capture failure, and metrics events",
		Tags:        []string{"events"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, eventTypes, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		stream := events.NewStream(32)
		events.Forward[events.PipelineStateChangedEvent](stream, s.eventBus)
		events.Forward[events.FormatChangedEvent](stream, s.eventBus)
		events.Forward[events.DetectionEvent](stream, s.eventBus)
		events.Forward[events.EncoderFailureEvent](stream, s.eventBus)
		events.Forward[events.CaptureFailureEvent](stream, s.eventBus)
		events.Forward[events.PipelineMetricsEvent](stream, s.eventBus)
		events.Forward[events.EncoderMetricsEvent](stream, s.eventBus)
		defer s.closeStream("events", stream)

		// The current state goes first so clients need no extra GET.
		if s.pipeline != nil {
			st := s.pipeline.Stats()
			if err := send.Data(events.PipelineStateChangedEvent{
				State:     st.State.String(),
				Previous:  st.State.String(),
				Enabled:   st.Enabled,
				Streaming: st.Streaming,
				Error:     st.LastError,
				Timestamp: time.Now().UTC().Format(time.RFC3339),
			}); err != nil {
				return
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-stream.C():
				if err := send.Data(ev); err != nil {
					return
				}
			}
		}
	})
}

// closeStream unsubscribes a client's stream and notes events it missed.
func (s *Server) closeStream(name string, stream *events.Stream) {
	stream.Close()
	if n := stream.Dropped(); n > 0 {
		s.logger.Debug("SSE client fell behind", "stream", name, "dropped", n)
	}
}
