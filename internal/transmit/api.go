package transmit

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

// WebRTCOfferInput is the request body for WebRTC signaling.
type WebRTCOfferInput struct {
	RawBody []byte `contentType:"application/sdp" doc:"SDP offer from browser"`
}

// WebRTCAnswerOutput is the response body for WebRTC signaling.
type WebRTCAnswerOutput struct {
	ContentType string `header:"Content-Type"`
	Body        []byte
}

// WebRTCStatusOutput describes the live stream.
type WebRTCStatusOutput struct {
	Body struct {
		Peers int    `json:"peers" doc:"Connected WebRTC peers"`
		Codec string `json:"codec,omitempty" doc:"Codec name"`
		Fmtp  string `json:"fmtp,omitempty" doc:"SDP fmtp line of the current stream"`
	}
}

// RegisterWebRTCAPI registers WebRTC signaling endpoints.
func RegisterWebRTCAPI(api huma.API, sink *WebRTCSink) {
	huma.Register(api, huma.Operation{
		OperationID: "webrtc-offer",
		Method:      http.MethodPost,
		Path:        "/api/webrtc",
		Summary:     "WebRTC signaling",
		Description: "Exchange SDP offer/answer to watch the encoded stream",
		Tags:        []string{"streaming"},
	}, func(ctx context.Context, input *WebRTCOfferInput) (*WebRTCAnswerOutput, error) {
		answer, err := sink.CreatePeer(string(input.RawBody))
		if err != nil {
			if err == ErrNoOffer {
				return nil, huma.Error400BadRequest("SDP offer required", err)
			}
			return nil, huma.Error500InternalServerError("WebRTC connection failed", err)
		}
		return &WebRTCAnswerOutput{
			ContentType: "application/sdp",
			Body:        []byte(answer),
		}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "webrtc-status",
		Method:      http.MethodGet,
		Path:        "/api/webrtc",
		Summary:     "WebRTC status",
		Description: "Returns the number of peers and the negotiated stream description",
		Tags:        []string{"streaming"},
	}, func(ctx context.Context, input *struct{}) (*WebRTCStatusOutput, error) {
		out := &WebRTCStatusOutput{}
		out.Body.Peers = sink.PeerCount()
		if c := sink.Codec(); c != nil {
			out.Body.Codec = c.Name
			out.Body.Fmtp = c.FmtpLine
		}
		return out, nil
	})
}
