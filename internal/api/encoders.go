package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/livenode/internal/api/models"
)

func (s *Server) registerEncoderRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-encoders",
		Method:      http.MethodGet,
		Path:        "/api/encoders",
		Summary:     "List Encoders",
		Description: "Hardware encoders that passed the last validation run",
		Tags:        []string{"encoders"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(ctx context.Context, input *struct{}) (*models.EncodersResponse, error) {
		resp := &models.EncodersResponse{Body: models.EncodersData{Working: []string{}}}
		if s.options.Validation == nil {
			return resp, nil
		}
		if res := s.options.Validation.Results(); res != nil {
			resp.Body.Validated = true
			resp.Body.Results = res
			resp.Body.Working = append(resp.Body.Working, s.options.Validation.WorkingEncoders()...)
		}
		return resp, nil
	})
}
