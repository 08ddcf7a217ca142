package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/livenode/internal/api/models"
	"github.com/smazurov/livenode/internal/detect"
)

func (s *Server) registerDetectionRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-detections",
		Method:      http.MethodGet,
		Path:        "/api/detections",
		Summary:     "Latest Detections",
		Description: "Regions found by the detector in the most recently analysed frame",
		Tags:        []string{"detect"},
		Security:    withAuth(),
		Errors:      []int{401, 404},
	}, func(ctx context.Context, input *struct{}) (*models.DetectionResponse, error) {
		if s.options.Detector == nil {
			return nil, huma.Error404NotFound("Detector disabled")
		}
		res, ok := s.options.Detector.Latest()
		return &models.DetectionResponse{Body: toDetectionData(res, ok)}, nil
	})
}

func toDetectionData(res detect.Result, ok bool) models.DetectionData {
	d := models.DetectionData{Available: ok, Boxes: []models.DetectionRegion{}}
	if !ok {
		return d
	}
	d.Detector = res.Detector
	d.FrameSeq = res.FrameSeq
	d.FrameWidth = res.Width
	d.FrameHeight = res.Height
	d.Duration = res.Elapsed
	for _, b := range res.Boxes {
		d.Boxes = append(d.Boxes, models.DetectionRegion{
			X:          b.Rect.Min.X,
			Y:          b.Rect.Min.Y,
			Width:      b.Rect.Dx(),
			Height:     b.Rect.Dy(),
			Confidence: b.Confidence,
			Label:      b.Label,
		})
	}
	return d
}
