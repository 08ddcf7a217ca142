package encoders

import (
	"context"
	"fmt"
	"time"

	"github.com/smazurov/livenode/internal/encoders/validation"
	"github.com/smazurov/livenode/internal/logging"
	"github.com/smazurov/livenode/internal/media"
	valmanager "github.com/smazurov/livenode/internal/validation"
)

// Selection is the encoder chosen for a session with its FFmpeg settings.
type Selection struct {
	Encoder  string
	Hardware bool
	Settings validation.EncoderSettings
}

// Selector picks an encoder: an explicit override, else the first validated
// hardware encoder, else the first hardware encoder that passes a test
// encode now.
type Selector struct {
	registry *validation.ValidatorRegistry
	results  *valmanager.Manager
	list     Lister
	logger   logging.Logger
}

// NewSelector creates a selector. results may be nil.
func NewSelector(registry *validation.ValidatorRegistry, results *valmanager.Manager, list Lister, logger logging.Logger) *Selector {
	if results == nil {
		results = valmanager.NewManager(nil)
	}
	if list == nil {
		list = ListFFmpegEncoders
	}
	return &Selector{registry: registry, results: results, list: list, logger: logger}
}

// Select resolves the encoder. When no hardware encoder works the error is a
// ResourceExhaustion wrapping media.ErrNoEncoder.
func (s *Selector) Select(ctx context.Context, override string) (*Selection, error) {
	if override != "" {
		v := s.registry.FindValidator(override)
		if v == nil {
			return nil, media.NewError(media.KindConfiguration, "select encoder", fmt.Errorf("unknown encoder %q", override))
		}
		return s.selection(v, override)
	}

	for _, name := range s.results.WorkingEncoders() {
		if v := s.registry.FindValidator(name); v != nil && v.Hardware() {
			s.logger.Info("Selected validated encoder", "encoder", name)
			return s.selection(v, name)
		}
	}

	compiled, err := s.list(ctx)
	if err != nil {
		return nil, media.NewError(media.KindResourceExhaustion, "select encoder", fmt.Errorf("%w: %w", media.ErrNoEncoder, err))
	}
	for _, name := range s.registry.Candidates(names(compiled), false) {
		v := s.registry.FindValidator(name)
		if err := v.Validate(ctx, name); err != nil {
			s.logger.Debug("Encoder failed validation", "encoder", name, "error", err)
			continue
		}
		s.logger.Info("Selected encoder", "encoder", name)
		return s.selection(v, name)
	}
	return nil, media.NewError(media.KindResourceExhaustion, "select encoder", media.ErrNoEncoder)
}

func (s *Selector) selection(v validation.EncoderValidator, name string) (*Selection, error) {
	settings, err := v.Settings(name)
	if err != nil {
		return nil, media.NewError(media.KindConfiguration, "select encoder", err)
	}
	return &Selection{Encoder: name, Hardware: v.Hardware(), Settings: *settings}, nil
}

// ValidateAll test-encodes every compiled candidate (software included) and
// stores the results.
func (s *Selector) ValidateAll(ctx context.Context) (*valmanager.Results, error) {
	compiled, err := s.list(ctx)
	if err != nil {
		return nil, err
	}

	results := &valmanager.Results{
		Timestamp:      time.Now().Format(time.RFC3339),
		FFmpegVersion:  Version(ctx),
		TestResolution: validation.TestResolution(),
		H264: valmanager.CodecValidation{
			Working: []string{},
			Failed:  []string{},
		},
	}

	for _, name := range s.registry.Candidates(names(compiled), true) {
		v := s.registry.FindValidator(name)
		if err := v.Validate(ctx, name); err != nil {
			s.logger.Warn("Encoder failed validation", "encoder", name, "error", err)
			results.H264.Failed = append(results.H264.Failed, name)
			continue
		}
		s.logger.Info("Encoder validated", "encoder", name)
		results.H264.Working = append(results.H264.Working, name)
	}

	if err := s.results.Save(results); err != nil {
		return results, fmt.Errorf("failed to save validation results: %w", err)
	}
	return results, nil
}
