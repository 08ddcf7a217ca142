package validation

import (
	"context"
	"strings"
)

// EncoderSettings contains the FFmpeg settings an encoder needs in production.
type EncoderSettings struct {
	GlobalArgs   []string          `json:"global_args"`   // -vaapi_device, -hwaccel...
	OutputParams map[string]string `json:"output_params"` // encoder private options
	VideoFilters string            `json:"video_filters"` // format=nv12,hwupload
	PixelFormat  string            `json:"pixel_format"`  // raw format written to stdin
	Profile      string            `json:"profile"`       // H.264 profile name understood by the encoder
}

// EncoderValidator validates and configures one family of encoders.
type EncoderValidator interface {
	// Name identifies the family (vaapi, nvenc...).
	Name() string

	// CanValidate returns true if this validator handles encoderName.
	CanValidate(encoderName string) bool

	// Validate runs a short test encode with the production settings.
	Validate(ctx context.Context, encoderName string) error

	// EncoderNames lists the H.264 encoders of this family in preference order.
	EncoderNames() []string

	// Description is a human-readable summary.
	Description() string

	// Hardware reports whether the family is hardware accelerated.
	Hardware() bool

	// Settings returns the production settings for encoderName.
	Settings(encoderName string) (*EncoderSettings, error)
}

// Runner executes an FFmpeg command line and returns its failure.
type Runner func(ctx context.Context, command string) error

// ValidatorRegistry holds validators in priority order.
type ValidatorRegistry struct {
	validators []EncoderValidator
}

// NewValidatorRegistry creates an empty registry.
func NewValidatorRegistry() *ValidatorRegistry {
	return &ValidatorRegistry{}
}

// NewDefaultRegistry registers every known family, hardware first.
func NewDefaultRegistry(run Runner) *ValidatorRegistry {
	r := NewValidatorRegistry()
	r.Register(NewVaapiValidator(run))
	r.Register(NewNvencValidator(run))
	r.Register(NewQsvValidator(run))
	r.Register(NewRkmppValidator(run))
	r.Register(NewV4l2m2mValidator(run))
	r.Register(NewVideoToolboxValidator(run))
	r.Register(NewAmfValidator(run))
	r.Register(NewSoftwareValidator(run))
	return r
}

// Register appends a validator; earlier registrations have priority.
func (r *ValidatorRegistry) Register(validator EncoderValidator) {
	r.validators = append(r.validators, validator)
}

// FindValidator returns the validator handling encoderName, or nil.
func (r *ValidatorRegistry) FindValidator(encoderName string) EncoderValidator {
	for _, v := range r.validators {
		if v.CanValidate(encoderName) {
			return v
		}
	}
	return nil
}

// Validators returns all validators in priority order.
func (r *ValidatorRegistry) Validators() []EncoderValidator {
	return r.validators
}

// Candidates returns encoder names that appear in compiled, in priority
// order. Software encoders are included only when includeSoftware is set.
func (r *ValidatorRegistry) Candidates(compiled []string, includeSoftware bool) []string {
	have := make(map[string]bool, len(compiled))
	for _, name := range compiled {
		have[name] = true
	}
	var out []string
	for _, v := range r.validators {
		if !v.Hardware() && !includeSoftware {
			continue
		}
		for _, name := range v.EncoderNames() {
			if have[name] {
				out = append(out, name)
			}
		}
	}
	return out
}

func containsAny(name string, parts ...string) bool {
	for _, p := range parts {
		if strings.Contains(name, p) {
			return true
		}
	}
	return false
}
