package pipeline

import (
	"context"
	"errors"

	"github.com/smazurov/livenode/internal/media"
)

// Desired is the externally requested pipeline setup, as found in the
// [pipeline] section of the configuration file.
type Desired struct {
	Config    media.Config
	Enabled   bool
	Streaming bool
}

// Apply moves the pipeline to d: the configuration first, then the
// streaming flag, then the enabled flag. Unchanged parts are left alone.
func (p *Pipeline) Apply(ctx context.Context, d Desired) error {
	var errs []error
	if err := p.Reconfigure(ctx, d.Config); err != nil {
		errs = append(errs, err)
	}

	if d.Streaming != p.Streaming() {
		if d.Streaming {
			errs = append(errs, p.StartStreaming(ctx))
		} else {
			errs = append(errs, p.StopStreaming())
		}
	}

	if d.Enabled != p.Enabled() {
		errs = append(errs, p.SetEnabled(ctx, d.Enabled))
	}
	return errors.Join(errs...)
}
