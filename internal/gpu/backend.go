// Package gpu composites camera frames into an encoder input surface.
//
// A Backend creates a rendering Context bound to one media.Surface. The
// context owns textures and shader programs; SwapBuffers presents the
// render target to the surface with a timestamp. Contexts are bound to the
// goroutine that uses them, which must be locked to its OS thread when the
// backend is a real graphics API.
package gpu

import (
	"time"

	"github.com/smazurov/livenode/internal/media"
)

// Backend creates rendering contexts.
type Backend interface {
	Name() string
	NewContext(surface media.Surface) (Context, error)
}

// Context is a rendering context bound to one surface.
type Context interface {
	// NewTexture creates an external texture fed with camera frames.
	NewTexture(width, height int) (Texture, error)
	// NewProgram compiles and links the named shader program.
	NewProgram(name string) (Program, error)
	// SwapBuffers presents the render target to the surface.
	SwapBuffers(pts time.Duration) error
	Release() error
}

// Texture holds the most recent camera frame.
type Texture interface {
	Upload(frame media.Frame) error
	Release() error
}

// Program draws a texture onto the context's render target.
type Program interface {
	Name() string
	Draw(tex Texture) error
	Release() error
}
