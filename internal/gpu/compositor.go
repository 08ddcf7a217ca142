package gpu

import (
	"errors"
	"fmt"
	"sync"

	"github.com/smazurov/livenode/internal/media"
)

// Compositor draws frames into an encoder surface with one shader program.
type Compositor struct {
	ctx     Context
	program Program
	texture Texture

	mu       sync.Mutex
	released bool
	drawn    uint64
}

// NewCompositor acquires a context bound to surface, then the program, then
// the texture. Any failure releases what was acquired and returns a
// configuration error.
func NewCompositor(backend Backend, surface media.Surface, shader string) (*Compositor, error) {
	ctx, err := backend.NewContext(surface)
	if err != nil {
		return nil, media.NewError(media.KindConfiguration, "create gpu context", err)
	}

	program, err := ctx.NewProgram(shader)
	if err != nil {
		_ = ctx.Release()
		return nil, media.NewError(media.KindConfiguration, "compile program", err)
	}

	w, h := surface.Size()
	texture, err := ctx.NewTexture(w, h)
	if err != nil {
		_ = program.Release()
		_ = ctx.Release()
		return nil, media.NewError(media.KindConfiguration, "create texture", err)
	}

	return &Compositor{ctx: ctx, program: program, texture: texture}, nil
}

// Draw uploads a packed I420 frame, runs the program and swaps into the
// encoder surface stamped with the frame timestamp.
func (c *Compositor) Draw(frame media.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.released {
		return media.NewError(media.KindStateViolation, "draw", media.ErrSessionClosed)
	}
	if err := c.texture.Upload(frame); err != nil {
		return media.NewError(media.KindFrame, "upload texture", err)
	}
	if err := c.program.Draw(c.texture); err != nil {
		return fmt.Errorf("draw: %w", err)
	}
	if err := c.ctx.SwapBuffers(frame.Timestamp); err != nil {
		return fmt.Errorf("swap buffers: %w", err)
	}
	c.drawn++
	return nil
}

// Drawn returns the number of frames swapped into the surface.
func (c *Compositor) Drawn() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.drawn
}

// Program returns the shader program name.
func (c *Compositor) Program() string { return c.program.Name() }

// Release frees texture, program and context, in that order. Idempotent.
func (c *Compositor) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.released {
		return nil
	}
	c.released = true
	return errors.Join(c.texture.Release(), c.program.Release(), c.ctx.Release())
}
