package gpu

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"sort"
	"time"

	"golang.org/x/image/draw"

	"github.com/smazurov/livenode/internal/media"
	"github.com/smazurov/livenode/internal/planes"
)

// ErrUnknownProgram is returned when a program name has no implementation.
var ErrUnknownProgram = errors.New("unknown shader program")

// shaders maps program names to their fragment stage.
var shaders = map[string]func(dst *image.RGBA, src *image.YCbCr){
	"passthrough": passthrough,
	"grayscale":   grayscale,
}

// Programs lists the programs the software backend can compile.
func Programs() []string {
	names := make([]string, 0, len(shaders))
	for name := range shaders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Software is a CPU rasterizer backend rendering into an RGBA target.
type Software struct {
	scaler draw.Scaler
}

// NewSoftware creates the software backend. Frames are scaled with
// bilinear filtering when their size differs from the surface.
func NewSoftware() *Software {
	return &Software{scaler: draw.BiLinear}
}

func (b *Software) Name() string { return "software" }

func (b *Software) NewContext(surface media.Surface) (Context, error) {
	if surface == nil {
		return nil, errors.New("nil surface")
	}
	w, h := surface.Size()
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("invalid surface size %dx%d", w, h)
	}
	return &softContext{
		surface: surface,
		target:  image.NewRGBA(image.Rect(0, 0, w, h)),
		scaler:  b.scaler,
	}, nil
}

type softContext struct {
	surface  media.Surface
	target   *image.RGBA
	scaler   draw.Scaler
	released bool
}

func (c *softContext) NewTexture(width, height int) (Texture, error) {
	if c.released {
		return nil, errors.New("context released")
	}
	return &softTexture{}, nil
}

func (c *softContext) NewProgram(name string) (Program, error) {
	if c.released {
		return nil, errors.New("context released")
	}
	fn, ok := shaders[name]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownProgram, name)
	}
	return &softProgram{name: name, ctx: c, fragment: fn}, nil
}

func (c *softContext) SwapBuffers(pts time.Duration) error {
	if c.released {
		return errors.New("context released")
	}
	return c.surface.Present(c.target, pts)
}

func (c *softContext) Release() error {
	c.released = true
	c.target = nil
	return nil
}

type softTexture struct {
	img *image.YCbCr
}

// Upload keeps a view of the packed frame; the frame is immutable after
// hand-off so no copy is needed.
func (t *softTexture) Upload(frame media.Frame) error {
	buf := frame.Packed()
	if buf == nil {
		return fmt.Errorf("%w: texture needs packed I420, got %s", media.ErrUnsupportedFormat, frame.Format)
	}
	img, err := planes.ToImage(buf, frame.Width, frame.Height)
	if err != nil {
		return err
	}
	t.img = img
	return nil
}

func (t *softTexture) Release() error {
	t.img = nil
	return nil
}

type softProgram struct {
	name     string
	ctx      *softContext
	fragment func(dst *image.RGBA, src *image.YCbCr)
}

func (p *softProgram) Name() string { return p.name }

func (p *softProgram) Draw(tex Texture) error {
	st, ok := tex.(*softTexture)
	if !ok || st.img == nil {
		return errors.New("texture has no image")
	}
	src := st.img
	if src.Bounds().Size() != p.ctx.target.Bounds().Size() {
		scaled := image.NewYCbCr(p.ctx.target.Bounds(), image.YCbCrSubsampleRatio420)
		scaleYCbCr(p.ctx.scaler, scaled, src)
		src = scaled
	}
	p.fragment(p.ctx.target, src)
	return nil
}

func (p *softProgram) Release() error { return nil }

func passthrough(dst *image.RGBA, src *image.YCbCr) {
	draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, draw.Src)
}

func grayscale(dst *image.RGBA, src *image.YCbCr) {
	b := dst.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			l := src.Y[src.YOffset(x, y)]
			dst.SetRGBA(x, y, color.RGBA{R: l, G: l, B: l, A: 0xFF})
		}
	}
}

// scaleYCbCr scales each plane independently so the result stays 4:2:0.
func scaleYCbCr(s draw.Scaler, dst, src *image.YCbCr) {
	plane := func(pix []byte, stride int, r image.Rectangle) *image.Gray {
		return &image.Gray{Pix: pix, Stride: stride, Rect: r}
	}
	cRect := func(r image.Rectangle) image.Rectangle {
		return image.Rect(0, 0, (r.Dx()+1)/2, (r.Dy()+1)/2)
	}
	sr, dr := src.Rect, dst.Rect
	s.Scale(plane(dst.Y, dst.YStride, dr), dr, plane(src.Y, src.YStride, sr), sr, draw.Src, nil)
	s.Scale(plane(dst.Cb, dst.CStride, cRect(dr)), cRect(dr), plane(src.Cb, src.CStride, cRect(sr)), cRect(sr), draw.Src, nil)
	s.Scale(plane(dst.Cr, dst.CStride, cRect(dr)), cRect(dr), plane(src.Cr, src.CStride, cRect(sr)), cRect(sr), draw.Src, nil)
}
