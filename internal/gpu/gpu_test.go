package gpu

import (
	"errors"
	"image"
	"image/color"
	"strings"
	"testing"
	"time"

	"github.com/smazurov/livenode/internal/media"
)

type captureSurface struct {
	w, h     int
	last     *image.RGBA
	pts      []time.Duration
	released bool
}

func (s *captureSurface) Size() (int, int) { return s.w, s.h }

func (s *captureSurface) Present(img image.Image, pts time.Duration) error {
	rgba, ok := img.(*image.RGBA)
	if !ok {
		return errors.New("expected RGBA")
	}
	cp := *rgba
	cp.Pix = append([]byte(nil), rgba.Pix...)
	s.last = &cp
	s.pts = append(s.pts, pts)
	return nil
}

func (s *captureSurface) Release() error {
	s.released = true
	return nil
}

// solidFrame returns packed I420 filled with one YCbCr value.
func solidFrame(w, h int, y, cb, cr byte, ts time.Duration) media.Frame {
	buf := make([]byte, media.I420Size(w, h))
	ySize := w * h
	cSize := media.ChromaWidth(w) * media.ChromaHeight(h)
	for i := range buf {
		switch {
		case i < ySize:
			buf[i] = y
		case i < ySize+cSize:
			buf[i] = cb
		default:
			buf[i] = cr
		}
	}
	return media.NewI420Frame(buf, w, h, ts)
}

func TestSoftwarePassthrough(t *testing.T) {
	surface := &captureSurface{w: 16, h: 8}
	c, err := NewCompositor(NewSoftware(), surface, "passthrough")
	if err != nil {
		t.Fatalf("NewCompositor: %v", err)
	}
	defer c.Release()

	// pure red in BT.601
	yy, cb, cr := color.RGBToYCbCr(255, 0, 0)
	if err := c.Draw(solidFrame(16, 8, yy, cb, cr, 40*time.Millisecond)); err != nil {
		t.Fatalf("Draw: %v", err)
	}

	if len(surface.pts) != 1 || surface.pts[0] != 40*time.Millisecond {
		t.Fatalf("presented pts = %v", surface.pts)
	}
	px := surface.last.RGBAAt(3, 3)
	if px.R < 240 || px.G > 15 || px.B > 15 {
		t.Errorf("center pixel = %+v, want red", px)
	}
	if c.Drawn() != 1 {
		t.Errorf("drawn = %d", c.Drawn())
	}
}

func TestSoftwareGrayscaleAndScaling(t *testing.T) {
	surface := &captureSurface{w: 32, h: 16}
	c, err := NewCompositor(NewSoftware(), surface, "grayscale")
	if err != nil {
		t.Fatalf("NewCompositor: %v", err)
	}
	defer c.Release()

	// half-size frame forces the scaling path
	if err := c.Draw(solidFrame(16, 8, 100, 40, 200, 0)); err != nil {
		t.Fatalf("Draw: %v", err)
	}
	if b := surface.last.Bounds(); b.Dx() != 32 || b.Dy() != 16 {
		t.Fatalf("target bounds = %v", b)
	}
	px := surface.last.RGBAAt(20, 10)
	if px.R != 100 || px.G != 100 || px.B != 100 {
		t.Errorf("pixel = %+v, want gray 100", px)
	}
}

func TestUnknownProgramIsConfigurationError(t *testing.T) {
	_, err := NewCompositor(NewSoftware(), &captureSurface{w: 4, h: 4}, "sepia")
	if !errors.Is(err, media.ErrConfiguration) || !errors.Is(err, ErrUnknownProgram) {
		t.Errorf("err = %v", err)
	}
}

func TestPrograms(t *testing.T) {
	if got := strings.Join(Programs(), ","); got != "grayscale,passthrough" {
		t.Errorf("Programs = %s", got)
	}
}

func TestDrawRejectsUnpackedFrame(t *testing.T) {
	c, err := NewCompositor(NewSoftware(), &captureSurface{w: 4, h: 4}, "passthrough")
	if err != nil {
		t.Fatal(err)
	}
	defer c.Release()

	frame := media.Frame{Width: 4, Height: 4, Format: media.PixelFormatNV12}
	if err := c.Draw(frame); media.KindOf(err) != media.KindFrame {
		t.Errorf("err = %v, want frame error", err)
	}
}

// recordingBackend logs acquire and release calls.
type recordingBackend struct {
	log         []string
	failProgram bool
	failTexture bool
}

type recCtx struct{ b *recordingBackend }
type recTex struct{ b *recordingBackend }
type recProg struct{ b *recordingBackend }

func (b *recordingBackend) Name() string { return "recording" }
func (b *recordingBackend) NewContext(media.Surface) (Context, error) {
	b.log = append(b.log, "context")
	return &recCtx{b}, nil
}
func (c *recCtx) NewTexture(int, int) (Texture, error) {
	if c.b.failTexture {
		return nil, errors.New("no texture")
	}
	c.b.log = append(c.b.log, "texture")
	return &recTex{c.b}, nil
}
func (c *recCtx) NewProgram(string) (Program, error) {
	if c.b.failProgram {
		return nil, errors.New("link failed")
	}
	c.b.log = append(c.b.log, "program")
	return &recProg{c.b}, nil
}
func (c *recCtx) SwapBuffers(time.Duration) error { return nil }
func (c *recCtx) Release() error {
	c.b.log = append(c.b.log, "release context")
	return nil
}
func (t *recTex) Upload(media.Frame) error { return nil }
func (t *recTex) Release() error {
	t.b.log = append(t.b.log, "release texture")
	return nil
}
func (p *recProg) Name() string       { return "rec" }
func (p *recProg) Draw(Texture) error { return nil }
func (p *recProg) Release() error {
	p.b.log = append(p.b.log, "release program")
	return nil
}

func TestReleaseOrder(t *testing.T) {
	b := &recordingBackend{}
	c, err := NewCompositor(b, &captureSurface{w: 2, h: 2}, "any")
	if err != nil {
		t.Fatal(err)
	}
	_ = c.Release()
	_ = c.Release()

	want := "context,program,texture,release texture,release program,release context"
	if got := strings.Join(b.log, ","); got != want {
		t.Errorf("log = %s\nwant  %s", got, want)
	}
	if err := c.Draw(media.Frame{}); !errors.Is(err, media.ErrSessionClosed) {
		t.Errorf("draw after release err = %v", err)
	}
}

func TestPartialAcquisitionReleased(t *testing.T) {
	b := &recordingBackend{failTexture: true}
	if _, err := NewCompositor(b, &captureSurface{w: 2, h: 2}, "any"); err == nil {
		t.Fatal("expected error")
	}
	want := "context,program,release program,release context"
	if got := strings.Join(b.log, ","); got != want {
		t.Errorf("log = %s\nwant  %s", got, want)
	}

	b = &recordingBackend{failProgram: true}
	if _, err := NewCompositor(b, &captureSurface{w: 2, h: 2}, "any"); err == nil {
		t.Fatal("expected error")
	}
	if got := strings.Join(b.log, ","); got != "context,release context" {
		t.Errorf("log = %s", got)
	}
}
