package planes

import (
	"bytes"
	"errors"
	"testing"

	"github.com/smazurov/livenode/internal/media"
)

// paddedFrame builds a three-plane frame whose rows carry padding bytes of
// 0xEE, and the packed I420 it should extract to.
func paddedFrame(w, h, yPad, cPad int) (media.Frame, []byte) {
	cw, ch := media.ChromaWidth(w), media.ChromaHeight(h)
	want := make([]byte, 0, media.I420Size(w, h))

	mk := func(pw, ph, pad int, seed byte) media.Plane {
		stride := pw + pad
		data := bytes.Repeat([]byte{0xEE}, stride*ph)
		for r := 0; r < ph; r++ {
			for c := 0; c < pw; c++ {
				val := seed + byte(r*7+c*3)
				data[r*stride+c] = val
				want = append(want, val)
			}
		}
		return media.Plane{Data: data, RowStride: stride, PixelStride: 1}
	}

	f := media.Frame{
		Width:  w,
		Height: h,
		Format: media.PixelFormatYUV420Flexible,
		Planes: []media.Plane{mk(w, h, yPad, 16), mk(cw, ch, cPad, 100), mk(cw, ch, cPad, 200)},
	}
	return f, want
}

// referenceExtract is the plain row-by-row algorithm used to check the
// optimized extractor.
func referenceExtract(f media.Frame) []byte {
	var out []byte
	dims := [][2]int{
		{f.Width, f.Height},
		{media.ChromaWidth(f.Width), media.ChromaHeight(f.Height)},
		{media.ChromaWidth(f.Width), media.ChromaHeight(f.Height)},
	}
	for i, p := range f.Planes {
		ps := p.PixelStride
		if ps == 0 {
			ps = 1
		}
		for r := 0; r < dims[i][1]; r++ {
			for c := 0; c < dims[i][0]; c++ {
				out = append(out, p.Data[r*p.RowStride+c*ps])
			}
		}
	}
	return out
}

func TestExtractPaddedMatchesReference(t *testing.T) {
	sizes := []struct{ w, h, yPad, cPad int }{
		{16, 8, 16, 8},
		{640, 480, 64, 32},
		{6, 4, 2, 6},
		{1280, 720, 128, 64},
	}
	for _, s := range sizes {
		f, want := paddedFrame(s.w, s.h, s.yPad, s.cPad)
		e := NewExtractor()
		out, err := e.Extract(f)
		if err != nil {
			t.Fatalf("%dx%d: Extract failed: %v", s.w, s.h, err)
		}
		packed := out.Packed()
		if len(packed) != s.w*s.h*3/2 {
			t.Errorf("%dx%d: output length %d, want %d", s.w, s.h, len(packed), s.w*s.h*3/2)
		}
		if !bytes.Equal(packed, want) {
			t.Errorf("%dx%d: output differs from expected samples", s.w, s.h)
		}
		if !bytes.Equal(packed, referenceExtract(f)) {
			t.Errorf("%dx%d: output differs from slow-path reference", s.w, s.h)
		}
		if e.SlowPath() != 1 {
			t.Errorf("%dx%d: SlowPath() = %d, want 1", s.w, s.h, e.SlowPath())
		}
	}
}

func TestExtractFastPath(t *testing.T) {
	w, h := 8, 4
	buf := make([]byte, media.I420Size(w, h))
	for i := range buf {
		buf[i] = byte(i)
	}
	src := media.NewI420Frame(buf, w, h, 0)
	e := NewExtractor()
	out, err := e.Extract(src)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if !bytes.Equal(out.Packed(), buf) {
		t.Error("fast path output differs from input")
	}
	if e.SlowPath() != 0 {
		t.Errorf("SlowPath() = %d, want 0", e.SlowPath())
	}
	// The output must not alias the input.
	out.Planes[0].Data[0] = 0xFF
	if buf[0] == 0xFF {
		t.Error("extractor output aliases input buffer")
	}
}

func TestExtractSemiPlanar(t *testing.T) {
	w, h := 4, 2
	y := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	uv := []byte{10, 20, 11, 21}
	for _, tt := range []struct {
		format media.PixelFormat
		wantU  []byte
		wantV  []byte
	}{
		{media.PixelFormatNV12, []byte{10, 11}, []byte{20, 21}},
		{media.PixelFormatNV21, []byte{20, 21}, []byte{10, 11}},
	} {
		f := media.Frame{
			Width: w, Height: h, Format: tt.format,
			Planes: []media.Plane{{Data: y, RowStride: w, PixelStride: 1}, {Data: uv, RowStride: w, PixelStride: 2}},
		}
		out, err := NewExtractor().Extract(f)
		if err != nil {
			t.Fatalf("%s: Extract failed: %v", tt.format, err)
		}
		if !bytes.Equal(out.Planes[1].Data, tt.wantU) || !bytes.Equal(out.Planes[2].Data, tt.wantV) {
			t.Errorf("%s: U=%v V=%v, want U=%v V=%v", tt.format, out.Planes[1].Data, out.Planes[2].Data, tt.wantU, tt.wantV)
		}
	}
}

func TestExtractPixelStrideFlexible(t *testing.T) {
	// Camera HAL style: U and V planes are views into one interleaved buffer.
	w, h := 4, 4
	y := make([]byte, w*h)
	uv := []byte{1, 9, 2, 9, 3, 9, 4, 9}
	vu := []byte{5, 9, 6, 9, 7, 9, 8}
	f := media.Frame{
		Width: w, Height: h, Format: media.PixelFormatYUV420Flexible,
		Planes: []media.Plane{
			{Data: y, RowStride: w, PixelStride: 1},
			{Data: uv, RowStride: 4, PixelStride: 2},
			{Data: vu, RowStride: 4, PixelStride: 2},
		},
	}
	out, err := NewExtractor().Extract(f)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if !bytes.Equal(out.Planes[1].Data, []byte{1, 2, 3, 4}) {
		t.Errorf("U = %v", out.Planes[1].Data)
	}
	if !bytes.Equal(out.Planes[2].Data, []byte{5, 6, 7, 8}) {
		t.Errorf("V = %v", out.Planes[2].Data)
	}
}

func TestExtractRejectsUnsupported(t *testing.T) {
	e := NewExtractor()
	_, err := e.Extract(media.Frame{Width: 4, Height: 4, Format: media.PixelFormatRGBA, Planes: []media.Plane{{Data: make([]byte, 64)}}})
	if !errors.Is(err, media.ErrFrame) || !errors.Is(err, media.ErrUnsupportedFormat) {
		t.Errorf("Extract() = %v, want frame error for unsupported format", err)
	}
	if e.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", e.Dropped())
	}
}

func TestExtractRejectsShortBuffer(t *testing.T) {
	f, _ := paddedFrame(16, 8, 0, 0)
	f.Planes[0].Data = f.Planes[0].Data[:10]
	e := NewExtractor()
	if _, err := e.Extract(f); !errors.Is(err, media.ErrFrameTooSmall) {
		t.Errorf("Extract() = %v, want ErrFrameTooSmall", err)
	}
	if e.Dropped() != 1 || e.Extracted() != 0 {
		t.Errorf("counters = dropped %d extracted %d", e.Dropped(), e.Extracted())
	}
}

func TestToNV21(t *testing.T) {
	// 2x2: Y=4 bytes, U=1, V=1
	i420 := []byte{1, 2, 3, 4, 50, 60}
	nv21, err := ToNV21(i420, 2, 2)
	if err != nil {
		t.Fatalf("ToNV21 failed: %v", err)
	}
	if !bytes.Equal(nv21, []byte{1, 2, 3, 4, 60, 50}) {
		t.Errorf("ToNV21 = %v", nv21)
	}
	nv12, err := ToNV12(i420, 2, 2)
	if err != nil {
		t.Fatalf("ToNV12 failed: %v", err)
	}
	if !bytes.Equal(nv12, []byte{1, 2, 3, 4, 50, 60}) {
		t.Errorf("ToNV12 = %v", nv12)
	}
	if _, err := ToNV12(i420[:3], 2, 2); !errors.Is(err, media.ErrFrameTooSmall) {
		t.Errorf("short input error = %v", err)
	}
}
