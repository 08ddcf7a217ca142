package planes

import (
	"bytes"
	"image"
	"image/color"
	"testing"
)

func TestToImageFromImageRoundTrip(t *testing.T) {
	const w, h = 8, 6
	buf := make([]byte, w*h*3/2)
	for i := range buf {
		buf[i] = byte(i * 7)
	}

	img, err := ToImage(buf, w, h)
	if err != nil {
		t.Fatalf("ToImage: %v", err)
	}
	if img.Bounds().Dx() != w || img.Bounds().Dy() != h {
		t.Fatalf("bounds = %v", img.Bounds())
	}

	out := FromImage(img, nil)
	if !bytes.Equal(out, buf) {
		t.Error("YCbCr round trip changed bytes")
	}
}

func TestToImageShortBuffer(t *testing.T) {
	if _, err := ToImage(make([]byte, 10), 8, 6); err == nil {
		t.Error("expected error for short buffer")
	}
}

func TestFromImageRGBA(t *testing.T) {
	const w, h = 4, 4
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 255, G: 255, B: 255, A: 255})
		}
	}

	dst := make([]byte, 0, 64)
	out := FromImage(img, dst)
	if len(out) != w*h*3/2 {
		t.Fatalf("len = %d", len(out))
	}
	if &out[0] != &dst[:1][0] {
		t.Error("expected dst to be reused")
	}
	for i := 0; i < w*h; i++ {
		if out[i] != 255 {
			t.Fatalf("white luma = %d at %d", out[i], i)
		}
	}
	for i := w * h; i < len(out); i++ {
		if out[i] != 128 {
			t.Fatalf("white chroma = %d at %d", out[i], i)
		}
	}
}
