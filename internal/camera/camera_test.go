package camera

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/livenode/internal/media"
	"github.com/smazurov/livenode/internal/planes"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type collector struct {
	mu     sync.Mutex
	frames []media.Frame
}

func (c *collector) add(f media.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, f)
}

func (c *collector) snapshot() []media.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]media.Frame(nil), c.frames...)
}

func TestSyntheticDeliversInOrder(t *testing.T) {
	cam := NewSynthetic(SyntheticConfig{Width: 32, Height: 16, FPS: 100, Limit: 10}, testLogger())
	var got collector
	cam.SetCallback(got.add)

	if err := cam.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case <-cam.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("camera did not reach its frame limit")
	}
	_ = cam.Stop()

	frames := got.snapshot()
	if len(frames) != 10 {
		t.Fatalf("got %d frames, want 10", len(frames))
	}
	for i, f := range frames {
		if f.Seq != uint64(i+1) {
			t.Errorf("frame %d seq = %d", i, f.Seq)
		}
		if i > 0 && f.Timestamp <= frames[i-1].Timestamp {
			t.Errorf("frame %d timestamp %v not after %v", i, f.Timestamp, frames[i-1].Timestamp)
		}
	}
}

func TestSyntheticReportsCaptureFailure(t *testing.T) {
	cam := NewSynthetic(SyntheticConfig{Width: 8, Height: 8, FPS: 200, FailAfter: 5}, testLogger())
	var got collector
	cam.SetCallback(got.add)
	errc := make(chan error, 1)
	cam.SetErrorCallback(func(err error) { errc <- err })

	if err := cam.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer cam.Stop()
	select {
	case err := <-errc:
		if !errors.Is(err, ErrCaptureFailed) {
			t.Errorf("error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no capture failure reported")
	}
	<-cam.Done()
	if n := len(got.snapshot()); n != 5 {
		t.Errorf("got %d frames before failure, want 5", n)
	}
}

func TestSyntheticFramesExtract(t *testing.T) {
	tests := []struct {
		name string
		cfg  SyntheticConfig
		slow bool
	}{
		{"packed", SyntheticConfig{Width: 16, Height: 8}, false},
		{"padded", SyntheticConfig{Width: 16, Height: 8, RowPadding: 16}, true},
		{"semi-planar", SyntheticConfig{Width: 16, Height: 8, SemiPlanar: true}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cam := NewSynthetic(tt.cfg, testLogger())
			x := planes.NewExtractor()
			out, err := x.Extract(cam.frame(3, 0))
			if err != nil {
				t.Fatalf("Extract: %v", err)
			}
			if got := len(out.Packed()); got != 16*8*3/2 {
				t.Errorf("packed size = %d", got)
			}
			if (x.SlowPath() > 0) != tt.slow {
				t.Errorf("slow path count = %d", x.SlowPath())
			}
			// luma pattern survives repacking
			if out.Packed()[16*2+5] != byte(5+2+3) {
				t.Errorf("luma(5,2) = %d", out.Packed()[16*2+5])
			}
		})
	}
}

func TestSyntheticUnsupportedInjection(t *testing.T) {
	cam := NewSynthetic(SyntheticConfig{Width: 8, Height: 8, UnsupportedAt: 2}, testLogger())
	if f := cam.frame(2, 0); f.Format != media.PixelFormatRGBA {
		t.Errorf("frame 2 format = %s, want RGBA", f.Format)
	}
	if f := cam.frame(3, 0); f.Format != media.PixelFormatYUV420Flexible {
		t.Errorf("frame 3 format = %s", f.Format)
	}
}

func TestSyntheticStopIdempotentAndRestart(t *testing.T) {
	cam := NewSynthetic(SyntheticConfig{Width: 8, Height: 8, FPS: 200}, testLogger())
	if err := cam.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := cam.Start(context.Background()); err == nil {
		t.Error("second Start should fail while running")
	}
	_ = cam.Stop()
	_ = cam.Stop()
	if err := cam.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	_ = cam.Stop()
}

func TestSyntheticCallbackSwap(t *testing.T) {
	cam := NewSynthetic(SyntheticConfig{Width: 8, Height: 8}, testLogger())
	if cam.slot.deliver(media.Frame{}) {
		t.Error("deliver without callback should report false")
	}
	var n int
	cam.SetCallback(func(media.Frame) { n++ })
	cam.slot.deliver(media.Frame{})
	cam.SetCallback(nil)
	cam.slot.deliver(media.Frame{})
	if n != 1 {
		t.Errorf("callback ran %d times, want 1", n)
	}
}

func TestFFmpegTestPattern(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}
	cam := NewFFmpeg(DeviceConfig{TestPattern: true, Width: 64, Height: 48, FPS: 30}, testLogger())
	var got collector
	cam.SetCallback(got.add)
	if err := cam.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	deadline := time.Now().Add(10 * time.Second)
	for len(got.snapshot()) < 3 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	_ = cam.Stop()

	frames := got.snapshot()
	if len(frames) < 3 {
		t.Skipf("ffmpeg produced %d frames (lavfi unavailable?)", len(frames))
	}
	if f := frames[0]; f.Format != media.PixelFormatI420 || len(f.Packed()) != 64*48*3/2 {
		t.Errorf("frame = %s %dx%d", f.Format, f.Width, f.Height)
	}
}
