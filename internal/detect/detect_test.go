package detect

import (
	"context"
	"errors"
	"image"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/livenode/internal/events"
	"github.com/smazurov/livenode/internal/media"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// frameWithSquares returns a dark I420 frame with bright squares.
func frameWithSquares(w, h int, squares ...image.Rectangle) media.Frame {
	buf := make([]byte, media.I420Size(w, h))
	for i := range w * h {
		buf[i] = 16
	}
	for _, r := range squares {
		for y := r.Min.Y; y < r.Max.Y; y++ {
			for x := r.Min.X; x < r.Max.X; x++ {
				buf[y*w+x] = 235
			}
		}
	}
	return media.NewI420Frame(buf, w, h, 0)
}

func TestLumaFindsRegions(t *testing.T) {
	f := frameWithSquares(320, 240,
		image.Rect(16, 16, 80, 64),
		image.Rect(200, 120, 232, 152),
		image.Rect(300, 220, 304, 224), // below MinPixels
	)

	boxes, err := NewLuma(Config{Threshold: 128, MinPixels: 64, Step: 4}).Detect(context.Background(), f)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(boxes) != 2 {
		t.Fatalf("got %d boxes, want 2: %+v", len(boxes), boxes)
	}
	if boxes[0].Rect != image.Rect(16, 16, 80, 64) {
		t.Errorf("largest box = %v", boxes[0].Rect)
	}
	if boxes[1].Rect != image.Rect(200, 120, 232, 152) {
		t.Errorf("second box = %v", boxes[1].Rect)
	}
	if c := boxes[0].Confidence; c < 0.9 || c > 1 {
		t.Errorf("confidence = %f", c)
	}
}

func TestLumaEmptyAndInvalid(t *testing.T) {
	l := NewLuma(Config{})

	boxes, err := l.Detect(context.Background(), frameWithSquares(64, 48))
	if err != nil || len(boxes) != 0 {
		t.Errorf("dark frame: boxes=%v err=%v", boxes, err)
	}

	rgba := media.Frame{Width: 4, Height: 4, Format: media.PixelFormatRGBA, Planes: []media.Plane{{Data: make([]byte, 64), RowStride: 16, PixelStride: 4}}}
	if _, err := l.Detect(context.Background(), rgba); !errors.Is(err, media.ErrUnsupportedFormat) {
		t.Errorf("rgba err = %v", err)
	}

	short := frameWithSquares(64, 48)
	short.Planes[0].Data = short.Planes[0].Data[:100]
	if _, err := l.Detect(context.Background(), short); !errors.Is(err, media.ErrFrameTooSmall) {
		t.Errorf("short err = %v", err)
	}
}

type recordingBus struct {
	mu     sync.Mutex
	events []events.DetectionEvent
	got    chan struct{}
}

func (b *recordingBus) Publish(ev events.Event) {
	if d, ok := ev.(events.DetectionEvent); ok {
		b.mu.Lock()
		b.events = append(b.events, d)
		b.mu.Unlock()
		select {
		case b.got <- struct{}{}:
		default:
		}
	}
}

type blockingDetector struct {
	release chan struct{}
	mu      sync.Mutex
	seqs    []uint64
}

func (d *blockingDetector) Name() string { return "blocking" }

func (d *blockingDetector) Detect(ctx context.Context, f media.Frame) ([]Box, error) {
	select {
	case <-d.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	d.mu.Lock()
	d.seqs = append(d.seqs, f.Seq)
	d.mu.Unlock()
	return []Box{{Rect: image.Rect(0, 0, 2, 2), Confidence: 1}}, nil
}

func TestRunnerKeepsOnlyLatest(t *testing.T) {
	det := &blockingDetector{release: make(chan struct{})}
	bus := &recordingBus{got: make(chan struct{}, 8)}
	r := NewRunner(det, Config{}, bus, testLogger())
	r.interval = 0

	r.Start(context.Background())
	defer r.Stop()

	f := frameWithSquares(8, 8)
	f.Seq = 1
	r.Submit(f)
	time.Sleep(20 * time.Millisecond) // detector now blocked on frame 1

	for seq := uint64(2); seq <= 5; seq++ {
		f.Seq = seq
		r.Submit(f)
	}

	det.release <- struct{}{}
	det.release <- struct{}{}

	for range 2 {
		select {
		case <-bus.got:
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for detection event")
		}
	}

	det.mu.Lock()
	seqs := append([]uint64(nil), det.seqs...)
	det.mu.Unlock()
	if len(seqs) != 2 || seqs[0] != 1 || seqs[1] != 5 {
		t.Errorf("analysed seqs = %v, want [1 5]", seqs)
	}

	res, ok := r.Latest()
	if !ok || res.FrameSeq != 5 || res.Detector != "blocking" {
		t.Errorf("Latest = %+v, %v", res, ok)
	}

	bus.mu.Lock()
	ev := bus.events[len(bus.events)-1]
	bus.mu.Unlock()
	if ev.FrameSeq != 5 || len(ev.Boxes) != 1 || ev.Boxes[0].Width != 2 {
		t.Errorf("event = %+v", ev)
	}
}

func TestRunnerInterval(t *testing.T) {
	bus := &recordingBus{got: make(chan struct{}, 16)}
	r := NewRunner(NewLuma(Config{}), Config{Interval: time.Hour}, bus, testLogger())
	r.Start(context.Background())
	defer r.Stop()

	f := frameWithSquares(64, 48, image.Rect(0, 0, 32, 32))
	r.Submit(f)
	select {
	case <-bus.got:
	case <-time.After(2 * time.Second):
		t.Fatal("first frame not analysed")
	}

	for range 3 {
		r.Submit(f)
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)

	bus.mu.Lock()
	n := len(bus.events)
	bus.mu.Unlock()
	if n != 1 {
		t.Errorf("got %d events within interval, want 1", n)
	}
}

func TestRunnerStopIdempotent(t *testing.T) {
	r := NewRunner(NewLuma(Config{}), Config{}, nil, testLogger())
	r.Submit(frameWithSquares(8, 8)) // before Start: ignored
	r.Start(context.Background())
	r.Start(context.Background())
	r.Stop()
	r.Stop()
	r.Submit(frameWithSquares(8, 8))
	if _, ok := r.Latest(); ok {
		t.Error("no run expected")
	}
}

func TestToEvent(t *testing.T) {
	at := time.Date(2025, 1, 27, 10, 30, 0, 0, time.UTC)
	ev := ToEvent(Result{
		Detector: "luma-blob",
		FrameSeq: 9,
		Width:    640,
		Height:   480,
		Boxes:    []Box{{Rect: image.Rect(10, 20, 50, 80), Confidence: 0.5, Label: "bright"}},
		At:       at,
	})
	if ev.Timestamp != "2025-01-27T10:30:00Z" {
		t.Errorf("timestamp = %q", ev.Timestamp)
	}
	b := ev.Boxes[0]
	if b.X != 10 || b.Y != 20 || b.Width != 40 || b.Height != 60 || b.Label != "bright" {
		t.Errorf("box = %+v", b)
	}
}
