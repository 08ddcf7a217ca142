package metrics

import (
	"sync"
	"testing"
)

func TestEncoderProgressCache(t *testing.T) {
	encoder := "h264_vaapi-test"

	// Clean state
	DeleteEncoderMetrics(encoder)

	// Initially should return nil
	if m := GetEncoderProgress(encoder); m != nil {
		t.Error("expected nil for unknown encoder")
	}

	// Set metrics
	SetEncoderFPS(encoder, 30.0)
	SetEncoderDroppedFrames(encoder, 5)
	SetEncoderDuplicateFrames(encoder, 2)
	SetEncoderSpeed(encoder, 1.5)

	// Verify cached values
	m := GetEncoderProgress(encoder)
	if m == nil {
		t.Fatal("expected non-nil metrics")
	}
	if m.FPS != 30.0 {
		t.Errorf("FPS = %v, want 30.0", m.FPS)
	}
	if m.DroppedFrames != 5 {
		t.Errorf("DroppedFrames = %v, want 5", m.DroppedFrames)
	}
	if m.DuplicateFrames != 2 {
		t.Errorf("DuplicateFrames = %v, want 2", m.DuplicateFrames)
	}
	if m.Speed != 1.5 {
		t.Errorf("Speed = %v, want 1.5", m.Speed)
	}

	// Verify returned copy is independent
	m.FPS = 999
	m2 := GetEncoderProgress(encoder)
	if m2.FPS != 30.0 {
		t.Errorf("cache was modified, FPS = %v, want 30.0", m2.FPS)
	}

	// Clean up
	DeleteEncoderMetrics(encoder)
	if deleted := GetEncoderProgress(encoder); deleted != nil {
		t.Error("expected nil after delete")
	}
}

func TestGetAllEncoderProgress(t *testing.T) {
	// Clean state
	DeleteEncoderMetrics("h264_nvenc-test")
	DeleteEncoderMetrics("libx264-test")

	SetEncoderFPS("h264_nvenc-test", 25.0)
	SetEncoderFPS("libx264-test", 60.0)

	all := GetAllEncoderProgress()
	if len(all) < 2 {
		t.Fatalf("expected at least 2 encoders, got %d", len(all))
	}

	if all["h264_nvenc-test"] == nil || all["h264_nvenc-test"].FPS != 25.0 {
		t.Errorf("h264_nvenc FPS = %v, want 25.0", all["h264_nvenc-test"])
	}
	if all["libx264-test"] == nil || all["libx264-test"].FPS != 60.0 {
		t.Errorf("libx264 FPS = %v, want 60.0", all["libx264-test"])
	}

	// Verify returned map is independent
	all["h264_nvenc-test"].FPS = 999
	fresh := GetAllEncoderProgress()
	if fresh["h264_nvenc-test"].FPS != 25.0 {
		t.Errorf("cache was modified")
	}

	DeleteEncoderMetrics("h264_nvenc-test")
	DeleteEncoderMetrics("libx264-test")
}

func TestEncoderProgressConcurrency(t *testing.T) {
	encoder := "concurrent-encoder"
	DeleteEncoderMetrics(encoder)

	var wg sync.WaitGroup
	for i := range 100 {
		wg.Add(1)
		go func(val float64) {
			defer wg.Done()
			SetEncoderFPS(encoder, val)
			SetEncoderDroppedFrames(encoder, val)
			_ = GetEncoderProgress(encoder)
			_ = GetAllEncoderProgress()
		}(float64(i))
	}
	wg.Wait()

	// Should not panic, final value is indeterminate
	m := GetEncoderProgress(encoder)
	if m == nil {
		t.Error("expected non-nil metrics after concurrent access")
	}

	DeleteEncoderMetrics(encoder)
}
