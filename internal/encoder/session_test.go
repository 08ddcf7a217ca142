package encoder

import (
	"context"
	"errors"
	"image"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/smazurov/livenode/internal/codec"
	"github.com/smazurov/livenode/internal/media"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(input media.InputStrategy) media.Config {
	return media.Config{
		Width:            64,
		Height:           48,
		FPS:              10,
		Bitrate:          500_000,
		KeyframeInterval: time.Second,
		Input:            input,
	}
}

func startSession(t *testing.T, opts codec.SyntheticOptions, input media.InputStrategy) (*Session, *codec.Synthetic) {
	t.Helper()
	var created *codec.Synthetic
	s, err := Start(context.Background(), codec.SyntheticFactory(opts, func(c *codec.Synthetic) { created = c }), testConfig(input), testLogger())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = s.Stop() })
	return s, created
}

func drainAll(t *testing.T, s *Session) []DrainResult {
	t.Helper()
	var results []DrainResult
	for {
		r, err := s.Drain(0)
		if err != nil {
			t.Fatalf("Drain: %v", err)
		}
		if r.Kind == NoData {
			return results
		}
		results = append(results, r)
		if r.Kind == AccessUnit {
			r.Unit.Release()
		}
	}
}

func TestStartStrategies(t *testing.T) {
	tests := []struct {
		name      string
		input     media.InputStrategy
		noSurface bool
		want      media.InputStrategy
	}{
		{"surface", media.InputSurface, false, media.InputSurface},
		{"buffer", media.InputBuffer, false, media.InputBuffer},
		{"auto prefers surface", media.InputAuto, false, media.InputSurface},
		{"auto falls back to buffer", media.InputAuto, true, media.InputBuffer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := startSession(t, codec.SyntheticOptions{NoSurface: tt.noSurface}, tt.input)
			if got := s.Input().Kind(); got != tt.want {
				t.Errorf("strategy = %s, want %s", got, tt.want)
			}
			if (s.Surface() != nil) != (tt.want == media.InputSurface) {
				t.Errorf("Surface() presence does not match strategy %s", tt.want)
			}
		})
	}
}

func TestStartSurfaceUnsupportedReleasesCodec(t *testing.T) {
	var created *codec.Synthetic
	factory := codec.SyntheticFactory(codec.SyntheticOptions{NoSurface: true}, func(c *codec.Synthetic) { created = c })

	_, err := Start(context.Background(), factory, testConfig(media.InputSurface), testLogger())
	if !errors.Is(err, media.ErrConfiguration) {
		t.Fatalf("err = %v, want configuration error", err)
	}
	if created.Released() != 1 {
		t.Errorf("codec released %d times, want 1", created.Released())
	}
}

func TestStartFailures(t *testing.T) {
	noEncoder := func(context.Context, media.Config) (codec.Codec, error) {
		return nil, errors.New("no device")
	}
	_, err := Start(context.Background(), noEncoder, testConfig(media.InputBuffer), testLogger())
	if media.KindOf(err) != media.KindResourceExhaustion {
		t.Errorf("factory failure kind = %v, want ResourceExhaustion", media.KindOf(err))
	}

	cfg := testConfig(media.InputBuffer)
	cfg.FPS = 1000
	_, err = Start(context.Background(), codec.SyntheticFactory(codec.SyntheticOptions{}, nil), cfg, testLogger())
	if media.KindOf(err) != media.KindConfiguration {
		t.Errorf("invalid config kind = %v, want Configuration", media.KindOf(err))
	}
}

func TestSubmitModes(t *testing.T) {
	surface, _ := startSession(t, codec.SyntheticOptions{}, media.InputSurface)
	if err := surface.Submit(make([]byte, 10), 0); !errors.Is(err, media.ErrWrongInputMode) {
		t.Errorf("submit in surface mode err = %v", err)
	}

	buffer, _ := startSession(t, codec.SyntheticOptions{}, media.InputBuffer)
	err := buffer.Submit(make([]byte, media.I420Size(64, 48)+1), 0)
	if !errors.Is(err, media.ErrInputTooLarge) || media.KindOf(err) != media.KindFrame {
		t.Errorf("oversized submit err = %v", err)
	}
	if err := buffer.Submit(make([]byte, media.I420Size(64, 48)), 0); err != nil {
		t.Errorf("Submit: %v", err)
	}
	if buffer.Stats().Submitted != 1 {
		t.Errorf("submitted = %d", buffer.Stats().Submitted)
	}
}

func TestDrainOrdering(t *testing.T) {
	s, _ := startSession(t, codec.SyntheticOptions{}, media.InputBuffer)
	frame := make([]byte, media.I420Size(64, 48))
	for i := 0; i < 15; i++ {
		// timestamps start late and include a duplicate to exercise rebasing
		ts := time.Second + time.Duration(i)*100*time.Millisecond
		if i == 5 {
			ts -= 100 * time.Millisecond
		}
		if err := s.Submit(frame, ts); err != nil {
			t.Fatal(err)
		}
	}

	results := drainAll(t, s)
	if len(results) != 17 {
		t.Fatalf("got %d results, want 17", len(results))
	}
	if results[0].Kind != FormatChanged {
		t.Errorf("first result = %s, want format_changed", results[0].Kind)
	}
	if !results[1].Unit.IsConfig() {
		t.Errorf("second result flags = %v, want CONFIG", results[1].Unit.Flags)
	}
	if !results[2].Unit.IsKeyframe() {
		t.Errorf("first picture flags = %v, want KEYFRAME", results[2].Unit.Flags)
	}
	if results[2].Unit.PTS != 0 {
		t.Errorf("first picture pts = %d, want 0", results[2].Unit.PTS)
	}

	last := int64(-1)
	for i, r := range results[2:] {
		if r.Unit.PTS <= last {
			t.Errorf("picture %d pts %d not after %d", i, r.Unit.PTS, last)
		}
		last = r.Unit.PTS
		if r.Unit.Seq != uint64(i+1) {
			t.Errorf("picture %d seq = %d", i, r.Unit.Seq)
		}
	}
	if st := s.Stats(); st.Keyframes != 2 || st.Units != 16 {
		t.Errorf("stats = %+v", st)
	}
}

func TestLeadingDeltasDropped(t *testing.T) {
	s, c := startSession(t, codec.SyntheticOptions{LeadingDeltas: 3}, media.InputBuffer)
	frame := make([]byte, media.I420Size(64, 48))
	for i := 0; i < 6; i++ {
		if err := s.Submit(frame, time.Duration(i)*100*time.Millisecond); err != nil {
			t.Fatal(err)
		}
	}

	var flags []media.UnitFlags
	for _, r := range drainAll(t, s) {
		if r.Kind == AccessUnit {
			flags = append(flags, r.Unit.Flags)
		}
	}
	if len(flags) < 2 || flags[0] != media.FlagConfig || flags[1] != media.FlagKeyframe {
		t.Fatalf("flags = %v, want CONFIG then KEYFRAME first", flags)
	}
	if got := s.Stats().DroppedLeading; got != 3 {
		t.Errorf("dropped leading = %d, want 3", got)
	}
	if c.KeyframeRequests() != 3 {
		t.Errorf("keyframe requests = %d, want 3", c.KeyframeRequests())
	}
	if c.Outstanding() != 0 {
		t.Errorf("outstanding buffers = %d", c.Outstanding())
	}
}

func TestZeroTimeoutDrainSkipsRejectedOutputs(t *testing.T) {
	s, _ := startSession(t, codec.SyntheticOptions{LeadingDeltas: 2}, media.InputBuffer)
	frame := make([]byte, media.I420Size(64, 48))
	for i := 0; i < 4; i++ {
		if err := s.Submit(frame, time.Duration(i)*100*time.Millisecond); err != nil {
			t.Fatal(err)
		}
	}

	want := []string{"format_changed", "CONFIG", "KEYFRAME"}
	for i, w := range want {
		r, err := s.Drain(0)
		if err != nil {
			t.Fatalf("Drain %d: %v", i, err)
		}
		got := r.Kind.String()
		if r.Kind == AccessUnit {
			got = r.Unit.Flags.String()
			r.Unit.Release()
		}
		if got != w {
			t.Fatalf("Drain %d = %s, want %s", i, got, w)
		}
	}
}

func TestDrainTimeoutBound(t *testing.T) {
	s, _ := startSession(t, codec.SyntheticOptions{}, media.InputBuffer)
	for i := 0; i < 5; i++ {
		start := time.Now()
		r, err := s.Drain(10 * time.Millisecond)
		if err != nil {
			t.Fatal(err)
		}
		if r.Kind != NoData {
			t.Fatalf("unexpected %s", r.Kind)
		}
		if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
			t.Errorf("Drain(10ms) took %v", elapsed)
		}
	}
}

func TestSurfacePresentCounts(t *testing.T) {
	s, c := startSession(t, codec.SyntheticOptions{}, media.InputSurface)
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	if err := s.Surface().Present(img, 0); err != nil {
		t.Fatalf("Present: %v", err)
	}
	if s.Stats().Submitted != 1 || c.Frames() != 1 {
		t.Errorf("submitted=%d frames=%d", s.Stats().Submitted, c.Frames())
	}
}

func TestStopIdempotent(t *testing.T) {
	s, c := startSession(t, codec.SyntheticOptions{}, media.InputBuffer)
	for i := 0; i < 3; i++ {
		if err := s.Stop(); err != nil {
			t.Fatalf("Stop %d: %v", i, err)
		}
	}
	if c.Released() != 1 {
		t.Errorf("codec released %d times, want 1", c.Released())
	}
	if _, err := s.Drain(0); !errors.Is(err, media.ErrSessionClosed) {
		t.Errorf("drain after stop err = %v", err)
	}
	if err := s.Submit(nil, 0); !errors.Is(err, media.ErrSessionClosed) {
		t.Errorf("submit after stop err = %v", err)
	}
}

func TestFatalCodecErrorSurfaces(t *testing.T) {
	s, _ := startSession(t, codec.SyntheticOptions{FailAfter: 1}, media.InputBuffer)
	_ = s.Submit(make([]byte, media.I420Size(64, 48)), 0)
	if _, err := s.Drain(time.Millisecond); !errors.Is(err, media.ErrCodecFailed) {
		t.Errorf("err = %v, want codec failure", err)
	}
}
