package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/smazurov/livenode/internal/config"
	"github.com/smazurov/livenode/internal/media"
	"github.com/smazurov/livenode/internal/pipeline"
)

func testFile(t *testing.T) config.File {
	t.Helper()
	f := config.DefaultFile()
	f.Pipeline.Width, f.Pipeline.Height, f.Pipeline.FPS = 64, 48, 50
	f.Pipeline.Input = string(media.InputBuffer)
	f.Transmit.WebRTC = false
	f.Transmit.LogEvery = 0
	f.Transmit.AnnexBFile = filepath.Join(t.TempDir(), "out.h264")
	f.Detect.Enabled = true
	return f
}

func TestRuntimeStreamsToAnnexBFile(t *testing.T) {
	file := testFile(t)
	rt, err := NewRuntime(file, RuntimeOptions{
		ValidationFile: filepath.Join(t.TempDir(), "validated.toml"),
		SyntheticCodec: true,
	})
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}

	if err := rt.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if rt.Pipeline.State() != pipeline.StateRunning {
		t.Fatalf("state = %s", rt.Pipeline.State())
	}

	deadline := time.Now().Add(3 * time.Second)
	for rt.Pipeline.Stats().Keyframes == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if err := rt.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(file.Transmit.AnnexBFile)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(data, []byte{0, 0, 0, 1}) {
		t.Errorf("file does not start with a start code: % x", data[:min(8, len(data))])
	}
	if rt.Pipeline.State() != pipeline.StateIdle {
		t.Errorf("state after close = %s", rt.Pipeline.State())
	}
}

func TestRuntimeDisabledStaysIdle(t *testing.T) {
	file := testFile(t)
	file.Pipeline.Enabled = false
	rt, err := NewRuntime(file, RuntimeOptions{SyntheticCodec: true})
	if err != nil {
		t.Fatal(err)
	}
	defer rt.Close()

	if err := rt.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	st := rt.Pipeline.Stats()
	if st.State != pipeline.StateIdle || !st.Streaming || st.Enabled {
		t.Errorf("stats = %+v", st)
	}
}

func TestSourceFactoryRejectsUnknownSource(t *testing.T) {
	f := sourceFactory(config.CameraSection{Source: "screen"}, nil)
	if _, err := f(media.DefaultConfig()); !errors.Is(err, media.ErrConfiguration) {
		t.Errorf("err = %v, want configuration error", err)
	}
}

func TestBuildSinksRejectsBadRTPAddress(t *testing.T) {
	file := testFile(t)
	file.Transmit.RTP = []string{"127.0.0.1:99999"}
	if _, err := NewRuntime(file, RuntimeOptions{SyntheticCodec: true}); err == nil {
		t.Error("expected sink construction error")
	}
}
