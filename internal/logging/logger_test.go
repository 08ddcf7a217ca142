package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/coreos/go-systemd/v22/journal"
)

func resetState(t *testing.T) {
	t.Helper()
	prev := std
	std = newRegistry()
	t.Cleanup(func() { std = prev })
}

func TestModuleLevels(t *testing.T) {
	resetState(t)
	Initialize(Config{
		Level:   "info",
		Format:  "text",
		Modules: map[string]string{"drain": "debug", "api": "warn"},
	})

	ctx := context.Background()
	tests := []struct {
		module           string
		debug, info, warn bool
	}{
		{"drain", true, true, true},
		{"api", false, false, true},
		{"gpu", false, true, true},
	}
	for _, tt := range tests {
		h := GetLogger(tt.module).Handler()
		got := [3]bool{h.Enabled(ctx, slog.LevelDebug), h.Enabled(ctx, slog.LevelInfo), h.Enabled(ctx, slog.LevelWarn)}
		if want := [3]bool{tt.debug, tt.info, tt.warn}; got != want {
			t.Errorf("%s: debug/info/warn enabled = %v, want %v", tt.module, got, want)
		}
	}
}

func TestGetLoggerBeforeInitialize(t *testing.T) {
	resetState(t)

	before := GetLogger("webrtc")
	if before.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("logger created before Initialize should start at info")
	}

	Initialize(Config{Level: "info", Modules: map[string]string{"webrtc": "debug"}})

	if after := GetLogger("webrtc"); after != before {
		t.Error("Initialize replaced the logger pointer")
	}
	if !before.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("early logger did not pick up the configured level")
	}
}

func TestSetModuleLevel(t *testing.T) {
	resetState(t)
	Initialize(Config{Level: "info"})

	logger := GetLogger("gpu")
	if err := SetModuleLevel("gpu", "DEBUG"); err != nil {
		t.Fatalf("SetModuleLevel: %v", err)
	}
	if !logger.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("gpu should accept debug after SetModuleLevel")
	}
	if got := ModuleLevels()["gpu"]; got != "debug" {
		t.Errorf("ModuleLevels()[gpu] = %q, want debug", got)
	}
	if err := SetModuleLevel("gpu", "loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
		ok   bool
	}{
		{"debug", slog.LevelDebug, true},
		{"INFO", slog.LevelInfo, true},
		{"warn", slog.LevelWarn, true},
		{"Warning", slog.LevelWarn, true},
		{"error", slog.LevelError, true},
		{"verbose", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseLevel(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("parseLevel(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestBufferHandlerCapturesEntries(t *testing.T) {
	resetState(t)
	Initialize(Config{Level: "debug", BufferSize: 8})

	var got []LogEntry
	SetLogCallback(func(e LogEntry) { got = append(got, e) })

	logger := GetLogger("drain").With("session", 2)
	logger.Info("drained", "units", 3, slog.Group("fmt", "width", 640), "err", errors.New("short read"))
	logger.WithGroup("gpu").Debug("idle", "wait", 5*time.Millisecond)

	entries := GetBuffer().ReadAll()
	if len(entries) != 2 {
		t.Fatalf("buffer has %d entries, want 2", len(entries))
	}
	first := entries[0]
	if first.Module != "drain" || first.Message != "drained" || first.Level != "info" {
		t.Errorf("unexpected entry: %+v", first)
	}
	want := map[string]any{"session": int64(2), "units": int64(3), "fmt.width": int64(640), "err": "short read"}
	for k, v := range want {
		if first.Attributes[k] != v {
			t.Errorf("%s = %v, want %v", k, first.Attributes[k], v)
		}
	}
	// Attributes bound before WithGroup stay ungrouped.
	second := entries[1].Attributes
	if second["session"] != int64(2) || second["gpu.wait"] != "5ms" {
		t.Errorf("grouped attributes = %v", second)
	}
	if entries[1].Seq != first.Seq+1 {
		t.Errorf("sequence not contiguous: %d then %d", first.Seq, entries[1].Seq)
	}
	if len(got) != 2 || got[1].Seq != entries[1].Seq {
		t.Errorf("callback saw %d entries", len(got))
	}
}

func TestRingBufferWrapAndSince(t *testing.T) {
	rb := NewRingBuffer(3)
	if rb.ReadAll() != nil {
		t.Fatal("empty buffer returned entries")
	}
	for i := range 5 {
		rb.Write(LogEntry{Message: string(rune('a' + i))})
	}

	all := rb.ReadAll()
	if len(all) != 3 || all[0].Message != "c" || all[2].Message != "e" {
		t.Fatalf("ReadAll = %+v, want c..e", all)
	}
	if all[0].Seq != 3 || all[2].Seq != 5 {
		t.Errorf("seq range = %d..%d, want 3..5", all[0].Seq, all[2].Seq)
	}
	if since := rb.Since(4); len(since) != 1 || since[0].Message != "e" {
		t.Errorf("Since(4) = %+v, want [e]", since)
	}
	if got := rb.Since(1); len(got) != 3 {
		t.Errorf("Since(evicted) returned %d entries, want all 3", len(got))
	}
	if rb.Since(5) != nil {
		t.Error("Since(latest) should be empty")
	}
}

func TestFanoutHandlerRespectsLevels(t *testing.T) {
	var debugOut, infoOut bytes.Buffer
	h := fanoutHandler{
		slog.NewTextHandler(&debugOut, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&infoOut, &slog.HandlerOptions{Level: slog.LevelInfo}),
	}
	logger := slog.New(h).With("module", "test")
	logger.Debug("debug only")
	logger.Info("both")

	if strings.Count(debugOut.String(), "debug only") != 1 || strings.Contains(infoOut.String(), "debug only") {
		t.Errorf("debug routed wrong: debug=%q info=%q", debugOut.String(), infoOut.String())
	}
	if !strings.Contains(infoOut.String(), "both") || !strings.Contains(infoOut.String(), "module=test") {
		t.Errorf("info output = %q", infoOut.String())
	}
}

func TestJournalHandlerFields(t *testing.T) {
	var (
		gotMsg    string
		gotPri    journal.Priority
		gotFields map[string]string
	)
	h := newJournalHandler(slog.LevelDebug)
	h.send = func(msg string, pri journal.Priority, fields map[string]string) error {
		gotMsg, gotPri, gotFields = msg, pri, fields
		return nil
	}

	logger := slog.New(h).With("module", "drain")
	logger.WithGroup("fmt").Warn("format changed", "width", 640, "fps", 29.97, "codec-name", "h264")

	if gotMsg != "format changed" || gotPri != journal.PriWarning {
		t.Errorf("message/priority = %q/%d", gotMsg, gotPri)
	}
	want := map[string]string{
		"SYSLOG_IDENTIFIER": "livenode",
		"MODULE":            "drain",
		"FMT_WIDTH":         "640",
		"FMT_FPS":           "29.97",
		"FMT_CODEC_NAME":    "h264",
	}
	for k, v := range want {
		if gotFields[k] != v {
			t.Errorf("%s = %q, want %q", k, gotFields[k], v)
		}
	}
}

func TestJournalKey(t *testing.T) {
	tests := []struct {
		path []string
		key  string
		want string
	}{
		{nil, "module", "MODULE"},
		{[]string{"fmt"}, "width", "FMT_WIDTH"},
		{nil, "stream.id", "STREAM_ID"},
		{nil, "_private", "PRIVATE"},
		{nil, "1080p", "P"},
	}
	for _, tt := range tests {
		if got := journalKey(tt.path, tt.key); got != tt.want {
			t.Errorf("journalKey(%v, %q) = %q, want %q", tt.path, tt.key, got, tt.want)
		}
	}
}
