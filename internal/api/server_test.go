package api

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/livenode/internal/api/models"
	"github.com/smazurov/livenode/internal/config"
	"github.com/smazurov/livenode/internal/detect"
	"github.com/smazurov/livenode/internal/events"
	"github.com/smazurov/livenode/internal/logging"
	"github.com/smazurov/livenode/internal/media"
	"github.com/smazurov/livenode/internal/pipeline"
)

type fakePipeline struct {
	mu        sync.Mutex
	cfg       media.Config
	enabled   bool
	streaming bool
	state     pipeline.State
	startErr  error
	keyframes int
}

func newFakePipeline() *fakePipeline {
	return &fakePipeline{cfg: media.DefaultConfig()}
}

func (f *fakePipeline) Stats() pipeline.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return pipeline.Stats{State: f.state, Enabled: f.enabled, Streaming: f.streaming, Config: f.cfg}
}

func (f *fakePipeline) Config() media.Config {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfg
}

func (f *fakePipeline) SetEnabled(_ context.Context, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled = enabled
	return nil
}

func (f *fakePipeline) StartStreaming(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.streaming = true
	f.state = pipeline.StateRunning
	return nil
}

func (f *fakePipeline) StopStreaming() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streaming = false
	f.state = pipeline.StateIdle
	return nil
}

func (f *fakePipeline) Reconfigure(_ context.Context, cfg media.Config) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg = cfg
	return nil
}

func (f *fakePipeline) RequestKeyframe() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keyframes++
	return nil
}

const testAuth = "test:secret"

func newTestServer(t *testing.T, opts *Options) *httptest.Server {
	t.Helper()
	opts.AuthUsername, opts.AuthPassword, _ = strings.Cut(testAuth, ":")
	ts := httptest.NewServer(NewServer(opts).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func doRequest(t *testing.T, method, url, body string, auth bool) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(testAuth)))
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func TestHealthNeedsNoAuth(t *testing.T) {
	ts := newTestServer(t, &Options{Pipeline: newFakePipeline()})

	resp := doRequest(t, http.MethodGet, ts.URL+"/api/health", "", false)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	health := decode[models.HealthData](t, resp)
	if health.Status != "ok" || health.State != "idle" {
		t.Errorf("health = %+v", health)
	}
}

func TestPipelineRequiresAuth(t *testing.T) {
	ts := newTestServer(t, &Options{Pipeline: newFakePipeline()})

	resp := doRequest(t, http.MethodGet, ts.URL+"/api/pipeline", "", false)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("without credentials: status = %d", resp.StatusCode)
	}
	if resp.Header.Get("WWW-Authenticate") == "" {
		t.Error("missing WWW-Authenticate header")
	}

	resp = doRequest(t, http.MethodGet, ts.URL+"/api/pipeline", "", true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("with credentials: status = %d", resp.StatusCode)
	}
	data := decode[models.PipelineData](t, resp)
	if data.Config.Width != 1280 || data.Config.KeyframeInterval != "2s" {
		t.Errorf("config = %+v", data.Config)
	}
}

func TestEnableAndStreamingPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "livenode.toml")
	fake := newFakePipeline()
	ts := newTestServer(t, &Options{Pipeline: fake, ConfigPath: path})

	resp := doRequest(t, http.MethodPut, ts.URL+"/api/pipeline/enabled", `{"enabled":true}`, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("enable: status = %d", resp.StatusCode)
	}
	resp = doRequest(t, http.MethodPost, ts.URL+"/api/pipeline/streaming/start", "", true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start: status = %d", resp.StatusCode)
	}
	data := decode[models.PipelineData](t, resp)
	if data.State != "running" || !data.Streaming {
		t.Errorf("after start = %+v", data)
	}

	sec, err := config.LoadPipeline(path)
	if err != nil {
		t.Fatalf("LoadPipeline: %v", err)
	}
	if !sec.Enabled || !sec.Streaming || sec.Width != 1280 {
		t.Errorf("persisted = %+v", sec)
	}

	resp = doRequest(t, http.MethodPost, ts.URL+"/api/pipeline/streaming/stop", "", true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop: status = %d", resp.StatusCode)
	}
	sec, _ = config.LoadPipeline(path)
	if sec.Streaming {
		t.Error("stop not persisted")
	}
}

func TestUpdateConfig(t *testing.T) {
	fake := newFakePipeline()
	ts := newTestServer(t, &Options{Pipeline: fake})

	body := `{"width":641,"height":480,"fps":15,"bitrate":1000000,"keyframe_interval":"1s","input":"buffer","codec":"h264"}`
	resp := doRequest(t, http.MethodPut, ts.URL+"/api/pipeline/config", body, true)
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d: %s", resp.StatusCode, raw)
	}
	cfg := fake.Config()
	if cfg.Width != 642 || cfg.FPS != 15 || cfg.KeyframeInterval != time.Second || cfg.Input != media.InputBuffer {
		t.Errorf("applied = %+v", cfg)
	}

	tests := []struct {
		name string
		body string
	}{
		{"bad duration", `{"width":640,"height":480,"fps":15,"bitrate":1000000,"keyframe_interval":"soon","input":"buffer","codec":"h264"}`},
		{"bitrate too low", `{"width":640,"height":480,"fps":15,"bitrate":10,"keyframe_interval":"1s","input":"buffer","codec":"h264"}`},
		{"unknown input", `{"width":640,"height":480,"fps":15,"bitrate":1000000,"keyframe_interval":"1s","input":"dma","codec":"h264"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doRequest(t, http.MethodPut, ts.URL+"/api/pipeline/config", tt.body, true)
			if resp.StatusCode != http.StatusUnprocessableEntity {
				t.Errorf("status = %d, want 422", resp.StatusCode)
			}
		})
	}
}

func TestPipelineErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"no encoder", media.NewError(media.KindResourceExhaustion, "select", media.ErrNoEncoder), http.StatusServiceUnavailable},
		{"bad shader", media.NewError(media.KindConfiguration, "compile", nil), http.StatusUnprocessableEntity},
		{"closed", media.NewError(media.KindStateViolation, "start", pipeline.ErrClosed), http.StatusConflict},
		{"other", io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFakePipeline()
			fake.startErr = tt.err
			ts := newTestServer(t, &Options{Pipeline: fake})

			resp := doRequest(t, http.MethodPost, ts.URL+"/api/pipeline/streaming/start", "", true)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestRequestKeyframe(t *testing.T) {
	fake := newFakePipeline()
	ts := newTestServer(t, &Options{Pipeline: fake})

	resp := doRequest(t, http.MethodPost, ts.URL+"/api/pipeline/keyframe", "", true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if fake.keyframes != 1 {
		t.Errorf("keyframes = %d", fake.keyframes)
	}
}

func TestLogsEndpoint(t *testing.T) {
	logging.Initialize(logging.Config{Level: "info", Format: "text", BufferSize: 50})
	logging.GetLogger("pipeline").Info("Pipeline state changed", "to", "running")
	logging.GetLogger("pipeline").Debug("Frames captured")

	ts := newTestServer(t, &Options{Pipeline: newFakePipeline()})
	resp := doRequest(t, http.MethodGet, ts.URL+"/api/logs?limit=10", "", true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := decode[struct {
		Entries []models.LogEntryData `json:"entries"`
	}](t, resp)

	var found bool
	for _, e := range body.Entries {
		if e.Message == "Frames captured" {
			t.Error("debug entry captured at info level")
		}
		if e.Message == "Pipeline state changed" && e.Module == "pipeline" {
			found = true
		}
	}
	if !found {
		t.Errorf("entries = %+v", body.Entries)
	}

	resp = doRequest(t, http.MethodPut, ts.URL+"/api/logs/levels/pipeline", `{"level":"debug"}`, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set level: status = %d", resp.StatusCode)
	}
	if got := logging.ModuleLevels()["pipeline"]; got != "debug" {
		t.Errorf("pipeline level = %q", got)
	}
}

func TestEventsStreamSendsStateFirst(t *testing.T) {
	bus := events.New()
	ts := newTestServer(t, &Options{Pipeline: newFakePipeline(), EventBus: bus})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	credentials := base64.StdEncoding.EncodeToString([]byte(testAuth))
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events?auth="+credentials, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if !strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		t.Fatalf("content type = %s", resp.Header.Get("Content-Type"))
	}

	lines := make(chan string, 16)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	next := func(prefix string) string {
		for {
			select {
			case line, ok := <-lines:
				if !ok {
					t.Fatal("stream closed")
				}
				if strings.HasPrefix(line, prefix) {
					return line
				}
			case <-ctx.Done():
				t.Fatalf("timeout waiting for %q", prefix)
			}
		}
	}

	if ev := next("event:"); !strings.Contains(ev, "pipeline-state-changed") {
		t.Errorf("first event = %s", ev)
	}
	if data := next("data:"); !strings.Contains(data, `"state":"idle"`) {
		t.Errorf("first data = %s", data)
	}

	bus.Publish(events.EncoderFailureEvent{Encoder: "h264_vaapi", Error: "device lost"})
	if ev := next("event:"); !strings.Contains(ev, "encoder-failure") {
		t.Errorf("event = %s", ev)
	}
}

func TestSchemasRegisterWithoutCollision(t *testing.T) {
	s := NewServer(&Options{Pipeline: newFakePipeline()})
	schemas := s.API().OpenAPI().Components.Schemas.Map()
	for _, name := range []string{"DetectionRegion", "DetectionData", "DetectionBox", "DetectionEvent"} {
		if _, ok := schemas[name]; !ok {
			t.Errorf("schema %s not registered", name)
		}
	}
}

func TestDetectionsDisabled(t *testing.T) {
	ts := newTestServer(t, &Options{Pipeline: newFakePipeline()})
	resp := doRequest(t, http.MethodGet, ts.URL+"/api/detections", "", true)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestToDetectionData(t *testing.T) {
	d := toDetectionData(detect.Result{}, false)
	if d.Available || d.Boxes == nil {
		t.Errorf("empty result = %+v", d)
	}

	d = toDetectionData(detect.Result{
		Detector: "luma-blob",
		FrameSeq: 7,
		Width:    64,
		Height:   48,
		Boxes:    []detect.Box{{Rect: image.Rect(8, 4, 24, 20), Confidence: 0.5, Label: "bright"}},
	}, true)
	if !d.Available || len(d.Boxes) != 1 {
		t.Fatalf("result = %+v", d)
	}
	if b := d.Boxes[0]; b.X != 8 || b.Y != 4 || b.Width != 16 || b.Height != 16 {
		t.Errorf("box = %+v", b)
	}
}
