package validation

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestRegistryFindValidator(t *testing.T) {
	r := NewDefaultRegistry(nil)
	tests := map[string]string{
		"h264_vaapi":        "vaapi",
		"h264_nvenc":        "nvenc",
		"h264_qsv":          "qsv",
		"h264_rkmpp":        "rkmpp",
		"h264_v4l2m2m":      "v4l2m2m",
		"h264_videotoolbox": "videotoolbox",
		"h264_amf":          "amf",
		"libx264":           "software",
	}
	for enc, want := range tests {
		v := r.FindValidator(enc)
		if v == nil {
			t.Errorf("no validator for %s", enc)
			continue
		}
		if v.Name() != want {
			t.Errorf("validator for %s = %s, want %s", enc, v.Name(), want)
		}
	}
	if r.FindValidator("mpeg2video") != nil {
		t.Error("unexpected validator for mpeg2video")
	}
}

func TestCandidatesPriorityAndSoftware(t *testing.T) {
	r := NewDefaultRegistry(nil)
	compiled := []string{"libx264", "h264_v4l2m2m", "h264_vaapi", "aac"}

	got := r.Candidates(compiled, false)
	if strings.Join(got, ",") != "h264_vaapi,h264_v4l2m2m" {
		t.Errorf("hardware candidates = %v", got)
	}

	got = r.Candidates(compiled, true)
	if strings.Join(got, ",") != "h264_vaapi,h264_v4l2m2m,libx264" {
		t.Errorf("all candidates = %v", got)
	}
}

func TestSettingsAreCopies(t *testing.T) {
	v := NewVaapiValidator(nil)
	s, err := v.Settings("h264_vaapi")
	if err != nil {
		t.Fatalf("Settings: %v", err)
	}
	s.OutputParams["rc_mode"] = "VBR"
	s.GlobalArgs[0] = "mutated"

	again, _ := v.Settings("h264_vaapi")
	if again.OutputParams["rc_mode"] != "CBR" || again.GlobalArgs[0] != "-vaapi_device" {
		t.Error("Settings must return independent copies")
	}
	if again.PixelFormat != "yuv420p" {
		t.Errorf("default pixel format = %q", again.PixelFormat)
	}

	if _, err := v.Settings("h264_nvenc"); err == nil {
		t.Error("expected error for foreign encoder")
	}
}

func TestValidateUsesProductionSettings(t *testing.T) {
	var got string
	run := func(_ context.Context, cmd string) error {
		got = cmd
		return nil
	}
	v := NewVaapiValidator(run)
	if err := v.Validate(context.Background(), "h264_vaapi"); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	for _, want := range []string{"-vaapi_device /dev/dri/renderD128", "-vf format=nv12,hwupload", "-c:v h264_vaapi", "-rc_mode CBR"} {
		if !strings.Contains(got, want) {
			t.Errorf("validation command missing %q:\n%s", want, got)
		}
	}
}

func TestValidatePropagatesFailure(t *testing.T) {
	boom := errors.New("no device")
	v := NewNvencValidator(func(context.Context, string) error { return boom })
	if err := v.Validate(context.Background(), "h264_nvenc"); !errors.Is(err, boom) {
		t.Errorf("Validate err = %v, want %v", err, boom)
	}
}

func TestSplitArgs(t *testing.T) {
	args, err := splitArgs(`ffmpeg -f lavfi -i "testsrc2=size=640x480:rate=30" -f null -`)
	if err != nil {
		t.Fatalf("splitArgs: %v", err)
	}
	if len(args) != 8 || args[4] != "testsrc2=size=640x480:rate=30" {
		t.Errorf("splitArgs = %q", args)
	}
	if _, err := splitArgs(`a "b`); err == nil {
		t.Error("expected unclosed quote error")
	}
}
