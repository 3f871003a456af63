package jsoncfg

import (
	"strings"
	"testing"
)

func TestNormalizeAppliesDefaults(t *testing.T) {
	p := JobParams{Prompt: "a red bicycle"}
	p.Normalize(false, "id")

	if p.Version != DefaultParamsVersion {
		t.Fatalf("version = %q, want %q", p.Version, DefaultParamsVersion)
	}
	if p.AspectRatio != DefaultAspectRatio {
		t.Fatalf("aspect_ratio = %q, want %q", p.AspectRatio, DefaultAspectRatio)
	}
	if p.Locale != "id" {
		t.Fatalf("locale = %q, want preferred locale", p.Locale)
	}
	if p.DurationSeconds != 0 {
		t.Fatalf("duration = %d, want untouched for non-video", p.DurationSeconds)
	}
}

func TestNormalizeVideoDuration(t *testing.T) {
	cases := []struct {
		in   int
		want int
	}{
		{0, DefaultVideoDurationSeconds},
		{-3, DefaultVideoDurationSeconds},
		{10, 10},
		{600, MaxVideoDurationSeconds},
	}
	for _, tc := range cases {
		p := JobParams{Prompt: "waves", DurationSeconds: tc.in}
		p.Normalize(true, "")
		if p.DurationSeconds != tc.want {
			t.Fatalf("duration %d normalized to %d, want %d", tc.in, p.DurationSeconds, tc.want)
		}
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		params  JobParams
		wantErr string
	}{
		{
			name:   "valid",
			params: JobParams{Prompt: "a skyline", AspectRatio: "16:9"},
		},
		{
			name:    "missing prompt",
			params:  JobParams{Prompt: "   ", AspectRatio: "1:1"},
			wantErr: "prompt",
		},
		{
			name:    "bad aspect ratio",
			params:  JobParams{Prompt: "x", AspectRatio: "2:1"},
			wantErr: "aspect_ratio",
		},
		{
			name:    "watermark enabled without text",
			params:  JobParams{Prompt: "x", AspectRatio: "1:1", Watermark: WatermarkConfig{Enabled: true}},
			wantErr: "watermark.text",
		},
	}
	for _, tc := range cases {
		err := tc.params.Validate()
		if tc.wantErr == "" {
			if err != nil {
				t.Fatalf("%s: unexpected error %v", tc.name, err)
			}
			continue
		}
		if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
			t.Fatalf("%s: err = %v, want mention of %q", tc.name, err, tc.wantErr)
		}
	}
}

func TestTargetDimensions(t *testing.T) {
	cases := []struct {
		ratio string
		w, h  int
	}{
		{"1:1", 1024, 1024},
		{"16:9", 1280, 720},
		{"9:16", 720, 1280},
		{"", 1024, 1024}, // unknown falls back to square
	}
	for _, tc := range cases {
		p := JobParams{AspectRatio: tc.ratio}
		w, h := p.TargetDimensions()
		if w != tc.w || h != tc.h {
			t.Fatalf("ratio %q: dims %dx%d, want %dx%d", tc.ratio, w, h, tc.w, tc.h)
		}
	}
}
