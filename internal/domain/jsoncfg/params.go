package jsoncfg

import (
	"encoding/json"
	"fmt"
	"strings"
)

// WatermarkConfig describes an optional watermark applied by providers.
type WatermarkConfig struct {
	Enabled  bool   `json:"enabled"`
	Text     string `json:"text"`
	Position string `json:"position"`
}

// JobParams is the canonical request payload persisted on every job.
type JobParams struct {
	Version         string          `json:"version"`
	Prompt          string          `json:"prompt"`
	NegativePrompt  string          `json:"negative_prompt,omitempty"`
	Model           string          `json:"model,omitempty"`
	AspectRatio     string          `json:"aspect_ratio"`
	DurationSeconds int             `json:"duration_seconds,omitempty"`
	SlideCount      int             `json:"slide_count,omitempty"`
	ReferenceURL    string          `json:"reference_url,omitempty"`
	Locale          string          `json:"locale,omitempty"`
	Watermark       WatermarkConfig `json:"watermark"`
	Ephemeral       bool            `json:"ephemeral,omitempty"`
}

var aspectRatioDims = map[string][2]int{
	"1:1":  {1024, 1024},
	"4:3":  {1152, 864},
	"3:4":  {864, 1152},
	"16:9": {1280, 720},
	"9:16": {720, 1280},
}

const (
	// DefaultParamsVersion is the schema version persisted for job params.
	DefaultParamsVersion = "2025-03"
	// DefaultAspectRatio is used when the request omits the aspect ratio.
	DefaultAspectRatio = "1:1"
	// DefaultVideoDurationSeconds is applied to video jobs without an
	// explicit duration.
	DefaultVideoDurationSeconds = 5
	// MaxVideoDurationSeconds caps a single clip request.
	MaxVideoDurationSeconds = 60
	// CarouselSlideCount is fixed; carousels bill a flat rate.
	CarouselSlideCount = 3
	// DefaultLocale is applied when no locale preference is resolvable.
	DefaultLocale = "en"
)

// Normalize ensures the params respect server defaults and limits.
func (p *JobParams) Normalize(kindIsVideo bool, preferredLocale string) {
	if p == nil {
		return
	}
	if p.Version == "" {
		p.Version = DefaultParamsVersion
	}
	if p.AspectRatio == "" {
		p.AspectRatio = DefaultAspectRatio
	}
	if kindIsVideo {
		if p.DurationSeconds <= 0 {
			p.DurationSeconds = DefaultVideoDurationSeconds
		}
		if p.DurationSeconds > MaxVideoDurationSeconds {
			p.DurationSeconds = MaxVideoDurationSeconds
		}
	}
	if p.SlideCount != 0 {
		p.SlideCount = CarouselSlideCount
	}
	if p.Locale == "" {
		if preferredLocale != "" {
			p.Locale = preferredLocale
		} else {
			p.Locale = DefaultLocale
		}
	}
}

// Validate ensures the params satisfy the required contract before persistence.
func (p JobParams) Validate() error {
	if strings.TrimSpace(p.Prompt) == "" {
		return fmt.Errorf("prompt is required")
	}
	if _, ok := aspectRatioDims[p.AspectRatio]; !ok {
		return fmt.Errorf("aspect_ratio must be one of 1:1, 4:3, 3:4, 16:9, 9:16")
	}
	if p.Watermark.Enabled && strings.TrimSpace(p.Watermark.Text) == "" {
		return fmt.Errorf("watermark.text is required when watermark.enabled is true")
	}
	return nil
}

// TargetDimensions returns the pixel dimensions for the aspect ratio.
func (p JobParams) TargetDimensions() (int, int) {
	dims, ok := aspectRatioDims[p.AspectRatio]
	if !ok {
		dims = aspectRatioDims[DefaultAspectRatio]
	}
	return dims[0], dims[1]
}

// UsageEventPayload is recorded alongside terminal job transitions.
type UsageEventPayload struct {
	EventType string `json:"event_type"`
	Provider  string `json:"provider"`
	Success   bool   `json:"success"`
	Credits   int    `json:"credits,omitempty"`
}

func MustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Errorf("json marshal: %w", err))
	}
	return b
}
