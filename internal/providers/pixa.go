package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"studio/internal/infra"
)

// PixaOptions configures the Pixa backend.
type PixaOptions struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Pixa is the flat-rate image/carousel backend and the fallback for
// unrecognized models. Submission is multipart/form-data: the reference image
// is uploaded as a file part rather than linked by URL.
type Pixa struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
}

// NewPixa constructs the backend with sane defaults.
func NewPixa(opts PixaOptions) *Pixa {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}
	return &Pixa{
		apiKey:     opts.APIKey,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		httpClient: httpClient,
		logger:     opts.Logger,
	}
}

func (p *Pixa) Name() string { return "pixa" }

type pixaSubmitResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

type pixaStatusResponse struct {
	Status string `json:"status"`
	Output struct {
		URLs []string `json:"urls"`
	} `json:"output"`
	Error string `json:"error"`
}

// Submit posts the multipart form. Carousels request one output per slide.
func (p *Pixa) Submit(ctx context.Context, req Request) (Submission, error) {
	if p.apiKey == "" {
		return Submission{}, ErrMissingAPIKey
	}
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	fields := map[string]string{
		"prompt":       req.Prompt,
		"aspect_ratio": req.AspectRatio,
		"media_kind":   strings.ToLower(string(req.MediaKind)),
	}
	if req.NegativePrompt != "" {
		fields["negative_prompt"] = req.NegativePrompt
	}
	if req.SlideCount > 0 {
		fields["count"] = strconv.Itoa(req.SlideCount)
	}
	if req.DurationSeconds > 0 {
		fields["duration"] = strconv.Itoa(req.DurationSeconds)
	}
	if req.WatermarkText != "" {
		fields["watermark"] = req.WatermarkText
	}
	for key, value := range fields {
		if err := form.WriteField(key, value); err != nil {
			return Submission{}, fmt.Errorf("pixa: write field %s: %w", key, err)
		}
	}
	if len(req.ReferenceData) > 0 {
		part, err := form.CreateFormFile("reference", "reference.png")
		if err != nil {
			return Submission{}, fmt.Errorf("pixa: create file part: %w", err)
		}
		if _, err := part.Write(req.ReferenceData); err != nil {
			return Submission{}, fmt.Errorf("pixa: write file part: %w", err)
		}
	}
	if err := form.Close(); err != nil {
		return Submission{}, fmt.Errorf("pixa: finalize form: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/jobs", &body)
	if err != nil {
		return Submission{}, fmt.Errorf("pixa: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return Submission{}, fmt.Errorf("pixa: submit: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Submission{}, fmt.Errorf("pixa: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return Submission{}, fmt.Errorf("pixa: submit status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var decoded pixaSubmitResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Submission{}, fmt.Errorf("pixa: decode response: %w", err)
	}
	if decoded.ID == "" {
		return Submission{}, fmt.Errorf("pixa: submit rejected: %s", decoded.Message)
	}
	return Submission{ExternalID: decoded.ID}, nil
}

// Poll reads the job status and normalizes it.
func (p *Pixa) Poll(ctx context.Context, sub Submission) (PollResult, error) {
	if p.apiKey == "" {
		return PollResult{}, ErrMissingAPIKey
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/jobs/"+sub.ExternalID, nil)
	if err != nil {
		return PollResult{}, fmt.Errorf("pixa: build status request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return PollResult{}, fmt.Errorf("pixa: poll: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return PollResult{}, fmt.Errorf("pixa: poll status %d", resp.StatusCode)
	}
	var decoded pixaStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return PollResult{}, fmt.Errorf("pixa: decode status: %w", err)
	}
	switch decoded.Status {
	case "succeeded":
		if len(decoded.Output.URLs) == 0 {
			return PollResult{}, fmt.Errorf("pixa: succeeded with empty output")
		}
		return PollResult{Phase: PhaseDone, ResultURLs: decoded.Output.URLs, ProgressHint: 100}, nil
	case "failed":
		msg := decoded.Error
		if msg == "" {
			msg = "generation failed"
		}
		return PollResult{Phase: PhaseFailed, ErrorMessage: msg}, nil
	case "pending", "running":
		return PollResult{Phase: PhasePending}, nil
	default:
		if p.logger != nil {
			p.logger.Warn().Str("status", decoded.Status).Str("id", sub.ExternalID).Msg("pixa: unrecognized status, treating as pending")
		}
		return PollResult{Phase: PhasePending}, nil
	}
}

var _ Backend = (*Pixa)(nil)
