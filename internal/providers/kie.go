package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"studio/internal/infra"
)

// ErrMissingAPIKey indicates a backend was configured without credentials.
var ErrMissingAPIKey = errors.New("providers: api key is required")

// KieOptions configures the Kie video backend.
type KieOptions struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Kie integrates the synchronous-queue style video API: submit returns a task
// id immediately and the status endpoint is polled until the task leaves the
// queue.
type Kie struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
}

// NewKie constructs the backend with sane defaults.
func NewKie(opts KieOptions) *Kie {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	return &Kie{
		apiKey:     opts.APIKey,
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     opts.Logger,
	}
}

func (k *Kie) Name() string { return "kie" }

type kieSubmitRequest struct {
	Prompt      string `json:"prompt"`
	Negative    string `json:"negative_prompt,omitempty"`
	AspectRatio string `json:"aspect_ratio"`
	Duration    int    `json:"duration"`
	Model       string `json:"model,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
	Watermark   string `json:"watermark,omitempty"`
}

type kieSubmitResponse struct {
	TaskID  string `json:"taskId"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type kieStatusResponse struct {
	State     string `json:"state"`
	ResultURL string `json:"resultUrl"`
	Progress  int    `json:"progress"`
	Error     string `json:"error"`
}

// Submit enqueues a generation task.
func (k *Kie) Submit(ctx context.Context, req Request) (Submission, error) {
	if k.apiKey == "" {
		return Submission{}, ErrMissingAPIKey
	}
	payload := kieSubmitRequest{
		Prompt:      req.Prompt,
		Negative:    req.NegativePrompt,
		AspectRatio: req.AspectRatio,
		Duration:    req.DurationSeconds,
		Model:       req.Model,
		ImageURL:    req.ReferenceURL,
		Watermark:   req.WatermarkText,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Submission{}, fmt.Errorf("kie: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, k.baseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return Submission{}, fmt.Errorf("kie: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+k.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := k.httpClient.Do(httpReq)
	if err != nil {
		return Submission{}, fmt.Errorf("kie: submit: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Submission{}, fmt.Errorf("kie: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return Submission{}, fmt.Errorf("kie: submit status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var decoded kieSubmitResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Submission{}, fmt.Errorf("kie: decode response: %w", err)
	}
	if decoded.TaskID == "" {
		return Submission{}, fmt.Errorf("kie: submit rejected: %s %s", decoded.Code, decoded.Message)
	}
	return Submission{ExternalID: decoded.TaskID}, nil
}

// Poll reads the task status and normalizes it. States outside the known set
// report pending.
func (k *Kie) Poll(ctx context.Context, sub Submission) (PollResult, error) {
	if k.apiKey == "" {
		return PollResult{}, ErrMissingAPIKey
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, k.baseURL+"/status/"+sub.ExternalID, nil)
	if err != nil {
		return PollResult{}, fmt.Errorf("kie: build status request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+k.apiKey)

	resp, err := k.httpClient.Do(httpReq)
	if err != nil {
		return PollResult{}, fmt.Errorf("kie: poll: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return PollResult{}, fmt.Errorf("kie: poll status %d", resp.StatusCode)
	}
	var decoded kieStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return PollResult{}, fmt.Errorf("kie: decode status: %w", err)
	}
	switch decoded.State {
	case "success":
		if decoded.ResultURL == "" {
			return PollResult{}, errors.New("kie: success without result url")
		}
		return PollResult{Phase: PhaseDone, ResultURLs: []string{decoded.ResultURL}, ProgressHint: 100}, nil
	case "fail":
		msg := decoded.Error
		if msg == "" {
			msg = "generation failed"
		}
		return PollResult{Phase: PhaseFailed, ErrorMessage: msg}, nil
	case "queued", "generating":
		return PollResult{Phase: PhasePending, ProgressHint: decoded.Progress}, nil
	default:
		if k.logger != nil {
			k.logger.Warn().Str("state", decoded.State).Str("task_id", sub.ExternalID).Msg("kie: unrecognized state, treating as pending")
		}
		return PollResult{Phase: PhasePending, ProgressHint: decoded.Progress}, nil
	}
}

var _ Backend = (*Kie)(nil)
