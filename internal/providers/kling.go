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

// KlingOptions configures the Kling video backend.
type KlingOptions struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Kling integrates the two-step async API: submission returns a status URL,
// and once the status object flips to completed a second request against its
// response_url yields the asset list.
type Kling struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
}

// NewKling constructs the backend with sane defaults.
func NewKling(opts KlingOptions) *Kling {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Kling{
		apiKey:     opts.APIKey,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		httpClient: httpClient,
		logger:     opts.Logger,
	}
}

func (k *Kling) Name() string { return "kling" }

type klingSubmitRequest struct {
	Prompt      string `json:"prompt"`
	Negative    string `json:"negative_prompt,omitempty"`
	AspectRatio string `json:"aspect_ratio"`
	Duration    int    `json:"duration"`
	ImageURL    string `json:"image_url,omitempty"`
	Locale      string `json:"locale,omitempty"`
}

type klingSubmitResponse struct {
	RequestID string `json:"request_id"`
	StatusURL string `json:"status_url"`
	Message   string `json:"message"`
}

type klingStatusResponse struct {
	Status      string `json:"status"`
	ResponseURL string `json:"response_url"`
	Progress    int    `json:"progress"`
	Detail      string `json:"detail"`
}

type klingResultResponse struct {
	Videos []struct {
		URL string `json:"url"`
	} `json:"videos"`
}

// Submit creates the generation request and captures both handles.
func (k *Kling) Submit(ctx context.Context, req Request) (Submission, error) {
	if k.apiKey == "" {
		return Submission{}, ErrMissingAPIKey
	}
	payload := klingSubmitRequest{
		Prompt:      req.Prompt,
		Negative:    req.NegativePrompt,
		AspectRatio: req.AspectRatio,
		Duration:    req.DurationSeconds,
		ImageURL:    req.ReferenceURL,
		Locale:      req.Locale,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Submission{}, fmt.Errorf("kling: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, k.baseURL+"/videos", bytes.NewReader(body))
	if err != nil {
		return Submission{}, fmt.Errorf("kling: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+k.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := k.httpClient.Do(httpReq)
	if err != nil {
		return Submission{}, fmt.Errorf("kling: submit: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Submission{}, fmt.Errorf("kling: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return Submission{}, fmt.Errorf("kling: submit status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var decoded klingSubmitResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Submission{}, fmt.Errorf("kling: decode response: %w", err)
	}
	if decoded.RequestID == "" {
		return Submission{}, fmt.Errorf("kling: submit rejected: %s", decoded.Message)
	}
	return Submission{ExternalID: decoded.RequestID, StatusURL: decoded.StatusURL}, nil
}

// Poll fetches the status object and, when completed, the response_url.
func (k *Kling) Poll(ctx context.Context, sub Submission) (PollResult, error) {
	if k.apiKey == "" {
		return PollResult{}, ErrMissingAPIKey
	}
	statusURL := sub.StatusURL
	if statusURL == "" {
		statusURL = k.baseURL + "/videos/" + sub.ExternalID
	}
	var decoded klingStatusResponse
	if err := k.getJSON(ctx, statusURL, &decoded); err != nil {
		return PollResult{}, err
	}
	switch decoded.Status {
	case "completed":
		if decoded.ResponseURL == "" {
			return PollResult{}, errors.New("kling: completed without response_url")
		}
		var result klingResultResponse
		if err := k.getJSON(ctx, decoded.ResponseURL, &result); err != nil {
			return PollResult{}, err
		}
		urls := make([]string, 0, len(result.Videos))
		for _, v := range result.Videos {
			if v.URL != "" {
				urls = append(urls, v.URL)
			}
		}
		if len(urls) == 0 {
			return PollResult{}, errors.New("kling: completed with empty asset list")
		}
		return PollResult{Phase: PhaseDone, ResultURLs: urls, ProgressHint: 100}, nil
	case "failed":
		msg := decoded.Detail
		if msg == "" {
			msg = "generation failed"
		}
		return PollResult{Phase: PhaseFailed, ErrorMessage: msg}, nil
	case "submitted", "processing":
		return PollResult{Phase: PhasePending, ProgressHint: decoded.Progress}, nil
	default:
		if k.logger != nil {
			k.logger.Warn().Str("status", decoded.Status).Str("request_id", sub.ExternalID).Msg("kling: unrecognized status, treating as pending")
		}
		return PollResult{Phase: PhasePending, ProgressHint: decoded.Progress}, nil
	}
}

func (k *Kling) getJSON(ctx context.Context, url string, dest any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("kling: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+k.apiKey)
	resp, err := k.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("kling: request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("kling: status %d from %s", resp.StatusCode, url)
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("kling: decode: %w", err)
	}
	return nil
}

var _ Backend = (*Kling)(nil)
