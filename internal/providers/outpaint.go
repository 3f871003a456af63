package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"studio/internal/infra"
)

// OutpaintOptions configures the outpainting client.
type OutpaintOptions struct {
	APIKey       string
	BaseURL      string
	HTTPClient   *http.Client
	Logger       *infra.Logger
	PollInterval time.Duration
	MaxAttempts  int
}

// Outpainter is the contract the compositor depends on for canvas extension.
type Outpainter interface {
	Expand(ctx context.Context, imageURL, maskURL, prompt string) (string, error)
}

// OutpaintClient drives the inpainting/outpainting endpoint used only as a
// compositing pre-processing step. Expand blocks through a bounded poll loop;
// callers treat all failures as recoverable.
type OutpaintClient struct {
	apiKey       string
	baseURL      string
	httpClient   *http.Client
	logger       *infra.Logger
	pollInterval time.Duration
	maxAttempts  int
}

// NewOutpaintClient constructs the client. Poll interval defaults to 1s with
// 30 attempts.
func NewOutpaintClient(opts OutpaintOptions) *OutpaintClient {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	attempts := opts.MaxAttempts
	if attempts <= 0 {
		attempts = 30
	}
	return &OutpaintClient{
		apiKey:       opts.APIKey,
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		httpClient:   httpClient,
		logger:       opts.Logger,
		pollInterval: interval,
		maxAttempts:  attempts,
	}
}

type outpaintSubmitRequest struct {
	ImageURL string `json:"image_url"`
	MaskURL  string `json:"mask_url"`
	Prompt   string `json:"prompt"`
}

type outpaintSubmitResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

type outpaintStatusResponse struct {
	Status    string `json:"status"`
	ResultURL string `json:"result_url"`
	Error     string `json:"error"`
}

// Expand submits the fill task and polls until completion or the attempt
// ceiling, returning the result image URL.
func (c *OutpaintClient) Expand(ctx context.Context, imageURL, maskURL, prompt string) (string, error) {
	if c.apiKey == "" {
		return "", ErrMissingAPIKey
	}
	payload := outpaintSubmitRequest{ImageURL: imageURL, MaskURL: maskURL, Prompt: prompt}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("outpaint: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/fill", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("outpaint: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("outpaint: submit: %w", err)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	resp.Body.Close()
	if err != nil {
		return "", fmt.Errorf("outpaint: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("outpaint: submit status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var decoded outpaintSubmitResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("outpaint: decode response: %w", err)
	}
	if decoded.ID == "" {
		return "", fmt.Errorf("outpaint: submit rejected: %s", decoded.Message)
	}
	return c.waitForResult(ctx, decoded.ID)
}

func (c *OutpaintClient) waitForResult(ctx context.Context, id string) (string, error) {
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(c.pollInterval):
			}
		}
		status, err := c.pollOnce(ctx, id)
		if err != nil {
			// Transient poll errors count against the attempt budget.
			if c.logger != nil {
				c.logger.Warn().Err(err).Str("id", id).Msg("outpaint: poll failed")
			}
			continue
		}
		switch status.Status {
		case "succeeded":
			if status.ResultURL == "" {
				return "", fmt.Errorf("outpaint: succeeded without result url")
			}
			return status.ResultURL, nil
		case "failed":
			msg := status.Error
			if msg == "" {
				msg = "fill failed"
			}
			return "", fmt.Errorf("outpaint: %s", msg)
		}
	}
	return "", fmt.Errorf("outpaint: timed out after %d attempts", c.maxAttempts)
}

func (c *OutpaintClient) pollOnce(ctx context.Context, id string) (outpaintStatusResponse, error) {
	var decoded outpaintStatusResponse
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/fill/"+id, nil)
	if err != nil {
		return decoded, fmt.Errorf("outpaint: build status request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return decoded, fmt.Errorf("outpaint: poll: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decoded, fmt.Errorf("outpaint: poll status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return decoded, fmt.Errorf("outpaint: decode status: %w", err)
	}
	return decoded, nil
}

var _ Outpainter = (*OutpaintClient)(nil)
