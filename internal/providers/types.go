package providers

import (
	"context"

	"studio/internal/domain"
)

// Phase is the normalized lifecycle state a backend reports for an external
// job. Unrecognized provider states always normalize to PhasePending so a
// transient upstream hiccup never reads as a terminal outcome.
type Phase string

const (
	PhasePending Phase = "pending"
	PhaseDone    Phase = "done"
	PhaseFailed  Phase = "failed"
)

// Request is the normalized submission payload passed to any backend.
type Request struct {
	JobID           string
	MediaKind       domain.MediaKind
	Model           string
	Prompt          string
	NegativePrompt  string
	AspectRatio     string
	Width           int
	Height          int
	DurationSeconds int
	SlideCount      int
	Locale          string
	WatermarkText   string
	// ReferenceURL points at a stored conditioning image; ReferenceData
	// carries the same bytes for backends that upload rather than link.
	ReferenceURL  string
	ReferenceData []byte
}

// Submission is the opaque handle a backend returns at submit time. Both
// fields are persisted on the job; polling needs nothing else.
type Submission struct {
	ExternalID string
	StatusURL  string
}

// PollResult is the normalized outcome of one poll.
type PollResult struct {
	Phase        Phase
	ResultURLs   []string
	ErrorMessage string
	// ProgressHint is 0 when the provider reports nothing usable.
	ProgressHint int
}

// Backend is the uniform submit/poll contract every provider integration is
// normalized into. The orchestrator never sees vendor shapes.
type Backend interface {
	Name() string
	Submit(ctx context.Context, req Request) (Submission, error)
	Poll(ctx context.Context, sub Submission) (PollResult, error)
}
