package domain

import "time"

// MediaKind enumerates the content categories a job can produce.
type MediaKind string

const (
	MediaKindImage    MediaKind = "IMAGE"
	MediaKindVideo    MediaKind = "VIDEO"
	MediaKindCarousel MediaKind = "CAROUSEL"
)

// KnownMediaKind reports whether the kind is one the platform recognizes.
func KnownMediaKind(kind MediaKind) bool {
	switch kind {
	case MediaKindImage, MediaKindVideo, MediaKindCarousel:
		return true
	}
	return false
}

// JobStatus enumerates generation job lifecycle states.
type JobStatus string

const (
	JobStatusNew        JobStatus = "NEW"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusReady      JobStatus = "READY"
	JobStatusFailed     JobStatus = "FAILED"
	JobStatusCancelled  JobStatus = "CANCELLED"
)

// Terminal reports whether no further transitions are possible from s.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusReady, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Job tracks one generation request from submission to its terminal state.
type Job struct {
	ID          string
	UserID      string
	MediaKind   MediaKind
	Status      JobStatus
	Progress    int
	Provider    string
	Model       string
	ExternalID  string
	StatusURL   string
	CostDebited int
	// DebitPool records which pool the debit landed in so a refund returns
	// to the same place.
	DebitPool   CreditPool
	ParamsJSON  []byte
	ResultURLs  []string
	Error       string
	Ephemeral   bool
	SubmittedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ProcessingDeadline returns the wall-clock ceiling after which a still
// PROCESSING job is force-failed by the sweep.
func (j Job) ProcessingDeadline() time.Time {
	started := j.CreatedAt
	if j.SubmittedAt != nil {
		started = *j.SubmittedAt
	}
	return started.Add(ProcessingCeiling(j.MediaKind))
}

// ProcessingCeiling is the media-kind specific job-level timeout. Videos run
// long; everything else should finish within minutes.
func ProcessingCeiling(kind MediaKind) time.Duration {
	if kind == MediaKindVideo {
		return 45 * time.Minute
	}
	return 10 * time.Minute
}
