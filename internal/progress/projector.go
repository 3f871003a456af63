// Package progress derives display-only progress percentages and phase
// labels for in-flight jobs. It never writes job state.
package progress

import (
	"math/rand"
	"time"

	"studio/internal/domain"
)

// phaseStep pairs a progress threshold with its label. Steps are ordered
// ascending; the projector picks the highest threshold not exceeding the
// current percent.
type phaseStep struct {
	threshold int
	label     string
}

var imagePhases = []phaseStep{
	{0, "Queued"},
	{10, "Interpreting prompt"},
	{35, "Rendering"},
	{75, "Refining details"},
	{95, "Finalizing"},
}

var videoPhases = []phaseStep{
	{0, "Queued"},
	{5, "Storyboarding"},
	{20, "Rendering frames"},
	{60, "Encoding"},
	{90, "Finalizing"},
}

var carouselPhases = []phaseStep{
	{0, "Queued"},
	{10, "Interpreting prompt"},
	{30, "Rendering slides"},
	{80, "Assembling carousel"},
	{95, "Finalizing"},
}

// maxPendingPercent keeps the UI from showing completion before the job is
// truly terminal.
const maxPendingPercent = 95

// Project computes the display percent and phase label for a PROCESSING job.
// The percent blends the last persisted progress with an elapsed-time
// estimate plus a little jitter for UI smoothness; it is clamped to
// [lastKnown, 95] so it never regresses and never reads as complete.
func Project(startedAt, now time.Time, lastKnown int, kind domain.MediaKind) (int, string) {
	estimate := elapsedEstimate(startedAt, now, kind)
	percent := lastKnown
	if estimate > percent {
		percent = estimate
	}
	if percent > 0 && percent < maxPendingPercent-2 {
		percent += rand.Intn(3)
	}
	if percent > maxPendingPercent {
		percent = maxPendingPercent
	}
	if percent < lastKnown {
		percent = lastKnown
	}
	if percent < 0 {
		percent = 0
	}
	return percent, Label(percent, kind)
}

// Label returns the phase label for a progress percent.
func Label(percent int, kind domain.MediaKind) string {
	steps := phasesFor(kind)
	label := steps[0].label
	for _, step := range steps {
		if percent >= step.threshold {
			label = step.label
		}
	}
	return label
}

func phasesFor(kind domain.MediaKind) []phaseStep {
	switch kind {
	case domain.MediaKindVideo:
		return videoPhases
	case domain.MediaKindCarousel:
		return carouselPhases
	default:
		return imagePhases
	}
}

// elapsedEstimate maps elapsed time onto a pessimistic 0-95 ramp scaled by
// the media kind's expected duration.
func elapsedEstimate(startedAt, now time.Time, kind domain.MediaKind) int {
	expected := expectedDuration(kind)
	elapsed := now.Sub(startedAt)
	if elapsed <= 0 {
		return 0
	}
	if elapsed >= expected {
		return maxPendingPercent
	}
	return int(float64(maxPendingPercent) * float64(elapsed) / float64(expected))
}

func expectedDuration(kind domain.MediaKind) time.Duration {
	switch kind {
	case domain.MediaKindVideo:
		return 6 * time.Minute
	case domain.MediaKindCarousel:
		return 90 * time.Second
	default:
		return 45 * time.Second
	}
}
