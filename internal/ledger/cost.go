// Package ledger owns credit pricing and the debit/refund discipline around
// generation jobs.
package ledger

import "studio/internal/domain"

// videoPricing describes how one video model bills. Exactly one field is
// meaningful per mode.
type videoPricing struct {
	// secondsPerCredit > 0 bills ceil(duration / secondsPerCredit).
	secondsPerCredit int
	// costPerSecond > 0 bills duration * costPerSecond.
	costPerSecond int
}

// videoModelPricing is keyed by exact model name, resolved once; no
// substring matching anywhere in the billing path.
var videoModelPricing = map[string]videoPricing{
	"kie-x":      {secondsPerCredit: 5},
	"kie-x-pro":  {secondsPerCredit: 5},
	"kling-x":    {costPerSecond: 1},
	"kling-x-hd": {costPerSecond: 1},
}

const (
	imageCost    = 1
	carouselCost = 3
	// videoFlatCost bills video models without explicit pricing.
	videoFlatCost = 5
	// unknownKindCost guards against unbilled generation of media kinds the
	// pricing table has never heard of.
	unknownKindCost = 25
)

// Cost is the pure pricing function. It is deterministic by construction so
// the debited amount can be persisted on the job and refunded byte-for-byte
// later regardless of subsequent pricing changes.
func Cost(kind domain.MediaKind, durationSeconds int, model string) int {
	switch kind {
	case domain.MediaKindImage:
		return imageCost
	case domain.MediaKindCarousel:
		return carouselCost
	case domain.MediaKindVideo:
		pricing, ok := videoModelPricing[model]
		if !ok {
			return videoFlatCost
		}
		if pricing.secondsPerCredit > 0 {
			return ceilDiv(durationSeconds, pricing.secondsPerCredit)
		}
		return durationSeconds * pricing.costPerSecond
	default:
		return unknownKindCost
	}
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
