package domain

import "fmt"

// CreditPool identifies one independently tracked credit balance. The set is
// closed: mutations against a pool outside this enum are rejected at the
// repository boundary rather than silently creating a new key.
type CreditPool string

const (
	PoolImage CreditPool = "image"
	PoolVideo CreditPool = "video"
	// PoolLegacy is the pre-pools aggregate balance kept for accounts that
	// were never migrated.
	PoolLegacy CreditPool = "legacy"
)

// Pools lists every valid pool.
func Pools() []CreditPool {
	return []CreditPool{PoolImage, PoolVideo, PoolLegacy}
}

// PoolForMediaKind maps a media kind to the pool it bills against.
// Carousels bill the image pool.
func PoolForMediaKind(kind MediaKind) (CreditPool, error) {
	switch kind {
	case MediaKindImage, MediaKindCarousel:
		return PoolImage, nil
	case MediaKindVideo:
		return PoolVideo, nil
	default:
		return "", fmt.Errorf("no credit pool for media kind %q", kind)
	}
}

// Balances holds a snapshot of every pool for one user.
type Balances map[CreditPool]int
