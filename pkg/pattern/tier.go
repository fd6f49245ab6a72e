package pattern

import "fmt"

// StorageTier identifies the quality band a pattern is stored in.
type StorageTier string

const (
	// TierPremium holds the highest-quality patterns in fast storage.
	TierPremium StorageTier = "premium"
	// TierStandard holds ordinary patterns.
	TierStandard StorageTier = "standard"
	// TierArchive holds aged or low-quality patterns in compressed storage.
	TierArchive StorageTier = "archive"
	// TierRejected quarantines patterns that failed quality validation.
	// Rejected patterns are excluded from queries but kept for audit.
	TierRejected StorageTier = "rejected"
)

// Tiers lists all tiers ordered from highest to lowest quality.
var Tiers = []StorageTier{TierPremium, TierStandard, TierArchive, TierRejected}

// Rank orders tiers by quality: premium is highest. Unknown tiers rank
// below rejected so they always lose comparisons.
func (t StorageTier) Rank() int {
	switch t {
	case TierPremium:
		return 3
	case TierStandard:
		return 2
	case TierArchive:
		return 1
	case TierRejected:
		return 0
	}
	return -1
}

// Valid reports whether t is one of the defined tiers.
func (t StorageTier) Valid() bool {
	return t.Rank() >= 0
}

// ParseTier converts a string into a StorageTier.
func ParseTier(s string) (StorageTier, error) {
	t := StorageTier(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown storage tier %q", s)
	}
	return t, nil
}
