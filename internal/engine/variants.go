package engine

import (
	"crypto/sha256"
	"encoding/binary"
	"strings"

	"github.com/google/uuid"

	"github.com/leadmap/campaign-engine/internal/domain"
)

// PickVariant deterministically assigns a recipient to one of a step's A/B
// variants. The same email always lands on the same variant for a given
// campaign, so re-scans and retries compose identical content. Returns nil
// when the step has no variants, meaning the base step content applies.
func PickVariant(variants []*domain.Variant, email string, campaignID uuid.UUID) *domain.Variant {
	if len(variants) == 0 {
		return nil
	}
	if len(variants) == 1 {
		return variants[0]
	}

	bucket := variantBucket(email, campaignID)

	// Walk cumulative target percentages. Buckets past the configured total
	// fall through to the least-assigned variant, which also evens out
	// schedules that do not sum to 100.
	cum := 0
	for _, v := range variants {
		cum += v.TargetPercent
		if bucket < cum {
			return v
		}
	}
	return leastAssigned(variants)
}

// variantBucket hashes the recipient into [0, 100).
func variantBucket(email string, campaignID uuid.UUID) int {
	h := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(email)) + ":" + campaignID.String()))
	return int(binary.BigEndian.Uint64(h[:8]) % 100)
}

func leastAssigned(variants []*domain.Variant) *domain.Variant {
	best := variants[0]
	for _, v := range variants[1:] {
		if v.AssignedCount < best.AssignedCount {
			best = v
		}
	}
	return best
}
