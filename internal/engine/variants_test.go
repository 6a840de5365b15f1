package engine

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/leadmap/campaign-engine/internal/domain"
)

func TestPickVariantDeterministic(t *testing.T) {
	campaignID := uuid.New()
	variants := []*domain.Variant{
		{ID: uuid.New(), Name: "A", TargetPercent: 50},
		{ID: uuid.New(), Name: "B", TargetPercent: 50},
	}

	first := PickVariant(variants, "lead@example.com", campaignID)
	for i := 0; i < 20; i++ {
		assert.Same(t, first, PickVariant(variants, "lead@example.com", campaignID))
	}

	// Case and whitespace do not change the assignment.
	assert.Same(t, first, PickVariant(variants, "  LEAD@example.com ", campaignID))
}

func TestPickVariantEmptyAndSingle(t *testing.T) {
	assert.Nil(t, PickVariant(nil, "x@example.com", uuid.New()))

	only := &domain.Variant{ID: uuid.New(), Name: "A", TargetPercent: 10}
	assert.Same(t, only, PickVariant([]*domain.Variant{only}, "x@example.com", uuid.New()))
}

func TestPickVariantDistributionRoughlyMatchesTargets(t *testing.T) {
	campaignID := uuid.New()
	a := &domain.Variant{ID: uuid.New(), Name: "A", TargetPercent: 80}
	b := &domain.Variant{ID: uuid.New(), Name: "B", TargetPercent: 20}
	variants := []*domain.Variant{a, b}

	countA := 0
	for i := 0; i < 1000; i++ {
		if PickVariant(variants, fmt.Sprintf("lead%d@example.com", i), campaignID) == a {
			countA++
		}
	}
	assert.Greater(t, countA, 700)
	assert.Less(t, countA, 900)
}

func TestPickVariantFallbackLeastAssigned(t *testing.T) {
	// Targets sum to 40; buckets in [40, 100) fall through to the
	// least-assigned variant.
	a := &domain.Variant{ID: uuid.New(), Name: "A", TargetPercent: 20, AssignedCount: 9}
	b := &domain.Variant{ID: uuid.New(), Name: "B", TargetPercent: 20, AssignedCount: 3}
	variants := []*domain.Variant{a, b}

	campaignID := uuid.New()
	for i := 0; i < 200; i++ {
		email := fmt.Sprintf("lead%d@example.com", i)
		if variantBucket(email, campaignID) >= 40 {
			assert.Same(t, b, PickVariant(variants, email, campaignID))
			return
		}
	}
	t.Fatal("no fall-through bucket found in sample")
}
