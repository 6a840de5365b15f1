package domain

import (
	"github.com/google/uuid"
)

// Variant is one arm of a split test on a sequence step. When a step has
// variants, each recipient is assigned exactly one arm and the assignment is
// stable across retries.
type Variant struct {
	ID         uuid.UUID `json:"id" db:"id"`
	CampaignID uuid.UUID `json:"campaign_id" db:"campaign_id"`
	StepNumber int       `json:"step_number" db:"step_number"`
	Name       string    `json:"name" db:"name"`

	Subject  string `json:"subject" db:"subject"`
	BodyHTML string `json:"body_html" db:"body_html"`

	// TargetPercent is the share of recipients this arm should receive.
	// Zero across all arms means "balance by least-assigned" instead.
	TargetPercent int `json:"target_percent" db:"target_percent"`

	AssignedCount int `json:"assigned_count" db:"assigned_count"`
}

// Validate rejects variants the selector cannot safely use.
func (v *Variant) Validate() error {
	if v.ID == uuid.Nil {
		return ValidationError("variant", "id", "is empty")
	}
	if v.StepNumber < 1 {
		return ValidationError("variant", "step_number", "must be >= 1")
	}
	if v.TargetPercent < 0 || v.TargetPercent > 100 {
		return ValidationError("variant", "target_percent", "out of range")
	}
	return nil
}
