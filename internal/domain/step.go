package domain

import (
	"time"

	"github.com/google/uuid"
)

// Step is one message template in a sequence, keyed by campaign and a
// 1-based, monotonically increasing step number. Read-only from the engine's
// perspective.
type Step struct {
	ID         uuid.UUID `json:"id" db:"id"`
	CampaignID uuid.UUID `json:"campaign_id" db:"campaign_id"`
	StepNumber int       `json:"step_number" db:"step_number"`

	// Delay applied after the previous step's send before this step is due.
	DelayDays  int `json:"delay_days" db:"delay_days"`
	DelayHours int `json:"delay_hours" db:"delay_hours"`

	Subject  string `json:"subject" db:"subject"`
	BodyHTML string `json:"body_html" db:"body_html"`

	// Optional per-step window; inherits the campaign's weekday list and
	// timezone when its own weekday list is empty.
	Window SendWindow `json:"send_window" db:"send_window"`

	// StopOnReply at the step level; the campaign-level flag takes precedence.
	StopOnReply *bool `json:"stop_on_reply" db:"stop_on_reply"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Delay returns the full inter-step delay as a duration.
func (s *Step) Delay() time.Duration {
	return time.Duration(s.DelayDays)*24*time.Hour + time.Duration(s.DelayHours)*time.Hour
}

// Validate rejects steps the engine cannot safely process.
func (s *Step) Validate() error {
	if s.ID == uuid.Nil {
		return ValidationError("step", "id", "is empty")
	}
	if s.CampaignID == uuid.Nil {
		return ValidationError("step", "campaign_id", "is empty")
	}
	if s.StepNumber < 1 {
		return ValidationError("step", "step_number", "must be >= 1")
	}
	if s.DelayDays < 0 || s.DelayHours < 0 {
		return ValidationError("step", "delay", "is negative")
	}
	if s.Subject == "" && s.BodyHTML == "" {
		return ValidationError("step", "subject", "and body are both empty")
	}
	return nil
}

// NextStep finds the step following the recipient's cursor in an ordered
// step list, or nil when the sequence is exhausted.
func NextStep(steps []*Step, currentStepNumber int) *Step {
	want := currentStepNumber + 1
	for _, s := range steps {
		if s.StepNumber == want {
			return s
		}
	}
	return nil
}
