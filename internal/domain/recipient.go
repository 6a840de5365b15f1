package domain

import (
	"database/sql/driver"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RecipientStatus enumerates the per-recipient progress states.
type RecipientStatus string

const (
	RecipientPending      RecipientStatus = "pending"
	RecipientQueued       RecipientStatus = "queued"
	RecipientInProgress   RecipientStatus = "in_progress"
	RecipientCompleted    RecipientStatus = "completed"
	RecipientStopped      RecipientStatus = "stopped"
	RecipientBounced      RecipientStatus = "bounced"
	RecipientUnsubscribed RecipientStatus = "unsubscribed"
	RecipientFailed       RecipientStatus = "failed"
)

// Metadata is the free-form merge-field map attached to a recipient.
type Metadata map[string]interface{}

func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func (m *Metadata) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(b, m)
}

// Recipient is the per-recipient progress cursor in a campaign sequence.
// CurrentStepNumber is the last step fully sent (0 = none). A nil or past
// NextSendAt makes the recipient eligible for evaluation.
type Recipient struct {
	ID         uuid.UUID `json:"id" db:"id"`
	CampaignID uuid.UUID `json:"campaign_id" db:"campaign_id"`

	Email     string   `json:"email" db:"email"`
	FirstName string   `json:"first_name" db:"first_name"`
	LastName  string   `json:"last_name" db:"last_name"`
	Company   string   `json:"company" db:"company"`
	Metadata  Metadata `json:"metadata" db:"metadata"`

	Status            RecipientStatus `json:"status" db:"status"`
	CurrentStepNumber int             `json:"current_step_number" db:"current_step_number"`
	NextSendAt        *time.Time      `json:"next_send_at" db:"next_send_at"`
	LastSentAt        *time.Time      `json:"last_sent_at" db:"last_sent_at"`

	Replied      bool `json:"replied" db:"replied"`
	Bounced      bool `json:"bounced" db:"bounced"`
	Unsubscribed bool `json:"unsubscribed" db:"unsubscribed"`

	ErrorCount int    `json:"error_count" db:"error_count"`
	LastError  string `json:"last_error" db:"last_error"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Terminal reports whether the recipient can never receive another send.
func (r *Recipient) Terminal() bool {
	switch r.Status {
	case RecipientCompleted, RecipientStopped, RecipientBounced, RecipientUnsubscribed, RecipientFailed:
		return true
	}
	return false
}

// Due reports whether the recipient is eligible for evaluation at now.
func (r *Recipient) Due(now time.Time) bool {
	if r.Terminal() {
		return false
	}
	return r.NextSendAt == nil || !r.NextSendAt.After(now)
}

// Validate rejects rows the engine cannot safely process.
func (r *Recipient) Validate() error {
	if r.ID == uuid.Nil {
		return ValidationError("recipient", "id", "is empty")
	}
	if r.CampaignID == uuid.Nil {
		return ValidationError("recipient", "campaign_id", "is empty")
	}
	if !strings.Contains(r.Email, "@") {
		return ValidationError("recipient", "email", "is not an address")
	}
	if r.CurrentStepNumber < 0 {
		return ValidationError("recipient", "current_step_number", "is negative")
	}
	switch r.Status {
	case RecipientPending, RecipientQueued, RecipientInProgress, RecipientCompleted,
		RecipientStopped, RecipientBounced, RecipientUnsubscribed, RecipientFailed:
	default:
		return ValidationError("recipient", "status", "unknown value "+string(r.Status))
	}
	return nil
}
