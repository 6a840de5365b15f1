package domain

import (
	"time"

	"github.com/google/uuid"
)

// MessageStatus enumerates the lifecycle of a single send attempt.
// scheduled -> queued -> sending -> {sent | failed}. A failed message is
// never re-queued; retry happens by the recipient being re-evaluated and a
// new message row being created.
type MessageStatus string

const (
	MessageScheduled MessageStatus = "scheduled"
	MessageQueued    MessageStatus = "queued"
	MessageSending   MessageStatus = "sending"
	MessageSent      MessageStatus = "sent"
	MessageFailed    MessageStatus = "failed"
)

// MessageDirection separates engine-produced sends from synced inbox mail.
type MessageDirection string

const (
	DirectionOutbound MessageDirection = "outbound"
	DirectionInbound  MessageDirection = "inbound"
)

// Message is one concrete send attempt linking campaign, step, recipient and
// mailbox. Created by the advancer, mutated only by the delivery worker,
// terminal once sent or failed.
type Message struct {
	ID          uuid.UUID        `json:"id" db:"id"`
	CampaignID  uuid.UUID        `json:"campaign_id" db:"campaign_id"`
	RecipientID uuid.UUID        `json:"recipient_id" db:"recipient_id"`
	MailboxID   uuid.UUID        `json:"mailbox_id" db:"mailbox_id"`
	StepNumber  int              `json:"step_number" db:"step_number"`
	Direction   MessageDirection `json:"direction" db:"direction"`

	ToEmail string `json:"to_email" db:"to_email"`
	Subject string `json:"subject" db:"subject"`
	HTML    string `json:"html" db:"html"`

	Status            MessageStatus `json:"status" db:"status"`
	ScheduledAt       time.Time     `json:"scheduled_at" db:"scheduled_at"`
	SentAt            *time.Time    `json:"sent_at" db:"sent_at"`
	ProviderMessageID string        `json:"provider_message_id" db:"provider_message_id"`
	Error             string        `json:"error" db:"error"`
	Attempts          int           `json:"attempts" db:"attempts"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Terminal reports whether the message reached a final state.
func (m *Message) Terminal() bool {
	return m.Status == MessageSent || m.Status == MessageFailed
}

// Validate rejects rows the delivery worker cannot safely process.
func (m *Message) Validate() error {
	if m.ID == uuid.Nil {
		return ValidationError("message", "id", "is empty")
	}
	if m.RecipientID == uuid.Nil {
		return ValidationError("message", "recipient_id", "is empty")
	}
	if m.MailboxID == uuid.Nil {
		return ValidationError("message", "mailbox_id", "is empty")
	}
	if m.ToEmail == "" {
		return ValidationError("message", "to_email", "is empty")
	}
	if m.StepNumber < 1 {
		return ValidationError("message", "step_number", "must be >= 1")
	}
	return nil
}
