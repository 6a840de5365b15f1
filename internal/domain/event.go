package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventType labels a message lifecycle transition recorded for telemetry.
type EventType string

const (
	EventQueued       EventType = "queued"
	EventSent         EventType = "sent"
	EventFailed       EventType = "failed"
	EventSkipped      EventType = "skipped"
	EventStopped      EventType = "stopped"
	EventBounced      EventType = "bounced"
	EventUnsubscribed EventType = "unsubscribed"
)

// Event is a best-effort telemetry row. The engine never reads these back;
// they exist for the dashboard's activity feed.
type Event struct {
	ID          uuid.UUID `json:"id" db:"id"`
	CampaignID  uuid.UUID `json:"campaign_id" db:"campaign_id"`
	RecipientID uuid.UUID `json:"recipient_id" db:"recipient_id"`
	// MessageID is nil for recipient-level events (stopped, unsubscribed,
	// bounced) that have no message row.
	MessageID  *uuid.UUID `json:"message_id,omitempty" db:"message_id"`
	Type       EventType  `json:"event_type" db:"event_type"`
	Detail     string     `json:"detail" db:"detail"`
	OccurredAt time.Time  `json:"occurred_at" db:"occurred_at"`
}

// ComplianceSettings holds the per-user unsubscribe footer configuration.
type ComplianceSettings struct {
	UserID         uuid.UUID `json:"user_id" db:"user_id"`
	FooterHTML     string    `json:"unsubscribe_footer_html" db:"unsubscribe_footer_html"`
	CompanyAddress string    `json:"company_address" db:"company_address"`
	CompanyName    string    `json:"company_name" db:"company_name"`
}
