package domain

import (
	"time"

	"github.com/google/uuid"
)

// MailboxProvider identifies the delivery path for a sender identity.
type MailboxProvider string

const (
	ProviderSparkPost MailboxProvider = "sparkpost"
	ProviderSES       MailboxProvider = "ses"
	ProviderGmail     MailboxProvider = "gmail"
	ProviderOutlook   MailboxProvider = "outlook"
	ProviderSMTP      MailboxProvider = "smtp"
)

// Mailbox is a sender identity with its quota configuration and provider
// credentials. The engine reads limits and sends through it; credential
// provisioning belongs to the dashboard.
type Mailbox struct {
	ID     uuid.UUID `json:"id" db:"id"`
	UserID uuid.UUID `json:"user_id" db:"user_id"`
	Email  string    `json:"email" db:"email"`
	Name   string    `json:"name" db:"name"`
	Active bool      `json:"active" db:"active"`

	Provider MailboxProvider `json:"provider" db:"provider"`

	HourlyLimit int `json:"hourly_limit" db:"hourly_limit"`
	DailyLimit  int `json:"daily_limit" db:"daily_limit"`

	// SMTP credentials (provider smtp).
	SMTPHost string `json:"smtp_host" db:"smtp_host"`
	SMTPPort int    `json:"smtp_port" db:"smtp_port"`
	SMTPUser string `json:"-" db:"smtp_username"`
	SMTPPass string `json:"-" db:"smtp_password"`

	// OAuth tokens (providers gmail/outlook).
	AccessToken    string     `json:"-" db:"access_token"`
	RefreshToken   string     `json:"-" db:"refresh_token"`
	TokenExpiresAt *time.Time `json:"token_expires_at" db:"token_expires_at"`

	LastError   string     `json:"last_error" db:"last_error"`
	LastErrorAt *time.Time `json:"last_error_at" db:"last_error_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// TokenExpiringWithin reports whether the mailbox's OAuth access token
// expires inside the given horizon. Mailboxes without token expiry never
// report expiring.
func (m *Mailbox) TokenExpiringWithin(now time.Time, horizon time.Duration) bool {
	if m.TokenExpiresAt == nil {
		return false
	}
	return m.TokenExpiresAt.Before(now.Add(horizon))
}

// UsesOAuth reports whether sends through this mailbox authenticate with an
// OAuth access token rather than a static SMTP password.
func (m *Mailbox) UsesOAuth() bool {
	return m.Provider == ProviderGmail || m.Provider == ProviderOutlook
}

// Validate rejects rows the engine cannot safely send through.
func (m *Mailbox) Validate() error {
	if m.ID == uuid.Nil {
		return ValidationError("mailbox", "id", "is empty")
	}
	if m.Email == "" {
		return ValidationError("mailbox", "email", "is empty")
	}
	switch m.Provider {
	case ProviderSparkPost, ProviderSES, ProviderGmail, ProviderOutlook, ProviderSMTP:
	default:
		return ValidationError("mailbox", "provider", "unknown value "+string(m.Provider))
	}
	if m.HourlyLimit < 0 || m.DailyLimit < 0 {
		return ValidationError("mailbox", "limits", "are negative")
	}
	return nil
}
