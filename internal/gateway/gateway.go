// Package gateway abstracts the email providers a mailbox can send through:
// SparkPost, AWS SES, and SMTP (including Gmail and Outlook via XOAUTH2).
package gateway

import (
	"context"
	"fmt"

	"github.com/leadmap/campaign-engine/internal/domain"
)

// Message is the provider-independent outbound email.
type Message struct {
	FromEmail string
	FromName  string
	To        string
	ReplyTo   string
	Subject   string
	HTML      string

	// Tag values attached to provider metadata where supported.
	CampaignID  string
	RecipientID string
}

// Result reports a delivery attempt. A failed attempt with Permanent false
// is retryable; Permanent true means retrying cannot help (bad address,
// rejected content).
type Result struct {
	Success           bool
	ProviderMessageID string
	Reason            string
	Permanent         bool
}

// Sender delivers one message through a specific provider.
type Sender interface {
	Send(ctx context.Context, mailbox *domain.Mailbox, msg *Message) (*Result, error)
}

// Router picks the Sender for a mailbox's provider.
type Router struct {
	sparkpost Sender
	ses       Sender
	smtp      Sender
}

// NewRouter wires the configured provider senders. A nil sender means that
// provider is not configured in this deployment.
func NewRouter(sparkpost, ses, smtp Sender) *Router {
	return &Router{sparkpost: sparkpost, ses: ses, smtp: smtp}
}

// Send routes the message by mailbox provider.
func (r *Router) Send(ctx context.Context, mailbox *domain.Mailbox, msg *Message) (*Result, error) {
	var s Sender
	switch mailbox.Provider {
	case domain.ProviderSparkPost:
		s = r.sparkpost
	case domain.ProviderSES:
		s = r.ses
	case domain.ProviderGmail, domain.ProviderOutlook, domain.ProviderSMTP:
		s = r.smtp
	default:
		return nil, fmt.Errorf("unknown provider %q", mailbox.Provider)
	}
	if s == nil {
		return nil, fmt.Errorf("provider %q not configured", mailbox.Provider)
	}
	return s.Send(ctx, mailbox, msg)
}
