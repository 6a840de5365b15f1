package delivery

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/leadmap/campaign-engine/internal/domain"
	"github.com/leadmap/campaign-engine/internal/gateway"
)

// InlineSender delivers a composed message during the scan pass itself,
// bypassing the queue. Used when deferred delivery is disabled.
type InlineSender struct {
	store     Store
	gateway   *gateway.Router
	tracker   *Tracker
	refresher *gateway.TokenRefresher
}

// NewInlineSender wires an inline sender. tracker and refresher may be nil.
func NewInlineSender(store Store, gw *gateway.Router, tracker *Tracker, refresher *gateway.TokenRefresher) *InlineSender {
	return &InlineSender{store: store, gateway: gw, tracker: tracker, refresher: refresher}
}

// SendNow sends one message synchronously. The permanent flag tells the
// caller whether retrying the recipient later could succeed.
func (s *InlineSender) SendNow(ctx context.Context, mailbox *domain.Mailbox, c *domain.Campaign, r *domain.Recipient, msg *domain.Message) (string, bool, error) {
	now := time.Now()

	if s.refresher != nil {
		tok, err := s.refresher.Refreshed(ctx, mailbox, now)
		if err != nil {
			return "", false, err
		}
		if tok != nil {
			mailbox.AccessToken = tok.AccessToken
			if tok.RefreshToken != "" {
				mailbox.RefreshToken = tok.RefreshToken
			}
			mailbox.TokenExpiresAt = &tok.Expiry
			if err := s.store.UpdateMailboxTokens(ctx, mailbox.ID, mailbox.AccessToken, mailbox.RefreshToken, tok.Expiry); err != nil {
				log.Printf("[InlineSender] failed to persist refreshed token for %s: %v", mailbox.ID, err)
			}
		}
	}

	// The message row is inserted after the send on the inline path, so
	// the ID must exist before tracking URLs embed it.
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}

	html := msg.HTML
	if s.tracker != nil {
		html = s.tracker.Inject(html, c.ID, r.ID, msg.ID, c.TrackOpens, c.TrackClicks)
	}

	res, err := s.gateway.Send(ctx, mailbox, &gateway.Message{
		FromEmail:   mailbox.Email,
		FromName:    mailbox.Name,
		To:          msg.ToEmail,
		Subject:     msg.Subject,
		HTML:        html,
		CampaignID:  c.ID.String(),
		RecipientID: r.ID.String(),
	})
	if err != nil {
		return "", false, err
	}
	if !res.Success {
		return "", res.Permanent, errors.New(res.Reason)
	}
	return res.ProviderMessageID, false, nil
}
