package gateway

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/microsoft"

	"github.com/leadmap/campaign-engine/internal/domain"
)

// TokenRefresher exchanges a mailbox's refresh token for a fresh access
// token when the stored one is close to expiry.
type TokenRefresher struct {
	google  *oauth2.Config
	outlook *oauth2.Config
	horizon time.Duration
}

// NewTokenRefresher configures the OAuth clients used for Gmail and Outlook
// mailboxes. horizon is how close to expiry a token may get before refresh.
func NewTokenRefresher(googleID, googleSecret, outlookID, outlookSecret string, horizon time.Duration) *TokenRefresher {
	if horizon <= 0 {
		horizon = 10 * time.Minute
	}
	return &TokenRefresher{
		google: &oauth2.Config{
			ClientID:     googleID,
			ClientSecret: googleSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{"https://mail.google.com/"},
		},
		outlook: &oauth2.Config{
			ClientID:     outlookID,
			ClientSecret: outlookSecret,
			Endpoint:     microsoft.AzureADEndpoint("common"),
			Scopes:       []string{"https://outlook.office.com/SMTP.Send", "offline_access"},
		},
		horizon: horizon,
	}
}

// Refreshed reports whether a refresh is needed and, if so, returns the new
// token. A nil token with nil error means the stored token is still good.
func (t *TokenRefresher) Refreshed(ctx context.Context, m *domain.Mailbox, now time.Time) (*oauth2.Token, error) {
	if !m.UsesOAuth() || !m.TokenExpiringWithin(now, t.horizon) {
		return nil, nil
	}
	if m.RefreshToken == "" {
		return nil, fmt.Errorf("mailbox %s token expiring with no refresh token", m.ID)
	}

	var cfg *oauth2.Config
	switch m.Provider {
	case domain.ProviderGmail:
		cfg = t.google
	case domain.ProviderOutlook:
		cfg = t.outlook
	default:
		return nil, nil
	}

	src := cfg.TokenSource(ctx, &oauth2.Token{
		AccessToken:  m.AccessToken,
		RefreshToken: m.RefreshToken,
		Expiry:       now.Add(-time.Minute),
	})
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("refresh token for mailbox %s: %w", m.ID, err)
	}
	return tok, nil
}
