package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadmap/campaign-engine/internal/domain"
)

func TestSparkPostSendSuccess(t *testing.T) {
	var captured map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transmissions", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"results": map[string]string{"id": "tx-123"},
		})
	}))
	defer srv.Close()

	s := NewSparkPostSender("test-key", srv.URL, 5*time.Second)
	res, err := s.Send(context.Background(), &domain.Mailbox{}, &Message{
		FromEmail: "me@example.com",
		FromName:  "Me",
		To:        "lead@example.com",
		Subject:   "Hello",
		HTML:      "<p>Hi</p>",
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "tx-123", res.ProviderMessageID)

	content := captured["content"].(map[string]interface{})
	assert.Equal(t, "Hello", content["subject"])
	options := captured["options"].(map[string]interface{})
	assert.Equal(t, false, options["open_tracking"], "provider tracking stays off")
}

func TestSparkPostSendErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		permanent bool
	}{
		{"bad request is permanent", http.StatusBadRequest, true},
		{"unprocessable is permanent", http.StatusUnprocessableEntity, true},
		{"rate limited is retryable", http.StatusTooManyRequests, false},
		{"server error is retryable", http.StatusInternalServerError, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			s := NewSparkPostSender("k", srv.URL, 5*time.Second)
			res, err := s.Send(context.Background(), &domain.Mailbox{}, &Message{To: "x@example.com"})
			require.NoError(t, err)
			assert.False(t, res.Success)
			assert.Equal(t, tt.permanent, res.Permanent)
		})
	}
}

func TestRouterSelectsByProvider(t *testing.T) {
	sp := &fakeSender{}
	r := NewRouter(sp, nil, nil)

	_, err := r.Send(context.Background(), &domain.Mailbox{Provider: domain.ProviderSparkPost}, &Message{})
	require.NoError(t, err)
	assert.Equal(t, 1, sp.calls)

	_, err = r.Send(context.Background(), &domain.Mailbox{Provider: domain.ProviderSES}, &Message{})
	assert.ErrorContains(t, err, "not configured")

	_, err = r.Send(context.Background(), &domain.Mailbox{Provider: "carrier-pigeon"}, &Message{})
	assert.ErrorContains(t, err, "unknown provider")
}

type fakeSender struct{ calls int }

func (f *fakeSender) Send(ctx context.Context, m *domain.Mailbox, msg *Message) (*Result, error) {
	f.calls++
	return &Result{Success: true}, nil
}

func TestXOAuth2Start(t *testing.T) {
	a := &xoauth2Auth{user: "me@gmail.com", token: "tok"}

	_, _, err := a.Start(&smtp.ServerInfo{TLS: false})
	assert.Error(t, err, "refuses plaintext connections")

	mech, resp, err := a.Start(&smtp.ServerInfo{TLS: true})
	require.NoError(t, err)
	assert.Equal(t, "XOAUTH2", mech)
	assert.Equal(t, "user=me@gmail.com\x01auth=Bearer tok\x01\x01", string(resp))
}

func TestSMTPEndpointDefaults(t *testing.T) {
	host, port := smtpEndpoint(&domain.Mailbox{Provider: domain.ProviderGmail})
	assert.Equal(t, "smtp.gmail.com", host)
	assert.Equal(t, 587, port)

	host, port = smtpEndpoint(&domain.Mailbox{Provider: domain.ProviderSMTP, SMTPHost: "mail.corp.example", SMTPPort: 2525})
	assert.Equal(t, "mail.corp.example", host)
	assert.Equal(t, 2525, port)
}

func TestTokenRefresherSkipsFreshTokens(t *testing.T) {
	tr := NewTokenRefresher("gid", "gsecret", "", "", 10*time.Minute)
	now := time.Now()
	exp := now.Add(time.Hour)
	m := &domain.Mailbox{
		ID:             uuid.New(),
		Provider:       domain.ProviderGmail,
		AccessToken:    "tok",
		RefreshToken:   "refresh",
		TokenExpiresAt: &exp,
	}

	tok, err := tr.Refreshed(context.Background(), m, now)
	require.NoError(t, err)
	assert.Nil(t, tok, "fresh tokens are left alone")
}

func TestTokenRefresherRequiresRefreshToken(t *testing.T) {
	tr := NewTokenRefresher("gid", "gsecret", "", "", 10*time.Minute)
	now := time.Now()
	exp := now.Add(time.Minute)
	m := &domain.Mailbox{
		ID:             uuid.New(),
		Provider:       domain.ProviderGmail,
		AccessToken:    "tok",
		TokenExpiresAt: &exp,
	}

	_, err := tr.Refreshed(context.Background(), m, now)
	assert.ErrorContains(t, err, "no refresh token")
}
