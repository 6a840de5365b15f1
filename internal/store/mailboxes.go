package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/leadmap/campaign-engine/internal/domain"
)

// MailboxByID loads a sender mailbox with its credentials.
func (s *Store) MailboxByID(ctx context.Context, id uuid.UUID) (*domain.Mailbox, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	m := &domain.Mailbox{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, email, COALESCE(name, ''), active, provider,
		        COALESCE(hourly_limit, 0), COALESCE(daily_limit, 0),
		        COALESCE(smtp_host, ''), COALESCE(smtp_port, 0),
		        COALESCE(smtp_username, ''), COALESCE(smtp_password, ''),
		        COALESCE(access_token, ''), COALESCE(refresh_token, ''), token_expires_at,
		        COALESCE(last_error, ''), last_error_at, created_at, updated_at
		 FROM mailboxes WHERE id = $1`, id).Scan(
		&m.ID, &m.UserID, &m.Email, &m.Name, &m.Active, &m.Provider,
		&m.HourlyLimit, &m.DailyLimit,
		&m.SMTPHost, &m.SMTPPort, &m.SMTPUser, &m.SMTPPass,
		&m.AccessToken, &m.RefreshToken, &m.TokenExpiresAt,
		&m.LastError, &m.LastErrorAt, &m.CreatedAt, &m.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query mailbox %s: %w", id, err)
	}
	return m, nil
}

// UpdateMailboxTokens persists a refreshed OAuth token pair.
func (s *Store) UpdateMailboxTokens(ctx context.Context, id uuid.UUID, accessToken, refreshToken string, expiresAt time.Time) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`UPDATE mailboxes
		 SET access_token = $2, refresh_token = $3, token_expires_at = $4, updated_at = NOW()
		 WHERE id = $1`, id, accessToken, refreshToken, expiresAt)
	if err != nil {
		return fmt.Errorf("update mailbox tokens %s: %w", id, err)
	}
	return nil
}

// SetMailboxError records the latest delivery failure on the mailbox so the
// dashboard can surface credential problems.
func (s *Store) SetMailboxError(ctx context.Context, id uuid.UUID, reason string, at time.Time) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`UPDATE mailboxes SET last_error = $2, last_error_at = $3, updated_at = NOW() WHERE id = $1`,
		id, reason, at)
	return err
}

// ClearMailboxError wipes the recorded failure after a successful send.
func (s *Store) ClearMailboxError(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`UPDATE mailboxes SET last_error = '', last_error_at = NULL, updated_at = NOW()
		 WHERE id = $1 AND last_error != ''`, id)
	return err
}
