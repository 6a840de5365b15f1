package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/leadmap/campaign-engine/internal/domain"
)

// InsertMessage persists a newly composed outbound message. The caller sets
// the status: queued for deferred delivery, sent when delivery already
// happened inline.
func (s *Store) InsertMessage(ctx context.Context, m *domain.Message) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	now := time.Now()
	m.CreatedAt = now
	m.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, campaign_id, recipient_id, mailbox_id, step_number, direction,
			to_email, subject, html, status, scheduled_at, sent_at, provider_message_id, error,
			attempts, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		m.ID, m.CampaignID, m.RecipientID, m.MailboxID, m.StepNumber, m.Direction,
		m.ToEmail, m.Subject, m.HTML, m.Status, m.ScheduledAt, m.SentAt, m.ProviderMessageID,
		m.Error, m.Attempts, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// HasPendingMessage reports whether a non-terminal outbound message already
// exists for this recipient and step. This is the dedupe guard that makes
// re-scans safe.
func (s *Store) HasPendingMessage(ctx context.Context, recipientID uuid.UUID, stepNumber int) (bool, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM messages
			WHERE recipient_id = $1 AND step_number = $2
			  AND direction = 'outbound'
			  AND status IN ('scheduled', 'queued', 'sending', 'sent')
		 )`, recipientID, stepNumber).Scan(&exists)
	return exists, err
}

// ClaimQueuedMessages atomically flips a batch of due queued messages to
// sending and returns them. SKIP LOCKED lets concurrent workers drain the
// queue without stepping on each other.
func (s *Store) ClaimQueuedMessages(ctx context.Context, now time.Time, limit int) ([]*domain.Message, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	query := `WITH claimed AS (
		UPDATE messages
		SET status = 'sending', attempts = attempts + 1, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM messages
			WHERE status = 'queued'
			  AND direction = 'outbound'
			  AND scheduled_at <= $1
			ORDER BY scheduled_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, campaign_id, recipient_id, mailbox_id, step_number, direction,
			to_email, subject, html, status, scheduled_at, sent_at,
			COALESCE(provider_message_id, ''), COALESCE(error, ''), attempts,
			created_at, updated_at
	)
	SELECT * FROM claimed`

	rows, err := s.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("claim queued messages: %w", err)
	}
	defer rows.Close()

	var out []*domain.Message
	for rows.Next() {
		m := &domain.Message{}
		if err := rows.Scan(
			&m.ID, &m.CampaignID, &m.RecipientID, &m.MailboxID, &m.StepNumber, &m.Direction,
			&m.ToEmail, &m.Subject, &m.HTML, &m.Status, &m.ScheduledAt, &m.SentAt,
			&m.ProviderMessageID, &m.Error, &m.Attempts, &m.CreatedAt, &m.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan claimed message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MarkMessageSent finalizes a delivered message.
func (s *Store) MarkMessageSent(ctx context.Context, id uuid.UUID, providerMessageID string, at time.Time) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`UPDATE messages
		 SET status = 'sent', sent_at = $2, provider_message_id = $3, error = '', updated_at = NOW()
		 WHERE id = $1`, id, at, providerMessageID)
	if err != nil {
		return fmt.Errorf("mark message sent %s: %w", id, err)
	}
	return nil
}

// MarkMessageFailed records a terminal delivery failure.
func (s *Store) MarkMessageFailed(ctx context.Context, id uuid.UUID, reason string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET status = 'failed', error = $2, updated_at = NOW() WHERE id = $1`,
		id, reason)
	return err
}

// RequeueMessage puts a claimed message back in the queue for a later
// attempt, optionally pushed to a new scheduled time.
func (s *Store) RequeueMessage(ctx context.Context, id uuid.UUID, at time.Time, reason string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`UPDATE messages
		 SET status = 'queued', scheduled_at = $2, error = $3, updated_at = NOW()
		 WHERE id = $1`, id, at, reason)
	return err
}

// RequeueStaleSending recovers messages stuck in sending longer than the
// given age, usually after a worker crash. Messages out of attempts fail
// instead of requeueing. Returns requeued and failed counts.
func (s *Store) RequeueStaleSending(ctx context.Context, olderThan time.Time, maxAttempts int) (requeued, failed int, err error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx,
		`UPDATE messages
		 SET status = 'queued', updated_at = NOW()
		 WHERE status = 'sending' AND updated_at < $1 AND attempts < $2`,
		olderThan, maxAttempts)
	if err != nil {
		return 0, 0, fmt.Errorf("requeue stale sending: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		requeued = int(n)
	}

	res, err = s.db.ExecContext(ctx,
		`UPDATE messages
		 SET status = 'failed', error = 'delivery abandoned after repeated attempts', updated_at = NOW()
		 WHERE status = 'sending' AND updated_at < $1 AND attempts >= $2`,
		olderThan, maxAttempts)
	if err != nil {
		return requeued, 0, fmt.Errorf("fail stale sending: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		failed = int(n)
	}
	return requeued, failed, nil
}

// CountQueuedForCampaign reports messages still waiting for delivery. Used by
// the completion check so a campaign does not complete with mail in flight.
func (s *Store) CountQueuedForCampaign(ctx context.Context, campaignID uuid.UUID) (int, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages
		 WHERE campaign_id = $1 AND direction = 'outbound' AND status IN ('scheduled', 'queued', 'sending')`,
		campaignID).Scan(&n)
	return n, err
}

// CountMailboxSentSince counts outbound messages a mailbox has sent after the
// given instant, across every campaign it serves.
func (s *Store) CountMailboxSentSince(ctx context.Context, mailboxID uuid.UUID, since time.Time) (int, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages
		 WHERE mailbox_id = $1 AND direction = 'outbound' AND status = 'sent' AND sent_at >= $2`,
		mailboxID, since).Scan(&n)
	return n, err
}

// LastMailboxSendAt returns the most recent sent_at for a mailbox, or nil if
// it has never sent. Used to honor per-mailbox send gaps.
func (s *Store) LastMailboxSendAt(ctx context.Context, mailboxID uuid.UUID) (*time.Time, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var at *time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(sent_at) FROM messages
		 WHERE mailbox_id = $1 AND direction = 'outbound' AND status = 'sent'`,
		mailboxID).Scan(&at)
	return at, err
}
