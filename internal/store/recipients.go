package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/leadmap/campaign-engine/internal/domain"
)

const recipientColumns = `id, campaign_id, email,
	COALESCE(first_name, ''), COALESCE(last_name, ''), COALESCE(company, ''), metadata,
	status, COALESCE(current_step_number, 0), next_send_at, last_sent_at,
	replied, bounced, unsubscribed,
	COALESCE(error_count, 0), COALESCE(last_error, ''), created_at, updated_at`

func scanRecipient(row interface{ Scan(...interface{}) error }) (*domain.Recipient, error) {
	r := &domain.Recipient{}
	err := row.Scan(
		&r.ID, &r.CampaignID, &r.Email,
		&r.FirstName, &r.LastName, &r.Company, &r.Metadata,
		&r.Status, &r.CurrentStepNumber, &r.NextSendAt, &r.LastSentAt,
		&r.Replied, &r.Bounced, &r.Unsubscribed,
		&r.ErrorCount, &r.LastError, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// RecipientByID loads a single recipient. The delivery worker re-reads the
// row before each send to catch unsubscribes and bounces that landed after
// the message was queued.
func (s *Store) RecipientByID(ctx context.Context, id uuid.UUID) (*domain.Recipient, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM campaign_recipients WHERE id = $1`, recipientColumns)
	r, err := scanRecipient(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	return r, err
}

// DueRecipients returns the batch of recipients ready for their next step:
// non-terminal status and next_send_at either unset (never contacted) or in
// the past. Ordering is oldest-due first unless prioritizeRecent flips it to
// newest-added first.
func (s *Store) DueRecipients(ctx context.Context, campaignID uuid.UUID, now time.Time, limit int, prioritizeRecent bool) ([]*domain.Recipient, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	order := `next_send_at ASC NULLS FIRST, created_at ASC`
	if prioritizeRecent {
		order = `created_at DESC`
	}
	query := fmt.Sprintf(`SELECT %s FROM campaign_recipients
		WHERE campaign_id = $1
		  AND status IN ('pending', 'queued', 'in_progress')
		  AND (next_send_at IS NULL OR next_send_at <= $2)
		ORDER BY %s
		LIMIT $3`, recipientColumns, order)

	rows, err := s.db.QueryContext(ctx, query, campaignID, now, limit)
	if err != nil {
		return nil, fmt.Errorf("query due recipients: %w", err)
	}
	defer rows.Close()

	var out []*domain.Recipient
	for rows.Next() {
		r, err := scanRecipient(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// AdvanceRecipient moves the step cursor forward after a successful send and
// schedules the follow-up. A nil nextSendAt with a terminal status ends the
// sequence.
func (s *Store) AdvanceRecipient(ctx context.Context, id uuid.UUID, stepNumber int, status domain.RecipientStatus, sentAt time.Time, nextSendAt *time.Time) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	// The cursor guard keeps duplicate deliveries from rewinding progress.
	_, err := s.db.ExecContext(ctx,
		`UPDATE campaign_recipients
		 SET current_step_number = $2, status = $3, last_sent_at = $4,
		     next_send_at = $5, error_count = 0, last_error = '', updated_at = NOW()
		 WHERE id = $1 AND current_step_number < $2`,
		id, stepNumber, status, sentAt, nextSendAt)
	if err != nil {
		return fmt.Errorf("advance recipient %s: %w", id, err)
	}
	return nil
}

// SetRecipientStatus applies a status transition without touching the cursor.
func (s *Store) SetRecipientStatus(ctx context.Context, id uuid.UUID, status domain.RecipientStatus) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`UPDATE campaign_recipients SET status = $2, updated_at = NOW() WHERE id = $1`,
		id, status)
	return err
}

// SetRecipientNextSend defers a recipient without changing its status, used
// when a send window pushes work to a later instant.
func (s *Store) SetRecipientNextSend(ctx context.Context, id uuid.UUID, at time.Time) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`UPDATE campaign_recipients SET next_send_at = $2, updated_at = NOW() WHERE id = $1`,
		id, at)
	return err
}

// MarkRecipientQueued flags a recipient as having a message waiting in the
// delivery queue.
func (s *Store) MarkRecipientQueued(ctx context.Context, id uuid.UUID) error {
	return s.SetRecipientStatus(ctx, id, domain.RecipientQueued)
}

// IncrementRecipientError bumps the consecutive-failure counter and records
// the failure. Once the counter reaches maxErrors the recipient fails
// terminally.
func (s *Store) IncrementRecipientError(ctx context.Context, id uuid.UUID, reason string, maxErrors int) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`UPDATE campaign_recipients
		 SET error_count = error_count + 1,
		     last_error = $2,
		     status = CASE WHEN error_count + 1 >= $3 THEN 'failed' ELSE status END,
		     updated_at = NOW()
		 WHERE id = $1`,
		id, reason, maxErrors)
	if err != nil {
		return fmt.Errorf("increment recipient error %s: %w", id, err)
	}
	return nil
}

// MarkRecipientUnsubscribed stops the recipient and raises the unsubscribe
// flag in one statement.
func (s *Store) MarkRecipientUnsubscribed(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`UPDATE campaign_recipients
		 SET status = 'unsubscribed', unsubscribed = TRUE, updated_at = NOW()
		 WHERE id = $1`, id)
	return err
}

// MarkRecipientBounced stops the recipient and raises the bounce flag.
func (s *Store) MarkRecipientBounced(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`UPDATE campaign_recipients
		 SET status = 'bounced', bounced = TRUE, updated_at = NOW()
		 WHERE id = $1`, id)
	return err
}

// CountActiveRecipients reports how many recipients in a campaign are still
// in a non-terminal state. A zero count with no pending messages means the
// campaign can complete.
func (s *Store) CountActiveRecipients(ctx context.Context, campaignID uuid.UUID) (int, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM campaign_recipients
		 WHERE campaign_id = $1 AND status IN ('pending', 'queued', 'in_progress')`,
		campaignID).Scan(&n)
	return n, err
}
