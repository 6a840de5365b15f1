package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/leadmap/campaign-engine/internal/domain"
)

const campaignColumns = `id, user_id, mailbox_id, name, status, strategy,
	start_at, end_at, COALESCE(timezone, ''), send_window,
	COALESCE(daily_cap, 0), COALESCE(hourly_cap, 0), COALESCE(total_cap, 0),
	warmup_enabled, warmup_schedule, COALESCE(current_warmup_day, 0),
	stop_on_reply, track_opens, track_clicks, prioritize_recent,
	COALESCE(send_gap_seconds, 0), completed_at, created_at, updated_at`

func scanCampaign(row interface{ Scan(...interface{}) error }) (*domain.Campaign, error) {
	c := &domain.Campaign{}
	err := row.Scan(
		&c.ID, &c.UserID, &c.MailboxID, &c.Name, &c.Status, &c.Strategy,
		&c.StartAt, &c.EndAt, &c.Timezone, &c.Window,
		&c.DailyCap, &c.HourlyCap, &c.TotalCap,
		&c.WarmupEnabled, &c.WarmupSchedule, &c.CurrentWarmupDay,
		&c.StopOnReply, &c.TrackOpens, &c.TrackClicks, &c.PrioritizeRecent,
		&c.SendGapSeconds, &c.CompletedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// DueCampaigns returns campaigns a scan pass should consider: running or
// scheduled, with a start date that has arrived. Expired campaigns are
// included so the caller can complete them.
func (s *Store) DueCampaigns(ctx context.Context, now time.Time) ([]*domain.Campaign, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM campaigns
		WHERE status IN ('running', 'scheduled')
		  AND (start_at IS NULL OR start_at <= $1)
		ORDER BY created_at ASC`, campaignColumns)

	rows, err := s.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("query due campaigns: %w", err)
	}
	defer rows.Close()

	var out []*domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CampaignByID loads a single campaign.
func (s *Store) CampaignByID(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM campaigns WHERE id = $1`, campaignColumns)
	c, err := scanCampaign(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	return c, err
}

// CompleteCampaign marks a campaign completed and stamps completed_at.
func (s *Store) CompleteCampaign(ctx context.Context, id uuid.UUID, at time.Time) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`UPDATE campaigns SET status = 'completed', completed_at = $2, updated_at = NOW()
		 WHERE id = $1 AND status != 'completed'`, id, at)
	if err != nil {
		return fmt.Errorf("complete campaign %s: %w", id, err)
	}
	return nil
}

// SetWarmupDay records the warmup day the scanner last evaluated. The value
// only moves forward.
func (s *Store) SetWarmupDay(ctx context.Context, id uuid.UUID, day int) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`UPDATE campaigns SET current_warmup_day = $2, updated_at = NOW()
		 WHERE id = $1 AND current_warmup_day < $2`, id, day)
	return err
}

// CountCampaignSentToday counts messages sent since local midnight in the
// campaign's timezone. The caller supplies the midnight boundary so timezone
// resolution stays in one place.
func (s *Store) CountCampaignSentToday(ctx context.Context, campaignID uuid.UUID, since time.Time) (int, error) {
	return s.countSent(ctx, `campaign_id = $1`, campaignID, since)
}

// CountCampaignSentSince counts messages sent for a campaign after the given
// instant. Used for the hourly cap.
func (s *Store) CountCampaignSentSince(ctx context.Context, campaignID uuid.UUID, since time.Time) (int, error) {
	return s.countSent(ctx, `campaign_id = $1`, campaignID, since)
}

// CountCampaignSentTotal counts every sent message for a campaign.
func (s *Store) CountCampaignSentTotal(ctx context.Context, campaignID uuid.UUID) (int, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages
		 WHERE campaign_id = $1 AND direction = 'outbound' AND status = 'sent'`,
		campaignID).Scan(&n)
	return n, err
}

func (s *Store) countSent(ctx context.Context, where string, id uuid.UUID, since time.Time) (int, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	query := fmt.Sprintf(`SELECT COUNT(*) FROM messages
		WHERE %s AND direction = 'outbound' AND status = 'sent' AND sent_at >= $2`, where)

	var n int
	err := s.db.QueryRowContext(ctx, query, id, since).Scan(&n)
	return n, err
}
