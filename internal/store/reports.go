package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/leadmap/campaign-engine/internal/domain"
)

// UpsertDailyReport bumps the per-campaign daily aggregate through the
// increment_campaign_daily_report function. Older databases do not have the
// function installed, so an undefined-function error is logged and swallowed.
func (s *Store) UpsertDailyReport(ctx context.Context, campaignID uuid.UUID, day time.Time, sent, failed int) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`SELECT increment_campaign_daily_report($1, $2::date, $3, $4)`,
		campaignID, day.Format("2006-01-02"), sent, failed)
	if err != nil {
		if strings.Contains(err.Error(), "does not exist") {
			log.Printf("[Store] daily report function missing, skipping aggregate for campaign %s", campaignID)
			return nil
		}
		return fmt.Errorf("upsert daily report: %w", err)
	}
	return nil
}

// InsertEvent appends a telemetry row for a message lifecycle transition.
// Telemetry is best-effort; callers log failures and move on.
func (s *Store) InsertEvent(ctx context.Context, e *domain.Event) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO message_events (id, campaign_id, recipient_id, message_id, event_type, detail, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.CampaignID, e.RecipientID, e.MessageID, e.Type, e.Detail, e.OccurredAt)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// ComplianceByUser loads the sender's compliance settings: unsubscribe footer
// and postal address. Missing rows return empty settings rather than an
// error so config-level defaults apply.
func (s *Store) ComplianceByUser(ctx context.Context, userID uuid.UUID) (*domain.ComplianceSettings, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	cs := &domain.ComplianceSettings{UserID: userID}
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(unsubscribe_footer_html, ''), COALESCE(company_address, ''), COALESCE(company_name, '')
		 FROM user_settings WHERE user_id = $1`, userID).Scan(
		&cs.FooterHTML, &cs.CompanyAddress, &cs.CompanyName)
	if err == sql.ErrNoRows {
		return cs, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query compliance settings: %w", err)
	}
	return cs, nil
}
