package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/leadmap/campaign-engine/internal/domain"
)

// StepsByCampaign returns a campaign's steps ordered by step number.
func (s *Store) StepsByCampaign(ctx context.Context, campaignID uuid.UUID) ([]*domain.Step, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, campaign_id, step_number, COALESCE(delay_days, 0), COALESCE(delay_hours, 0),
		        COALESCE(subject, ''), COALESCE(body_html, ''), send_window, stop_on_reply, created_at
		 FROM campaign_steps
		 WHERE campaign_id = $1
		 ORDER BY step_number ASC`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("query campaign steps: %w", err)
	}
	defer rows.Close()

	var out []*domain.Step
	for rows.Next() {
		st := &domain.Step{}
		if err := rows.Scan(
			&st.ID, &st.CampaignID, &st.StepNumber, &st.DelayDays, &st.DelayHours,
			&st.Subject, &st.BodyHTML, &st.Window, &st.StopOnReply, &st.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// VariantsByStep returns the subject/body variants configured for one step.
// An empty slice means the step sends its base content.
func (s *Store) VariantsByStep(ctx context.Context, campaignID uuid.UUID, stepNumber int) ([]*domain.Variant, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, campaign_id, step_number, COALESCE(name, ''),
		        COALESCE(subject, ''), COALESCE(body_html, ''),
		        COALESCE(target_percent, 0), COALESCE(assigned_count, 0)
		 FROM campaign_variants
		 WHERE campaign_id = $1 AND step_number = $2
		 ORDER BY name ASC`, campaignID, stepNumber)
	if err != nil {
		return nil, fmt.Errorf("query step variants: %w", err)
	}
	defer rows.Close()

	var out []*domain.Variant
	for rows.Next() {
		v := &domain.Variant{}
		if err := rows.Scan(
			&v.ID, &v.CampaignID, &v.StepNumber, &v.Name,
			&v.Subject, &v.BodyHTML, &v.TargetPercent, &v.AssignedCount,
		); err != nil {
			return nil, fmt.Errorf("scan variant: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// IncrementVariantAssigned records one more recipient assigned to a variant.
func (s *Store) IncrementVariantAssigned(ctx context.Context, variantID uuid.UUID) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`UPDATE campaign_variants SET assigned_count = assigned_count + 1 WHERE id = $1`,
		variantID)
	return err
}
