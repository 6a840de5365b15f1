package engine

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/leadmap/campaign-engine/internal/domain"
	"github.com/leadmap/campaign-engine/internal/pkg/distlock"
	"github.com/leadmap/campaign-engine/internal/policy"
)

// Store is the persistence surface the scan pass needs. *store.Store
// implements it; tests substitute an in-memory fake.
type Store interface {
	DueCampaigns(ctx context.Context, now time.Time) ([]*domain.Campaign, error)
	CampaignByID(ctx context.Context, id uuid.UUID) (*domain.Campaign, error)
	CompleteCampaign(ctx context.Context, id uuid.UUID, at time.Time) error
	SetWarmupDay(ctx context.Context, id uuid.UUID, day int) error
	CountCampaignSentToday(ctx context.Context, campaignID uuid.UUID, since time.Time) (int, error)
	CountCampaignSentSince(ctx context.Context, campaignID uuid.UUID, since time.Time) (int, error)
	CountCampaignSentTotal(ctx context.Context, campaignID uuid.UUID) (int, error)

	StepsByCampaign(ctx context.Context, campaignID uuid.UUID) ([]*domain.Step, error)
	VariantsByStep(ctx context.Context, campaignID uuid.UUID, stepNumber int) ([]*domain.Variant, error)
	IncrementVariantAssigned(ctx context.Context, variantID uuid.UUID) error

	DueRecipients(ctx context.Context, campaignID uuid.UUID, now time.Time, limit int, prioritizeRecent bool) ([]*domain.Recipient, error)
	CountActiveRecipients(ctx context.Context, campaignID uuid.UUID) (int, error)
	AdvanceRecipient(ctx context.Context, id uuid.UUID, stepNumber int, status domain.RecipientStatus, sentAt time.Time, nextSendAt *time.Time) error
	SetRecipientStatus(ctx context.Context, id uuid.UUID, status domain.RecipientStatus) error
	SetRecipientNextSend(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkRecipientQueued(ctx context.Context, id uuid.UUID) error
	MarkRecipientUnsubscribed(ctx context.Context, id uuid.UUID) error
	MarkRecipientBounced(ctx context.Context, id uuid.UUID) error
	IncrementRecipientError(ctx context.Context, id uuid.UUID, reason string, maxErrors int) error

	InsertMessage(ctx context.Context, m *domain.Message) error
	HasPendingMessage(ctx context.Context, recipientID uuid.UUID, stepNumber int) (bool, error)
	CountQueuedForCampaign(ctx context.Context, campaignID uuid.UUID) (int, error)
	CountMailboxSentSince(ctx context.Context, mailboxID uuid.UUID, since time.Time) (int, error)

	MailboxByID(ctx context.Context, id uuid.UUID) (*domain.Mailbox, error)
	ComplianceByUser(ctx context.Context, userID uuid.UUID) (*domain.ComplianceSettings, error)
	UpsertDailyReport(ctx context.Context, campaignID uuid.UUID, day time.Time, sent, failed int) error
	InsertEvent(ctx context.Context, e *domain.Event) error
}

// LeaseFactory builds the per-campaign lease for the configured lock
// strategy. A nil factory means no cross-process locking.
type LeaseFactory func(campaignID uuid.UUID) distlock.Lease

// Scanner runs one scan pass over all due campaigns.
type Scanner struct {
	store    Store
	throttle policy.Throttle
	advancer *Advancer
	leaseFor LeaseFactory

	batchSize int
}

// NewScanner wires a scanner. throttle may be policy.NopThrottle{} and
// leaseFor may be nil.
func NewScanner(store Store, throttle policy.Throttle, advancer *Advancer, leaseFor LeaseFactory, batchSize int) *Scanner {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Scanner{
		store:     store,
		throttle:  throttle,
		advancer:  advancer,
		leaseFor:  leaseFor,
		batchSize: batchSize,
	}
}

// Run executes one full scan pass. Campaign-level failures are isolated:
// a campaign that errors is reported in its result and the pass moves on.
func (s *Scanner) Run(ctx context.Context, now time.Time) (*Summary, error) {
	summary := newSummary(now)

	campaigns, err := s.store.DueCampaigns(ctx, now)
	if err != nil {
		summary.Success = false
		return summary.finish(time.Now()), err
	}
	log.Printf("[CampaignScanner] scan pass: %d due campaigns", len(campaigns))

	for _, c := range campaigns {
		select {
		case <-ctx.Done():
			summary.Success = false
			return summary.finish(time.Now()), ctx.Err()
		default:
		}
		summary.add(s.processCampaign(ctx, c, now))
	}
	return summary.finish(time.Now()), nil
}

func (s *Scanner) processCampaign(ctx context.Context, c *domain.Campaign, now time.Time) (res *CampaignResult) {
	res = &CampaignResult{CampaignID: c.ID, Name: c.Name}
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("[CampaignScanner] panic in campaign %s: %v", c.ID, rec)
			res.Status = ResultError
			res.Error = "internal error"
			res.Failed++
		}
	}()

	if err := c.Validate(); err != nil {
		log.Printf("[CampaignScanner] skipping malformed campaign %s: %v", c.ID, err)
		return s.fail(res, err.Error())
	}

	// End-of-life first: an expired campaign completes in the same pass
	// that observes it.
	if c.Expired(now) {
		if err := s.store.CompleteCampaign(ctx, c.ID, now); err != nil {
			log.Printf("[CampaignScanner] failed to complete expired campaign %s: %v", c.ID, err)
			return s.fail(res, "completion failed")
		}
		res.Status = ResultCompleted
		res.CampaignCompleted = true
		res.Reason = "end date reached"
		return res
	}

	// The listing query already filters on status and start date, but the
	// campaign may have been paused or rescheduled since it was listed.
	if !c.Emittable(now) {
		return s.skip(res, "campaign not in a sendable state")
	}

	if d := s.throttle.Acquire(ctx, c.ID.String()); !d.Allowed {
		return s.skip(res, d.Reason)
	}

	if s.leaseFor != nil {
		lease := s.leaseFor(c.ID)
		ok, err := lease.Acquire(ctx)
		if err != nil {
			log.Printf("[CampaignScanner] lease error for campaign %s, proceeding: %v", c.ID, err)
		} else if !ok {
			return s.skip(res, "campaign locked by another worker")
		} else {
			defer func() {
				if err := lease.Release(context.Background()); err != nil {
					log.Printf("[CampaignScanner] lease release failed for %s: %v", c.ID, err)
				}
			}()
		}
	}

	loc := c.Location()
	local := now.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	sentToday, err := s.store.CountCampaignSentToday(ctx, c.ID, midnight)
	if err != nil {
		return s.fail(res, "sent count unavailable")
	}

	warm := policy.EvaluateWarmup(c, now, sentToday)
	if warm.Day > 0 && warm.Day != c.CurrentWarmupDay {
		if err := s.store.SetWarmupDay(ctx, c.ID, warm.Day); err != nil {
			log.Printf("[CampaignScanner] warmup day update failed for %s: %v", c.ID, err)
		}
	}
	if !warm.Allowed {
		return s.skip(res, warm.Reason)
	}

	if d := policy.EvaluateWindow(c.Window, loc, now); !d.Allowed {
		res.NextAvailable = &d.NextAvailable
		return s.skip(res, d.Reason)
	}

	sentLastHour, err := s.store.CountCampaignSentSince(ctx, c.ID, now.Add(-time.Hour))
	if err != nil {
		return s.fail(res, "sent count unavailable")
	}
	sentTotal := 0
	if c.TotalCap > 0 {
		if sentTotal, err = s.store.CountCampaignSentTotal(ctx, c.ID); err != nil {
			return s.fail(res, "sent count unavailable")
		}
	}
	if d := policy.EvaluateCampaignCaps(c, sentLastHour, sentToday, sentTotal); !d.Allowed {
		return s.skip(res, d.Reason)
	}

	// A missing or disabled mailbox is fatal for this campaign's cycle, not
	// a policy skip.
	mailbox, err := s.store.MailboxByID(ctx, c.MailboxID)
	if err != nil {
		log.Printf("[CampaignScanner] mailbox lookup failed for campaign %s: %v", c.ID, err)
		return s.fail(res, "mailbox unavailable")
	}
	if !mailbox.Active {
		return s.fail(res, "mailbox disabled")
	}

	boxHour, err := s.store.CountMailboxSentSince(ctx, mailbox.ID, now.Add(-time.Hour))
	if err != nil {
		return s.fail(res, "mailbox count unavailable")
	}
	boxDay, err := s.store.CountMailboxSentSince(ctx, mailbox.ID, now.Add(-24*time.Hour))
	if err != nil {
		return s.fail(res, "mailbox count unavailable")
	}
	limits := policy.EvaluateMailboxLimits(mailbox, boxHour, boxDay)
	if !limits.Allowed {
		return s.skip(res, limits.Reason)
	}

	steps, err := s.store.StepsByCampaign(ctx, c.ID)
	if err != nil || len(steps) == 0 {
		return s.skip(res, "no steps configured")
	}

	recipients, err := s.store.DueRecipients(ctx, c.ID, now, s.batchSize, c.PrioritizeRecent)
	if err != nil {
		return s.fail(res, "recipient query failed")
	}

	if len(recipients) == 0 {
		s.maybeComplete(ctx, c, now, res)
		if res.Status == "" {
			return s.skip(res, "no recipients due")
		}
		return res
	}

	// Messages queued by earlier passes but not yet drained count against
	// every cap, otherwise a lagging delivery queue re-grants the full
	// budget each cycle.
	queuedDepth, err := s.store.CountQueuedForCampaign(ctx, c.ID)
	if err != nil {
		return s.fail(res, "queue depth unavailable")
	}

	budget := sendBudget(c, warm, limits, sentToday, sentLastHour, sentTotal, queuedDepth)
	for _, r := range recipients {
		if budget == 0 {
			res.Skipped++
			continue
		}
		out := s.advancer.Advance(ctx, c, steps, mailbox, r, now)
		res.Processed++
		switch out.Kind {
		case OutcomeSent:
			res.Sent++
			budget--
		case OutcomeQueued:
			res.Queued++
			budget--
		case OutcomeSkipped:
			res.Skipped++
		case OutcomeStopped:
			res.Stopped++
		case OutcomeCompleted:
			res.Completed++
		case OutcomeFailed:
			res.Failed++
		}
	}

	res.Status = ResultProcessed
	if res.Sent > 0 || res.Failed > 0 {
		if err := s.store.UpsertDailyReport(ctx, c.ID, midnight, res.Sent, res.Failed); err != nil {
			log.Printf("[CampaignScanner] daily report update failed for %s: %v", c.ID, err)
		}
	}
	return res
}

func (s *Scanner) skip(res *CampaignResult, reason string) *CampaignResult {
	res.Status = ResultSkipped
	res.Reason = reason
	res.Skipped++
	return res
}

// fail records a campaign-level error that ended this iteration: a malformed
// row, an unreachable count, or a missing mailbox.
func (s *Scanner) fail(res *CampaignResult, reason string) *CampaignResult {
	res.Status = ResultError
	res.Error = reason
	res.Failed++
	return res
}

// maybeComplete transitions a campaign to completed once no recipient can
// ever become due again and nothing is waiting in the delivery queue.
func (s *Scanner) maybeComplete(ctx context.Context, c *domain.Campaign, now time.Time, res *CampaignResult) {
	active, err := s.store.CountActiveRecipients(ctx, c.ID)
	if err != nil || active > 0 {
		return
	}
	queued, err := s.store.CountQueuedForCampaign(ctx, c.ID)
	if err != nil || queued > 0 {
		return
	}
	if err := s.store.CompleteCampaign(ctx, c.ID, now); err != nil {
		log.Printf("[CampaignScanner] failed to complete exhausted campaign %s: %v", c.ID, err)
		return
	}
	res.Status = ResultCompleted
	res.CampaignCompleted = true
	res.Reason = "all recipients finished"
}

// sendBudget is the number of messages this pass may emit for a campaign:
// the tightest of warmup, campaign caps, and mailbox limits, less the
// in-flight queue depth. -1 means unlimited.
func sendBudget(c *domain.Campaign, warm policy.WarmupState, limits policy.LimitDecision, sentToday, sentLastHour, sentTotal, queued int) int {
	budget := -1
	tighten := func(n int) {
		if n >= 0 && (budget < 0 || n < budget) {
			budget = n
		}
	}
	if warm.Cap > 0 {
		tighten(warm.Cap - warm.SentToday)
	}
	if c.DailyCap > 0 {
		tighten(c.DailyCap - sentToday)
	}
	if c.HourlyCap > 0 {
		tighten(c.HourlyCap - sentLastHour)
	}
	if c.TotalCap > 0 {
		tighten(c.TotalCap - sentTotal)
	}
	tighten(limits.RemainingHourly)
	tighten(limits.RemainingDaily)
	if budget > 0 && queued > 0 {
		budget -= queued
		if budget < 0 {
			budget = 0
		}
	}
	return budget
}
