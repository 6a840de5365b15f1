// Package delivery drains the queued-message table: it claims batches,
// applies per-mailbox pacing, sends through the provider gateway, and
// advances recipients on success.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/leadmap/campaign-engine/internal/domain"
	"github.com/leadmap/campaign-engine/internal/gateway"
	"github.com/leadmap/campaign-engine/internal/pkg/logger"
)

// Store is the persistence surface the delivery worker needs. *store.Store
// implements it.
type Store interface {
	ClaimQueuedMessages(ctx context.Context, now time.Time, limit int) ([]*domain.Message, error)
	RequeueStaleSending(ctx context.Context, olderThan time.Time, maxAttempts int) (requeued, failed int, err error)
	RequeueMessage(ctx context.Context, id uuid.UUID, at time.Time, reason string) error
	MarkMessageSent(ctx context.Context, id uuid.UUID, providerMessageID string, at time.Time) error
	MarkMessageFailed(ctx context.Context, id uuid.UUID, reason string) error

	CampaignByID(ctx context.Context, id uuid.UUID) (*domain.Campaign, error)
	StepsByCampaign(ctx context.Context, campaignID uuid.UUID) ([]*domain.Step, error)

	MailboxByID(ctx context.Context, id uuid.UUID) (*domain.Mailbox, error)
	UpdateMailboxTokens(ctx context.Context, id uuid.UUID, accessToken, refreshToken string, expiresAt time.Time) error
	SetMailboxError(ctx context.Context, id uuid.UUID, reason string, at time.Time) error
	ClearMailboxError(ctx context.Context, id uuid.UUID) error
	CountMailboxSentSince(ctx context.Context, mailboxID uuid.UUID, since time.Time) (int, error)
	LastMailboxSendAt(ctx context.Context, mailboxID uuid.UUID) (*time.Time, error)

	RecipientByID(ctx context.Context, id uuid.UUID) (*domain.Recipient, error)
	AdvanceRecipient(ctx context.Context, id uuid.UUID, stepNumber int, status domain.RecipientStatus, sentAt time.Time, nextSendAt *time.Time) error
	IncrementRecipientError(ctx context.Context, id uuid.UUID, reason string, maxErrors int) error
	MarkRecipientUnsubscribed(ctx context.Context, id uuid.UUID) error
	MarkRecipientBounced(ctx context.Context, id uuid.UUID) error
	InsertEvent(ctx context.Context, e *domain.Event) error
}

// Options tunes the worker loop.
type Options struct {
	BatchSize       int
	Interval        time.Duration
	StaleAfter      time.Duration
	MaxSendAttempts int
	MaxRecipErrors  int
	RetryBackoff    time.Duration
}

func (o *Options) defaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.Interval <= 0 {
		o.Interval = time.Minute
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = 10 * time.Minute
	}
	if o.MaxSendAttempts <= 0 {
		o.MaxSendAttempts = 3
	}
	if o.MaxRecipErrors <= 0 {
		o.MaxRecipErrors = 10
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 5 * time.Minute
	}
}

// Stats summarizes one drain pass.
type Stats struct {
	Claimed  int    `json:"claimed"`
	Sent     int    `json:"sent"`
	Failed   int    `json:"failed"`
	Requeued int    `json:"requeued"`
	Duration string `json:"duration"`
}

// Worker drains the delivery queue, either continuously via Start or one
// pass at a time via ProcessOnce.
type Worker struct {
	store     Store
	gateway   *gateway.Router
	tracker   *Tracker
	refresher *gateway.TokenRefresher
	opts      Options

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	totalSent   atomic.Int64
	totalFailed atomic.Int64
}

// NewWorker wires a delivery worker. tracker and refresher may be nil.
func NewWorker(store Store, gw *gateway.Router, tracker *Tracker, refresher *gateway.TokenRefresher, opts Options) *Worker {
	opts.defaults()
	return &Worker{
		store:     store,
		gateway:   gw,
		tracker:   tracker,
		refresher: refresher,
		opts:      opts,
	}
}

// Start launches the periodic drain loop.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return errors.New("delivery worker already running")
	}
	w.running = true
	w.stopCh = make(chan struct{})

	w.wg.Add(1)
	go w.loop(ctx)
	log.Printf("[DeliveryWorker] started, interval=%s batch=%d", w.opts.Interval, w.opts.BatchSize)
	return nil
}

// Stop halts the loop and waits for the in-flight pass to finish.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	w.mu.Unlock()

	w.wg.Wait()
	log.Printf("[DeliveryWorker] stopped, lifetime sent=%d failed=%d", w.totalSent.Load(), w.totalFailed.Load())
}

func (w *Worker) loop(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			if _, err := w.ProcessOnce(ctx, time.Now()); err != nil {
				log.Printf("[DeliveryWorker] pass error: %v", err)
			}
		}
	}
}

// ProcessOnce drains one batch: recovers stale claims, claims due queued
// messages, and delivers them grouped per mailbox.
func (w *Worker) ProcessOnce(ctx context.Context, now time.Time) (*Stats, error) {
	started := time.Now()
	stats := &Stats{}

	requeued, abandoned, err := w.store.RequeueStaleSending(ctx, now.Add(-w.opts.StaleAfter), w.opts.MaxSendAttempts)
	if err != nil {
		log.Printf("[DeliveryWorker] stale recovery failed: %v", err)
	} else if requeued > 0 || abandoned > 0 {
		log.Printf("[DeliveryWorker] recovered %d stale messages, abandoned %d", requeued, abandoned)
	}

	batch, err := w.store.ClaimQueuedMessages(ctx, now, w.opts.BatchSize)
	if err != nil {
		return stats, fmt.Errorf("claim batch: %w", err)
	}
	stats.Claimed = len(batch)

	byMailbox := make(map[uuid.UUID][]*domain.Message)
	for _, m := range batch {
		byMailbox[m.MailboxID] = append(byMailbox[m.MailboxID], m)
	}

	for mailboxID, msgs := range byMailbox {
		w.deliverForMailbox(ctx, mailboxID, msgs, now, stats)
	}

	stats.Duration = time.Since(started).Round(time.Millisecond).String()
	if stats.Claimed > 0 {
		log.Printf("[DeliveryWorker] pass done: claimed=%d sent=%d failed=%d requeued=%d",
			stats.Claimed, stats.Sent, stats.Failed, stats.Requeued)
	}
	return stats, nil
}

func (w *Worker) deliverForMailbox(ctx context.Context, mailboxID uuid.UUID, msgs []*domain.Message, now time.Time, stats *Stats) {
	mailbox, err := w.store.MailboxByID(ctx, mailboxID)
	if err != nil {
		log.Printf("[DeliveryWorker] mailbox %s unavailable, requeueing %d messages: %v", mailboxID, len(msgs), err)
		w.requeueAll(ctx, msgs, now.Add(w.opts.RetryBackoff), "mailbox unavailable", stats)
		return
	}
	if !mailbox.Active {
		w.requeueAll(ctx, msgs, now.Add(w.opts.RetryBackoff), "mailbox disabled", stats)
		return
	}

	if w.refresher != nil {
		if tok, err := w.refresher.Refreshed(ctx, mailbox, now); err != nil {
			log.Printf("[DeliveryWorker] token refresh failed for mailbox %s: %v", mailbox.ID, err)
			w.requeueAll(ctx, msgs, now.Add(w.opts.RetryBackoff), "oauth token refresh failed", stats)
			if serr := w.store.SetMailboxError(ctx, mailbox.ID, "oauth token refresh failed: "+err.Error(), now); serr != nil {
				log.Printf("[DeliveryWorker] failed to record mailbox error: %v", serr)
			}
			return
		} else if tok != nil {
			mailbox.AccessToken = tok.AccessToken
			if tok.RefreshToken != "" {
				mailbox.RefreshToken = tok.RefreshToken
			}
			mailbox.TokenExpiresAt = &tok.Expiry
			if err := w.store.UpdateMailboxTokens(ctx, mailbox.ID, mailbox.AccessToken, mailbox.RefreshToken, tok.Expiry); err != nil {
				log.Printf("[DeliveryWorker] failed to persist refreshed token for %s: %v", mailbox.ID, err)
			}
		}
	}

	budget := w.mailboxBudget(ctx, mailbox, now)
	lastSend, err := w.store.LastMailboxSendAt(ctx, mailbox.ID)
	if err != nil {
		log.Printf("[DeliveryWorker] last-send lookup failed for %s: %v", mailbox.ID, err)
	}

	campaigns := map[uuid.UUID]*domain.Campaign{}
	steps := map[uuid.UUID][]*domain.Step{}

	for _, m := range msgs {
		if budget == 0 {
			w.requeue(ctx, m, now.Add(w.opts.RetryBackoff), "mailbox limit reached", stats)
			continue
		}

		c, ok := campaigns[m.CampaignID]
		if !ok {
			c, err = w.store.CampaignByID(ctx, m.CampaignID)
			if err != nil {
				w.fail(ctx, m, "campaign missing", stats)
				continue
			}
			campaigns[m.CampaignID] = c
		}

		// The campaign may have been paused or cancelled since the scan
		// queued this message.
		switch c.Status {
		case domain.CampaignCancelled, domain.CampaignCompleted:
			w.fail(ctx, m, "campaign no longer active", stats)
			continue
		case domain.CampaignPaused:
			w.requeue(ctx, m, now.Add(w.opts.RetryBackoff), "campaign paused", stats)
			continue
		}

		// The recipient may have unsubscribed or bounced after this message
		// was queued.
		rec, err := w.store.RecipientByID(ctx, m.RecipientID)
		if err != nil {
			w.fail(ctx, m, "recipient missing", stats)
			continue
		}
		if rec.Unsubscribed || rec.Status == domain.RecipientUnsubscribed {
			w.suppress(ctx, m, "recipient unsubscribed", domain.EventUnsubscribed, w.store.MarkRecipientUnsubscribed, stats)
			continue
		}
		if rec.Bounced || rec.Status == domain.RecipientBounced {
			w.suppress(ctx, m, "recipient bounced", domain.EventBounced, w.store.MarkRecipientBounced, stats)
			continue
		}

		// Honor the campaign's minimum gap between sends on this mailbox.
		if gap := time.Duration(c.SendGapSeconds) * time.Second; gap > 0 && lastSend != nil {
			if next := lastSend.Add(gap); next.After(now) {
				w.requeue(ctx, m, next, "send gap", stats)
				continue
			}
		}

		html := m.HTML
		if w.tracker != nil {
			html = w.tracker.Inject(html, c.ID, m.RecipientID, m.ID, c.TrackOpens, c.TrackClicks)
		}

		res, err := w.gateway.Send(ctx, mailbox, &gateway.Message{
			FromEmail:   mailbox.Email,
			FromName:    mailbox.Name,
			To:          m.ToEmail,
			Subject:     m.Subject,
			HTML:        html,
			CampaignID:  c.ID.String(),
			RecipientID: m.RecipientID.String(),
		})
		if err != nil {
			w.fail(ctx, m, err.Error(), stats)
			continue
		}
		if !res.Success {
			if res.Permanent || m.Attempts >= w.opts.MaxSendAttempts {
				w.fail(ctx, m, res.Reason, stats)
				if serr := w.store.SetMailboxError(ctx, mailbox.ID, res.Reason, now); serr != nil {
					log.Printf("[DeliveryWorker] failed to record mailbox error: %v", serr)
				}
			} else {
				w.requeue(ctx, m, now.Add(w.opts.RetryBackoff), res.Reason, stats)
			}
			continue
		}

		if err := w.store.MarkMessageSent(ctx, m.ID, res.ProviderMessageID, now); err != nil {
			log.Printf("[DeliveryWorker] failed to finalize message %s: %v", m.ID, err)
			continue
		}

		st, ok := steps[m.CampaignID]
		if !ok {
			if st, err = w.store.StepsByCampaign(ctx, m.CampaignID); err != nil {
				log.Printf("[DeliveryWorker] steps lookup failed for campaign %s: %v", m.CampaignID, err)
			}
			steps[m.CampaignID] = st
		}
		status, nextSendAt := nextSchedule(st, m.StepNumber, now)
		if err := w.store.AdvanceRecipient(ctx, m.RecipientID, m.StepNumber, status, now, nextSendAt); err != nil {
			log.Printf("[DeliveryWorker] failed to advance recipient %s: %v", m.RecipientID, err)
		}
		if err := w.store.ClearMailboxError(ctx, mailbox.ID); err != nil {
			log.Printf("[DeliveryWorker] failed to clear mailbox error: %v", err)
		}
		w.event(ctx, m, domain.EventSent, "")
		logger.Info("message sent",
			"to", m.ToEmail,
			"campaign_id", m.CampaignID.String(),
			"step", m.StepNumber,
			"provider_id", res.ProviderMessageID)

		lastSend = &now
		stats.Sent++
		w.totalSent.Add(1)
		if budget > 0 {
			budget--
		}
	}
}

func (w *Worker) mailboxBudget(ctx context.Context, m *domain.Mailbox, now time.Time) int {
	budget := -1
	tighten := func(rem int) {
		if rem < 0 {
			rem = 0
		}
		if budget < 0 || rem < budget {
			budget = rem
		}
	}
	if m.HourlyLimit > 0 {
		if sent, err := w.store.CountMailboxSentSince(ctx, m.ID, now.Add(-time.Hour)); err == nil {
			tighten(m.HourlyLimit - sent)
		}
	}
	if m.DailyLimit > 0 {
		if sent, err := w.store.CountMailboxSentSince(ctx, m.ID, now.Add(-24*time.Hour)); err == nil {
			tighten(m.DailyLimit - sent)
		}
	}
	return budget
}

func (w *Worker) requeueAll(ctx context.Context, msgs []*domain.Message, at time.Time, reason string, stats *Stats) {
	for _, m := range msgs {
		w.requeue(ctx, m, at, reason, stats)
	}
}

func (w *Worker) requeue(ctx context.Context, m *domain.Message, at time.Time, reason string, stats *Stats) {
	if err := w.store.RequeueMessage(ctx, m.ID, at, reason); err != nil {
		log.Printf("[DeliveryWorker] failed to requeue message %s: %v", m.ID, err)
		return
	}
	stats.Requeued++
}

func (w *Worker) fail(ctx context.Context, m *domain.Message, reason string, stats *Stats) {
	if err := w.store.MarkMessageFailed(ctx, m.ID, reason); err != nil {
		log.Printf("[DeliveryWorker] failed to mark message %s failed: %v", m.ID, err)
		return
	}
	if err := w.store.IncrementRecipientError(ctx, m.RecipientID, reason, w.opts.MaxRecipErrors); err != nil {
		log.Printf("[DeliveryWorker] failed to record recipient error %s: %v", m.RecipientID, err)
	}
	w.event(ctx, m, domain.EventFailed, reason)
	logger.Warn("message failed",
		"to", m.ToEmail,
		"campaign_id", m.CampaignID.String(),
		"reason", reason)
	stats.Failed++
	w.totalFailed.Add(1)
}

// suppress fails a claimed message without a send attempt and propagates the
// recipient's terminal flag. Not counted as a recipient error.
func (w *Worker) suppress(ctx context.Context, m *domain.Message, reason string, typ domain.EventType, mark func(context.Context, uuid.UUID) error, stats *Stats) {
	if err := w.store.MarkMessageFailed(ctx, m.ID, reason); err != nil {
		log.Printf("[DeliveryWorker] failed to mark message %s failed: %v", m.ID, err)
		return
	}
	if err := mark(ctx, m.RecipientID); err != nil {
		log.Printf("[DeliveryWorker] failed to update recipient %s: %v", m.RecipientID, err)
	}
	w.event(ctx, m, typ, reason)
	logger.Warn("message suppressed",
		"to", m.ToEmail,
		"campaign_id", m.CampaignID.String(),
		"reason", reason)
	stats.Failed++
	w.totalFailed.Add(1)
}

func (w *Worker) event(ctx context.Context, m *domain.Message, typ domain.EventType, detail string) {
	err := w.store.InsertEvent(ctx, &domain.Event{
		CampaignID:  m.CampaignID,
		RecipientID: m.RecipientID,
		MessageID:   &m.ID,
		Type:        typ,
		Detail:      detail,
		OccurredAt:  time.Now(),
	})
	if err != nil {
		log.Printf("[DeliveryWorker] telemetry insert failed: %v", err)
	}
}

// nextSchedule mirrors the inline path: after stepNumber sends, the
// recipient either waits for the next step or completes.
func nextSchedule(steps []*domain.Step, stepNumber int, sentAt time.Time) (domain.RecipientStatus, *time.Time) {
	next := domain.NextStep(steps, stepNumber)
	if next == nil {
		return domain.RecipientCompleted, nil
	}
	at := sentAt.Add(next.Delay())
	return domain.RecipientInProgress, &at
}
