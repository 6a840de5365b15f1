package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/leadmap/campaign-engine/internal/domain"
	"github.com/leadmap/campaign-engine/internal/policy"
	"github.com/leadmap/campaign-engine/internal/render"
)

// OutcomeKind classifies what happened to one recipient in a pass.
type OutcomeKind string

const (
	OutcomeSent      OutcomeKind = "sent"
	OutcomeQueued    OutcomeKind = "queued"
	OutcomeSkipped   OutcomeKind = "skipped"
	OutcomeStopped   OutcomeKind = "stopped"
	OutcomeCompleted OutcomeKind = "completed"
	OutcomeFailed    OutcomeKind = "failed"
)

// Outcome is the per-recipient result of an advance attempt.
type Outcome struct {
	Kind   OutcomeKind
	Reason string
}

func skipped(reason string) Outcome { return Outcome{Kind: OutcomeSkipped, Reason: reason} }
func failed(reason string) Outcome  { return Outcome{Kind: OutcomeFailed, Reason: reason} }

// InlineSender delivers a composed message synchronously during the scan
// pass, used when deferred delivery is disabled.
type InlineSender interface {
	SendNow(ctx context.Context, mailbox *domain.Mailbox, campaign *domain.Campaign, rec *domain.Recipient, msg *domain.Message) (providerMessageID string, permanent bool, err error)
}

// Advancer moves a single recipient one step forward: evaluates stop
// conditions, composes the next step's email, and either queues it for the
// delivery worker or sends it inline.
type Advancer struct {
	store      Store
	render     *render.Engine
	compliance *render.Compliance
	inline     InlineSender
	maxErrors  int
}

// NewAdvancer builds an advancer. inline may be nil, which queues messages
// for the delivery worker instead of sending during the scan.
func NewAdvancer(store Store, renderer *render.Engine, compliance *render.Compliance, inline InlineSender, maxErrors int) *Advancer {
	if maxErrors <= 0 {
		maxErrors = 10
	}
	return &Advancer{
		store:      store,
		render:     renderer,
		compliance: compliance,
		inline:     inline,
		maxErrors:  maxErrors,
	}
}

// Advance processes one recipient. It never returns an error; every failure
// mode collapses into an Outcome so one bad recipient cannot abort the
// campaign's batch. Panics are contained the same way.
func (a *Advancer) Advance(ctx context.Context, c *domain.Campaign, steps []*domain.Step, mailbox *domain.Mailbox, r *domain.Recipient, now time.Time) (out Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("[Advancer] panic processing recipient %s: %v", r.ID, rec)
			reason := fmt.Sprintf("panic: %v", rec)
			if err := a.store.IncrementRecipientError(ctx, r.ID, reason, a.maxErrors); err != nil {
				log.Printf("[Advancer] failed to record panic for recipient %s: %v", r.ID, err)
			}
			out = failed(reason)
		}
	}()

	if err := r.Validate(); err != nil {
		log.Printf("[Advancer] invalid recipient %s: %v", r.ID, err)
		if err := a.store.IncrementRecipientError(ctx, r.ID, err.Error(), a.maxErrors); err != nil {
			log.Printf("[Advancer] failed to record validation error for %s: %v", r.ID, err)
		}
		return failed(err.Error())
	}
	if r.Terminal() {
		return skipped("recipient in terminal state")
	}

	if r.Unsubscribed {
		if err := a.store.MarkRecipientUnsubscribed(ctx, r.ID); err != nil {
			return failed(err.Error())
		}
		a.event(ctx, c, r, nil, domain.EventUnsubscribed, "")
		return Outcome{Kind: OutcomeStopped, Reason: "unsubscribed"}
	}
	if r.Bounced {
		if err := a.store.MarkRecipientBounced(ctx, r.ID); err != nil {
			return failed(err.Error())
		}
		a.event(ctx, c, r, nil, domain.EventBounced, "")
		return Outcome{Kind: OutcomeStopped, Reason: "bounced"}
	}

	if !r.Due(now) {
		return skipped("next send not yet due")
	}

	// The campaign-level flag is checked before step resolution so a replied
	// recipient stops even when the sequence is already exhausted.
	if r.Replied && c.StopOnReply {
		return a.stopReplied(ctx, c, r)
	}

	step := domain.NextStep(steps, r.CurrentStepNumber)
	if step == nil {
		if err := a.store.SetRecipientStatus(ctx, r.ID, domain.RecipientCompleted); err != nil {
			return failed(err.Error())
		}
		return Outcome{Kind: OutcomeCompleted, Reason: "sequence finished"}
	}

	if r.Replied && stepStopsOnReply(step) {
		return a.stopReplied(ctx, c, r)
	}

	if step.Window.IsSet() {
		if d := policy.EvaluateWindow(step.Window, c.Location(), now); !d.Allowed {
			if err := a.store.SetRecipientNextSend(ctx, r.ID, d.NextAvailable); err != nil {
				return failed(err.Error())
			}
			return skipped(d.Reason)
		}
	}

	// Re-scans after a crash or timeout land here: an in-flight message for
	// this step means the previous pass already did the work.
	pending, err := a.store.HasPendingMessage(ctx, r.ID, step.StepNumber)
	if err != nil {
		return failed(fmt.Sprintf("dedupe check: %v", err))
	}
	if pending {
		if r.Status == domain.RecipientPending {
			if err := a.store.MarkRecipientQueued(ctx, r.ID); err != nil {
				return failed(err.Error())
			}
		}
		return skipped("message already pending for step")
	}

	msg, err := a.compose(ctx, c, step, mailbox, r, now)
	if err != nil {
		if ierr := a.store.IncrementRecipientError(ctx, r.ID, err.Error(), a.maxErrors); ierr != nil {
			log.Printf("[Advancer] failed to record compose error for %s: %v", r.ID, ierr)
		}
		return failed(err.Error())
	}

	if a.inline != nil {
		return a.sendInline(ctx, c, steps, step, mailbox, r, msg, now)
	}

	msg.Status = domain.MessageQueued
	if err := a.store.InsertMessage(ctx, msg); err != nil {
		return failed(err.Error())
	}
	if err := a.store.MarkRecipientQueued(ctx, r.ID); err != nil {
		return failed(err.Error())
	}
	a.event(ctx, c, r, msg, domain.EventQueued, "")
	return Outcome{Kind: OutcomeQueued}
}

// compose renders the step's subject and body for this recipient and wraps
// them in an unsent message row.
func (a *Advancer) compose(ctx context.Context, c *domain.Campaign, step *domain.Step, mailbox *domain.Mailbox, r *domain.Recipient, now time.Time) (*domain.Message, error) {
	subject, body := step.Subject, step.BodyHTML

	variants, err := a.store.VariantsByStep(ctx, c.ID, step.StepNumber)
	if err != nil {
		return nil, fmt.Errorf("load variants: %w", err)
	}
	if v := PickVariant(variants, r.Email, c.ID); v != nil {
		subject, body = v.Subject, v.BodyHTML
		if err := a.store.IncrementVariantAssigned(ctx, v.ID); err != nil {
			log.Printf("[Advancer] failed to record variant assignment %s: %v", v.ID, err)
		}
	}

	bindings := render.Bindings(r)
	subject = a.render.Render(subject, bindings)
	body = a.render.Render(body, bindings)

	if a.compliance != nil {
		settings, err := a.store.ComplianceByUser(ctx, c.UserID)
		if err != nil {
			log.Printf("[Advancer] settings lookup failed for user %s, using fallback footer: %v", c.UserID, err)
			settings = nil
		}
		body = a.compliance.ApplyFooter(body, settings, c.ID, r.ID)
	}

	return &domain.Message{
		CampaignID:  c.ID,
		RecipientID: r.ID,
		MailboxID:   mailbox.ID,
		StepNumber:  step.StepNumber,
		Direction:   domain.DirectionOutbound,
		ToEmail:     r.Email,
		Subject:     subject,
		HTML:        body,
		ScheduledAt: now,
	}, nil
}

func (a *Advancer) sendInline(ctx context.Context, c *domain.Campaign, steps []*domain.Step, step *domain.Step, mailbox *domain.Mailbox, r *domain.Recipient, msg *domain.Message, now time.Time) Outcome {
	providerID, _, err := a.inline.SendNow(ctx, mailbox, c, r, msg)
	if err != nil {
		// Delivery failed; the recipient stays due and the next scan
		// retries, up to the error cap.
		msg.Status = domain.MessageFailed
		msg.Error = err.Error()
		if ierr := a.store.InsertMessage(ctx, msg); ierr != nil {
			log.Printf("[Advancer] failed to record failed message for %s: %v", r.ID, ierr)
		}
		if ierr := a.store.IncrementRecipientError(ctx, r.ID, err.Error(), a.maxErrors); ierr != nil {
			log.Printf("[Advancer] failed to record send error for %s: %v", r.ID, ierr)
		}
		a.event(ctx, c, r, msg, domain.EventFailed, err.Error())
		return failed(err.Error())
	}

	sentAt := now
	msg.Status = domain.MessageSent
	msg.SentAt = &sentAt
	msg.ProviderMessageID = providerID
	msg.Attempts = 1
	if err := a.store.InsertMessage(ctx, msg); err != nil {
		return failed(err.Error())
	}

	status, nextSendAt := NextSchedule(steps, step.StepNumber, now)
	if err := a.store.AdvanceRecipient(ctx, r.ID, step.StepNumber, status, sentAt, nextSendAt); err != nil {
		return failed(err.Error())
	}
	a.event(ctx, c, r, msg, domain.EventSent, "")
	if status == domain.RecipientCompleted {
		return Outcome{Kind: OutcomeSent, Reason: "final step sent"}
	}
	return Outcome{Kind: OutcomeSent}
}

func (a *Advancer) event(ctx context.Context, c *domain.Campaign, r *domain.Recipient, msg *domain.Message, typ domain.EventType, detail string) {
	e := &domain.Event{
		CampaignID:  c.ID,
		RecipientID: r.ID,
		Type:        typ,
		Detail:      detail,
		OccurredAt:  time.Now(),
	}
	if msg != nil {
		e.MessageID = &msg.ID
	}
	if err := a.store.InsertEvent(ctx, e); err != nil {
		log.Printf("[Advancer] telemetry insert failed: %v", err)
	}
}

func (a *Advancer) stopReplied(ctx context.Context, c *domain.Campaign, r *domain.Recipient) Outcome {
	if err := a.store.SetRecipientStatus(ctx, r.ID, domain.RecipientStopped); err != nil {
		return failed(err.Error())
	}
	a.event(ctx, c, r, nil, domain.EventStopped, "replied")
	return Outcome{Kind: OutcomeStopped, Reason: "replied"}
}

// stepStopsOnReply is the step-level override. The campaign flag takes
// precedence and is evaluated before step resolution; the override only
// matters for campaigns that keep sending after a reply.
func stepStopsOnReply(step *domain.Step) bool {
	return step.StopOnReply != nil && *step.StopOnReply
}

// NextSchedule computes the recipient state after sending stepNumber: the
// follow-up time when another step exists, completed otherwise.
func NextSchedule(steps []*domain.Step, stepNumber int, sentAt time.Time) (domain.RecipientStatus, *time.Time) {
	next := domain.NextStep(steps, stepNumber)
	if next == nil {
		return domain.RecipientCompleted, nil
	}
	at := sentAt.Add(next.Delay())
	return domain.RecipientInProgress, &at
}
