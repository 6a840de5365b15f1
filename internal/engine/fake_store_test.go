package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/leadmap/campaign-engine/internal/domain"
)

// fakeStore is an in-memory Store for engine tests. Behavior mirrors the SQL
// layer closely enough for scenario tests: due filtering, the cursor guard,
// and pending-message dedupe all work the same way.
type fakeStore struct {
	mu sync.Mutex

	campaigns  map[uuid.UUID]*domain.Campaign
	recipients map[uuid.UUID]*domain.Recipient
	steps      map[uuid.UUID][]*domain.Step
	variants   map[uuid.UUID][]*domain.Variant
	mailboxes  map[uuid.UUID]*domain.Mailbox
	settings   map[uuid.UUID]*domain.ComplianceSettings
	messages   []*domain.Message
	events     []*domain.Event

	reportCalls int
	failNext    map[string]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		campaigns:  map[uuid.UUID]*domain.Campaign{},
		recipients: map[uuid.UUID]*domain.Recipient{},
		steps:      map[uuid.UUID][]*domain.Step{},
		variants:   map[uuid.UUID][]*domain.Variant{},
		mailboxes:  map[uuid.UUID]*domain.Mailbox{},
		settings:   map[uuid.UUID]*domain.ComplianceSettings{},
		failNext:   map[string]error{},
	}
}

func (f *fakeStore) fail(op string) error {
	if err, ok := f.failNext[op]; ok {
		delete(f.failNext, op)
		return err
	}
	return nil
}

func (f *fakeStore) DueCampaigns(ctx context.Context, now time.Time) ([]*domain.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("DueCampaigns"); err != nil {
		return nil, err
	}
	var out []*domain.Campaign
	for _, c := range f.campaigns {
		if c.Status != domain.CampaignRunning && c.Status != domain.CampaignScheduled {
			continue
		}
		if c.StartAt != nil && c.StartAt.After(now) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeStore) CampaignByID(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.campaigns[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return c, nil
}

func (f *fakeStore) CompleteCampaign(ctx context.Context, id uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.campaigns[id]; ok && c.Status != domain.CampaignCompleted {
		c.Status = domain.CampaignCompleted
		c.CompletedAt = &at
	}
	return nil
}

func (f *fakeStore) SetWarmupDay(ctx context.Context, id uuid.UUID, day int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.campaigns[id]; ok && c.CurrentWarmupDay < day {
		c.CurrentWarmupDay = day
	}
	return nil
}

func (f *fakeStore) countSent(campaignID, mailboxID uuid.UUID, since *time.Time) int {
	n := 0
	for _, m := range f.messages {
		if m.Status != domain.MessageSent || m.Direction != domain.DirectionOutbound {
			continue
		}
		if campaignID != uuid.Nil && m.CampaignID != campaignID {
			continue
		}
		if mailboxID != uuid.Nil && m.MailboxID != mailboxID {
			continue
		}
		if since != nil && (m.SentAt == nil || m.SentAt.Before(*since)) {
			continue
		}
		n++
	}
	return n
}

func (f *fakeStore) CountCampaignSentToday(ctx context.Context, campaignID uuid.UUID, since time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.countSent(campaignID, uuid.Nil, &since), nil
}

func (f *fakeStore) CountCampaignSentSince(ctx context.Context, campaignID uuid.UUID, since time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.countSent(campaignID, uuid.Nil, &since), nil
}

func (f *fakeStore) CountCampaignSentTotal(ctx context.Context, campaignID uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.countSent(campaignID, uuid.Nil, nil), nil
}

func (f *fakeStore) StepsByCampaign(ctx context.Context, campaignID uuid.UUID) ([]*domain.Step, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.steps[campaignID], nil
}

func (f *fakeStore) VariantsByStep(ctx context.Context, campaignID uuid.UUID, stepNumber int) ([]*domain.Variant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Variant
	for _, v := range f.variants[campaignID] {
		if v.StepNumber == stepNumber {
			out = append(out, v)
		}
	}
	return out, nil
}

func (f *fakeStore) IncrementVariantAssigned(ctx context.Context, variantID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, vs := range f.variants {
		for _, v := range vs {
			if v.ID == variantID {
				v.AssignedCount++
			}
		}
	}
	return nil
}

func (f *fakeStore) DueRecipients(ctx context.Context, campaignID uuid.UUID, now time.Time, limit int, prioritizeRecent bool) ([]*domain.Recipient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("DueRecipients"); err != nil {
		return nil, err
	}
	var out []*domain.Recipient
	for _, r := range f.recipients {
		if r.CampaignID != campaignID || r.Terminal() {
			continue
		}
		if r.NextSendAt != nil && r.NextSendAt.After(now) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if prioritizeRecent {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) CountActiveRecipients(ctx context.Context, campaignID uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.recipients {
		if r.CampaignID == campaignID && !r.Terminal() {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) AdvanceRecipient(ctx context.Context, id uuid.UUID, stepNumber int, status domain.RecipientStatus, sentAt time.Time, nextSendAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.recipients[id]
	if !ok || r.CurrentStepNumber >= stepNumber {
		return nil
	}
	r.CurrentStepNumber = stepNumber
	r.Status = status
	r.LastSentAt = &sentAt
	r.NextSendAt = nextSendAt
	r.ErrorCount = 0
	r.LastError = ""
	return nil
}

func (f *fakeStore) SetRecipientStatus(ctx context.Context, id uuid.UUID, status domain.RecipientStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.recipients[id]; ok {
		r.Status = status
	}
	return nil
}

func (f *fakeStore) SetRecipientNextSend(ctx context.Context, id uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.recipients[id]; ok {
		r.NextSendAt = &at
	}
	return nil
}

func (f *fakeStore) MarkRecipientQueued(ctx context.Context, id uuid.UUID) error {
	return f.SetRecipientStatus(ctx, id, domain.RecipientQueued)
}

func (f *fakeStore) MarkRecipientUnsubscribed(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.recipients[id]; ok {
		r.Status = domain.RecipientUnsubscribed
		r.Unsubscribed = true
	}
	return nil
}

func (f *fakeStore) MarkRecipientBounced(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.recipients[id]; ok {
		r.Status = domain.RecipientBounced
		r.Bounced = true
	}
	return nil
}

func (f *fakeStore) IncrementRecipientError(ctx context.Context, id uuid.UUID, reason string, maxErrors int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.recipients[id]; ok {
		r.ErrorCount++
		r.LastError = reason
		if r.ErrorCount >= maxErrors {
			r.Status = domain.RecipientFailed
		}
	}
	return nil
}

func (f *fakeStore) InsertMessage(ctx context.Context, m *domain.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("InsertMessage"); err != nil {
		return err
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	cp := *m
	f.messages = append(f.messages, &cp)
	return nil
}

func (f *fakeStore) HasPendingMessage(ctx context.Context, recipientID uuid.UUID, stepNumber int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		if m.RecipientID == recipientID && m.StepNumber == stepNumber &&
			m.Direction == domain.DirectionOutbound && m.Status != domain.MessageFailed {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) CountQueuedForCampaign(ctx context.Context, campaignID uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.messages {
		switch m.Status {
		case domain.MessageScheduled, domain.MessageQueued, domain.MessageSending:
			if m.CampaignID == campaignID {
				n++
			}
		}
	}
	return n, nil
}

func (f *fakeStore) CountMailboxSentSince(ctx context.Context, mailboxID uuid.UUID, since time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.countSent(uuid.Nil, mailboxID, &since), nil
}

func (f *fakeStore) MailboxByID(ctx context.Context, id uuid.UUID) (*domain.Mailbox, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.mailboxes[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return m, nil
}

func (f *fakeStore) ComplianceByUser(ctx context.Context, userID uuid.UUID) (*domain.ComplianceSettings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.settings[userID]; ok {
		return s, nil
	}
	return &domain.ComplianceSettings{UserID: userID}, nil
}

func (f *fakeStore) UpsertDailyReport(ctx context.Context, campaignID uuid.UUID, day time.Time, sent, failed int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reportCalls++
	return nil
}

func (f *fakeStore) InsertEvent(ctx context.Context, e *domain.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *e
	f.events = append(f.events, &cp)
	return nil
}

func (f *fakeStore) messagesFor(recipientID uuid.UUID) []*domain.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Message
	for _, m := range f.messages {
		if m.RecipientID == recipientID {
			out = append(out, m)
		}
	}
	return out
}
