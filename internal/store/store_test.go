package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadmap/campaign-engine/internal/domain"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db), mock
}

func campaignRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "user_id", "mailbox_id", "name", "status", "strategy",
		"start_at", "end_at", "timezone", "send_window",
		"daily_cap", "hourly_cap", "total_cap",
		"warmup_enabled", "warmup_schedule", "current_warmup_day",
		"stop_on_reply", "track_opens", "track_clicks", "prioritize_recent",
		"send_gap_seconds", "completed_at", "created_at", "updated_at",
	})
}

func TestDueCampaigns(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()
	id := uuid.New()
	window, _ := json.Marshal(domain.SendWindow{Start: "09:00", End: "17:00"})
	schedule := []byte(`{"1": 5, "2": 10}`)

	mock.ExpectQuery(`SELECT .+ FROM campaigns\s+WHERE status IN \('running', 'scheduled'\)`).
		WithArgs(now).
		WillReturnRows(campaignRows().AddRow(
			id, uuid.New(), uuid.New(), "Spring outreach", "running", "sequence",
			nil, nil, "America/New_York", window,
			100, 10, 0,
			true, schedule, 1,
			true, true, false, false,
			30, nil, now.Add(-48*time.Hour), now,
		))

	out, err := s.DueCampaigns(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, out, 1)
	c := out[0]
	assert.Equal(t, id, c.ID)
	assert.Equal(t, domain.CampaignRunning, c.Status)
	assert.Equal(t, "09:00", c.Window.Start)
	capDay2, ok := c.WarmupSchedule.CapFor(2)
	assert.True(t, ok)
	assert.Equal(t, 10, capDay2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDueCampaignsNullWindow(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery(`SELECT .+ FROM campaigns`).
		WithArgs(now).
		WillReturnRows(campaignRows().AddRow(
			uuid.New(), uuid.New(), uuid.New(), "No window", "scheduled", "single",
			nil, nil, "", nil,
			0, 0, 0,
			false, nil, 0,
			false, false, false, false,
			0, nil, now, now,
		))

	out, err := s.DueCampaigns(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.False(t, out[0].Window.IsSet())
	assert.Empty(t, out[0].WarmupSchedule)
}

func TestCompleteCampaign(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.New()
	at := time.Now()

	mock.ExpectExec(`UPDATE campaigns SET status = 'completed'`).
		WithArgs(id, at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.CompleteCampaign(context.Background(), id, at))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetWarmupDayOnlyAdvances(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectExec(`UPDATE campaigns SET current_warmup_day = \$2.+current_warmup_day < \$2`).
		WithArgs(id, 3).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.SetWarmupDay(context.Background(), id, 3))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDueRecipientsOrdering(t *testing.T) {
	s, mock := newMockStore(t)
	campaignID := uuid.New()
	now := time.Now()

	cols := []string{
		"id", "campaign_id", "email",
		"first_name", "last_name", "company", "metadata",
		"status", "current_step_number", "next_send_at", "last_sent_at",
		"replied", "bounced", "unsubscribed",
		"error_count", "last_error", "created_at", "updated_at",
	}

	mock.ExpectQuery(`FROM campaign_recipients.+ORDER BY next_send_at ASC NULLS FIRST`).
		WithArgs(campaignID, now, 50).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			uuid.New(), campaignID, "lead@example.com",
			"Ada", "", "", []byte(`{"title":"CTO"}`),
			"pending", 0, nil, nil,
			false, false, false,
			0, "", now, now,
		))

	out, err := s.DueRecipients(context.Background(), campaignID, now, 50, false)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "lead@example.com", out[0].Email)
	assert.Equal(t, "CTO", out[0].Metadata["title"])

	mock.ExpectQuery(`FROM campaign_recipients.+ORDER BY created_at DESC`).
		WithArgs(campaignID, now, 50).
		WillReturnRows(sqlmock.NewRows(cols))

	_, err = s.DueRecipients(context.Background(), campaignID, now, 50, true)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdvanceRecipientGuardsCursor(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.New()
	sentAt := time.Now()
	next := sentAt.Add(24 * time.Hour)

	mock.ExpectExec(`UPDATE campaign_recipients\s+SET current_step_number = \$2.+current_step_number < \$2`).
		WithArgs(id, 2, "in_progress", sentAt, next).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.AdvanceRecipient(context.Background(), id, 2, domain.RecipientInProgress, sentAt, &next)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIncrementRecipientError(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectExec(`UPDATE campaign_recipients\s+SET error_count = error_count \+ 1`).
		WithArgs(id, "smtp timeout", 10).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.IncrementRecipientError(context.Background(), id, "smtp timeout", 10))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHasPendingMessage(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(id, 1).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := s.HasPendingMessage(context.Background(), id, 1)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestInsertMessageAssignsID(t *testing.T) {
	s, mock := newMockStore(t)
	m := &domain.Message{
		CampaignID:  uuid.New(),
		RecipientID: uuid.New(),
		MailboxID:   uuid.New(),
		StepNumber:  1,
		Direction:   domain.DirectionOutbound,
		ToEmail:     "lead@example.com",
		Subject:     "Hello",
		HTML:        "<p>Hi</p>",
		Status:      domain.MessageQueued,
		ScheduledAt: time.Now(),
	}

	mock.ExpectExec(`INSERT INTO messages`).
		WithArgs(
			sqlmock.AnyArg(), m.CampaignID, m.RecipientID, m.MailboxID, 1, "outbound",
			m.ToEmail, m.Subject, m.HTML, "queued", m.ScheduledAt, nil, "",
			"", 0, sqlmock.AnyArg(), sqlmock.AnyArg(),
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, s.InsertMessage(context.Background(), m))
	assert.NotEqual(t, uuid.Nil, m.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimQueuedMessages(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()
	id := uuid.New()

	cols := []string{
		"id", "campaign_id", "recipient_id", "mailbox_id", "step_number", "direction",
		"to_email", "subject", "html", "status", "scheduled_at", "sent_at",
		"provider_message_id", "error", "attempts", "created_at", "updated_at",
	}
	mock.ExpectQuery(`WITH claimed AS \(\s+UPDATE messages\s+SET status = 'sending'.+FOR UPDATE SKIP LOCKED`).
		WithArgs(now, 100).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			id, uuid.New(), uuid.New(), uuid.New(), 1, "outbound",
			"lead@example.com", "Hello", "<p>Hi</p>", "sending", now, nil,
			"", "", 1, now, now,
		))

	out, err := s.ClaimQueuedMessages(context.Background(), now, 100)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, id, out[0].ID)
	assert.Equal(t, domain.MessageSending, out[0].Status)
	assert.Equal(t, 1, out[0].Attempts)
}

func TestRequeueStaleSending(t *testing.T) {
	s, mock := newMockStore(t)
	cutoff := time.Now().Add(-10 * time.Minute)

	mock.ExpectExec(`UPDATE messages\s+SET status = 'queued'.+attempts < \$2`).
		WithArgs(cutoff, 3).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`UPDATE messages\s+SET status = 'failed'.+attempts >= \$2`).
		WithArgs(cutoff, 3).
		WillReturnResult(sqlmock.NewResult(0, 1))

	requeued, failed, err := s.RequeueStaleSending(context.Background(), cutoff, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, requeued)
	assert.Equal(t, 1, failed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMailboxByIDNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectQuery(`FROM mailboxes WHERE id = \$1`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.MailboxByID(context.Background(), id)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUpsertDailyReportToleratesMissingFunction(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.New()
	day := time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(`SELECT increment_campaign_daily_report`).
		WithArgs(id, "2024-03-06", 5, 1).
		WillReturnError(assertError("function increment_campaign_daily_report(uuid, date, integer, integer) does not exist"))

	assert.NoError(t, s.UpsertDailyReport(context.Background(), id, day, 5, 1))
}

type assertError string

func (e assertError) Error() string { return string(e) }
