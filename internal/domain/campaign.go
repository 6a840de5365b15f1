package domain

import (
	"database/sql/driver"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// CampaignStatus enumerates the lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignRunning   CampaignStatus = "running"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
	CampaignCancelled CampaignStatus = "cancelled"
)

// CampaignStrategy distinguishes one-shot blasts from drip sequences.
type CampaignStrategy string

const (
	StrategySingle   CampaignStrategy = "single"
	StrategySequence CampaignStrategy = "sequence"
)

// WarmupSchedule maps a warmup day (1-based) to the maximum sends allowed on
// that day. Days beyond the highest key inherit the highest key's cap.
type WarmupSchedule map[int]int

// Value implements driver.Valuer so the schedule round-trips through JSONB.
func (ws WarmupSchedule) Value() (driver.Value, error) {
	m := make(map[string]int, len(ws))
	for day, cap := range ws {
		m[strconv.Itoa(day)] = cap
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner for JSONB warmup schedules. The source stores
// day keys as strings; non-numeric keys are dropped.
func (ws *WarmupSchedule) Scan(value interface{}) error {
	if value == nil {
		*ws = nil
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return nil
	}
	var raw map[string]int
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := make(WarmupSchedule, len(raw))
	for k, v := range raw {
		if day, err := strconv.Atoi(k); err == nil && day > 0 {
			out[day] = v
		}
	}
	*ws = out
	return nil
}

// CapFor returns the send cap for the given warmup day. Days past the end of
// the schedule keep the last configured cap; an empty schedule means no cap.
func (ws WarmupSchedule) CapFor(day int) (int, bool) {
	if len(ws) == 0 {
		return 0, false
	}
	if cap, ok := ws[day]; ok {
		return cap, true
	}
	maxDay, maxCap := 0, 0
	for d, c := range ws {
		if d > maxDay {
			maxDay, maxCap = d, c
		}
	}
	if day > maxDay {
		return maxCap, true
	}
	return 0, false
}

// SendWindow is a recurring local-time range outside of which sends defer.
// Start and End are "15:04" wall-clock strings evaluated as [Start, End) in
// the owning campaign's timezone. Weekdays empty means every day.
type SendWindow struct {
	Start    string         `json:"start"`
	End      string         `json:"end"`
	Weekdays []time.Weekday `json:"weekdays,omitempty"`
}

// Value implements driver.Valuer for JSONB columns. Unset windows store NULL.
func (w SendWindow) Value() (driver.Value, error) {
	if !w.IsSet() {
		return nil, nil
	}
	return json.Marshal(w)
}

// Scan implements sql.Scanner. NULL means no window.
func (w *SendWindow) Scan(value interface{}) error {
	if value == nil {
		*w = SendWindow{}
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(b, w)
}

// IsSet reports whether both window bounds are configured.
func (w SendWindow) IsSet() bool {
	return w.Start != "" && w.End != ""
}

// Bounds parses the window's Start and End into minutes past midnight.
func (w SendWindow) Bounds() (start, end int, err error) {
	s, err := time.Parse("15:04", w.Start)
	if err != nil {
		return 0, 0, ValidationError("send_window", "start", "not a 15:04 time")
	}
	e, err := time.Parse("15:04", w.End)
	if err != nil {
		return 0, 0, ValidationError("send_window", "end", "not a 15:04 time")
	}
	return s.Hour()*60 + s.Minute(), e.Hour()*60 + e.Minute(), nil
}

// AllowsWeekday reports whether the given weekday is inside the window's
// weekday set. An empty set allows every day.
func (w SendWindow) AllowsWeekday(d time.Weekday) bool {
	if len(w.Weekdays) == 0 {
		return true
	}
	for _, wd := range w.Weekdays {
		if wd == d {
			return true
		}
	}
	return false
}

// Campaign is a drip-sequence configuration. The engine mutates only
// CurrentWarmupDay and the terminal completed transition; everything else is
// owned by the dashboard.
type Campaign struct {
	ID        uuid.UUID        `json:"id" db:"id"`
	UserID    uuid.UUID        `json:"user_id" db:"user_id"`
	MailboxID uuid.UUID        `json:"mailbox_id" db:"mailbox_id"`
	Name      string           `json:"name" db:"name"`
	Status    CampaignStatus   `json:"status" db:"status"`
	Strategy  CampaignStrategy `json:"strategy" db:"strategy"`

	StartAt  *time.Time `json:"start_at" db:"start_at"`
	EndAt    *time.Time `json:"end_at" db:"end_at"`
	Timezone string     `json:"timezone" db:"timezone"`
	Window   SendWindow `json:"send_window" db:"send_window"`

	DailyCap  int `json:"daily_cap" db:"daily_cap"`
	HourlyCap int `json:"hourly_cap" db:"hourly_cap"`
	TotalCap  int `json:"total_cap" db:"total_cap"`

	WarmupEnabled    bool           `json:"warmup_enabled" db:"warmup_enabled"`
	WarmupSchedule   WarmupSchedule `json:"warmup_schedule" db:"warmup_schedule"`
	CurrentWarmupDay int            `json:"current_warmup_day" db:"current_warmup_day"`

	StopOnReply      bool `json:"stop_on_reply" db:"stop_on_reply"`
	TrackOpens       bool `json:"track_opens" db:"track_opens"`
	TrackClicks      bool `json:"track_clicks" db:"track_clicks"`
	PrioritizeRecent bool `json:"prioritize_recent" db:"prioritize_recent"`
	SendGapSeconds   int  `json:"send_gap_seconds" db:"send_gap_seconds"`

	CompletedAt *time.Time `json:"completed_at" db:"completed_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// Emittable reports whether the campaign may emit messages at the given
// instant: status is running or scheduled, the start date (if any) has
// arrived, and the end date (if any) has not passed.
func (c *Campaign) Emittable(now time.Time) bool {
	if c.Status != CampaignRunning && c.Status != CampaignScheduled {
		return false
	}
	if c.StartAt != nil && c.StartAt.After(now) {
		return false
	}
	if c.EndAt != nil && now.After(*c.EndAt) {
		return false
	}
	return true
}

// Expired reports whether the campaign's end date has passed.
func (c *Campaign) Expired(now time.Time) bool {
	return c.EndAt != nil && now.After(*c.EndAt)
}

// Location resolves the campaign's timezone, defaulting to UTC when the
// timezone field is empty or unparseable.
func (c *Campaign) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// WarmupAnchor is the instant warmup-day counting starts from: the campaign
// start date when set, otherwise creation time.
func (c *Campaign) WarmupAnchor() time.Time {
	if c.StartAt != nil {
		return *c.StartAt
	}
	return c.CreatedAt
}

// Validate rejects rows the engine cannot safely process.
func (c *Campaign) Validate() error {
	if c.ID == uuid.Nil {
		return ValidationError("campaign", "id", "is empty")
	}
	if c.Name == "" {
		return ValidationError("campaign", "name", "is empty")
	}
	if c.MailboxID == uuid.Nil {
		return ValidationError("campaign", "mailbox_id", "is empty")
	}
	switch c.Status {
	case CampaignDraft, CampaignScheduled, CampaignRunning, CampaignPaused, CampaignCompleted, CampaignCancelled:
	default:
		return ValidationError("campaign", "status", "unknown value "+string(c.Status))
	}
	if c.StartAt != nil && c.EndAt != nil && c.EndAt.Before(*c.StartAt) {
		return ValidationError("campaign", "end_at", "precedes start_at")
	}
	return nil
}
