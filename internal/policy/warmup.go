package policy

import (
	"fmt"
	"time"

	"github.com/leadmap/campaign-engine/internal/domain"
)

// WarmupState is the outcome of evaluating a campaign's warmup schedule for
// the current calendar day.
type WarmupState struct {
	Decision
	// Day is the 1-based warmup day index for today in the campaign's
	// timezone. Zero when warmup is disabled.
	Day int
	// Cap is today's send cap from the schedule, carrying the last
	// configured day forward once the schedule is exhausted.
	Cap int
	// SentToday is the count the caller supplied; echoed for logging.
	SentToday int
}

// EvaluateWarmup computes the warmup day and cap for a campaign and decides
// whether sentToday leaves budget for another send.
//
// The day index is derived from the campaign's warmup anchor (start date,
// falling back to creation) so it advances across pauses and never regresses.
func EvaluateWarmup(c *domain.Campaign, now time.Time, sentToday int) WarmupState {
	if !c.WarmupEnabled || len(c.WarmupSchedule) == 0 {
		return WarmupState{Decision: Allow(), SentToday: sentToday}
	}

	loc := c.Location()
	anchor := c.WarmupAnchor().In(loc)
	anchorDay := time.Date(anchor.Year(), anchor.Month(), anchor.Day(), 0, 0, 0, 0, loc)
	today := now.In(loc)
	todayDay := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, loc)

	day := int(todayDay.Sub(anchorDay).Hours()/24) + 1
	if day < 1 {
		day = 1
	}
	cap, ok := c.WarmupSchedule.CapFor(day)

	st := WarmupState{Day: day, Cap: cap, SentToday: sentToday}
	if !ok || cap <= 0 {
		// A zero cap means the schedule deliberately silences this day.
		st.Decision = Deny(fmt.Sprintf("warmup: day %d has no send budget", day))
		return st
	}
	if sentToday >= cap {
		st.Decision = Deny(fmt.Sprintf("warmup: daily cap reached (%d/%d on day %d)", sentToday, cap, day))
		return st
	}
	st.Decision = Allow()
	return st
}
