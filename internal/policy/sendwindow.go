package policy

import (
	"fmt"
	"time"

	"github.com/leadmap/campaign-engine/internal/domain"
)

// EvaluateWindow decides whether now falls inside the campaign's send window
// in the campaign's timezone. An unset window always allows. When denied, the
// decision carries the next instant the window opens so callers can log or
// reschedule against it.
//
// The window is half-open: a send at exactly the end minute is denied.
func EvaluateWindow(w domain.SendWindow, loc *time.Location, now time.Time) WindowDecision {
	if !w.IsSet() {
		return WindowDecision{Decision: Allow()}
	}

	local := now.In(loc)
	start, end, err := w.Bounds()
	if err != nil {
		// Malformed windows allow rather than silently stranding a campaign.
		return WindowDecision{Decision: Allow()}
	}

	minute := local.Hour()*60 + local.Minute()
	inHours := minute >= start && minute < end
	if w.AllowsWeekday(local.Weekday()) && inHours {
		return WindowDecision{Decision: Allow()}
	}

	next := nextOpen(w, loc, local, start)
	reason := fmt.Sprintf("outside send window: next available %s", next.Format(time.RFC3339))
	return WindowDecision{Decision: Deny(reason), NextAvailable: next}
}

// nextOpen scans forward at most seven days for the first instant the window
// admits a send. With an empty weekday set every day qualifies, so the scan
// always terminates within the first two iterations.
func nextOpen(w domain.SendWindow, loc *time.Location, local time.Time, startMinute int) time.Time {
	for add := 0; add < 8; add++ {
		day := local.AddDate(0, 0, add)
		open := time.Date(day.Year(), day.Month(), day.Day(), startMinute/60, startMinute%60, 0, 0, loc)
		if !w.AllowsWeekday(open.Weekday()) {
			continue
		}
		if open.After(local) {
			return open
		}
		// Today's opening already passed; only later days qualify.
	}
	// Unreachable with a valid weekday set. Fall back to tomorrow's start.
	t := local.AddDate(0, 0, 1)
	return time.Date(t.Year(), t.Month(), t.Day(), startMinute/60, startMinute%60, 0, 0, loc)
}
