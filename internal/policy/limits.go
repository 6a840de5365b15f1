package policy

import (
	"fmt"

	"github.com/leadmap/campaign-engine/internal/domain"
)

// EvaluateMailboxLimits decides whether a mailbox has budget for one more
// send given the counts observed over the trailing hour and day. A zero or
// negative configured limit means unlimited on that axis.
func EvaluateMailboxLimits(m *domain.Mailbox, sentLastHour, sentLastDay int) LimitDecision {
	d := LimitDecision{
		RemainingHourly: remaining(m.HourlyLimit, sentLastHour),
		RemainingDaily:  remaining(m.DailyLimit, sentLastDay),
	}
	if m.HourlyLimit > 0 && sentLastHour >= m.HourlyLimit {
		d.Decision = Deny(fmt.Sprintf("mailbox hourly limit reached (%d/%d)", sentLastHour, m.HourlyLimit))
		return d
	}
	if m.DailyLimit > 0 && sentLastDay >= m.DailyLimit {
		d.Decision = Deny(fmt.Sprintf("mailbox daily limit reached (%d/%d)", sentLastDay, m.DailyLimit))
		return d
	}
	d.Decision = Allow()
	return d
}

// EvaluateCampaignCaps decides whether the campaign itself has budget left:
// hourly, per-day, and lifetime total. Zero caps mean unlimited.
func EvaluateCampaignCaps(c *domain.Campaign, sentLastHour, sentToday, sentTotal int) Decision {
	if c.HourlyCap > 0 && sentLastHour >= c.HourlyCap {
		return Deny(fmt.Sprintf("campaign hourly cap reached (%d/%d)", sentLastHour, c.HourlyCap))
	}
	if c.DailyCap > 0 && sentToday >= c.DailyCap {
		return Deny(fmt.Sprintf("campaign daily cap reached (%d/%d)", sentToday, c.DailyCap))
	}
	if c.TotalCap > 0 && sentTotal >= c.TotalCap {
		return Deny(fmt.Sprintf("campaign total cap reached (%d/%d)", sentTotal, c.TotalCap))
	}
	return Allow()
}

func remaining(limit, sent int) int {
	if limit <= 0 {
		return -1
	}
	if sent >= limit {
		return 0
	}
	return limit - sent
}
