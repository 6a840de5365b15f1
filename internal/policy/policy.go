// Package policy holds the gating evaluators the scanner and delivery worker
// consult before emitting mail: campaign throttle cooldown, warmup budget,
// send windows, and mailbox rate limits. A denial is a deliberate skip with a
// human-readable reason, never an error.
package policy

import "time"

// Decision is the common allow/deny result of a policy evaluator.
type Decision struct {
	Allowed bool
	Reason  string
}

// Allow is the zero-reason positive decision.
func Allow() Decision { return Decision{Allowed: true} }

// Deny builds a negative decision with the given reason.
func Deny(reason string) Decision { return Decision{Allowed: false, Reason: reason} }

// WindowDecision extends Decision with the advisory next instant the window
// opens. NextAvailable is informational only; the evaluator never reschedules
// anything itself.
type WindowDecision struct {
	Decision
	NextAvailable time.Time
}

// LimitDecision extends Decision with the remaining mailbox budget.
type LimitDecision struct {
	Decision
	RemainingHourly int
	RemainingDaily  int
}
