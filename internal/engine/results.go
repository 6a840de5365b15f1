// Package engine implements the campaign scan pass: walking due campaigns,
// applying send policies, and advancing recipients through their sequences.
package engine

import (
	"time"

	"github.com/google/uuid"
)

// Campaign-level result statuses. A skip is a deliberate policy denial; an
// error ended the campaign's iteration before recipients could be processed.
const (
	ResultProcessed = "processed"
	ResultSkipped   = "skipped"
	ResultCompleted = "completed"
	ResultError     = "error"
)

// CampaignResult summarizes one campaign's scan outcome.
type CampaignResult struct {
	CampaignID uuid.UUID `json:"campaign_id"`
	Name       string    `json:"name"`

	Status string `json:"status"`
	// Reason explains a skip or completion (throttle, warmup, window, caps).
	Reason string `json:"reason,omitempty"`
	// Error carries the campaign-level failure that aborted this iteration.
	Error string `json:"error,omitempty"`
	// NextAvailable advises when a closed send window reopens.
	NextAvailable *time.Time `json:"next_available,omitempty"`

	Processed int `json:"processed"`
	Sent      int `json:"sent"`
	Queued    int `json:"queued"`
	Skipped   int `json:"skipped"`
	Stopped   int `json:"stopped"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`

	// CampaignCompleted is set when this pass transitioned the campaign to
	// completed, either by end date or by exhaustion.
	CampaignCompleted bool `json:"campaign_completed,omitempty"`
}

// Totals aggregates counts across every campaign in a pass.
type Totals struct {
	Campaigns int `json:"campaigns"`
	Processed int `json:"processed"`
	Sent      int `json:"sent"`
	Queued    int `json:"queued"`
	Skipped   int `json:"skipped"`
	Stopped   int `json:"stopped"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Summary is the full scan pass report returned to the trigger endpoint.
type Summary struct {
	Success  bool              `json:"success"`
	Results  []*CampaignResult `json:"results"`
	Counts   Totals            `json:"counts"`
	Duration string            `json:"duration"`

	startedAt time.Time
}

func newSummary(now time.Time) *Summary {
	return &Summary{Success: true, Results: []*CampaignResult{}, startedAt: now}
}

func (s *Summary) add(r *CampaignResult) {
	s.Results = append(s.Results, r)
	s.Counts.Campaigns++
	s.Counts.Processed += r.Processed
	s.Counts.Sent += r.Sent
	s.Counts.Queued += r.Queued
	s.Counts.Skipped += r.Skipped
	s.Counts.Stopped += r.Stopped
	s.Counts.Completed += r.Completed
	s.Counts.Failed += r.Failed
}

func (s *Summary) finish(now time.Time) *Summary {
	s.Duration = now.Sub(s.startedAt).Round(time.Millisecond).String()
	return s
}
