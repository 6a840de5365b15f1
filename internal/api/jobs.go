package api

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/leadmap/campaign-engine/internal/delivery"
	"github.com/leadmap/campaign-engine/internal/engine"
	"github.com/leadmap/campaign-engine/internal/pkg/httputil"
)

// CampaignProcessor runs one campaign scan pass. *engine.Scanner implements
// it.
type CampaignProcessor interface {
	Run(ctx context.Context, now time.Time) (*engine.Summary, error)
}

// EmailProcessor drains one delivery batch. *delivery.Worker implements it.
type EmailProcessor interface {
	ProcessOnce(ctx context.Context, now time.Time) (*delivery.Stats, error)
}

// Handlers holds the job endpoints' dependencies.
type Handlers struct {
	scanner CampaignProcessor
	worker  EmailProcessor
	health  *HealthChecker

	// delegated short-circuits both jobs with a 202 when processing has
	// been switched to the alternate backend.
	delegated bool
}

// NewHandlers wires the trigger handlers.
func NewHandlers(scanner CampaignProcessor, worker EmailProcessor, health *HealthChecker, delegated bool) *Handlers {
	return &Handlers{scanner: scanner, worker: worker, health: health, delegated: delegated}
}

// ProcessCampaigns runs a full scanner pass and returns its summary.
//
//	GET|POST /jobs/process-campaigns
func (h *Handlers) ProcessCampaigns(w http.ResponseWriter, r *http.Request) {
	if h.delegated {
		httputil.Accepted(w, map[string]any{"success": true, "delegated": true})
		return
	}

	summary, err := h.scanner.Run(r.Context(), time.Now())
	if err != nil {
		log.Printf("[API] campaign scan pass error: %v", err)
	}
	// Per-campaign failures are carried inside the summary; the pass
	// itself responding is a 200 even when some campaigns errored.
	httputil.OK(w, summary)
}

// ProcessEmails drains one delivery batch and returns its stats.
//
//	GET|POST /jobs/process-emails
func (h *Handlers) ProcessEmails(w http.ResponseWriter, r *http.Request) {
	if h.delegated {
		httputil.Accepted(w, map[string]any{"success": true, "delegated": true})
		return
	}

	stats, err := h.worker.ProcessOnce(r.Context(), time.Now())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, stats)
}

// Health reports component status.
//
//	GET /health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if h.health == nil {
		httputil.OK(w, map[string]string{"status": "healthy"})
		return
	}
	h.health.Handle(w, r)
}
