package sync

import (
	"fmt"
	"time"
)

// Trigger reasons, recorded on every run for observability.
const (
	ReasonManual        = "manual"
	ReasonWebhook       = "webhook"
	ReasonScheduledPoll = "scheduled_poll"
	ReasonBackstop      = "backstop"
	ReasonBackfill      = "backfill"
)

type SyncRequest struct {
	ProjectID string `json:"project_id"`
	Reason    string `json:"reason"`
	Debug     bool   `json:"debug"`
}

type Window struct {
	From time.Time
	To   time.Time
}

// Report is the per-run summary. It lives in logs and responses only;
// nothing persists it.
type Report struct {
	RunID          string `json:"run_id"`
	ProjectID      string `json:"project_id"`
	TriggerReason  string `json:"trigger_reason"`
	EventsFetched  int    `json:"events_fetched"`
	EventsUpserted int    `json:"events_upserted"`
	GapsFound      int    `json:"gaps_found"`
	EventsFailed   int    `json:"events_failed"`
	Skipped        bool   `json:"skipped"`
}

func (r Report) String() string {
	if r.Skipped {
		return fmt.Sprintf("[%s] skipped (already in flight)", r.ProjectID)
	}
	return fmt.Sprintf("[%s] fetched=%d gaps=%d upserted=%d failed=%d", r.ProjectID, r.EventsFetched, r.GapsFound, r.EventsUpserted, r.EventsFailed)
}
