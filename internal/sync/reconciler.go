package sync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"scheduling-sync-service/internal/config"
	"scheduling-sync-service/internal/logger"
	"scheduling-sync-service/internal/provider"
	"scheduling-sync-service/internal/store"
)

// Reconciler closes the gap between the remote provider's event window
// and the local store. Runs are idempotent: every write is a
// last-write-wins upsert keyed on the remote event ID, so overlapping
// or repeated runs converge instead of corrupting.
type Reconciler struct {
	store    store.Store
	client   provider.Client
	channels *ChannelManager
	cfg      config.SyncConfig

	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewReconciler(st store.Store, client provider.Client, channels *ChannelManager, cfg config.SyncConfig) *Reconciler {
	return &Reconciler{
		store:    st,
		client:   client,
		channels: channels,
		cfg:      cfg,
		inflight: make(map[string]struct{}),
	}
}

// ReconcileLookback runs with the configured window around now:
// lookback behind (debug widens it), lookahead in front so upcoming
// bookings and cancellations of future slots are fetched too.
func (r *Reconciler) ReconcileLookback(ctx context.Context, projectID string, debug bool, reason string) (*Report, error) {
	now := time.Now().UTC()
	w := Window{From: now.Add(-r.cfg.Lookback(debug)), To: now.Add(r.cfg.Lookahead())}
	return r.Reconcile(ctx, projectID, w, reason)
}

func (r *Reconciler) Reconcile(ctx context.Context, projectID string, w Window, reason string) (*Report, error) {
	report := &Report{
		RunID:         uuid.New().String(),
		ProjectID:     projectID,
		TriggerReason: reason,
	}

	if !r.acquire(projectID) {
		report.Skipped = true
		logger.Log.Debug("Reconciliation already in flight, skipping",
			zap.String("projectID", projectID),
			zap.String("reason", reason),
		)
		return report, nil
	}
	defer r.release(projectID)

	log := logger.Log.With(
		zap.String("runID", report.RunID),
		zap.String("projectID", projectID),
		zap.String("reason", reason),
	)

	mappings, err := r.store.ListActiveMappings(ctx, projectID)
	if err != nil {
		return report, err
	}
	if len(mappings) == 0 {
		log.Debug("No active mappings, nothing to reconcile")
		return report, nil
	}

	tracked := make(map[string]bool, len(mappings))
	typeIDs := make([]string, 0, len(mappings))
	for _, m := range mappings {
		tracked[m.RemoteEventTypeID] = true
		typeIDs = append(typeIDs, m.RemoteEventTypeID)
	}

	remote, fetchErr := r.client.ListEvents(ctx, projectID, w.From, w.To)
	if fetchErr != nil {
		if errors.Is(fetchErr, provider.ErrAuthExpired) {
			if merr := r.channels.MarkAuthExpired(ctx, projectID); merr != nil {
				log.Error("Failed to mark connection disconnected", zap.Error(merr))
			}
			return report, fetchErr
		}
		if len(remote) == 0 {
			// Total unavailability: retryable, nothing to converge on.
			return report, fetchErr
		}
		// Partial fetch (pagination cutoff): reconcile what we got;
		// the next run picks up the rest.
		log.Warn("Partial fetch from provider, continuing with what we have",
			zap.Int("fetched", len(remote)),
			zap.Error(fetchErr),
		)
	}

	// The provider lists events across all types; only tracked types
	// belong to this project's store.
	candidates := remote[:0:0]
	for _, e := range remote {
		if tracked[e.EventTypeID] {
			candidates = append(candidates, e)
		}
	}
	report.EventsFetched = len(candidates)

	local, err := r.store.QueryEvents(ctx, store.EventFilter{
		ProjectID:     projectID,
		EventTypeIDs:  typeIDs,
		ScheduledFrom: w.From,
		ScheduledTo:   w.To,
	})
	if err != nil {
		return report, err
	}
	known := make(map[string]*store.Event, len(local))
	for _, e := range local {
		known[e.RemoteEventID] = e
	}

	now := time.Now().UTC()
	for _, remoteEvent := range candidates {
		if !isGap(known[remoteEvent.ID], remoteEvent) {
			continue
		}
		report.GapsFound++

		if _, err := r.store.UpsertEvent(ctx, eventRow(projectID, remoteEvent, now)); err != nil {
			// A single bad event never aborts the batch.
			report.EventsFailed++
			log.Error("Failed to upsert event",
				zap.String("remoteEventID", remoteEvent.ID),
				zap.Error(err),
			)
			continue
		}
		report.EventsUpserted++
	}

	log.Info("Reconciliation finished",
		zap.Int("eventsFetched", report.EventsFetched),
		zap.Int("gapsFound", report.GapsFound),
		zap.Int("eventsUpserted", report.EventsUpserted),
		zap.Int("eventsFailed", report.EventsFailed),
	)
	return report, nil
}

// isGap reports whether the remote event is missing locally or carries
// changed data (a cancellation, a reschedule, any newer revision).
func isGap(local *store.Event, remote provider.RemoteEvent) bool {
	if local == nil {
		return true
	}
	if local.Status != remote.Status {
		return true
	}
	if !local.ScheduledAt.Equal(remote.ScheduledAt) {
		return true
	}
	if !remote.UpdatedAt.IsZero() && remote.UpdatedAt.After(local.UpdatedAt) {
		return true
	}
	return false
}

func (r *Reconciler) acquire(projectID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, running := r.inflight[projectID]; running {
		return false
	}
	r.inflight[projectID] = struct{}{}
	return true
}

func (r *Reconciler) release(projectID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inflight, projectID)
}
