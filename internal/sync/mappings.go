package sync

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"scheduling-sync-service/internal/logger"
	"scheduling-sync-service/internal/store"
)

const backfillTimeout = 5 * time.Minute

// Registry owns event-type mappings. Exclusivity (one active project
// per remote event type) is enforced by the store's conditional write;
// the registry translates the store conflict into a user-facing error.
type Registry struct {
	store      store.Store
	reconciler *Reconciler
}

func NewRegistry(st store.Store, reconciler *Reconciler) *Registry {
	return &Registry{
		store:      st,
		reconciler: reconciler,
	}
}

func (r *Registry) Activate(ctx context.Context, projectID, remoteEventTypeID, displayName string) (*store.Mapping, error) {
	projectID = strings.TrimSpace(projectID)
	remoteEventTypeID = strings.TrimSpace(remoteEventTypeID)
	if projectID == "" {
		return nil, &ValidationError{Field: "project_id", Reason: "must not be empty"}
	}
	if remoteEventTypeID == "" {
		return nil, &ValidationError{Field: "remote_event_type_id", Reason: "must not be empty"}
	}

	active, err := r.store.CountActiveMappings(ctx, projectID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	m := &store.Mapping{
		ProjectID:         projectID,
		RemoteEventTypeID: remoteEventTypeID,
		DisplayName:       displayName,
		IsActive:          true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := r.store.ActivateMapping(ctx, m); err != nil {
		if errors.Is(err, store.ErrMappingConflict) {
			return nil, &ConflictError{RemoteEventTypeID: remoteEventTypeID}
		}
		return nil, err
	}

	logger.Log.Info("Activated mapping",
		zap.String("projectID", projectID),
		zap.String("eventTypeID", remoteEventTypeID),
	)

	// First mapping for a project: backfill history once so metrics
	// have something to chew on before steady-state sync catches up.
	if active == 0 && r.reconciler != nil {
		go r.backfill(projectID)
	}

	return m, nil
}

func (r *Registry) backfill(projectID string) {
	ctx, cancel := context.WithTimeout(context.Background(), backfillTimeout)
	defer cancel()

	report, err := r.reconciler.ReconcileLookback(ctx, projectID, true, ReasonBackfill)
	if err != nil {
		logger.Log.Warn("Historical backfill failed; next scheduled run will retry",
			zap.String("projectID", projectID),
			zap.Error(err),
		)
		return
	}
	logger.Log.Info("Historical backfill finished",
		zap.String("projectID", projectID),
		zap.String("report", report.String()),
	)
}

// Deactivate is idempotent: absent or already-inactive mappings are a
// no-op.
func (r *Registry) Deactivate(ctx context.Context, projectID, remoteEventTypeID string) error {
	projectID = strings.TrimSpace(projectID)
	remoteEventTypeID = strings.TrimSpace(remoteEventTypeID)
	if projectID == "" {
		return &ValidationError{Field: "project_id", Reason: "must not be empty"}
	}
	if remoteEventTypeID == "" {
		return &ValidationError{Field: "remote_event_type_id", Reason: "must not be empty"}
	}
	return r.store.DeactivateMapping(ctx, projectID, remoteEventTypeID)
}

func (r *Registry) ListActive(ctx context.Context, projectID string) ([]*store.Mapping, error) {
	return r.store.ListActiveMappings(ctx, projectID)
}
