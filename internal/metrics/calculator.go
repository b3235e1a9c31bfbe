package metrics

import (
	"context"
	"time"

	"scheduling-sync-service/internal/store"
)

// Calculator reads reconciled events from the store and never talks to
// the remote provider.
type Calculator struct {
	store store.Store
}

func NewCalculator(st store.Store) *Calculator {
	return &Calculator{store: st}
}

// ProjectReport evaluates the range plus the equal-length preceding
// window and returns paired values with signed growth.
func (c *Calculator) ProjectReport(ctx context.Context, projectID string, r Range) (*Report, error) {
	prev := r.Previous()

	// One query spans both windows; day membership is re-checked per
	// window in Compute, so overfetching the boundary day is harmless.
	events, err := c.store.QueryEvents(ctx, store.EventFilter{
		ProjectID:   projectID,
		TouchedFrom: prev.From,
		TouchedTo:   r.To.AddDate(0, 0, 1),
	})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	current := Compute(events, r, now)
	previous := Compute(events, prev, now)

	return &Report{
		Current:  current,
		Previous: previous,
		Growth:   compare(current, previous),
	}, nil
}
