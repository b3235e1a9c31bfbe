package metrics

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"scheduling-sync-service/internal/config"
	"scheduling-sync-service/internal/logger"
	"scheduling-sync-service/internal/provider"
	"scheduling-sync-service/internal/store"
	"scheduling-sync-service/internal/sync"
)

func TestMain(m *testing.M) {
	logger.Log = zap.NewNop()
	os.Exit(m.Run())
}

// scriptedClient serves a fixed remote event set; everything else on
// the provider interface is unused here.
type scriptedClient struct {
	events []provider.RemoteEvent
}

func (c *scriptedClient) AuthURL(string, string) string { return "" }

func (c *scriptedClient) ExchangeCode(context.Context, string) (*provider.Token, error) {
	return nil, nil
}

func (c *scriptedClient) ListEventTypes(context.Context, string) ([]provider.EventType, error) {
	return nil, nil
}

func (c *scriptedClient) ListEvents(_ context.Context, _ string, from, to time.Time) ([]provider.RemoteEvent, error) {
	var out []provider.RemoteEvent
	for _, e := range c.events {
		if e.ScheduledAt.Before(from) || e.ScheduledAt.After(to) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (c *scriptedClient) RegisterWebhook(context.Context, string, string) (*provider.Webhook, error) {
	return nil, nil
}

func (c *scriptedClient) ListWebhooks(context.Context, string) ([]provider.Webhook, error) {
	return nil, nil
}

func (c *scriptedClient) DeleteWebhook(context.Context, string, string) error { return nil }

func (c *scriptedClient) RevokeToken(context.Context, string) error { return nil }

// One active mapping, three remote events: two active calls already
// held, one cancellation for a future slot. Reconcile, then report.
func TestReconcileThenReport(t *testing.T) {
	st, err := store.NewSQLiteStore(config.StateStorage{
		FilePath: filepath.Join(t.TempDir(), "state.db"),
	})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	now := time.Now().UTC()

	if err := st.ActivateMapping(ctx, &store.Mapping{
		ProjectID:         "p1",
		RemoteEventTypeID: "type-t",
		DisplayName:       "Strategy Call",
		IsActive:          true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}); err != nil {
		t.Fatalf("activate mapping: %v", err)
	}

	created := now.Add(-72 * time.Hour)
	client := &scriptedClient{events: []provider.RemoteEvent{
		{ID: "ev1", EventTypeID: "type-t", Status: "active", ScheduledAt: now.Add(-48 * time.Hour), CreatedAt: created, UpdatedAt: created},
		{ID: "ev2", EventTypeID: "type-t", Status: "active", ScheduledAt: now.Add(-24 * time.Hour), CreatedAt: created, UpdatedAt: created},
		{ID: "ev3", EventTypeID: "type-t", Status: "cancelled", ScheduledAt: now.Add(24 * time.Hour), CreatedAt: created, UpdatedAt: created},
	}}

	channels := sync.NewChannelManager(st, client, "http://localhost/webhooks/scheduling")
	reconciler := sync.NewReconciler(st, client, channels, config.SyncConfig{LookbackDays: 30})

	report, err := reconciler.Reconcile(ctx, "p1", sync.Window{
		From: now.Add(-30 * 24 * time.Hour),
		To:   now.Add(30 * 24 * time.Hour),
	}, sync.ReasonManual)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if report.GapsFound != 3 || report.EventsUpserted != 3 {
		t.Fatalf("reconcile report = %+v, want 3 gaps closed", report)
	}

	calc := NewCalculator(st)
	day := func(t time.Time) string { return t.UTC().Format("2006-01-02") }
	rng := mustRange(t, day(now.Add(-72*time.Hour)), day(now.Add(48*time.Hour)), "UTC")

	mr, err := calc.ProjectReport(ctx, "p1", rng)
	if err != nil {
		t.Fatalf("ProjectReport: %v", err)
	}

	cur := mr.Current
	if cur.CallsTaken != 2 {
		t.Errorf("completed = %d, want 2", cur.CallsTaken)
	}
	if cur.Cancelled != 1 {
		t.Errorf("cancelled = %d, want 1", cur.Cancelled)
	}
	if cur.Upcoming != 0 {
		t.Errorf("upcoming = %d, want 0", cur.Upcoming)
	}
	if !approx(cur.ShowUpRate, 100) {
		t.Errorf("show-up rate = %v, want 100", cur.ShowUpRate)
	}
	if cur.TotalBookings != 3 {
		t.Errorf("bookings = %d, want 3", cur.TotalBookings)
	}
}
