package sync

import (
	"context"
	"strings"

	"scheduling-sync-service/internal/config"
	"scheduling-sync-service/internal/provider"
	"scheduling-sync-service/internal/store"
)

// Manager wires the engine together and is the single entry point for
// sync triggers (manual, scheduled, webhook-driven).
type Manager struct {
	cfg        *config.Config
	store      store.Store
	client     provider.Client
	channels   *ChannelManager
	reconciler *Reconciler
	registry   *Registry
	deliveries *DeliveryProcessor
}

func NewManager(cfg *config.Config, st store.Store, client provider.Client) *Manager {
	channels := NewChannelManager(st, client, cfg.Provider.WebhookCallbackURL)
	reconciler := NewReconciler(st, client, channels, cfg.Sync)

	return &Manager{
		cfg:        cfg,
		store:      st,
		client:     client,
		channels:   channels,
		reconciler: reconciler,
		registry:   NewRegistry(st, reconciler),
		deliveries: NewDeliveryProcessor(st, cfg.Sync),
	}
}

func (m *Manager) Start() {
	m.deliveries.Start()
}

func (m *Manager) Stop() {
	m.deliveries.Stop()
}

// TriggerSync runs one reconciliation for the project. Debug widens
// the lookback and nothing else.
func (m *Manager) TriggerSync(ctx context.Context, req SyncRequest) (*Report, error) {
	if strings.TrimSpace(req.ProjectID) == "" {
		return nil, &ValidationError{Field: "project_id", Reason: "must not be empty"}
	}
	reason := req.Reason
	if reason == "" {
		reason = ReasonManual
	}
	return m.reconciler.ReconcileLookback(ctx, req.ProjectID, req.Debug, reason)
}

func (m *Manager) HandleDelivery(d Delivery) bool {
	return m.deliveries.Enqueue(d)
}

func (m *Manager) Registry() *Registry {
	return m.registry
}

func (m *Manager) Channels() *ChannelManager {
	return m.channels
}

func (m *Manager) Client() provider.Client {
	return m.client
}

func (m *Manager) Store() store.Store {
	return m.store
}
