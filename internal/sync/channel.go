package sync

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"scheduling-sync-service/internal/logger"
	"scheduling-sync-service/internal/provider"
	"scheduling-sync-service/internal/store"
)

// ChannelManager runs the connection lifecycle:
//
//	disconnected -> authorizing -> {webhook_active | polling_active} -> disconnected
//
// Webhook registration failure is an expected branch, not an error:
// the connection lands in polling mode with a human-readable reason.
type ChannelManager struct {
	store       store.Store
	client      provider.Client
	callbackURL string
}

func NewChannelManager(st store.Store, client provider.Client, callbackURL string) *ChannelManager {
	return &ChannelManager{
		store:       st,
		client:      client,
		callbackURL: callbackURL,
	}
}

// Connect exchanges the OAuth code, persists the tokens, and attempts
// webhook registration to decide the channel mode.
func (m *ChannelManager) Connect(ctx context.Context, projectID, code string) (*store.Connection, error) {
	if projectID == "" {
		return nil, &ValidationError{Field: "project_id", Reason: "must not be empty"}
	}
	if code == "" {
		return nil, &ValidationError{Field: "code", Reason: "must not be empty"}
	}

	tok, err := m.client.ExchangeCode(ctx, code)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	conn, err := m.store.GetConnection(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if conn == nil {
		conn = &store.Connection{ProjectID: projectID, CreatedAt: now}
	}
	conn.AccessToken = sql.NullString{String: tok.AccessToken, Valid: tok.AccessToken != ""}
	conn.RefreshToken = sql.NullString{String: tok.RefreshToken, Valid: tok.RefreshToken != ""}
	conn.TokenExpiresAt = sql.NullTime{Time: tok.ExpiresAt, Valid: !tok.ExpiresAt.IsZero()}
	conn.ChannelMode = store.ChannelPolling
	conn.DegradedReason = sql.NullString{}
	conn.UpdatedAt = now

	// Tokens must be on the row before RegisterWebhook: the provider
	// client reads them back through the token store.
	if err := m.store.UpsertConnection(ctx, conn); err != nil {
		return nil, err
	}

	m.attemptWebhook(ctx, conn)
	conn.UpdatedAt = time.Now().UTC()
	if err := m.store.UpsertConnection(ctx, conn); err != nil {
		return nil, err
	}
	return conn, nil
}

func (m *ChannelManager) attemptWebhook(ctx context.Context, conn *store.Connection) {
	hook, err := m.client.RegisterWebhook(ctx, conn.ProjectID, m.callbackURL)
	if err != nil {
		reason := "webhook registration failed: " + err.Error()
		conn.ChannelMode = store.ChannelPolling
		conn.WebhookID = sql.NullString{}
		conn.DegradedReason = sql.NullString{String: reason, Valid: true}
		logger.Log.Info("Falling back to polling delivery",
			zap.String("projectID", conn.ProjectID),
			zap.String("reason", reason),
		)
		return
	}
	conn.ChannelMode = store.ChannelWebhook
	conn.WebhookID = sql.NullString{String: hook.ID, Valid: true}
	conn.DegradedReason = sql.NullString{}
	logger.Log.Info("Webhook channel active",
		zap.String("projectID", conn.ProjectID),
		zap.String("webhookID", hook.ID),
	)
}

// HealthCheck bumps last_health_check and, for polling connections,
// retries webhook registration so a past rate limit does not pin the
// connection in polling mode forever.
func (m *ChannelManager) HealthCheck(ctx context.Context, projectID string) (*store.Connection, error) {
	conn, err := m.store.GetConnection(ctx, projectID)
	if err != nil || conn == nil {
		return conn, err
	}
	if conn.ChannelMode == store.ChannelDisconnected {
		return conn, nil
	}

	if conn.ChannelMode == store.ChannelPolling {
		m.attemptWebhook(ctx, conn)
	}
	now := time.Now().UTC()
	conn.LastHealthCheck = sql.NullTime{Time: now, Valid: true}
	conn.UpdatedAt = now
	if err := m.store.UpsertConnection(ctx, conn); err != nil {
		return nil, err
	}
	return conn, nil
}

// CleanupDuplicateWebhooks deletes all but the newest registration for
// our callback URL, then re-points the connection at the survivor.
// Returns how many registrations were deleted.
func (m *ChannelManager) CleanupDuplicateWebhooks(ctx context.Context, projectID string) (int, error) {
	conn, err := m.store.GetConnection(ctx, projectID)
	if err != nil {
		return 0, err
	}
	if conn == nil || conn.ChannelMode == store.ChannelDisconnected {
		return 0, nil
	}

	hooks, err := m.client.ListWebhooks(ctx, projectID)
	if err != nil {
		return 0, err
	}

	var ours []provider.Webhook
	for _, h := range hooks {
		if h.CallbackURL == m.callbackURL {
			ours = append(ours, h)
		}
	}
	if len(ours) == 0 {
		if conn.ChannelMode == store.ChannelWebhook {
			// Registration vanished remotely; drop to polling until
			// the next health check re-registers.
			conn.ChannelMode = store.ChannelPolling
			conn.WebhookID = sql.NullString{}
			conn.DegradedReason = sql.NullString{String: "webhook registration missing remotely", Valid: true}
			conn.UpdatedAt = time.Now().UTC()
			return 0, m.store.UpsertConnection(ctx, conn)
		}
		return 0, nil
	}

	sort.Slice(ours, func(i, j int) bool { return ours[i].CreatedAt.After(ours[j].CreatedAt) })
	keep := ours[0]

	deleted := 0
	for _, h := range ours[1:] {
		if err := m.client.DeleteWebhook(ctx, projectID, h.ID); err != nil {
			logger.Log.Warn("Failed to delete duplicate webhook",
				zap.String("projectID", projectID),
				zap.String("webhookID", h.ID),
				zap.Error(err),
			)
			continue
		}
		deleted++
	}

	conn.ChannelMode = store.ChannelWebhook
	conn.WebhookID = sql.NullString{String: keep.ID, Valid: true}
	conn.DegradedReason = sql.NullString{}
	conn.UpdatedAt = time.Now().UTC()
	if err := m.store.UpsertConnection(ctx, conn); err != nil {
		return deleted, err
	}
	return deleted, nil
}

// Disconnect tears the connection down: best-effort webhook delete and
// token revoke (log and continue on failure), then the connection row
// and the project's mapping claims are removed. This is the one place
// mappings are hard-deleted.
func (m *ChannelManager) Disconnect(ctx context.Context, projectID string) error {
	conn, err := m.store.GetConnection(ctx, projectID)
	if err != nil {
		return err
	}
	if conn == nil {
		return nil
	}

	if conn.WebhookID.Valid {
		if err := m.client.DeleteWebhook(ctx, projectID, conn.WebhookID.String); err != nil {
			logger.Log.Warn("Failed to delete webhook during disconnect",
				zap.String("projectID", projectID),
				zap.Error(err),
			)
		}
	}
	if err := m.client.RevokeToken(ctx, projectID); err != nil {
		logger.Log.Warn("Failed to revoke token during disconnect",
			zap.String("projectID", projectID),
			zap.Error(err),
		)
	}

	if err := m.store.DeleteMappings(ctx, projectID); err != nil {
		return err
	}
	if err := m.store.DeleteConnection(ctx, projectID); err != nil {
		return err
	}

	logger.Log.Info("Disconnected project", zap.String("projectID", projectID))
	return nil
}

// MarkAuthExpired flips the connection to disconnected while keeping
// the row, so the surface can tell the user to reconnect. Tokens are
// cleared; they are already dead.
func (m *ChannelManager) MarkAuthExpired(ctx context.Context, projectID string) error {
	conn, err := m.store.GetConnection(ctx, projectID)
	if err != nil || conn == nil {
		return err
	}

	conn.ChannelMode = store.ChannelDisconnected
	conn.AccessToken = sql.NullString{}
	conn.RefreshToken = sql.NullString{}
	conn.TokenExpiresAt = sql.NullTime{}
	conn.WebhookID = sql.NullString{}
	conn.DegradedReason = sql.NullString{String: "authorization expired, reconnect required", Valid: true}
	conn.UpdatedAt = time.Now().UTC()
	return m.store.UpsertConnection(ctx, conn)
}

// IsAuthExpired exists so callers outside the package do not need to
// import the provider package for the check.
func IsAuthExpired(err error) bool {
	return errors.Is(err, provider.ErrAuthExpired)
}
