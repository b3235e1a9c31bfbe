package provider

import (
	"context"
	"time"
)

// TokenStore persists per-project OAuth tokens. Implemented by the
// sync layer on top of connection rows; the client calls SaveToken
// after a successful refresh so new tokens survive the process.
type TokenStore interface {
	Token(ctx context.Context, projectID string) (*Token, error)
	SaveToken(ctx context.Context, projectID string, t *Token) error
}

type Client interface {
	AuthURL(projectID, state string) string
	ExchangeCode(ctx context.Context, code string) (*Token, error)

	ListEventTypes(ctx context.Context, projectID string) ([]EventType, error)
	// ListEvents may return partial results alongside an error when a
	// page fetch fails mid-listing; callers keep what was fetched.
	ListEvents(ctx context.Context, projectID string, from, to time.Time) ([]RemoteEvent, error)

	RegisterWebhook(ctx context.Context, projectID, callbackURL string) (*Webhook, error)
	ListWebhooks(ctx context.Context, projectID string) ([]Webhook, error)
	DeleteWebhook(ctx context.Context, projectID, webhookID string) error

	RevokeToken(ctx context.Context, projectID string) error
}
