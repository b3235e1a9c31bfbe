package sync

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"scheduling-sync-service/internal/provider"
	"scheduling-sync-service/internal/store"
)

// connectionTokens backs the provider client's token store with the
// connection rows, so refreshed tokens survive the process.
type connectionTokens struct {
	store store.Store
}

func NewConnectionTokenStore(st store.Store) provider.TokenStore {
	return &connectionTokens{store: st}
}

func (s *connectionTokens) Token(ctx context.Context, projectID string) (*provider.Token, error) {
	conn, err := s.store.GetConnection(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if conn == nil || !conn.AccessToken.Valid {
		return nil, nil
	}

	tok := &provider.Token{AccessToken: conn.AccessToken.String}
	if conn.RefreshToken.Valid {
		tok.RefreshToken = conn.RefreshToken.String
	}
	if conn.TokenExpiresAt.Valid {
		tok.ExpiresAt = conn.TokenExpiresAt.Time
	}
	return tok, nil
}

func (s *connectionTokens) SaveToken(ctx context.Context, projectID string, t *provider.Token) error {
	conn, err := s.store.GetConnection(ctx, projectID)
	if err != nil {
		return err
	}
	if conn == nil {
		return fmt.Errorf("no connection for project %s", projectID)
	}

	conn.AccessToken = sql.NullString{String: t.AccessToken, Valid: t.AccessToken != ""}
	conn.RefreshToken = sql.NullString{String: t.RefreshToken, Valid: t.RefreshToken != ""}
	conn.TokenExpiresAt = sql.NullTime{Time: t.ExpiresAt, Valid: !t.ExpiresAt.IsZero()}
	conn.UpdatedAt = time.Now().UTC()
	return s.store.UpsertConnection(ctx, conn)
}
