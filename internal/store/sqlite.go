package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	sqlite "modernc.org/sqlite"

	"scheduling-sync-service/internal/config"
	"scheduling-sync-service/internal/logger"
)

// Exclusivity of active mappings is enforced by the partial unique
// index on remote_event_type_id: concurrent claims race at the
// database, never in Go.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS mappings (
	project_id           TEXT NOT NULL,
	remote_event_type_id TEXT NOT NULL,
	display_name         TEXT NOT NULL DEFAULT '',
	is_active            INTEGER NOT NULL DEFAULT 1,
	created_at           TIMESTAMP NOT NULL,
	updated_at           TIMESTAMP NOT NULL,
	PRIMARY KEY (project_id, remote_event_type_id)
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_mappings_active_claim
	ON mappings (remote_event_type_id) WHERE is_active = 1;

CREATE TABLE IF NOT EXISTS connections (
	project_id        TEXT PRIMARY KEY,
	channel_mode      TEXT NOT NULL,
	access_token      TEXT,
	refresh_token     TEXT,
	token_expires_at  TIMESTAMP,
	webhook_id        TEXT,
	degraded_reason   TEXT,
	last_health_check TIMESTAMP,
	created_at        TIMESTAMP NOT NULL,
	updated_at        TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
	remote_event_id      TEXT PRIMARY KEY,
	project_id           TEXT NOT NULL,
	remote_event_type_id TEXT NOT NULL,
	scheduled_at         TIMESTAMP NOT NULL,
	created_at           TIMESTAMP NOT NULL,
	updated_at           TIMESTAMP NOT NULL,
	invitee_name         TEXT,
	invitee_email        TEXT,
	status               TEXT NOT NULL,
	last_seen_at         TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_project_scheduled
	ON events (project_id, scheduled_at);
CREATE INDEX IF NOT EXISTS idx_events_project_created
	ON events (project_id, created_at);
`

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(cfg config.StateStorage) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", cfg.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// modernc/sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent upserts.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL; PRAGMA foreign_keys = ON;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set sqlite pragmas: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to bootstrap sqlite schema: %w", err)
	}

	logger.Log.Info("Opened sqlite state store", zap.String("path", cfg.FilePath))

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ActivateMapping(ctx context.Context, m *Mapping) error {
	query := `INSERT INTO mappings (project_id, remote_event_type_id, display_name, is_active, created_at, updated_at)
			  VALUES (?, ?, ?, 1, ?, ?)
			  ON CONFLICT(project_id, remote_event_type_id) DO UPDATE SET
			  display_name = excluded.display_name,
			  is_active = 1,
			  updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		m.ProjectID,
		m.RemoteEventTypeID,
		m.DisplayName,
		m.CreatedAt.UTC(),
		m.UpdatedAt.UTC(),
	)
	if isSQLiteUniqueViolation(err) {
		return ErrMappingConflict
	}
	return err
}

func (s *SQLiteStore) DeactivateMapping(ctx context.Context, projectID, remoteEventTypeID string) error {
	query := `UPDATE mappings SET is_active = 0, updated_at = ?
			  WHERE project_id = ? AND remote_event_type_id = ? AND is_active = 1`

	_, err := s.db.ExecContext(ctx, query, time.Now().UTC(), projectID, remoteEventTypeID)
	return err
}

func (s *SQLiteStore) ListActiveMappings(ctx context.Context, projectID string) ([]*Mapping, error) {
	query := `SELECT project_id, remote_event_type_id, display_name, is_active, created_at, updated_at
			  FROM mappings WHERE project_id = ? AND is_active = 1 ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var mappings []*Mapping
	for rows.Next() {
		var m Mapping
		if err := rows.Scan(&m.ProjectID, &m.RemoteEventTypeID, &m.DisplayName, &m.IsActive, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		mappings = append(mappings, &m)
	}
	return mappings, rows.Err()
}

func (s *SQLiteStore) CountActiveMappings(ctx context.Context, projectID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM mappings WHERE project_id = ? AND is_active = 1`, projectID).Scan(&n)
	return n, err
}

func (s *SQLiteStore) DeleteMappings(ctx context.Context, projectID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM mappings WHERE project_id = ?`, projectID)
	return err
}

func (s *SQLiteStore) UpsertConnection(ctx context.Context, c *Connection) error {
	query := `INSERT INTO connections (project_id, channel_mode, access_token, refresh_token, token_expires_at, webhook_id, degraded_reason, last_health_check, created_at, updated_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			  ON CONFLICT(project_id) DO UPDATE SET
			  channel_mode = excluded.channel_mode,
			  access_token = excluded.access_token,
			  refresh_token = excluded.refresh_token,
			  token_expires_at = excluded.token_expires_at,
			  webhook_id = excluded.webhook_id,
			  degraded_reason = excluded.degraded_reason,
			  last_health_check = excluded.last_health_check,
			  updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		c.ProjectID,
		c.ChannelMode,
		c.AccessToken,
		c.RefreshToken,
		c.TokenExpiresAt,
		c.WebhookID,
		c.DegradedReason,
		c.LastHealthCheck,
		c.CreatedAt.UTC(),
		c.UpdatedAt.UTC(),
	)
	return err
}

func (s *SQLiteStore) GetConnection(ctx context.Context, projectID string) (*Connection, error) {
	query := `SELECT project_id, channel_mode, access_token, refresh_token, token_expires_at, webhook_id, degraded_reason, last_health_check, created_at, updated_at
			  FROM connections WHERE project_id = ?`

	row := s.db.QueryRowContext(ctx, query, projectID)

	var c Connection
	err := row.Scan(
		&c.ProjectID,
		&c.ChannelMode,
		&c.AccessToken,
		&c.RefreshToken,
		&c.TokenExpiresAt,
		&c.WebhookID,
		&c.DegradedReason,
		&c.LastHealthCheck,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *SQLiteStore) ListConnections(ctx context.Context) ([]*Connection, error) {
	query := `SELECT project_id, channel_mode, access_token, refresh_token, token_expires_at, webhook_id, degraded_reason, last_health_check, created_at, updated_at
			  FROM connections ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conns []*Connection
	for rows.Next() {
		var c Connection
		if err := rows.Scan(&c.ProjectID, &c.ChannelMode, &c.AccessToken, &c.RefreshToken, &c.TokenExpiresAt, &c.WebhookID, &c.DegradedReason, &c.LastHealthCheck, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		conns = append(conns, &c)
	}
	return conns, rows.Err()
}

func (s *SQLiteStore) DeleteConnection(ctx context.Context, projectID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM connections WHERE project_id = ?`, projectID)
	return err
}

// UpsertEvent is last-write-wins on updated_at: a replayed or stale
// delivery never overwrites fresher data. Returns whether the row was
// inserted or replaced.
func (s *SQLiteStore) UpsertEvent(ctx context.Context, e *Event) (bool, error) {
	query := `INSERT INTO events (remote_event_id, project_id, remote_event_type_id, scheduled_at, created_at, updated_at, invitee_name, invitee_email, status, last_seen_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			  ON CONFLICT(remote_event_id) DO UPDATE SET
			  project_id = excluded.project_id,
			  remote_event_type_id = excluded.remote_event_type_id,
			  scheduled_at = excluded.scheduled_at,
			  created_at = excluded.created_at,
			  updated_at = excluded.updated_at,
			  invitee_name = excluded.invitee_name,
			  invitee_email = excluded.invitee_email,
			  status = excluded.status,
			  last_seen_at = excluded.last_seen_at
			  WHERE excluded.updated_at >= events.updated_at`

	res, err := s.db.ExecContext(ctx, query,
		e.RemoteEventID,
		e.ProjectID,
		e.RemoteEventTypeID,
		e.ScheduledAt.UTC(),
		e.CreatedAt.UTC(),
		e.UpdatedAt.UTC(),
		e.InviteeName,
		e.InviteeEmail,
		e.Status,
		e.LastSeenAt.UTC(),
	)
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected > 0 {
		return true, nil
	}

	// Stale payload: still record that the remote mentioned the event.
	_, err = s.db.ExecContext(ctx,
		`UPDATE events SET last_seen_at = ? WHERE remote_event_id = ? AND last_seen_at < ?`,
		e.LastSeenAt.UTC(), e.RemoteEventID, e.LastSeenAt.UTC())
	return false, err
}

func (s *SQLiteStore) QueryEvents(ctx context.Context, f EventFilter) ([]*Event, error) {
	query := `SELECT remote_event_id, project_id, remote_event_type_id, scheduled_at, created_at, updated_at, invitee_name, invitee_email, status, last_seen_at
			  FROM events WHERE project_id = ?`
	args := []interface{}{f.ProjectID}

	if len(f.EventTypeIDs) > 0 {
		query += ` AND remote_event_type_id IN (?` + strings.Repeat(",?", len(f.EventTypeIDs)-1) + `)`
		for _, id := range f.EventTypeIDs {
			args = append(args, id)
		}
	}
	if !f.ScheduledFrom.IsZero() {
		query += ` AND scheduled_at >= ?`
		args = append(args, f.ScheduledFrom.UTC())
	}
	if !f.ScheduledTo.IsZero() {
		query += ` AND scheduled_at <= ?`
		args = append(args, f.ScheduledTo.UTC())
	}
	if !f.TouchedFrom.IsZero() {
		query += ` AND (scheduled_at >= ? OR created_at >= ?)`
		args = append(args, f.TouchedFrom.UTC(), f.TouchedFrom.UTC())
	}
	if !f.TouchedTo.IsZero() {
		query += ` AND (scheduled_at <= ? OR created_at <= ?)`
		args = append(args, f.TouchedTo.UTC(), f.TouchedTo.UTC())
	}
	query += ` ORDER BY scheduled_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.RemoteEventID, &e.ProjectID, &e.RemoteEventTypeID, &e.ScheduledAt, &e.CreatedAt, &e.UpdatedAt, &e.InviteeName, &e.InviteeEmail, &e.Status, &e.LastSeenAt); err != nil {
			return nil, err
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

func isSQLiteUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		// 2067 = SQLITE_CONSTRAINT_UNIQUE
		return serr.Code() == 2067
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
