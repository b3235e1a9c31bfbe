package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"scheduling-sync-service/internal/config"
	"scheduling-sync-service/internal/logger"
)

// MySQL has no partial indexes, so the exclusive active claim lives in
// a stored generated column: the type ID when active, NULL otherwise.
// NULLs never collide, active duplicates do.
const mysqlSchema = `
CREATE TABLE IF NOT EXISTS mappings (
	project_id           VARCHAR(64)  NOT NULL,
	remote_event_type_id VARCHAR(128) NOT NULL,
	display_name         VARCHAR(255) NOT NULL DEFAULT '',
	is_active            TINYINT(1)   NOT NULL DEFAULT 1,
	active_claim         VARCHAR(128) GENERATED ALWAYS AS (IF(is_active, remote_event_type_id, NULL)) STORED,
	created_at           DATETIME NOT NULL,
	updated_at           DATETIME NOT NULL,
	PRIMARY KEY (project_id, remote_event_type_id),
	UNIQUE KEY uniq_active_claim (active_claim)
);

CREATE TABLE IF NOT EXISTS connections (
	project_id        VARCHAR(64) NOT NULL,
	channel_mode      VARCHAR(16) NOT NULL,
	access_token      TEXT,
	refresh_token     TEXT,
	token_expires_at  DATETIME,
	webhook_id        VARCHAR(128),
	degraded_reason   VARCHAR(255),
	last_health_check DATETIME,
	created_at        DATETIME NOT NULL,
	updated_at        DATETIME NOT NULL,
	PRIMARY KEY (project_id)
);

CREATE TABLE IF NOT EXISTS events (
	remote_event_id      VARCHAR(128) NOT NULL,
	project_id           VARCHAR(64)  NOT NULL,
	remote_event_type_id VARCHAR(128) NOT NULL,
	scheduled_at         DATETIME NOT NULL,
	created_at           DATETIME NOT NULL,
	updated_at           DATETIME NOT NULL,
	invitee_name         VARCHAR(255),
	invitee_email        VARCHAR(255),
	status               VARCHAR(32) NOT NULL,
	last_seen_at         DATETIME NOT NULL,
	PRIMARY KEY (remote_event_id),
	KEY idx_events_project_scheduled (project_id, scheduled_at),
	KEY idx_events_project_created (project_id, created_at)
);
`

type MySQLStore struct {
	db *sql.DB
}

func NewMySQLStore(cfg config.StateStorage) (*MySQLStore, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true&clientFoundRows=true",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql connection: %w", err)
	}

	// Retry loop for Ping
	maxRetries := 30
	for i := 0; i < maxRetries; i++ {
		err = db.Ping()
		if err == nil {
			break
		}
		logger.Log.Info("Waiting for state DB...", zap.Error(err), zap.Int("attempt", i+1))
		time.Sleep(1 * time.Second)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to ping mysql after retries: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	if _, err := db.Exec(mysqlSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to bootstrap mysql schema: %w", err)
	}

	return &MySQLStore{db: db}, nil
}

func (s *MySQLStore) Close() error {
	return s.db.Close()
}

// ActivateMapping cannot use ON DUPLICATE KEY UPDATE: with two unique
// keys on the table, a collision on the active-claim key would update
// the other project's row and silently transfer ownership. Update own
// row first, insert otherwise; either statement trips the claim key
// when another project is active.
func (s *MySQLStore) ActivateMapping(ctx context.Context, m *Mapping) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE mappings SET display_name = ?, is_active = 1, updated_at = ?
		 WHERE project_id = ? AND remote_event_type_id = ?`,
		m.DisplayName, m.UpdatedAt.UTC(), m.ProjectID, m.RemoteEventTypeID)
	if isMySQLDuplicate(err, "uniq_active_claim") {
		return ErrMappingConflict
	}
	if err != nil {
		return err
	}

	matched, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if matched > 0 {
		return nil
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO mappings (project_id, remote_event_type_id, display_name, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, 1, ?, ?)`,
		m.ProjectID, m.RemoteEventTypeID, m.DisplayName, m.CreatedAt.UTC(), m.UpdatedAt.UTC())
	if isMySQLDuplicate(err, "uniq_active_claim") {
		return ErrMappingConflict
	}
	return err
}

func (s *MySQLStore) DeactivateMapping(ctx context.Context, projectID, remoteEventTypeID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE mappings SET is_active = 0, updated_at = ?
		 WHERE project_id = ? AND remote_event_type_id = ? AND is_active = 1`,
		time.Now().UTC(), projectID, remoteEventTypeID)
	return err
}

func (s *MySQLStore) ListActiveMappings(ctx context.Context, projectID string) ([]*Mapping, error) {
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

func (s *MySQLStore) CountActiveMappings(ctx context.Context, projectID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM mappings WHERE project_id = ? AND is_active = 1`, projectID).Scan(&n)
	return n, err
}

func (s *MySQLStore) DeleteMappings(ctx context.Context, projectID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM mappings WHERE project_id = ?`, projectID)
	return err
}

func (s *MySQLStore) UpsertConnection(ctx context.Context, c *Connection) error {
	query := `INSERT INTO connections (project_id, channel_mode, access_token, refresh_token, token_expires_at, webhook_id, degraded_reason, last_health_check, created_at, updated_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			  ON DUPLICATE KEY UPDATE
			  channel_mode = VALUES(channel_mode),
			  access_token = VALUES(access_token),
			  refresh_token = VALUES(refresh_token),
			  token_expires_at = VALUES(token_expires_at),
			  webhook_id = VALUES(webhook_id),
			  degraded_reason = VALUES(degraded_reason),
			  last_health_check = VALUES(last_health_check),
			  updated_at = VALUES(updated_at)`

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

func (s *MySQLStore) GetConnection(ctx context.Context, projectID string) (*Connection, error) {
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

func (s *MySQLStore) ListConnections(ctx context.Context) ([]*Connection, error) {
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

func (s *MySQLStore) DeleteConnection(ctx context.Context, projectID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM connections WHERE project_id = ?`, projectID)
	return err
}

func (s *MySQLStore) UpsertEvent(ctx context.Context, e *Event) (bool, error) {
	query := `INSERT INTO events (remote_event_id, project_id, remote_event_type_id, scheduled_at, created_at, updated_at, invitee_name, invitee_email, status, last_seen_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			  ON DUPLICATE KEY UPDATE
			  project_id = IF(VALUES(updated_at) >= updated_at, VALUES(project_id), project_id),
			  remote_event_type_id = IF(VALUES(updated_at) >= updated_at, VALUES(remote_event_type_id), remote_event_type_id),
			  scheduled_at = IF(VALUES(updated_at) >= updated_at, VALUES(scheduled_at), scheduled_at),
			  created_at = IF(VALUES(updated_at) >= updated_at, VALUES(created_at), created_at),
			  invitee_name = IF(VALUES(updated_at) >= updated_at, VALUES(invitee_name), invitee_name),
			  invitee_email = IF(VALUES(updated_at) >= updated_at, VALUES(invitee_email), invitee_email),
			  status = IF(VALUES(updated_at) >= updated_at, VALUES(status), status),
			  last_seen_at = GREATEST(last_seen_at, VALUES(last_seen_at)),
			  updated_at = IF(VALUES(updated_at) >= updated_at, VALUES(updated_at), updated_at)`

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

	// 1 = inserted, 2 = updated in place (mysql convention).
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *MySQLStore) QueryEvents(ctx context.Context, f EventFilter) ([]*Event, error) {
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

func isMySQLDuplicate(err error, key string) bool {
	if err == nil {
		return false
	}
	var merr *mysql.MySQLError
	if !errors.As(err, &merr) || merr.Number != 1062 {
		return false
	}
	return key == "" || strings.Contains(merr.Message, key)
}
