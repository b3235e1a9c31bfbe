package store

import (
	"database/sql"
	"time"
)

type ChannelMode string

const (
	ChannelWebhook      ChannelMode = "webhook"
	ChannelPolling      ChannelMode = "polling"
	ChannelDisconnected ChannelMode = "disconnected"
)

// Mapping claims a remote event type for a project. At most one project
// holds an active claim on a given remote_event_type_id at a time; the
// stores enforce that with a unique index over active rows.
type Mapping struct {
	ProjectID         string    `db:"project_id"`
	RemoteEventTypeID string    `db:"remote_event_type_id"`
	DisplayName       string    `db:"display_name"`
	IsActive          bool      `db:"is_active"`
	CreatedAt         time.Time `db:"created_at"`
	UpdatedAt         time.Time `db:"updated_at"`
}

type Connection struct {
	ProjectID       string         `db:"project_id"`
	ChannelMode     ChannelMode    `db:"channel_mode"`
	AccessToken     sql.NullString `db:"access_token"`
	RefreshToken    sql.NullString `db:"refresh_token"`
	TokenExpiresAt  sql.NullTime   `db:"token_expires_at"`
	WebhookID       sql.NullString `db:"webhook_id"`
	DegradedReason  sql.NullString `db:"degraded_reason"`
	LastHealthCheck sql.NullTime   `db:"last_health_check"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

// Event mirrors one remote scheduled event. remote_event_id is the
// dedup key; UpdatedAt is the remote last-modified timestamp and the
// last-write-wins guard on upserts.
type Event struct {
	RemoteEventID     string         `db:"remote_event_id"`
	ProjectID         string         `db:"project_id"`
	RemoteEventTypeID string         `db:"remote_event_type_id"`
	ScheduledAt       time.Time      `db:"scheduled_at"`
	CreatedAt         time.Time      `db:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at"`
	InviteeName       sql.NullString `db:"invitee_name"`
	InviteeEmail      sql.NullString `db:"invitee_email"`
	Status            string         `db:"status"`
	LastSeenAt        time.Time      `db:"last_seen_at"`
}

// EventFilter scopes QueryEvents. Zero time bounds are unbounded.
// ScheduledFrom/To bound scheduled_at; TouchedFrom/To match rows whose
// scheduled_at OR created_at falls in the window (metrics load both
// windowing dimensions in one query that way).
type EventFilter struct {
	ProjectID     string
	EventTypeIDs  []string
	ScheduledFrom time.Time
	ScheduledTo   time.Time
	TouchedFrom   time.Time
	TouchedTo     time.Time
}
