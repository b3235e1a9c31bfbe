package store

import (
	"context"
	"errors"
)

// ErrMappingConflict reports that another project already holds the
// active claim on a remote event type.
var ErrMappingConflict = errors.New("remote event type already mapped to another project")

type Store interface {
	// Mappings
	ActivateMapping(ctx context.Context, m *Mapping) error
	DeactivateMapping(ctx context.Context, projectID, remoteEventTypeID string) error
	ListActiveMappings(ctx context.Context, projectID string) ([]*Mapping, error)
	CountActiveMappings(ctx context.Context, projectID string) (int, error)
	DeleteMappings(ctx context.Context, projectID string) error

	// Connections
	UpsertConnection(ctx context.Context, c *Connection) error
	GetConnection(ctx context.Context, projectID string) (*Connection, error)
	ListConnections(ctx context.Context) ([]*Connection, error)
	DeleteConnection(ctx context.Context, projectID string) error

	// Events
	UpsertEvent(ctx context.Context, e *Event) (bool, error)
	QueryEvents(ctx context.Context, f EventFilter) ([]*Event, error)

	// General
	Close() error
}
