package sync

import (
	"database/sql"
	"strings"
	"time"

	"scheduling-sync-service/internal/provider"
	"scheduling-sync-service/internal/store"
)

type Category string

const (
	CategoryCancelled Category = "cancelled"
	CategoryCompleted Category = "completed"
	CategoryUpcoming  Category = "upcoming"
)

// Classify derives the lifecycle category from remote status plus the
// scheduled time. Pure: same inputs, same answer, no stored state.
// Both provider spellings of cancelled are accepted.
func Classify(status string, scheduledAt, now time.Time) Category {
	switch strings.ToLower(status) {
	case "canceled", "cancelled":
		return CategoryCancelled
	}
	if scheduledAt.Before(now) {
		return CategoryCompleted
	}
	return CategoryUpcoming
}

// eventRow converts a remote event into its store row. The remote
// status is stored verbatim; category is re-derived on read.
func eventRow(projectID string, r provider.RemoteEvent, seenAt time.Time) *store.Event {
	updatedAt := r.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = r.CreatedAt
	}
	return &store.Event{
		RemoteEventID:     r.ID,
		ProjectID:         projectID,
		RemoteEventTypeID: r.EventTypeID,
		ScheduledAt:       r.ScheduledAt,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         updatedAt,
		InviteeName:       sql.NullString{String: r.InviteeName, Valid: r.InviteeName != ""},
		InviteeEmail:      sql.NullString{String: r.InviteeEmail, Valid: r.InviteeEmail != ""},
		Status:            r.Status,
		LastSeenAt:        seenAt,
	}
}
