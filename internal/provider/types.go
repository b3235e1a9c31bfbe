package provider

import (
	"time"
)

type EventType struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// RemoteEvent is one scheduled event as the provider reports it.
// Status is authoritative remote state; lifecycle classification is
// derived locally and never stored.
type RemoteEvent struct {
	ID           string    `json:"id"`
	EventTypeID  string    `json:"event_type"`
	Status       string    `json:"status"`
	ScheduledAt  time.Time `json:"start_time"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	InviteeName  string    `json:"invitee_name"`
	InviteeEmail string    `json:"invitee_email"`
}

type Webhook struct {
	ID          string    `json:"id"`
	CallbackURL string    `json:"callback_url"`
	CreatedAt   time.Time `json:"created_at"`
}

type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Expired reports whether the access token needs a refresh, with a
// small safety margin against clock skew.
func (t *Token) Expired() bool {
	if t == nil || t.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().After(t.ExpiresAt.Add(-20 * time.Second))
}
