package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"scheduling-sync-service/internal/metrics"
	"scheduling-sync-service/internal/store"
	"scheduling-sync-service/internal/sync"
)

func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
		Debug  bool   `json:"debug"`
	}
	if r.Body != nil {
		// An empty body means a plain manual trigger.
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	report, err := h.manager.TriggerSync(r.Context(), sync.SyncRequest{
		ProjectID: chi.URLParam(r, "projectID"),
		Reason:    body.Reason,
		Debug:     body.Debug,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) ListMappings(w http.ResponseWriter, r *http.Request) {
	mappings, err := h.manager.Registry().ListActive(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	views := make([]mappingView, 0, len(mappings))
	for _, m := range mappings {
		views = append(views, newMappingView(m))
	}
	writeJSON(w, http.StatusOK, map[string]any{"mappings": views})
}

func (h *Handler) ActivateMapping(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RemoteEventTypeID string `json:"remote_event_type_id"`
		DisplayName       string `json:"display_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}

	m, err := h.manager.Registry().Activate(r.Context(), chi.URLParam(r, "projectID"), body.RemoteEventTypeID, body.DisplayName)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newMappingView(m))
}

func (h *Handler) DeactivateMapping(w http.ResponseWriter, r *http.Request) {
	err := h.manager.Registry().Deactivate(r.Context(), chi.URLParam(r, "projectID"), chi.URLParam(r, "eventTypeID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}

func (h *Handler) ProjectMetrics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tz := q.Get("tz")
	if tz == "" {
		tz = "UTC"
	}

	rng, err := metrics.ParseRange(q.Get("from"), q.Get("to"), tz)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	report, err := h.calculator.ProjectReport(r.Context(), chi.URLParam(r, "projectID"), rng)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) ListEventTypes(w http.ResponseWriter, r *http.Request) {
	types, err := h.manager.Client().ListEventTypes(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"event_types": types})
}

func (h *Handler) GetConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := h.manager.Store().GetConnection(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if conn == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not connected"})
		return
	}
	writeJSON(w, http.StatusOK, newConnectionView(conn))
}

func (h *Handler) Disconnect(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Channels().Disconnect(r.Context(), chi.URLParam(r, "projectID")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}

func (h *Handler) CleanupWebhooks(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.manager.Channels().CleanupDuplicateWebhooks(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted})
}

// Views keep tokens and other internals out of responses.

type mappingView struct {
	ProjectID         string    `json:"project_id"`
	RemoteEventTypeID string    `json:"remote_event_type_id"`
	DisplayName       string    `json:"display_name"`
	CreatedAt         time.Time `json:"created_at"`
}

func newMappingView(m *store.Mapping) mappingView {
	return mappingView{
		ProjectID:         m.ProjectID,
		RemoteEventTypeID: m.RemoteEventTypeID,
		DisplayName:       m.DisplayName,
		CreatedAt:         m.CreatedAt,
	}
}

type connectionView struct {
	ProjectID       string     `json:"project_id"`
	ChannelMode     string     `json:"channel_mode"`
	DegradedReason  string     `json:"degraded_reason,omitempty"`
	LastHealthCheck *time.Time `json:"last_health_check,omitempty"`
}

func newConnectionView(c *store.Connection) connectionView {
	v := connectionView{
		ProjectID:   c.ProjectID,
		ChannelMode: string(c.ChannelMode),
	}
	if c.DegradedReason.Valid {
		v.DegradedReason = c.DegradedReason.String
	}
	if c.LastHealthCheck.Valid {
		t := c.LastHealthCheck.Time
		v.LastHealthCheck = &t
	}
	return v
}
