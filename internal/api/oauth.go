package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

const oauthStateTTL = 5 * time.Minute

// Connect hands the UI the provider authorization URL; the transport
// of that URL (popup, redirect) is the UI's business.
func (h *Handler) Connect(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	state, err := signState([]byte(h.cfg.Provider.StateSecret), projectID, oauthStateTTL)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"url": h.manager.Client().AuthURL(projectID, state),
	})
}

func (h *Handler) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing code or state"})
		return
	}

	payload, err := verifyState([]byte(h.cfg.Provider.StateSecret), state)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid state"})
		return
	}

	conn, err := h.manager.Channels().Connect(r.Context(), payload.ProjectID, code)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, newConnectionView(conn))
}
