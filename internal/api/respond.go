package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"scheduling-sync-service/internal/logger"
	"scheduling-sync-service/internal/provider"
	"scheduling-sync-service/internal/sync"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.Error("Failed to encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, sync.ErrValidation):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, sync.ErrConflict):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, provider.ErrAuthExpired):
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error": "provider authorization expired, reconnect required",
		})
	case provider.IsRetryable(err):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "scheduling provider unavailable, try again",
		})
	default:
		logger.Log.Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
