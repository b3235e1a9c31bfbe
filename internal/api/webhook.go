package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"scheduling-sync-service/internal/logger"
	"scheduling-sync-service/internal/provider"
	"scheduling-sync-service/internal/sync"
)

// webhookPayload is the provider's push notification. Deliveries can
// arrive duplicated, out of order, or not at all; the engine is built
// around that, so the receiver only validates, enqueues, and answers.
type webhookPayload struct {
	Event     string               `json:"event"`
	ProjectID string               `json:"project_id"`
	Payload   provider.RemoteEvent `json:"payload"`
}

func (h *Handler) ReceiveWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if key := h.cfg.Provider.WebhookSigningKey; key != "" {
		if !verifySignature([]byte(key), body, r.Header.Get("X-Webhook-Signature")) {
			logger.Log.Warn("Dropping webhook delivery with bad signature",
				zap.String("remoteAddr", r.RemoteAddr),
			)
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
	}

	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if p.ProjectID == "" || p.Payload.ID == "" {
		http.Error(w, "missing project or event id", http.StatusBadRequest)
		return
	}

	h.manager.HandleDelivery(sync.Delivery{
		ID:         uuid.New().String(),
		ProjectID:  p.ProjectID,
		Kind:       p.Event,
		Event:      p.Payload,
		ReceivedAt: time.Now().UTC(),
	})

	// Always 202 once accepted: the provider retries on non-2xx and
	// the queue-full case is covered by the polling backstop.
	w.WriteHeader(http.StatusAccepted)
}

func verifySignature(key, body []byte, header string) bool {
	sig, err := hex.DecodeString(header)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), sig)
}
