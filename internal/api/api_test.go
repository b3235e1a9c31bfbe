package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"

	"scheduling-sync-service/internal/logger"
)

func TestMain(m *testing.M) {
	logger.Log = zap.NewNop()
	os.Exit(m.Run())
}

func TestAuthMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name       string
		configured string
		header     string
		wantStatus int
	}{
		{"valid token", "secret", "Bearer secret", http.StatusOK},
		{"wrong token", "secret", "Bearer nope", http.StatusUnauthorized},
		{"missing header", "secret", "", http.StatusUnauthorized},
		{"wrong scheme", "secret", "Basic secret", http.StatusUnauthorized},
		{"bare token without scheme", "secret", "secret", http.StatusUnauthorized},
		{"auth disabled", "", "", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := AuthMiddleware(tt.configured)(ok)

			req := httptest.NewRequest(http.MethodGet, "/api/v1/projects/p1/metrics", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestOAuthStateRoundtrip(t *testing.T) {
	secret := []byte("test-state-secret")

	s, err := signState(secret, "p1", 5*time.Minute)
	if err != nil {
		t.Fatalf("signState: %v", err)
	}

	p, err := verifyState(secret, s)
	if err != nil {
		t.Fatalf("verifyState: %v", err)
	}
	if p.ProjectID != "p1" {
		t.Errorf("project = %q, want p1", p.ProjectID)
	}

	// Each state carries a fresh nonce.
	s2, err := signState(secret, "p1", 5*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if s2 == s {
		t.Error("two states for the same project are identical")
	}
}

func TestOAuthStateRejectsTampering(t *testing.T) {
	secret := []byte("test-state-secret")

	s, err := signState(secret, "p1", 5*time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := verifyState([]byte("other-secret"), s); err == nil {
		t.Error("state verified under the wrong secret")
	}
	if _, err := verifyState(secret, "garbage"); err == nil {
		t.Error("unstructured state accepted")
	}
	if _, err := verifyState(secret, s+"x"); err == nil {
		t.Error("altered signature accepted")
	}

	expired, err := signState(secret, "p1", -time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := verifyState(secret, expired); err == nil {
		t.Error("expired state accepted")
	}
}

func TestVerifySignature(t *testing.T) {
	key := []byte("signing-key")
	body := []byte(`{"event":"invitee.created"}`)

	mac := hmac.New(sha256.New, key)
	mac.Write(body)
	good := hex.EncodeToString(mac.Sum(nil))

	if !verifySignature(key, body, good) {
		t.Error("valid signature rejected")
	}
	if verifySignature(key, body, "") {
		t.Error("empty signature accepted")
	}
	if verifySignature(key, body, "not-hex") {
		t.Error("non-hex signature accepted")
	}
	if verifySignature(key, []byte("different body"), good) {
		t.Error("signature accepted for a different body")
	}
	if verifySignature([]byte("wrong key"), body, good) {
		t.Error("signature accepted under the wrong key")
	}
}

func TestCorsMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	t.Run("allow list", func(t *testing.T) {
		handler := CorsMiddleware([]string{"https://app.example.com"})(ok)

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "https://app.example.com")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
			t.Errorf("allowed origin not echoed, got %q", got)
		}

		req = httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("unlisted origin allowed: %q", got)
		}
	})

	t.Run("preflight short-circuits", func(t *testing.T) {
		handler := CorsMiddleware([]string{"*"})(ok)

		req := httptest.NewRequest(http.MethodOptions, "/api/v1/projects/p1/sync", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Errorf("preflight status = %d, want 204", rec.Code)
		}
	})
}
