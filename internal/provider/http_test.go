package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"scheduling-sync-service/internal/config"
)

type memTokens struct {
	mu     sync.Mutex
	tokens map[string]*Token
	saves  int
}

func newMemTokens(projectID string, t *Token) *memTokens {
	m := &memTokens{tokens: make(map[string]*Token)}
	if t != nil {
		m.tokens[projectID] = t
	}
	return m
}

func (m *memTokens) Token(_ context.Context, projectID string) (*Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens[projectID], nil
}

func (m *memTokens) SaveToken(_ context.Context, projectID string, t *Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[projectID] = t
	m.saves++
	return nil
}

func testClient(serverURL string, tokens TokenStore) *HTTPClient {
	return NewHTTPClient(config.ProviderConfig{
		BaseURL:          serverURL,
		AuthorizeURL:     serverURL + "/oauth/authorize",
		TokenURL:         serverURL + "/oauth/token",
		RevokeURL:        serverURL + "/oauth/revoke",
		ClientID:         "client-id",
		ClientSecret:     "client-secret",
		OAuthCallbackURL: "http://localhost/oauth/callback",
		RequestTimeout:   "5s",
		PageSize:         2,
	}, tokens)
}

func liveToken() *Token {
	return &Token{
		AccessToken:  "live-token",
		RefreshToken: "refresh-token",
		ExpiresAt:    time.Now().Add(time.Hour),
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func TestExchangeCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/oauth/token" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		if r.PostForm.Get("grant_type") != "authorization_code" || r.PostForm.Get("code") != "the-code" {
			t.Errorf("unexpected form: %v", r.PostForm)
		}
		if user, pass, ok := r.BasicAuth(); !ok || user != "client-id" || pass != "client-secret" {
			t.Error("client credentials missing from token request")
		}
		writeJSON(w, map[string]any{
			"access_token":  "fresh-access",
			"refresh_token": "fresh-refresh",
			"expires_in":    3600,
		})
	}))
	defer srv.Close()

	c := testClient(srv.URL, newMemTokens("p1", nil))
	tok, err := c.ExchangeCode(context.Background(), "the-code")
	if err != nil {
		t.Fatalf("ExchangeCode: %v", err)
	}
	if tok.AccessToken != "fresh-access" || tok.RefreshToken != "fresh-refresh" {
		t.Errorf("token = %+v", tok)
	}
	if tok.ExpiresAt.Before(time.Now().Add(30 * time.Minute)) {
		t.Errorf("ExpiresAt = %v, expires_in not applied", tok.ExpiresAt)
	}
}

func TestExchangeCodeRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := testClient(srv.URL, newMemTokens("p1", nil))
	if _, err := c.ExchangeCode(context.Background(), "bad-code"); !errors.Is(err, ErrAuthExpired) {
		t.Errorf("rejected grant: got %v, want ErrAuthExpired", err)
	}
}

func TestDoRequestRefreshesOn401(t *testing.T) {
	var apiCalls int
	mux := http.NewServeMux()
	mux.HandleFunc("/event_types", func(w http.ResponseWriter, r *http.Request) {
		apiCalls++
		if r.Header.Get("Authorization") != "Bearer refreshed-access" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, map[string]any{"collection": []EventType{{ID: "type-a", Name: "Intro", Active: true}}})
	})
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.PostForm.Get("grant_type") != "refresh_token" {
			t.Errorf("grant_type = %s", r.PostForm.Get("grant_type"))
		}
		writeJSON(w, map[string]any{"access_token": "refreshed-access", "expires_in": 3600})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	tokens := newMemTokens("p1", liveToken())
	c := testClient(srv.URL, tokens)

	types, err := c.ListEventTypes(context.Background(), "p1")
	if err != nil {
		t.Fatalf("ListEventTypes: %v", err)
	}
	if len(types) != 1 || types[0].ID != "type-a" {
		t.Errorf("types = %+v", types)
	}
	if apiCalls != 2 {
		t.Errorf("api called %d times, want 2 (401 then retry)", apiCalls)
	}
	if tokens.saves != 1 {
		t.Errorf("refreshed token saved %d times, want 1", tokens.saves)
	}
	// The refresh response carried no refresh_token; the old one stays.
	if got, _ := tokens.Token(context.Background(), "p1"); got.RefreshToken != "refresh-token" {
		t.Errorf("refresh token = %q, want the original carried forward", got.RefreshToken)
	}
}

func TestDoRequestRefreshesExpiredTokenBeforeRequest(t *testing.T) {
	var sawStaleToken bool
	mux := http.NewServeMux()
	mux.HandleFunc("/event_types", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer stale-access" {
			sawStaleToken = true
		}
		writeJSON(w, map[string]any{"collection": []EventType{}})
	})
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"access_token": "refreshed-access", "expires_in": 3600})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	tokens := newMemTokens("p1", &Token{
		AccessToken:  "stale-access",
		RefreshToken: "refresh-token",
		ExpiresAt:    time.Now().Add(-time.Minute),
	})
	c := testClient(srv.URL, tokens)

	if _, err := c.ListEventTypes(context.Background(), "p1"); err != nil {
		t.Fatalf("ListEventTypes: %v", err)
	}
	if sawStaleToken {
		t.Error("expired token was sent to the API instead of being refreshed first")
	}
}

func TestDoRequestAuthExpiredWhenRefreshFails(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/event_types", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := testClient(srv.URL, newMemTokens("p1", liveToken()))
	_, err := c.ListEventTypes(context.Background(), "p1")
	if !errors.Is(err, ErrAuthExpired) {
		t.Errorf("got %v, want ErrAuthExpired", err)
	}
}

func TestDoRequestNoStoredToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request reached the provider without a token")
	}))
	defer srv.Close()

	c := testClient(srv.URL, newMemTokens("p1", nil))
	if _, err := c.ListEventTypes(context.Background(), "p1"); !errors.Is(err, ErrAuthExpired) {
		t.Errorf("got %v, want ErrAuthExpired", err)
	}
}

func TestListEventsPaginates(t *testing.T) {
	page := func(ids []string, next string) map[string]any {
		coll := make([]map[string]any, 0, len(ids))
		for _, id := range ids {
			coll = append(coll, map[string]any{
				"id":         id,
				"event_type": "type-a",
				"status":     "active",
				"start_time": "2024-06-10T15:00:00Z",
				"invitee":    map[string]string{"name": "Alex", "email": "alex@example.com"},
			})
		}
		return map[string]any{
			"collection": coll,
			"pagination": map[string]string{"next_page_token": next},
		}
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("page_token") {
		case "":
			writeJSON(w, page([]string{"ev1", "ev2"}, "page2"))
		case "page2":
			writeJSON(w, page([]string{"ev3"}, ""))
		default:
			t.Errorf("unexpected page token %q", r.URL.Query().Get("page_token"))
		}
	}))
	defer srv.Close()

	c := testClient(srv.URL, newMemTokens("p1", liveToken()))
	events, err := c.ListEvents(context.Background(), "p1", time.Now().Add(-time.Hour), time.Now())
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3 across pages", len(events))
	}
	if events[0].InviteeName != "Alex" || events[0].EventTypeID != "type-a" {
		t.Errorf("wire mapping broken: %+v", events[0])
	}
}

func TestListEventsPartialOnPageFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page_token") == "" {
			writeJSON(w, map[string]any{
				"collection": []map[string]any{{
					"id":         "ev1",
					"event_type": "type-a",
					"status":     "active",
					"start_time": "2024-06-10T15:00:00Z",
				}},
				"pagination": map[string]string{"next_page_token": "page2"},
			})
			return
		}
		http.Error(w, "upstream hiccup", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := testClient(srv.URL, newMemTokens("p1", liveToken()))
	events, err := c.ListEvents(context.Background(), "p1", time.Now().Add(-time.Hour), time.Now())
	if err == nil {
		t.Fatal("mid-pagination failure must surface an error")
	}
	if !IsRetryable(err) {
		t.Errorf("got %v, want a retryable UnavailableError", err)
	}
	if len(events) != 1 {
		t.Errorf("got %d events, want the 1 fetched before the failure", len(events))
	}
}

func TestRegisterWebhook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/webhook_subscriptions" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body struct {
			CallbackURL string   `json:"callback_url"`
			Events      []string `json:"events"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatal(err)
		}
		if body.CallbackURL != "http://localhost/webhooks/scheduling" || len(body.Events) == 0 {
			t.Errorf("registration body = %+v", body)
		}
		writeJSON(w, Webhook{ID: "wh-1", CallbackURL: body.CallbackURL, CreatedAt: time.Now()})
	}))
	defer srv.Close()

	c := testClient(srv.URL, newMemTokens("p1", liveToken()))
	hook, err := c.RegisterWebhook(context.Background(), "p1", "http://localhost/webhooks/scheduling")
	if err != nil {
		t.Fatalf("RegisterWebhook: %v", err)
	}
	if hook.ID != "wh-1" {
		t.Errorf("hook = %+v", hook)
	}
}

func TestRegisterWebhookRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "too many hooks", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := testClient(srv.URL, newMemTokens("p1", liveToken()))
	_, err := c.RegisterWebhook(context.Background(), "p1", "http://localhost/webhooks/scheduling")
	var uerr *UnavailableError
	if !errors.As(err, &uerr) || uerr.StatusCode != http.StatusTooManyRequests {
		t.Errorf("got %v, want UnavailableError with status 429", err)
	}
}

func TestRevokeToken(t *testing.T) {
	var revoked string
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/revoke", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		revoked = r.PostForm.Get("token")
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := testClient(srv.URL, newMemTokens("p1", liveToken()))
	if err := c.RevokeToken(context.Background(), "p1"); err != nil {
		t.Fatalf("RevokeToken: %v", err)
	}
	if revoked != "live-token" {
		t.Errorf("revoked %q, want the stored access token", revoked)
	}

	// No stored token is a no-op, not an error.
	c = testClient(srv.URL, newMemTokens("p1", nil))
	if err := c.RevokeToken(context.Background(), "p1"); err != nil {
		t.Errorf("revoke without a token: %v", err)
	}
}

func TestAuthURL(t *testing.T) {
	c := testClient("https://api.example.com", newMemTokens("p1", nil))
	u := c.AuthURL("p1", "signed-state")
	for _, want := range []string{"response_type=code", "client_id=client-id", "state=signed-state"} {
		if !strings.Contains(u, want) {
			t.Errorf("auth url %q missing %q", u, want)
		}
	}
}
