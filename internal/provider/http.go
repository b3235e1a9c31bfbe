package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"scheduling-sync-service/internal/config"
)

// HTTPClient talks to the remote scheduling provider's REST API. Every
// request carries the per-request timeout from config and a bearer
// token loaded from the token store; a 401 triggers exactly one
// refresh-and-retry before giving up with ErrAuthExpired.
type HTTPClient struct {
	cfg    config.ProviderConfig
	tokens TokenStore
	http   *http.Client
}

func NewHTTPClient(cfg config.ProviderConfig, tokens TokenStore) *HTTPClient {
	return &HTTPClient{
		cfg:    cfg,
		tokens: tokens,
		http:   &http.Client{Timeout: cfg.GetRequestTimeout()},
	}
}

func (c *HTTPClient) AuthURL(projectID, state string) string {
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", c.cfg.ClientID)
	q.Set("redirect_uri", c.cfg.OAuthCallbackURL)
	q.Set("state", state)
	return c.cfg.AuthorizeURL + "?" + q.Encode()
}

func (c *HTTPClient) ExchangeCode(ctx context.Context, code string) (*Token, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", c.cfg.OAuthCallbackURL)
	return c.tokenRequest(ctx, form)
}

func (c *HTTPClient) refreshToken(ctx context.Context, projectID string, tok *Token) (*Token, error) {
	if tok.RefreshToken == "" {
		return nil, ErrAuthExpired
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", tok.RefreshToken)

	fresh, err := c.tokenRequest(ctx, form)
	if err != nil {
		return nil, err
	}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = tok.RefreshToken
	}
	if err := c.tokens.SaveToken(ctx, projectID, fresh); err != nil {
		return nil, err
	}
	return fresh, nil
}

func (c *HTTPClient) tokenRequest(ctx context.Context, form url.Values) (*Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)

	res, err := c.http.Do(req)
	if err != nil {
		return nil, &UnavailableError{Op: "token", Err: err}
	}
	defer res.Body.Close()

	b, _ := io.ReadAll(res.Body)
	switch {
	case res.StatusCode == http.StatusOK:
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusBadRequest:
		return nil, fmt.Errorf("token grant rejected (status %d): %w", res.StatusCode, ErrAuthExpired)
	case res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= 500:
		return nil, &UnavailableError{Op: "token", StatusCode: res.StatusCode, Err: fmt.Errorf("%s", string(b))}
	default:
		return nil, fmt.Errorf("token request failed (status %d): %s", res.StatusCode, string(b))
	}

	var r struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}

	tok := &Token{AccessToken: r.AccessToken, RefreshToken: r.RefreshToken}
	if r.ExpiresIn > 0 {
		tok.ExpiresAt = time.Now().Add(time.Duration(r.ExpiresIn) * time.Second)
	}
	return tok, nil
}

func (c *HTTPClient) doRequest(ctx context.Context, projectID, method, reqURL string, body []byte, response any) error {
	tok, err := c.tokens.Token(ctx, projectID)
	if err != nil {
		return err
	}
	if tok == nil || tok.AccessToken == "" {
		return ErrAuthExpired
	}

	if tok.Expired() {
		if tok, err = c.refreshToken(ctx, projectID, tok); err != nil {
			return err
		}
	}

	res, err := c.send(ctx, method, reqURL, body, tok.AccessToken)
	if err != nil {
		return err
	}
	if res.StatusCode == http.StatusUnauthorized {
		res.Body.Close()
		if tok, err = c.refreshToken(ctx, projectID, tok); err != nil {
			return err
		}
		if res, err = c.send(ctx, method, reqURL, body, tok.AccessToken); err != nil {
			return err
		}
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode >= 200 && res.StatusCode < 300:
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		return ErrAuthExpired
	case res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= 500:
		b, _ := io.ReadAll(res.Body)
		return &UnavailableError{Op: method + " " + reqURL, StatusCode: res.StatusCode, Err: fmt.Errorf("%s", string(b))}
	default:
		b, _ := io.ReadAll(res.Body)
		return fmt.Errorf("provider error (status %d): %s", res.StatusCode, string(b))
	}

	if response == nil {
		return nil
	}
	return json.NewDecoder(res.Body).Decode(response)
}

func (c *HTTPClient) send(ctx context.Context, method, reqURL string, body []byte, accessToken string) (*http.Response, error) {
	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewBuffer(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, &UnavailableError{Op: method + " " + reqURL, Err: err}
	}
	return res, nil
}

func (c *HTTPClient) ListEventTypes(ctx context.Context, projectID string) ([]EventType, error) {
	var data struct {
		Collection []EventType `json:"collection"`
	}
	if err := c.doRequest(ctx, projectID, http.MethodGet, c.cfg.BaseURL+"/event_types", nil, &data); err != nil {
		return nil, err
	}
	return data.Collection, nil
}

type wireEvent struct {
	ID          string    `json:"id"`
	EventType   string    `json:"event_type"`
	Status      string    `json:"status"`
	StartTime   time.Time `json:"start_time"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Invitee     struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	} `json:"invitee"`
}

func (w wireEvent) toRemoteEvent() RemoteEvent {
	return RemoteEvent{
		ID:           w.ID,
		EventTypeID:  w.EventType,
		Status:       w.Status,
		ScheduledAt:  w.StartTime,
		CreatedAt:    w.CreatedAt,
		UpdatedAt:    w.UpdatedAt,
		InviteeName:  w.Invitee.Name,
		InviteeEmail: w.Invitee.Email,
	}
}

func (c *HTTPClient) ListEvents(ctx context.Context, projectID string, from, to time.Time) ([]RemoteEvent, error) {
	pageSize := c.cfg.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}

	var events []RemoteEvent
	pageToken := ""
	for {
		q := url.Values{}
		q.Set("min_start_time", from.UTC().Format(time.RFC3339))
		q.Set("max_start_time", to.UTC().Format(time.RFC3339))
		q.Set("count", strconv.Itoa(pageSize))
		if pageToken != "" {
			q.Set("page_token", pageToken)
		}

		var data struct {
			Collection []wireEvent `json:"collection"`
			Pagination struct {
				NextPageToken string `json:"next_page_token"`
			} `json:"pagination"`
		}
		err := c.doRequest(ctx, projectID, http.MethodGet, c.cfg.BaseURL+"/scheduled_events?"+q.Encode(), nil, &data)
		if err != nil {
			// Pagination cutoff: hand back what was fetched so the
			// reconciler can converge on what it has.
			return events, err
		}

		for _, w := range data.Collection {
			events = append(events, w.toRemoteEvent())
		}
		if data.Pagination.NextPageToken == "" {
			return events, nil
		}
		pageToken = data.Pagination.NextPageToken
	}
}

func (c *HTTPClient) RegisterWebhook(ctx context.Context, projectID, callbackURL string) (*Webhook, error) {
	body, _ := json.Marshal(map[string]any{
		"callback_url": callbackURL,
		"events":       []string{"invitee.created", "invitee.canceled"},
	})

	var hook Webhook
	if err := c.doRequest(ctx, projectID, http.MethodPost, c.cfg.BaseURL+"/webhook_subscriptions", body, &hook); err != nil {
		return nil, err
	}
	return &hook, nil
}

func (c *HTTPClient) ListWebhooks(ctx context.Context, projectID string) ([]Webhook, error) {
	var data struct {
		Collection []Webhook `json:"collection"`
	}
	if err := c.doRequest(ctx, projectID, http.MethodGet, c.cfg.BaseURL+"/webhook_subscriptions", nil, &data); err != nil {
		return nil, err
	}
	return data.Collection, nil
}

func (c *HTTPClient) DeleteWebhook(ctx context.Context, projectID, webhookID string) error {
	return c.doRequest(ctx, projectID, http.MethodDelete, c.cfg.BaseURL+"/webhook_subscriptions/"+url.PathEscape(webhookID), nil, nil)
}

func (c *HTTPClient) RevokeToken(ctx context.Context, projectID string) error {
	tok, err := c.tokens.Token(ctx, projectID)
	if err != nil {
		return err
	}
	if tok == nil || tok.AccessToken == "" {
		return nil
	}

	form := url.Values{}
	form.Set("token", tok.AccessToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.RevokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)

	res, err := c.http.Do(req)
	if err != nil {
		return &UnavailableError{Op: "revoke", Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode >= 400 {
		b, _ := io.ReadAll(res.Body)
		return fmt.Errorf("token revoke failed (status %d): %s", res.StatusCode, string(b))
	}
	return nil
}
