package api

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// The OAuth state parameter is a signed payload carrying the project
// ID across the provider redirect, so the callback knows which
// connection it completes without server-side session state.

type oauthStatePayload struct {
	ProjectID string `json:"pid"`
	Exp       int64  `json:"exp"`
	Nonce     string `json:"n"`
}

func generateNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func signState(secret []byte, projectID string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("state secret not configured")
	}

	nonce, err := generateNonce()
	if err != nil {
		return "", err
	}

	p := oauthStatePayload{
		ProjectID: projectID,
		Exp:       time.Now().Add(ttl).Unix(),
		Nonce:     nonce,
	}

	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}

	payload := base64.RawURLEncoding.EncodeToString(b)

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(payload))
	sig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))

	return payload + "." + sig, nil
}

func verifyState(secret []byte, s string) (*oauthStatePayload, error) {
	if len(secret) == 0 {
		return nil, errors.New("state secret not configured")
	}

	payload, sig, found := strings.Cut(s, ".")
	if !found {
		return nil, errors.New("invalid state format")
	}

	payloadB, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return nil, err
	}
	sigB, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil {
		return nil, err
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(payload))
	if !hmac.Equal(mac.Sum(nil), sigB) {
		return nil, errors.New("invalid state signature")
	}

	var p oauthStatePayload
	if err := json.Unmarshal(payloadB, &p); err != nil {
		return nil, err
	}
	if time.Now().Unix() > p.Exp {
		return nil, errors.New("state expired")
	}

	return &p, nil
}
