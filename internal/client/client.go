package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	// ErrNotFound means the server never saw this session ID.
	ErrNotFound = errors.New("session not found")
	// ErrGone means the session finished and was cleaned up server-side.
	ErrGone = errors.New("session gone")
	// ErrExpired means the code's deadline passed before the scan.
	ErrExpired = errors.New("session expired")
)

// API is the initiating device's view of the pairing endpoint group.
type API struct {
	baseURL string
	token   string
	http    *http.Client
}

func New(baseURL, token string) *API {
	return &API{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Created is the server's answer to a create request.
type Created struct {
	SessionID       string    `json:"sessionId"`
	Payload         string    `json:"payload"`
	ExpiresAt       time.Time `json:"-"`
	LifetimeSeconds int       `json:"lifetimeSeconds"`

	RawExpiresAt string `json:"expiresAt"`
}

// SessionStatus is one poll answer.
type SessionStatus struct {
	Status    string  `json:"status"`
	Scanned   bool    `json:"scanned"`
	ResultRef *string `json:"resultRef,omitempty"`
}

// CompleteOutcome is the scanning device's answer.
type CompleteOutcome struct {
	Status    string  `json:"status"`
	ResultRef *string `json:"resultRef,omitempty"`
	Error     string  `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (a *API) CreateSession(ctx context.Context, targetKind string, targetData json.RawMessage, lifetimeSeconds int) (*Created, error) {
	body := map[string]interface{}{
		"targetKind": targetKind,
		"targetData": targetData,
	}
	if lifetimeSeconds > 0 {
		body["lifetimeSeconds"] = lifetimeSeconds
	}
	var out Created
	if err := a.do(ctx, http.MethodPost, "/v1/sessions", body, true, &out); err != nil {
		return nil, err
	}
	expiresAt, err := time.Parse(time.RFC3339, out.RawExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("parse expiresAt: %w", err)
	}
	out.ExpiresAt = expiresAt
	return &out, nil
}

func (a *API) Status(ctx context.Context, sessionID string) (*SessionStatus, error) {
	var out SessionStatus
	if err := a.do(ctx, http.MethodGet, "/v1/sessions/"+sessionID, nil, true, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) Complete(ctx context.Context, sessionID, scannerRef string) (*CompleteOutcome, error) {
	body := map[string]string{}
	if scannerRef != "" {
		body["scannerRef"] = scannerRef
	}
	var out CompleteOutcome
	if err := a.do(ctx, http.MethodPost, "/v1/sessions/"+sessionID+"/complete", body, false, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) Cancel(ctx context.Context, sessionID string) (string, error) {
	var out struct {
		Status string `json:"status"`
	}
	if err := a.do(ctx, http.MethodDelete, "/v1/sessions/"+sessionID, nil, true, &out); err != nil {
		return "", err
	}
	return out.Status, nil
}

func (a *API) Acknowledge(ctx context.Context, sessionID string) error {
	return a.do(ctx, http.MethodPost, "/v1/sessions/"+sessionID+"/ack", nil, true, nil)
}

func (a *API) do(ctx context.Context, method, path string, body interface{}, authed bool, out interface{}) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed && a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(out)
	}

	var apiErr apiError
	_ = json.NewDecoder(resp.Body).Decode(&apiErr)
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusGone && apiErr.Code == "SESSION_EXPIRED":
		return ErrExpired
	case resp.StatusCode == http.StatusGone:
		return ErrGone
	default:
		if apiErr.Code == "" {
			return fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		return fmt.Errorf("%s: %s", apiErr.Code, apiErr.Message)
	}
}
