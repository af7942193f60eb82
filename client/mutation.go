package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"taskboard/domain"
)

const defaultRequestTimeout = 10 * time.Second

// ErrUnauthorized means the session is missing or invalid. It is never retried.
var ErrUnauthorized = errors.New("unauthorized")

// PersistenceError is any Mutation API failure other than a missing session,
// including transport errors and timeouts.
type PersistenceError struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *PersistenceError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %d %s", e.Op, e.StatusCode, e.Message)
	default:
		return fmt.Sprintf("%s: status %d", e.Op, e.StatusCode)
	}
}

func (e *PersistenceError) Unwrap() error { return e.Err }

type MutationClientConfig struct {
	BaseURL    string
	Token      string
	ClientID   string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// MutationClient calls the Mutation API.
type MutationClient struct {
	baseURL  string
	token    string
	clientID string
	http     *http.Client
}

func NewMutationClient(cfg MutationClientConfig) *MutationClient {
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultRequestTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &MutationClient{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		token:    cfg.Token,
		clientID: cfg.ClientID,
		http:     hc,
	}
}

func (m *MutationClient) List(ctx context.Context) ([]domain.Task, error) {
	var tasks []domain.Task
	if err := m.do(ctx, "list tasks", http.MethodGet, "/api/tasks", nil, nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// Create posts d. A non-empty idempotencyKey lets the server reject replays.
func (m *MutationClient) Create(ctx context.Context, d domain.Draft, idempotencyKey string) (domain.Task, error) {
	var headers map[string]string
	if idempotencyKey != "" {
		headers = map[string]string{domain.HeaderIdempotencyKey: idempotencyKey}
	}
	var t domain.Task
	err := m.do(ctx, "create task", http.MethodPost, "/api/tasks", d, headers, &t)
	return t, err
}

func (m *MutationClient) Update(ctx context.Context, id string, p domain.Patch) (domain.Task, error) {
	var t domain.Task
	err := m.do(ctx, "update task", http.MethodPut, "/api/tasks/"+url.PathEscape(id), p, nil, &t)
	return t, err
}

func (m *MutationClient) Delete(ctx context.Context, id string) (domain.DeleteConfirmation, error) {
	var c domain.DeleteConfirmation
	err := m.do(ctx, "delete task", http.MethodDelete, "/api/tasks/"+url.PathEscape(id), nil, nil, &c)
	return c, err
}

func (m *MutationClient) do(ctx context.Context, op, method, path string, body any, headers map[string]string, out any) error {
	var rdr io.Reader
	if body != nil {
		payload, err := sonic.Marshal(body)
		if err != nil {
			return &PersistenceError{Op: op, Err: err}
		}
		rdr = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, m.baseURL+path, rdr)
	if err != nil {
		return &PersistenceError{Op: op, Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if m.token != "" {
		req.Header.Set("Authorization", "Bearer "+m.token)
	}
	if m.clientID != "" {
		req.Header.Set(domain.HeaderClientID, m.clientID)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := m.http.Do(req)
	if err != nil {
		return &PersistenceError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		pe := &PersistenceError{Op: op, StatusCode: resp.StatusCode}
		var payload domain.ErrorResponse
		if raw, rerr := io.ReadAll(io.LimitReader(resp.Body, 64*1024)); rerr == nil && len(raw) > 0 {
			if sonic.Unmarshal(raw, &payload) == nil {
				pe.Message = payload.Error
			}
		}
		return pe
	}
	if out == nil {
		return nil
	}
	if err := sonic.ConfigDefault.NewDecoder(resp.Body).Decode(out); err != nil {
		return &PersistenceError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
