// Package api is a client for the call backend.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"livecall/native/internal/domain"
)

const (
	defaultTimeout = 10 * time.Second
	maxBodySize    = 1 << 20
)

// ErrResponseTooLarge is returned when a response body exceeds 1 MiB.
var ErrResponseTooLarge = errors.New("response body too large")

// Client talks to the call backend. It implements domain.RingingCallLister
// and domain.CallRejecter.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

var (
	_ domain.RingingCallLister = (*Client)(nil)
	_ domain.CallRejecter      = (*Client)(nil)
)

// NewClient creates a client for baseURL. token is sent as a bearer token
// when non-empty. A nil httpClient uses a client with a 10s timeout.
func NewClient(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    httpClient,
	}
}

// StatusError is returned for non-200 responses.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

type callsResponse struct {
	Calls []domain.IncomingCall `json:"calls"`
}

// ListRingingCalls returns the calls addressed to this user. The backend
// answers either {"calls":[...]} or a bare array.
func (c *Client) ListRingingCalls(ctx context.Context) ([]domain.IncomingCall, error) {
	body, err := c.do(ctx, http.MethodGet, "/calls/incoming")
	if err != nil {
		return nil, fmt.Errorf("list incoming calls: %w", err)
	}

	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}
	if body[0] == '[' {
		var calls []domain.IncomingCall
		if err := json.Unmarshal(body, &calls); err != nil {
			return nil, fmt.Errorf("unmarshal calls: %w", err)
		}
		return calls, nil
	}

	var resp callsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal calls: %w", err)
	}
	return resp.Calls, nil
}

// RejectCall declines callID.
func (c *Client) RejectCall(ctx context.Context, callID string) error {
	if _, err := c.do(ctx, http.MethodPost, "/calls/"+url.PathEscape(callID)+"/reject"); err != nil {
		return fmt.Errorf("reject call %s: %w", callID, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if len(respBody) > maxBodySize {
		return nil, fmt.Errorf("%w: %s %s", ErrResponseTooLarge, method, path)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Status: resp.StatusCode, Body: string(respBody)}
	}
	return respBody, nil
}
