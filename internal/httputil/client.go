package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Doer sends a request. *http.Client satisfies it; MockDoer stands in for
// it in tests.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// StatusError is a non-2xx reply. Message is the body's "error" field when
// there is one.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d %s", e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Message)
}

// Client speaks JSON to a running ride computer.
type Client struct {
	BaseURL string
	HTTP    Doer
}

// NewClient returns a Client for baseURL. A nil doer gets a plain
// http.Client with a short timeout.
func NewClient(baseURL string, doer Doer) *Client {
	if doer == nil {
		doer = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: doer}
}

// GetJSON fetches path and decodes the reply into out.
func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

// PostJSON sends in (nil for an empty body) and decodes the reply into out.
func (c *Client) PostJSON(ctx context.Context, path string, in, out any) error {
	return c.do(ctx, http.MethodPost, path, in, out)
}

// PatchJSON is PostJSON with PATCH.
func (c *Client) PatchJSON(ctx context.Context, path string, in, out any) error {
	return c.do(ctx, http.MethodPatch, path, in, out)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{Code: resp.StatusCode}
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &payload) == nil {
			se.Message = payload.Error
		}
		return se
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// MockDoer records requests and replays queued responses. With nothing
// queued it answers 200 with an empty body.
type MockDoer struct {
	mu        sync.Mutex
	requests  []*http.Request
	bodies    []string
	responses []mockResponse
}

type mockResponse struct {
	status int
	body   string
	err    error
}

func NewMockDoer() *MockDoer {
	return &MockDoer{}
}

// Respond queues a reply.
func (m *MockDoer) Respond(status int, body string) *MockDoer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, mockResponse{status: status, body: body})
	return m
}

// Fail queues a transport error.
func (m *MockDoer) Fail(err error) *MockDoer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, mockResponse{err: err})
	return m
}

func (m *MockDoer) Do(req *http.Request) (*http.Response, error) {
	var body string
	if req.Body != nil {
		b, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		body = string(b)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	m.bodies = append(m.bodies, body)

	next := mockResponse{status: http.StatusOK}
	if len(m.responses) > 0 {
		next, m.responses = m.responses[0], m.responses[1:]
	}
	if next.err != nil {
		return nil, next.err
	}
	return &http.Response{
		StatusCode: next.status,
		Body:       io.NopCloser(strings.NewReader(next.body)),
		Header:     http.Header{"Content-Type": {"application/json"}},
		Request:    req,
	}, nil
}

// Request returns the nth recorded request and its body.
func (m *MockDoer) Request(n int) (*http.Request, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n < 0 || n >= len(m.requests) {
		return nil, ""
	}
	return m.requests[n], m.bodies[n]
}

func (m *MockDoer) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}
