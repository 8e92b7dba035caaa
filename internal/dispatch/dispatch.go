package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// QueryRequest is the outbound body sent to the answering service.
type QueryRequest struct {
	Input     string `json:"input"`
	SessionID string `json:"session_id,omitempty"`
}

// NetworkError is returned when every dispatch attempt has failed. It wraps
// the last underlying failure; callers render a fixed fallback instead.
type NetworkError struct {
	Attempts int
	Last     error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("dispatch failed after %d attempt(s): %v", e.Attempts, e.Last)
}

func (e *NetworkError) Unwrap() error { return e.Last }

// retryState is the explicit backoff state machine: after attempt n fails,
// the next wait is baseDelay * n (linear backoff).
type retryState struct {
	attempt   int
	nextDelay time.Duration
}

func (s retryState) advance(base time.Duration) retryState {
	n := s.attempt + 1
	return retryState{attempt: n, nextDelay: base * time.Duration(n)}
}

// Client posts queries to the answering service endpoint with a bounded
// number of sequential attempts. It holds no state across calls.
type Client struct {
	endpoint string
	http     *http.Client
	attempts int
	base     time.Duration
	sleep    func(time.Duration)
	log      *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithAttempts overrides the attempt budget (minimum 1).
func WithAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.attempts = n
		}
	}
}

// WithBaseDelay overrides the linear backoff base.
func WithBaseDelay(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.base = d
		}
	}
}

// WithSleep injects the wait function, so backoff timing is testable
// without wall-clock delays.
func WithSleep(fn func(time.Duration)) Option {
	return func(c *Client) {
		if fn != nil {
			c.sleep = fn
		}
	}
}

// WithHTTPClient injects the underlying transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func NewClient(endpoint string, log *zap.Logger, opts ...Option) *Client {
	c := &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: 60 * time.Second},
		attempts: 2,
		base:     500 * time.Millisecond,
		sleep:    time.Sleep,
		log:      log,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	return c
}

// Send posts the query and returns the raw reply body. A reply counts only
// when the transport reports a success status; otherwise the attempt failed
// and the client waits before retrying. Exhausting the budget yields a
// single aggregated *NetworkError.
func (c *Client) Send(ctx context.Context, payload QueryRequest) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query payload: %w", err)
	}

	state := retryState{}
	var lastErr error
	for state.attempt < c.attempts {
		if state.attempt > 0 {
			c.sleep(state.nextDelay)
		}
		state = state.advance(c.base)

		reply, err := c.post(ctx, body)
		if err == nil {
			return reply, nil
		}
		lastErr = err
		c.log.Warn("dispatch attempt failed",
			zap.Int("attempt", state.attempt),
			zap.Int("budget", c.attempts),
			zap.Error(err))
	}

	return nil, &NetworkError{Attempts: c.attempts, Last: lastErr}
}

func (c *Client) post(ctx context.Context, body []byte) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read reply body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("non-success status %d from answering service", resp.StatusCode)
	}
	return json.RawMessage(data), nil
}
