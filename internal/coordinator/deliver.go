package coordinator

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/roach88/stocksync/internal/op"
)

// Deliverer replays one operation against its target.
// A nil error means the write was accepted.
type Deliverer interface {
	Deliver(ctx context.Context, o op.Operation) error
}

// DelivererFunc adapts a function to Deliverer.
type DelivererFunc func(ctx context.Context, o op.Operation) error

func (f DelivererFunc) Deliver(ctx context.Context, o op.Operation) error {
	return f(ctx, o)
}

// Header names set on every replayed request.
const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderOperationID    = "X-Operation-ID"
)

// StatusError is a non-2xx response to a replayed request.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// HTTPDeliverer sends operations with net/http.
//
// 2xx responses succeed. Any other status is a *StatusError and is retried
// like a network failure.
type HTTPDeliverer struct {
	Client *http.Client
}

// NewHTTPDeliverer returns a deliverer using client, or http.DefaultClient
// when client is nil.
func NewHTTPDeliverer(client *http.Client) *HTTPDeliverer {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPDeliverer{Client: client}
}

func (d *HTTPDeliverer) Deliver(ctx context.Context, o op.Operation) error {
	var body io.Reader
	if len(o.Payload.Body) > 0 {
		body = bytes.NewReader(o.Payload.Body)
	}
	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(o.Payload.Method), o.Target, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	for k, v := range o.Payload.Headers {
		req.Header.Set(k, v)
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if o.IdempotencyKey != "" {
		req.Header.Set(HeaderIdempotencyKey, o.IdempotencyKey)
	}
	req.Header.Set(HeaderOperationID, o.ID)

	resp, err := d.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
}
