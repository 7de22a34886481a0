// Package api is the stock backend client.
//
// Writes (AddStock, UpdateStock, DeleteStock) are recorded as operations.
// When a write cannot reach the backend at all, the operation is handed to
// the offline queue and the call returns an error matching ErrQueued; the
// sync coordinator replays it later with the same operation ID and
// idempotency key. Reads are never queued.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/roach88/stocksync/internal/op"
)

var (
	// ErrNoBaseURL is returned by New when no base URL is configured.
	ErrNoBaseURL = errors.New("api: base URL is not set")

	// ErrQueued marks a write that was saved for later delivery.
	ErrQueued = errors.New("api: request queued for offline delivery")
)

// Enqueuer accepts operations for later delivery. *store.Queue implements it.
type Enqueuer interface {
	Enqueue(ctx context.Context, o op.Operation) (op.Operation, error)
}

// QueuedError is returned when a write was queued instead of sent.
type QueuedError struct {
	Operation op.Operation
	Cause     error
}

func (e *QueuedError) Error() string {
	return fmt.Sprintf("%v (op=%s): %v", ErrQueued, e.Operation.ID, e.Cause)
}

func (e *QueuedError) Is(target error) bool { return target == ErrQueued }

func (e *QueuedError) Unwrap() error { return e.Cause }

// HTTPError is a non-2xx backend response.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("api: unexpected status %d: %s", e.StatusCode, e.Message)
}

// Stock is a plant stock record.
type Stock struct {
	ID        int64    `json:"id"`
	Name      string   `json:"name"`
	ParentID  *int64   `json:"parent_id"`
	Shelf     string   `json:"shelf,omitempty"`
	Image     string   `json:"image,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	IsPublic  bool     `json:"is_public,omitempty"`
	UpdatedAt string   `json:"updated_at,omitempty"`
}

// StockInput is the writable part of a stock.
type StockInput struct {
	Name     string   `json:"name"`
	ParentID *int64   `json:"parent_id,omitempty"`
	Shelf    string   `json:"shelf,omitempty"`
	Image    string   `json:"image,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	IsPublic bool     `json:"is_public,omitempty"`
}

// SearchParams filters SearchStocks.
type SearchParams struct {
	Query    string
	Tags     []string
	Order    string // "updated" or "name"
	MineOnly bool
}

// Client talks to the stock backend.
type Client struct {
	baseURL string
	http    *http.Client
	queue   Enqueuer
	token   string
	ids     op.IDGenerator
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client. Defaults to http.DefaultClient.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithQueue enables offline queueing of writes.
func WithQueue(q Enqueuer) Option {
	return func(cl *Client) { cl.queue = q }
}

// WithToken sends a bearer token with every request.
func WithToken(token string) Option {
	return func(cl *Client) { cl.token = token }
}

// WithIDGenerator sets how operation IDs are generated.
func WithIDGenerator(g op.IDGenerator) Option {
	return func(cl *Client) { cl.ids = g }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(cl *Client) { cl.logger = logger }
}

// New returns a client for baseURL. A trailing slash is ignored.
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, ErrNoBaseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("api: invalid base URL %q", baseURL)
	}

	c := &Client{
		baseURL: baseURL,
		http:    http.DefaultClient,
		ids:     op.UUIDv7Generator{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// AddStock creates a stock.
func (c *Client) AddStock(ctx context.Context, in StockInput) (Stock, error) {
	var out Stock
	err := c.write(ctx, http.MethodPost, "/api/stocks", in, &out)
	return out, err
}

// UpdateStock replaces the writable fields of stock id.
func (c *Client) UpdateStock(ctx context.Context, id int64, in StockInput) (Stock, error) {
	var out Stock
	err := c.write(ctx, http.MethodPut, "/api/stocks/"+strconv.FormatInt(id, 10), in, &out)
	return out, err
}

// DeleteStock deletes stock id.
func (c *Client) DeleteStock(ctx context.Context, id int64) error {
	return c.write(ctx, http.MethodDelete, "/api/stocks/"+strconv.FormatInt(id, 10), nil, nil)
}

// SearchStocks runs a stock search.
func (c *Client) SearchStocks(ctx context.Context, p SearchParams) ([]Stock, error) {
	q := url.Values{}
	if p.Query != "" {
		q.Set("q", p.Query)
	}
	for _, t := range p.Tags {
		q.Add("tag", t)
	}
	if p.Order != "" {
		q.Set("order", p.Order)
	}
	if p.MineOnly {
		q.Set("mine", "true")
	}

	var out []Stock
	if err := c.read(ctx, "/api/search?"+q.Encode(), &out); err != nil {
		return nil, fmt.Errorf("search stocks: %w", err)
	}
	return out, nil
}

// TagSuggestions returns tags starting with prefix.
func (c *Client) TagSuggestions(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	if err := c.read(ctx, "/api/tags?suggest="+url.QueryEscape(prefix), &out); err != nil {
		return nil, fmt.Errorf("fetch tag suggestions: %w", err)
	}
	return out, nil
}

// write sends a mutating request, queueing it when the backend is
// unreachable. The live attempt carries the same operation ID and
// idempotency key a replay would.
func (c *Client) write(ctx context.Context, method, path string, in, out any) error {
	o := op.Operation{
		ID:     c.ids.Generate(),
		Target: c.baseURL + path,
		Payload: op.Request{
			Method:  method,
			Headers: c.headers(),
		},
		Version: op.RecordVersion,
	}
	if in != nil {
		body, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		o.Payload.Body = body
		o.Payload.Headers["Content-Type"] = "application/json"
	}
	o.IdempotencyKey = o.ID

	resp, err := c.do(ctx, o)
	if err != nil {
		if ctx.Err() != nil || c.queue == nil {
			return fmt.Errorf("%s %s: %w", method, path, err)
		}
		if _, qerr := c.queue.Enqueue(context.WithoutCancel(ctx), o); qerr != nil {
			return fmt.Errorf("%s %s: queue after %v: %w", method, path, err, qerr)
		}
		c.logger.Info("write queued for offline delivery", "op_id", o.ID, "method", method, "url", o.Target, "error", err)
		return &QueuedError{Operation: o, Cause: err}
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func (c *Client) read(ctx context.Context, path string, out any) error {
	o := op.Operation{
		Target:  c.baseURL + path,
		Payload: op.Request{Method: http.MethodGet, Headers: c.headers()},
	}
	resp, err := c.do(ctx, o)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func (c *Client) do(ctx context.Context, o op.Operation) (*http.Response, error) {
	var body io.Reader
	if len(o.Payload.Body) > 0 {
		body = bytes.NewReader(o.Payload.Body)
	}
	req, err := http.NewRequestWithContext(ctx, o.Payload.Method, o.Target, body)
	if err != nil {
		return nil, err
	}
	for k, v := range o.Payload.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Accept", "application/json")
	if o.IdempotencyKey != "" {
		req.Header.Set("Idempotency-Key", o.IdempotencyKey)
	}
	if o.ID != "" {
		req.Header.Set("X-Operation-ID", o.ID)
	}
	return c.http.Do(req)
}

func (c *Client) headers() map[string]string {
	h := make(map[string]string)
	if c.token != "" {
		h["Authorization"] = "Bearer " + c.token
	}
	return h
}

func decodeResponse(resp *http.Response, out any) error {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &HTTPError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
