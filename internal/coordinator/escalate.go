package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/roach88/stocksync/internal/op"
)

// Notifier reports an exhausted operation out of band. Failures are logged
// by the coordinator and never affect the pass.
type Notifier interface {
	Notify(ctx context.Context, o op.Operation, cause error) error
}

// Prompter asks for the fate of an exhausted operation. An error is treated
// as DispositionRequeue so nothing is dropped without a decision.
type Prompter interface {
	Prompt(ctx context.Context, o op.Operation, cause error) (op.Disposition, error)
}

// PrompterFunc adapts a function to Prompter.
type PrompterFunc func(ctx context.Context, o op.Operation, cause error) (op.Disposition, error)

func (f PrompterFunc) Prompt(ctx context.Context, o op.Operation, cause error) (op.Disposition, error) {
	return f(ctx, o, cause)
}

// StaticPrompter answers every prompt with the same disposition. Used for
// headless runs.
type StaticPrompter struct {
	Disposition op.Disposition
}

func (p StaticPrompter) Prompt(context.Context, op.Operation, error) (op.Disposition, error) {
	return p.Disposition, nil
}

// LogNotifier writes failures to the log only.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(_ context.Context, o op.Operation, cause error) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("operation sync failed", "op_id", o.ID, "url", o.Target, "error", cause)
	return nil
}

// FailureReport is the body posted by HTTPNotifier.
type FailureReport struct {
	Operation ReportedOperation `json:"operation"`
	Error     string            `json:"error"`
}

// ReportedOperation identifies the failed operation in a FailureReport.
type ReportedOperation struct {
	ID     string `json:"id"`
	URL    string `json:"url,omitempty"`
	Method string `json:"method,omitempty"`
}

// HTTPNotifier posts a FailureReport to a relay endpoint, normally the
// sync-failure relay served by `stocksync relay`.
type HTTPNotifier struct {
	URL     string
	Headers map[string]string
	Client  *http.Client
}

// NewHTTPNotifier creates a notifier posting to url. Requests give up after
// DefaultNotifyTimeout.
func NewHTTPNotifier(url string, headers map[string]string) *HTTPNotifier {
	return &HTTPNotifier{URL: url, Headers: headers, Client: &http.Client{Timeout: DefaultNotifyTimeout}}
}

func (n *HTTPNotifier) Notify(ctx context.Context, o op.Operation, cause error) error {
	report := FailureReport{Operation: ReportedOperation{ID: o.ID, URL: o.Target, Method: o.Payload.Method}}
	if cause != nil {
		report.Error = cause.Error()
	}
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode failure report: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build notify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range n.Headers {
		req.Header.Set(k, v)
	}

	resp, err := n.Client.Do(req)
	if err != nil {
		return fmt.Errorf("send failure report: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode}
	}
	return nil
}
