package op

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"
)

// ErrInvalidOperation is returned when a record fails validation.
var ErrInvalidOperation = errors.New("invalid operation")

// Request is the opaque request descriptor replayed against Target.
type Request struct {
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    json.RawMessage   `json:"body,omitempty"`
}

// Operation is a single deferred network write.
type Operation struct {
	ID             string    `json:"id"`
	Target         string    `json:"url"`
	Payload        Request   `json:"options"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	EnqueuedAt     time.Time `json:"enqueued_at"`

	// Attempts counts delivery attempts across every pass. The retry bound is
	// applied per pass; this counter is kept for diagnostics.
	Attempts int `json:"attempts,omitempty"`

	Version int `json:"version"`
}

// Validate checks the fields the queue relies on. It does not look inside
// the body beyond requiring well-formed JSON.
func (o Operation) Validate() error {
	if o.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidOperation)
	}
	if o.Target == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidOperation)
	}
	u, err := url.Parse(o.Target)
	if err != nil {
		return fmt.Errorf("%w: url %q: %v", ErrInvalidOperation, o.Target, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: url %q must be absolute http(s)", ErrInvalidOperation, o.Target)
	}
	if o.Payload.Method == "" {
		return fmt.Errorf("%w: method is required", ErrInvalidOperation)
	}
	if len(o.Payload.Body) > 0 && !json.Valid(o.Payload.Body) {
		return fmt.Errorf("%w: body is not valid JSON", ErrInvalidOperation)
	}
	if o.Version > RecordVersion {
		return fmt.Errorf("%w: record version %d is newer than supported %d", ErrInvalidOperation, o.Version, RecordVersion)
	}
	return nil
}

// Clone returns a deep copy. The store hands out clones so callers can never
// mutate persisted state through a shared map or slice.
func (o Operation) Clone() Operation {
	c := o
	if o.Payload.Headers != nil {
		c.Payload.Headers = make(map[string]string, len(o.Payload.Headers))
		for k, v := range o.Payload.Headers {
			c.Payload.Headers[k] = v
		}
	}
	if o.Payload.Body != nil {
		c.Payload.Body = bytes.Clone(o.Payload.Body)
	}
	return c
}

// Disposition is the outcome of escalating an exhausted operation.
type Disposition int

const (
	// DispositionRequeue puts the operation back at the tail of the queue.
	DispositionRequeue Disposition = iota + 1
	// DispositionDiscard drops the operation permanently.
	DispositionDiscard
)

func (d Disposition) String() string {
	switch d {
	case DispositionRequeue:
		return "requeue"
	case DispositionDiscard:
		return "discard"
	default:
		return fmt.Sprintf("disposition(%d)", int(d))
	}
}

// ParseDisposition maps "requeue"/"retry" and "discard" to a Disposition.
func ParseDisposition(s string) (Disposition, error) {
	switch s {
	case "requeue", "retry":
		return DispositionRequeue, nil
	case "discard":
		return DispositionDiscard, nil
	default:
		return 0, fmt.Errorf("unknown disposition %q", s)
	}
}
