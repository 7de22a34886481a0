package harness

import (
	"github.com/roach88/stocksync/internal/coordinator"
	"github.com/roach88/stocksync/internal/testutil"
)

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every step ran and every assertion held.
	Pass bool `json:"pass"`

	// Trace holds every coordinator trace event in emission order.
	Trace []coordinator.TraceEvent `json:"trace"`

	// Reports holds one report per drain step.
	Reports []coordinator.Report `json:"reports"`

	// Pending lists queued operation IDs after the last step.
	Pending []string `json:"pending"`

	// InFlight lists operation IDs left in flight after the last step.
	InFlight []string `json:"in_flight,omitempty"`

	// Calls records every delivery attempt.
	Calls []testutil.Call `json:"calls"`

	// Notified lists operation IDs passed to the notifier, in order.
	Notified []string `json:"notified"`

	// Prompted lists operation IDs the user was asked about, in order.
	Prompted []string `json:"prompted"`

	// Errors contains step and assertion failures.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:     true,
		Trace:    []coordinator.TraceEvent{},
		Pending:  []string{},
		Notified: []string{},
		Prompted: []string{},
		Errors:   []string{},
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// TraceOf returns the trace events of the given kind.
func (r *Result) TraceOf(kind string) []coordinator.TraceEvent {
	var out []coordinator.TraceEvent
	for _, e := range r.Trace {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}
