package coordinator

import "time"

// Report summarizes one drain pass.
type Report struct {
	Pass      int64         `json:"pass"`
	Taken     int           `json:"taken"`
	Delivered int           `json:"delivered"`
	Escalated int           `json:"escalated"`
	Requeued  int           `json:"requeued"`
	Discarded int           `json:"discarded"`
	Restored  int           `json:"restored"`
	Attempts  int           `json:"attempts"`
	Halted    bool          `json:"halted"`
	Duration  time.Duration `json:"duration"`
}

// TraceEvent is one step of a pass, emitted to the WithTrace hook in the
// order the steps happened. Disposition events are emitted after every
// escalation of the pass has been decided, in escalation order.
type TraceEvent struct {
	Pass        int64  `json:"pass"`
	Kind        string `json:"kind"`
	OpID        string `json:"op_id,omitempty"`
	Attempt     int    `json:"attempt,omitempty"`
	Error       string `json:"error,omitempty"`
	Disposition string `json:"disposition,omitempty"`
}

// Trace event kinds.
const (
	TracePassStart   = "pass_start"
	TraceAttempt     = "attempt"
	TraceDelivered   = "delivered"
	TraceExhausted   = "exhausted"
	TraceNotifyFail  = "notify_failed"
	TraceDisposition = "disposition"
	TraceHalted      = "halted"
	TracePassEnd     = "pass_end"
)
