package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario defines a conformance scenario for the sync coordinator.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// MaxAttempts is the per-pass attempt bound. Zero uses the
	// coordinator default.
	MaxAttempts int `yaml:"max_attempts,omitempty"`

	// Queue seeds the offline queue before the first step.
	Queue []QueuedOp `yaml:"queue,omitempty"`

	// Delivery scripts attempt outcomes per operation ID.
	Delivery map[string][]string `yaml:"delivery,omitempty"`

	// AlwaysFail lists operation IDs whose unscripted attempts fail.
	AlwaysFail []string `yaml:"always_fail,omitempty"`

	// Prompts answers the failure prompt per operation ID: requeue,
	// discard or error. Unlisted operations are requeued.
	Prompts map[string]string `yaml:"prompts,omitempty"`

	// NotifierFails makes every failure notification fail.
	NotifierFails bool `yaml:"notifier_fails,omitempty"`

	// Steps run in order after the queue is seeded.
	Steps []Step `yaml:"steps"`

	// Assertions validate the trace and final queue state.
	Assertions []Assertion `yaml:"assertions"`
}

// QueuedOp is an operation to enqueue.
type QueuedOp struct {
	ID      string            `yaml:"id"`
	URL     string            `yaml:"url"`
	Method  string            `yaml:"method"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Body    any               `yaml:"body,omitempty"`
}

// Step is one scenario action. Exactly one field is set.
type Step struct {
	// Drain runs one coordinator pass.
	Drain bool `yaml:"drain,omitempty"`

	// Online sets the coordinator's connectivity.
	Online *bool `yaml:"online,omitempty"`

	// Enqueue appends operations to the queue.
	Enqueue []QueuedOp `yaml:"enqueue,omitempty"`

	// Clear empties the pending queue.
	Clear bool `yaml:"clear,omitempty"`
}

// Assertion validates the result of a scenario.
type Assertion struct {
	// Type selects the check; see the Assert constants.
	Type string `yaml:"type"`

	// IDs are the expected operation IDs, in order (pending, delivered,
	// escalated, notified, prompted).
	IDs []string `yaml:"ids,omitempty"`

	// Op names the operation (attempts, disposition).
	Op string `yaml:"op,omitempty"`

	// Count is the expected number (attempts, calls_to, trace_count).
	Count int `yaml:"count,omitempty"`

	// URL is the delivery target (calls_to).
	URL string `yaml:"url,omitempty"`

	// Kind is the trace event kind (trace_count).
	Kind string `yaml:"kind,omitempty"`

	// Value is the expected disposition (disposition).
	Value string `yaml:"value,omitempty"`
}

// Assertion types.
const (
	AssertPending     = "pending"
	AssertInFlight    = "in_flight"
	AssertDelivered   = "delivered"
	AssertEscalated   = "escalated"
	AssertNotified    = "notified"
	AssertPrompted    = "prompted"
	AssertAttempts    = "attempts"
	AssertCallsTo     = "calls_to"
	AssertTraceCount  = "trace_count"
	AssertDisposition = "disposition"
)

// Delivery outcomes.
const (
	OutcomeOK             = "ok"
	OutcomeFail           = "fail"
	OutcomeReject         = "reject"
	OutcomeDisconnect     = "disconnect"
	OutcomeFailDisconnect = "fail_disconnect"
)

// Prompt answers.
const (
	PromptRequeue = "requeue"
	PromptDiscard = "discard"
	PromptError   = "error"
)

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected so typos surface as load errors.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.MaxAttempts < 0 {
		return fmt.Errorf("max_attempts must be non-negative")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	known := make(map[string]bool)
	addOps := func(where string, ops []QueuedOp) error {
		for i, o := range ops {
			if o.ID == "" {
				return fmt.Errorf("%s[%d]: id is required", where, i)
			}
			if o.URL == "" {
				return fmt.Errorf("%s[%d]: url is required", where, i)
			}
			if known[o.ID] {
				return fmt.Errorf("%s[%d]: duplicate id %q", where, i, o.ID)
			}
			known[o.ID] = true
		}
		return nil
	}
	if err := addOps("queue", s.Queue); err != nil {
		return err
	}

	for i, step := range s.Steps {
		set := 0
		if step.Drain {
			set++
		}
		if step.Online != nil {
			set++
		}
		if len(step.Enqueue) > 0 {
			set++
		}
		if step.Clear {
			set++
		}
		if set != 1 {
			return fmt.Errorf("steps[%d]: exactly one of drain, online, enqueue, clear is required", i)
		}
		if err := addOps(fmt.Sprintf("steps[%d].enqueue", i), step.Enqueue); err != nil {
			return err
		}
	}

	for id, outcomes := range s.Delivery {
		if !known[id] {
			return fmt.Errorf("delivery: unknown operation %q", id)
		}
		for j, outcome := range outcomes {
			switch outcome {
			case OutcomeOK, OutcomeFail, OutcomeReject, OutcomeDisconnect, OutcomeFailDisconnect:
			default:
				return fmt.Errorf("delivery[%s][%d]: unknown outcome %q", id, j, outcome)
			}
		}
	}
	for _, id := range s.AlwaysFail {
		if !known[id] {
			return fmt.Errorf("always_fail: unknown operation %q", id)
		}
	}
	for id, answer := range s.Prompts {
		if !known[id] {
			return fmt.Errorf("prompts: unknown operation %q", id)
		}
		switch answer {
		case PromptRequeue, PromptDiscard, PromptError:
		default:
			return fmt.Errorf("prompts[%s]: unknown answer %q", id, answer)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertPending, AssertInFlight, AssertDelivered, AssertEscalated, AssertNotified, AssertPrompted:
	case AssertAttempts:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for attempts", index)
		}
	case AssertCallsTo:
		if a.URL == "" {
			return fmt.Errorf("assertions[%d]: url is required for calls_to", index)
		}
	case AssertTraceCount:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for trace_count", index)
		}
	case AssertDisposition:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for disposition", index)
		}
		if a.Value != PromptRequeue && a.Value != PromptDiscard {
			return fmt.Errorf("assertions[%d]: value must be requeue or discard", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
