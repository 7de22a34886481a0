package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/roach88/stocksync/internal/op"
)

// ErrOffline is the default scripted delivery failure.
var ErrOffline = errors.New("network request failed")

// Call records one delivery attempt seen by ScriptedDeliverer.
type Call struct {
	OpID           string
	Target         string
	Attempt        int
	IdempotencyKey string
}

// ScriptedDeliverer replays per-operation outcomes.
//
// Each operation ID has a script of results consumed one per attempt; once
// the script is used up the operation's fallback applies (nil unless set
// with FailAlways). Attempt numbers count across passes.
type ScriptedDeliverer struct {
	mu       sync.Mutex
	scripts  map[string][]error
	always   map[string]error
	attempts map[string]int
	calls    []Call

	// Hook, when set, runs inside Deliver after the outcome is chosen and
	// before it is returned.
	Hook func(ctx context.Context, o op.Operation, attempt int)
}

// NewScriptedDeliverer returns a deliverer that accepts everything until
// scripted otherwise.
func NewScriptedDeliverer() *ScriptedDeliverer {
	return &ScriptedDeliverer{
		scripts:  make(map[string][]error),
		always:   make(map[string]error),
		attempts: make(map[string]int),
	}
}

// Script appends outcomes for id. A nil entry is a successful attempt.
func (d *ScriptedDeliverer) Script(id string, outcomes ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scripts[id] = append(d.scripts[id], outcomes...)
}

// FailAlways makes every unscripted attempt for id fail with err.
// Passing nil restores success.
func (d *ScriptedDeliverer) FailAlways(id string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.always, id)
		return
	}
	d.always[id] = err
}

func (d *ScriptedDeliverer) Deliver(ctx context.Context, o op.Operation) error {
	d.mu.Lock()
	d.attempts[o.ID]++
	n := d.attempts[o.ID]
	d.calls = append(d.calls, Call{OpID: o.ID, Target: o.Target, Attempt: n, IdempotencyKey: o.IdempotencyKey})

	var err error
	if script := d.scripts[o.ID]; len(script) > 0 {
		err = script[0]
		d.scripts[o.ID] = script[1:]
	} else {
		err = d.always[o.ID]
	}
	hook := d.Hook
	d.mu.Unlock()

	if hook != nil {
		hook(ctx, o, n)
	}
	return err
}

// Calls returns every attempt in order.
func (d *ScriptedDeliverer) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Call, len(d.calls))
	copy(out, d.calls)
	return out
}

// Attempts returns how many attempts id has seen.
func (d *ScriptedDeliverer) Attempts(id string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attempts[id]
}

// Notification records one Notify call.
type Notification struct {
	OpID  string
	Cause string
}

// RecordingNotifier records notifications and returns Err from every call.
type RecordingNotifier struct {
	mu   sync.Mutex
	Err  error
	sent []Notification
}

func (n *RecordingNotifier) Notify(_ context.Context, o op.Operation, cause error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	n.sent = append(n.sent, Notification{OpID: o.ID, Cause: msg})
	return n.Err
}

// Notifications returns recorded notifications in call order.
func (n *RecordingNotifier) Notifications() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Notification, len(n.sent))
	copy(out, n.sent)
	return out
}

// ScriptedPrompter answers prompts from a per-operation table.
type ScriptedPrompter struct {
	mu       sync.Mutex
	answers  map[string]op.Disposition
	errs     map[string]error
	fallback op.Disposition
	prompted []string

	// Gate, when non-nil, blocks every prompt until it is closed or the
	// prompt's context ends.
	Gate <-chan struct{}
}

// NewScriptedPrompter returns a prompter answering fallback by default.
func NewScriptedPrompter(fallback op.Disposition) *ScriptedPrompter {
	return &ScriptedPrompter{
		answers:  make(map[string]op.Disposition),
		errs:     make(map[string]error),
		fallback: fallback,
	}
}

// Answer sets the disposition for id.
func (p *ScriptedPrompter) Answer(id string, d op.Disposition) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.answers[id] = d
}

// Fail makes the prompt for id return err.
func (p *ScriptedPrompter) Fail(id string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs[id] = err
}

func (p *ScriptedPrompter) Prompt(ctx context.Context, o op.Operation, _ error) (op.Disposition, error) {
	p.mu.Lock()
	p.prompted = append(p.prompted, o.ID)
	gate := p.Gate
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err, ok := p.errs[o.ID]; ok {
		return 0, err
	}
	if d, ok := p.answers[o.ID]; ok {
		return d, nil
	}
	return p.fallback, nil
}

// Prompted returns the IDs prompted for, in call order.
func (p *ScriptedPrompter) Prompted() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.prompted))
	copy(out, p.prompted)
	return out
}
