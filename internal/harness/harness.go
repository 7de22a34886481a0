package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/stocksync/internal/coordinator"
	"github.com/roach88/stocksync/internal/op"
	"github.com/roach88/stocksync/internal/store"
	"github.com/roach88/stocksync/internal/testutil"
)

// Scripted failures. Their messages appear in traces and golden files.
var (
	errRejected        = errors.New("rejected by server")
	errNotifier        = errors.New("relay unavailable")
	errPromptDismissed = errors.New("prompt dismissed")
)

// harnessEpoch is the fixed clock start for every run.
var harnessEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Run executes a scenario and checks its assertions.
//
// A non-nil error means the scenario could not be set up. Step and
// assertion failures are reported in Result.Errors instead.
func Run(s *Scenario) (*Result, error) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := testutil.NewFakeClock(harnessEpoch)

	kv := store.NewMemoryKV()
	queue := store.New(kv, store.WithClock(clock.Now), store.WithLogger(logger))
	defer queue.Close()

	deliverer, disconnects, err := scriptDeliverer(s)
	if err != nil {
		return nil, err
	}

	notifier := &testutil.RecordingNotifier{}
	if s.NotifierFails {
		notifier.Err = errNotifier
	}
	prompter := testutil.NewScriptedPrompter(op.DispositionRequeue)
	for id, answer := range s.Prompts {
		switch answer {
		case PromptDiscard:
			prompter.Answer(id, op.DispositionDiscard)
		case PromptError:
			prompter.Fail(id, errPromptDismissed)
		default:
			prompter.Answer(id, op.DispositionRequeue)
		}
	}

	result := NewResult()
	opts := []coordinator.Option{
		coordinator.WithNotifier(notifier),
		coordinator.WithPrompter(prompter),
		coordinator.WithLogger(logger),
		coordinator.WithTrace(func(e coordinator.TraceEvent) {
			result.Trace = append(result.Trace, e)
		}),
	}
	if s.MaxAttempts > 0 {
		opts = append(opts, coordinator.WithMaxAttempts(s.MaxAttempts))
	}
	coord, err := coordinator.New(queue, deliverer, opts...)
	if err != nil {
		return nil, fmt.Errorf("create coordinator: %w", err)
	}
	deliverer.Hook = func(_ context.Context, o op.Operation, attempt int) {
		if disconnects[callKey(o.ID, attempt)] {
			coord.SetOnline(false)
		}
	}

	if err := enqueueAll(ctx, queue, s.Queue); err != nil {
		return nil, err
	}

	for i, step := range s.Steps {
		switch {
		case step.Drain:
			rep, err := coord.Drain(ctx)
			result.Reports = append(result.Reports, rep)
			if err != nil {
				result.AddError(fmt.Sprintf("steps[%d]: drain: %v", i, err))
			}
		case step.Online != nil:
			coord.SetOnline(*step.Online)
		case len(step.Enqueue) > 0:
			if err := enqueueAll(ctx, queue, step.Enqueue); err != nil {
				result.AddError(fmt.Sprintf("steps[%d]: %v", i, err))
			}
		case step.Clear:
			if err := queue.Clear(ctx); err != nil {
				result.AddError(fmt.Sprintf("steps[%d]: clear: %v", i, err))
			}
		}
	}

	pending, err := queue.PeekAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("read pending operations: %w", err)
	}
	for _, o := range pending {
		result.Pending = append(result.Pending, o.ID)
	}
	inFlight, err := queue.InFlight(ctx)
	if err != nil {
		return nil, fmt.Errorf("read in-flight operations: %w", err)
	}
	for _, o := range inFlight {
		result.InFlight = append(result.InFlight, o.ID)
	}
	result.Calls = deliverer.Calls()
	for _, n := range notifier.Notifications() {
		result.Notified = append(result.Notified, n.OpID)
	}
	result.Prompted = append(result.Prompted, prompter.Prompted()...)

	for _, a := range s.Assertions {
		if err := checkAssertion(result, a); err != nil {
			result.AddError(err.Error())
		}
	}
	return result, nil
}

// scriptDeliverer turns the scenario's delivery table into a
// ScriptedDeliverer and the set of attempts after which connectivity drops.
func scriptDeliverer(s *Scenario) (*testutil.ScriptedDeliverer, map[string]bool, error) {
	d := testutil.NewScriptedDeliverer()
	disconnects := make(map[string]bool)

	for id, outcomes := range s.Delivery {
		errs := make([]error, len(outcomes))
		for i, outcome := range outcomes {
			switch outcome {
			case OutcomeOK:
			case OutcomeFail:
				errs[i] = testutil.ErrOffline
			case OutcomeReject:
				errs[i] = errRejected
			case OutcomeDisconnect:
				disconnects[callKey(id, i+1)] = true
			case OutcomeFailDisconnect:
				errs[i] = testutil.ErrOffline
				disconnects[callKey(id, i+1)] = true
			default:
				return nil, nil, fmt.Errorf("delivery[%s]: unknown outcome %q", id, outcome)
			}
		}
		d.Script(id, errs...)
	}
	for _, id := range s.AlwaysFail {
		d.FailAlways(id, testutil.ErrOffline)
	}
	return d, disconnects, nil
}

func callKey(id string, attempt int) string {
	return fmt.Sprintf("%s#%d", id, attempt)
}

func enqueueAll(ctx context.Context, q *store.Queue, ops []QueuedOp) error {
	for _, qo := range ops {
		o, err := toOperation(qo)
		if err != nil {
			return err
		}
		if _, err := q.Enqueue(ctx, o); err != nil {
			return fmt.Errorf("enqueue %s: %w", qo.ID, err)
		}
	}
	return nil
}

func toOperation(qo QueuedOp) (op.Operation, error) {
	method := strings.ToUpper(qo.Method)
	if method == "" {
		method = "GET"
	}
	o := op.Operation{
		ID:     qo.ID,
		Target: qo.URL,
		Payload: op.Request{
			Method:  method,
			Headers: qo.Headers,
		},
	}
	if qo.Body != nil {
		body, err := json.Marshal(qo.Body)
		if err != nil {
			return op.Operation{}, fmt.Errorf("operation %s: encode body: %w", qo.ID, err)
		}
		o.Payload.Body = body
	}
	return o, nil
}
