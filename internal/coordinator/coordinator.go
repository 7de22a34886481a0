package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/stocksync/internal/connectivity"
	"github.com/roach88/stocksync/internal/op"
	"github.com/roach88/stocksync/internal/store"
)

// Defaults.
const (
	DefaultMaxAttempts    = 3
	DefaultAttemptTimeout = 30 * time.Second
	DefaultNotifyTimeout  = 10 * time.Second
)

const tracerName = "github.com/roach88/stocksync/internal/coordinator"

// State is the coordinator's pass state.
type State int32

const (
	Idle State = iota
	Draining
)

func (s State) String() string {
	if s == Draining {
		return "draining"
	}
	return "idle"
}

// Coordinator drains a store.Queue through a Deliverer.
//
// Thread-safety: all methods are safe for concurrent use. Drain passes are
// serialized.
type Coordinator struct {
	queue     *store.Queue
	deliverer Deliverer
	notifier  Notifier
	prompter  Prompter

	maxAttempts    int
	attemptTimeout time.Duration
	notifyTimeout  time.Duration
	retryDelay     time.Duration

	logger  *slog.Logger
	metrics *Metrics
	onTrace func(TraceEvent)
	tracer  trace.Tracer

	passMu       sync.Mutex
	passes       sequence
	state        atomic.Int32
	online       atomic.Bool
	needsRecover bool // guarded by passMu

	traceMu sync.Mutex
	trigger chan struct{} // buffered, size 1
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithMaxAttempts sets the number of immediate attempts per operation per
// pass. Defaults to DefaultMaxAttempts.
func WithMaxAttempts(n int) Option {
	return func(c *Coordinator) { c.maxAttempts = n }
}

// WithAttemptTimeout bounds each delivery attempt. Zero disables the bound.
func WithAttemptTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.attemptTimeout = d }
}

// WithNotifyTimeout bounds each failure notification. Defaults to
// DefaultNotifyTimeout; zero disables the bound.
func WithNotifyTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.notifyTimeout = d }
}

// WithRetryDelay waits d between attempts of the same operation. Defaults
// to zero: retries are immediate.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Coordinator) { c.retryDelay = d }
}

// WithNotifier sets the failure notifier. Defaults to LogNotifier.
func WithNotifier(n Notifier) Option {
	return func(c *Coordinator) { c.notifier = n }
}

// WithPrompter sets the escalation prompter. Defaults to always requeue.
func WithPrompter(p Prompter) Option {
	return func(c *Coordinator) { c.prompter = p }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithTrace registers a hook receiving every TraceEvent.
func WithTrace(fn func(TraceEvent)) Option {
	return func(c *Coordinator) { c.onTrace = fn }
}

// New creates a coordinator. It starts online; wire OnTransition to a
// connectivity.Monitor to follow the real network state.
func New(q *store.Queue, d Deliverer, opts ...Option) (*Coordinator, error) {
	if q == nil {
		return nil, errors.New("coordinator: queue is required")
	}
	if d == nil {
		return nil, errors.New("coordinator: deliverer is required")
	}

	c := &Coordinator{
		queue:          q,
		deliverer:      d,
		maxAttempts:    DefaultMaxAttempts,
		attemptTimeout: DefaultAttemptTimeout,
		notifyTimeout:  DefaultNotifyTimeout,
		logger:         slog.Default(),
		tracer:         otel.Tracer(tracerName),
		trigger:        make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.maxAttempts < 1 {
		return nil, fmt.Errorf("coordinator: max attempts must be at least 1, got %d", c.maxAttempts)
	}
	if c.attemptTimeout < 0 || c.notifyTimeout < 0 || c.retryDelay < 0 {
		return nil, errors.New("coordinator: durations must not be negative")
	}
	if c.notifier == nil {
		c.notifier = LogNotifier{Logger: c.logger}
	}
	if c.prompter == nil {
		c.prompter = StaticPrompter{Disposition: op.DispositionRequeue}
	}
	c.online.Store(true)
	return c, nil
}

// State reports whether a pass is running.
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// Passes returns the number of passes started so far.
func (c *Coordinator) Passes() int64 {
	return c.passes.current()
}

// Online reports the last known connectivity.
func (c *Coordinator) Online() bool {
	return c.online.Load()
}

// SetOnline records connectivity. Going offline makes a running pass stop
// after its current attempt.
func (c *Coordinator) SetOnline(online bool) {
	c.online.Store(online)
}

// OnTransition is a connectivity.Monitor subscriber. Reaching Connected
// from any other state triggers a drain.
func (c *Coordinator) OnTransition(t connectivity.Transition) {
	c.SetOnline(t.To == connectivity.Connected)
	if t.To == connectivity.Connected && t.From != connectivity.Connected {
		c.logger.Info("connectivity restored, scheduling drain")
		c.Trigger()
	}
}

// Trigger requests a drain from the Run loop without blocking. Triggers
// received while a pass is queued coalesce into that pass.
func (c *Coordinator) Trigger() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

// Run performs a drain for every trigger until ctx is cancelled.
// Drain errors are logged and do not stop the loop.
func (c *Coordinator) Run(ctx context.Context) error {
	c.logger.Info("coordinator started", "max_attempts", c.maxAttempts, "attempt_timeout", c.attemptTimeout)
	defer c.logger.Info("coordinator stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.trigger:
			rep, err := c.Drain(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				c.logger.Error("drain failed", "pass", rep.Pass, "error", err)
			}
		}
	}
}

// Stats returns queue depth and refreshes the depth gauges.
func (c *Coordinator) Stats(ctx context.Context) (store.Stats, error) {
	s, err := c.queue.Stats(ctx)
	if err != nil {
		return store.Stats{}, err
	}
	c.metrics.setDepth(s.Pending, s.InFlight)
	return s, nil
}

// Drain runs one pass over the operations pending when it starts.
//
// Delivery failures never fail the pass; they end in escalation. A storage
// fault aborts the pass with a *DrainError. Operations enqueued while the
// pass runs wait for the next pass.
func (c *Coordinator) Drain(ctx context.Context) (Report, error) {
	c.passMu.Lock()
	defer c.passMu.Unlock()

	c.state.Store(int32(Draining))
	defer c.state.Store(int32(Idle))

	start := time.Now()
	rep := Report{Pass: c.passes.next()}

	ctx, span := c.tracer.Start(ctx, "coordinator.drain", trace.WithAttributes(attribute.Int64("pass", rep.Pass)))
	defer span.End()

	err := c.drain(ctx, &rep)
	rep.Duration = time.Since(start)

	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, "drain failed")
	case rep.Halted:
		outcome = "halted"
	}
	span.SetAttributes(
		attribute.Int("taken", rep.Taken),
		attribute.Int("delivered", rep.Delivered),
		attribute.Int("escalated", rep.Escalated),
		attribute.Bool("halted", rep.Halted),
	)
	c.metrics.observePass(outcome, rep.Duration)
	if _, serr := c.Stats(context.WithoutCancel(ctx)); serr != nil {
		c.logger.Warn("refresh queue depth", "error", serr)
	}

	c.logger.Info("drain pass finished",
		"pass", rep.Pass,
		"taken", rep.Taken,
		"delivered", rep.Delivered,
		"escalated", rep.Escalated,
		"requeued", rep.Requeued,
		"discarded", rep.Discarded,
		"restored", rep.Restored,
		"halted", rep.Halted,
		"duration", rep.Duration,
	)
	return rep, err
}

// escalation carries one exhausted operation through notify and prompt.
// Fields other than op and cause are written by the escalation goroutine and
// read only after the errgroup's Wait.
type escalation struct {
	op          op.Operation
	cause       error
	disposition op.Disposition
	notifyErr   error
	promptErr   error
}

func (c *Coordinator) drain(ctx context.Context, rep *Report) error {
	c.emit(TraceEvent{Pass: rep.Pass, Kind: TracePassStart})
	defer func() { c.emit(TraceEvent{Pass: rep.Pass, Kind: TracePassEnd}) }()

	// Store writes after this point must land even if ctx is cancelled,
	// otherwise operations would be stranded in flight.
	bg := context.WithoutCancel(ctx)

	if c.needsRecover {
		n, err := c.queue.Recover(bg)
		if err != nil {
			return newStorageFault("recover stranded operations", "", err)
		}
		c.needsRecover = false
		c.logger.Info("recovered stranded operations", "count", n)
	}

	if c.halted(ctx) {
		rep.Halted = true
		c.emit(TraceEvent{Pass: rep.Pass, Kind: TraceHalted})
		return ctx.Err()
	}

	ops, err := c.queue.TakeAll(ctx)
	if err != nil {
		return newStorageFault("take pending operations", "", err)
	}
	rep.Taken = len(ops)

	var (
		g           errgroup.Group
		escalations []*escalation
		passErr     error
	)

	// restore puts ops[i:] back at the head of the queue.
	restore := func(i int) {
		rest := make([]string, 0, len(ops)-i)
		for _, o := range ops[i:] {
			rest = append(rest, o.ID)
		}
		if len(rest) == 0 {
			return
		}
		if err := c.queue.Restore(bg, rest); err != nil {
			c.needsRecover = true
			if passErr == nil {
				passErr = newStorageFault("restore unattempted operations", "", err)
			}
			return
		}
		rep.Restored += len(rest)
	}

loop:
	for i, o := range ops {
		if c.halted(ctx) {
			rep.Halted = true
			c.emit(TraceEvent{Pass: rep.Pass, Kind: TraceHalted, OpID: o.ID})
			restore(i)
			break
		}

		res := c.deliverWithRetry(ctx, rep.Pass, o)
		rep.Attempts += res.attempts
		if res.attempts > 0 {
			if err := c.queue.RecordAttempts(bg, o.ID, res.attempts); err != nil {
				passErr = newStorageFault("record attempts", o.ID, err)
				restore(i)
				break
			}
		}

		switch {
		case res.delivered:
			if err := c.queue.Resolve(bg, o.ID); err != nil {
				passErr = newStorageFault("resolve delivered operation", o.ID, err)
				restore(i + 1)
				break loop
			}
			rep.Delivered++
			c.emit(TraceEvent{Pass: rep.Pass, Kind: TraceDelivered, OpID: o.ID})

		case res.interrupted:
			rep.Halted = true
			c.emit(TraceEvent{Pass: rep.Pass, Kind: TraceHalted, OpID: o.ID})
			restore(i)
			break loop

		default:
			rep.Escalated++
			c.emit(TraceEvent{Pass: rep.Pass, Kind: TraceExhausted, OpID: o.ID, Attempt: res.attempts})
			escalations = append(escalations, c.escalate(ctx, &g, o, res.lastErr))
		}
	}

	// Escalation goroutines never return errors; Wait is the barrier.
	_ = g.Wait()

	for _, esc := range escalations {
		if esc.notifyErr != nil {
			c.emit(TraceEvent{Pass: rep.Pass, Kind: TraceNotifyFail, OpID: esc.op.ID, Error: esc.notifyErr.Error()})
		}
		var err error
		if esc.disposition == op.DispositionDiscard {
			err = c.queue.Resolve(bg, esc.op.ID)
		} else {
			err = c.queue.Requeue(bg, esc.op.ID)
		}
		if err != nil {
			c.needsRecover = true
			if passErr == nil {
				passErr = newStorageFault("apply "+esc.disposition.String(), esc.op.ID, err)
			}
			continue
		}
		if esc.disposition == op.DispositionDiscard {
			rep.Discarded++
			c.logger.Warn("operation discarded", "op_id", esc.op.ID, "error", esc.cause)
		} else {
			rep.Requeued++
		}
		c.metrics.incDisposition(esc.disposition.String())
		c.emit(TraceEvent{Pass: rep.Pass, Kind: TraceDisposition, OpID: esc.op.ID, Disposition: esc.disposition.String()})
	}

	if passErr != nil {
		return passErr
	}
	return ctx.Err()
}

type attemptResult struct {
	delivered   bool
	interrupted bool
	attempts    int
	lastErr     error
}

// deliverWithRetry makes up to maxAttempts attempts. Connectivity loss or
// cancellation between attempts interrupts the operation without
// exhausting it.
func (c *Coordinator) deliverWithRetry(ctx context.Context, pass int64, o op.Operation) attemptResult {
	var res attemptResult
	for n := 1; n <= c.maxAttempts; n++ {
		if n > 1 {
			if c.halted(ctx) {
				res.interrupted = true
				return res
			}
			if c.retryDelay > 0 {
				select {
				case <-time.After(c.retryDelay):
				case <-ctx.Done():
					res.interrupted = true
					return res
				}
			}
		}

		res.attempts++
		err := c.attempt(ctx, o, n)
		c.metrics.incAttempt(err == nil)
		if err == nil {
			c.emit(TraceEvent{Pass: pass, Kind: TraceAttempt, OpID: o.ID, Attempt: n})
			res.delivered = true
			return res
		}

		c.emit(TraceEvent{Pass: pass, Kind: TraceAttempt, OpID: o.ID, Attempt: n, Error: err.Error()})
		c.logger.Debug("delivery attempt failed", "op_id", o.ID, "attempt", n, "error", err)
		res.lastErr = newDeliveryError(o.ID, n, err)

		if ctx.Err() != nil {
			res.interrupted = true
			return res
		}
	}
	res.lastErr = newExhaustedError(o.ID, res.attempts, res.lastErr)
	return res
}

// attempt runs one delivery bounded by the attempt timeout. The bound holds
// even for a Deliverer that ignores its context.
func (c *Coordinator) attempt(ctx context.Context, o op.Operation, n int) error {
	actx := ctx
	if c.attemptTimeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, c.attemptTimeout)
		defer cancel()
	}
	actx, span := c.tracer.Start(actx, "coordinator.deliver", trace.WithAttributes(
		attribute.String("op.id", o.ID),
		attribute.Int("attempt", n),
	))
	defer span.End()

	done := make(chan error, 1)
	go func() { done <- c.deliverer.Deliver(actx, o) }()

	var err error
	select {
	case err = <-done:
	case <-actx.Done():
		if ctx.Err() != nil {
			err = ctx.Err()
		} else {
			err = fmt.Errorf("attempt timed out after %s: %w", c.attemptTimeout, actx.Err())
		}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delivery failed")
	}
	return err
}

// escalate notifies and prompts for o in a new goroutine on g.
func (c *Coordinator) escalate(ctx context.Context, g *errgroup.Group, o op.Operation, cause error) *escalation {
	esc := &escalation{op: o, cause: cause}
	c.metrics.incEscalation()
	c.logger.Warn("operation exhausted its attempts", "op_id", o.ID, "error", cause)

	g.Go(func() error {
		if err := c.notify(ctx, o, cause); err != nil {
			esc.notifyErr = &DrainError{Code: ErrCodeNotifyFault, Message: "failure notification not sent", OpID: o.ID, Err: err}
			c.metrics.incNotifyError()
			c.logger.Warn("failure notification failed", "op_id", o.ID, "error", err)
		}

		d, err := c.prompter.Prompt(ctx, o, cause)
		switch {
		case err != nil:
			esc.promptErr = err
			c.logger.Warn("prompt failed, requeueing", "op_id", o.ID, "error", err)
			d = op.DispositionRequeue
		case d != op.DispositionRequeue && d != op.DispositionDiscard:
			c.logger.Warn("unknown disposition, requeueing", "op_id", o.ID, "disposition", d)
			d = op.DispositionRequeue
		}
		esc.disposition = d
		return nil
	})
	return esc
}

// notify runs the notifier bounded by the notify timeout. Like attempt, the
// bound holds for a Notifier that ignores its context.
func (c *Coordinator) notify(ctx context.Context, o op.Operation, cause error) error {
	nctx := ctx
	if c.notifyTimeout > 0 {
		var cancel context.CancelFunc
		nctx, cancel = context.WithTimeout(ctx, c.notifyTimeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() { done <- c.notifier.Notify(nctx, o, cause) }()

	select {
	case err := <-done:
		return err
	case <-nctx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("notification timed out after %s: %w", c.notifyTimeout, nctx.Err())
	}
}

// halted reports whether the pass must stop issuing attempts.
func (c *Coordinator) halted(ctx context.Context) bool {
	return ctx.Err() != nil || !c.online.Load()
}

func (c *Coordinator) emit(e TraceEvent) {
	if c.onTrace == nil {
		return
	}
	c.traceMu.Lock()
	defer c.traceMu.Unlock()
	c.onTrace(e)
}
