package connectivity

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State is the observed reachability.
type State int

const (
	// Unknown is the state before the first observation.
	Unknown State = iota
	Disconnected
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// Transition is a change of observed state.
type Transition struct {
	From State
	To   State
	At   time.Time
}

// Source is the platform reachability signal. Watch is called once; the
// returned channel carries one value per observation (true = reachable) and
// may be closed when the source ends.
type Source interface {
	Watch(ctx context.Context) (<-chan bool, error)
}

type subscriber struct {
	id int
	cb func(Transition)
}

// Monitor fans reachability transitions out to subscribers.
//
// Thread-safety: all methods are safe for concurrent use. Callbacks are
// invoked from a single goroutine, so they never run concurrently with each
// other.
type Monitor struct {
	src    Source
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	subs    []subscriber
	nextID  int
	state   State
	started bool
	closed  bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the monitor's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) { m.logger = logger }
}

// WithClock sets the time source used to stamp transitions.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// New creates a monitor over src. Nothing is started until Subscribe.
func New(src Source, opts ...Option) *Monitor {
	m := &Monitor{
		src:    src,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Subscribe registers cb for every subsequent transition and returns a
// function that removes it. The first call starts listening to the source.
// The current state is not replayed to new subscribers.
//
// The returned unsubscribe function is idempotent and affects only cb.
func (m *Monitor) Subscribe(cb func(Transition)) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("monitor closed")
	}
	if !m.started {
		if err := m.startLocked(); err != nil {
			return nil, err
		}
	}

	m.nextID++
	id := m.nextID
	m.subs = append(m.subs, subscriber{id: id, cb: cb})

	var once sync.Once
	return func() {
		once.Do(func() { m.unsubscribe(id) })
	}, nil
}

// State returns the last observed state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Close stops listening to the source and waits for the listener goroutine.
// Safe to call more than once.
func (m *Monitor) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}

func (m *Monitor) startLocked() error {
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := m.src.Watch(ctx)
	if err != nil {
		cancel()
		return fmt.Errorf("start connectivity source: %w", err)
	}
	m.started = true
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.listen(ctx, ch)
	return nil
}

func (m *Monitor) listen(ctx context.Context, ch <-chan bool) {
	defer close(m.done)
	for {
		select {
		case <-ctx.Done():
			return
		case reachable, ok := <-ch:
			if !ok {
				m.logger.Debug("connectivity source ended")
				return
			}
			m.observe(reachable)
		}
	}
}

// observe records an observation and notifies subscribers on a change.
func (m *Monitor) observe(reachable bool) {
	next := Disconnected
	if reachable {
		next = Connected
	}

	m.mu.Lock()
	if next == m.state {
		m.mu.Unlock()
		return
	}
	t := Transition{From: m.state, To: next, At: m.now()}
	m.state = next
	subs := make([]subscriber, len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	m.logger.Info("connectivity changed", "from", t.From, "to", t.To)
	for _, s := range subs {
		s.cb(t)
	}
}

func (m *Monitor) unsubscribe(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.subs {
		if s.id == id {
			m.subs = append(m.subs[:i:i], m.subs[i+1:]...)
			return
		}
	}
}
