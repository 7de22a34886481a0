package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/roach88/stocksync/internal/op"
)

// Storage keys.
const (
	PendingKey  = "offline_queue"
	InFlightKey = "offline_queue.inflight"
)

var (
	// ErrEmpty is returned by Dequeue when no operation is pending.
	ErrEmpty = errors.New("queue is empty")

	// ErrNotInFlight is returned when an id is not in the in-flight partition.
	ErrNotInFlight = errors.New("operation not in flight")

	// errNoChange aborts a mutation without writing and without failing.
	errNoChange = errors.New("no change")
)

// Queue is the durable FIFO of operation records.
//
// Thread-safety: all methods are safe for concurrent use.
type Queue struct {
	kv     KV
	mu     sync.Mutex
	ids    op.IDGenerator
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Queue.
type Option func(*Queue)

// WithIDGenerator sets the generator used for operations enqueued without an ID.
func WithIDGenerator(g op.IDGenerator) Option {
	return func(q *Queue) { q.ids = g }
}

// WithClock sets the time source for EnqueuedAt.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// WithLogger sets the logger used for corrupted-record warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) { q.logger = logger }
}

// New wraps an already-open backend.
func New(kv KV, opts ...Option) *Queue {
	q := &Queue{
		kv:     kv,
		ids:    op.UUIDv7Generator{},
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Open opens the SQLite-backed queue at path and recovers operations left in
// flight by a previous process.
func Open(path string, opts ...Option) (*Queue, error) {
	kv, err := OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	q := New(kv, opts...)

	n, err := q.Recover(context.Background())
	if err != nil {
		kv.Close()
		return nil, fmt.Errorf("recover in-flight operations: %w", err)
	}
	if n > 0 {
		q.logger.Info("recovered in-flight operations", "count", n)
	}
	return q, nil
}

// Close releases the backend.
func (q *Queue) Close() error {
	if q == nil || q.kv == nil {
		return nil
	}
	return q.kv.Close()
}

// Enqueue appends o to the tail of the queue and returns the stored record.
//
// Missing ID, EnqueuedAt, Version and IdempotencyKey are filled in. If an
// operation with the same ID is already pending or in flight the call is a
// no-op and returns the stored record.
func (q *Queue) Enqueue(ctx context.Context, o op.Operation) (op.Operation, error) {
	rec := o.Clone()
	if rec.ID == "" {
		rec.ID = q.ids.Generate()
	}
	if rec.EnqueuedAt.IsZero() {
		rec.EnqueuedAt = q.now().UTC()
	}
	if rec.Version == 0 {
		rec.Version = op.RecordVersion
	}
	if err := rec.Validate(); err != nil {
		return op.Operation{}, err
	}
	if rec.IdempotencyKey == "" {
		rec.IdempotencyKey = op.ContentKey(rec)
	}

	stored := rec
	err := q.mutate(ctx, func(p *partitions) error {
		if existing, ok := p.find(rec.ID); ok {
			stored = existing
			return errNoChange
		}
		p.pending = append(p.pending, rec)
		return nil
	})
	if err != nil {
		return op.Operation{}, fmt.Errorf("enqueue: %w", err)
	}
	return stored.Clone(), nil
}

// Dequeue removes and returns the oldest pending operation.
// Returns ErrEmpty if nothing is pending.
func (q *Queue) Dequeue(ctx context.Context) (op.Operation, error) {
	var head op.Operation
	err := q.mutate(ctx, func(p *partitions) error {
		if len(p.pending) == 0 {
			return ErrEmpty
		}
		head = p.pending[0]
		p.pending = p.pending[1:]
		return nil
	})
	if errors.Is(err, ErrEmpty) {
		return op.Operation{}, ErrEmpty
	}
	if err != nil {
		return op.Operation{}, fmt.Errorf("dequeue: %w", err)
	}
	return head, nil
}

// PeekAll returns a snapshot of the pending operations, oldest first.
func (q *Queue) PeekAll(ctx context.Context) ([]op.Operation, error) {
	p, err := q.snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("peek: %w", err)
	}
	return cloneAll(p.pending), nil
}

// Clear removes every pending operation. Clearing an empty queue is a no-op.
// Operations held by a running pass are not affected.
//
// Clear does not decode the stored value, so it also recovers a pending key
// that has become unreadable.
func (q *Queue) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	err := q.kv.Update(ctx, func(tx Tx) error {
		return tx.Delete(PendingKey)
	})
	if err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	return nil
}

// Len returns the number of pending operations.
func (q *Queue) Len(ctx context.Context) (int, error) {
	p, err := q.snapshot(ctx)
	if err != nil {
		return 0, fmt.Errorf("len: %w", err)
	}
	return len(p.pending), nil
}

// TakeAll atomically moves every pending operation to the in-flight
// partition and returns them oldest first. Operations enqueued after TakeAll
// returns stay pending and are not part of the caller's pass.
func (q *Queue) TakeAll(ctx context.Context) ([]op.Operation, error) {
	var taken []op.Operation
	err := q.mutate(ctx, func(p *partitions) error {
		if len(p.pending) == 0 {
			return errNoChange
		}
		taken = p.pending
		p.inflight = append(p.inflight, p.pending...)
		p.pending = nil
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("take all: %w", err)
	}
	return cloneAll(taken), nil
}

// Resolve drops an in-flight operation (delivered or discarded).
func (q *Queue) Resolve(ctx context.Context, id string) error {
	err := q.mutate(ctx, func(p *partitions) error {
		_, ok := p.removeInFlight(id)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotInFlight, id)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("resolve: %w", err)
	}
	return nil
}

// Requeue moves an in-flight operation to the tail of the pending queue.
func (q *Queue) Requeue(ctx context.Context, id string) error {
	err := q.mutate(ctx, func(p *partitions) error {
		rec, ok := p.removeInFlight(id)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotInFlight, id)
		}
		p.pending = append(p.pending, rec)
		return nil
	})
	if err != nil {
		return fmt.Errorf("requeue: %w", err)
	}
	return nil
}

// Restore moves the named in-flight operations back to the head of the
// pending queue, keeping their in-flight order. They were enqueued before
// anything currently pending, so FIFO order is preserved.
func (q *Queue) Restore(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}

	err := q.mutate(ctx, func(p *partitions) error {
		var restored, kept []op.Operation
		for _, rec := range p.inflight {
			if want[rec.ID] {
				restored = append(restored, rec)
				delete(want, rec.ID)
			} else {
				kept = append(kept, rec)
			}
		}
		if len(want) > 0 {
			missing := make([]string, 0, len(want))
			for id := range want {
				missing = append(missing, id)
			}
			sort.Strings(missing)
			return fmt.Errorf("%w: %s", ErrNotInFlight, strings.Join(missing, ", "))
		}
		p.inflight = kept
		p.pending = append(restored, p.pending...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	return nil
}

// RecordAttempts adds n to the cumulative attempt counter of an in-flight
// operation.
func (q *Queue) RecordAttempts(ctx context.Context, id string, n int) error {
	err := q.mutate(ctx, func(p *partitions) error {
		for i := range p.inflight {
			if p.inflight[i].ID == id {
				p.inflight[i].Attempts += n
				return nil
			}
		}
		return fmt.Errorf("%w: %s", ErrNotInFlight, id)
	})
	if err != nil {
		return fmt.Errorf("record attempts: %w", err)
	}
	return nil
}

// InFlight returns a snapshot of the in-flight partition.
func (q *Queue) InFlight(ctx context.Context) ([]op.Operation, error) {
	p, err := q.snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("in flight: %w", err)
	}
	return cloneAll(p.inflight), nil
}

// Recover moves everything left in flight back to the head of the pending
// queue and returns how many operations were moved. Call it only when no
// pass is running, typically at startup.
func (q *Queue) Recover(ctx context.Context) (int, error) {
	var n int
	err := q.mutate(ctx, func(p *partitions) error {
		if len(p.inflight) == 0 {
			return errNoChange
		}
		n = len(p.inflight)
		p.pending = append(p.inflight, p.pending...)
		p.inflight = nil
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("recover: %w", err)
	}
	return n, nil
}

// Stats summarizes the queue.
type Stats struct {
	Pending        int       `json:"pending"`
	InFlight       int       `json:"in_flight"`
	OldestEnqueued time.Time `json:"oldest_enqueued,omitempty"`
}

// Stats returns queue depth and the age of the oldest pending operation.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	p, err := q.snapshot(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}
	s := Stats{Pending: len(p.pending), InFlight: len(p.inflight)}
	if len(p.pending) > 0 {
		s.OldestEnqueued = p.pending[0].EnqueuedAt
	}
	return s, nil
}

// partitions is the decoded state of both keys.
type partitions struct {
	pending  []op.Operation
	inflight []op.Operation
}

func (p *partitions) find(id string) (op.Operation, bool) {
	for _, rec := range p.pending {
		if rec.ID == id {
			return rec, true
		}
	}
	for _, rec := range p.inflight {
		if rec.ID == id {
			return rec, true
		}
	}
	return op.Operation{}, false
}

func (p *partitions) removeInFlight(id string) (op.Operation, bool) {
	for i, rec := range p.inflight {
		if rec.ID == id {
			p.inflight = append(p.inflight[:i:i], p.inflight[i+1:]...)
			return rec, true
		}
	}
	return op.Operation{}, false
}

// mutate loads both partitions, applies fn and writes them back in one
// transaction. Returning errNoChange from fn skips the write.
func (q *Queue) mutate(ctx context.Context, fn func(*partitions) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	err := q.kv.Update(ctx, func(tx Tx) error {
		p, err := q.load(tx)
		if err != nil {
			return err
		}
		if err := fn(p); err != nil {
			return err
		}
		if err := q.save(tx, PendingKey, p.pending); err != nil {
			return err
		}
		return q.save(tx, InFlightKey, p.inflight)
	})
	if errors.Is(err, errNoChange) {
		return nil
	}
	return err
}

func (q *Queue) snapshot(ctx context.Context) (*partitions, error) {
	var p *partitions
	err := q.kv.View(ctx, func(tx Tx) error {
		var err error
		p, err = q.load(tx)
		return err
	})
	return p, err
}

func (q *Queue) load(tx Tx) (*partitions, error) {
	pending, err := q.loadKey(tx, PendingKey)
	if err != nil {
		return nil, err
	}
	inflight, err := q.loadKey(tx, InFlightKey)
	if err != nil {
		return nil, err
	}
	return &partitions{pending: pending, inflight: inflight}, nil
}

func (q *Queue) loadKey(tx Tx, key string) ([]op.Operation, error) {
	data, ok, err := tx.Get(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return decodeRecords(q.logger, key, data)
}

// save writes records under key, deleting the key when there are none.
func (q *Queue) save(tx Tx, key string, ops []op.Operation) error {
	if len(ops) == 0 {
		return tx.Delete(key)
	}
	data, err := encodeRecords(ops)
	if err != nil {
		return err
	}
	return tx.Put(key, data)
}

func cloneAll(ops []op.Operation) []op.Operation {
	out := make([]op.Operation, len(ops))
	for i, rec := range ops {
		out[i] = rec.Clone()
	}
	return out
}
