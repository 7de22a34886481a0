package store

import (
	"bytes"
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by MemoryKV after Close.
var ErrClosed = errors.New("store closed")

// MemoryKV is an in-process KV. Update works on a copy of the map and swaps
// it in on success, so a failed transaction leaves no partial writes.
type MemoryKV struct {
	mu     sync.Mutex
	data   map[string][]byte
	fault  error
	closed bool
}

// NewMemoryKV returns an empty MemoryKV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string][]byte)}
}

// SetFault makes every subsequent View and Update fail with err until
// SetFault(nil) is called. Used to simulate storage faults.
func (m *MemoryKV) SetFault(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fault = err
}

func (m *MemoryKV) View(ctx context.Context, fn func(Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return err
	}
	return fn(&memTx{data: m.data, readOnly: true})
}

func (m *MemoryKV) Update(ctx context.Context, fn func(Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return err
	}

	next := make(map[string][]byte, len(m.data))
	for k, v := range m.data {
		next[k] = v
	}
	if err := fn(&memTx{data: next}); err != nil {
		return err
	}
	m.data = next
	return nil
}

func (m *MemoryKV) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MemoryKV) check(ctx context.Context) error {
	if m.closed {
		return ErrClosed
	}
	if m.fault != nil {
		return m.fault
	}
	return ctx.Err()
}

type memTx struct {
	data     map[string][]byte
	readOnly bool
}

func (t *memTx) Get(key string) ([]byte, bool, error) {
	v, ok := t.data[key]
	if !ok {
		return nil, false, nil
	}
	return bytes.Clone(v), true, nil
}

func (t *memTx) Put(key string, value []byte) error {
	if t.readOnly {
		return errors.New("write in read-only transaction")
	}
	t.data[key] = bytes.Clone(value)
	return nil
}

func (t *memTx) Delete(key string) error {
	if t.readOnly {
		return errors.New("write in read-only transaction")
	}
	delete(t.data, key)
	return nil
}
