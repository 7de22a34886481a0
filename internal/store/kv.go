package store

import "context"

// Tx is a read-write view of the key-value store inside one transaction.
type Tx interface {
	// Get returns the value for key, or ok=false if it is absent.
	Get(key string) (value []byte, ok bool, err error)
	Put(key string, value []byte) error
	Delete(key string) error
}

// KV is the storage backend behind Queue.
//
// Update runs fn in a transaction that commits only if fn returns nil.
// View runs fn read-only; implementations may reject writes inside View.
type KV interface {
	View(ctx context.Context, fn func(Tx) error) error
	Update(ctx context.Context, fn func(Tx) error) error
	Close() error
}
