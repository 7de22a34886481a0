// Package store provides the durable offline queue.
//
// The queue is persisted as ordered JSON arrays under named keys of a small
// key-value store:
//   - offline_queue: pending operations, oldest first
//   - offline_queue.inflight: operations taken by a running drain pass
//
// # Invariants
//
// FIFO: PeekAll, Dequeue and TakeAll observe operations in enqueue order.
// Operations restored after an interrupted pass go back to the head, ahead
// of anything enqueued while the pass ran.
//
// Durability: every mutation is a single backend transaction. A crash mid
// pass leaves taken operations in the in-flight partition, and Open moves
// them back to pending. Delivery is therefore at-least-once.
//
// Serialization: all read-modify-write sequences are serialized by a mutex in
// Queue plus the backend transaction, so concurrent callers never lose an
// update.
//
// # Backends
//
//   - SQLiteKV: WAL mode, synchronous=FULL, busy_timeout=5000
//   - MemoryKV: in-process, for tests and the scenario harness
//
// Corrupted records are skipped with a warning. A value that is not a JSON
// array at all is a storage fault and is returned to the caller.
package store
