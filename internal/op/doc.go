// Package op defines the operation record: the unit of durable work that the
// queue stores and the coordinator replays.
//
// This package contains record types and their identity helpers only. It
// imports nothing internal, so store, coordinator and api can all depend on
// it without cycles.
//
// Key constraints:
//   - The request payload is opaque. Nothing in op, store or coordinator
//     inspects Body beyond checking that it is valid JSON.
//   - Every record carries an idempotency key. Delivery is at-least-once, so
//     the receiving endpoint is expected to dedupe on that key.
//   - JSON tags use snake_case and are the persisted format.
package op
