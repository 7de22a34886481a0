// Package coordinator drains the offline queue against the network.
//
// A drain pass takes every pending operation into the in-flight partition,
// delivers them in FIFO order with a bounded number of immediate attempts,
// and escalates operations that exhaust their attempts:
//
//  1. the Notifier is told (best effort; failures are logged and dropped)
//  2. the Prompter decides requeue or discard
//
// Escalations run in their own goroutines so a pending decision never holds
// up the rest of the pass. The pass waits for every decision before it
// returns.
//
// Passes never overlap. Drain calls made while a pass runs wait for it; the
// Run loop coalesces triggers so at most one extra pass is queued.
//
// When connectivity is lost mid pass, the attempt in progress finishes and
// every operation not yet resolved goes back to the head of the queue.
// Delivery is at-least-once: each request carries the operation's
// idempotency key so the server can drop duplicates.
package coordinator
