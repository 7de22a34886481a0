// Package relay serves the sync-failure relay.
//
// The coordinator's HTTPNotifier posts a failure report to
// POST /functions/v1/sync-failure-email; the relay turns it into an email to
// the configured admin address. Requests are rate limited per client IP
// with a fixed window. GET /healthz doubles as a reachability probe target
// and GET /metrics exposes Prometheus metrics.
package relay
