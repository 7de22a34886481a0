// Package config loads stocksync settings.
//
// Settings come from a YAML file (stocksync.yaml in the working directory or
// the user config directory, or an explicit path) with STOCKSYNC_*
// environment overrides, e.g. STOCKSYNC_MAX_ATTEMPTS=5 or
// STOCKSYNC_RELAY_ADMIN_EMAIL=ops@example.com. The merged result is
// validated against an embedded CUE schema before use.
package config
