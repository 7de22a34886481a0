package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/term"

	"github.com/roach88/stocksync/internal/config"
	"github.com/roach88/stocksync/internal/connectivity"
	"github.com/roach88/stocksync/internal/coordinator"
	"github.com/roach88/stocksync/internal/op"
	"github.com/roach88/stocksync/internal/store"
)

// openQueue opens the configured queue database and recovers operations
// stranded in flight by a previous crash.
func openQueue(opts *RootOptions) (*store.Queue, *config.Config, *slog.Logger, error) {
	cfg, err := opts.Settings()
	if err != nil {
		return nil, nil, nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	logger, err := opts.log()
	if err != nil {
		return nil, nil, nil, WrapExitError(ExitCommandError, "failed to set up logging", err)
	}

	logger.Debug("opening queue", "path", cfg.DBPath)
	q, err := store.Open(cfg.DBPath, store.WithLogger(logger))
	if err != nil {
		return nil, nil, nil, WrapExitError(ExitCommandError, "failed to open queue database", err)
	}
	return q, cfg, logger, nil
}

func closeQueue(q *store.Queue, logger *slog.Logger) {
	if err := q.Close(); err != nil {
		logger.Error("error closing queue database", "error", err)
	}
}

// coordinatorDeps are the collaborators newCoordinator wires in.
type coordinatorDeps struct {
	deliverer coordinator.Deliverer
	prompter  coordinator.Prompter
	registry  prometheus.Registerer
	trace     func(coordinator.TraceEvent)
}

// newCoordinator builds a coordinator from config. Zero-valued deps get
// the production defaults.
func newCoordinator(cfg *config.Config, q *store.Queue, logger *slog.Logger, deps coordinatorDeps, in io.Reader, out io.Writer) (*coordinator.Coordinator, error) {
	deliverer := deps.deliverer
	if deliverer == nil {
		deliverer = coordinator.NewHTTPDeliverer(&http.Client{Timeout: cfg.AttemptTimeout})
	}

	var notifier coordinator.Notifier = coordinator.LogNotifier{Logger: logger}
	if cfg.NotifyURL != "" {
		headers := map[string]string{}
		if cfg.API.Token != "" {
			headers["Authorization"] = "Bearer " + cfg.API.Token
		}
		n := coordinator.NewHTTPNotifier(cfg.NotifyURL, headers)
		n.Client.Timeout = cfg.NotifyTimeout
		notifier = n
	}

	prompter := deps.prompter
	if prompter == nil {
		d, ask := cfg.Exhausted()
		switch {
		case ask && isTerminal(in):
			prompter = newTerminalPrompter(in, out)
		case ask:
			logger.Warn("on_exhausted is prompt but stdin is not a terminal, requeueing")
			prompter = coordinator.StaticPrompter{Disposition: op.DispositionRequeue}
		default:
			prompter = coordinator.StaticPrompter{Disposition: d}
		}
	}

	opts := []coordinator.Option{
		coordinator.WithMaxAttempts(cfg.MaxAttempts),
		coordinator.WithAttemptTimeout(cfg.AttemptTimeout),
		coordinator.WithNotifyTimeout(cfg.NotifyTimeout),
		coordinator.WithRetryDelay(cfg.RetryDelay),
		coordinator.WithNotifier(notifier),
		coordinator.WithPrompter(prompter),
		coordinator.WithLogger(logger),
	}
	if deps.registry != nil {
		opts = append(opts, coordinator.WithMetrics(coordinator.NewMetrics(deps.registry)))
	}
	if deps.trace != nil {
		opts = append(opts, coordinator.WithTrace(deps.trace))
	}
	return coordinator.New(q, deliverer, opts...)
}

// newSource picks the connectivity source: an HTTP probe, then a status
// file, then a constant "online" when neither is configured.
func newSource(cfg *config.Config, logger *slog.Logger) (connectivity.Source, error) {
	switch {
	case cfg.ProbeURL != "":
		logger.Info("watching connectivity via probe", "url", cfg.ProbeURL, "interval", cfg.ProbeInterval)
		return connectivity.NewProbeSource(cfg.ProbeURL, cfg.ProbeInterval), nil
	case cfg.StatusFile != "":
		logger.Info("watching connectivity via status file", "path", cfg.StatusFile)
		src := connectivity.NewFileSource(cfg.StatusFile)
		src.Logger = logger
		return src, nil
	default:
		logger.Info("no connectivity source configured, assuming online")
		src := connectivity.NewChannelSource()
		src.Set(true)
		return src, nil
	}
}

// isTerminal reports whether r is an interactive terminal.
func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// ignoreCanceled drops context cancellation, which is how daemons stop.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func describe(o op.Operation) string {
	return fmt.Sprintf("%s %s", o.Payload.Method, o.Target)
}
