package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/stocksync/internal/connectivity"
	"github.com/roach88/stocksync/internal/coordinator"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	MetricsAddr string

	// Source and Deliverer override the production collaborators (for testing).
	Source    connectivity.Source
	Deliverer coordinator.Deliverer
	Prompter  coordinator.Prompter

	// Ready is closed once the daemon is subscribed and serving (for testing).
	Ready chan struct{}
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&RunOptions{RootOptions: rootOpts})
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Watch connectivity and sync whenever the network returns",
		Long: `Start the sync daemon. It watches connectivity (probe_url, status_file,
or assumes online) and drains the queue each time the network comes back,
including once at startup when already connected.

Example:
  stocksync run
  stocksync run --metrics-addr :9090 --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (overrides metrics_addr)")

	return cmd
}

func runDaemon(opts *RunOptions, cmd *cobra.Command) error {
	q, cfg, logger, err := openQueue(opts.RootOptions)
	if err != nil {
		return err
	}
	defer closeQueue(q, logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	coord, err := newCoordinator(cfg, q, logger, coordinatorDeps{
		deliverer: opts.Deliverer,
		prompter:  opts.Prompter,
		registry:  registry,
	}, cmd.InOrStdin(), cmd.ErrOrStderr())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create coordinator", err)
	}

	src := opts.Source
	if src == nil {
		if src, err = newSource(cfg, logger); err != nil {
			return WrapExitError(ExitCommandError, "failed to set up connectivity source", err)
		}
	}

	// Setup signal handling for graceful shutdown
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	// The coordinator starts online; hold it offline until the monitor
	// reports the first observation.
	coord.SetOnline(false)
	monitor := connectivity.New(src, connectivity.WithLogger(logger))
	defer func() {
		if err := monitor.Close(); err != nil {
			logger.Error("error closing connectivity monitor", "error", err)
		}
	}()
	unsubscribe, err := monitor.Subscribe(coord.OnTransition)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to watch connectivity", err)
	}
	defer unsubscribe()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return coord.Run(gctx)
	})

	addr := opts.MetricsAddr
	if addr == "" {
		addr = cfg.MetricsAddr
	}
	if addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           metricsHandler(registry),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("serving metrics", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			return shutdown(srv, logger)
		})
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Sync daemon started. Watching connectivity...")
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")
	if opts.Ready != nil {
		close(opts.Ready)
	}

	if err := ignoreCanceled(g.Wait()); err != nil {
		return WrapExitError(ExitFailure, "daemon error", err)
	}

	logger.Info("daemon stopped gracefully")
	return nil
}

func metricsHandler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return mux
}

// shutdown stops srv, giving in-flight requests a few seconds to finish.
func shutdown(srv *http.Server, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown", "addr", srv.Addr, "error", err)
		return err
	}
	return nil
}
