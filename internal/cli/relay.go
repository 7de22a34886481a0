package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/stocksync/internal/relay"
)

// RelayOptions holds flags for the relay command.
type RelayOptions struct {
	*RootOptions
	Addr string

	// Mailer overrides the configured mailer (for testing).
	Mailer relay.Mailer

	// Listening receives the bound address once the server accepts
	// connections (for testing).
	Listening chan<- string
}

// NewRelayCommand creates the relay command.
func NewRelayCommand(rootOpts *RootOptions) *cobra.Command {
	return newRelayCommand(&RelayOptions{RootOptions: rootOpts})
}

func newRelayCommand(opts *RelayOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Serve the sync-failure email relay",
		Long: `Serve the endpoint that turns sync-failure reports into an email to the
administrator. Requests are rate limited per client address.

Mail is sent to relay.mail_url as JSON when configured, otherwise it is
written to the log.

Example:
  STOCKSYNC_RELAY_ADMIN_EMAIL=ops@example.com stocksync relay --addr :8787`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides relay.addr)")

	return cmd
}

func runRelay(opts *RelayOptions, cmd *cobra.Command) error {
	cfg, err := opts.Settings()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	logger, err := opts.log()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to set up logging", err)
	}

	mailer := opts.Mailer
	if mailer == nil {
		if cfg.Relay.MailURL != "" {
			mailer = &relay.WebhookMailer{URL: cfg.Relay.MailURL, Client: &http.Client{Timeout: 10 * time.Second}}
		} else {
			logger.Warn("relay.mail_url not set, emails will only be logged")
			mailer = relay.LogMailer{Logger: logger}
		}
	}
	if cfg.Relay.AdminEmail == "" {
		logger.Warn("relay.admin_email not set, reports will be rejected")
	}

	handler, err := relay.New(relay.Options{
		AdminEmail: cfg.Relay.AdminEmail,
		Mailer:     mailer,
		RateLimit:  cfg.Relay.RateLimit,
		RateWindow: cfg.Relay.RateWindow,
		Logger:     logger,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create relay", err)
	}

	addr := opts.Addr
	if addr == "" {
		addr = cfg.Relay.Addr
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("relay listening", "addr", ln.Addr().String(), "path", relay.SyncFailurePath)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return shutdown(srv, logger)
	})

	fmt.Fprintf(cmd.OutOrStdout(), "Relay listening on %s\n", ln.Addr())
	if opts.Listening != nil {
		opts.Listening <- ln.Addr().String()
	}

	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "relay error", err)
	}
	logger.Info("relay stopped")
	return nil
}
