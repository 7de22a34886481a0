package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/stocksync/internal/config"
	"github.com/roach88/stocksync/internal/logging"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	DBPath     string // overrides db_path when set

	// Config and Logger are loaded on first use. Tests may set them
	// directly.
	Config *config.Config
	Logger *slog.Logger

	closeLog func() error
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the stocksync CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "stocksync",
		Short: "stocksync - offline write queue for the stock app",
		Long: `Queue stock writes made while offline and replay them in order once
connectivity returns. Writes that keep failing are reported and left for a
decision instead of being dropped.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			if _, err := opts.Settings(); err != nil {
				return WrapExitError(ExitCommandError, "failed to load config", err)
			}
			logger, err := opts.log()
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to set up logging", err)
			}
			slog.SetDefault(logger)
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return opts.Close()
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "config file (default: ./stocksync.yaml)")
	cmd.PersistentFlags().StringVar(&opts.DBPath, "db", "", "queue database path (overrides db_path)")

	cmd.AddCommand(NewEnqueueCommand(opts))
	cmd.AddCommand(NewPeekCommand(opts))
	cmd.AddCommand(NewDequeueCommand(opts))
	cmd.AddCommand(NewClearCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewStockCommand(opts))
	cmd.AddCommand(NewDrainCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewRelayCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// Settings returns the loaded configuration with flag overrides applied.
func (o *RootOptions) Settings() (*config.Config, error) {
	if o.Config == nil {
		cfg, err := config.Load(o.ConfigPath)
		if err != nil {
			return nil, err
		}
		o.Config = cfg
	}
	if o.DBPath != "" {
		o.Config.DBPath = o.DBPath
	}
	return o.Config, nil
}

// log returns the process logger, building it from config on first use.
func (o *RootOptions) log() (*slog.Logger, error) {
	if o.Logger != nil {
		return o.Logger, nil
	}
	cfg, err := o.Settings()
	if err != nil {
		return nil, err
	}
	logger, closeFn, err := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		Verbose:    o.Verbose,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		Stderr:     os.Stderr,
	})
	if err != nil {
		return nil, err
	}
	o.Logger = logger
	o.closeLog = closeFn
	return logger, nil
}

// Close releases the log writer.
func (o *RootOptions) Close() error {
	if o.closeLog == nil {
		return nil
	}
	err := o.closeLog()
	o.closeLog = nil
	return err
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
