package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/stocksync/internal/op"
	"github.com/roach88/stocksync/internal/store"
)

// EnqueueOptions holds flags for the enqueue command.
type EnqueueOptions struct {
	*RootOptions
	ID             string
	Method         string
	Body           string
	Headers        []string
	IdempotencyKey string
}

// NewEnqueueCommand creates the enqueue command.
func NewEnqueueCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EnqueueOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "enqueue <url>",
		Short: "Queue a write for later delivery",
		Long: `Append a write to the offline queue. It is delivered by the next drain.

Examples:
  stocksync enqueue https://api.example.com/api/stocks --body '{"name":"Echeveria"}'
  stocksync enqueue https://api.example.com/api/stocks/4 --method DELETE
  stocksync enqueue https://api.example.com/api/stocks -H 'Authorization=Bearer abc'`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnqueue(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ID, "id", "", "operation ID (default: generated UUIDv7)")
	cmd.Flags().StringVarP(&opts.Method, "method", "X", "POST", "HTTP method")
	cmd.Flags().StringVarP(&opts.Body, "body", "d", "", "JSON request body")
	cmd.Flags().StringArrayVarP(&opts.Headers, "header", "H", nil, "request header as name=value (repeatable)")
	cmd.Flags().StringVar(&opts.IdempotencyKey, "idempotency-key", "", "idempotency key (default: derived from the request)")

	return cmd
}

func runEnqueue(opts *EnqueueOptions, target string, cmd *cobra.Command) error {
	headers, err := parseHeaders(opts.Headers)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid header", err)
	}
	o := op.Operation{
		ID:             opts.ID,
		Target:         target,
		IdempotencyKey: opts.IdempotencyKey,
		Payload: op.Request{
			Method:  strings.ToUpper(opts.Method),
			Headers: headers,
		},
	}
	if opts.Body != "" {
		o.Payload.Body = json.RawMessage(opts.Body)
	}

	q, _, logger, err := openQueue(opts.RootOptions)
	if err != nil {
		return err
	}
	defer closeQueue(q, logger)

	stored, err := q.Enqueue(cmd.Context(), o)
	if err != nil {
		f := formatter(opts.RootOptions, cmd)
		if errors.Is(err, op.ErrInvalidOperation) {
			_ = f.Error(CodeInvalidOp, err.Error(), nil)
			return WrapExitError(ExitCommandError, "invalid operation", err)
		}
		_ = f.Error(CodeStorageFault, err.Error(), nil)
		return WrapExitError(ExitFailure, "enqueue failed", err)
	}

	return formatter(opts.RootOptions, cmd).Print(stored, func(w io.Writer) {
		fmt.Fprintf(w, "Queued %s (%s)\n", stored.ID, describe(stored))
	})
}

func parseHeaders(raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	headers := make(map[string]string, len(raw))
	for _, h := range raw {
		name, value, ok := strings.Cut(h, "=")
		if !ok {
			name, value, ok = strings.Cut(h, ":")
		}
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("%q is not name=value", h)
		}
		headers[name] = strings.TrimSpace(value)
	}
	return headers, nil
}

// NewPeekCommand creates the peek command.
func NewPeekCommand(rootOpts *RootOptions) *cobra.Command {
	var inFlight bool

	cmd := &cobra.Command{
		Use:           "peek",
		Short:         "List queued writes without removing them",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, _, logger, err := openQueue(rootOpts)
			if err != nil {
				return err
			}
			defer closeQueue(q, logger)

			var ops []op.Operation
			if inFlight {
				ops, err = q.InFlight(cmd.Context())
			} else {
				ops, err = q.PeekAll(cmd.Context())
			}
			if err != nil {
				_ = formatter(rootOpts, cmd).Error(CodeStorageFault, err.Error(), nil)
				return WrapExitError(ExitFailure, "read queue", err)
			}

			return formatter(rootOpts, cmd).Print(ops, func(w io.Writer) {
				if len(ops) == 0 {
					fmt.Fprintln(w, "Queue is empty.")
					return
				}
				writeOps(w, ops)
			})
		},
	}

	cmd.Flags().BoolVar(&inFlight, "in-flight", false, "list operations taken by a running drain instead")
	return cmd
}

// NewDequeueCommand creates the dequeue command.
func NewDequeueCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "dequeue",
		Short:         "Remove and print the oldest queued write",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, _, logger, err := openQueue(rootOpts)
			if err != nil {
				return err
			}
			defer closeQueue(q, logger)

			f := formatter(rootOpts, cmd)
			o, err := q.Dequeue(cmd.Context())
			if errors.Is(err, store.ErrEmpty) {
				_ = f.Error(CodeQueueEmpty, "queue is empty", nil)
				return NewExitError(ExitFailure, "queue is empty")
			}
			if err != nil {
				_ = f.Error(CodeStorageFault, err.Error(), nil)
				return WrapExitError(ExitFailure, "dequeue failed", err)
			}

			return f.Print(o, func(w io.Writer) {
				fmt.Fprintf(w, "Removed %s (%s)\n", o.ID, describe(o))
			})
		},
	}
}

// NewClearCommand creates the clear command.
func NewClearCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Drop every queued write",
		Long: `Drop every pending write. Writes currently held by a running drain are
not affected. Clearing an empty queue is a no-op.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, _, logger, err := openQueue(rootOpts)
			if err != nil {
				return err
			}
			defer closeQueue(q, logger)

			f := formatter(rootOpts, cmd)
			if err := q.Clear(cmd.Context()); err != nil {
				_ = f.Error(CodeStorageFault, err.Error(), nil)
				return WrapExitError(ExitFailure, "clear failed", err)
			}
			return f.Print(map[string]bool{"cleared": true}, func(w io.Writer) {
				fmt.Fprintln(w, "Queue cleared.")
			})
		},
	}
}

// StatusResult is the status command's output.
type StatusResult struct {
	DBPath         string     `json:"db_path"`
	Pending        int        `json:"pending"`
	InFlight       int        `json:"in_flight"`
	OldestEnqueued *time.Time `json:"oldest_enqueued,omitempty"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "status",
		Short:         "Show queue depth",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, cfg, logger, err := openQueue(rootOpts)
			if err != nil {
				return err
			}
			defer closeQueue(q, logger)

			stats, err := q.Stats(cmd.Context())
			if err != nil {
				_ = formatter(rootOpts, cmd).Error(CodeStorageFault, err.Error(), nil)
				return WrapExitError(ExitFailure, "read queue", err)
			}

			res := StatusResult{DBPath: cfg.DBPath, Pending: stats.Pending, InFlight: stats.InFlight}
			if !stats.OldestEnqueued.IsZero() {
				oldest := stats.OldestEnqueued
				res.OldestEnqueued = &oldest
			}
			return formatter(rootOpts, cmd).Print(res, func(w io.Writer) {
				fmt.Fprintf(w, "Database:  %s\n", res.DBPath)
				fmt.Fprintf(w, "Pending:   %d\n", res.Pending)
				fmt.Fprintf(w, "In flight: %d\n", res.InFlight)
				if res.OldestEnqueued != nil {
					fmt.Fprintf(w, "Oldest:    %s\n", res.OldestEnqueued.Format(time.RFC3339))
				}
			})
		},
	}
}

func writeOps(w io.Writer, ops []op.Operation) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tMETHOD\tURL\tENQUEUED\tATTEMPTS")
	for _, o := range ops {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n",
			o.ID, o.Payload.Method, o.Target, o.EnqueuedAt.Format(time.RFC3339), o.Attempts)
	}
	_ = tw.Flush()
}

func formatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
}
