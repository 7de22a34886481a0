package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/stocksync/internal/coordinator"
)

// DrainOptions holds flags for the drain command.
type DrainOptions struct {
	*RootOptions
	Trace bool

	// Deliverer and Prompter override the production collaborators (for testing).
	Deliverer coordinator.Deliverer
	Prompter  coordinator.Prompter
}

// DrainResult is the drain command's output.
type DrainResult struct {
	Report coordinator.Report       `json:"report"`
	Trace  []coordinator.TraceEvent `json:"trace,omitempty"`
}

// NewDrainCommand creates the drain command.
func NewDrainCommand(rootOpts *RootOptions) *cobra.Command {
	return newDrainCommand(&DrainOptions{RootOptions: rootOpts})
}

func newDrainCommand(opts *DrainOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Replay queued writes once and exit",
		Long: `Run a single sync pass: replay every queued write in order, retrying
each up to max_attempts times. Writes that still fail are reported and then
requeued, discarded, or offered for a decision depending on on_exhausted.

Example:
  stocksync drain
  stocksync drain --trace --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDrain(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Trace, "trace", false, "include the pass trace in the output")

	return cmd
}

func runDrain(opts *DrainOptions, cmd *cobra.Command) error {
	q, cfg, logger, err := openQueue(opts.RootOptions)
	if err != nil {
		return err
	}
	defer closeQueue(q, logger)

	var res DrainResult
	deps := coordinatorDeps{deliverer: opts.Deliverer, prompter: opts.Prompter}
	if opts.Trace {
		deps.trace = func(e coordinator.TraceEvent) { res.Trace = append(res.Trace, e) }
	}
	coord, err := newCoordinator(cfg, q, logger, deps, cmd.InOrStdin(), cmd.ErrOrStderr())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create coordinator", err)
	}

	res.Report, err = coord.Drain(cmd.Context())
	f := formatter(opts.RootOptions, cmd)
	if err != nil {
		_ = f.Error(CodeDrainFailed, err.Error(), res.Report)
		return WrapExitError(ExitFailure, "drain failed", err)
	}

	return f.Print(res, func(w io.Writer) {
		for _, e := range res.Trace {
			writeTraceEvent(w, e)
		}
		r := res.Report
		fmt.Fprintf(w, "Pass %d: %d delivered, %d escalated (%d requeued, %d discarded) in %s\n",
			r.Pass, r.Delivered, r.Escalated, r.Requeued, r.Discarded, r.Duration.Round(time.Millisecond))
		if r.Halted {
			fmt.Fprintf(w, "Connectivity lost; %d operation(s) returned to the queue.\n", r.Restored)
		}
	})
}

func writeTraceEvent(w io.Writer, e coordinator.TraceEvent) {
	fmt.Fprintf(w, "[%d] %-13s", e.Pass, e.Kind)
	if e.OpID != "" {
		fmt.Fprintf(w, " op=%s", e.OpID)
	}
	if e.Attempt > 0 {
		fmt.Fprintf(w, " attempt=%d", e.Attempt)
	}
	if e.Disposition != "" {
		fmt.Fprintf(w, " disposition=%s", e.Disposition)
	}
	if e.Error != "" {
		fmt.Fprintf(w, " error=%q", e.Error)
	}
	fmt.Fprintln(w)
}
