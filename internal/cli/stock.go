package cli

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/stocksync/internal/api"
	"github.com/roach88/stocksync/internal/op"
)

// StockOptions holds flags for the stock add command.
type StockOptions struct {
	*RootOptions
	Shelf    string
	Tags     []string
	Public   bool
	ParentID int64
}

// StockResult is the outcome of a stock write. Queued is set when the write
// went to the offline queue.
type StockResult struct {
	Stock  *api.Stock    `json:"stock,omitempty"`
	Queued *op.Operation `json:"queued,omitempty"`
}

// NewStockCommand creates the stock command group.
func NewStockCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stock",
		Short: "Write stocks through the API, queueing when offline",
		Long: `Send stock writes to the backend at api.base_url. A write that cannot
reach the backend is queued and delivered by the next drain.`,
	}
	cmd.AddCommand(newStockAddCommand(&StockOptions{RootOptions: rootOpts}))
	cmd.AddCommand(newStockDeleteCommand(rootOpts))
	return cmd
}

func newStockAddCommand(opts *StockOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Create a stock",
		Example: `  stocksync stock add Echeveria --shelf B2 --tag succulent
  stocksync stock add "Aloe pup" --parent 4`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			in := api.StockInput{
				Name:     args[0],
				Shelf:    opts.Shelf,
				Tags:     opts.Tags,
				IsPublic: opts.Public,
			}
			if cmd.Flags().Changed("parent") {
				in.ParentID = &opts.ParentID
			}
			return runStockWrite(opts.RootOptions, cmd, func(c *api.Client) (*api.Stock, error) {
				s, err := c.AddStock(cmd.Context(), in)
				return &s, err
			})
		},
	}

	cmd.Flags().StringVar(&opts.Shelf, "shelf", "", "shelf label")
	cmd.Flags().StringArrayVar(&opts.Tags, "tag", nil, "tag (repeatable)")
	cmd.Flags().BoolVar(&opts.Public, "public", false, "make the stock public")
	cmd.Flags().Int64Var(&opts.ParentID, "parent", 0, "parent stock ID")

	return cmd
}

func newStockDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "delete <id>",
		Short:         "Delete a stock",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid stock ID", err)
			}
			return runStockWrite(rootOpts, cmd, func(c *api.Client) (*api.Stock, error) {
				return nil, c.DeleteStock(cmd.Context(), id)
			})
		},
	}
}

// runStockWrite builds an API client that queues into the configured
// database and reports the outcome of write.
func runStockWrite(opts *RootOptions, cmd *cobra.Command, write func(*api.Client) (*api.Stock, error)) error {
	q, cfg, logger, err := openQueue(opts)
	if err != nil {
		return err
	}
	defer closeQueue(q, logger)

	client, err := api.New(cfg.API.BaseURL,
		api.WithHTTPClient(&http.Client{Timeout: cfg.AttemptTimeout}),
		api.WithQueue(q),
		api.WithToken(cfg.API.Token),
		api.WithLogger(logger),
	)
	if err != nil {
		return WrapExitError(ExitCommandError, "api client not configured", err)
	}

	f := formatter(opts, cmd)
	stock, err := write(client)

	var queued *api.QueuedError
	switch {
	case errors.As(err, &queued):
		o := queued.Operation
		return f.Print(StockResult{Queued: &o}, func(w io.Writer) {
			fmt.Fprintf(w, "Offline: queued %s (%s) for the next sync\n", o.ID, describe(o))
		})
	case err != nil:
		_ = f.Error(CodeAPIError, err.Error(), nil)
		return WrapExitError(ExitFailure, "stock write failed", err)
	}

	return f.Print(StockResult{Stock: stock}, func(w io.Writer) {
		if stock == nil {
			fmt.Fprintln(w, "Deleted.")
			return
		}
		fmt.Fprintf(w, "Saved stock %d (%s)\n", stock.ID, stock.Name)
	})
}
