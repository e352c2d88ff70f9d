package cli

import (
	"context"

	"github.com/spf13/cobra"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Page  int
	Limit int
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history <user>",
		Short: "Show a page of a user's scan history",
		Long: `Show a user's scans, newest first.

Example:
  skinscan history u1
  skinscan history u1 --page 2 --limit 20`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, opts, args[0])
		},
	}

	cmd.Flags().IntVar(&opts.Page, "page", 1, "page number (1-based)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 10, "records per page")

	return cmd
}

func runHistory(cmd *cobra.Command, opts *HistoryOptions, userID string) error {
	return withApp(cmd, opts.RootOptions, func(ctx context.Context, app *App) error {
		page, err := app.Analytics.Page(ctx, userID, opts.Page, opts.Limit)
		if err != nil {
			return fail(cmd, opts.RootOptions, "history failed", err)
		}
		return newFormatter(cmd, opts.RootOptions).Success(historyView(page))
	})
}
