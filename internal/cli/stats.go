package cli

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/skinscan/internal/analytics"
)

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats <user> <kind>",
		Short: "Aggregate a user's scan history",
		Long: `Compute one aggregation over a user's full history.

Kinds: ` + strings.Join(analytics.StatKinds, ", ") + `

Example:
  skinscan stats u1 condition-distribution
  skinscan stats u1 condition-by-confidence --format json`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
			if len(args) == 1 {
				return analytics.StatKinds, cobra.ShellCompDirectiveNoFileComp
			}
			return nil, cobra.ShellCompDirectiveNoFileComp
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(cmd, rootOpts, args[0], args[1])
		},
	}

	return cmd
}

func runStats(cmd *cobra.Command, opts *RootOptions, userID, kind string) error {
	return withApp(cmd, opts, func(ctx context.Context, app *App) error {
		data, err := app.Analytics.Stats(ctx, userID, kind)
		if err != nil {
			return fail(cmd, opts, "stats failed", err)
		}
		return newFormatter(cmd, opts).Success(statsView{kind: kind, data: data})
	})
}
