package cli

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/skinscan/internal/engine"
)

// PredictOptions holds flags for the predict command.
type PredictOptions struct {
	*RootOptions
	UserID      string
	ContentType string
}

// NewPredictCommand creates the predict command.
func NewPredictCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PredictOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "predict <image>",
		Short: "Classify an image and record the scan",
		Long: `Classify a face image with the configured classifier and append the
result to the user's scan history.

The media type is sniffed from the file unless --content-type is given.

Example:
  skinscan predict --user u1 face.jpg
  skinscan predict --user u1 --format json face.png`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPredict(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVarP(&opts.UserID, "user", "u", "", "user the scan belongs to (required)")
	cmd.Flags().StringVar(&opts.ContentType, "content-type", "", "declared media type of the image")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func runPredict(cmd *cobra.Command, opts *PredictOptions, path string) error {
	image, err := os.ReadFile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read image", err)
	}

	return withApp(cmd, opts.RootOptions, func(ctx context.Context, app *App) error {
		res, err := app.Coordinator.Ingest(ctx, engine.Request{
			UserID:      opts.UserID,
			ContentType: opts.ContentType,
			Image:       image,
		})
		if err != nil {
			return fail(cmd, opts.RootOptions, "prediction failed", err)
		}
		return newFormatter(cmd, opts.RootOptions).Success(predictView(res))
	})
}
