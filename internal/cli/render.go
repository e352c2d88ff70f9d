package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/skinscan/internal/analytics"
	"github.com/roach88/skinscan/internal/engine"
	"github.com/roach88/skinscan/internal/scan"
)

// withApp loads config, builds the app, runs fn and closes the app.
func withApp(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, app *App) error) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	logger := setupLogging(cfg, cmd.ErrOrStderr())
	newFormatter(cmd, opts).VerboseLog("store=%s classifier=%s workers=%d",
		cfg.Store.Driver, cfg.Classifier.Mode, cfg.Workers)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	app, err := NewApp(ctx, cfg, logger, nil)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start service", err)
	}
	defer func() {
		if closeErr := app.Close(); closeErr != nil {
			logger.Error("error closing service", "error", closeErr)
		}
	}()

	return fn(ctx, app)
}

func newFormatter(cmd *cobra.Command, opts *RootOptions) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// fail reports a failed request. In JSON mode the error is also written to
// stdout as a CLIResponse so scripts always get a parseable document.
func fail(cmd *cobra.Command, opts *RootOptions, message string, err error) error {
	if opts.Format == "json" {
		code := string(scan.KindOf(err))
		if code == "" {
			code = "INTERNAL"
		}
		_ = newFormatter(cmd, opts).Error(code, err.Error(), nil)
	}
	return requestError(message, err)
}

type predictView engine.Result

func (v predictView) RenderText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Label:\t%s\n", v.Label)
	fmt.Fprintf(tw, "Confidence:\t%.4f\n", v.Confidence)
	fmt.Fprintf(tw, "Record:\t%s\n", v.RecordID)
	fmt.Fprintf(tw, "Timestamp:\t%s\n", v.Timestamp.Format(time.RFC3339))
	return tw.Flush()
}

type historyView analytics.PageResult

func (v historyView) RenderText(w io.Writer) error {
	fmt.Fprintf(w, "Page %d of %d (%d scans)\n", v.Page, v.TotalPages, v.Total)
	if len(v.Items) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTIMESTAMP\tRESULT\tCONFIDENCE")
	for _, rec := range v.Items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.4f\n",
			rec.ID, rec.Timestamp.Format(time.RFC3339), rec.Label, rec.Confidence)
	}
	return tw.Flush()
}

// statsView wraps one aggregation result. JSON output is the bare result.
type statsView struct {
	kind string
	data any
}

func (v statsView) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.data)
}

func (v statsView) RenderText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	switch rows := v.data.(type) {
	case []analytics.DailyCount:
		fmt.Fprintln(tw, "DATE\tCONDITION\tCOUNT")
		for _, r := range rows {
			fmt.Fprintf(tw, "%s\t%s\t%d\n", r.Date, r.Condition, r.Count)
		}
	case []analytics.ConditionCount:
		fmt.Fprintln(tw, "CONDITION\tCOUNT")
		for _, r := range rows {
			fmt.Fprintf(tw, "%s\t%d\n", r.Condition, r.Count)
		}
	case []analytics.WeekdayCount:
		fmt.Fprintln(tw, "DAY\tCOUNT")
		for _, r := range rows {
			fmt.Fprintf(tw, "%s\t%d\n", r.Day, r.Count)
		}
	case []analytics.PivotRow:
		renderPivot(tw, rows)
	default:
		return fmt.Errorf("no text layout for stat %q", v.kind)
	}
	return tw.Flush()
}

// renderPivot prints one column per label seen in any range.
func renderPivot(w io.Writer, rows []analytics.PivotRow) {
	seen := make(map[string]struct{})
	for _, r := range rows {
		for label := range r.Counts {
			seen[label] = struct{}{}
		}
	}
	labels := slices.Sorted(maps.Keys(seen))

	fmt.Fprintf(w, "RANGE\t%s\n", strings.ToUpper(strings.Join(labels, "\t")))
	for _, r := range rows {
		fmt.Fprint(w, r.Range)
		for _, label := range labels {
			fmt.Fprintf(w, "\t%d", r.Counts[label])
		}
		fmt.Fprintln(w)
	}
}
