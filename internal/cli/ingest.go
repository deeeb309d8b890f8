package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/audit-reports/constants"
	"github.com/joseph-ayodele/audit-reports/internal/app"
	"github.com/joseph-ayodele/audit-reports/internal/ingest"
	"github.com/joseph-ayodele/audit-reports/internal/pipeline"
)

var (
	ingestProvider      string
	ingestStrategy      string
	ingestAgency        string
	ingestIncludeHidden bool

	watchDebounce    time.Duration
	watchInitialScan bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <dir|file.pdf>...",
	Short: "Upload PDFs from disk",
	Long:  `Reads every given PDF (directories are walked recursively) and runs each through the upload pipeline. Duplicates are reported, not re-processed.`,
	Args:  cobra.MinimumNArgs(1),
	RunE:  runIngest,
}

var watchCmd = &cobra.Command{
	Use:   "watch <dir>...",
	Short: "Upload new PDFs as they appear",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runWatch,
}

func init() {
	for _, c := range []*cobra.Command{ingestCmd, watchCmd} {
		c.Flags().StringVar(&ingestProvider, "provider", "", "primary AI provider: openai or gemini")
		c.Flags().StringVar(&ingestStrategy, "strategy", "", "text extraction strategy: structured-fast or layout-aware")
		c.Flags().StringVar(&ingestAgency, "agency", "", "fallback agency name")
		c.Flags().BoolVar(&ingestIncludeHidden, "include-hidden", false, "descend into hidden files and directories")
	}
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", ingest.DefaultDebounce, "quiet period before a changed file is uploaded")
	watchCmd.Flags().BoolVar(&watchInitialScan, "initial-scan", false, "also upload PDFs already present")

	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(watchCmd)
}

func ingestOptions() pipeline.Options {
	return ingestOptionsFrom(ingestProvider, ingestStrategy)
}

func ingestOptionsFrom(provider, strategy string) pipeline.Options {
	return pipeline.Options{Provider: constants.Provider(provider), Strategy: constants.Strategy(strategy)}
}

func newIngestor(a *app.App) *ingest.Ingestor {
	return ingest.New(a.Pipeline, a.Logger, ingest.WithAgency(ingestAgency), ingest.WithHidden(ingestIncludeHidden))
}

func runIngest(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		results, stats, err := newIngestor(a).IngestPaths(ctx, args, ingestOptions())
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), map[string]any{"results": results, "stats": stats})
		}
		for _, r := range results {
			printResult(cmd, r)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\nScanned %d, matched %d: %d created, %d duplicate, %d failed\n",
			stats.Scanned, stats.Matched, stats.Created, stats.Duplicate, stats.Failed)
		if stats.Failed > 0 {
			return fmt.Errorf("%d file(s) failed", stats.Failed)
		}
		return nil
	})
}

func runWatch(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		fmt.Fprintf(cmd.OutOrStdout(), "Watching %v (Ctrl+C to stop)\n", args)
		err := newIngestor(a).Watch(ctx, ingest.WatchConfig{
			Roots:       args,
			InitialScan: watchInitialScan,
			Debounce:    watchDebounce,
		}, ingestOptions(), func(r pipeline.Result) { printResult(cmd, r) })
		if ctx.Err() != nil {
			return nil
		}
		return err
	})
}

func printResult(cmd *cobra.Command, r pipeline.Result) {
	switch r.Status {
	case constants.UploadStatusCreated:
		fmt.Fprintf(cmd.OutOrStdout(), "  created    %s  report=%s\n", r.Filename, r.ReportID)
	case constants.UploadStatusDuplicate:
		if r.ReportID != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "  duplicate  %s  report=%s\n", r.Filename, r.ReportID)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "  duplicate  %s  (%s)\n", r.Filename, r.Error)
		}
	default:
		fmt.Fprintf(cmd.OutOrStdout(), "  failed     %s  %s\n", r.Filename, r.Error)
	}
}
