package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/audit-reports/constants"
	"github.com/joseph-ayodele/audit-reports/internal/app"
	"github.com/joseph-ayodele/audit-reports/internal/extract"
)

var (
	extractStrategy string
	extractCompare  bool
	extractShowText bool
)

var extractCmd = &cobra.Command{
	Use:   "extract <file.pdf>",
	Short: "Run text extraction only",
	Long:  `Extracts text from a PDF without calling AI or touching the database. --compare runs every strategy side by side.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runExtract,
}

func init() {
	extractCmd.Flags().StringVar(&extractStrategy, "strategy", "", "structured-fast or layout-aware (default from config)")
	extractCmd.Flags().BoolVar(&extractCompare, "compare", false, "run every strategy and summarize")
	extractCmd.Flags().BoolVar(&extractShowText, "text", false, "print the extracted text")
	rootCmd.AddCommand(extractCmd)
}

func runExtract(cmd *cobra.Command, args []string) error {
	pdf, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		if extractCompare {
			cmp := a.Extract.Compare(ctx, pdf)
			for _, s := range constants.AllStrategies {
				if err, ok := cmp.Errors[s]; ok {
					fmt.Fprintf(cmd.OutOrStdout(), "%-16s error: %v\n", s, err)
					continue
				}
				printExtracted(cmd, cmp.Results[s])
			}
			return nil
		}

		name := extractStrategy
		if name == "" {
			name = a.Config.Extract.DefaultStrategy
		}
		s, ok := constants.ParseStrategy(name)
		if !ok {
			return fmt.Errorf("unknown strategy %q", name)
		}
		res, err := a.Extract.Extract(ctx, pdf, s)
		if err != nil {
			return err
		}
		printExtracted(cmd, res)
		if extractShowText {
			fmt.Fprintln(cmd.OutOrStdout())
			fmt.Fprintln(cmd.OutOrStdout(), res.FullText)
		}
		return nil
	})
}

func printExtracted(cmd *cobra.Command, res extract.ExtractedText) {
	fmt.Fprintf(cmd.OutOrStdout(), "%-16s pages=%d chars=%d truncated=%t elapsed=%s\n",
		res.Strategy, len(res.Pages), len(res.FullText), res.Truncated, res.Elapsed)
}
