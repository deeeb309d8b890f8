package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/audit-reports/internal/app"
	"github.com/joseph-ayodele/audit-reports/internal/keywords"
)

var (
	kwLimit    int
	kwOffset   int
	mapToID    string
	mapToLabel string
	importFmt  string
)

var keywordsCmd = &cobra.Command{
	Use:   "keywords",
	Short: "Manage the canonical keyword taxonomy",
}

var keywordsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List canonical keywords",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			list, err := a.Keywords.ListCanonical(ctx, kwLimit, kwOffset)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), list)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tLABEL\tSLUG\tUSAGE")
			for _, k := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", k.ID, k.Label, k.Slug, k.UsageCount)
			}
			return tw.Flush()
		})
	},
}

var keywordsUnmatchedCmd = &cobra.Command{
	Use:   "unmatched",
	Short: "List terms awaiting a mapping, most frequent first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			terms, total, err := a.Keywords.ListUnmatched(ctx, kwLimit, kwOffset)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), map[string]any{"items": terms, "total": total})
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTERM\tCOUNT\tREPORTS")
			for _, t := range terms {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\n", t.ID, t.Normalized, t.OccurrenceCount, len(t.ReportIDs))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\n%d of %d unmatched term(s)\n", len(terms), total)
			return nil
		})
	},
}

var keywordsMapCmd = &cobra.Command{
	Use:   "map <unmatched-id>",
	Short: "Map an unmatched term to a canonical keyword",
	Long:  `Attaches the term as an alias of an existing keyword (--to) or of a new one (--new). Reports that mentioned the term are re-pointed.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid unmatched id: %w", err)
		}
		var target keywords.Target
		switch {
		case mapToID != "" && mapToLabel != "":
			return fmt.Errorf("--to and --new are mutually exclusive")
		case mapToID != "":
			cid, err := uuid.Parse(mapToID)
			if err != nil {
				return fmt.Errorf("invalid --to id: %w", err)
			}
			target.CanonicalID = &cid
		case mapToLabel != "":
			target.NewLabel = mapToLabel
		default:
			return fmt.Errorf("one of --to or --new is required")
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			k, err := a.Keywords.CreateMapping(ctx, id, target)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), k)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Mapped to %q (%s), usage %d\n", k.Label, k.ID, k.UsageCount)
			return nil
		})
	},
}

var keywordsMergeCmd = &cobra.Command{
	Use:   "merge <into-id> <from-id>",
	Short: "Fold one canonical keyword into another",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		into, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid into id: %w", err)
		}
		from, err := uuid.Parse(args[1])
		if err != nil {
			return fmt.Errorf("invalid from id: %w", err)
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			k, err := a.Keywords.MergeCanonicalKeywords(ctx, into, from)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), k)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Merged into %q (%s), usage %d\n", k.Label, k.ID, k.UsageCount)
			return nil
		})
	},
}

var keywordsImportCmd = &cobra.Command{
	Use:   "import <file.csv|file.xlsx>",
	Short: "Seed the taxonomy from a mapping sheet",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format := keywords.TaxonomyFormat(strings.ToLower(importFmt))
		if format == "" {
			format = keywords.TaxonomyFormat(strings.TrimPrefix(strings.ToLower(filepath.Ext(args[0])), "."))
		}
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			res, err := a.Keywords.ImportTaxonomy(ctx, f, format)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), res)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d row(s): %d keyword(s) created, %d alias(es), %d mention(s) re-pointed\n",
				res.Rows, res.Created, res.Aliases, res.Reattached)
			for _, s := range res.Skipped {
				fmt.Fprintf(cmd.OutOrStdout(), "  skipped: %s\n", s)
			}
			return nil
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{keywordsListCmd, keywordsUnmatchedCmd} {
		c.Flags().IntVar(&kwLimit, "limit", 50, "page size")
		c.Flags().IntVar(&kwOffset, "offset", 0, "page offset")
	}
	keywordsMapCmd.Flags().StringVar(&mapToID, "to", "", "existing canonical keyword id")
	keywordsMapCmd.Flags().StringVar(&mapToLabel, "new", "", "label of a new canonical keyword")
	keywordsImportCmd.Flags().StringVar(&importFmt, "format", "", "csv or xlsx (default from extension)")

	keywordsCmd.AddCommand(keywordsListCmd, keywordsUnmatchedCmd, keywordsMapCmd, keywordsMergeCmd, keywordsImportCmd)
	rootCmd.AddCommand(keywordsCmd)
}
