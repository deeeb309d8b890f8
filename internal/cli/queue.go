package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/audit-reports/constants"
	"github.com/joseph-ayodele/audit-reports/internal/app"
	"github.com/joseph-ayodele/audit-reports/internal/entity"
	"github.com/joseph-ayodele/audit-reports/internal/queue"
)

var (
	queueState    string
	queueLimit    int
	queueOffset   int
	discoverURL   string
	discoverTitle string
	discoverFile  string
	discoverNote  string
	discoverAgcy  string
	classifyNow   bool
	promoteProv   string
	promoteStrat  string
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Work the review queue of discovered documents",
}

var queueStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Count queue items per state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			counts, err := a.Queue.Status(ctx)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), counts)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, st := range constants.AllQueueStates {
				fmt.Fprintf(tw, "%s\t%d\n", st, counts[st])
			}
			return tw.Flush()
		})
	},
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queue items",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			items, err := a.Queue.List(ctx, constants.QueueState(queueState), queueLimit, queueOffset)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), items)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTATE\tCONFIDENCE\tTITLE")
			for _, it := range items {
				conf := "-"
				if it.Confidence != nil {
					conf = fmt.Sprintf("%.2f", *it.Confidence)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", it.ID, it.State, conf, it.Title)
			}
			return tw.Flush()
		})
	},
}

var queueDiscoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Add a candidate document to the queue",
	Long:  `Registers a search hit. The document is read from --file when given, otherwise downloaded from --url.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			var body []byte
			var err error
			if discoverFile != "" {
				body, err = os.ReadFile(discoverFile)
			} else {
				body, err = a.Fetcher.Fetch(ctx, discoverURL)
			}
			if err != nil {
				return err
			}
			item, err := a.Queue.Discover(ctx, queue.Candidate{
				URL:     discoverURL,
				Title:   discoverTitle,
				Snippet: discoverNote,
				Agency:  discoverAgcy,
				Bytes:   body,
			})
			if err != nil {
				return err
			}
			if classifyNow {
				if item, err = a.Queue.Classify(ctx, item.ID); err != nil {
					return err
				}
			}
			return printItem(cmd, item)
		})
	},
}

func idCommand(use, short string, run func(ctx context.Context, a *app.App, id uuid.UUID) (any, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <queue-item-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid queue item id: %w", err)
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				out, err := run(ctx, a, id)
				if err != nil {
					return err
				}
				if item, ok := out.(*entity.QueueItem); ok {
					return printItem(cmd, item)
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), out)
				}
				rep := out.(*entity.Report)
				fmt.Fprintf(cmd.OutOrStdout(), "Promoted to report %s: %s\n", rep.ID, rep.Title)
				return nil
			})
		},
	}
}

var queueClassifyCmd = idCommand("classify", "Run the relevance check on a discovered item",
	func(ctx context.Context, a *app.App, id uuid.UUID) (any, error) { return a.Queue.Classify(ctx, id) })

var queuePromoteCmd = idCommand("promote", "Download, extract and store a pending item as a report",
	func(ctx context.Context, a *app.App, id uuid.UUID) (any, error) {
		return a.Queue.Promote(ctx, id, ingestOptionsFrom(promoteProv, promoteStrat))
	})

var queueRejectCmd = idCommand("reject", "Reject a pending item",
	func(ctx context.Context, a *app.App, id uuid.UUID) (any, error) { return a.Queue.Reject(ctx, id) })

func printItem(cmd *cobra.Command, it *entity.QueueItem) error {
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), it)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %s\n", it.ID, it.State, it.Title)
	if it.Verdict != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "  verdict=%s confidence=%.2f %s\n", *it.Verdict, deref(it.Confidence), it.Reasoning)
	}
	if it.Error != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "  error: %s\n", it.Error)
	}
	return nil
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

func init() {
	queueListCmd.Flags().StringVar(&queueState, "state", "", "filter by state")
	queueListCmd.Flags().IntVar(&queueLimit, "limit", 50, "page size")
	queueListCmd.Flags().IntVar(&queueOffset, "offset", 0, "page offset")

	queueDiscoverCmd.Flags().StringVar(&discoverURL, "url", "", "source URL (required)")
	queueDiscoverCmd.Flags().StringVar(&discoverTitle, "title", "", "search hit title (required)")
	queueDiscoverCmd.Flags().StringVar(&discoverFile, "file", "", "read the document from disk instead of downloading")
	queueDiscoverCmd.Flags().StringVar(&discoverNote, "snippet", "", "search hit snippet")
	queueDiscoverCmd.Flags().StringVar(&discoverAgcy, "agency", "", "publishing agency")
	queueDiscoverCmd.Flags().BoolVar(&classifyNow, "classify", false, "classify immediately")
	_ = queueDiscoverCmd.MarkFlagRequired("url")
	_ = queueDiscoverCmd.MarkFlagRequired("title")

	queuePromoteCmd.Flags().StringVar(&promoteProv, "provider", "", "primary AI provider")
	queuePromoteCmd.Flags().StringVar(&promoteStrat, "strategy", "", "text extraction strategy")

	queueCmd.AddCommand(queueStatusCmd, queueListCmd, queueDiscoverCmd, queueClassifyCmd, queuePromoteCmd, queueRejectCmd)
	rootCmd.AddCommand(queueCmd)
}
