package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/audit-reports/internal/app"
	"github.com/joseph-ayodele/audit-reports/internal/repository"
)

var (
	exportOut     string
	exportPublish bool
	exportPrefix  string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write reports, AI costs and keywords to an XLSX workbook",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if exportOut == "" && !exportPublish {
			return fmt.Errorf("--out or --publish is required")
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if exportPublish {
				dst, err := a.ObjectStore(ctx)
				if err != nil {
					return err
				}
				prefix := exportPrefix
				if prefix == "" {
					prefix = a.Config.Export.Prefix
				}
				url, sum, err := a.Export.Publish(ctx, dst, prefix)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Published %d report(s), %d cost row(s), %d keyword(s) to %s\n", sum.Reports, sum.Costs, sum.Keywords, url)
			}
			if exportOut != "" {
				data, sum, err := a.Export.ExportXLSX(ctx)
				if err != nil {
					return err
				}
				if err := os.WriteFile(exportOut, data, 0o644); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d report(s), %d cost row(s), %d keyword(s) to %s\n", sum.Reports, sum.Costs, sum.Keywords, exportOut)
			}
			return nil
		})
	},
}

var dbhealthTimeout time.Duration

var dbhealthCmd = &cobra.Command{
	Use:   "dbhealth",
	Short: "Check database connectivity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cmd, cfg)
		ctx := cmd.Context()
		db, err := repository.Open(ctx, repository.Config{
			Driver:      cfg.Database.Driver,
			DSN:         cfg.Database.DSN,
			DialTimeout: dbhealthTimeout,
		}, logger)
		if err != nil {
			return err
		}
		defer db.Close(logger)
		if err := repository.HealthCheck(ctx, db, dbhealthTimeout, logger); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s database is healthy\n", cfg.Database.Driver)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output .xlsx path")
	exportCmd.Flags().BoolVar(&exportPublish, "publish", false, "upload to the configured export bucket")
	exportCmd.Flags().StringVar(&exportPrefix, "prefix", "", "object key prefix (default from config)")
	dbhealthCmd.Flags().DurationVar(&dbhealthTimeout, "timeout", 5*time.Second, "connect and ping timeout")
	rootCmd.AddCommand(exportCmd, dbhealthCmd)
}
