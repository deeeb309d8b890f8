// Package cli is the auditctl command tree.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/audit-reports/internal/app"
	"github.com/joseph-ayodele/audit-reports/internal/common"
)

var (
	configPath string
	logLevel   string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:           "auditctl",
	Short:         "Ingest, normalize and review audit reports",
	Long:          `auditctl drives the audit report pipeline from the command line: uploads, the review queue, keyword taxonomy and exports.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (overrides AUDIT_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print results as JSON")
}

// Execute runs the command tree with os.Args.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}

func loadConfig() (*common.Config, error) {
	if configPath != "" {
		if err := os.Setenv("AUDIT_CONFIG", configPath); err != nil {
			return nil, err
		}
	}
	cfg, err := common.LoadConfig()
	if err != nil {
		return nil, err
	}
	cfg.Log.Format = "text"
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

// withApp builds the services, bootstraps the schema and runs fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cmd, cfg)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, _ = common.EnsureRequestID(ctx)

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.Migrate(ctx); err != nil {
		return fmt.Errorf("schema bootstrap: %w", err)
	}
	return fn(ctx, a)
}

func newLogger(cmd *cobra.Command, cfg *common.Config) *slog.Logger {
	return common.NewLogger(cfg.Log, cmd.ErrOrStderr())
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
