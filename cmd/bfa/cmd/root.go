package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/boddenberg/tradedesk-bfa-go/internal/config"
	"github.com/boddenberg/tradedesk-bfa-go/internal/infra/observability"
)

var (
	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "bfa",
	Short: "Tradedesk BFA session and identity server",
	Long: `The Tradedesk back-for-frontend keeps each browser's Supabase session,
reconciles the signed-in principal with its CRM profile and guards
protected routes.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
			cfg.LogLevel = lvl
		}
		logger = observability.NewLogger(cfg.LogLevel)
		if !cfg.SupabaseConfigured() {
			logger.Error("supabase configuration not found",
				zap.Bool("url_set", cfg.SupabaseURL != ""),
				zap.Bool("anon_key_set", cfg.SupabaseAnonKey != ""),
			)
		}
		for _, w := range cfg.Warnings() {
			logger.Warn(w)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "", "Log level override (env: LOG_LEVEL)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
