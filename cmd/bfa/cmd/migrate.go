package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/boddenberg/tradedesk-bfa-go/internal/infra/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long: `Creates the profiles table and the sign-up provisioning trigger in the
database named by DATABASE_URL.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required")
		}
		db, err := postgres.Open(cmd.Context(), cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()

		return postgres.Migrate(cmd.Context(), db, logger)
	},
}
