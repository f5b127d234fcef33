package main

import (
	"errors"
	"fmt"

	"github.com/radiusdt/leadgen-analytics/internal/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the PostgreSQL schema",
	RunE:  runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	if a.db == nil {
		return errors.New("migrate requires LEADGEN_DB_ENABLED=true")
	}

	n, err := storage.Migrate(cmd.Context(), a.db.Pool, a.logger)
	if err != nil {
		return err
	}
	a.logger.Info("migrations applied", zap.Int("count", n))
	fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", n)
	return nil
}
