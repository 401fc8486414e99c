package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joshsymonds/triage/internal/config"
	"github.com/joshsymonds/triage/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:       "migrate <up|down|version>",
	Short:     "Manage the Postgres rule schema",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"up", "down", "version"},
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Store.Kind != config.StorePostgres {
			return errors.New("migrate needs store.kind = postgres")
		}
		db, err := store.OpenPostgres(cmd.Context(), cfg.Store.DSN)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		out := cmd.OutOrStdout()
		switch args[0] {
		case "up":
			if err := store.MigrateUp(db.DB, logger); err != nil {
				return err
			}
		case "down":
			if err := store.MigrateDown(db.DB, logger); err != nil {
				return err
			}
		case "version":
		default:
			return fmt.Errorf("unknown migrate command %q", args[0])
		}
		version, dirty, err := store.MigrationVersion(db.DB)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "schema version %d (dirty=%t)\n", version, dirty)
		return err
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
