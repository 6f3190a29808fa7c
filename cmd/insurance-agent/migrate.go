package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/PabloGalante/insurance-agent/internal/adapters/retrieval"
	"github.com/PabloGalante/insurance-agent/internal/adapters/sqlitedb"
)

var migrateSeed bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply schema migrations to the sqlite databases",
	Long: `migrate applies pending migrations to the session database and the
knowledge database named in the configuration, whichever backends use sqlite.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		var paths []string
		if cfg.Storage.Backend == "sqlite" {
			paths = append(paths, cfg.Storage.SQLitePath)
		}
		if cfg.Retrieval.Backend == "sqlite" && cfg.Retrieval.SQLitePath != cfg.Storage.SQLitePath {
			paths = append(paths, cfg.Retrieval.SQLitePath)
		}
		if len(paths) == 0 {
			fmt.Fprintln(out, "no sqlite backend configured")
			return nil
		}

		for _, path := range paths {
			db, err := sqlitedb.Connect(ctx, path)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			applied, err := sqlitedb.Migrate(ctx, db)
			if err == nil {
				fmt.Fprintf(out, "%s: applied %v\n", path, applied)
			}
			if err == nil && migrateSeed && path == cfg.Retrieval.SQLitePath {
				var n int
				n, err = retrieval.NewSQLiteRetriever(db).SeedIfEmpty(ctx, retrieval.DefaultPassages())
				if err == nil {
					fmt.Fprintf(out, "%s: seeded %d passages\n", path, n)
				}
			}
			db.Close()
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
		}
		return nil
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateSeed, "seed", false, "seed an empty knowledge index with the overview passages")
}
