package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/goliatone/go-igauth"
	"github.com/goliatone/go-igauth/repository"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.DatabaseDSN == "" {
				return &igauth.ConfigError{Field: "DATABASE_DSN", Reason: "cannot be blank"}
			}

			db, err := repository.Open(cmd.Context(), cfg.DatabaseDSN)
			if err != nil {
				return err
			}
			defer db.Close()

			versions, err := repository.Migrate(cmd.Context(), db)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(versions) == 0 {
				fmt.Fprintln(out, "database is up to date")
				return nil
			}
			for _, v := range versions {
				fmt.Fprintf(out, "applied migration %05d\n", v)
			}
			return nil
		},
	}
}
