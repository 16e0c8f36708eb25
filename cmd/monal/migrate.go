package main

import (
	"errors"

	"github.com/DaNaRim/monal-money-analyzer-sub000/internal/storage"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		pg, ok := a.postgres()
		if !ok {
			return errors.New("migrate requires db.driver=postgres")
		}

		if err := storage.RunMigrations(cmd.Context(), pg.DB()); err != nil {
			return err
		}

		a.log.Info("migrations applied")

		return nil
	},
}
