// Package cli implements the newsletter command line.
//
// This file holds the migrate command, which creates or updates the schema.
package cli

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tbourn/go-newsletter/internal/repo"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB(rootOpts.Config)
			if err != nil {
				return err
			}
			defer closeDB(db)
			if err := repo.AutoMigrate(db); err != nil {
				return err
			}
			log.Info().Str("driver", rootOpts.Config.Database.Driver).Msg("schema migrated")
			return nil
		},
	}
}
