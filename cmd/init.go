package cmd

import (
	"fmt"
	"log"

	"github.com/kzbirding/ScrubJay-sub000/scrubjay"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the database and run migrations",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		if cfg.DatabaseType == "" {
			log.Fatal("SJ_DATABASE_TYPE not set (must be one of: sqlite, postgres)")
		}
		if cfg.Database == "" {
			log.Fatal(
				"SJ_DATABASE not set (must be a valid database " +
					"connection string or sqlite file path)",
			)
		}
		if _, err := scrubjay.CreateDB(
			ctx,
			cfg.DatabaseType,
			cfg.Database,
		); err != nil {
			log.Fatalf("Error creating database: %v", err)
		}

		fmt.Fprintln(
			cmd.OutOrStdout(),
			"Initialization complete. You can now start the bot with the 'run' subcommand.",
		)
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
