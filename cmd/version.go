package cmd

import (
	"fmt"

	"github.com/kzbirding/ScrubJay-sub000/scrubjay"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of the application",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf(
			"version=%s commit=%s built: %s",
			scrubjay.Version,
			scrubjay.CommitSHA,
			scrubjay.BuildTime,
		)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
