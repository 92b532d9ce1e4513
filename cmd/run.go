package cmd

import (
	"log"

	"github.com/kzbirding/ScrubJay-sub000/scrubjay"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [flags]",
	Short: "Starts the ScrubJay bot and (optionally) the status API",
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()
		sj, err := scrubjay.New(ctx, cfg)
		if err != nil {
			log.Fatalf("error creating scrubjay: %s", err.Error())
		}

		if err = sj.Run(ctx); err != nil {
			log.Fatalf("error running scrubjay: %s", err.Error())
		}
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
