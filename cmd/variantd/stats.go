package main

import (
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show variant coverage statistics",
	Long:  `Show how many originals have each catalog variant and the size of the stored assets.`,
	RunE:  runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	rt, err := buildRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.Close()

	stats, err := rt.Service.Stats(cmd.Context())
	if err != nil {
		return err
	}
	return writeOutput(cmd.OutOrStdout(), stats)
}
