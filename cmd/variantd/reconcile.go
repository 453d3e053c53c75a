package main

import (
	"github.com/spf13/cobra"
)

var forceReconcile bool

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run one reconciliation pass",
	Long: `Find images whose variants do not cover the catalog and regenerate the
missing ones. Without --force the pass is skipped when the service saw a
request within the idle threshold; a one-shot process never does, so the
pass always runs.`,
	RunE: runReconcile,
}

func init() {
	reconcileCmd.Flags().BoolVar(&forceReconcile, "force", false, "ignore the idle threshold")
}

func runReconcile(cmd *cobra.Command, args []string) error {
	rt, err := buildRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.Close()

	summary, err := rt.Reconciler.RunOnce(cmd.Context(), forceReconcile)
	if err != nil {
		return err
	}
	return writeOutput(cmd.OutOrStdout(), summary)
}
