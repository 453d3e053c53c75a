package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var generateCmd = &cobra.Command{
	Use:   "generate <image-id> [variant...]",
	Short: "Regenerate variants of an image",
	Long:  `Regenerate the named variants of an image, or every catalog variant when none are given.`,
	Args:  cobra.MinimumNArgs(1),
	RunE:  runGenerate,
}

func runGenerate(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid image id %q: %w", args[0], err)
	}

	rt, err := buildRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.Close()

	assets, err := rt.Service.Regenerate(cmd.Context(), id, args[1:]...)
	if err != nil {
		return err
	}
	return writeOutput(cmd.OutOrStdout(), assets)
}
