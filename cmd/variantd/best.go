package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tendant/simple-variant/pkg/simplevariant"
)

var (
	bestWidth      int
	bestVariant    string
	bestPreferWebP bool
)

var bestCmd = &cobra.Command{
	Use:   "best <image-id>",
	Short: "Print the best URL for an image",
	Long: `Resolve the URL a client would receive for the image, repairing missing
variants on the way like the HTTP endpoint does.`,
	Args: cobra.ExactArgs(1),
	RunE: runBest,
}

func init() {
	bestCmd.Flags().IntVarP(&bestWidth, "width", "w", 0, "target display width in pixels")
	bestCmd.Flags().StringVar(&bestVariant, "variant", "", "preferred variant name")
	bestCmd.Flags().BoolVar(&bestPreferWebP, "prefer-webp", true, "prefer the webp variant")
}

func runBest(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid image id %q: %w", args[0], err)
	}

	rt, err := buildRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.Close()

	selection, err := rt.Service.BestURL(cmd.Context(), id, simplevariant.SelectRequest{
		Variant:       bestVariant,
		Width:         bestWidth,
		PreferCompact: bestPreferWebP,
	})
	if err != nil {
		return err
	}
	return writeOutput(cmd.OutOrStdout(), selection)
}
