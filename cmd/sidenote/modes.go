package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/sidenote-dev/sidenote/internal/modes"
)

var modesCmd = &cobra.Command{
	Use:   "modes",
	Short: "Show discovery modes and whether each is enabled",
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, err := modes.NewRegistry(cfg.DisabledModes, cfg.MaxItemsPerMode)
		if err != nil {
			return err
		}

		green := color.New(color.FgGreen).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		for _, m := range registry.List() {
			state := green("on ")
			if !registry.IsEnabled(m.ID) {
				state = gray("off")
			}
			label := color.New(m.Color).Sprint(m.Label)
			fmt.Printf("%s  %-14s %s\n", state, label, gray(m.Lens))
			fmt.Printf("    %s\n", gray(fmt.Sprintf("id: %s · up to %d per turn", m.ID, m.MaxItems)))
		}
		fmt.Printf("\n%s\n", gray("Disable modes with disabled_modes in config.yaml."))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(modesCmd)
}
