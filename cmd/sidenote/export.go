package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/sidenote-dev/sidenote/internal/export"
	"github.com/sidenote-dev/sidenote/internal/modes"
	"github.com/sidenote-dev/sidenote/internal/storage"
)

var exportCmd = &cobra.Command{
	Use:   "export <id>",
	Short: "Export a session as Markdown",
	Long: `Export one session as a Markdown document: the transcript with each
exchange's sidenotes inlined after it. Writes to stdout unless -o is given.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		outPath, _ := cmd.Flags().GetString("output")
		ctx := cmd.Context()

		store, err := storage.New(cfg.DBPath(), log)
		if err != nil {
			return err
		}
		defer store.Close()

		sess, err := store.GetSession(ctx, args[0])
		if err != nil {
			return err
		}
		msgs, err := store.GetMessages(ctx, sess.ID)
		if err != nil {
			return err
		}
		items, err := store.GetItems(ctx, sess.ID)
		if err != nil {
			return err
		}

		// The full registry, ignoring disabled_modes: stored items keep
		// their labels even after their mode is switched off.
		registry, err := modes.NewRegistry(nil, 0)
		if err != nil {
			return err
		}

		if outPath == "" {
			return export.Markdown(os.Stdout, sess, msgs, items, registry)
		}

		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("creating %s: %w", outPath, err)
		}
		if err := export.Markdown(f, sess, msgs, items, registry); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("closing %s: %w", outPath, err)
		}

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Exported %q to %s\n", green("✓"), sess.Title, outPath)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringP("output", "o", "", "write to this file instead of stdout")
	rootCmd.AddCommand(exportCmd)
}
