package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/sidenote-dev/sidenote/internal/storage"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List, fork, or delete chat sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return listSessions(cmd.Context())
	},
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions, most recently active first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return listSessions(cmd.Context())
	},
}

var sessionsForkCmd = &cobra.Command{
	Use:   "fork <id>",
	Short: "Copy a session's transcript and notes into a new session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		title, _ := cmd.Flags().GetString("title")

		store, err := storage.New(cfg.DBPath(), log)
		if err != nil {
			return err
		}
		defer store.Close()

		fork, err := store.ForkSession(cmd.Context(), args[0], title)
		if err != nil {
			return err
		}
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Forked into %q (%s)\n", green("✓"), fork.Title, fork.ID)
		return nil
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a session, its transcript, and its notes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := storage.New(cfg.DBPath(), log)
		if err != nil {
			return err
		}
		defer store.Close()

		sess, err := store.GetSession(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if err := store.DeleteSession(cmd.Context(), sess.ID); err != nil {
			return err
		}
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Deleted %q\n", green("✓"), sess.Title)
		return nil
	},
}

func init() {
	sessionsForkCmd.Flags().String("title", "", "title for the fork (default: original title + \" (fork)\")")
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsForkCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func listSessions(ctx context.Context) error {
	store, err := storage.New(cfg.DBPath(), log)
	if err != nil {
		return err
	}
	defer store.Close()

	sessions, err := store.ListSessions(ctx)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions yet. Run 'sidenote' to start chatting.")
		return nil
	}

	gray := color.New(color.FgHiBlack).SprintFunc()
	for i, sess := range sessions {
		notes, err := store.CountItems(ctx, sess.ID)
		if err != nil {
			return err
		}
		line := fmt.Sprintf("%2d. %s", i+1, sess.Title)
		meta := fmt.Sprintf("%s · %s", sess.ID, sess.UpdatedAt.Format("2006-01-02 15:04"))
		if notes > 0 {
			meta += fmt.Sprintf(" · %d notes", notes)
		}
		if sess.ForkedFrom != "" {
			meta += " · fork"
		}
		fmt.Fprintf(os.Stdout, "%s\n    %s\n", line, gray(meta))
	}
	return nil
}
