// sidenote is a terminal chat client that quietly collects discovery
// notes in the margin of the conversation.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sidenote-dev/sidenote/internal/config"
	"github.com/sidenote-dev/sidenote/internal/logging"
)

// Shared state for all commands, initialized by the root command's
// PersistentPreRunE before any Run fires.
var (
	cfg *config.Config
	log *zap.Logger

	homeFlag  string
	debugFlag bool
)

var rootCmd = &cobra.Command{
	Use:   "sidenote",
	Short: "Chat in the terminal while discoveries collect in the margin",
	Long: `sidenote is an interactive terminal chat client. While you talk,
background discovery turns read each exchange through several lenses
(connections, counterpoints, sources to go deeper, tangents) and pin
whatever they find beside the conversation as sidenotes.

Running sidenote with no arguments opens the chat.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		home, err := config.ResolveHome(homeFlag)
		if err != nil {
			return err
		}
		cfg, err = config.Load(home)
		if err != nil {
			return err
		}
		if debugFlag {
			cfg.Debug = true
		}
		log = logging.New(cfg.LogPath(), cfg.Debug)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			_ = log.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&homeFlag, "home", "",
		"sidenote home directory (default $SIDENOTE_HOME or ~/.sidenote)")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false,
		"enable debug diagnostics in the log file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
