package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is the build version, overridable at link time:
//
//	go build -ldflags "-X main.version=0.4.0"
var version = "0.3.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the sidenote version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("sidenote %s\n", version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
