package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/mod/semver"

	"github.com/sidenote-dev/sidenote/internal/config"
	"github.com/sidenote-dev/sidenote/internal/storage"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the sidenote installation and environment",
	Long: `Run health checks to diagnose common sidenote setup issues.

This command checks:
- The sidenote home directory
- The config file (and prints a starter config if none exists)
- The ANTHROPIC_API_KEY environment variable
- The sessions database
- The diagnostics log directory
- The minimum-version floor, when config pins one

Exit codes:
  0 - All checks passed
  1 - One or more checks failed
  2 - Critical failures that prevent sidenote from running`,
	Run: func(cmd *cobra.Command, args []string) {
		verbose, _ := cmd.Flags().GetBool("verbose")

		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		cyan := color.New(color.FgCyan).SprintFunc()

		fmt.Printf("Running sidenote health checks...\n\n")

		var failures []string
		var warnings []string
		var criticalFailures []string

		// Check 1: home directory
		fmt.Printf("%s Home directory\n", cyan("→"))
		if info, err := os.Stat(cfg.Home); err != nil {
			fmt.Printf("  %s %s does not exist yet (created on first chat)\n", green("✓"), cfg.Home)
		} else if !info.IsDir() {
			criticalFailures = append(criticalFailures, fmt.Sprintf("%s exists but is not a directory", cfg.Home))
			fmt.Printf("  %s %s exists but is not a directory\n", red("✗"), cfg.Home)
		} else {
			fmt.Printf("  %s %s\n", green("✓"), cfg.Home)
		}

		// Check 2: config file
		fmt.Printf("%s Config file\n", cyan("→"))
		configPath := filepath.Join(cfg.Home, "config.yaml")
		if _, err := os.Stat(configPath); err != nil {
			fmt.Printf("  %s No config file; built-in defaults are in use\n", green("✓"))
			fmt.Printf("    To customize, create %s\n", configPath)
			if verbose {
				fmt.Printf("\n%s\n", indent(config.ExampleFile(), "    "))
			} else {
				fmt.Printf("    (sidenote doctor --verbose prints a starter config)\n")
			}
		} else {
			// PersistentPreRunE already parsed and validated it.
			fmt.Printf("  %s %s parsed and valid\n", green("✓"), configPath)
		}
		if verbose {
			fmt.Printf("    chat model: %s\n", cfg.ChatModel)
			fmt.Printf("    eval model: %s\n", cfg.EvalModel)
		}

		// Check 3: API key
		fmt.Printf("%s Environment variables\n", cyan("→"))
		if apiKey := os.Getenv(config.EnvAPIKey); apiKey == "" {
			failures = append(failures, "ANTHROPIC_API_KEY not set")
			fmt.Printf("  %s ANTHROPIC_API_KEY not set\n", red("✗"))
			fmt.Printf("    Chat and discovery need it; export or sessions commands do not\n")
		} else {
			fmt.Printf("  %s ANTHROPIC_API_KEY is set\n", green("✓"))
			if verbose && len(apiKey) > 14 {
				fmt.Printf("    Key: %s...%s\n", apiKey[:10], apiKey[len(apiKey)-4:])
			}
		}

		// Check 4: database
		fmt.Printf("%s Sessions database\n", cyan("→"))
		dbPath := cfg.DBPath()
		if _, err := os.Stat(dbPath); err != nil {
			fmt.Printf("  %s %s does not exist yet (created on first chat)\n", green("✓"), dbPath)
		} else if store, err := storage.New(dbPath, log); err != nil {
			criticalFailures = append(criticalFailures, fmt.Sprintf("cannot open database: %v", err))
			fmt.Printf("  %s Cannot open %s\n", red("✗"), dbPath)
			if verbose {
				fmt.Printf("    Error: %v\n", err)
			}
		} else {
			sessions, err := store.ListSessions(cmd.Context())
			if err != nil {
				failures = append(failures, fmt.Sprintf("cannot query sessions: %v", err))
				fmt.Printf("  %s Cannot query sessions\n", red("✗"))
			} else {
				fmt.Printf("  %s %s holds %d session(s)\n", green("✓"), dbPath, len(sessions))
			}
			store.Close()
		}

		// Check 5: log directory
		fmt.Printf("%s Diagnostics log\n", cyan("→"))
		logDir := filepath.Dir(cfg.LogPath())
		if err := os.MkdirAll(logDir, 0755); err != nil {
			warnings = append(warnings, fmt.Sprintf("cannot create log directory: %v", err))
			fmt.Printf("  %s Cannot create %s\n", yellow("⚠"), logDir)
		} else {
			fmt.Printf("  %s %s\n", green("✓"), cfg.LogPath())
		}

		// Check 6: minimum-version floor
		if cfg.MinVersion != "" {
			fmt.Printf("%s Version floor\n", cyan("→"))
			current := "v" + strings.TrimPrefix(version, "v")
			if !semver.IsValid(current) {
				warnings = append(warnings, fmt.Sprintf("cannot compare build version %q against min_version", version))
				fmt.Printf("  %s Build version %q is not semver; skipping check\n", yellow("⚠"), version)
			} else if semver.Compare(current, cfg.MinVersion) < 0 {
				failures = append(failures, fmt.Sprintf("sidenote %s is older than the pinned minimum %s", version, cfg.MinVersion))
				fmt.Printf("  %s This build (%s) is older than min_version %s\n", red("✗"), version, cfg.MinVersion)
			} else {
				fmt.Printf("  %s %s satisfies min_version %s\n", green("✓"), current, cfg.MinVersion)
			}
		}

		// Summary
		fmt.Printf("\n%s\n", strings.Repeat("─", 60))

		total := len(criticalFailures) + len(failures) + len(warnings)
		if total == 0 {
			fmt.Printf("%s All checks passed. sidenote is ready.\n", green("✓"))
			return
		}

		if len(criticalFailures) > 0 {
			fmt.Printf("\n%s Critical failures (%d):\n", red("✗"), len(criticalFailures))
			for _, f := range criticalFailures {
				fmt.Printf("  • %s\n", f)
			}
		}
		if len(failures) > 0 {
			fmt.Printf("\n%s Failures (%d):\n", red("✗"), len(failures))
			for _, f := range failures {
				fmt.Printf("  • %s\n", f)
			}
		}
		if len(warnings) > 0 {
			fmt.Printf("\n%s Warnings (%d):\n", yellow("⚠"), len(warnings))
			for _, w := range warnings {
				fmt.Printf("  • %s\n", w)
			}
		}

		if len(criticalFailures) > 0 {
			os.Exit(2)
		}
		if len(failures) > 0 {
			os.Exit(1)
		}
	},
}

func init() {
	doctorCmd.Flags().BoolP("verbose", "v", false, "Show detailed diagnostic information")
	rootCmd.AddCommand(doctorCmd)
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}
