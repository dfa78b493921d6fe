package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "qa",
	Short: "PlayProbe QA Agent - Automated game playability testing",
	Long: `PlayProbe QA Agent drives web-based games through an automated
play session: it navigates to the game, decides inputs via heuristics and
a vision model, detects stuck states, recovers, and produces a playability
report with full evidence.`,
	Version: version,
}

func init() {
	rootCmd.AddCommand(testCmd)
}
