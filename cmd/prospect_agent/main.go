// Package main provides the prospect_agent CLI: the HTTP API server, one-off
// synchronous runs, and memory and token utilities.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "prospect_agent",
		Short:         "Deep Prospecting Engine",
		Long:          "Researches a client account, drafts AI sales plays backed by competitor evidence and past wins, and writes one-pagers and a strategic plan.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "Path to a YAML or JSON settings file")

	root.AddCommand(newServeCmd(), newRunCmd(), newMemoryCmd(), newTokenCmd())
	return root
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
