package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/observability"
	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/store"
	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/types"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the prospecting pipeline once and print the results",
		Long: `Runs the full pipeline synchronously: input processing -> deep research -> context merge -> competitor scouting -> ideation -> refinement -> assets -> knowledge capture.

Deliverables are written under the configured output directory.`,
		RunE: runPipelineCmd,
	}
	cmd.Flags().StringP("client", "c", "", "Client name (required)")
	cmd.Flags().String("history", "", "Path to a text file with past sales history")
	cmd.Flags().StringP("prompt", "p", "", "Extra research instructions")
	return cmd
}

func runPipelineCmd(cmd *cobra.Command, _ []string) error {
	client, _ := cmd.Flags().GetString("client")
	historyPath, _ := cmd.Flags().GetString("history")
	prompt, _ := cmd.Flags().GetString("prompt")

	req := types.ProspectRequest{ClientName: client, BaseResearchPrompt: prompt}
	if err := req.Validate(); err != nil {
		return errors.New("--client is required (1-200 characters)")
	}
	if historyPath != "" {
		data, err := os.ReadFile(historyPath)
		if err != nil {
			return fmt.Errorf("failed to read history file: %w", err)
		}
		req.PastSalesHistory = strings.TrimSpace(string(data))
	}

	settings, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	if settings.GeminiAPIKey == "" {
		return errors.New("GEMINI_API_KEY environment variable or gemini_api_key setting is required")
	}
	logger, err := newLogger(settings, true)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	a, err := newApp(cmd.Context(), settings, logger, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	printer := observability.NewPrinter(cmd.OutOrStdout())
	run, err := a.coordinator.RunSync(cmd.Context(), store.RunInput{
		ClientName:         req.ClientName,
		PastSalesHistory:   req.PastSalesHistory,
		BaseResearchPrompt: req.BaseResearchPrompt,
	}, printer.PrintProgress)
	if err != nil {
		return err
	}

	printer.PrintRunResult(run)
	if run.Status == store.StatusFailed {
		return fmt.Errorf("run %s failed: %s", run.ID, run.Error)
	}
	return nil
}
