package main

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/memory"
)

func newMemoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect the semantic memory of past plays and clients",
	}

	query := &cobra.Command{
		Use:   "query",
		Short: "Find the closest stored documents to a text",
		RunE:  runMemoryQuery,
	}
	query.Flags().String("collection", memory.CollectionPlays, "Collection to search ("+memory.CollectionPlays+" or "+memory.CollectionClients+")")
	query.Flags().String("text", "", "Query text (required)")
	query.Flags().Int("k", memory.DefaultResults, "Number of matches")
	_ = query.MarkFlagRequired("text")

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Print document counts per collection",
		RunE:  runMemoryStats,
	}

	cmd.AddCommand(query, stats)
	return cmd
}

func openMemory(cmd *cobra.Command) (*memory.SQLiteStore, error) {
	settings, err := loadSettings(cmd)
	if err != nil {
		return nil, err
	}
	return memory.NewSQLiteStore(memory.Config{DataDir: settings.MemoryDir})
}

func runMemoryQuery(cmd *cobra.Command, _ []string) error {
	collection, _ := cmd.Flags().GetString("collection")
	text, _ := cmd.Flags().GetString("text")
	k, _ := cmd.Flags().GetInt("k")
	if collection != memory.CollectionPlays && collection != memory.CollectionClients {
		return fmt.Errorf("unknown collection %q", collection)
	}
	if k < 1 {
		return fmt.Errorf("--k must be positive, got %d", k)
	}

	store, err := openMemory(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	matches, err := store.Query(cmd.Context(), collection, text, k)
	if err != nil {
		return err
	}
	if matches == nil {
		matches = []memory.Match{}
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(matches)
}

func runMemoryStats(cmd *cobra.Command, _ []string) error {
	store, err := openMemory(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	stats, err := store.Stats(cmd.Context())
	if err != nil {
		return err
	}
	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%-20s %d\n", name, stats[name]); err != nil {
			return err
		}
	}
	return nil
}
