package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statsStore string

// statsCmd summarizes a store's contents.
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize a rule store",
	Long: `Print rule counts by status and type plus the mean confidence of a store.

Examples:
  # Global store
  rulebank stats

  # One agent's store
  rulebank stats --store agent-7`,
	RunE: runStats,
}

func init() {
	statsCmd.Flags().StringVar(&statsStore, "store", "global", "store name (global or an agent ID)")
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	store, err := openStore(cfg, statsStore, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	stats, err := store.Stats(cmd.Context())
	if err != nil {
		return fmt.Errorf("reading stats: %w", err)
	}

	fmt.Printf("Store: %s (%s)\n", statsStore, stats.Scope)
	fmt.Printf("Total rules: %d\n", stats.TotalRules)
	fmt.Printf("Mean confidence: %.3f\n", stats.MeanConfidence)
	fmt.Println("By status:")
	for status, count := range stats.ByStatus {
		fmt.Printf("  %-10s %d\n", status, count)
	}
	fmt.Println("By type:")
	for ruleType, count := range stats.ByType {
		fmt.Printf("  %-18s %d\n", ruleType, count)
	}
	return nil
}
