package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var pruneStore string

// pruneCmd applies the pruning policy to a store.
var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete dead rules from a store",
	Long: `Apply the configured pruning policy: rules old enough, at or below the
confidence ceiling, and with a high enough contradiction ratio are deleted.

Examples:
  rulebank prune
  rulebank prune --store agent-2`,
	RunE: runPrune,
}

func init() {
	pruneCmd.Flags().StringVar(&pruneStore, "store", "global", "store name (global or an agent ID)")
}

func runPrune(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	store, err := openStore(cfg, pruneStore, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	pruned, err := store.Prune(cmd.Context(), cfg.Prune)
	if err != nil {
		return fmt.Errorf("pruning: %w", err)
	}

	fmt.Printf("Pruned %d rule(s) from %s\n", pruned, pruneStore)
	return nil
}
