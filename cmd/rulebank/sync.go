package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/rulebank/internal/knowledge"
)

// syncCmd runs one synchronization cycle over all agent stores.
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one synchronization cycle",
	Long: `Merge validated rules from every agent store in the data directory into
the global store, honoring the configured sharing threshold.

Examples:
  rulebank sync`,
	RunE: runSync,
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	global, err := openStore(cfg, "global", logger)
	if err != nil {
		return err
	}
	defer global.Close()

	sync, err := knowledge.NewSynchronizer(global, logger,
		knowledge.WithSyncInterval(cfg.Sync.Interval),
		knowledge.WithSharingThreshold(cfg.Sync.SharingThreshold),
		knowledge.WithConfidenceDecay(cfg.Sync.Decay),
	)
	if err != nil {
		return err
	}

	names, err := agentStoreNames(cfg)
	if err != nil {
		return fmt.Errorf("listing agent stores: %w", err)
	}
	if len(names) == 0 {
		fmt.Println("No agent stores found.")
		return nil
	}

	for _, name := range names {
		direct, err := openStore(cfg, name, logger)
		if err != nil {
			return err
		}
		defer direct.Close()
		if err := sync.Register(name, direct); err != nil {
			return err
		}
	}

	result, err := sync.RunCycle(cmd.Context())
	if err != nil {
		return fmt.Errorf("sync cycle: %w", err)
	}

	fmt.Printf("Agents: %d\n", result.Agents)
	fmt.Printf("Rules shared: %d (inserted %d, merged %d, conflicts %d)\n",
		result.Shared, result.Inserted, result.Merged, result.Conflicts)
	fmt.Printf("Duration: %s\n", result.Duration)
	return nil
}
