// Package main implements the rulebank CLI for operating agent rule stores.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/rulebank/internal/config"
	"github.com/fyrsmithlabs/rulebank/internal/knowledge"
	"github.com/fyrsmithlabs/rulebank/internal/logging"
	"github.com/fyrsmithlabs/rulebank/internal/rulestore"
)

var (
	// configPath overrides the default config file location.
	configPath string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "rulebank",
	Short: "Operate the agent rule knowledge base",
	Long: `rulebank manages the experience-derived rule stores of a multi-agent
survival simulation: inspect rules, run synchronization cycles, prune dead
knowledge, and drive a built-in simulation.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default ~/.config/rulebank/config.yaml)")
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(pruneCmd)
	rootCmd.AddCommand(simCmd)
}

// loadConfig loads the effective configuration for a command.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the CLI logger from config.
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return logger, nil
}

// storePath resolves a store name ("global" or an agent ID) to its
// database file.
func storePath(cfg *config.Config, name string) string {
	return filepath.Join(cfg.Store.DataDir, name+".db")
}

// storeScope maps a store name to its scope.
func storeScope(name string) knowledge.Scope {
	if name == "global" {
		return knowledge.ScopeTotal
	}
	return knowledge.ScopeDirect
}

// openStore opens one named store.
func openStore(cfg *config.Config, name string, logger *zap.Logger) (*rulestore.SQLiteStore, error) {
	opts := knowledge.StoreOptions{
		Confidence:  cfg.Confidence,
		LockTimeout: cfg.Store.LockTimeout,
	}
	return rulestore.Open(storePath(cfg, name), storeScope(name), opts, logger)
}

// agentStoreNames lists the agent stores present in the data directory.
func agentStoreNames(cfg *config.Config) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(cfg.Store.DataDir, "*.db"))
	if err != nil {
		return nil, err
	}
	var names []string
	for _, m := range matches {
		name := strings.TrimSuffix(filepath.Base(m), ".db")
		if name == "global" {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}
