package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/rulebank/internal/knowledge"
)

var (
	rulesStore   string
	rulesStatus  string
	rulesType    string
	rulesCreator string
	rulesLimit   int
	rulesAsJSON  bool
	rulesMinConf float64
)

// rulesCmd lists rules in a store.
var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "List rules in a store",
	Long: `List rules matching the given filters, newest first.

Examples:
  # Validated rules in the global store
  rulebank rules --status validated

  # One agent's threat-avoidance rules as JSON
  rulebank rules --store agent-3 --type threat-avoidance --json`,
	RunE: runRules,
}

func init() {
	rulesCmd.Flags().StringVar(&rulesStore, "store", "global", "store name (global or an agent ID)")
	rulesCmd.Flags().StringVar(&rulesStatus, "status", "", "filter by status (candidate, validated, rejected)")
	rulesCmd.Flags().StringVar(&rulesType, "type", "", "filter by rule type")
	rulesCmd.Flags().StringVar(&rulesCreator, "creator", "", "filter by creator agent ID")
	rulesCmd.Flags().Float64Var(&rulesMinConf, "min-confidence", 0, "minimum confidence")
	rulesCmd.Flags().IntVar(&rulesLimit, "limit", 50, "maximum rules to list (0 for all)")
	rulesCmd.Flags().BoolVar(&rulesAsJSON, "json", false, "emit JSON instead of a table")
}

func runRules(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	store, err := openStore(cfg, rulesStore, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	rules, err := store.Query(cmd.Context(), knowledge.Filter{
		CreatorID:     rulesCreator,
		RuleType:      knowledge.RuleType(rulesType),
		Status:        knowledge.ValidationStatus(rulesStatus),
		MinConfidence: rulesMinConf,
		Limit:         rulesLimit,
	})
	if err != nil {
		return fmt.Errorf("querying rules: %w", err)
	}

	if rulesAsJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rules)
	}

	fmt.Printf("%-36s  %-18s  %-10s  %5s  %4s/%-4s  %s\n",
		"RULE ID", "TYPE", "STATUS", "CONF", "SUP", "CON", "CREATOR")
	for _, r := range rules {
		fmt.Printf("%-36s  %-18s  %-10s  %.3f  %4d/%-4d  %s\n",
			r.RuleID, r.RuleType, r.ValidationStatus, r.Confidence,
			r.SupportCount, r.ContradictionCount, r.CreatorID)
	}
	fmt.Printf("\n%d rule(s)\n", len(rules))
	return nil
}
