// Package config provides configuration loading for rulebank.
package config

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/rulebank/internal/knowledge"
	"github.com/fyrsmithlabs/rulebank/internal/logging"
)

// Config is the root configuration.
type Config struct {
	Logging    logging.Config             `json:"logging" koanf:"logging"`
	Store      StoreConfig                `json:"store" koanf:"store"`
	Confidence knowledge.ConfidenceParams `json:"confidence" koanf:"confidence"`
	Validation knowledge.Thresholds       `json:"validation" koanf:"validation"`
	Sync       SyncConfig                 `json:"sync" koanf:"sync"`
	Prune      knowledge.PrunePolicy      `json:"prune" koanf:"prune"`
	Metrics    MetricsConfig              `json:"metrics" koanf:"metrics"`
	Sim        SimConfig                  `json:"sim" koanf:"sim"`
}

// StoreConfig configures rule persistence.
type StoreConfig struct {
	// DataDir holds the SQLite databases: <agent>.db per agent plus
	// global.db for the shared store.
	DataDir string `json:"data_dir" koanf:"data_dir"`

	// LockTimeout bounds per-rule lock waits before the store reports busy.
	LockTimeout time.Duration `json:"lock_timeout" koanf:"lock_timeout"`
}

// SyncConfig configures the knowledge synchronizer.
type SyncConfig struct {
	// Interval between background sync cycles.
	Interval time.Duration `json:"interval" koanf:"interval"`

	// SharingThreshold is the minimum confidence a validated rule needs
	// before it is shared globally.
	SharingThreshold float64 `json:"sharing_threshold" koanf:"sharing_threshold"`

	// Decay multiplies global confidences after each cycle; 0 disables.
	Decay float64 `json:"decay" koanf:"decay"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" koanf:"enabled"`
	Addr    string `json:"addr" koanf:"addr"`
}

// SimConfig configures the built-in simulation driver.
type SimConfig struct {
	// Agents is the number of concurrent agents.
	Agents int `json:"agents" koanf:"agents"`

	// Rounds is the number of simulation rounds to run.
	Rounds int `json:"rounds" koanf:"rounds"`

	// SyncEvery triggers a sync cycle every N rounds.
	SyncEvery int `json:"sync_every" koanf:"sync_every"`

	// Seed makes runs reproducible; 0 seeds from the clock.
	Seed int64 `json:"seed" koanf:"seed"`
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Store.DataDir == "" {
		cfg.Store.DataDir = defaultDataDir()
	}
	if cfg.Store.LockTimeout == 0 {
		cfg.Store.LockTimeout = time.Second
	}

	defaults := knowledge.DefaultConfidenceParams()
	if cfg.Confidence.InitialStep == 0 {
		cfg.Confidence.InitialStep = defaults.InitialStep
	}
	if cfg.Confidence.SuccessMultiplier == 0 {
		cfg.Confidence.SuccessMultiplier = defaults.SuccessMultiplier
	}
	if cfg.Confidence.FailurePenalty == 0 {
		cfg.Confidence.FailurePenalty = defaults.FailurePenalty
	}
	if cfg.Confidence.PartialSuccessFactor == 0 {
		cfg.Confidence.PartialSuccessFactor = defaults.PartialSuccessFactor
	}
	if cfg.Confidence.ConsistencyBonus == 0 {
		cfg.Confidence.ConsistencyBonus = defaults.ConsistencyBonus
	}

	thresholds := knowledge.DefaultThresholds()
	if cfg.Validation.MinConfidence == 0 {
		cfg.Validation.MinConfidence = thresholds.MinConfidence
	}
	if cfg.Validation.MinEvidenceCount == 0 {
		cfg.Validation.MinEvidenceCount = thresholds.MinEvidenceCount
	}
	if cfg.Validation.MinSuccessRate == 0 {
		cfg.Validation.MinSuccessRate = thresholds.MinSuccessRate
	}
	if cfg.Validation.RiskMargin == 0 {
		cfg.Validation.RiskMargin = thresholds.RiskMargin
	}
	if cfg.Validation.MaxComplexity == 0 {
		cfg.Validation.MaxComplexity = thresholds.MaxComplexity
	}
	if cfg.Validation.ComplexityConfidenceCap == 0 {
		cfg.Validation.ComplexityConfidenceCap = thresholds.ComplexityConfidenceCap
	}

	if cfg.Sync.Interval == 0 {
		cfg.Sync.Interval = 30 * time.Second
	}
	if cfg.Sync.SharingThreshold == 0 {
		cfg.Sync.SharingThreshold = 0.6
	}

	policy := knowledge.DefaultPrunePolicy()
	if cfg.Prune.MinAge == 0 {
		cfg.Prune.MinAge = policy.MinAge
	}
	if cfg.Prune.MaxConfidence == 0 {
		cfg.Prune.MaxConfidence = policy.MaxConfidence
	}
	if cfg.Prune.MinContradictionRatio == 0 {
		cfg.Prune.MinContradictionRatio = policy.MinContradictionRatio
	}

	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = "localhost:9090"
	}

	if cfg.Sim.Agents == 0 {
		cfg.Sim.Agents = 4
	}
	if cfg.Sim.Rounds == 0 {
		cfg.Sim.Rounds = 100
	}
	if cfg.Sim.SyncEvery == 0 {
		cfg.Sim.SyncEvery = 10
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return err
	}
	if c.Store.DataDir == "" {
		return fmt.Errorf("store.data_dir cannot be empty")
	}
	if c.Store.LockTimeout <= 0 {
		return fmt.Errorf("store.lock_timeout must be positive")
	}
	if err := c.Validation.Validate(); err != nil {
		return fmt.Errorf("validation: %w", err)
	}
	if c.Sync.Interval <= 0 {
		return fmt.Errorf("sync.interval must be positive")
	}
	if c.Sync.SharingThreshold < 0 || c.Sync.SharingThreshold > 1 {
		return fmt.Errorf("sync.sharing_threshold out of range: %v", c.Sync.SharingThreshold)
	}
	if c.Sync.Decay < 0 || c.Sync.Decay > 1 {
		return fmt.Errorf("sync.decay out of range: %v", c.Sync.Decay)
	}
	if c.Sim.Agents < 1 {
		return fmt.Errorf("sim.agents must be >= 1")
	}
	if c.Sim.Rounds < 1 {
		return fmt.Errorf("sim.rounds must be >= 1")
	}
	if c.Sim.SyncEvery < 1 {
		return fmt.Errorf("sim.sync_every must be >= 1")
	}
	return nil
}
