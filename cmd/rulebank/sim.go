package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/rulebank/internal/config"
	"github.com/fyrsmithlabs/rulebank/internal/knowledge"
	"github.com/fyrsmithlabs/rulebank/internal/sim"
)

var simPersist bool

// simCmd runs the built-in multi-agent simulation.
var simCmd = &cobra.Command{
	Use:   "sim",
	Short: "Run the built-in multi-agent simulation",
	Long: `Drive the full pipeline with synthetic agents: candidates are mined from
a randomized world, outcomes recorded, and validated rules shared through
periodic sync cycles.

By default the simulation runs on in-memory stores; --persist writes each
agent's store and the global store to the data directory instead.

Examples:
  rulebank sim
  rulebank sim --persist`,
	RunE: runSim,
}

func init() {
	simCmd.Flags().BoolVar(&simPersist, "persist", false, "use SQLite stores in the data directory")
}

func runSim(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("metrics server failed", zap.Error(err))
			}
		}()
		defer srv.Close()
		logger.Info("metrics listening", zap.String("addr", cfg.Metrics.Addr))
	}

	seed := cfg.Sim.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	storeOpts := knowledge.StoreOptions{
		Confidence:  cfg.Confidence,
		LockTimeout: cfg.Store.LockTimeout,
	}

	global, err := newSimStore(cfg, "global", storeOpts, logger)
	if err != nil {
		return err
	}
	defer global.Close()

	synchronizer, err := knowledge.NewSynchronizer(global, logger,
		knowledge.WithSyncInterval(cfg.Sync.Interval),
		knowledge.WithSharingThreshold(cfg.Sync.SharingThreshold),
		knowledge.WithConfidenceDecay(cfg.Sync.Decay),
	)
	if err != nil {
		return err
	}

	updater := knowledge.NewConfidenceUpdater(cfg.Confidence)
	engine, err := knowledge.NewValidationEngine(cfg.Validation, updater, logger)
	if err != nil {
		return err
	}

	agents := make([]*sim.Agent, 0, cfg.Sim.Agents)
	for i := 0; i < cfg.Sim.Agents; i++ {
		agentID := fmt.Sprintf("agent-%d", i+1)
		store, err := newSimStore(cfg, agentID, storeOpts, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		svc, err := knowledge.NewService(store, updater, engine,
			knowledge.WithLogger(logger.With(zap.String("agent_id", agentID))))
		if err != nil {
			return err
		}
		if err := synchronizer.Register(agentID, store); err != nil {
			return err
		}

		agentSeed := seed + int64(i+1)
		agents = append(agents, sim.NewAgent(agentID, svc, sim.NewRandomMiner(agentSeed), agentSeed))
	}

	world := sim.NewTruthWorld(seed)
	driver, err := sim.NewDriver(cfg.Sim, world, synchronizer, agents, logger,
		sim.WithExplorationSignal(sim.NewEpsilonSignal(0.5, seed)))
	if err != nil {
		return err
	}
	if err := driver.Run(cmd.Context()); err != nil {
		return fmt.Errorf("simulation: %w", err)
	}

	stats, err := global.Stats(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("Global store after %d rounds: %d rules, mean confidence %.3f\n",
		cfg.Sim.Rounds, stats.TotalRules, stats.MeanConfidence)
	return nil
}

// newSimStore picks the store implementation for a simulation run.
func newSimStore(cfg *config.Config, name string, opts knowledge.StoreOptions, logger *zap.Logger) (knowledge.Store, error) {
	if simPersist {
		return openStore(cfg, name, logger)
	}
	return knowledge.NewMemoryStore(storeScope(name), opts), nil
}
