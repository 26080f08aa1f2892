// Package sim runs a self-contained multi-agent simulation against the
// knowledge base: agents mine candidates from a synthetic world, record
// outcomes, and periodically share validated rules through the
// synchronizer. It exists to exercise the full pipeline end to end and to
// drive load in development.
package sim

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/rulebank/internal/config"
	"github.com/fyrsmithlabs/rulebank/internal/knowledge"
)

// Miner produces rule candidates from an agent's experience stream.
type Miner interface {
	Mine(agentID string, round int) *knowledge.RuleCandidate
}

// World resolves what actually happens when an agent acts on a rule.
type World interface {
	Observe(r *knowledge.Rule) (deltas map[string]float64, survival knowledge.SurvivalStatus)
}

// ExplorationSignal decides, per agent and round, whether the agent spends
// the round exploring (mining a fresh candidate) or exploiting its best
// applicable rule.
type ExplorationSignal interface {
	Explore(agentID string, round int) bool
}

// Agent couples one simulated agent with its knowledge service.
type Agent struct {
	ID      string
	Service *knowledge.Service
	miner   Miner
	rng     *rand.Rand
}

// defaultExploreRate balances candidate mining against rule exploitation
// when no explicit signal is configured.
const defaultExploreRate = 0.5

// Driver runs the round-based simulation loop.
type Driver struct {
	cfg    config.SimConfig
	world  World
	sync   *knowledge.Synchronizer
	signal ExplorationSignal
	agents []*Agent
	logger *zap.Logger
}

// DriverOption configures a Driver.
type DriverOption func(*Driver)

// WithExplorationSignal sets the explore-vs-exploit policy. Defaults to an
// epsilon signal at rate 0.5 seeded from the simulation seed.
func WithExplorationSignal(signal ExplorationSignal) DriverOption {
	return func(d *Driver) {
		if signal != nil {
			d.signal = signal
		}
	}
}

// NewDriver creates a driver over pre-built agents. The synchronizer may be
// nil, in which case rounds run without sharing.
func NewDriver(cfg config.SimConfig, world World, sync *knowledge.Synchronizer, agents []*Agent, logger *zap.Logger, opts ...DriverOption) (*Driver, error) {
	if world == nil {
		return nil, fmt.Errorf("world cannot be nil")
	}
	if len(agents) == 0 {
		return nil, fmt.Errorf("at least one agent required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Driver{
		cfg:    cfg,
		world:  world,
		sync:   sync,
		agents: agents,
		logger: logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.signal == nil {
		d.signal = NewEpsilonSignal(defaultExploreRate, cfg.Seed)
	}
	return d, nil
}

// NewAgent builds a simulated agent with its own deterministic random
// stream.
func NewAgent(id string, svc *knowledge.Service, miner Miner, seed int64) *Agent {
	return &Agent{
		ID:      id,
		Service: svc,
		miner:   miner,
		rng:     rand.New(rand.NewSource(seed)),
	}
}

// Run executes the configured number of rounds. All agents act
// concurrently within a round; a sync cycle runs every SyncEvery rounds.
func (d *Driver) Run(ctx context.Context) error {
	start := time.Now()
	d.logger.Info("simulation starting",
		zap.Int("agents", len(d.agents)),
		zap.Int("rounds", d.cfg.Rounds),
		zap.Int("sync_every", d.cfg.SyncEvery),
	)

	for round := 1; round <= d.cfg.Rounds; round++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, agent := range d.agents {
			g.Go(func() error {
				return d.step(gctx, agent, round)
			})
		}
		if err := g.Wait(); err != nil {
			return fmt.Errorf("round %d: %w", round, err)
		}

		if d.sync != nil && round%d.cfg.SyncEvery == 0 {
			if _, err := d.sync.RunCycle(ctx); err != nil {
				// Sharing failures never stop the simulation.
				d.logger.Warn("sync cycle failed", zap.Int("round", round), zap.Error(err))
			}
		}
	}

	d.logger.Info("simulation finished",
		zap.Int("rounds", d.cfg.Rounds),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

// step runs one agent's turn. The exploration signal picks the round's
// mode: exploring agents mine and ingest a fresh candidate; exploiting
// agents act on their best applicable rule and record the observed
// outcome.
func (d *Driver) step(ctx context.Context, agent *Agent, round int) error {
	if d.signal.Explore(agent.ID, round) {
		candidate := agent.miner.Mine(agent.ID, round)
		if candidate == nil {
			return nil
		}
		if _, err := agent.Service.IngestCandidate(ctx, candidate); err != nil {
			// Malformed candidates are a miner bug worth surfacing; anything
			// else is transient.
			d.logger.Warn("candidate rejected",
				zap.String("agent_id", agent.ID),
				zap.Int("round", round),
				zap.Error(err))
		}
		return nil
	}

	situation := d.situation(agent)
	rules, err := agent.Service.LookupApplicableRules(ctx, situation)
	if err != nil {
		return fmt.Errorf("agent %s lookup: %w", agent.ID, err)
	}
	if len(rules) == 0 {
		return nil
	}

	best := rules[0]
	deltas, survival := d.world.Observe(best)
	outcome := knowledge.StandardOutcome(deltas, survival)
	if err := agent.Service.RecordOutcome(ctx, best.RuleID, outcome.Evidence(deltas, survival)); err != nil {
		return fmt.Errorf("agent %s outcome: %w", agent.ID, err)
	}
	return nil
}

// situation samples the agent's current predicate view of the world.
func (d *Driver) situation(agent *Agent) knowledge.Predicates {
	env := environments[agent.rng.Intn(len(environments))]
	action := actions[agent.rng.Intn(len(actions))]
	return knowledge.Predicates{
		"environment": knowledge.String(env),
		"action":      knowledge.String(action),
	}
}
