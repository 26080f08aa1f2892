package sim

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/fyrsmithlabs/rulebank/internal/knowledge"
)

// Predicate vocabulary for the synthetic world.
var (
	environments = []string{"forest", "river", "cave", "plain", "swamp"}
	actions      = []string{"forage", "hunt", "drink", "shelter", "flee"}
	resources    = []string{"food", "water", "health"}
)

// TruthWorld is a World with a fixed hidden ground truth: each
// environment/action pair has a reliability in [0,1], and observed outcomes
// are noisy draws against it. Rules that match reality accumulate support;
// rules that do not get contradicted and eventually rejected.
type TruthWorld struct {
	mu    sync.Mutex
	rng   *rand.Rand
	truth map[string]float64
}

// NewTruthWorld builds a world with randomized but fixed ground truth.
func NewTruthWorld(seed int64) *TruthWorld {
	rng := rand.New(rand.NewSource(seed))
	truth := make(map[string]float64, len(environments)*len(actions))
	for _, env := range environments {
		for _, action := range actions {
			truth[env+"/"+action] = rng.Float64()
		}
	}
	return &TruthWorld{rng: rng, truth: truth}
}

// Observe implements World.
func (w *TruthWorld) Observe(r *knowledge.Rule) (map[string]float64, knowledge.SurvivalStatus) {
	w.mu.Lock()
	defer w.mu.Unlock()

	env := predicateString(r.Conditions, "environment")
	action := predicateString(r.Conditions, "action")
	reliability := w.truth[env+"/"+action]

	roll := w.rng.Float64()
	deltas := make(map[string]float64, 1)
	resource := resources[w.rng.Intn(len(resources))]

	switch {
	case roll < reliability:
		deltas[resource] = 1 + w.rng.Float64()*9
		return deltas, knowledge.SurvivalHealthy
	case roll < reliability+0.2:
		// Near miss: something gained, something lost.
		deltas[resource] = 1
		deltas["health"] = -1
		return deltas, knowledge.SurvivalStressed
	default:
		deltas[resource] = -(1 + w.rng.Float64()*4)
		return deltas, knowledge.SurvivalStressed
	}
}

// RandomMiner mines candidates by sampling the predicate vocabulary. Each
// miner owns its random stream, so concurrent agents never contend.
type RandomMiner struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomMiner creates a miner with a deterministic stream.
func NewRandomMiner(seed int64) *RandomMiner {
	return &RandomMiner{rng: rand.New(rand.NewSource(seed))}
}

// Mine implements Miner.
func (m *RandomMiner) Mine(agentID string, round int) *knowledge.RuleCandidate {
	m.mu.Lock()
	defer m.mu.Unlock()

	env := environments[m.rng.Intn(len(environments))]
	action := actions[m.rng.Intn(len(actions))]
	resource := resources[m.rng.Intn(len(resources))]

	return &knowledge.RuleCandidate{
		RuleType: knowledge.RuleActionOutcome,
		Conditions: knowledge.Predicates{
			"environment": knowledge.String(env),
			"action":      knowledge.String(action),
		},
		Predictions: knowledge.Predicates{
			resource: knowledge.Float(1 + m.rng.Float64()*9),
		},
		RawEvidenceCount: 1 + m.rng.Intn(3),
		CreatorID:        agentID,
	}
}

// EpsilonSignal explores with a fixed probability each round and exploits
// otherwise.
type EpsilonSignal struct {
	mu   sync.Mutex
	rng  *rand.Rand
	rate float64
}

// NewEpsilonSignal creates a signal exploring at the given rate. The rate
// is clamped to [0, 1].
func NewEpsilonSignal(rate float64, seed int64) *EpsilonSignal {
	if rate < 0 {
		rate = 0
	}
	if rate > 1 {
		rate = 1
	}
	return &EpsilonSignal{rng: rand.New(rand.NewSource(seed)), rate: rate}
}

// Explore implements ExplorationSignal.
func (s *EpsilonSignal) Explore(agentID string, round int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64() < s.rate
}

// AlwaysExplore mines a candidate every round and never exploits.
type AlwaysExplore struct{}

// Explore implements ExplorationSignal.
func (AlwaysExplore) Explore(agentID string, round int) bool { return true }

func predicateString(p knowledge.Predicates, key string) string {
	v, ok := p[key]
	if !ok {
		return ""
	}
	if v.Kind == knowledge.KindString {
		return v.Str
	}
	return fmt.Sprint(v)
}
