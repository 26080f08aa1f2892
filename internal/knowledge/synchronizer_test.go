package knowledge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSyncFixture(t *testing.T) (*Synchronizer, *MemoryStore, *MemoryStore, *MemoryStore) {
	t.Helper()
	global := NewMemoryStore(ScopeTotal, DefaultStoreOptions())
	a := NewMemoryStore(ScopeDirect, DefaultStoreOptions())
	b := NewMemoryStore(ScopeDirect, DefaultStoreOptions())

	sync, err := NewSynchronizer(global, nil, WithSharingThreshold(0.6))
	require.NoError(t, err)
	require.NoError(t, sync.Register("agent-1", a))
	require.NoError(t, sync.Register("agent-2", b))
	return sync, global, a, b
}

// seedValidated puts a candidate into a direct store and forces it to a
// validated, shareable state.
func seedValidated(t *testing.T, store *MemoryStore, creator string, confidence float64, support, contradiction int) *Rule {
	t.Helper()
	ctx := context.Background()
	rule, _, err := store.Put(ctx, testCandidate(creator))
	require.NoError(t, err)
	updated, err := store.UpdateAtomic(ctx, rule.RuleID, func(r *Rule) error {
		r.ValidationStatus = StatusValidated
		r.Confidence = confidence
		r.SupportCount = support
		r.ContradictionCount = contradiction
		return nil
	})
	require.NoError(t, err)
	return updated
}

func TestSynchronizer_MergesAcrossAgents(t *testing.T) {
	ctx := context.Background()
	sync, global, a, b := newSyncFixture(t)

	// Both agents validated the same rule content with different evidence.
	seedValidated(t, a, "agent-1", 0.9, 10, 0)
	seedValidated(t, b, "agent-2", 0.5, 2, 0)

	result, err := sync.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Shared)
	assert.Equal(t, 1, result.Inserted)
	assert.Equal(t, 1, result.Merged)

	rules, err := global.Query(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, rules, 1)

	merged := rules[0]
	assert.InDelta(t, 0.8333, merged.Confidence, 0.0001)
	assert.Equal(t, 12, merged.SupportCount)
	assert.Equal(t, 2, merged.OccurrenceCount)
	assert.ElementsMatch(t, []string{"agent-1", "agent-2"}, merged.Creators)
}

func TestSynchronizer_ThresholdFiltersRules(t *testing.T) {
	ctx := context.Background()
	sync, global, a, _ := newSyncFixture(t)

	// Validated but below the sharing threshold: stays local.
	seedValidated(t, a, "agent-1", 0.5, 5, 0)

	result, err := sync.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Shared)

	rules, err := global.Query(ctx, Filter{})
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestSynchronizer_CandidatesNeverShared(t *testing.T) {
	ctx := context.Background()
	sync, global, a, _ := newSyncFixture(t)

	// High confidence alone is not enough without validation.
	rule, _, err := a.Put(ctx, testCandidate("agent-1"))
	require.NoError(t, err)
	_, err = a.UpdateAtomic(ctx, rule.RuleID, func(r *Rule) error {
		r.Confidence = 0.95
		return nil
	})
	require.NoError(t, err)

	_, err = sync.RunCycle(ctx)
	require.NoError(t, err)

	rules, err := global.Query(ctx, Filter{})
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestSynchronizer_NoDoubleCountingAcrossCycles(t *testing.T) {
	ctx := context.Background()
	sync, global, a, _ := newSyncFixture(t)

	local := seedValidated(t, a, "agent-1", 0.9, 10, 0)

	// First cycle ships the full evidence.
	_, err := sync.RunCycle(ctx)
	require.NoError(t, err)

	// A second cycle with no new local evidence must ship nothing.
	result, err := sync.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Shared)

	rules, err := global.Query(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, 10, rules[0].SupportCount)

	// New local evidence ships only the delta.
	_, err = a.UpdateAtomic(ctx, local.RuleID, func(r *Rule) error {
		r.SupportCount += 3
		return nil
	})
	require.NoError(t, err)

	result, err = sync.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Shared)

	rules, err = global.Query(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, 13, rules[0].SupportCount)
}

func TestSynchronizer_Decay(t *testing.T) {
	ctx := context.Background()
	global := NewMemoryStore(ScopeTotal, DefaultStoreOptions())
	a := NewMemoryStore(ScopeDirect, DefaultStoreOptions())

	sync, err := NewSynchronizer(global, nil,
		WithSharingThreshold(0.6),
		WithConfidenceDecay(0.9))
	require.NoError(t, err)
	require.NoError(t, sync.Register("agent-1", a))

	seedValidated(t, a, "agent-1", 0.8, 10, 0)
	_, err = sync.RunCycle(ctx)
	require.NoError(t, err)

	rules, err := global.Query(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, rules, 1)
	// Evidence merged this cycle, so the rule is spared from decay.
	assert.InDelta(t, 0.8, rules[0].Confidence, 1e-9)

	// Idle cycles decay it: 0.8 * 0.9 = 0.72, then 0.648.
	_, err = sync.RunCycle(ctx)
	require.NoError(t, err)
	rules, err = global.Query(ctx, Filter{})
	require.NoError(t, err)
	assert.InDelta(t, 0.72, rules[0].Confidence, 1e-9)

	_, err = sync.RunCycle(ctx)
	require.NoError(t, err)
	rules, err = global.Query(ctx, Filter{})
	require.NoError(t, err)
	assert.InDelta(t, 0.648, rules[0].Confidence, 1e-9)

	// Fresh evidence spares the rule again on the next cycle: the weighted
	// merge lands undecayed.
	seedValidated(t, a, "agent-1", 0.9, 13, 0)
	_, err = sync.RunCycle(ctx)
	require.NoError(t, err)
	rules, err = global.Query(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, rules, 1)
	// (0.648*10 + 0.9*3) / 13, with no decay pass on top.
	assert.InDelta(t, (0.648*10+0.9*3)/13, rules[0].Confidence, 1e-9)
}

func TestSynchronizer_ScopeEnforcement(t *testing.T) {
	direct := NewMemoryStore(ScopeDirect, DefaultStoreOptions())
	global := NewMemoryStore(ScopeTotal, DefaultStoreOptions())

	_, err := NewSynchronizer(direct, nil)
	assert.Error(t, err)

	sync, err := NewSynchronizer(global, nil)
	require.NoError(t, err)
	assert.Error(t, sync.Register("agent-1", global))
}

func TestSynchronizer_StartStop(t *testing.T) {
	global := NewMemoryStore(ScopeTotal, DefaultStoreOptions())
	sync, err := NewSynchronizer(global, nil, WithSyncInterval(time.Hour))
	require.NoError(t, err)

	require.NoError(t, sync.Start())
	assert.Error(t, sync.Start(), "second start must fail")

	require.NoError(t, sync.Stop())
	assert.NoError(t, sync.Stop(), "stop is idempotent")

	// The synchronizer can be restarted after a stop.
	require.NoError(t, sync.Start())
	require.NoError(t, sync.Stop())
}
