package rulestore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/rulebank/internal/knowledge"
)

func openTestStore(t *testing.T, scope knowledge.Scope) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.db")
	store, err := Open(path, scope, knowledge.DefaultStoreOptions(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testCandidate(creator string) *knowledge.RuleCandidate {
	return &knowledge.RuleCandidate{
		RuleType: knowledge.RuleResourceLocation,
		Conditions: knowledge.Predicates{
			"environment": knowledge.String("forest"),
			"season":      knowledge.String("summer"),
		},
		Predictions: knowledge.Predicates{
			"food": knowledge.Float(5),
		},
		RawEvidenceCount: 1,
		CreatorID:        creator,
	}
}

func TestSQLiteStore_PutAndGet(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, knowledge.ScopeDirect)

	rule, isNew, err := store.Put(ctx, testCandidate("agent-1"))
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Equal(t, knowledge.StatusCandidate, rule.ValidationStatus)
	assert.InDelta(t, 0.1, rule.Confidence, 1e-9)

	// Round trip preserves typed predicates.
	got, err := store.Get(ctx, rule.ContentHash)
	require.NoError(t, err)
	assert.Equal(t, rule.RuleID, got.RuleID)
	assert.True(t, got.Conditions["environment"].Equal(knowledge.String("forest")))
	assert.True(t, got.Predictions["food"].Equal(knowledge.Float(5)))
	assert.Equal(t, rule.CreatedTime.Unix(), got.CreatedTime.Unix())

	byID, err := store.GetByID(ctx, rule.RuleID)
	require.NoError(t, err)
	assert.Equal(t, rule.ContentHash, byID.ContentHash)
}

func TestSQLiteStore_PutIdempotent(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, knowledge.ScopeDirect)

	for i := 0; i < 10; i++ {
		_, _, err := store.Put(ctx, testCandidate("agent-1"))
		require.NoError(t, err)
	}

	rules, err := store.Query(ctx, knowledge.Filter{})
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, 10, rules[0].SupportCount)
}

func TestSQLiteStore_GetMissing(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, knowledge.ScopeDirect)

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, knowledge.ErrRuleNotFound)
	_, err = store.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, knowledge.ErrRuleNotFound)
}

func TestSQLiteStore_UpdateAtomic(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, knowledge.ScopeDirect)

	rule, _, err := store.Put(ctx, testCandidate("agent-1"))
	require.NoError(t, err)

	updated, err := store.UpdateAtomic(ctx, rule.RuleID, func(r *knowledge.Rule) error {
		r.Confidence = 0.42
		r.ValidationStatus = knowledge.StatusValidated
		r.Streak = 2
		r.LastSignal = 1
		return nil
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.42, updated.Confidence, 1e-9)

	// The update is durable, including streak state.
	got, err := store.GetByID(ctx, rule.RuleID)
	require.NoError(t, err)
	assert.InDelta(t, 0.42, got.Confidence, 1e-9)
	assert.Equal(t, knowledge.StatusValidated, got.ValidationStatus)
	assert.Equal(t, 2, got.Streak)
	assert.Equal(t, 1, got.LastSignal)

	// A failing fn rolls the transaction back.
	_, err = store.UpdateAtomic(ctx, rule.RuleID, func(r *knowledge.Rule) error {
		r.Confidence = 0.99
		return assert.AnError
	})
	require.Error(t, err)
	got, err = store.GetByID(ctx, rule.RuleID)
	require.NoError(t, err)
	assert.InDelta(t, 0.42, got.Confidence, 1e-9)
}

func TestSQLiteStore_QueryFilters(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, knowledge.ScopeDirect)

	a, _, err := store.Put(ctx, testCandidate("agent-1"))
	require.NoError(t, err)
	_, err = store.UpdateAtomic(ctx, a.RuleID, func(r *knowledge.Rule) error {
		r.ValidationStatus = knowledge.StatusValidated
		r.Confidence = 0.8
		return nil
	})
	require.NoError(t, err)

	b := testCandidate("agent-2")
	b.RuleType = knowledge.RuleToolUse
	b.Conditions = knowledge.Predicates{"tool": knowledge.String("axe")}
	b.Predictions = knowledge.Predicates{"wood": knowledge.Int(3)}
	_, _, err = store.Put(ctx, b)
	require.NoError(t, err)

	validated, err := store.Query(ctx, knowledge.Filter{Status: knowledge.StatusValidated})
	require.NoError(t, err)
	assert.Len(t, validated, 1)

	byType, err := store.Query(ctx, knowledge.Filter{RuleType: knowledge.RuleToolUse})
	require.NoError(t, err)
	assert.Len(t, byType, 1)

	byCreator, err := store.Query(ctx, knowledge.Filter{CreatorID: "agent-1"})
	require.NoError(t, err)
	assert.Len(t, byCreator, 1)

	confident, err := store.Query(ctx, knowledge.Filter{MinConfidence: 0.5})
	require.NoError(t, err)
	assert.Len(t, confident, 1)

	all, err := store.Query(ctx, knowledge.Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSQLiteStore_ApplyBatch(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, knowledge.ScopeTotal)

	c := testCandidate("agent-1")
	local := knowledge.NewRule(c, knowledge.Fingerprint(c), 0.9)
	local.SupportCount = 10
	local.ValidationStatus = knowledge.StatusValidated

	res, err := store.ApplyBatch(ctx, []knowledge.MergeOp{{Rule: local, Weight: 10}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)

	// Second contribution from another agent merges into the same row.
	c2 := testCandidate("agent-2")
	other := knowledge.NewRule(c2, knowledge.Fingerprint(c2), 0.5)
	other.SupportCount = 2
	other.ValidationStatus = knowledge.StatusValidated

	res, err = store.ApplyBatch(ctx, []knowledge.MergeOp{{Rule: other, Weight: 2}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Merged)

	rules, err := store.Query(ctx, knowledge.Filter{})
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.InDelta(t, 0.8333, rules[0].Confidence, 0.0001)
	assert.Equal(t, 12, rules[0].SupportCount)
	assert.Equal(t, 2, rules[0].OccurrenceCount)
	assert.ElementsMatch(t, []string{"agent-1", "agent-2"}, rules[0].Creators)
}

func TestSQLiteStore_Prune(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, knowledge.ScopeDirect)

	rule, _, err := store.Put(ctx, testCandidate("agent-1"))
	require.NoError(t, err)
	_, err = store.UpdateAtomic(ctx, rule.RuleID, func(r *knowledge.Rule) error {
		r.Confidence = 0.01
		r.SupportCount = 1
		r.ContradictionCount = 9
		return nil
	})
	require.NoError(t, err)

	// Too young to prune.
	pruned, err := store.Prune(ctx, knowledge.DefaultPrunePolicy())
	require.NoError(t, err)
	assert.Equal(t, 0, pruned)

	// With the age guard lifted the rule is condemned.
	policy := knowledge.DefaultPrunePolicy()
	policy.MinAge = 0
	pruned, err = store.Prune(ctx, policy)
	require.NoError(t, err)
	assert.Equal(t, 1, pruned)

	_, err = store.GetByID(ctx, rule.RuleID)
	assert.ErrorIs(t, err, knowledge.ErrRuleNotFound)
}

func TestSQLiteStore_Stats(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, knowledge.ScopeDirect)

	_, _, err := store.Put(ctx, testCandidate("agent-1"))
	require.NoError(t, err)
	b := testCandidate("agent-1")
	b.RuleType = knowledge.RuleThreatAvoidance
	b.Conditions = knowledge.Predicates{"threat": knowledge.String("wolf")}
	b.Predictions = knowledge.Predicates{"survival": knowledge.String("critical")}
	_, _, err = store.Put(ctx, b)
	require.NoError(t, err)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalRules)
	assert.Equal(t, 2, stats.ByStatus[knowledge.StatusCandidate])
	assert.Equal(t, 1, stats.ByType[knowledge.RuleThreatAvoidance])
	assert.InDelta(t, 0.1, stats.MeanConfidence, 1e-9)
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "rules.db")

	store, err := Open(path, knowledge.ScopeDirect, knowledge.DefaultStoreOptions(), nil)
	require.NoError(t, err)
	rule, _, err := store.Put(ctx, testCandidate("agent-1"))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := Open(path, knowledge.ScopeDirect, knowledge.DefaultStoreOptions(), nil)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.GetByID(ctx, rule.RuleID)
	require.NoError(t, err)
	assert.Equal(t, rule.ContentHash, got.ContentHash)
	assert.WithinDuration(t, rule.CreatedTime, got.CreatedTime, time.Second)
}

func TestSQLiteStore_Closed(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, knowledge.ScopeDirect)
	require.NoError(t, store.Close())

	_, _, err := store.Put(ctx, testCandidate("agent-1"))
	assert.ErrorIs(t, err, knowledge.ErrStoreClosed)
	_, err = store.Query(ctx, knowledge.Filter{})
	assert.ErrorIs(t, err, knowledge.ErrStoreClosed)
}
