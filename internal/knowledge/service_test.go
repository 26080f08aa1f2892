package knowledge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore(ScopeDirect, DefaultStoreOptions())
	updater := NewConfidenceUpdater(DefaultConfidenceParams())
	engine, err := NewValidationEngine(DefaultThresholds(), updater, nil)
	require.NoError(t, err)
	svc, err := NewService(store, updater, engine)
	require.NoError(t, err)
	return svc, store
}

func TestService_IngestCandidate(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	// Three raw observations start the rule at 0.3 and, since evidence,
	// confidence, and success rate all clear their bars, validation
	// happens right at intake.
	c := testCandidate("agent-1")
	c.RawEvidenceCount = 3
	rule, err := svc.IngestCandidate(ctx, c)
	require.NoError(t, err)

	assert.InDelta(t, 0.3, rule.Confidence, 1e-9)
	assert.Equal(t, 3, rule.SupportCount)
	assert.Equal(t, StatusValidated, rule.ValidationStatus)
}

func TestService_IngestSingleObservationStaysCandidate(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	c := testCandidate("agent-1")
	c.RawEvidenceCount = 1
	rule, err := svc.IngestCandidate(ctx, c)
	require.NoError(t, err)

	// One observation is below the evidence bar: held as candidate.
	assert.InDelta(t, 0.1, rule.Confidence, 1e-9)
	assert.Equal(t, StatusCandidate, rule.ValidationStatus)
}

func TestService_IngestMalformed(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	c := testCandidate("agent-1")
	c.Predictions = Predicates{}
	_, err := svc.IngestCandidate(ctx, c)
	assert.ErrorIs(t, err, ErrMalformedCandidate)

	_, err = svc.IngestCandidate(ctx, nil)
	assert.ErrorIs(t, err, ErrMalformedCandidate)
}

func TestService_IngestDuplicateFolds(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	first, err := svc.IngestCandidate(ctx, testCandidate("agent-1"))
	require.NoError(t, err)

	// Same content from another agent folds into the same rule.
	second, err := svc.IngestCandidate(ctx, testCandidate("agent-2"))
	require.NoError(t, err)
	assert.Equal(t, first.RuleID, second.RuleID)
	assert.Equal(t, 2, second.SupportCount)

	all, err := store.Query(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestService_RecordOutcomeChain(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	c := testCandidate("agent-1")
	c.RawEvidenceCount = 3
	rule, err := svc.IngestCandidate(ctx, c)
	require.NoError(t, err)

	// Three confirmations: 0.3 -> 0.39 -> 0.507 -> 0.6591, support 3 -> 6.
	for i := 0; i < 3; i++ {
		err = svc.RecordOutcome(ctx, rule.RuleID, OutcomeSuccess.Evidence(nil, SurvivalHealthy))
		require.NoError(t, err)
	}

	final, err := store.GetByID(ctx, rule.RuleID)
	require.NoError(t, err)
	assert.InDelta(t, 0.6591, final.Confidence, 1e-9)
	assert.Equal(t, 6, final.SupportCount)
	assert.Equal(t, StatusValidated, final.ValidationStatus)
}

func TestService_RecordOutcomeProgressiveRejection(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	c := testCandidate("agent-1")
	c.RawEvidenceCount = 1
	rule, err := svc.IngestCandidate(ctx, c)
	require.NoError(t, err)
	require.Equal(t, StatusCandidate, rule.ValidationStatus)

	// Contradictions overtake support: the rule is rejected, not deleted.
	for i := 0; i < 2; i++ {
		err = svc.RecordOutcome(ctx, rule.RuleID, OutcomeFailure.Evidence(nil, SurvivalStressed))
		require.NoError(t, err)
	}

	final, err := store.GetByID(ctx, rule.RuleID)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, final.ValidationStatus)
	assert.Equal(t, 2, final.ContradictionCount)
}

func TestService_RecordOutcomeUnknownRule(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	err := svc.RecordOutcome(ctx, "no-such-rule", OutcomeSuccess.Evidence(nil, SurvivalHealthy))
	assert.ErrorIs(t, err, ErrRuleNotFound)
}

func TestService_RecordOutcomeByFingerprint(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	rule, err := svc.IngestCandidate(ctx, testCandidate("agent-1"))
	require.NoError(t, err)

	err = svc.RecordOutcomeByFingerprint(ctx, rule.ContentHash, OutcomeSuccess.Evidence(nil, SurvivalHealthy))
	require.NoError(t, err)

	final, err := store.GetByID(ctx, rule.RuleID)
	require.NoError(t, err)
	assert.Equal(t, 2, final.SupportCount)
}

func TestService_LookupApplicableRules(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	put := func(creator string, conditions Predicates, confidence float64, support int) *Rule {
		t.Helper()
		c := &RuleCandidate{
			RuleType:         RuleActionOutcome,
			Conditions:       conditions,
			Predictions:      Predicates{"food": Float(5)},
			RawEvidenceCount: 1,
			CreatorID:        creator,
		}
		rule, _, err := store.Put(ctx, c)
		require.NoError(t, err)
		updated, err := store.UpdateAtomic(ctx, rule.RuleID, func(r *Rule) error {
			r.ValidationStatus = StatusValidated
			r.Confidence = confidence
			r.SupportCount = support
			return nil
		})
		require.NoError(t, err)
		return updated
	}

	forest := Predicates{"environment": String("forest")}
	forestForage := Predicates{"environment": String("forest"), "action": String("forage")}
	swamp := Predicates{"environment": String("swamp")}

	low := put("agent-1", forest, 0.6, 3)
	high := put("agent-1", forestForage, 0.9, 5)
	put("agent-1", swamp, 0.8, 4) // never applicable here

	situation := Predicates{
		"environment": String("forest"),
		"action":      String("forage"),
		"season":      String("summer"),
	}
	rules, err := svc.LookupApplicableRules(ctx, situation)
	require.NoError(t, err)
	require.Len(t, rules, 2)

	// Ordered by confidence descending.
	assert.Equal(t, high.RuleID, rules[0].RuleID)
	assert.Equal(t, low.RuleID, rules[1].RuleID)
}

func TestService_LookupExcludesCandidates(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	c := testCandidate("agent-1")
	c.RawEvidenceCount = 1
	rule, err := svc.IngestCandidate(ctx, c)
	require.NoError(t, err)
	require.Equal(t, StatusCandidate, rule.ValidationStatus)

	situation := Predicates{
		"environment": String("forest"),
		"season":      String("summer"),
	}
	rules, err := svc.LookupApplicableRules(ctx, situation)
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestNewService_Validation(t *testing.T) {
	store := NewMemoryStore(ScopeDirect, DefaultStoreOptions())
	updater := NewConfidenceUpdater(DefaultConfidenceParams())
	engine, err := NewValidationEngine(DefaultThresholds(), updater, nil)
	require.NoError(t, err)

	_, err = NewService(nil, updater, engine)
	assert.Error(t, err)
	_, err = NewService(store, nil, engine)
	assert.Error(t, err)
	_, err = NewService(store, updater, nil)
	assert.Error(t, err)
}
