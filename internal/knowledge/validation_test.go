package knowledge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) (*ValidationEngine, *ConfidenceUpdater) {
	t.Helper()
	updater := NewConfidenceUpdater(DefaultConfidenceParams())
	engine, err := NewValidationEngine(DefaultThresholds(), updater, nil)
	require.NoError(t, err)
	return engine, updater
}

func candidateRule(confidence float64, support, contradiction int) *Rule {
	return &Rule{
		RuleID:             "r1",
		RuleType:           RuleActionOutcome,
		Conditions:         Predicates{"environment": String("forest"), "action": String("forage")},
		Predictions:        Predicates{"food": Float(5)},
		ContentHash:        "h1",
		Confidence:         confidence,
		SupportCount:       support,
		ContradictionCount: contradiction,
		ValidationStatus:   StatusCandidate,
	}
}

func TestValidationEngine_PromotesAtThresholds(t *testing.T) {
	engine, _ := newTestEngine(t)

	// Enough evidence, confidence, and success rate: promote.
	r := candidateRule(0.3, 3, 0)
	decision := engine.Evaluate(r)
	assert.Equal(t, DecisionPromote, decision)
	assert.Equal(t, StatusValidated, r.ValidationStatus)
}

func TestValidationEngine_HoldsBelowEvidence(t *testing.T) {
	engine, _ := newTestEngine(t)

	r := candidateRule(0.5, 1, 0)
	assert.Equal(t, DecisionHold, engine.Evaluate(r))
	assert.Equal(t, StatusCandidate, r.ValidationStatus)
}

func TestValidationEngine_HoldsBelowConfidence(t *testing.T) {
	engine, _ := newTestEngine(t)

	r := candidateRule(0.05, 3, 0)
	assert.Equal(t, DecisionHold, engine.Evaluate(r))
}

func TestValidationEngine_HoldsBelowSuccessRate(t *testing.T) {
	// With the defaults any rate below the bar also means contradictions
	// outnumber support, which rejects instead. Raise the bar to observe a
	// pure success-rate hold.
	thresholds := DefaultThresholds()
	thresholds.MinSuccessRate = 0.7
	updater := NewConfidenceUpdater(DefaultConfidenceParams())
	engine, err := NewValidationEngine(thresholds, updater, nil)
	require.NoError(t, err)

	r := candidateRule(0.5, 3, 2) // rate 0.6
	assert.Equal(t, DecisionHold, engine.Evaluate(r))
	assert.Equal(t, StatusCandidate, r.ValidationStatus)
}

func TestValidationEngine_RejectsContradictedRule(t *testing.T) {
	engine, _ := newTestEngine(t)

	r := candidateRule(0.2, 1, 3)
	decision := engine.Evaluate(r)
	assert.Equal(t, DecisionReject, decision)
	assert.Equal(t, StatusRejected, r.ValidationStatus)

	// Rejected is terminal: further evaluation never resurrects it.
	r.SupportCount = 100
	r.Confidence = 0.9
	assert.Equal(t, DecisionHold, engine.Evaluate(r))
	assert.Equal(t, StatusRejected, r.ValidationStatus)
}

func TestValidationEngine_ValidatedIsTerminal(t *testing.T) {
	engine, _ := newTestEngine(t)

	r := candidateRule(0.3, 3, 0)
	require.Equal(t, DecisionPromote, engine.Evaluate(r))

	// A validated rule stays validated even as contradictions mount; only
	// confidence reflects the decline.
	r.ContradictionCount = 10
	assert.Equal(t, DecisionHold, engine.Evaluate(r))
	assert.Equal(t, StatusValidated, r.ValidationStatus)
}

func TestValidationEngine_SurvivalCriticalMargin(t *testing.T) {
	engine, _ := newTestEngine(t)

	// A rule predicting health depletion needs success rate >= 0.55
	// (0.4 + 0.15 margin). Rate 6/12 = 0.5 holds...
	r := candidateRule(0.5, 6, 6)
	r.Predictions = Predicates{"health": Float(-10)}
	assert.Equal(t, DecisionHold, engine.Evaluate(r))

	// ...while 7/12 ~ 0.583 promotes.
	r.SupportCount = 7
	r.ContradictionCount = 5
	assert.Equal(t, DecisionPromote, engine.Evaluate(r))
}

func TestValidationEngine_ComplexRuleNeverPromotes(t *testing.T) {
	engine, updater := newTestEngine(t)

	// Nine predicates exceeds the complexity bound of eight. Twenty
	// straight successes still leave the rule a candidate with its
	// confidence capped.
	conditions := Predicates{}
	for _, k := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		conditions[k] = String(k)
	}
	r := &Rule{
		RuleID:           "r1",
		RuleType:         RuleActionOutcome,
		Conditions:       conditions,
		Predictions:      Predicates{"x": Int(1), "y": Int(2)},
		ContentHash:      "h1",
		Confidence:       0.2,
		SupportCount:     2,
		ValidationStatus: StatusCandidate,
	}
	require.Equal(t, 9, r.Complexity())

	for i := 0; i < 20; i++ {
		updater.Apply(r, successEvidence())
		decision := engine.Evaluate(r)
		assert.NotEqual(t, DecisionPromote, decision)
	}
	assert.Equal(t, StatusCandidate, r.ValidationStatus)
	assert.LessOrEqual(t, r.Confidence, DefaultThresholds().ComplexityConfidenceCap)
}

func TestValidationEngine_StreakBonusEnablesPromotion(t *testing.T) {
	engine, updater := newTestEngine(t)

	// Stored confidence just below the bar, but a qualifying streak lifts
	// the promotion score past it.
	r := candidateRule(0.08, 4, 0)
	r.Streak = 2
	r.LastSignal = +1
	require.Less(t, r.Confidence, DefaultThresholds().MinConfidence)
	require.GreaterOrEqual(t, updater.PromotionScore(r), DefaultThresholds().MinConfidence)

	assert.Equal(t, DecisionPromote, engine.Evaluate(r))
}

func TestThresholds_Validate(t *testing.T) {
	assert.NoError(t, DefaultThresholds().Validate())

	bad := DefaultThresholds()
	bad.MinSuccessRate = 0.95
	bad.RiskMargin = 0.15
	assert.Error(t, bad.Validate())

	bad = DefaultThresholds()
	bad.MinEvidenceCount = 0
	assert.Error(t, bad.Validate())
}

func TestIsSurvivalCritical(t *testing.T) {
	assert.True(t, IsSurvivalCritical(Predicates{"health": Float(-5)}))
	assert.True(t, IsSurvivalCritical(Predicates{"water": Int(0)}))
	assert.True(t, IsSurvivalCritical(Predicates{"survival": String("critical")}))
	assert.False(t, IsSurvivalCritical(Predicates{"health": Float(10)}))
	assert.False(t, IsSurvivalCritical(Predicates{"wood": Float(-5)}))
}
