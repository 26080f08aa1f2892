package knowledge

import (
	"fmt"

	"go.uber.org/zap"
)

// Thresholds are the promotion and rejection knobs of the validation
// engine. All values are configuration; defaults mirror the source system.
type Thresholds struct {
	// MinConfidence is the promotion score a rule must reach.
	MinConfidence float64 `json:"min_confidence" koanf:"min_confidence"`

	// MinEvidenceCount is the minimum number of evidence events (support +
	// contradiction) before any terminal decision is taken.
	MinEvidenceCount int `json:"min_evidence_count" koanf:"min_evidence_count"`

	// MinSuccessRate is the minimum support fraction for promotion.
	MinSuccessRate float64 `json:"min_success_rate" koanf:"min_success_rate"`

	// RiskMargin is added to MinSuccessRate for survival-critical rules.
	RiskMargin float64 `json:"risk_margin" koanf:"risk_margin"`

	// MaxComplexity bounds condition predicates + prediction fields.
	// Rules above it never promote and have their confidence capped at
	// ComplexityConfidenceCap.
	MaxComplexity int `json:"max_complexity" koanf:"max_complexity"`

	// ComplexityConfidenceCap is the ceiling applied to over-complex rules
	// so they cannot dominate lookup ordering on apparent success rate.
	ComplexityConfidenceCap float64 `json:"complexity_confidence_cap" koanf:"complexity_confidence_cap"`
}

// DefaultThresholds returns the default validation thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinConfidence:           0.1,
		MinEvidenceCount:        2,
		MinSuccessRate:          0.4,
		RiskMargin:              0.15,
		MaxComplexity:           8,
		ComplexityConfidenceCap: 0.5,
	}
}

// Validate checks threshold sanity.
func (t Thresholds) Validate() error {
	if t.MinConfidence < 0 || t.MinConfidence > 1 {
		return fmt.Errorf("min_confidence out of range: %v", t.MinConfidence)
	}
	if t.MinEvidenceCount < 1 {
		return fmt.Errorf("min_evidence_count must be >= 1: %d", t.MinEvidenceCount)
	}
	if t.MinSuccessRate < 0 || t.MinSuccessRate > 1 {
		return fmt.Errorf("min_success_rate out of range: %v", t.MinSuccessRate)
	}
	if t.MinSuccessRate+t.RiskMargin > 1 {
		return fmt.Errorf("min_success_rate + risk_margin exceeds 1: %v", t.MinSuccessRate+t.RiskMargin)
	}
	if t.MaxComplexity < 1 {
		return fmt.Errorf("max_complexity must be >= 1: %d", t.MaxComplexity)
	}
	return nil
}

// Decision is the outcome of one validation pass over a rule.
type Decision string

const (
	// DecisionPromote moves a candidate to validated.
	DecisionPromote Decision = "promote"

	// DecisionHold leaves the rule as is, awaiting more evidence.
	DecisionHold Decision = "hold"

	// DecisionReject moves a candidate to rejected. Terminal.
	DecisionReject Decision = "reject"
)

// ValidationEngine owns the rule lifecycle state machine. It is evaluated
// at intake (immediate validation) and after every evidence event
// (progressive confidence), composing four strategies: immediate
// validation, progressive re-evaluation, risk-aware success rates, and
// quality-based complexity capping.
type ValidationEngine struct {
	thresholds Thresholds
	updater    *ConfidenceUpdater
	logger     *zap.Logger
}

// NewValidationEngine creates an engine. A nil logger defaults to no-op.
func NewValidationEngine(thresholds Thresholds, updater *ConfidenceUpdater, logger *zap.Logger) (*ValidationEngine, error) {
	if err := thresholds.Validate(); err != nil {
		return nil, fmt.Errorf("invalid thresholds: %w", err)
	}
	if updater == nil {
		return nil, fmt.Errorf("confidence updater cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ValidationEngine{
		thresholds: thresholds,
		updater:    updater,
		logger:     logger,
	}, nil
}

// Thresholds returns the engine's configured thresholds.
func (e *ValidationEngine) Thresholds() Thresholds {
	return e.thresholds
}

// Evaluate applies the promotion decision to a rule in place and returns
// the decision taken. The caller must hold the rule's write serialization.
//
// Terminal states are respected: a validated rule is never demoted and a
// rejected rule is never revisited.
func (e *ValidationEngine) Evaluate(r *Rule) Decision {
	if r.ValidationStatus == StatusRejected {
		return DecisionHold
	}

	// Quality cap: over-complex rules keep accumulating evidence but their
	// confidence is ceilinged and they can never promote.
	overComplex := r.Complexity() > e.thresholds.MaxComplexity
	if overComplex && r.Confidence > e.thresholds.ComplexityConfidenceCap {
		r.Confidence = e.thresholds.ComplexityConfidenceCap
	}

	if r.ValidationStatus == StatusValidated {
		return DecisionHold
	}

	evidence := r.EvidenceCount()

	// Rejection: contradictions outweigh support after enough observations.
	if evidence >= e.thresholds.MinEvidenceCount && r.ContradictionCount > r.SupportCount {
		r.ValidationStatus = StatusRejected
		e.logger.Debug("rule rejected",
			zap.String("rule_id", r.RuleID),
			zap.Int("support", r.SupportCount),
			zap.Int("contradictions", r.ContradictionCount))
		return DecisionReject
	}

	if overComplex {
		return DecisionHold
	}
	if evidence < e.thresholds.MinEvidenceCount {
		return DecisionHold
	}

	score := e.updater.PromotionScore(r)
	if score < e.thresholds.MinConfidence {
		return DecisionHold
	}

	required := e.thresholds.MinSuccessRate
	if IsSurvivalCritical(r.Predictions) {
		required += e.thresholds.RiskMargin
	}
	if r.SuccessRate() < required {
		return DecisionHold
	}

	r.ValidationStatus = StatusValidated
	e.logger.Debug("rule promoted",
		zap.String("rule_id", r.RuleID),
		zap.String("rule_type", string(r.RuleType)),
		zap.Float64("score", score),
		zap.Float64("success_rate", r.SuccessRate()),
		zap.Int("evidence", evidence))
	return DecisionPromote
}
