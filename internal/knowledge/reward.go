package knowledge

// SurvivalStatus is the coarse classification of an agent's state after an
// action, supplied by the reward feedback loop.
type SurvivalStatus string

const (
	SurvivalHealthy  SurvivalStatus = "healthy"
	SurvivalStressed SurvivalStatus = "stressed"
	SurvivalCritical SurvivalStatus = "critical"
	SurvivalDead     SurvivalStatus = "dead"
)

// Evidence is one outcome event for a rule, derived from the reward
// feedback loop after an agent action.
type Evidence struct {
	// Success reports whether the predicted outcome matched reality.
	Success bool `json:"success"`

	// Partial marks a weak match: the prediction held in part. Counted as
	// weak support, never as contradiction.
	Partial bool `json:"partial,omitempty"`

	// ResourceDeltas are the observed changes to the agent's resources
	// (health, food, water, ...) caused by the action.
	ResourceDeltas map[string]float64 `json:"resource_deltas,omitempty"`

	// Survival is the agent's survival classification after the action.
	Survival SurvivalStatus `json:"survival,omitempty"`
}

// Outcome is the classified result of comparing a prediction to reality.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomePartial Outcome = "partial"
	OutcomeFailure Outcome = "failure"
)

// Evidence converts an outcome classification into an evidence event
// carrying the observed deltas and survival state.
func (o Outcome) Evidence(deltas map[string]float64, survival SurvivalStatus) Evidence {
	return Evidence{
		Success:        o == OutcomeSuccess || o == OutcomePartial,
		Partial:        o == OutcomePartial,
		ResourceDeltas: deltas,
		Survival:       survival,
	}
}

// StandardOutcome classifies an action result from its resource deltas and
// survival status. This is the full reward formula: death dominates
// everything, otherwise the sign pattern of the deltas decides between
// success, partial success, and failure.
//
// The source implementation reached this logic through a try/fallback
// exception pattern; here it is a named pure function with FallbackOutcome
// as the explicitly-chosen simple alternative when no deltas are available.
func StandardOutcome(deltas map[string]float64, survival SurvivalStatus) Outcome {
	if survival == SurvivalDead {
		return OutcomeFailure
	}
	if len(deltas) == 0 {
		return FallbackOutcome(survival)
	}

	var gains, losses int
	for _, d := range deltas {
		switch {
		case d > 0:
			gains++
		case d < 0:
			losses++
		}
	}
	switch {
	case gains > 0 && losses == 0:
		return OutcomeSuccess
	case gains > 0:
		return OutcomePartial
	case losses > 0:
		return OutcomeFailure
	default:
		// All deltas zero: the action changed nothing observable.
		return OutcomePartial
	}
}

// FallbackOutcome is the simple reward formula used when resource deltas
// are unavailable: survival classification alone decides.
func FallbackOutcome(survival SurvivalStatus) Outcome {
	switch survival {
	case SurvivalHealthy:
		return OutcomeSuccess
	case SurvivalStressed:
		return OutcomePartial
	default:
		return OutcomeFailure
	}
}

// survivalCriticalKeys are the prediction fields whose depletion makes a
// rule survival-critical for risk-aware validation.
var survivalCriticalKeys = map[string]bool{
	"health": true,
	"food":   true,
	"water":  true,
}

// IsSurvivalCritical reports whether a rule's predictions concern a
// survival-critical outcome: a health/food/water field predicted at or
// below zero, or an explicit survival prediction of critical or dead.
// Such rules face a stricter success-rate threshold before promotion,
// since a false-positive survival rule is costlier than a false-positive
// low-stakes rule.
func IsSurvivalCritical(predictions Predicates) bool {
	for name, v := range predictions {
		if survivalCriticalKeys[name] {
			switch v.Kind {
			case KindInt:
				if v.Int <= 0 {
					return true
				}
			case KindFloat:
				if v.Float <= 0 {
					return true
				}
			}
		}
		if name == "survival" && v.Kind == KindString {
			if v.Str == string(SurvivalCritical) || v.Str == string(SurvivalDead) {
				return true
			}
		}
	}
	return false
}
