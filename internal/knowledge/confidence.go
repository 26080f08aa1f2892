package knowledge

// ConfidenceParams are the tunable constants of the confidence update
// arithmetic. The source heuristics hard-coded these; here they are
// configuration with the historical values as defaults.
type ConfidenceParams struct {
	// InitialStep scales a candidate's raw evidence count into its initial
	// confidence: initial = clamp(InitialStep * rawEvidenceCount).
	InitialStep float64 `json:"initial_step" koanf:"initial_step"`

	// SuccessMultiplier scales confidence up on a confirmed prediction.
	SuccessMultiplier float64 `json:"success_multiplier" koanf:"success_multiplier"`

	// FailurePenalty scales confidence down on a contradicted prediction.
	FailurePenalty float64 `json:"failure_penalty" koanf:"failure_penalty"`

	// PartialSuccessFactor scales confidence up on a partial match,
	// counted as weak support.
	PartialSuccessFactor float64 `json:"partial_success_factor" koanf:"partial_success_factor"`

	// ConsistencyBonus is the flat boost granted to a rule's promotion
	// score once evidence has pointed in the same direction at least twice
	// in a row. It rewards stable regularities over one-off correlations
	// without perturbing the bounded multiplicative confidence chain.
	ConsistencyBonus float64 `json:"consistency_bonus" koanf:"consistency_bonus"`
}

// DefaultConfidenceParams returns the historical update constants.
func DefaultConfidenceParams() ConfidenceParams {
	return ConfidenceParams{
		InitialStep:          0.1,
		SuccessMultiplier:    1.3,
		FailurePenalty:       0.8,
		PartialSuccessFactor: 1.1,
		ConsistencyBonus:     0.05,
	}
}

// InitialConfidence derives a candidate's starting confidence from its raw
// evidence count.
func (p ConfidenceParams) InitialConfidence(rawEvidenceCount int) float64 {
	return clamp01(p.InitialStep * float64(rawEvidenceCount))
}

// ConfidenceUpdater applies outcome evidence to a rule in place.
//
// The updates are multiplicative so confidence stays naturally bounded
// without a separate normalization pass; clamp01 is a safety net, not the
// mechanism. Counts only ever increase.
type ConfidenceUpdater struct {
	params ConfidenceParams
}

// NewConfidenceUpdater creates an updater with the given parameters.
func NewConfidenceUpdater(params ConfidenceParams) *ConfidenceUpdater {
	return &ConfidenceUpdater{params: params}
}

// Apply mutates the rule's confidence, counters, and consistency streak
// according to a single evidence event. The caller must hold the rule's
// write serialization (UpdateAtomic).
func (u *ConfidenceUpdater) Apply(r *Rule, ev Evidence) {
	direction := -1
	switch {
	case ev.Success && ev.Partial:
		r.Confidence *= u.params.PartialSuccessFactor
		r.SupportCount++ // weak support still counts as support
		direction = +1
	case ev.Success:
		r.Confidence *= u.params.SuccessMultiplier
		r.SupportCount++
		direction = +1
	default:
		r.Confidence *= u.params.FailurePenalty
		r.ContradictionCount++
	}

	if direction == r.LastSignal {
		r.Streak++
	} else {
		r.Streak = 1
	}
	r.LastSignal = direction

	r.Confidence = clamp01(r.Confidence)
}

// PromotionScore is the confidence the validation engine compares against
// its thresholds: the stored confidence plus the consistency bonus when the
// evidence streak qualifies. The bonus is part of the promotion decision,
// not of the persisted confidence, so the multiplicative chain remains
// exactly reproducible from the evidence sequence.
func (u *ConfidenceUpdater) PromotionScore(r *Rule) float64 {
	score := r.Confidence
	if r.Streak >= 2 {
		score += u.params.ConsistencyBonus
	}
	return clamp01(score)
}

// Params returns the updater's parameters.
func (u *ConfidenceUpdater) Params() ConfidenceParams {
	return u.params
}
