package knowledge

import "github.com/google/uuid"

// ConflictSpread is the confidence gap above which a global merge is
// counted as a sync conflict. Conflicts are still resolved by the weighted
// average below - deterministically, logged, never fatal - the constant
// only decides what gets surfaced as a conflict in logs and metrics.
const ConflictSpread = 0.5

// NewGlobalRule converts a merge op into a fresh total-store row: new
// identity, occurrence count one, evidence counters seeded from the op's
// deltas so later syncs from the same agent stay additive.
func NewGlobalRule(op MergeOp) *Rule {
	r := op.Rule.Clone()
	r.RuleID = uuid.New().String()
	r.SupportCount = op.Weight
	r.ContradictionCount = op.ContradictionWeight
	r.OccurrenceCount = 1
	r.Creators = []string{op.Rule.CreatorID}
	return r
}

// MergeGlobal folds a merge op into an existing total-store rule in place
// and reports whether the contribution conflicted with the global estimate.
//
// Confidence combines by a weighted average biased toward the
// higher-evidence side: the global rule weighs in with its accumulated
// support count, the contribution with its support delta. Occurrence count
// grows only when a creator not yet attributed contributes, keeping it a
// distinct-agent corroboration signal rather than a sync counter.
func MergeGlobal(dst *Rule, op MergeOp) (conflict bool) {
	w := op.Weight
	if w < 0 {
		w = 0
	}

	gap := dst.Confidence - op.Rule.Confidence
	if gap < 0 {
		gap = -gap
	}
	conflict = gap > ConflictSpread

	if w > 0 {
		total := float64(dst.SupportCount + w)
		if total > 0 {
			dst.Confidence = clamp01(
				(dst.Confidence*float64(dst.SupportCount) + op.Rule.Confidence*float64(w)) / total)
		}
		dst.SupportCount += w
	}
	if op.ContradictionWeight > 0 {
		dst.ContradictionCount += op.ContradictionWeight
	}

	attributed := false
	for _, c := range dst.Creators {
		if c == op.Rule.CreatorID {
			attributed = true
			break
		}
	}
	if !attributed {
		dst.Creators = append(dst.Creators, op.Rule.CreatorID)
		dst.OccurrenceCount = len(dst.Creators)
	}
	return conflict
}
