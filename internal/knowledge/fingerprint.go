package knowledge

import (
	"context"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint computes the content hash of a candidate's predicate
// structure. Equality is structural: the hash covers the rule type and the
// condition and prediction pairs in canonical (sorted) order, so two
// candidates that differ only in pair ordering produce the same fingerprint.
// CreatorID is deliberately excluded - equivalent rules from different
// agents dedup to one row, with cross-agent corroboration tracked via
// OccurrenceCount in the total store.
func Fingerprint(c *RuleCandidate) string {
	h := xxhash.New()
	h.WriteString(string(c.RuleType))
	h.WriteString("\x1f")
	writePredicates(h, c.Conditions)
	h.WriteString("\x1e")
	writePredicates(h, c.Predictions)
	return fmt.Sprintf("%016x", h.Sum64())
}

func writePredicates(h *xxhash.Digest, p Predicates) {
	for _, k := range p.SortedKeys() {
		h.WriteString(k)
		h.WriteString("=")
		h.WriteString(p[k].canonical())
		h.WriteString("\x1f")
	}
}

// Deduplicator decides novel-vs-duplicate for incoming candidates against a
// store. It is a thin wrapper over Fingerprint and the store's hash index;
// the store's Put remains the authority (it folds duplicates into support
// increments atomically), so Check is advisory and race-free callers should
// rely on Put's isNew result.
type Deduplicator struct {
	store Store
}

// NewDeduplicator creates a deduplicator backed by the given store.
func NewDeduplicator(store Store) *Deduplicator {
	return &Deduplicator{store: store}
}

// Check returns the candidate's fingerprint and, when a rule with that
// fingerprint already exists in the store, the existing rule.
func (d *Deduplicator) Check(ctx context.Context, c *RuleCandidate) (string, *Rule, error) {
	fp := Fingerprint(c)
	existing, err := d.store.Get(ctx, fp)
	if err != nil {
		if errors.Is(err, ErrRuleNotFound) {
			return fp, nil, nil
		}
		return fp, nil, err
	}
	return fp, existing, nil
}
