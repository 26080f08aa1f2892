package knowledge

import (
	"context"
	"time"
)

// Scope distinguishes the two logical store kinds.
type Scope string

const (
	// ScopeDirect is a per-agent local store.
	ScopeDirect Scope = "direct"

	// ScopeTotal is the cross-agent global store.
	ScopeTotal Scope = "total"
)

// Filter selects rules in Query. Zero fields match everything; results are
// ordered by creation time descending unless stated otherwise.
type Filter struct {
	CreatorID string
	RuleType  RuleType
	Status    ValidationStatus

	// Since/Until bound CreatedTime (inclusive lower, exclusive upper).
	Since time.Time
	Until time.Time

	// MinConfidence drops rules below the given confidence.
	MinConfidence float64

	// Limit caps the result count; zero means no limit.
	Limit int
}

// Matches reports whether a rule satisfies the filter.
func (f Filter) Matches(r *Rule) bool {
	if f.CreatorID != "" && r.CreatorID != f.CreatorID {
		return false
	}
	if f.RuleType != "" && r.RuleType != f.RuleType {
		return false
	}
	if f.Status != "" && r.ValidationStatus != f.Status {
		return false
	}
	if !f.Since.IsZero() && r.CreatedTime.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !r.CreatedTime.Before(f.Until) {
		return false
	}
	if f.MinConfidence > 0 && r.Confidence < f.MinConfidence {
		return false
	}
	return true
}

// MergeOp is one rule contribution applied to the total store during a
// synchronization batch. Weight and ContradictionWeight are the evidence
// deltas accumulated in the source store since its last successful sync,
// so repeated cycles never double-count evidence.
type MergeOp struct {
	// Rule is a snapshot of the validated local rule.
	Rule *Rule

	// Weight is the support-count delta contributed by this sync.
	Weight int

	// ContradictionWeight is the contradiction-count delta.
	ContradictionWeight int
}

// BatchResult reports what ApplyBatch did with a sync batch.
type BatchResult struct {
	// Inserted counts rules that were new to the store.
	Inserted int

	// Merged counts rules folded into an existing row.
	Merged int

	// Conflicts counts merges whose confidence estimates disagreed by
	// more than the conflict spread.
	Conflicts int
}

// PrunePolicy is the explicit deletion policy. Rules are logically deleted
// only through it, never due to storage pressure.
type PrunePolicy struct {
	// MinAge protects young rules regardless of their record.
	MinAge time.Duration `json:"min_age" koanf:"min_age"`

	// MaxConfidence: only rules at or below it are candidates for pruning.
	MaxConfidence float64 `json:"max_confidence" koanf:"max_confidence"`

	// MinContradictionRatio: contradiction fraction a rule must exceed.
	MinContradictionRatio float64 `json:"min_contradiction_ratio" koanf:"min_contradiction_ratio"`
}

// DefaultPrunePolicy returns the default pruning policy.
func DefaultPrunePolicy() PrunePolicy {
	return PrunePolicy{
		MinAge:                24 * time.Hour,
		MaxConfidence:         0.05,
		MinContradictionRatio: 0.6,
	}
}

// ShouldPrune reports whether the policy condemns the rule at time now.
func (p PrunePolicy) ShouldPrune(r *Rule, now time.Time) bool {
	if now.Sub(r.CreatedTime) < p.MinAge {
		return false
	}
	if r.Confidence > p.MaxConfidence {
		return false
	}
	n := r.EvidenceCount()
	if n == 0 {
		return false
	}
	return float64(r.ContradictionCount)/float64(n) > p.MinContradictionRatio
}

// StoreStats summarizes a store's contents.
type StoreStats struct {
	Scope          Scope                    `json:"scope"`
	TotalRules     int                      `json:"total_rules"`
	ByStatus       map[ValidationStatus]int `json:"by_status"`
	ByType         map[RuleType]int         `json:"by_type"`
	MeanConfidence float64                  `json:"mean_confidence"`
}

// Store is the persistence contract for one logical rule store (direct or
// total). Implementations must guarantee:
//
//   - at most one live rule per content hash (fingerprint uniqueness);
//   - Put idempotence: a duplicate fingerprint folds into a support
//     increment of RawEvidenceCount instead of a new row;
//   - single-writer-per-fingerprint: all mutation of one rule is
//     serialized, while operations on unrelated rules proceed
//     concurrently;
//   - snapshot reads: Get and Query never expose partially-updated rules;
//   - bounded lock waits: lock-acquisition timeouts surface ErrStoreBusy
//     rather than blocking indefinitely.
type Store interface {
	// Scope reports whether this is a direct or total store.
	Scope() Scope

	// Put ingests a candidate. When the fingerprint is new it persists a
	// fresh rule (status candidate) and returns isNew=true; otherwise it
	// increments the existing rule's support count by the candidate's raw
	// evidence count and returns the updated rule with isNew=false.
	// Malformed candidates fail with ErrMalformedCandidate.
	Put(ctx context.Context, c *RuleCandidate) (rule *Rule, isNew bool, err error)

	// Get returns the rule with the given fingerprint, or ErrRuleNotFound.
	Get(ctx context.Context, fingerprint string) (*Rule, error)

	// GetByID returns the rule with the given rule ID, or ErrRuleNotFound.
	GetByID(ctx context.Context, ruleID string) (*Rule, error)

	// Query returns rules matching the filter, ordered by creation time
	// descending.
	Query(ctx context.Context, f Filter) ([]*Rule, error)

	// UpdateAtomic applies fn to the rule under its fingerprint lock and
	// persists the result. fn receives a mutable copy; returning an error
	// aborts the update without persisting.
	UpdateAtomic(ctx context.Context, ruleID string, fn func(*Rule) error) (*Rule, error)

	// ApplyBatch merges a synchronization batch atomically: either every
	// op lands or, on failure, none do. Only meaningful on total stores.
	ApplyBatch(ctx context.Context, ops []MergeOp) (*BatchResult, error)

	// Prune deletes rules condemned by the policy and reports how many.
	Prune(ctx context.Context, policy PrunePolicy) (int, error)

	// Stats summarizes the store's contents.
	Stats(ctx context.Context) (*StoreStats, error)

	// Close releases the store's resources.
	Close() error
}
