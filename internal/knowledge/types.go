package knowledge

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Common errors for knowledge-base operations.
var (
	ErrMalformedCandidate = errors.New("malformed rule candidate")
	ErrRuleNotFound       = errors.New("rule not found")
	ErrStoreBusy          = errors.New("rule store busy")
	ErrStoreClosed        = errors.New("rule store closed")
	ErrPersistenceFailure = errors.New("persistence failure")
	ErrInvalidConfidence  = errors.New("confidence must be between 0.0 and 1.0")
)

// RuleType classifies what kind of regularity a rule captures.
type RuleType string

const (
	// RuleActionOutcome links an action in a context to its observed result.
	RuleActionOutcome RuleType = "action-outcome"

	// RuleResourceLocation links an environment feature to a resource found there.
	RuleResourceLocation RuleType = "resource-location"

	// RuleThreatAvoidance links a context to a threat that should be avoided.
	RuleThreatAvoidance RuleType = "threat-avoidance"

	// RuleToolUse links a tool and target to the effect of using them together.
	RuleToolUse RuleType = "tool-use"

	// RuleSocialExchange links an interaction with another agent to its outcome.
	RuleSocialExchange RuleType = "social-exchange"
)

// ValidationStatus is the lifecycle state of a rule.
//
// Status moves forward only: candidate -> validated (terminal success) or
// candidate -> rejected (terminal failure). A validated rule never regresses
// to candidate; a rejected rule never changes again.
type ValidationStatus string

const (
	// StatusCandidate is the initial state of a freshly ingested rule.
	StatusCandidate ValidationStatus = "candidate"

	// StatusValidated marks a rule that passed the promotion thresholds.
	StatusValidated ValidationStatus = "validated"

	// StatusRejected marks a rule whose evidence contradicts it. Terminal.
	StatusRejected ValidationStatus = "rejected"
)

// rank orders statuses for the forward-only transition check.
func (s ValidationStatus) rank() int {
	switch s {
	case StatusCandidate:
		return 0
	case StatusValidated:
		return 1
	case StatusRejected:
		return 2
	default:
		return -1
	}
}

// CanTransition reports whether a rule may move from s to next.
func (s ValidationStatus) CanTransition(next ValidationStatus) bool {
	if s == next {
		return true
	}
	// Both terminal states only admit themselves.
	if s == StatusValidated || s == StatusRejected {
		return false
	}
	return next.rank() > s.rank()
}

// ValueKind identifies the type of a predicate value.
type ValueKind string

const (
	KindString ValueKind = "string"
	KindInt    ValueKind = "int"
	KindFloat  ValueKind = "float"
	KindBool   ValueKind = "bool"
)

// Value is a typed predicate value. The closed set of kinds keeps
// fingerprinting and persistence deterministic; rules never carry
// arbitrary structures.
type Value struct {
	Kind  ValueKind `json:"kind"`
	Str   string    `json:"str,omitempty"`
	Int   int64     `json:"int,omitempty"`
	Float float64   `json:"float,omitempty"`
	Bool  bool      `json:"bool,omitempty"`
}

// String returns a string-kind value.
func String(s string) Value { return Value{Kind: KindString, Str: s} }

// Int returns an int-kind value.
func Int(i int64) Value { return Value{Kind: KindInt, Int: i} }

// Float returns a float-kind value.
func Float(f float64) Value { return Value{Kind: KindFloat, Float: f} }

// Bool returns a bool-kind value.
func Bool(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// Equal reports structural equality of two values.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindString:
		return v.Str == o.Str
	case KindInt:
		return v.Int == o.Int
	case KindFloat:
		return v.Float == o.Float
	case KindBool:
		return v.Bool == o.Bool
	}
	return false
}

// canonical returns the deterministic wire form used for fingerprinting.
func (v Value) canonical() string {
	switch v.Kind {
	case KindString:
		return "s:" + v.Str
	case KindInt:
		return "i:" + strconv.FormatInt(v.Int, 10)
	case KindFloat:
		return "f:" + strconv.FormatFloat(v.Float, 'g', -1, 64)
	case KindBool:
		return "b:" + strconv.FormatBool(v.Bool)
	}
	return "?"
}

// Predicates maps predicate names (environment, action, tool, ...) to typed
// values. Iteration order is canonicalized wherever determinism matters, so
// two predicate sets that differ only in insertion order are equivalent.
type Predicates map[string]Value

// SortedKeys returns the predicate names in canonical (sorted) order.
func (p Predicates) SortedKeys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a deep copy.
func (p Predicates) Clone() Predicates {
	out := make(Predicates, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// SubsetOf reports whether every predicate in p is present in other with an
// equal value. Used to decide whether a rule applies to a situation.
func (p Predicates) SubsetOf(other Predicates) bool {
	for k, v := range p {
		ov, ok := other[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// RuleCandidate is an unvalidated condition->prediction hypothesis produced
// by the behavior-pattern miner. Candidates are ephemeral and have no
// identity beyond their content; the store assigns a RuleID on first
// persistence.
type RuleCandidate struct {
	// RuleType classifies the regularity this candidate captures.
	RuleType RuleType `json:"rule_type"`

	// Conditions are the predicates that must hold for the rule to fire.
	Conditions Predicates `json:"conditions"`

	// Predictions are the expected outcome fields if the conditions hold.
	Predictions Predicates `json:"predictions"`

	// RawEvidenceCount is how many observations backed this candidate at
	// mining time. Must be >= 1.
	RawEvidenceCount int `json:"raw_evidence_count"`

	// CreatorID identifies the agent that mined this candidate.
	CreatorID string `json:"creator_id"`
}

// Validate checks structural well-formedness. A candidate that fails here is
// discarded with ErrMalformedCandidate and never persisted.
func (c *RuleCandidate) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: nil candidate", ErrMalformedCandidate)
	}
	if c.RuleType == "" {
		return fmt.Errorf("%w: missing rule type", ErrMalformedCandidate)
	}
	if len(c.Conditions) == 0 {
		return fmt.Errorf("%w: no conditions", ErrMalformedCandidate)
	}
	if len(c.Predictions) == 0 {
		return fmt.Errorf("%w: no predictions", ErrMalformedCandidate)
	}
	if c.RawEvidenceCount < 1 {
		return fmt.Errorf("%w: raw evidence count must be >= 1", ErrMalformedCandidate)
	}
	if c.CreatorID == "" {
		return fmt.Errorf("%w: missing creator", ErrMalformedCandidate)
	}
	for name, v := range c.Conditions {
		if name == "" || v.Kind == "" {
			return fmt.Errorf("%w: invalid condition predicate", ErrMalformedCandidate)
		}
	}
	for name, v := range c.Predictions {
		if name == "" || v.Kind == "" {
			return fmt.Errorf("%w: invalid prediction field", ErrMalformedCandidate)
		}
	}
	return nil
}

// Complexity is the number of condition predicates plus prediction fields.
// The validation engine caps the confidence of overly complex rules.
func (c *RuleCandidate) Complexity() int {
	return len(c.Conditions) + len(c.Predictions)
}

// Rule is a persisted, confidence-scored behavioral rule.
//
// The predicate content (RuleType, Conditions, Predictions) is immutable
// after creation: a semantic change always produces a new fingerprint, never
// an in-place edit. Confidence and the evidence counters are mutated only
// through the confidence updater, and ValidationStatus only through the
// validation engine.
type Rule struct {
	// RuleID is unique within the owning store, assigned on first persistence.
	RuleID string `json:"rule_id"`

	// RuleType, Conditions, Predictions mirror the candidate that spawned
	// this rule.
	RuleType    RuleType   `json:"rule_type"`
	Conditions  Predicates `json:"conditions"`
	Predictions Predicates `json:"predictions"`

	// ContentHash is the deterministic fingerprint of the predicate content.
	// It is the dedup key: each store holds at most one live rule per hash.
	ContentHash string `json:"content_hash"`

	// Confidence is the current reliability estimate in [0,1].
	Confidence float64 `json:"confidence"`

	// SupportCount and ContradictionCount tally evidence events that agreed
	// or disagreed with the rule's prediction. They never decrease.
	SupportCount       int `json:"support_count"`
	ContradictionCount int `json:"contradiction_count"`

	// ValidationStatus is the lifecycle state. Moves forward only.
	ValidationStatus ValidationStatus `json:"validation_status"`

	// OccurrenceCount is maintained by the total (global) store only: the
	// number of distinct agents that independently produced an equivalent
	// rule. Zero in agent-local stores.
	OccurrenceCount int `json:"occurrence_count,omitempty"`

	// Creators lists the distinct creator IDs attributed in the total store.
	// Nil in agent-local stores.
	Creators []string `json:"creators,omitempty"`

	// Streak counts consecutive evidence events in the same direction, and
	// LastSignal records that direction (+1 support, -1 contradiction, 0
	// none yet). The validation engine grants a consistency bonus once the
	// streak reaches two.
	Streak     int `json:"streak"`
	LastSignal int `json:"last_signal"`

	// CreatorID and CreatedTime are provenance, immutable.
	CreatorID   string    `json:"creator_id"`
	CreatedTime time.Time `json:"created_time"`
}

// NewRule creates a rule from a validated candidate. The caller supplies the
// fingerprint and the initial confidence (derived from the candidate's raw
// evidence count by the service).
func NewRule(c *RuleCandidate, fingerprint string, initialConfidence float64) *Rule {
	return &Rule{
		RuleID:           uuid.New().String(),
		RuleType:         c.RuleType,
		Conditions:       c.Conditions.Clone(),
		Predictions:      c.Predictions.Clone(),
		ContentHash:      fingerprint,
		Confidence:       clamp01(initialConfidence),
		SupportCount:     c.RawEvidenceCount,
		ValidationStatus: StatusCandidate,
		CreatorID:        c.CreatorID,
		CreatedTime:      time.Now().UTC(),
	}
}

// EvidenceCount is the total number of evidence events observed for the rule.
func (r *Rule) EvidenceCount() int {
	return r.SupportCount + r.ContradictionCount
}

// SuccessRate is the fraction of evidence that supported the rule.
// Returns 0 when no evidence has been observed.
func (r *Rule) SuccessRate() float64 {
	n := r.EvidenceCount()
	if n == 0 {
		return 0
	}
	return float64(r.SupportCount) / float64(n)
}

// Complexity is the number of condition predicates plus prediction fields.
func (r *Rule) Complexity() int {
	return len(r.Conditions) + len(r.Predictions)
}

// Clone returns a deep copy. Stores hand out clones so that readers observe
// a consistent snapshot regardless of concurrent writers.
func (r *Rule) Clone() *Rule {
	out := *r
	out.Conditions = r.Conditions.Clone()
	out.Predictions = r.Predictions.Clone()
	if r.Creators != nil {
		out.Creators = append([]string(nil), r.Creators...)
	}
	return &out
}

// Validate checks store invariants on a rule row.
func (r *Rule) Validate() error {
	if r.RuleID == "" {
		return errors.New("rule ID cannot be empty")
	}
	if r.ContentHash == "" {
		return errors.New("content hash cannot be empty")
	}
	if r.Confidence < 0.0 || r.Confidence > 1.0 {
		return ErrInvalidConfidence
	}
	if r.SupportCount < 0 || r.ContradictionCount < 0 {
		return errors.New("evidence counts cannot be negative")
	}
	if r.ValidationStatus.rank() < 0 {
		return fmt.Errorf("unknown validation status %q", r.ValidationStatus)
	}
	return nil
}

// clamp01 bounds a confidence value to [0,1].
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
