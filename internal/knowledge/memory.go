package knowledge

import (
	"context"
	"sort"
	"time"
)

// StoreOptions configure a rule store implementation.
type StoreOptions struct {
	// Confidence supplies the initial-confidence derivation for Put.
	Confidence ConfidenceParams

	// LockTimeout bounds per-fingerprint lock waits before ErrStoreBusy.
	LockTimeout time.Duration
}

// DefaultStoreOptions returns store options with default parameters.
func DefaultStoreOptions() StoreOptions {
	return StoreOptions{
		Confidence:  DefaultConfidenceParams(),
		LockTimeout: time.Second,
	}
}

// MemoryStore is an in-memory Store implementation. It backs unit tests
// and short-lived simulation runs that do not need persistence across
// processes; the SQLite store is the durable implementation.
type MemoryStore struct {
	scope  Scope
	opts   StoreOptions
	locks  *KeyedMutex
	mu     chan struct{} // store-level slot guarding the maps
	byHash map[string]*Rule
	byID   map[string]string // rule ID -> content hash
	closed bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(scope Scope, opts StoreOptions) *MemoryStore {
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = time.Second
	}
	s := &MemoryStore{
		scope:  scope,
		opts:   opts,
		locks:  NewKeyedMutex(opts.LockTimeout),
		mu:     make(chan struct{}, 1),
		byHash: make(map[string]*Rule),
		byID:   make(map[string]string),
	}
	return s
}

// Scope implements Store.
func (s *MemoryStore) Scope() Scope { return s.scope }

// acquire takes the store-level slot with a bounded wait.
func (s *MemoryStore) acquire(ctx context.Context) (func(), error) {
	timer := time.NewTimer(s.opts.LockTimeout)
	defer timer.Stop()
	select {
	case s.mu <- struct{}{}:
		if s.closed {
			<-s.mu
			return nil, ErrStoreClosed
		}
		return func() { <-s.mu }, nil
	case <-timer.C:
		return nil, ErrStoreBusy
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Put implements Store. Repeated identical candidates fold into a support
// increment of the existing row.
func (s *MemoryStore) Put(ctx context.Context, c *RuleCandidate) (*Rule, bool, error) {
	if err := c.Validate(); err != nil {
		return nil, false, err
	}
	fp := Fingerprint(c)

	release, err := s.locks.Lock(ctx, fp)
	if err != nil {
		return nil, false, err
	}
	defer release()

	unlock, err := s.acquire(ctx)
	if err != nil {
		return nil, false, err
	}
	defer unlock()

	if existing, ok := s.byHash[fp]; ok {
		existing.SupportCount += c.RawEvidenceCount
		return existing.Clone(), false, nil
	}

	rule := NewRule(c, fp, s.opts.Confidence.InitialConfidence(c.RawEvidenceCount))
	s.byHash[fp] = rule
	s.byID[rule.RuleID] = fp
	return rule.Clone(), true, nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, fingerprint string) (*Rule, error) {
	unlock, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	r, ok := s.byHash[fingerprint]
	if !ok {
		return nil, ErrRuleNotFound
	}
	return r.Clone(), nil
}

// GetByID implements Store.
func (s *MemoryStore) GetByID(ctx context.Context, ruleID string) (*Rule, error) {
	unlock, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	fp, ok := s.byID[ruleID]
	if !ok {
		return nil, ErrRuleNotFound
	}
	return s.byHash[fp].Clone(), nil
}

// Query implements Store. Results are ordered by creation time descending.
func (s *MemoryStore) Query(ctx context.Context, f Filter) ([]*Rule, error) {
	unlock, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var out []*Rule
	for _, r := range s.byHash {
		if f.Matches(r) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedTime.After(out[j].CreatedTime)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// UpdateAtomic implements Store. fn runs under the rule's fingerprint lock
// on a mutable copy; the copy replaces the stored rule only when fn
// succeeds and the result passes invariant validation.
func (s *MemoryStore) UpdateAtomic(ctx context.Context, ruleID string, fn func(*Rule) error) (*Rule, error) {
	unlock, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	fp, ok := s.byID[ruleID]
	unlock()
	if !ok {
		return nil, ErrRuleNotFound
	}

	release, err := s.locks.Lock(ctx, fp)
	if err != nil {
		return nil, err
	}
	defer release()

	unlock, err = s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	current, ok := s.byHash[fp]
	if !ok {
		return nil, ErrRuleNotFound
	}
	updated := current.Clone()
	if err := fn(updated); err != nil {
		return nil, err
	}
	if err := updated.Validate(); err != nil {
		return nil, err
	}
	s.byHash[fp] = updated
	return updated.Clone(), nil
}

// ApplyBatch implements Store. The whole batch applies under the
// store-level slot, so readers either see none of the batch or all of it.
func (s *MemoryStore) ApplyBatch(ctx context.Context, ops []MergeOp) (*BatchResult, error) {
	unlock, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	res := &BatchResult{}
	for _, op := range ops {
		if existing, ok := s.byHash[op.Rule.ContentHash]; ok {
			if MergeGlobal(existing, op) {
				res.Conflicts++
			}
			res.Merged++
			continue
		}
		fresh := NewGlobalRule(op)
		s.byHash[fresh.ContentHash] = fresh
		s.byID[fresh.RuleID] = fresh.ContentHash
		res.Inserted++
	}
	return res, nil
}

// Prune implements Store.
func (s *MemoryStore) Prune(ctx context.Context, policy PrunePolicy) (int, error) {
	unlock, err := s.acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer unlock()

	now := time.Now().UTC()
	pruned := 0
	for fp, r := range s.byHash {
		if policy.ShouldPrune(r, now) {
			delete(s.byHash, fp)
			delete(s.byID, r.RuleID)
			pruned++
		}
	}
	return pruned, nil
}

// Stats implements Store.
func (s *MemoryStore) Stats(ctx context.Context) (*StoreStats, error) {
	unlock, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	stats := &StoreStats{
		Scope:    s.scope,
		ByStatus: make(map[ValidationStatus]int),
		ByType:   make(map[RuleType]int),
	}
	var sum float64
	for _, r := range s.byHash {
		stats.TotalRules++
		stats.ByStatus[r.ValidationStatus]++
		stats.ByType[r.RuleType]++
		sum += r.Confidence
	}
	if stats.TotalRules > 0 {
		stats.MeanConfidence = sum / float64(stats.TotalRules)
	}
	return stats, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu <- struct{}{}
	s.closed = true
	<-s.mu
	return nil
}
