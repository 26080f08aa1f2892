package knowledge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// syncMark remembers how much of a rule's evidence a previous sync cycle
// already pushed into the global store. Subsequent cycles ship only the
// delta, so evidence is never counted twice.
type syncMark struct {
	support       int
	contradiction int
}

// Synchronizer periodically merges validated rules from each agent's
// direct store into the shared global store.
//
// Thread Safety: all public methods are thread-safe. The running state is
// protected by a mutex to prevent races during Start/Stop.
type Synchronizer struct {
	// interval is the time between sync cycles.
	interval time.Duration

	// threshold is the minimum confidence a validated rule needs before
	// it is shared globally.
	threshold float64

	// decay, if > 0, multiplies the confidence of every global rule that
	// received no evidence during a cycle. Stale knowledge fades unless
	// re-supported.
	decay float64

	global Store

	// mu protects running, stopCh, agents, and marks.
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}

	agents map[string]Store
	marks  map[string]map[string]syncMark // agentID -> ruleID -> mark

	logger *zap.Logger
}

// SynchronizerOption configures a Synchronizer.
type SynchronizerOption func(*Synchronizer)

// WithSyncInterval sets the time between background sync cycles.
// Defaults to 30 seconds.
func WithSyncInterval(interval time.Duration) SynchronizerOption {
	return func(s *Synchronizer) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// WithSharingThreshold sets the minimum confidence a validated rule needs
// before it is shared. Defaults to 0.6.
func WithSharingThreshold(threshold float64) SynchronizerOption {
	return func(s *Synchronizer) { s.threshold = threshold }
}

// WithConfidenceDecay enables per-cycle confidence decay on global rules
// that received no evidence during the cycle. A factor of 0 disables
// decay.
func WithConfidenceDecay(factor float64) SynchronizerOption {
	return func(s *Synchronizer) { s.decay = factor }
}

// NewSynchronizer creates a synchronizer over the given global store.
//
// The synchronizer does not start automatically; call Start to begin
// scheduled sync cycles, or RunCycle to sync on demand.
func NewSynchronizer(global Store, logger *zap.Logger, opts ...SynchronizerOption) (*Synchronizer, error) {
	if global == nil {
		return nil, fmt.Errorf("global store cannot be nil")
	}
	if global.Scope() != ScopeTotal {
		return nil, fmt.Errorf("global store must have scope %q, got %q", ScopeTotal, global.Scope())
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Synchronizer{
		interval:  30 * time.Second,
		threshold: 0.6,
		global:    global,
		agents:    make(map[string]Store),
		marks:     make(map[string]map[string]syncMark),
		stopCh:    make(chan struct{}),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Register adds an agent's direct store to the sync set. Registering the
// same agent ID again replaces the previous store and resets its marks.
func (s *Synchronizer) Register(agentID string, direct Store) error {
	if agentID == "" {
		return fmt.Errorf("agent ID cannot be empty")
	}
	if direct == nil {
		return fmt.Errorf("direct store cannot be nil")
	}
	if direct.Scope() != ScopeDirect {
		return fmt.Errorf("agent store must have scope %q, got %q", ScopeDirect, direct.Scope())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[agentID] = direct
	s.marks[agentID] = make(map[string]syncMark)
	return nil
}

// Start begins the background sync loop.
//
// Idempotent in the error-returning sense: starting an already running
// synchronizer returns an error without spawning a second goroutine.
func (s *Synchronizer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("synchronizer is already running")
	}

	s.stopCh = make(chan struct{})
	s.running = true

	s.logger.Info("knowledge synchronizer started",
		zap.Duration("interval", s.interval),
		zap.Float64("sharing_threshold", s.threshold),
	)

	go s.run()
	return nil
}

// Stop signals the background loop to exit. In-flight batches complete;
// no new batches begin after the signal. Calling Stop on a stopped
// synchronizer is a no-op.
func (s *Synchronizer) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		s.logger.Debug("synchronizer stop called but not running")
		return nil
	}

	s.logger.Info("stopping knowledge synchronizer")
	s.running = false
	close(s.stopCh)
	return nil
}

// run is the main sync loop. Errors from individual cycles are logged and
// never stop the loop.
func (s *Synchronizer) run() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("synchronizer goroutine panicked, recovering",
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
		}
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.safeRunCycle()
		case <-s.stopCh:
			s.logger.Debug("synchronizer received stop signal")
			return
		}
	}
}

func (s *Synchronizer) safeRunCycle() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("sync cycle panicked, continuing",
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if _, err := s.RunCycle(ctx); err != nil {
		SyncBatchesTotal.WithLabelValues("error").Inc()
		s.logger.Error("sync cycle failed", zap.Error(err))
	}
}

// SyncResult summarizes one sync cycle.
type SyncResult struct {
	Agents    int
	Shared    int
	Inserted  int
	Merged    int
	Conflicts int
	Duration  time.Duration
}

// RunCycle executes one synchronization pass: for every registered agent,
// collect validated rules at or above the sharing threshold, compute the
// evidence delta since the last cycle, and apply the batch atomically to
// the global store. An agent whose batch fails keeps its marks, so its
// evidence is retried on the next cycle.
func (s *Synchronizer) RunCycle(ctx context.Context) (*SyncResult, error) {
	start := time.Now()

	s.mu.Lock()
	agents := make(map[string]Store, len(s.agents))
	for id, st := range s.agents {
		agents[id] = st
	}
	s.mu.Unlock()

	result := &SyncResult{Agents: len(agents)}
	touched := make(map[string]struct{})
	var firstErr error

	for agentID, direct := range agents {
		ops, marks, err := s.collect(ctx, agentID, direct)
		if err != nil {
			s.logger.Warn("collecting shareable rules failed",
				zap.String("agent_id", agentID),
				zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if len(ops) == 0 {
			continue
		}

		applied, err := s.global.ApplyBatch(ctx, ops)
		if err != nil {
			s.logger.Warn("applying sync batch failed",
				zap.String("agent_id", agentID),
				zap.Int("ops", len(ops)),
				zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		// Batch landed: advance this agent's high-water marks and spare
		// the merged rules from this cycle's decay pass.
		s.commitMarks(agentID, marks)
		for _, op := range ops {
			touched[op.Rule.ContentHash] = struct{}{}
		}

		result.Shared += len(ops)
		result.Inserted += applied.Inserted
		result.Merged += applied.Merged
		result.Conflicts += applied.Conflicts

		SyncMergedRules.WithLabelValues("inserted").Add(float64(applied.Inserted))
		SyncMergedRules.WithLabelValues("merged").Add(float64(applied.Merged))
		SyncConflictsTotal.Add(float64(applied.Conflicts))
	}

	if s.decay > 0 && s.decay < 1 {
		if err := s.applyDecay(ctx, touched); err != nil {
			s.logger.Warn("confidence decay failed", zap.Error(err))
		}
	}

	result.Duration = time.Since(start)
	if result.Shared == 0 {
		SyncBatchesTotal.WithLabelValues("empty").Inc()
	} else {
		SyncBatchesTotal.WithLabelValues("applied").Inc()
		s.logger.Info("sync cycle completed",
			zap.Int("agents", result.Agents),
			zap.Int("shared", result.Shared),
			zap.Int("inserted", result.Inserted),
			zap.Int("merged", result.Merged),
			zap.Int("conflicts", result.Conflicts),
			zap.Duration("duration", result.Duration),
		)
	}

	if stats, err := s.global.Stats(ctx); err == nil {
		UpdateStoreGauges(stats)
	}

	return result, firstErr
}

// collect builds the delta batch for one agent along with the marks to
// commit once the batch is applied.
func (s *Synchronizer) collect(ctx context.Context, agentID string, direct Store) ([]MergeOp, map[string]syncMark, error) {
	rules, err := direct.Query(ctx, Filter{
		Status:        StatusValidated,
		MinConfidence: s.threshold,
	})
	if err != nil {
		return nil, nil, err
	}

	s.mu.Lock()
	prev := s.marks[agentID]
	s.mu.Unlock()

	var ops []MergeOp
	marks := make(map[string]syncMark, len(rules))
	for _, r := range rules {
		mark := prev[r.RuleID]
		dSupport := r.SupportCount - mark.support
		dContra := r.ContradictionCount - mark.contradiction
		if dSupport <= 0 && dContra <= 0 {
			continue
		}
		if dSupport < 0 {
			dSupport = 0
		}
		if dContra < 0 {
			dContra = 0
		}
		ops = append(ops, MergeOp{
			Rule:                r,
			Weight:              dSupport,
			ContradictionWeight: dContra,
		})
		marks[r.RuleID] = syncMark{
			support:       r.SupportCount,
			contradiction: r.ContradictionCount,
		}
	}
	return ops, marks, nil
}

func (s *Synchronizer) commitMarks(agentID string, marks map[string]syncMark) {
	s.mu.Lock()
	defer s.mu.Unlock()
	agentMarks, ok := s.marks[agentID]
	if !ok {
		agentMarks = make(map[string]syncMark)
		s.marks[agentID] = agentMarks
	}
	for id, m := range marks {
		agentMarks[id] = m
	}
}

// applyDecay multiplies the confidence of every global rule by the decay
// factor, skipping rules whose evidence merged this cycle. Fresh evidence
// resets a rule's staleness clock.
func (s *Synchronizer) applyDecay(ctx context.Context, touched map[string]struct{}) error {
	rules, err := s.global.Query(ctx, Filter{})
	if err != nil {
		return err
	}
	for _, r := range rules {
		if _, ok := touched[r.ContentHash]; ok {
			continue
		}
		_, err := s.global.UpdateAtomic(ctx, r.RuleID, func(rule *Rule) error {
			rule.Confidence = clamp01(rule.Confidence * s.decay)
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}
