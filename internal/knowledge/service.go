package knowledge

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// Service is one agent's entry point into its rule store: candidate intake
// with dedup and validation, outcome recording with progressive
// re-evaluation, and rule lookup for action selection.
//
// A Service owns exactly one direct store. The synchronizer, not the
// service, moves validated rules into the total store.
type Service struct {
	store   Store
	updater *ConfidenceUpdater
	engine  *ValidationEngine
	retry   RetryConfig
	logger  *zap.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithRetryConfig overrides the store-busy retry configuration.
func WithRetryConfig(cfg RetryConfig) ServiceOption {
	return func(s *Service) { s.retry = cfg }
}

// WithLogger sets the service logger.
func WithLogger(logger *zap.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

// NewService creates a service over the given store.
func NewService(store Store, updater *ConfidenceUpdater, engine *ValidationEngine, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if updater == nil {
		return nil, fmt.Errorf("confidence updater cannot be nil")
	}
	if engine == nil {
		return nil, fmt.Errorf("validation engine cannot be nil")
	}

	s := &Service{
		store:   store,
		updater: updater,
		engine:  engine,
		retry:   DefaultRetryConfig(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Store returns the underlying store.
func (s *Service) Store() Store { return s.store }

// IngestCandidate runs a candidate through dedup, persistence, and
// immediate validation, returning the resulting rule.
//
// Intake is idempotent per fingerprint: repeated identical candidates
// increment the existing rule's support count instead of creating rows,
// and a duplicate is not an error. Malformed candidates fail with
// ErrMalformedCandidate and are discarded, not retried.
func (s *Service) IngestCandidate(ctx context.Context, c *RuleCandidate) (*Rule, error) {
	if err := c.Validate(); err != nil {
		CandidatesTotal.WithLabelValues("malformed").Inc()
		return nil, err
	}

	var rule *Rule
	var isNew bool
	err := retryBusy(ctx, s.retry, func() error {
		var putErr error
		rule, isNew, putErr = s.store.Put(ctx, c)
		return putErr
	})
	if err != nil {
		CandidatesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("ingesting candidate: %w", err)
	}

	if isNew {
		CandidatesTotal.WithLabelValues("new").Inc()
	} else {
		CandidatesTotal.WithLabelValues("duplicate").Inc()
	}

	// Immediate validation: a candidate arriving with enough raw evidence
	// may promote on the spot.
	updated, err := s.evaluate(ctx, rule.RuleID)
	if err != nil {
		// The rule is persisted; a busy store only defers evaluation to
		// the next evidence event.
		s.logger.Warn("intake evaluation deferred",
			zap.String("rule_id", rule.RuleID),
			zap.Error(err))
		return rule, nil
	}

	s.logger.Debug("candidate ingested",
		zap.String("rule_id", updated.RuleID),
		zap.String("fingerprint", updated.ContentHash),
		zap.String("rule_type", string(updated.RuleType)),
		zap.Bool("new", isNew),
		zap.String("status", string(updated.ValidationStatus)),
		zap.Float64("confidence", updated.Confidence))
	return updated, nil
}

// RecordOutcome applies one outcome evidence event to a rule and
// re-evaluates its lifecycle (progressive confidence).
func (s *Service) RecordOutcome(ctx context.Context, ruleID string, ev Evidence) error {
	if ruleID == "" {
		return fmt.Errorf("rule ID cannot be empty")
	}

	var updated *Rule
	err := retryBusy(ctx, s.retry, func() error {
		var updErr error
		updated, updErr = s.store.UpdateAtomic(ctx, ruleID, func(r *Rule) error {
			s.updater.Apply(r, ev)
			decision := s.engine.Evaluate(r)
			DecisionsTotal.WithLabelValues(string(decision)).Inc()
			return nil
		})
		return updErr
	})
	if err != nil {
		return fmt.Errorf("recording outcome: %w", err)
	}

	switch {
	case ev.Success && ev.Partial:
		OutcomesTotal.WithLabelValues("partial").Inc()
	case ev.Success:
		OutcomesTotal.WithLabelValues("success").Inc()
	default:
		OutcomesTotal.WithLabelValues("failure").Inc()
	}
	RuleConfidence.Observe(updated.Confidence)

	s.logger.Debug("outcome recorded",
		zap.String("rule_id", ruleID),
		zap.Bool("success", ev.Success),
		zap.Bool("partial", ev.Partial),
		zap.Float64("confidence", updated.Confidence),
		zap.String("status", string(updated.ValidationStatus)))
	return nil
}

// RecordOutcomeByFingerprint resolves a fingerprint to its rule and records
// the evidence. Convenience for feedback sources that track rules by
// content hash rather than store identity.
func (s *Service) RecordOutcomeByFingerprint(ctx context.Context, fingerprint string, ev Evidence) error {
	rule, err := s.store.Get(ctx, fingerprint)
	if err != nil {
		return err
	}
	return s.RecordOutcome(ctx, rule.RuleID, ev)
}

// LookupApplicableRules returns the validated rules whose conditions are
// satisfied by the current situation, ordered by confidence descending with
// ties broken by support count and then recency. This is the read path of
// the agent's action-selection logic.
func (s *Service) LookupApplicableRules(ctx context.Context, current Predicates) ([]*Rule, error) {
	validated, err := s.store.Query(ctx, Filter{Status: StatusValidated})
	if err != nil {
		return nil, fmt.Errorf("querying validated rules: %w", err)
	}

	applicable := validated[:0]
	for _, r := range validated {
		if r.Conditions.SubsetOf(current) {
			applicable = append(applicable, r)
		}
	}

	sort.SliceStable(applicable, func(i, j int) bool {
		a, b := applicable[i], applicable[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if a.SupportCount != b.SupportCount {
			return a.SupportCount > b.SupportCount
		}
		return a.CreatedTime.After(b.CreatedTime)
	})
	return applicable, nil
}

// Prune applies the explicit pruning policy to the service's store.
func (s *Service) Prune(ctx context.Context, policy PrunePolicy) (int, error) {
	pruned, err := s.store.Prune(ctx, policy)
	if err != nil {
		return 0, err
	}
	if pruned > 0 {
		s.logger.Info("rules pruned",
			zap.Int("count", pruned),
			zap.Duration("min_age", policy.MinAge))
	}
	return pruned, nil
}

// evaluate re-runs the validation engine on a rule under its write lock.
func (s *Service) evaluate(ctx context.Context, ruleID string) (*Rule, error) {
	return s.store.UpdateAtomic(ctx, ruleID, func(r *Rule) error {
		decision := s.engine.Evaluate(r)
		DecisionsTotal.WithLabelValues(string(decision)).Inc()
		return nil
	})
}
