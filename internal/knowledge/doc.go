// Package knowledge implements the experience-to-rule knowledge base used
// by survival-simulation agents.
//
// Agents observe the world, mine candidate rules from raw experience, and
// feed them through this package, which turns noisy candidates into a
// validated, confidence-scored rule base and periodically shares the best
// rules across the agent population.
//
// # Core Concepts
//
// A Rule is a condition-to-prediction mapping over predicate sets: "when
// these predicates hold, acting produces these predicted outcomes". Each
// rule carries:
//   - A content fingerprint derived from its type, conditions, and
//     predictions (creator identity excluded)
//   - A confidence score in [0, 1] driven multiplicatively by outcomes
//   - Support and contradiction evidence counters
//   - A lifecycle status: candidate, validated, or rejected
//
// # Intake and Deduplication
//
// IngestCandidate fingerprints each candidate and checks the store. A
// duplicate strengthens the existing rule's support count instead of
// creating a second row, so intake is idempotent per fingerprint.
//
// # Confidence and Validation
//
// The ConfidenceUpdater applies outcome evidence multiplicatively: success
// scales confidence by 1.3, failure by 0.8, partial success by 1.1, always
// clamped to [0, 1]. The ValidationEngine promotes candidates once they
// accumulate enough evidence, confidence, and success rate; rules about
// survival-critical predictions face a stricter success-rate bar. Rules
// whose contradictions overtake their support are rejected.
//
// # Synchronization
//
// Each agent owns a direct store. The Synchronizer periodically collects
// validated rules above the sharing threshold, computes the evidence delta
// since the previous cycle, and merges the batch atomically into the
// shared total store. Merges of the same fingerprint combine confidence by
// evidence-weighted average and attribute every contributing creator.
//
// # Usage
//
//	store := knowledge.NewMemoryStore(knowledge.ScopeDirect, knowledge.DefaultStoreOptions())
//	updater := knowledge.NewConfidenceUpdater(knowledge.DefaultConfidenceParams())
//	engine, err := knowledge.NewValidationEngine(knowledge.DefaultThresholds(), updater, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc, err := knowledge.NewService(store, updater, engine, knowledge.WithLogger(logger))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	rule, err := svc.IngestCandidate(ctx, candidate)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	deltas := map[string]float64{"food": 5}
//	outcome := knowledge.StandardOutcome(deltas, knowledge.SurvivalHealthy)
//	err = svc.RecordOutcome(ctx, rule.RuleID, outcome.Evidence(deltas, knowledge.SurvivalHealthy))
//
// The in-memory store here backs tests and single-process simulations; the
// rulestore package provides the SQLite-backed production store.
package knowledge
