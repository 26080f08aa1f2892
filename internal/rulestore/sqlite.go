// Package rulestore provides the SQLite-backed persistent rule store.
//
// It implements knowledge.Store on a single-file database using the pure-Go
// modernc.org/sqlite driver, so agents keep their learned rules across
// process restarts without any cgo or external database dependency.
package rulestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/fyrsmithlabs/rulebank/internal/knowledge"
)

const schema = `
CREATE TABLE IF NOT EXISTS rules (
	rule_id             TEXT PRIMARY KEY,
	rule_type           TEXT NOT NULL,
	conditions          TEXT NOT NULL,
	predictions         TEXT NOT NULL,
	content_hash        TEXT NOT NULL,
	confidence          REAL NOT NULL,
	support_count       INTEGER NOT NULL DEFAULT 0,
	contradiction_count INTEGER NOT NULL DEFAULT 0,
	validation_status   TEXT NOT NULL,
	occurrence_count    INTEGER NOT NULL DEFAULT 0,
	creators            TEXT,
	streak              INTEGER NOT NULL DEFAULT 0,
	last_signal         INTEGER NOT NULL DEFAULT 0,
	creator_id          TEXT NOT NULL,
	created_time        TIMESTAMP NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_rules_content_hash ON rules(content_hash);
CREATE INDEX IF NOT EXISTS idx_rules_status ON rules(validation_status);
CREATE INDEX IF NOT EXISTS idx_rules_creator ON rules(creator_id);
`

const ruleColumns = `rule_id, rule_type, conditions, predictions, content_hash,
	confidence, support_count, contradiction_count, validation_status,
	occurrence_count, creators, streak, last_signal, creator_id, created_time`

// SQLiteStore is a durable knowledge.Store backed by a single SQLite file.
//
// Writes to the same fingerprint are serialized through a keyed mutex with
// a bounded wait; the database connection pool is pinned to one connection,
// which sidesteps SQLite's writer contention entirely.
type SQLiteStore struct {
	db     *sql.DB
	scope  knowledge.Scope
	opts   knowledge.StoreOptions
	locks  *knowledge.KeyedMutex
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
}

// Open initializes the SQLite database at the given path, creating the file
// and its parent directory when needed.
func Open(path string, scope knowledge.Scope, opts knowledge.StoreOptions, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = time.Second
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// A single connection keeps all statements on one SQLite handle.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			logger.Debug("pragma failed", zap.String("pragma", pragma), zap.Error(err))
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		scope:  scope,
		opts:   opts,
		locks:  knowledge.NewKeyedMutex(opts.LockTimeout),
		logger: logger,
	}

	s.logger.Info("rule store opened",
		zap.String("path", path),
		zap.String("scope", string(scope)))
	return s, nil
}

// Scope implements knowledge.Store.
func (s *SQLiteStore) Scope() knowledge.Scope { return s.scope }

// Close implements knowledge.Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *SQLiteStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return knowledge.ErrStoreClosed
	}
	return nil
}

// Put implements knowledge.Store. A duplicate fingerprint folds into a
// support increment of the existing row.
func (s *SQLiteStore) Put(ctx context.Context, c *knowledge.RuleCandidate) (*knowledge.Rule, bool, error) {
	if err := c.Validate(); err != nil {
		return nil, false, err
	}
	if err := s.checkOpen(); err != nil {
		return nil, false, err
	}
	fp := knowledge.Fingerprint(c)

	release, err := s.locks.Lock(ctx, fp)
	if err != nil {
		return nil, false, err
	}
	defer release()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, s.wrapPersistence("begin", err)
	}
	defer tx.Rollback()

	existing, err := s.getTx(ctx, tx, "content_hash", fp)
	switch {
	case err == nil:
		existing.SupportCount += c.RawEvidenceCount
		if err := s.updateTx(ctx, tx, existing); err != nil {
			return nil, false, err
		}
		if err := tx.Commit(); err != nil {
			return nil, false, s.wrapPersistence("commit", err)
		}
		return existing, false, nil

	case errors.Is(err, knowledge.ErrRuleNotFound):
		rule := knowledge.NewRule(c, fp, s.opts.Confidence.InitialConfidence(c.RawEvidenceCount))
		if err := s.insertTx(ctx, tx, rule); err != nil {
			return nil, false, err
		}
		if err := tx.Commit(); err != nil {
			return nil, false, s.wrapPersistence("commit", err)
		}
		return rule, true, nil

	default:
		return nil, false, err
	}
}

// Get implements knowledge.Store.
func (s *SQLiteStore) Get(ctx context.Context, fingerprint string) (*knowledge.Rule, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+ruleColumns+` FROM rules WHERE content_hash = ?`, fingerprint)
	return scanRule(row)
}

// GetByID implements knowledge.Store.
func (s *SQLiteStore) GetByID(ctx context.Context, ruleID string) (*knowledge.Rule, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+ruleColumns+` FROM rules WHERE rule_id = ?`, ruleID)
	return scanRule(row)
}

// Query implements knowledge.Store. Filtering happens in SQL where the
// filter maps to a column, ordered by creation time descending.
func (s *SQLiteStore) Query(ctx context.Context, f knowledge.Filter) ([]*knowledge.Rule, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	query := `SELECT ` + ruleColumns + ` FROM rules WHERE 1=1`
	var args []any
	if f.CreatorID != "" {
		query += ` AND creator_id = ?`
		args = append(args, f.CreatorID)
	}
	if f.RuleType != "" {
		query += ` AND rule_type = ?`
		args = append(args, string(f.RuleType))
	}
	if f.Status != "" {
		query += ` AND validation_status = ?`
		args = append(args, string(f.Status))
	}
	if !f.Since.IsZero() {
		query += ` AND created_time >= ?`
		args = append(args, f.Since.UTC())
	}
	if !f.Until.IsZero() {
		query += ` AND created_time < ?`
		args = append(args, f.Until.UTC())
	}
	if f.MinConfidence > 0 {
		query += ` AND confidence >= ?`
		args = append(args, f.MinConfidence)
	}
	query += ` ORDER BY created_time DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.wrapPersistence("query", err)
	}
	defer rows.Close()

	var out []*knowledge.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpdateAtomic implements knowledge.Store. fn runs on a copy loaded inside
// a transaction under the rule's fingerprint lock; the row is rewritten
// only when fn succeeds and the result passes invariant validation.
func (s *SQLiteStore) UpdateAtomic(ctx context.Context, ruleID string, fn func(*knowledge.Rule) error) (*knowledge.Rule, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	current, err := s.GetByID(ctx, ruleID)
	if err != nil {
		return nil, err
	}

	release, err := s.locks.Lock(ctx, current.ContentHash)
	if err != nil {
		return nil, err
	}
	defer release()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, s.wrapPersistence("begin", err)
	}
	defer tx.Rollback()

	// Re-read under the lock; the pre-lock read only resolved the hash.
	rule, err := s.getTx(ctx, tx, "rule_id", ruleID)
	if err != nil {
		return nil, err
	}
	if err := fn(rule); err != nil {
		return nil, err
	}
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	if err := s.updateTx(ctx, tx, rule); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, s.wrapPersistence("commit", err)
	}
	return rule, nil
}

// ApplyBatch implements knowledge.Store. The whole batch commits in one
// transaction: either every op lands or none do.
func (s *SQLiteStore) ApplyBatch(ctx context.Context, ops []knowledge.MergeOp) (*knowledge.BatchResult, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, s.wrapPersistence("begin", err)
	}
	defer tx.Rollback()

	res := &knowledge.BatchResult{}
	for _, op := range ops {
		existing, err := s.getTx(ctx, tx, "content_hash", op.Rule.ContentHash)
		switch {
		case err == nil:
			if knowledge.MergeGlobal(existing, op) {
				res.Conflicts++
			}
			if err := s.updateTx(ctx, tx, existing); err != nil {
				return nil, err
			}
			res.Merged++

		case errors.Is(err, knowledge.ErrRuleNotFound):
			fresh := knowledge.NewGlobalRule(op)
			if err := s.insertTx(ctx, tx, fresh); err != nil {
				return nil, err
			}
			res.Inserted++

		default:
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, s.wrapPersistence("commit", err)
	}
	return res, nil
}

// Prune implements knowledge.Store. The policy decision stays in Go so the
// SQLite and in-memory stores condemn exactly the same rules.
func (s *SQLiteStore) Prune(ctx context.Context, policy knowledge.PrunePolicy) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	rules, err := s.Query(ctx, knowledge.Filter{})
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, s.wrapPersistence("begin", err)
	}
	defer tx.Rollback()

	pruned := 0
	for _, r := range rules {
		if !policy.ShouldPrune(r, now) {
			continue
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM rules WHERE rule_id = ?`, r.RuleID); err != nil {
			return 0, s.wrapPersistence("delete", err)
		}
		pruned++
	}

	if err := tx.Commit(); err != nil {
		return 0, s.wrapPersistence("commit", err)
	}
	if pruned > 0 {
		s.logger.Info("rules pruned", zap.Int("count", pruned))
	}
	return pruned, nil
}

// Stats implements knowledge.Store.
func (s *SQLiteStore) Stats(ctx context.Context) (*knowledge.StoreStats, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	stats := &knowledge.StoreStats{
		Scope:    s.scope,
		ByStatus: make(map[knowledge.ValidationStatus]int),
		ByType:   make(map[knowledge.RuleType]int),
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT validation_status, rule_type, COUNT(*), COALESCE(SUM(confidence), 0) FROM rules GROUP BY validation_status, rule_type`)
	if err != nil {
		return nil, s.wrapPersistence("stats", err)
	}
	defer rows.Close()

	var confidenceSum float64
	for rows.Next() {
		var status, ruleType string
		var count int
		var sum float64
		if err := rows.Scan(&status, &ruleType, &count, &sum); err != nil {
			return nil, s.wrapPersistence("stats scan", err)
		}
		stats.ByStatus[knowledge.ValidationStatus(status)] += count
		stats.ByType[knowledge.RuleType(ruleType)] += count
		stats.TotalRules += count
		confidenceSum += sum
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrapPersistence("stats", err)
	}
	if stats.TotalRules > 0 {
		stats.MeanConfidence = confidenceSum / float64(stats.TotalRules)
	}
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) getTx(ctx context.Context, tx *sql.Tx, column, value string) (*knowledge.Rule, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+ruleColumns+` FROM rules WHERE `+column+` = ?`, value)
	return scanRule(row)
}

func (s *SQLiteStore) insertTx(ctx context.Context, tx *sql.Tx, r *knowledge.Rule) error {
	conditions, predictions, creators, err := encodeRule(r)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO rules (`+ruleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RuleID, string(r.RuleType), conditions, predictions, r.ContentHash,
		r.Confidence, r.SupportCount, r.ContradictionCount, string(r.ValidationStatus),
		r.OccurrenceCount, creators, r.Streak, r.LastSignal, r.CreatorID,
		r.CreatedTime.UTC())
	if err != nil {
		return s.wrapPersistence("insert", err)
	}
	return nil
}

func (s *SQLiteStore) updateTx(ctx context.Context, tx *sql.Tx, r *knowledge.Rule) error {
	conditions, predictions, creators, err := encodeRule(r)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE rules SET
			rule_type = ?, conditions = ?, predictions = ?,
			confidence = ?, support_count = ?, contradiction_count = ?,
			validation_status = ?, occurrence_count = ?, creators = ?,
			streak = ?, last_signal = ?
		WHERE rule_id = ?`,
		string(r.RuleType), conditions, predictions,
		r.Confidence, r.SupportCount, r.ContradictionCount,
		string(r.ValidationStatus), r.OccurrenceCount, creators,
		r.Streak, r.LastSignal, r.RuleID)
	if err != nil {
		return s.wrapPersistence("update", err)
	}
	return nil
}

func (s *SQLiteStore) wrapPersistence(op string, err error) error {
	s.logger.Error("store operation failed", zap.String("op", op), zap.Error(err))
	return fmt.Errorf("%w: %s: %v", knowledge.ErrPersistenceFailure, op, err)
}

func encodeRule(r *knowledge.Rule) (conditions, predictions, creators string, err error) {
	cb, err := json.Marshal(r.Conditions)
	if err != nil {
		return "", "", "", fmt.Errorf("encoding conditions: %w", err)
	}
	pb, err := json.Marshal(r.Predictions)
	if err != nil {
		return "", "", "", fmt.Errorf("encoding predictions: %w", err)
	}
	var crb []byte
	if len(r.Creators) > 0 {
		crb, err = json.Marshal(r.Creators)
		if err != nil {
			return "", "", "", fmt.Errorf("encoding creators: %w", err)
		}
	}
	return string(cb), string(pb), string(crb), nil
}

func scanRule(row rowScanner) (*knowledge.Rule, error) {
	var r knowledge.Rule
	var ruleType, status, conditions, predictions string
	var creators sql.NullString
	err := row.Scan(&r.RuleID, &ruleType, &conditions, &predictions, &r.ContentHash,
		&r.Confidence, &r.SupportCount, &r.ContradictionCount, &status,
		&r.OccurrenceCount, &creators, &r.Streak, &r.LastSignal, &r.CreatorID,
		&r.CreatedTime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, knowledge.ErrRuleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: scan: %v", knowledge.ErrPersistenceFailure, err)
	}

	r.RuleType = knowledge.RuleType(ruleType)
	r.ValidationStatus = knowledge.ValidationStatus(status)
	if err := json.Unmarshal([]byte(conditions), &r.Conditions); err != nil {
		return nil, fmt.Errorf("%w: decoding conditions: %v", knowledge.ErrPersistenceFailure, err)
	}
	if err := json.Unmarshal([]byte(predictions), &r.Predictions); err != nil {
		return nil, fmt.Errorf("%w: decoding predictions: %v", knowledge.ErrPersistenceFailure, err)
	}
	if creators.Valid && creators.String != "" {
		if err := json.Unmarshal([]byte(creators.String), &r.Creators); err != nil {
			return nil, fmt.Errorf("%w: decoding creators: %v", knowledge.ErrPersistenceFailure, err)
		}
	}
	r.CreatedTime = r.CreatedTime.UTC()
	return &r, nil
}
