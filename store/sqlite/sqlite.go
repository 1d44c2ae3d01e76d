/*
Package sqlite provides a SQLite-backed store.PolicyStore.

PURPOSE:
  The default persistence for a single shop: one file, no server. The same
  schema maps onto PostgreSQL with only dialect changes (see store/postgres).

KEY TABLES:
  policies:      Policy documents (factory JSON), versioned on update
  pricing_rules: One row per rule, FK to policies with ON DELETE CASCADE

INDEXES:
  idx_pricing_rules_policy_priority: ListRules is the quote hot path

CONCURRENCY:
  Uses sync.RWMutex around the connection pool. ":memory:" databases are
  pinned to a single connection so every query sees the same database.

WAL MODE:
  Opened with WAL so readers don't block the single writer.

USAGE:
  st, err := sqlite.New("./buyback.db")
  if err != nil {
      return err
  }
  defer st.Close()

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - store/store.go: Interface definitions
  - store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rotisserie/eris"

	"github.com/warp/buyback-engine/store"
)

// Store implements store.PolicyStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ store.PolicyStore = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open database")
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "sqlite: migrate database")
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS policies (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		policy_type TEXT NOT NULL,
		config_json TEXT NOT NULL,
		version INTEGER DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pricing_rules (
		id TEXT PRIMARY KEY,
		policy_id TEXT NOT NULL REFERENCES policies(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		priority INTEGER NOT NULL DEFAULT 0,
		conditions_json TEXT,
		action_type TEXT NOT NULL,
		action_value TEXT NOT NULL,
		stacking_mode TEXT,
		starts_at TEXT,
		ends_at TEXT,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_pricing_rules_policy_priority
		ON pricing_rules(policy_id, priority, id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// POLICIES
// =============================================================================

const policyColumns = "id, name, policy_type, config_json, version, created_at, updated_at"

// SavePolicy inserts or updates a policy; updates bump the version.
func (s *Store) SavePolicy(ctx context.Context, p store.PolicyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return upsertPolicy(ctx, s.db, p, formatTime(time.Now()))
}

// ReplacePolicy saves p and makes rules its complete rule set in one
// transaction.
func (s *Store) ReplacePolicy(ctx context.Context, p store.PolicyRecord, rules []store.RuleRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrapf(err, "sqlite: begin replace policy %s", p.ID)
	}
	defer tx.Rollback() //nolint:errcheck

	now := formatTime(time.Now())
	if err := upsertPolicy(ctx, tx, p, now); err != nil {
		return err
	}

	del := "DELETE FROM pricing_rules WHERE policy_id = ?"
	args := []any{p.ID}
	if len(rules) > 0 {
		del += " AND id NOT IN (?" + strings.Repeat(", ?", len(rules)-1) + ")"
		for _, r := range rules {
			args = append(args, r.ID)
		}
	}
	if _, err := tx.ExecContext(ctx, del, args...); err != nil {
		return eris.Wrapf(err, "sqlite: prune rules of %s", p.ID)
	}

	for _, r := range rules {
		r.PolicyID = p.ID
		if err := upsertRule(ctx, tx, r, now); err != nil {
			return err
		}
	}
	return eris.Wrapf(tx.Commit(), "sqlite: commit replace policy %s", p.ID)
}

func upsertPolicy(ctx context.Context, ex execer, p store.PolicyRecord, now string) error {
	query := `
		INSERT INTO policies (id, name, policy_type, config_json, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			policy_type = excluded.policy_type,
			config_json = excluded.config_json,
			version = policies.version + 1,
			updated_at = excluded.updated_at
	`
	_, err := ex.ExecContext(ctx, query, p.ID, p.Name, p.PolicyType, p.ConfigJSON, now, now)
	return eris.Wrapf(err, "sqlite: save policy %s", p.ID)
}

func (s *Store) GetPolicy(ctx context.Context, id string) (*store.PolicyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, "SELECT "+policyColumns+" FROM policies WHERE id = ?", id)
	p, err := scanPolicy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get policy %s", id)
	}
	return &p, nil
}

// ListPolicies returns all policies ordered by name.
func (s *Store) ListPolicies(ctx context.Context) ([]store.PolicyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT "+policyColumns+" FROM policies ORDER BY name, id")
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list policies")
	}
	defer rows.Close()

	policies := []store.PolicyRecord{}
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan policy")
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

// DeletePolicy removes a policy; its rules go with it.
func (s *Store) DeletePolicy(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM policies WHERE id = ?", id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete policy %s", id)
	}
	return requireAffected(res)
}

// =============================================================================
// RULES
// =============================================================================

const ruleColumns = `id, policy_id, name, priority, conditions_json, action_type, action_value,
	stacking_mode, starts_at, ends_at, is_active, created_at, updated_at`

// SaveRule inserts or updates a rule. The owning policy must exist.
func (s *Store) SaveRule(ctx context.Context, r store.RuleRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var exists int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM policies WHERE id = ?", r.PolicyID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: check policy %s", r.PolicyID)
	}

	return upsertRule(ctx, s.db, r, formatTime(time.Now()))
}

// upsertRule only updates a row that already belongs to r.PolicyID; an ID
// owned by another policy affects nothing and reports ErrRuleOwned.
func upsertRule(ctx context.Context, ex execer, r store.RuleRecord, now string) error {
	query := `
		INSERT INTO pricing_rules (` + ruleColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			priority = excluded.priority,
			conditions_json = excluded.conditions_json,
			action_type = excluded.action_type,
			action_value = excluded.action_value,
			stacking_mode = excluded.stacking_mode,
			starts_at = excluded.starts_at,
			ends_at = excluded.ends_at,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at
		WHERE pricing_rules.policy_id = excluded.policy_id
	`

	res, err := ex.ExecContext(ctx, query,
		r.ID, r.PolicyID, r.Name, r.Priority, nullString(r.ConditionsJSON),
		r.ActionType, r.ActionValue, nullString(r.StackingMode),
		nullTime(r.StartsAt), nullTime(r.EndsAt), r.IsActive, now, now,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save rule %s", r.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrapf(err, "sqlite: save rule %s", r.ID)
	}
	if n == 0 {
		return store.ErrRuleOwned
	}
	return nil
}

func (s *Store) GetRule(ctx context.Context, id string) (*store.RuleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, "SELECT "+ruleColumns+" FROM pricing_rules WHERE id = ?", id)
	r, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get rule %s", id)
	}
	return &r, nil
}

func (s *Store) ListRules(ctx context.Context, policyID string) ([]store.RuleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+ruleColumns+" FROM pricing_rules WHERE policy_id = ? ORDER BY priority, id",
		policyID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list rules for %s", policyID)
	}
	defer rows.Close()

	rules := []store.RuleRecord{}
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan rule")
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

func (s *Store) DeleteRule(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM pricing_rules WHERE id = ?", id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete rule %s", id)
	}
	return requireAffected(res)
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"pricing_rules", "policies"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return eris.Wrapf(err, "sqlite: reset %s", table)
		}
	}
	return nil
}

// =============================================================================
// UTILITIES
// =============================================================================

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPolicy(row scanner) (store.PolicyRecord, error) {
	var p store.PolicyRecord
	var createdAt, updatedAt string
	if err := row.Scan(&p.ID, &p.Name, &p.PolicyType, &p.ConfigJSON, &p.Version, &createdAt, &updatedAt); err != nil {
		return store.PolicyRecord{}, err
	}
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return p, nil
}

func scanRule(row scanner) (store.RuleRecord, error) {
	var r store.RuleRecord
	var conditions, stacking, startsAt, endsAt sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&r.ID, &r.PolicyID, &r.Name, &r.Priority, &conditions, &r.ActionType, &r.ActionValue,
		&stacking, &startsAt, &endsAt, &r.IsActive, &createdAt, &updatedAt)
	if err != nil {
		return store.RuleRecord{}, err
	}
	r.ConditionsJSON = conditions.String
	r.StackingMode = stacking.String
	r.StartsAt = parseNullTime(startsAt)
	r.EndsAt = parseNullTime(endsAt)
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	return r, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	return &t
}
