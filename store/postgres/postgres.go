/*
Package postgres provides a PostgreSQL-backed store.PolicyStore.

PURPOSE:
  Multi-instance deployments share one database. Same tables as the SQLite
  store, with native TIMESTAMPTZ/JSONB columns and pgx connection pooling.

POOL:
  Store talks to a Pool interface satisfied by *pgxpool.Pool, so tests can
  substitute pgxmock without a running database.

USAGE:
  st, err := postgres.New(ctx, "postgres://localhost:5432/buyback", nil)
  if err != nil {
      return err
  }
  defer st.Close()
  if err := st.Migrate(ctx); err != nil {
      return err
  }

SEE ALSO:
  - store/sqlite/sqlite.go: Embedded equivalent
*/
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/warp/buyback-engine/store"
)

// Pool is the subset of *pgxpool.Pool the store uses.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// execer is satisfied by Pool and pgx.Tx.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `mapstructure:"max_conns"`
	MinConns int32 `mapstructure:"min_conns"`
}

// Store implements store.PolicyStore on PostgreSQL.
type Store struct {
	pool    Pool
	closeFn func()
}

var _ store.PolicyStore = (*Store)(nil)

// New creates a Store with a connection pool.
func New(ctx context.Context, connString string, poolCfg *PoolConfig) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	cfg.MaxConns = 10
	cfg.MinConns = 1
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			cfg.MaxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			cfg.MinConns = poolCfg.MinConns
		}
	}
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &Store{pool: pool, closeFn: pool.Close}, nil
}

// NewWithPool wraps an existing pool (or a pgxmock pool in tests).
func NewWithPool(pool Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

const migration = `
CREATE TABLE IF NOT EXISTS policies (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	policy_type TEXT NOT NULL,
	config_json JSONB NOT NULL,
	version     INTEGER NOT NULL DEFAULT 1,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS pricing_rules (
	id              TEXT PRIMARY KEY,
	policy_id       TEXT NOT NULL REFERENCES policies(id) ON DELETE CASCADE,
	name            TEXT NOT NULL,
	priority        INTEGER NOT NULL DEFAULT 0,
	conditions_json JSONB,
	action_type     TEXT NOT NULL,
	action_value    NUMERIC NOT NULL,
	stacking_mode   TEXT,
	starts_at       TIMESTAMPTZ,
	ends_at         TIMESTAMPTZ,
	is_active       BOOLEAN NOT NULL DEFAULT true,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_pricing_rules_policy_priority
	ON pricing_rules(policy_id, priority, id);
`

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, migration)
	return eris.Wrap(err, "postgres: migrate")
}

// =============================================================================
// POLICIES
// =============================================================================

func (s *Store) SavePolicy(ctx context.Context, p store.PolicyRecord) error {
	return upsertPolicy(ctx, s.pool, p, time.Now().UTC())
}

// ReplacePolicy saves p and makes rules its complete rule set in one
// transaction.
func (s *Store) ReplacePolicy(ctx context.Context, p store.PolicyRecord, rules []store.RuleRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrapf(err, "postgres: begin replace policy %s", p.ID)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	now := time.Now().UTC()
	if err := upsertPolicy(ctx, tx, p, now); err != nil {
		return err
	}

	keep := make([]string, 0, len(rules))
	for _, r := range rules {
		keep = append(keep, r.ID)
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM pricing_rules WHERE policy_id = $1 AND NOT (id = ANY($2))`,
		p.ID, keep,
	); err != nil {
		return eris.Wrapf(err, "postgres: prune rules of %s", p.ID)
	}

	for _, r := range rules {
		r.PolicyID = p.ID
		if err := upsertRule(ctx, tx, r, now); err != nil {
			return err
		}
	}
	return eris.Wrapf(tx.Commit(ctx), "postgres: commit replace policy %s", p.ID)
}

func upsertPolicy(ctx context.Context, ex execer, p store.PolicyRecord, now time.Time) error {
	_, err := ex.Exec(ctx,
		`INSERT INTO policies (id, name, policy_type, config_json, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 1, $5, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			policy_type = EXCLUDED.policy_type,
			config_json = EXCLUDED.config_json,
			version = policies.version + 1,
			updated_at = EXCLUDED.updated_at`,
		p.ID, p.Name, p.PolicyType, p.ConfigJSON, now,
	)
	return eris.Wrapf(err, "postgres: save policy %s", p.ID)
}

func (s *Store) GetPolicy(ctx context.Context, id string) (*store.PolicyRecord, error) {
	var p store.PolicyRecord
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, policy_type, config_json::text, version, created_at, updated_at FROM policies WHERE id = $1`,
		id,
	).Scan(&p.ID, &p.Name, &p.PolicyType, &p.ConfigJSON, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get policy %s", id)
	}
	return &p, nil
}

func (s *Store) ListPolicies(ctx context.Context) ([]store.PolicyRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, policy_type, config_json::text, version, created_at, updated_at FROM policies ORDER BY name, id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list policies")
	}
	defer rows.Close()

	policies := []store.PolicyRecord{}
	for rows.Next() {
		var p store.PolicyRecord
		if err := rows.Scan(&p.ID, &p.Name, &p.PolicyType, &p.ConfigJSON, &p.Version, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan policy")
		}
		policies = append(policies, p)
	}
	return policies, eris.Wrap(rows.Err(), "postgres: iterate policies")
}

func (s *Store) DeletePolicy(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM policies WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete policy %s", id)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// =============================================================================
// RULES
// =============================================================================

const ruleColumns = `id, policy_id, name, priority, conditions_json::text, action_type, action_value::text,
	stacking_mode, starts_at, ends_at, is_active, created_at, updated_at`

// SaveRule upserts a rule inside a transaction that first checks the owning
// policy exists.
func (s *Store) SaveRule(ctx context.Context, r store.RuleRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin save rule")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var exists bool
	err = tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM policies WHERE id = $1)`, r.PolicyID).Scan(&exists)
	if err != nil {
		return eris.Wrapf(err, "postgres: check policy %s", r.PolicyID)
	}
	if !exists {
		return store.ErrNotFound
	}

	if err := upsertRule(ctx, tx, r, time.Now().UTC()); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit save rule")
}

// upsertRule only updates a row that already belongs to r.PolicyID; an ID
// owned by another policy affects nothing and reports ErrRuleOwned.
func upsertRule(ctx context.Context, ex execer, r store.RuleRecord, now time.Time) error {
	tag, err := ex.Exec(ctx,
		`INSERT INTO pricing_rules (id, policy_id, name, priority, conditions_json, action_type, action_value,
			stacking_mode, starts_at, ends_at, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			priority = EXCLUDED.priority,
			conditions_json = EXCLUDED.conditions_json,
			action_type = EXCLUDED.action_type,
			action_value = EXCLUDED.action_value,
			stacking_mode = EXCLUDED.stacking_mode,
			starts_at = EXCLUDED.starts_at,
			ends_at = EXCLUDED.ends_at,
			is_active = EXCLUDED.is_active,
			updated_at = EXCLUDED.updated_at
		WHERE pricing_rules.policy_id = EXCLUDED.policy_id`,
		r.ID, r.PolicyID, r.Name, r.Priority, nullable(r.ConditionsJSON), r.ActionType, r.ActionValue,
		nullable(r.StackingMode), r.StartsAt, r.EndsAt, r.IsActive, now,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: save rule %s", r.ID)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrRuleOwned
	}
	return nil
}

func (s *Store) GetRule(ctx context.Context, id string) (*store.RuleRecord, error) {
	r, err := scanRule(s.pool.QueryRow(ctx, `SELECT `+ruleColumns+` FROM pricing_rules WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get rule %s", id)
	}
	return &r, nil
}

func (s *Store) ListRules(ctx context.Context, policyID string) ([]store.RuleRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+ruleColumns+` FROM pricing_rules WHERE policy_id = $1 ORDER BY priority, id`,
		policyID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list rules for %s", policyID)
	}
	defer rows.Close()

	rules := []store.RuleRecord{}
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan rule")
		}
		rules = append(rules, r)
	}
	return rules, eris.Wrap(rows.Err(), "postgres: iterate rules")
}

func (s *Store) DeleteRule(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM pricing_rules WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete rule %s", id)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE pricing_rules, policies`)
	return eris.Wrap(err, "postgres: reset")
}

// =============================================================================
// UTILITIES
// =============================================================================

func scanRule(row pgx.Row) (store.RuleRecord, error) {
	var r store.RuleRecord
	var conditions, stacking *string
	err := row.Scan(&r.ID, &r.PolicyID, &r.Name, &r.Priority, &conditions, &r.ActionType, &r.ActionValue,
		&stacking, &r.StartsAt, &r.EndsAt, &r.IsActive, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return store.RuleRecord{}, err
	}
	if conditions != nil {
		r.ConditionsJSON = *conditions
	}
	if stacking != nil {
		r.StackingMode = *stacking
	}
	return r, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
