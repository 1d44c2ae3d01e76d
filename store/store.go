/*
Package store persists pricing policies and their rules.

PURPOSE:
  The pricing core never touches storage: callers resolve a policy and its
  rules and hand them over. This package is that caller-side persistence.
  Policies are stored as factory JSON documents; rules live in their own
  table so they can be authored, toggled and deleted individually.

KEY INTERFACES:
  PolicyStore: CRUD for policies and rules, plus Reset for demos and tests

RECORD SHAPES:
  PolicyRecord: id, name, type, config JSON (factory schema, rules omitted)
  RuleRecord:   one pricing rule, conditions kept as JSON text

  Deleting a policy deletes its rules. A rule ID belongs to one policy for
  its whole life; saving it under another policy fails with ErrRuleOwned.
  Replacing a policy replaces its rule set.

IMPLEMENTATIONS:
  - store/memory.go:          In-memory, for tests and local demos
  - store/sqlite/sqlite.go:   Embedded SQLite (default)
  - store/postgres/postgres.go: PostgreSQL via pgx

EXAMPLE:
  st, _ := sqlite.New("./buyback.db")
  policy, err := store.LoadPolicy(ctx, st, "mtg-singles")
  result, err := engine.CalculatePrice(pricing.CalculateInput{Policy: *policy, ...})

SEE ALSO:
  - factory/policy.go: Document schema for ConfigJSON
*/
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"

	"github.com/warp/buyback-engine/factory"
	"github.com/warp/buyback-engine/pricing"
)

// ErrNotFound is returned when a policy or rule does not exist.
var ErrNotFound = errors.New("not found")

// ErrRuleOwned is returned when a rule ID is already used by another policy.
var ErrRuleOwned = errors.New("rule belongs to another policy")

// =============================================================================
// RECORDS
// =============================================================================

// PolicyRecord is a stored policy with its JSON config.
type PolicyRecord struct {
	ID         string
	Name       string
	PolicyType string
	ConfigJSON string
	Version    int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// RuleRecord is a stored pricing rule.
type RuleRecord struct {
	ID             string
	PolicyID       string
	Name           string
	Priority       int
	ConditionsJSON string
	ActionType     string
	ActionValue    string
	StackingMode   string
	StartsAt       *time.Time
	EndsAt         *time.Time
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// =============================================================================
// POLICY STORE
// =============================================================================

type PolicyStore interface {
	SavePolicy(ctx context.Context, p PolicyRecord) error
	GetPolicy(ctx context.Context, id string) (*PolicyRecord, error)
	ListPolicies(ctx context.Context) ([]PolicyRecord, error)
	DeletePolicy(ctx context.Context, id string) error

	// ReplacePolicy saves a policy and makes rules its complete rule set in
	// one transaction: rules missing from the set are deleted.
	ReplacePolicy(ctx context.Context, p PolicyRecord, rules []RuleRecord) error

	// SaveRule inserts or updates a rule. It returns ErrNotFound when the
	// policy is missing and ErrRuleOwned when the ID belongs to another policy.
	SaveRule(ctx context.Context, r RuleRecord) error
	GetRule(ctx context.Context, id string) (*RuleRecord, error)
	// ListRules returns a policy's rules ordered by priority, then id.
	ListRules(ctx context.Context, policyID string) ([]RuleRecord, error)
	DeleteRule(ctx context.Context, id string) error

	// Reset clears all data (for tests and demos).
	Reset(ctx context.Context) error
}

// =============================================================================
// CONVERSIONS
// =============================================================================

// StoredRule converts the record into the core's input shape.
func (r RuleRecord) StoredRule() pricing.StoredRule {
	var conditions any
	if r.ConditionsJSON != "" {
		conditions = r.ConditionsJSON
	}
	return pricing.StoredRule{
		ID:           pricing.RuleID(r.ID),
		Name:         r.Name,
		Priority:     r.Priority,
		Conditions:   conditions,
		ActionType:   r.ActionType,
		ActionValue:  r.ActionValue,
		StackingMode: r.StackingMode,
		StartsAt:     r.StartsAt,
		EndsAt:       r.EndsAt,
		IsActive:     r.IsActive,
	}
}

// NewRuleRecord builds a record for policyID from a stored rule. Structured
// conditions are serialised to JSON text.
func NewRuleRecord(policyID string, sr pricing.StoredRule) (RuleRecord, error) {
	conditions, err := conditionsText(sr.Conditions)
	if err != nil {
		return RuleRecord{}, eris.Wrapf(err, "store: encode conditions for rule %s", sr.ID)
	}
	return RuleRecord{
		ID:             string(sr.ID),
		PolicyID:       policyID,
		Name:           sr.Name,
		Priority:       sr.Priority,
		ConditionsJSON: conditions,
		ActionType:     sr.ActionType,
		ActionValue:    sr.ActionValue,
		StackingMode:   sr.StackingMode,
		StartsAt:       sr.StartsAt,
		EndsAt:         sr.EndsAt,
		IsActive:       sr.IsActive,
	}, nil
}

func conditionsText(v any) (string, error) {
	switch c := v.(type) {
	case nil:
		return "", nil
	case string:
		return c, nil
	case []byte:
		return string(c), nil
	case json.RawMessage:
		return string(c), nil
	default:
		b, err := json.Marshal(c)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}

// NewPolicyRecord serialises a policy's configuration. Rules are not part of
// the record; save them with SaveRule.
func NewPolicyRecord(p *pricing.Policy) (PolicyRecord, error) {
	pj := factory.NewPolicyFactory().ToJSON(p)
	pj.Rules = nil
	b, err := json.Marshal(pj)
	if err != nil {
		return PolicyRecord{}, eris.Wrapf(err, "store: encode policy %s", p.ID)
	}
	return PolicyRecord{
		ID:         string(p.ID),
		Name:       p.Name,
		PolicyType: string(p.Type),
		ConfigJSON: string(b),
	}, nil
}

// SavePolicyWithRules writes a policy and replaces its rule set with p.Rules.
func SavePolicyWithRules(ctx context.Context, s PolicyStore, p *pricing.Policy) error {
	rec, err := NewPolicyRecord(p)
	if err != nil {
		return err
	}
	rules := make([]RuleRecord, 0, len(p.Rules))
	for _, sr := range p.Rules {
		rr, err := NewRuleRecord(string(p.ID), sr)
		if err != nil {
			return err
		}
		rules = append(rules, rr)
	}
	if err := s.ReplacePolicy(ctx, rec, rules); err != nil {
		return eris.Wrapf(err, "store: save policy %s", p.ID)
	}
	return nil
}

// LoadPolicy reads a policy and attaches its rules in priority order.
func LoadPolicy(ctx context.Context, s PolicyStore, id string) (*pricing.Policy, error) {
	rec, err := s.GetPolicy(ctx, id)
	if err != nil {
		return nil, err
	}
	policy, err := factory.NewPolicyFactory().ParsePolicy(rec.ConfigJSON)
	if err != nil {
		return nil, eris.Wrapf(err, "store: decode policy %s", id)
	}

	rules, err := s.ListRules(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "store: list rules for %s", id)
	}
	policy.Rules = make([]pricing.StoredRule, 0, len(rules))
	for _, r := range rules {
		policy.Rules = append(policy.Rules, r.StoredRule())
	}
	return policy, nil
}

// IsNotFound reports whether err means a missing policy or rule.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || pricing.IsNotFound(err)
}
