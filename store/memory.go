package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu       sync.RWMutex
	policies map[string]PolicyRecord
	rules    map[string]RuleRecord
	now      func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		policies: make(map[string]PolicyRecord),
		rules:    make(map[string]RuleRecord),
		now:      time.Now,
	}
}

// SavePolicy inserts or replaces a policy, bumping its version on update.
func (m *Memory) SavePolicy(_ context.Context, p PolicyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.putPolicy(p, m.now().UTC())
	return nil
}

// ReplacePolicy saves p and makes rules its complete rule set.
func (m *Memory) ReplacePolicy(_ context.Context, p PolicyRecord, rules []RuleRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	keep := make(map[string]bool, len(rules))
	for _, r := range rules {
		if existing, ok := m.rules[r.ID]; ok && existing.PolicyID != p.ID {
			return ErrRuleOwned
		}
		keep[r.ID] = true
	}

	now := m.now().UTC()
	m.putPolicy(p, now)
	for id, r := range m.rules {
		if r.PolicyID == p.ID && !keep[id] {
			delete(m.rules, id)
		}
	}
	for _, r := range rules {
		r.PolicyID = p.ID
		m.putRule(r, now)
	}
	return nil
}

func (m *Memory) putPolicy(p PolicyRecord, now time.Time) {
	if existing, ok := m.policies[p.ID]; ok {
		p.CreatedAt = existing.CreatedAt
		p.Version = existing.Version + 1
	} else {
		p.CreatedAt = now
		if p.Version == 0 {
			p.Version = 1
		}
	}
	p.UpdatedAt = now
	m.policies[p.ID] = p
}

func (m *Memory) GetPolicy(_ context.Context, id string) (*PolicyRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.policies[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

// ListPolicies returns all policies ordered by name.
func (m *Memory) ListPolicies(_ context.Context) ([]PolicyRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]PolicyRecord, 0, len(m.policies))
	for _, p := range m.policies {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// DeletePolicy removes a policy and its rules.
func (m *Memory) DeletePolicy(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.policies[id]; !ok {
		return ErrNotFound
	}
	delete(m.policies, id)
	for rid, r := range m.rules {
		if r.PolicyID == id {
			delete(m.rules, rid)
		}
	}
	return nil
}

// SaveRule inserts or replaces a rule. The owning policy must exist.
func (m *Memory) SaveRule(_ context.Context, r RuleRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.policies[r.PolicyID]; !ok {
		return ErrNotFound
	}
	if existing, ok := m.rules[r.ID]; ok && existing.PolicyID != r.PolicyID {
		return ErrRuleOwned
	}
	m.putRule(r, m.now().UTC())
	return nil
}

func (m *Memory) putRule(r RuleRecord, now time.Time) {
	if existing, ok := m.rules[r.ID]; ok {
		r.CreatedAt = existing.CreatedAt
	} else {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	m.rules[r.ID] = r
}

func (m *Memory) GetRule(_ context.Context, id string) (*RuleRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.rules[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (m *Memory) ListRules(_ context.Context, policyID string) ([]RuleRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []RuleRecord
	for _, r := range m.rules {
		if r.PolicyID == policyID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) DeleteRule(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rules[id]; !ok {
		return ErrNotFound
	}
	delete(m.rules, id)
	return nil
}

func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.policies = make(map[string]PolicyRecord)
	m.rules = make(map[string]RuleRecord)
	return nil
}
