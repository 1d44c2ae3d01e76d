// Package storetest holds the behaviour every store.PolicyStore must share.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/buyback-engine/store"
)

// Run exercises s through the full PolicyStore contract. newStore must
// return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) store.PolicyStore) {
	t.Run("policy CRUD", func(t *testing.T) { testPolicyCRUD(t, newStore(t)) })
	t.Run("rules ordered and cascaded", func(t *testing.T) { testRules(t, newStore(t)) })
	t.Run("rule needs policy", func(t *testing.T) { testRuleNeedsPolicy(t, newStore(t)) })
	t.Run("rule ids stay with their policy", func(t *testing.T) { testRuleOwnership(t, newStore(t)) })
	t.Run("replace policy prunes rules", func(t *testing.T) { testReplacePolicy(t, newStore(t)) })
	t.Run("reset", func(t *testing.T) { testReset(t, newStore(t)) })
}

func testPolicyCRUD(t *testing.T, s store.PolicyStore) {
	ctx := context.Background()

	_, err := s.GetPolicy(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.SavePolicy(ctx, store.PolicyRecord{
		ID: "b-pol", Name: "Bravo", PolicyType: "PERCENTAGE", ConfigJSON: `{"id":"b-pol","name":"Bravo"}`,
	}))
	require.NoError(t, s.SavePolicy(ctx, store.PolicyRecord{
		ID: "a-pol", Name: "Alpha", PolicyType: "TIERED", ConfigJSON: `{"id":"a-pol","name":"Alpha","type":"TIERED"}`,
	}))

	got, err := s.GetPolicy(ctx, "a-pol")
	require.NoError(t, err)
	assert.Equal(t, "Alpha", got.Name)
	assert.Equal(t, "TIERED", got.PolicyType)
	assert.Equal(t, 1, got.Version)

	// Update bumps the version
	require.NoError(t, s.SavePolicy(ctx, store.PolicyRecord{
		ID: "a-pol", Name: "Alpha v2", PolicyType: "TIERED", ConfigJSON: `{"id":"a-pol","name":"Alpha v2","type":"TIERED"}`,
	}))
	got, err = s.GetPolicy(ctx, "a-pol")
	require.NoError(t, err)
	assert.Equal(t, "Alpha v2", got.Name)
	assert.Equal(t, 2, got.Version)

	list, err := s.ListPolicies(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a-pol", list[0].ID)
	assert.Equal(t, "b-pol", list[1].ID)

	require.NoError(t, s.DeletePolicy(ctx, "b-pol"))
	_, err = s.GetPolicy(ctx, "b-pol")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.DeletePolicy(ctx, "b-pol"), store.ErrNotFound)
}

func testRules(t *testing.T, s store.PolicyStore) {
	ctx := context.Background()
	require.NoError(t, s.SavePolicy(ctx, store.PolicyRecord{ID: "p1", Name: "P1", PolicyType: "PERCENTAGE", ConfigJSON: `{"id":"p1"}`}))
	require.NoError(t, s.SavePolicy(ctx, store.PolicyRecord{ID: "p2", Name: "P2", PolicyType: "PERCENTAGE", ConfigJSON: `{"id":"p2"}`}))

	start := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	rules := []store.RuleRecord{
		{ID: "r-late", PolicyID: "p1", Name: "Late", Priority: 50, ActionType: "FIXED_MODIFIER", ActionValue: "1", IsActive: true},
		{ID: "r-early", PolicyID: "p1", Name: "Early", Priority: 1, ActionType: "PERCENTAGE_MODIFIER", ActionValue: "12.5",
			StackingMode: "ADDITIVE", ConditionsJSON: `{"type":"ATTRIBUTE","field":"foil","operator":"EQUALS","value":true}`,
			StartsAt: &start, IsActive: false},
		{ID: "r-other", PolicyID: "p2", Name: "Other", Priority: 1, ActionType: "SET_MAXIMUM", ActionValue: "100", IsActive: true},
	}
	for _, r := range rules {
		require.NoError(t, s.SaveRule(ctx, r))
	}

	list, err := s.ListRules(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "r-early", list[0].ID)
	assert.Equal(t, "r-late", list[1].ID)

	early := list[0]
	assert.Equal(t, "12.5", early.ActionValue)
	assert.Equal(t, "ADDITIVE", early.StackingMode)
	assert.False(t, early.IsActive)
	require.NotNil(t, early.StartsAt)
	assert.True(t, early.StartsAt.Equal(start))
	assert.Nil(t, early.EndsAt)
	assert.JSONEq(t, rules[1].ConditionsJSON, early.ConditionsJSON)

	got, err := s.GetRule(ctx, "r-late")
	require.NoError(t, err)
	assert.Equal(t, 50, got.Priority)

	require.NoError(t, s.DeleteRule(ctx, "r-late"))
	_, err = s.GetRule(ctx, "r-late")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.DeleteRule(ctx, "r-late"), store.ErrNotFound)

	// Deleting a policy removes its rules only
	require.NoError(t, s.DeletePolicy(ctx, "p1"))
	_, err = s.GetRule(ctx, "r-early")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetRule(ctx, "r-other")
	assert.NoError(t, err)
}

func testRuleNeedsPolicy(t *testing.T, s store.PolicyStore) {
	err := s.SaveRule(context.Background(), store.RuleRecord{ID: "orphan", PolicyID: "nope", ActionType: "FIXED_MODIFIER", ActionValue: "1"})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testReset(t *testing.T, s store.PolicyStore) {
	ctx := context.Background()
	require.NoError(t, s.SavePolicy(ctx, store.PolicyRecord{ID: "p", Name: "P", PolicyType: "PERCENTAGE", ConfigJSON: `{"id":"p"}`}))
	require.NoError(t, s.SaveRule(ctx, store.RuleRecord{ID: "r", PolicyID: "p", ActionType: "FIXED_MODIFIER", ActionValue: "1"}))

	require.NoError(t, s.Reset(ctx))

	list, err := s.ListPolicies(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
	rules, err := s.ListRules(ctx, "p")
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func testRuleOwnership(t *testing.T, s store.PolicyStore) {
	ctx := context.Background()
	require.NoError(t, s.SavePolicy(ctx, store.PolicyRecord{ID: "a", Name: "A", PolicyType: "PERCENTAGE", ConfigJSON: `{"id":"a"}`}))
	require.NoError(t, s.SavePolicy(ctx, store.PolicyRecord{ID: "b", Name: "B", PolicyType: "PERCENTAGE", ConfigJSON: `{"id":"b"}`}))
	require.NoError(t, s.SaveRule(ctx, store.RuleRecord{ID: "shared", PolicyID: "b", Name: "B rule", ActionType: "FIXED_MODIFIER", ActionValue: "1"}))

	err := s.SaveRule(ctx, store.RuleRecord{ID: "shared", PolicyID: "a", Name: "A rule", ActionType: "FIXED_MODIFIER", ActionValue: "9"})
	assert.ErrorIs(t, err, store.ErrRuleOwned)

	got, err := s.GetRule(ctx, "shared")
	require.NoError(t, err)
	assert.Equal(t, "b", got.PolicyID)
	assert.Equal(t, "1", got.ActionValue)

	// Updating under the owning policy still works
	require.NoError(t, s.SaveRule(ctx, store.RuleRecord{ID: "shared", PolicyID: "b", Name: "B rule", ActionType: "FIXED_MODIFIER", ActionValue: "2"}))
	got, err = s.GetRule(ctx, "shared")
	require.NoError(t, err)
	assert.Equal(t, "2", got.ActionValue)
}

func testReplacePolicy(t *testing.T, s store.PolicyStore) {
	ctx := context.Background()
	pol := store.PolicyRecord{ID: "p", Name: "P", PolicyType: "PERCENTAGE", ConfigJSON: `{"id":"p"}`}
	rule := func(id, value string) store.RuleRecord {
		return store.RuleRecord{ID: id, Name: id, ActionType: "FIXED_MODIFIER", ActionValue: value, IsActive: true}
	}

	require.NoError(t, s.ReplacePolicy(ctx, pol, []store.RuleRecord{rule("keep", "1"), rule("drop", "2")}))
	rules, err := s.ListRules(ctx, "p")
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "p", rules[0].PolicyID)

	// A smaller rule set removes what it no longer names
	require.NoError(t, s.ReplacePolicy(ctx, pol, []store.RuleRecord{rule("keep", "3")}))
	rules, err = s.ListRules(ctx, "p")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "keep", rules[0].ID)
	assert.Equal(t, "3", rules[0].ActionValue)

	got, err := s.GetPolicy(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Version)

	// An empty set clears them
	require.NoError(t, s.ReplacePolicy(ctx, pol, nil))
	rules, err = s.ListRules(ctx, "p")
	require.NoError(t, err)
	assert.Empty(t, rules)

	// Claiming another policy's rule fails and changes nothing
	other := store.PolicyRecord{ID: "q", Name: "Q", PolicyType: "PERCENTAGE", ConfigJSON: `{"id":"q"}`}
	require.NoError(t, s.ReplacePolicy(ctx, other, []store.RuleRecord{rule("theirs", "5")}))
	require.NoError(t, s.ReplacePolicy(ctx, pol, []store.RuleRecord{rule("mine", "1")}))

	err = s.ReplacePolicy(ctx, pol, []store.RuleRecord{rule("theirs", "7")})
	assert.ErrorIs(t, err, store.ErrRuleOwned)

	rules, err = s.ListRules(ctx, "p")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "mine", rules[0].ID)
	theirs, err := s.GetRule(ctx, "theirs")
	require.NoError(t, err)
	assert.Equal(t, "q", theirs.PolicyID)
	assert.Equal(t, "5", theirs.ActionValue)
}
