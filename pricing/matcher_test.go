package pricing_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/buyback-engine/pricing"
)

// =============================================================================
// ACTIVATION WINDOW
// =============================================================================

func TestIsRuleActiveAtTime_HalfOpen(t *testing.T) {
	start := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, time.March, 31, 0, 0, 0, 0, time.UTC)
	r := rule("window", 1, pricing.ActionFixedModifier, "1", "")
	r.StartsAt = timePtr(start)
	r.EndsAt = timePtr(end)

	assert.True(t, pricing.IsRuleActiveAtTime(r, start), "active exactly at StartsAt")
	assert.True(t, pricing.IsRuleActiveAtTime(r, end.Add(-time.Nanosecond)))
	assert.False(t, pricing.IsRuleActiveAtTime(r, end), "inactive exactly at EndsAt")
	assert.False(t, pricing.IsRuleActiveAtTime(r, start.Add(-time.Second)))
}

func TestIsRuleActiveAtTime_OpenBounds(t *testing.T) {
	r := rule("open", 1, pricing.ActionFixedModifier, "1", "")
	assert.True(t, pricing.IsRuleActiveAtTime(r, saturdayNoon))

	r.StartsAt = timePtr(saturdayNoon.Add(time.Hour))
	assert.False(t, pricing.IsRuleActiveAtTime(r, saturdayNoon))

	r.StartsAt = nil
	r.EndsAt = timePtr(saturdayNoon.Add(time.Hour))
	assert.True(t, pricing.IsRuleActiveAtTime(r, saturdayNoon))
}

// =============================================================================
// MATCHING
// =============================================================================

func TestFindMatchingRules_FiltersAndSorts(t *testing.T) {
	// GIVEN: Rules out of order, one inactive, one expired, one not matching
	foil := rule("foil", 20, pricing.ActionPercentageModifier, "10", pricing.StackMultiplicative)
	foil.Conditions = and(leaf(pricing.ConditionAttribute, "foil", pricing.OpEquals, true))

	weekend := rule("weekend", 5, pricing.ActionFixedModifier, "1", "")
	weekend.Conditions = and(leaf(pricing.ConditionDate, "dayOfWeek", pricing.OpIn, []any{0, 6}))

	disabled := rule("disabled", 1, pricing.ActionFixedModifier, "1", "")
	disabled.IsActive = false

	expired := rule("expired", 1, pricing.ActionFixedModifier, "1", "")
	expired.EndsAt = timePtr(saturdayNoon)

	nonFoil := rule("non-foil", 2, pricing.ActionFixedModifier, "1", "")
	nonFoil.Conditions = and(leaf(pricing.ConditionAttribute, "foil", pricing.OpEquals, false))

	ctx := ctxWith(map[string]any{"foil": true})
	opts := pricing.MatchOptions{EvaluationTime: saturdayNoon}

	// WHEN: Matching
	got := pricing.FindMatchingRules([]pricing.Rule{foil, disabled, weekend, expired, nonFoil}, ctx, opts)

	// THEN: Only foil and weekend, priority ascending
	require.Len(t, got, 2)
	assert.Equal(t, pricing.RuleID("weekend"), got[0].ID)
	assert.Equal(t, pricing.RuleID("foil"), got[1].ID)

	// AND: includeInactive brings the disabled rule back
	opts.IncludeInactive = true
	got = pricing.FindMatchingRules([]pricing.Rule{foil, disabled, weekend}, ctx, opts)
	require.Len(t, got, 3)
	assert.Equal(t, pricing.RuleID("disabled"), got[0].ID)
}

func TestFindMatchingRules_StableOnEqualPriority(t *testing.T) {
	rules := []pricing.Rule{
		rule("c", 10, pricing.ActionFixedModifier, "1", ""),
		rule("a", 10, pricing.ActionFixedModifier, "1", ""),
		rule("first", 0, pricing.ActionFixedModifier, "1", ""),
		rule("b", 10, pricing.ActionFixedModifier, "1", ""),
	}

	got := pricing.FindMatchingRules(rules, ctxWith(nil), pricing.MatchOptions{EvaluationTime: saturdayNoon})

	ids := make([]pricing.RuleID, len(got))
	for i, r := range got {
		ids[i] = r.ID
	}
	assert.Equal(t, []pricing.RuleID{"first", "c", "a", "b"}, ids)
}

func TestFindMatchingRules_DoesNotReorderInput(t *testing.T) {
	rules := []pricing.Rule{
		rule("late", 9, pricing.ActionFixedModifier, "1", ""),
		rule("early", 1, pricing.ActionFixedModifier, "1", ""),
	}
	_ = pricing.FindMatchingRules(rules, ctxWith(nil), pricing.MatchOptions{EvaluationTime: saturdayNoon})
	assert.Equal(t, pricing.RuleID("late"), rules[0].ID)
}

func TestCategorizeRules_Reasons(t *testing.T) {
	ok := rule("ok", 1, pricing.ActionFixedModifier, "1", "")

	off := rule("off", 1, pricing.ActionFixedModifier, "1", "")
	off.IsActive = false

	future := rule("future", 1, pricing.ActionFixedModifier, "1", "")
	future.StartsAt = timePtr(saturdayNoon.Add(24 * time.Hour))

	picky := rule("picky", 1, pricing.ActionFixedModifier, "1", "")
	picky.Conditions = and(leaf(pricing.ConditionAttribute, "set", pricing.OpEquals, "LEA"))

	got := pricing.CategorizeRules([]pricing.Rule{ok, off, future, picky}, ctxWith(nil), pricing.MatchOptions{EvaluationTime: saturdayNoon})

	require.Len(t, got.Matching, 1)
	assert.Equal(t, pricing.RuleID("ok"), got.Matching[0].ID)

	require.Len(t, got.NotMatching, 3)
	reasons := map[pricing.RuleID]pricing.MissReason{}
	for _, m := range got.NotMatching {
		reasons[m.Rule.ID] = m.Reason
	}
	assert.Equal(t, pricing.MissInactive, reasons["off"])
	assert.Equal(t, pricing.MissOutsideWindow, reasons["future"])
	assert.Equal(t, pricing.MissConditions, reasons["picky"])
}
