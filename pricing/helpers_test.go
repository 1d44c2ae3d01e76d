package pricing_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/warp/buyback-engine/pricing"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func assertDec(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), append([]any{"expected %s, got %s", want, got.String()}, msgAndArgs...)...)
}

// saturdayNoon is 2025-03-15 12:30 UTC, a Saturday.
var saturdayNoon = time.Date(2025, time.March, 15, 12, 30, 0, 0, time.UTC)

func timePtr(t time.Time) *time.Time {
	return &t
}

func percentagePolicy(pct string) pricing.Policy {
	return pricing.Policy{
		ID:             "pol-pct",
		Name:           "Percentage",
		Type:           pricing.PolicyPercentage,
		BasePercentage: decPtr(pct),
	}
}

func ctxWith(attrs map[string]any) pricing.EvaluationContext {
	tc, _ := pricing.NewTimeContext(saturdayNoon, "UTC")
	return pricing.EvaluationContext{
		Attributes:  attrs,
		MarketPrice: dec("100"),
		Condition:   "NM",
		Time:        tc,
	}
}

func leaf(t pricing.ConditionType, field string, op pricing.Operator, value any) pricing.Condition {
	return pricing.Condition{Type: t, Field: field, Operator: op, Value: value}
}

func and(nodes ...pricing.Node) pricing.ConditionGroup {
	return pricing.ConditionGroup{Operator: pricing.GroupAnd, Conditions: nodes}
}

func or(nodes ...pricing.Node) pricing.ConditionGroup {
	return pricing.ConditionGroup{Operator: pricing.GroupOr, Conditions: nodes}
}

func rule(id string, priority int, action pricing.ActionType, value string, mode pricing.StackingMode) pricing.Rule {
	return pricing.Rule{
		ID:           pricing.RuleID(id),
		Name:         id,
		Priority:     priority,
		Conditions:   pricing.MatchAll(),
		ActionType:   action,
		ActionValue:  dec(value),
		StackingMode: mode,
		IsActive:     true,
	}
}
