/*
policy.go - Pricing policies and base-offer strategies

PURPOSE:
  A Policy is the merchant's top-level pricing configuration. It selects how
  the base offer is derived from the market price, how the item's condition
  scales it, and which absolute min/max clamps apply after all rules.

POLICY TYPES:
  PERCENTAGE:
    base = marketPrice * basePercentage / 100   (basePercentage defaults to 50)

  FIXED_DISCOUNT:
    base = max(0, marketPrice - basePercentage)  (basePercentage is an amount here)

  TIERED:
    First tier where minValue <= marketPrice < maxValue, in stored order.
    Prices at or above the last tier's maxValue use the last tier.
    No tiers, or no tier matched, fall back to basePercentage.

  CUSTOM (and anything unrecognised):
    Fixed 50%. The policy is an anchor for its attached rules.

CONDITION MULTIPLIERS:
  Looked up by upper-cased condition code in the policy map, then in
  DefaultConditionMultipliers, then 1.0.

EXAMPLE:
  pct := decimal.NewFromInt(60)
  policy := Policy{
      ID:             "singles",
      Type:           PolicyPercentage,
      BasePercentage: &pct,
  }
  base := BaseOffer(policy, decimal.NewFromInt(10)) // 6
*/
package pricing

import (
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// POLICY
// =============================================================================

type PolicyType string

const (
	PolicyPercentage    PolicyType = "PERCENTAGE"
	PolicyFixedDiscount PolicyType = "FIXED_DISCOUNT"
	PolicyTiered        PolicyType = "TIERED"
	PolicyCustom        PolicyType = "CUSTOM"
)

// Policy is a read-only snapshot; the engine never writes it back.
type Policy struct {
	ID   PolicyID
	Name string
	Type PolicyType

	// BasePercentage is a percent for PERCENTAGE and TIERED fallbacks and an
	// absolute currency amount for FIXED_DISCOUNT. Nil means the default (50).
	BasePercentage *decimal.Decimal

	ConditionMultipliers map[ConditionCode]decimal.Decimal
	TieredRules          []Tier

	MinimumPrice *decimal.Decimal
	MaximumPrice *decimal.Decimal

	// Rules attached by the caller. CalculateInput.Rules takes precedence.
	Rules []StoredRule
}

// Tier is half-open: MinValue <= price < MaxValue.
type Tier struct {
	MinValue   decimal.Decimal
	MaxValue   decimal.Decimal
	Percentage decimal.Decimal
}

// Constraints are the policy-level clamps applied after every rule.
type Constraints struct {
	MinimumPrice *decimal.Decimal
	MaximumPrice *decimal.Decimal
}

func (p Policy) Constraints() Constraints {
	return Constraints{MinimumPrice: p.MinimumPrice, MaximumPrice: p.MaximumPrice}
}

// =============================================================================
// DEFAULTS
// =============================================================================

var (
	DefaultBasePercentage = decimal.NewFromInt(50)

	hundred = decimal.NewFromInt(100)
)

// DefaultConditionMultipliers applies when a policy does not configure a code.
var DefaultConditionMultipliers = map[ConditionCode]decimal.Decimal{
	ConditionNearMint:         decimal.NewFromInt(1),
	ConditionLightlyPlayed:    decimal.RequireFromString("0.9"),
	ConditionModeratelyPlayed: decimal.RequireFromString("0.75"),
	ConditionHeavilyPlayed:    decimal.RequireFromString("0.5"),
	ConditionDamaged:          decimal.RequireFromString("0.25"),
}

func (p Policy) basePercentage() decimal.Decimal {
	if p.BasePercentage == nil {
		return DefaultBasePercentage
	}
	return *p.BasePercentage
}

// =============================================================================
// BASE OFFER
// =============================================================================

// BaseOffer computes the policy-only offer, before condition and rules.
func BaseOffer(p Policy, marketPrice decimal.Decimal) decimal.Decimal {
	switch p.Type {
	case PolicyPercentage:
		return percentOf(marketPrice, p.basePercentage())
	case PolicyFixedDiscount:
		return decimal.Max(decimal.Zero, marketPrice.Sub(p.basePercentage()))
	case PolicyTiered:
		return percentOf(marketPrice, tierPercentage(p, marketPrice))
	default:
		return percentOf(marketPrice, DefaultBasePercentage)
	}
}

func tierPercentage(p Policy, marketPrice decimal.Decimal) decimal.Decimal {
	if len(p.TieredRules) == 0 {
		return p.basePercentage()
	}
	for _, t := range p.TieredRules {
		if marketPrice.GreaterThanOrEqual(t.MinValue) && marketPrice.LessThan(t.MaxValue) {
			return t.Percentage
		}
	}
	last := p.TieredRules[len(p.TieredRules)-1]
	if marketPrice.GreaterThanOrEqual(last.MaxValue) {
		return last.Percentage
	}
	return p.basePercentage()
}

// ConditionMultiplier resolves the multiplier for an item condition code.
func ConditionMultiplier(p Policy, condition string) decimal.Decimal {
	code := ConditionCode(strings.ToUpper(strings.TrimSpace(condition)))
	if m, ok := p.ConditionMultipliers[code]; ok {
		return m
	}
	if m, ok := DefaultConditionMultipliers[code]; ok {
		return m
	}
	return decimal.NewFromInt(1)
}

func percentOf(amount, percent decimal.Decimal) decimal.Decimal {
	return amount.Mul(percent).Div(hundred)
}
