/*
stacker.go - Folding matched rules into the final offer

PURPOSE:
  Takes the priority-ordered matched rules and folds them, one at a time,
  into a running offer. Then applies the policy's absolute clamps and rounds.

ACTIONS (v = rule action value):
  PERCENTAGE_MODIFIER, MULTIPLICATIVE:  offer = offer * (1 + v/100)
  PERCENTAGE_MODIFIER, ADDITIVE:        offer = offer + base * v/100
  FIXED_MODIFIER:                       offer = offer + v
  SET_PERCENTAGE:                       offer = marketPrice * v/100
  SET_MINIMUM:                          offer = max(offer, v)
  SET_MAXIMUM:                          offer = min(offer, v)

  "base" is the offer the fold started from and never changes, so any number
  of ADDITIVE rules sum their shares instead of compounding.

CONSTRAINTS:
  0. Below zero -> zero
  1. Below MinimumPrice -> raised to it (minimum_applied)
  2. Above MaximumPrice -> lowered to it (maximum_applied)
  The order is fixed. With MaximumPrice < MinimumPrice the maximum wins.

ROUNDING:
  Half-up to 2 places, once, after the clamps. Intermediate values keep
  full precision so chained multiplicative rules don't drift.
*/
package pricing

import (
	"github.com/shopspring/decimal"
)

// OfferPlaces is the precision of the final offer.
const OfferPlaces = 2

type StackInput struct {
	BaseOffer   decimal.Decimal
	MarketPrice decimal.Decimal
	Rules       []Rule // already matched and priority-ordered
	Constraints Constraints
}

type StackResult struct {
	FinalOffer         decimal.Decimal
	AppliedRules       []AppliedRule
	ConstraintsApplied ConstraintsApplied
}

// RulePreview is the what-if effect of one rule on one offer.
type RulePreview struct {
	NewOffer      decimal.Decimal `json:"new_offer"`
	Change        decimal.Decimal `json:"change"`
	ChangePercent decimal.Decimal `json:"change_percent"`
}

// ApplyRules folds in.Rules over in.BaseOffer and applies the clamps.
func ApplyRules(in StackInput) StackResult {
	current := in.BaseOffer
	applied := make([]AppliedRule, 0, len(in.Rules))

	for _, r := range in.Rules {
		before := current
		current = applyAction(current, in.BaseOffer, in.MarketPrice, r)
		applied = append(applied, AppliedRule{
			RuleID:       r.ID,
			RuleName:     r.Name,
			ActionType:   r.ActionType,
			Modifier:     r.ActionValue,
			StackingMode: r.StackingMode,
			OfferBefore:  before,
			OfferAfter:   current,
		})
	}

	// A buy-back offer is never negative, whatever the rules did.
	var constraints ConstraintsApplied
	if current.IsNegative() {
		original := current
		constraints.OriginalOffer = &original
		constraints.FloorApplied = true
		current = decimal.Zero
	}
	current = applyConstraints(current, in.Constraints, &constraints)

	return StackResult{
		FinalOffer:         current.Round(OfferPlaces),
		AppliedRules:       applied,
		ConstraintsApplied: constraints,
	}
}

// PreviewRule shows what a single rule would do to offer, without clamps
// or rounding.
func PreviewRule(offer, baseOffer, marketPrice decimal.Decimal, rule Rule) RulePreview {
	next := applyAction(offer, baseOffer, marketPrice, rule)
	change := next.Sub(offer)

	pct := decimal.Zero
	if !offer.IsZero() {
		pct = change.Div(offer).Mul(hundred)
	}
	return RulePreview{NewOffer: next, Change: change, ChangePercent: pct}
}

func applyAction(current, base, market decimal.Decimal, r Rule) decimal.Decimal {
	v := r.ActionValue

	switch r.ActionType {
	case ActionPercentageModifier:
		if r.StackingMode == StackAdditive {
			return current.Add(percentOf(base, v))
		}
		return current.Mul(decimal.NewFromInt(1).Add(v.Div(hundred)))
	case ActionFixedModifier:
		return current.Add(v)
	case ActionSetPercentage:
		return percentOf(market, v)
	case ActionSetMinimum:
		return decimal.Max(current, v)
	case ActionSetMaximum:
		return decimal.Min(current, v)
	default:
		return current
	}
}

// applyConstraints clamps offer and records it in applied. OriginalOffer
// keeps the first pre-adjustment value.
func applyConstraints(offer decimal.Decimal, c Constraints, applied *ConstraintsApplied) decimal.Decimal {
	if c.MinimumPrice != nil && offer.LessThan(*c.MinimumPrice) {
		if applied.OriginalOffer == nil {
			original := offer
			applied.OriginalOffer = &original
		}
		applied.MinimumApplied = true
		offer = *c.MinimumPrice
	}

	if c.MaximumPrice != nil && offer.GreaterThan(*c.MaximumPrice) {
		if applied.OriginalOffer == nil {
			original := offer
			applied.OriginalOffer = &original
		}
		applied.MaximumApplied = true
		offer = *c.MaximumPrice
	}

	return offer
}
