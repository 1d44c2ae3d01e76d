/*
Package pricing provides the buy-back offer calculation core.

PURPOSE:
  Computes a cash offer for a traded item from its market price, its
  physical condition and a merchant pricing policy, then layers an ordered
  set of conditional adjustment rules on top. Everything in this package is
  synchronous and free of side effects: the same inputs (and the same
  evaluation time) always produce the same result.

KEY CONCEPTS IN THIS FILE (types.go):
  - Policy: base-offer strategy plus absolute min/max constraints
  - StoredRule / Rule: a conditional adjustment as stored, and as evaluated
  - EvaluationContext: the item snapshot a rule set is evaluated against
  - AppliedRule / PriceCalculationResult: the itemised calculation trace

DESIGN PRINCIPLES:
  1. Immutability: policies and rules are read-only snapshots
  2. Precision: decimal.Decimal everywhere, rounding only at the very end
  3. Explainability: every contributing number is part of the result
  4. Forgiveness: malformed-but-recoverable data falls back to defaults

USAGE:
  engine := pricing.NewEngine()
  result, err := engine.CalculatePrice(pricing.CalculateInput{
      Policy:      policy,
      MarketPrice: decimal.NewFromInt(100),
      Condition:   "LP",
  })

SEE ALSO:
  - condition.go: Condition tree evaluation
  - matcher.go: Rule activation and matching
  - stacker.go: Rule folding and constraints
  - engine.go: The orchestrating pipeline
*/
package pricing

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type PolicyID string
type RuleID string

// ConditionCode is a physical item grade (NM, LP, MP, HP, DMG).
type ConditionCode string

const (
	ConditionNearMint         ConditionCode = "NM"
	ConditionLightlyPlayed    ConditionCode = "LP"
	ConditionModeratelyPlayed ConditionCode = "MP"
	ConditionHeavilyPlayed    ConditionCode = "HP"
	ConditionDamaged          ConditionCode = "DMG"
)

// =============================================================================
// RULE ACTIONS
// =============================================================================

type ActionType string

const (
	ActionPercentageModifier ActionType = "PERCENTAGE_MODIFIER" // +/- percent of the offer
	ActionFixedModifier      ActionType = "FIXED_MODIFIER"      // +/- absolute amount
	ActionSetPercentage      ActionType = "SET_PERCENTAGE"      // offer = percent of market price
	ActionSetMinimum         ActionType = "SET_MINIMUM"         // floor the running offer
	ActionSetMaximum         ActionType = "SET_MAXIMUM"         // cap the running offer
)

// StackingMode decides how a PERCENTAGE_MODIFIER combines with earlier rules.
type StackingMode string

const (
	// StackMultiplicative compounds on the running offer.
	StackMultiplicative StackingMode = "MULTIPLICATIVE"

	// StackAdditive adds a share of the untouched base offer, so additive
	// rules never compound with each other.
	StackAdditive StackingMode = "ADDITIVE"
)

// =============================================================================
// RULE - Conditional adjustment layered on a policy
// =============================================================================

// StoredRule is a rule as it comes out of storage. Conditions may be a JSON
// string, raw bytes or an already-decoded structure; ActionValue is decimal
// text. NormalizeRule turns it into a Rule.
type StoredRule struct {
	ID           RuleID
	Name         string
	Priority     int
	Conditions   any
	ActionType   string
	ActionValue  string
	StackingMode string
	StartsAt     *time.Time
	EndsAt       *time.Time
	IsActive     bool
}

// Rule is the normalised, evaluation-ready form of a StoredRule.
type Rule struct {
	ID           RuleID
	Name         string
	Priority     int // ascending = evaluated first
	Conditions   ConditionGroup
	ActionType   ActionType
	ActionValue  decimal.Decimal
	StackingMode StackingMode
	StartsAt     *time.Time // inclusive
	EndsAt       *time.Time // exclusive
	IsActive     bool
}

// =============================================================================
// EVALUATION CONTEXT - Per-call snapshot rules are matched against
// =============================================================================

type Inventory struct {
	QtyOnHand int
}

type EvaluationContext struct {
	Attributes   map[string]any
	MarketPrice  decimal.Decimal
	Condition    string
	Inventory    *Inventory
	CategoryID   string
	CategorySlug string
	Time         TimeContext
}

// =============================================================================
// CALCULATION TRACE - First-class output, not a debug aid
// =============================================================================

// AppliedRule records one fold step of the stacker.
type AppliedRule struct {
	RuleID       RuleID          `json:"rule_id"`
	RuleName     string          `json:"rule_name"`
	ActionType   ActionType      `json:"action_type"`
	Modifier     decimal.Decimal `json:"modifier"`
	StackingMode StackingMode    `json:"stacking_mode"`
	OfferBefore  decimal.Decimal `json:"offer_before"`
	OfferAfter   decimal.Decimal `json:"offer_after"`
}

// ConstraintsApplied reports whether the zero floor or the policy clamps
// changed the offer.
// OriginalOffer is the pre-clamp value, captured by the first clamp that fired.
type ConstraintsApplied struct {
	MinimumApplied bool             `json:"minimum_applied"`
	MaximumApplied bool             `json:"maximum_applied"`
	FloorApplied   bool             `json:"floor_applied"`
	OriginalOffer  *decimal.Decimal `json:"original_offer,omitempty"`
}

type PriceCalculationResult struct {
	PolicyID            PolicyID           `json:"policy_id"`
	PolicyName          string             `json:"policy_name"`
	PolicyType          PolicyType         `json:"policy_type"`
	MarketPrice         decimal.Decimal    `json:"market_price"`
	Condition           string             `json:"condition"`
	BaseOffer           decimal.Decimal    `json:"base_offer"`
	ConditionMultiplier decimal.Decimal    `json:"condition_multiplier"`
	OfferAfterCondition decimal.Decimal    `json:"offer_after_condition"`
	AppliedRules        []AppliedRule      `json:"applied_rules"`
	FinalOffer          decimal.Decimal    `json:"final_offer"`
	ConstraintsApplied  ConstraintsApplied `json:"constraints_applied"`
	EvaluatedAt         time.Time          `json:"evaluated_at"`
}
