/*
engine.go - The price calculation pipeline

PURPOSE:
  Orchestrates one buy-back quote end to end. There is no internal state
  machine and no I/O: CalculatePrice is a function of its input plus the
  evaluation instant, so an Engine can serve any number of concurrent callers.

PIPELINE:
  1. Base offer from the policy type (BaseOffer)
  2. Condition multiplier (ConditionMultiplier) -> offerAfterCondition
  3. Evaluation context from the item snapshot and evaluation time
  4. Stored rules normalised (NormalizeRules -> ParseConditions)
  5. Matching rules selected and ordered (FindMatchingRules)
  6. Rules folded, clamped and rounded (ApplyRules)

  The result carries every intermediate number so a preview UI or an audit
  trail can explain the final offer.

EXAMPLE:
  engine := NewEngine()
  result, err := engine.CalculatePrice(CalculateInput{
      Policy:      policy,
      MarketPrice: decimal.NewFromInt(100),
      Condition:   "NM",
      Attributes:  map[string]any{"foil": true},
  })
  fmt.Println(result.FinalOffer) // 50 for a plain 50% policy

DETERMINISM:
  Set CalculateInput.EvaluationTime (or Engine.Now) in tests. Identical
  inputs then yield identical results.
*/
package pricing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ENGINE
// =============================================================================

// Engine is stateless apart from its clock.
type Engine struct {
	// Now supplies the evaluation instant when the input doesn't pin one.
	Now func() time.Time
}

func NewEngine() *Engine {
	return &Engine{Now: time.Now}
}

// CalculateInput is everything a quote depends on.
type CalculateInput struct {
	Policy Policy

	// Rules overrides Policy.Rules when non-nil.
	Rules []StoredRule

	MarketPrice decimal.Decimal
	Condition   string

	// Attributes is the merged attribute snapshot; merging cached and
	// explicit attributes is the caller's job.
	Attributes   map[string]any
	Inventory    *Inventory
	CategoryID   string
	CategorySlug string

	// EvaluationTime pins "now" for rule windows and DATE conditions.
	EvaluationTime time.Time

	// Timezone is the IANA zone DATE conditions are evaluated in.
	Timezone string
}

func (e *Engine) now() time.Time {
	if e == nil || e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

func (e *Engine) evaluationTime(t time.Time) time.Time {
	if t.IsZero() {
		return e.now()
	}
	return t
}

// CalculatePrice runs the full pipeline and returns the itemised trace.
func (e *Engine) CalculatePrice(in CalculateInput) (*PriceCalculationResult, error) {
	if in.MarketPrice.IsNegative() {
		return nil, ErrNegativeMarketPrice
	}
	if err := CheckPolicyRange(in.Policy); err != nil {
		return nil, err
	}

	at := e.evaluationTime(in.EvaluationTime)
	ctx, err := BuildContext(ContextInput{
		Attributes:   in.Attributes,
		MarketPrice:  in.MarketPrice,
		Condition:    in.Condition,
		Inventory:    in.Inventory,
		CategoryID:   in.CategoryID,
		CategorySlug: in.CategorySlug,
		At:           at,
		Timezone:     in.Timezone,
	})
	if err != nil {
		return nil, err
	}

	base := BaseOffer(in.Policy, in.MarketPrice)
	multiplier := ConditionMultiplier(in.Policy, in.Condition)
	afterCondition := base.Mul(multiplier)

	stored := in.Rules
	if stored == nil {
		stored = in.Policy.Rules
	}
	matched := FindMatchingRules(NormalizeRules(stored), ctx, MatchOptions{EvaluationTime: at})

	stacked := ApplyRules(StackInput{
		BaseOffer:   afterCondition,
		MarketPrice: in.MarketPrice,
		Rules:       matched,
		Constraints: in.Policy.Constraints(),
	})

	return &PriceCalculationResult{
		PolicyID:            in.Policy.ID,
		PolicyName:          in.Policy.Name,
		PolicyType:          in.Policy.Type,
		MarketPrice:         in.MarketPrice,
		Condition:           in.Condition,
		BaseOffer:           base,
		ConditionMultiplier: multiplier,
		OfferAfterCondition: afterCondition,
		AppliedRules:        stacked.AppliedRules,
		FinalOffer:          stacked.FinalOffer,
		ConstraintsApplied:  stacked.ConstraintsApplied,
		EvaluatedAt:         at,
	}, nil
}

// CheckPolicyRange rejects policy amounts whose exponent is out of range.
func CheckPolicyRange(p Policy) error {
	check := func(field string, d *decimal.Decimal) error {
		if d != nil && !WithinExponentRange(*d) {
			return &RangeError{Field: field, Value: *d}
		}
		return nil
	}

	if err := check("base_percentage", p.BasePercentage); err != nil {
		return err
	}
	if err := check("minimum_price", p.MinimumPrice); err != nil {
		return err
	}
	if err := check("maximum_price", p.MaximumPrice); err != nil {
		return err
	}
	for code, m := range p.ConditionMultipliers {
		if err := check("condition_multipliers."+string(code), &m); err != nil {
			return err
		}
	}
	for i, t := range p.TieredRules {
		for _, f := range []struct {
			name string
			d    decimal.Decimal
		}{{"min_value", t.MinValue}, {"max_value", t.MaxValue}, {"percentage", t.Percentage}} {
			if err := check(fmt.Sprintf("tiered_rules[%d].%s", i, f.name), &f.d); err != nil {
				return err
			}
		}
	}
	return nil
}

// =============================================================================
// CONTEXT BUILDING
// =============================================================================

type ContextInput struct {
	Attributes   map[string]any
	MarketPrice  decimal.Decimal
	Condition    string
	Inventory    *Inventory
	CategoryID   string
	CategorySlug string
	At           time.Time
	Timezone     string
}

// BuildContext assembles the EvaluationContext rules are matched against.
func BuildContext(in ContextInput) (EvaluationContext, error) {
	if !WithinExponentRange(in.MarketPrice) {
		return EvaluationContext{}, &RangeError{Field: "market_price", Value: in.MarketPrice}
	}
	tc, err := NewTimeContext(in.At, in.Timezone)
	if err != nil {
		return EvaluationContext{}, err
	}
	attrs := in.Attributes
	if attrs == nil {
		attrs = map[string]any{}
	}
	return EvaluationContext{
		Attributes:   attrs,
		MarketPrice:  in.MarketPrice,
		Condition:    in.Condition,
		Inventory:    in.Inventory,
		CategoryID:   in.CategoryID,
		CategorySlug: in.CategorySlug,
		Time:         tc,
	}, nil
}

// =============================================================================
// AUTHORING TOOLS
// =============================================================================

// ValidateConditions decodes stored conditions strictly and validates them.
// Decode failures are reported as errors rather than degrading to match-all.
func (e *Engine) ValidateConditions(v any) ValidationResult {
	g, err := DecodeConditions(v)
	if err != nil {
		return ValidationResult{Valid: false, Errors: []string{err.Error()}}
	}
	return ValidateCondition(g)
}

// PreviewInput is a hypothetical item for rule authoring tools.
type PreviewInput struct {
	Rules           []StoredRule
	Context         ContextInput
	IncludeInactive bool
}

// PreviewMatchingRules reports which rules would and would not match.
func (e *Engine) PreviewMatchingRules(in PreviewInput) (Categorized, error) {
	cin := in.Context
	cin.At = e.evaluationTime(cin.At)
	ctx, err := BuildContext(cin)
	if err != nil {
		return Categorized{}, err
	}
	return CategorizeRules(NormalizeRules(in.Rules), ctx, MatchOptions{
		IncludeInactive: in.IncludeInactive,
		EvaluationTime:  cin.At,
	}), nil
}
