/*
Package factory converts policy documents into pricing types.

PURPOSE:
  Merchants author buy-back policies and their rules as JSON (admin UI,
  database rows) or YAML (policy packs checked into a repo). The factory
  turns either form into pricing.Policy with its attached StoredRules, and
  back again, so policies can change without code changes.

JSON SCHEMA:
  {
    "id": "singles",
    "name": "MTG Singles",
    "type": "TIERED",
    "base_percentage": 50,
    "condition_multipliers": {"NM": 1, "LP": 0.85},
    "tiered_rules": [
      {"min_value": 0,  "max_value": 10, "percentage": 40},
      {"min_value": 10, "max_value": 50, "percentage": 50}
    ],
    "minimum_price": 0.05,
    "maximum_price": 500,
    "rules": [
      {
        "id": "foil-bonus",
        "name": "Foil bonus",
        "priority": 10,
        "conditions": {"type": "ATTRIBUTE", "field": "foil", "operator": "EQUALS", "value": true},
        "action_type": "PERCENTAGE_MODIFIER",
        "action_value": 10,
        "stacking_mode": "MULTIPLICATIVE",
        "starts_at": "2025-03-01T00:00:00Z",
        "is_active": true
      }
    ]
  }

  Numbers may be written bare or quoted. The YAML form uses the same keys.

DEFAULTS:
  - type: PERCENTAGE
  - rules[].is_active: true
  - rules[].stacking_mode: MULTIPLICATIVE (applied by pricing.NormalizeRule)

AUTHORING CHECKS:
  ValidatePolicy reports configurations the engine tolerates but a merchant
  almost certainly did not mean: maximum below minimum, overlapping or
  inverted tiers, structurally invalid rule conditions.

SEE ALSO:
  - pricing/policy.go: Policy type definition
  - presets/presets.go: Ready-made card shop policies
*/
package factory

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/warp/buyback-engine/pricing"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// PolicyJSON is the document form of a policy.
type PolicyJSON struct {
	ID                   string                     `json:"id"`
	Name                 string                     `json:"name"`
	Type                 string                     `json:"type,omitempty"`
	BasePercentage       *decimal.Decimal           `json:"base_percentage,omitempty"`
	ConditionMultipliers map[string]decimal.Decimal `json:"condition_multipliers,omitempty"`
	TieredRules          []TierJSON                 `json:"tiered_rules,omitempty"`
	MinimumPrice         *decimal.Decimal           `json:"minimum_price,omitempty"`
	MaximumPrice         *decimal.Decimal           `json:"maximum_price,omitempty"`
	Rules                []RuleJSON                 `json:"rules,omitempty"`
}

type TierJSON struct {
	MinValue   decimal.Decimal `json:"min_value"`
	MaxValue   decimal.Decimal `json:"max_value"`
	Percentage decimal.Decimal `json:"percentage"`
}

// RuleJSON is the document form of a pricing rule. Conditions are kept raw
// and handed to pricing.ParseConditions at evaluation time.
type RuleJSON struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Priority     int             `json:"priority"`
	Conditions   json.RawMessage `json:"conditions,omitempty"`
	ActionType   string          `json:"action_type"`
	ActionValue  decimal.Decimal `json:"action_value"`
	StackingMode string          `json:"stacking_mode,omitempty"`
	StartsAt     *time.Time      `json:"starts_at,omitempty"`
	EndsAt       *time.Time      `json:"ends_at,omitempty"`
	IsActive     *bool           `json:"is_active,omitempty"`
}

// =============================================================================
// POLICY FACTORY
// =============================================================================

// PolicyFactory converts policy documents to pricing types.
type PolicyFactory struct{}

func NewPolicyFactory() *PolicyFactory {
	return &PolicyFactory{}
}

// ParsePolicy parses a JSON document.
func (f *PolicyFactory) ParsePolicy(jsonStr string) (*pricing.Policy, error) {
	var pj PolicyJSON
	if err := json.Unmarshal([]byte(jsonStr), &pj); err != nil {
		return nil, eris.Wrap(err, "factory: parse policy JSON")
	}
	return f.FromJSON(pj)
}

// ParsePolicyYAML parses a YAML document with the same schema as ParsePolicy.
func (f *PolicyFactory) ParsePolicyYAML(data []byte) (*pricing.Policy, error) {
	pj, err := DecodeYAML(data)
	if err != nil {
		return nil, err
	}
	return f.FromJSON(pj)
}

// DecodeYAML reads a YAML policy document into PolicyJSON. The document is
// bridged through JSON so decimals and raw conditions decode exactly as
// they do for JSON input.
func DecodeYAML(data []byte) (PolicyJSON, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return PolicyJSON{}, eris.Wrap(err, "factory: parse policy YAML")
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return PolicyJSON{}, eris.Wrap(err, "factory: convert policy YAML")
	}
	var pj PolicyJSON
	if err := json.Unmarshal(raw, &pj); err != nil {
		return PolicyJSON{}, eris.Wrap(err, "factory: decode policy YAML")
	}
	return pj, nil
}

// FromJSON converts a PolicyJSON to a pricing.Policy.
func (f *PolicyFactory) FromJSON(pj PolicyJSON) (*pricing.Policy, error) {
	if strings.TrimSpace(pj.ID) == "" {
		return nil, eris.New("factory: policy id is required")
	}

	policy := &pricing.Policy{
		ID:             pricing.PolicyID(pj.ID),
		Name:           pj.Name,
		Type:           parsePolicyType(pj.Type),
		BasePercentage: pj.BasePercentage,
		MinimumPrice:   pj.MinimumPrice,
		MaximumPrice:   pj.MaximumPrice,
	}

	if len(pj.ConditionMultipliers) > 0 {
		policy.ConditionMultipliers = make(map[pricing.ConditionCode]decimal.Decimal, len(pj.ConditionMultipliers))
		for code, m := range pj.ConditionMultipliers {
			policy.ConditionMultipliers[pricing.ConditionCode(strings.ToUpper(code))] = m
		}
	}

	for _, tj := range pj.TieredRules {
		policy.TieredRules = append(policy.TieredRules, pricing.Tier{
			MinValue:   tj.MinValue,
			MaxValue:   tj.MaxValue,
			Percentage: tj.Percentage,
		})
	}

	for i, rj := range pj.Rules {
		if strings.TrimSpace(rj.ID) == "" {
			return nil, eris.Errorf("factory: rules[%d]: id is required", i)
		}
		policy.Rules = append(policy.Rules, RuleFromJSON(rj))
	}

	return policy, nil
}

// RuleFromJSON converts one rule document to a pricing.StoredRule.
func RuleFromJSON(rj RuleJSON) pricing.StoredRule {
	active := true
	if rj.IsActive != nil {
		active = *rj.IsActive
	}

	var conditions any
	if len(rj.Conditions) > 0 && string(rj.Conditions) != "null" {
		conditions = string(rj.Conditions)
	}

	return pricing.StoredRule{
		ID:           pricing.RuleID(rj.ID),
		Name:         rj.Name,
		Priority:     rj.Priority,
		Conditions:   conditions,
		ActionType:   rj.ActionType,
		ActionValue:  pricing.FormatDecimal(rj.ActionValue),
		StackingMode: rj.StackingMode,
		StartsAt:     rj.StartsAt,
		EndsAt:       rj.EndsAt,
		IsActive:     active,
	}
}

// ToJSON converts a pricing.Policy to PolicyJSON.
func (f *PolicyFactory) ToJSON(policy *pricing.Policy) PolicyJSON {
	pj := PolicyJSON{
		ID:             string(policy.ID),
		Name:           policy.Name,
		Type:           string(policy.Type),
		BasePercentage: policy.BasePercentage,
		MinimumPrice:   policy.MinimumPrice,
		MaximumPrice:   policy.MaximumPrice,
	}

	if len(policy.ConditionMultipliers) > 0 {
		pj.ConditionMultipliers = make(map[string]decimal.Decimal, len(policy.ConditionMultipliers))
		for code, m := range policy.ConditionMultipliers {
			pj.ConditionMultipliers[string(code)] = m
		}
	}

	for _, t := range policy.TieredRules {
		pj.TieredRules = append(pj.TieredRules, TierJSON{
			MinValue:   t.MinValue,
			MaxValue:   t.MaxValue,
			Percentage: t.Percentage,
		})
	}

	for _, sr := range policy.Rules {
		pj.Rules = append(pj.Rules, RuleToJSON(sr))
	}

	return pj
}

// RuleToJSON converts a stored rule back to its document form. Conditions
// are canonicalised through pricing.ParseConditions.
func RuleToJSON(sr pricing.StoredRule) RuleJSON {
	active := sr.IsActive
	rule := pricing.NormalizeRule(sr)

	raw, err := json.Marshal(rule.Conditions)
	if err != nil {
		raw = nil
	}

	return RuleJSON{
		ID:           string(sr.ID),
		Name:         sr.Name,
		Priority:     sr.Priority,
		Conditions:   raw,
		ActionType:   string(rule.ActionType),
		ActionValue:  rule.ActionValue,
		StackingMode: string(rule.StackingMode),
		StartsAt:     sr.StartsAt,
		EndsAt:       sr.EndsAt,
		IsActive:     &active,
	}
}

// =============================================================================
// AUTHORING CHECKS
// =============================================================================

// ValidatePolicy collects authoring mistakes the engine would silently
// tolerate. It returns nil when the policy looks sane.
func ValidatePolicy(p *pricing.Policy) error {
	var problems []string

	switch p.Type {
	case pricing.PolicyPercentage, pricing.PolicyFixedDiscount, pricing.PolicyTiered, pricing.PolicyCustom:
	default:
		problems = append(problems, fmt.Sprintf("unknown policy type %q", p.Type))
	}

	if p.BasePercentage != nil && p.BasePercentage.IsNegative() {
		problems = append(problems, "base_percentage must not be negative")
	}

	// Amounts are only compared once their exponents are known to be sane.
	if err := pricing.CheckPolicyRange(*p); err != nil {
		problems = append(problems, err.Error())
	} else {
		problems = append(problems, amountProblems(p)...)
	}

	for i, sr := range p.Rules {
		g, err := pricing.DecodeConditions(sr.Conditions)
		if err != nil {
			problems = append(problems, fmt.Sprintf("rules[%d] (%s): %v", i, sr.ID, err))
			continue
		}
		for _, msg := range pricing.ValidateCondition(g).Errors {
			problems = append(problems, fmt.Sprintf("rules[%d] (%s): %s", i, sr.ID, msg))
		}
		if v, err := decimal.NewFromString(strings.TrimSpace(sr.ActionValue)); err != nil {
			problems = append(problems, fmt.Sprintf("rules[%d] (%s): action_value %q is not a number", i, sr.ID, sr.ActionValue))
		} else if !pricing.WithinExponentRange(v) {
			problems = append(problems, fmt.Sprintf("rules[%d] (%s): action_value %q is out of range", i, sr.ID, sr.ActionValue))
		}
		problems = append(problems, ruleShapeProblems(i, sr)...)
	}

	if len(problems) == 0 {
		return nil
	}
	return &PolicyError{ID: p.ID, Problems: problems}
}

func amountProblems(p *pricing.Policy) []string {
	var problems []string

	if p.MinimumPrice != nil && p.MaximumPrice != nil && p.MaximumPrice.LessThan(*p.MinimumPrice) {
		problems = append(problems, fmt.Sprintf("maximum_price %s is below minimum_price %s",
			p.MaximumPrice.String(), p.MinimumPrice.String()))
	}

	for i, t := range p.TieredRules {
		if !t.MaxValue.GreaterThan(t.MinValue) {
			problems = append(problems, fmt.Sprintf("tiered_rules[%d]: max_value must be greater than min_value", i))
		}
		if i > 0 && t.MinValue.LessThan(p.TieredRules[i-1].MaxValue) {
			problems = append(problems, fmt.Sprintf("tiered_rules[%d]: overlaps the previous tier", i))
		}
	}
	return problems
}

func ruleShapeProblems(i int, sr pricing.StoredRule) []string {
	var problems []string
	rule := pricing.NormalizeRule(sr)

	switch rule.ActionType {
	case pricing.ActionPercentageModifier, pricing.ActionFixedModifier, pricing.ActionSetPercentage,
		pricing.ActionSetMinimum, pricing.ActionSetMaximum:
	default:
		problems = append(problems, fmt.Sprintf("rules[%d] (%s): unknown action_type %q", i, sr.ID, sr.ActionType))
	}
	if rule.StackingMode != pricing.StackMultiplicative && rule.StackingMode != pricing.StackAdditive {
		problems = append(problems, fmt.Sprintf("rules[%d] (%s): unknown stacking_mode %q", i, sr.ID, sr.StackingMode))
	}
	if sr.StartsAt != nil && sr.EndsAt != nil && !sr.EndsAt.After(*sr.StartsAt) {
		problems = append(problems, fmt.Sprintf("rules[%d] (%s): ends_at must be after starts_at", i, sr.ID))
	}
	return problems
}

// PolicyError lists every authoring problem found in one policy.
type PolicyError struct {
	ID       pricing.PolicyID
	Problems []string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("policy %s: %s", e.ID, strings.Join(e.Problems, "; "))
}

func (e *PolicyError) Unwrap() error {
	return pricing.ErrInvalidPolicy
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parsePolicyType(s string) pricing.PolicyType {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", string(pricing.PolicyPercentage):
		return pricing.PolicyPercentage
	case string(pricing.PolicyFixedDiscount):
		return pricing.PolicyFixedDiscount
	case string(pricing.PolicyTiered):
		return pricing.PolicyTiered
	case string(pricing.PolicyCustom):
		return pricing.PolicyCustom
	default:
		// Kept verbatim; the engine treats unknown types like CUSTOM.
		return pricing.PolicyType(s)
	}
}
