/*
Package presets provides ready-made buy-back policies for a trading card shop.

PURPOSE:
  Starting points a merchant can load, tweak and save. Each function returns
  a policy JSON document in the factory schema, built directly as maps so
  this package does not depend on the factory.

AVAILABLE POLICIES:
  StandardSinglesJSON:  PERCENTAGE of market with default condition grading
  BulkDiscountJSON:     FIXED_DISCOUNT for bulk lots (market minus a flat amount)
  TieredSinglesJSON:    TIERED percentages that grow with card value
  CustomAnchorJSON:     CUSTOM policy that exists only to host rules

AVAILABLE RULES:
  WeekendBonusRule:  +pct on Saturday and Sunday
  FoilBonusRule:     +pct for foil printings
  LowStockRule:      +amount when fewer than N copies are on hand
  HighValueCapRule:  caps the running offer for cards above a market price
  HolidayEventRule:  +pct inside a fixed [start, end) window

EXAMPLE:
  doc := presets.TieredSinglesJSON("mtg-singles", "MTG Singles",
      presets.FoilBonusRule("foil", 10),
      presets.WeekendBonusRule("weekend", 5))
  policy, err := factory.NewPolicyFactory().ParsePolicy(doc)

SEE ALSO:
  - factory/policy.go: JSON schema and parser
*/
package presets

import (
	"encoding/json"
	"time"
)

// Rule is a rule document in the factory schema.
type Rule = map[string]any

// =============================================================================
// POLICIES
// =============================================================================

// StandardSinglesJSON returns a PERCENTAGE policy paying pct of market.
func StandardSinglesJSON(id, name string, pct float64, rules ...Rule) string {
	return encode(map[string]any{
		"id":              id,
		"name":            name,
		"type":            "PERCENTAGE",
		"base_percentage": pct,
		"minimum_price":   0.01,
		"rules":           ruleList(rules),
	})
}

// BulkDiscountJSON returns a FIXED_DISCOUNT policy: market minus amount.
func BulkDiscountJSON(id, name string, amount float64, rules ...Rule) string {
	return encode(map[string]any{
		"id":              id,
		"name":            name,
		"type":            "FIXED_DISCOUNT",
		"base_percentage": amount,
		"condition_multipliers": map[string]any{
			"NM": 1, "LP": 1, "MP": 0.9, "HP": 0.7, "DMG": 0.4,
		},
		"rules": ruleList(rules),
	})
}

// TieredSinglesJSON returns a TIERED policy that pays a larger share of
// market as cards get more valuable.
func TieredSinglesJSON(id, name string, rules ...Rule) string {
	return encode(map[string]any{
		"id":              id,
		"name":            name,
		"type":            "TIERED",
		"base_percentage": 40,
		"tiered_rules": []map[string]any{
			{"min_value": 0, "max_value": 10, "percentage": 40},
			{"min_value": 10, "max_value": 50, "percentage": 50},
			{"min_value": 50, "max_value": 100, "percentage": 60},
			{"min_value": 100, "max_value": 1000, "percentage": 70},
		},
		"minimum_price": 0.05,
		"maximum_price": 2500,
		"rules":         ruleList(rules),
	})
}

// CustomAnchorJSON returns a CUSTOM policy; the offer comes from its rules.
func CustomAnchorJSON(id, name string, rules ...Rule) string {
	return encode(map[string]any{
		"id":    id,
		"name":  name,
		"type":  "CUSTOM",
		"rules": ruleList(rules),
	})
}

// =============================================================================
// RULES
// =============================================================================

// WeekendBonusRule adds pct on Saturdays and Sundays.
func WeekendBonusRule(id string, pct float64) Rule {
	return Rule{
		"id":            id,
		"name":          "Weekend bonus",
		"priority":      50,
		"conditions":    leaf("DATE", "dayOfWeek", "IN", []int{0, 6}),
		"action_type":   "PERCENTAGE_MODIFIER",
		"action_value":  pct,
		"stacking_mode": "ADDITIVE",
	}
}

// FoilBonusRule adds pct for foil printings.
func FoilBonusRule(id string, pct float64) Rule {
	return Rule{
		"id":            id,
		"name":          "Foil bonus",
		"priority":      10,
		"conditions":    leaf("ATTRIBUTE", "foil", "EQUALS", true),
		"action_type":   "PERCENTAGE_MODIFIER",
		"action_value":  pct,
		"stacking_mode": "MULTIPLICATIVE",
	}
}

// LowStockRule adds a flat amount when stock is below threshold copies.
func LowStockRule(id string, threshold int, amount float64) Rule {
	return Rule{
		"id":           id,
		"name":         "Low stock",
		"priority":     20,
		"conditions":   leaf("INVENTORY", "qtyOnHand", "LESS_THAN", threshold),
		"action_type":  "FIXED_MODIFIER",
		"action_value": amount,
	}
}

// HighValueCapRule caps the running offer for cards whose market price is
// at or above minMarket.
func HighValueCapRule(id string, minMarket, cap float64) Rule {
	return Rule{
		"id":           id,
		"name":         "High value cap",
		"priority":     90,
		"conditions":   leaf("MARKET_PRICE", "marketPrice", "GREATER_THAN_OR_EQUALS", minMarket),
		"action_type":  "SET_MAXIMUM",
		"action_value": cap,
	}
}

// HolidayEventRule adds pct between start (inclusive) and end (exclusive).
func HolidayEventRule(id string, pct float64, start, end time.Time) Rule {
	return Rule{
		"id":            id,
		"name":          "Holiday event",
		"priority":      30,
		"action_type":   "PERCENTAGE_MODIFIER",
		"action_value":  pct,
		"stacking_mode": "MULTIPLICATIVE",
		"starts_at":     start.UTC().Format(time.RFC3339),
		"ends_at":       end.UTC().Format(time.RFC3339),
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func leaf(condType, field, op string, value any) map[string]any {
	return map[string]any{"type": condType, "field": field, "operator": op, "value": value}
}

func ruleList(rules []Rule) []Rule {
	if rules == nil {
		return []Rule{}
	}
	return rules
}

func encode(doc map[string]any) string {
	b, _ := json.MarshalIndent(doc, "", "  ")
	return string(b)
}
