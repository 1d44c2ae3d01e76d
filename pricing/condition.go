/*
condition.go - Condition tree evaluation

PURPOSE:
  Evaluates a single predicate, or a recursive AND/OR tree of predicates,
  against an EvaluationContext. Rules only fire when their tree is true.

TREE SHAPE:
  Node is a tagged union: a ConditionGroup (operator AND/OR plus children)
  or a leaf Condition. Trees are built top-down from stored data, so there
  are no cycles, but nesting deeper than MaxConditionDepth never matches.

  {"operator": "AND", "conditions": [
      {"type": "ATTRIBUTE", "field": "finish.foil", "operator": "EQUALS", "value": true},
      {"operator": "OR", "conditions": [
          {"type": "DATE", "field": "dayOfWeek", "operator": "IN", "value": [0, 6]},
          {"type": "MARKET_PRICE", "field": "marketPrice", "operator": "GREATER_THAN", "value": 50}
      ]}
  ]}

NULL HANDLING:
  A field that resolves to nil (missing attribute, no inventory data, unset
  category) only matches NOT_EQUALS against a non-nil value, and NOT_IN.

SEE ALSO:
  - parse.go: JSON decoding and the ParseConditions chokepoint
  - validate.go: Structural validation
  - compare.go: Value coercion and comparison helpers
*/
package pricing

import (
	"strings"
)

// MaxConditionDepth bounds group nesting. Deeper trees evaluate to false.
const MaxConditionDepth = 10

// =============================================================================
// TREE TYPES
// =============================================================================

// Node is either a Condition or a ConditionGroup.
type Node interface {
	isNode()
}

type GroupOperator string

const (
	GroupAnd GroupOperator = "AND"
	GroupOr  GroupOperator = "OR"
)

type ConditionType string

const (
	ConditionAttribute   ConditionType = "ATTRIBUTE"
	ConditionMarketPrice ConditionType = "MARKET_PRICE"
	ConditionInventory   ConditionType = "INVENTORY"
	ConditionDate        ConditionType = "DATE"
	ConditionCategory    ConditionType = "CATEGORY"
)

type Operator string

const (
	OpEquals              Operator = "EQUALS"
	OpNotEquals           Operator = "NOT_EQUALS"
	OpGreaterThan         Operator = "GREATER_THAN"
	OpGreaterThanOrEquals Operator = "GREATER_THAN_OR_EQUALS"
	OpLessThan            Operator = "LESS_THAN"
	OpLessThanOrEquals    Operator = "LESS_THAN_OR_EQUALS"
	OpIn                  Operator = "IN"
	OpNotIn               Operator = "NOT_IN"
	OpContains            Operator = "CONTAINS"
	OpBetween             Operator = "BETWEEN"
)

// ConditionGroup combines children with AND/OR. An empty group is true.
type ConditionGroup struct {
	Operator   GroupOperator `json:"operator"`
	Conditions []Node        `json:"conditions"`
}

// Condition is a single predicate against one context field.
type Condition struct {
	Type     ConditionType `json:"type"`
	Field    string        `json:"field"`
	Operator Operator      `json:"operator"`
	Value    any           `json:"value"`
}

func (ConditionGroup) isNode() {}
func (Condition) isNode()      {}

// MatchAll is the empty AND group every unparsable tree degrades to.
func MatchAll() ConditionGroup {
	return ConditionGroup{Operator: GroupAnd, Conditions: []Node{}}
}

// =============================================================================
// EVALUATION
// =============================================================================

// Evaluate reports whether node holds for ctx.
func Evaluate(node Node, ctx EvaluationContext) bool {
	return evaluate(node, ctx, 1)
}

func evaluate(node Node, ctx EvaluationContext, depth int) bool {
	switch n := node.(type) {
	case ConditionGroup:
		return evaluateGroup(n, ctx, depth)
	case *ConditionGroup:
		if n == nil {
			return true
		}
		return evaluateGroup(*n, ctx, depth)
	case Condition:
		return evaluateCondition(n, ctx)
	case *Condition:
		if n == nil {
			return false
		}
		return evaluateCondition(*n, ctx)
	default:
		return false
	}
}

func evaluateGroup(g ConditionGroup, ctx EvaluationContext, depth int) bool {
	if depth > MaxConditionDepth {
		return false
	}
	if len(g.Conditions) == 0 {
		return true
	}

	if g.Operator == GroupOr {
		for _, child := range g.Conditions {
			if evaluate(child, ctx, depth+1) {
				return true
			}
		}
		return false
	}

	for _, child := range g.Conditions {
		if !evaluate(child, ctx, depth+1) {
			return false
		}
	}
	return true
}

func evaluateCondition(c Condition, ctx EvaluationContext) bool {
	field := resolveField(c, ctx)

	if field == nil {
		switch c.Operator {
		case OpNotEquals:
			return c.Value != nil
		case OpNotIn:
			return true
		default:
			return false
		}
	}

	switch c.Operator {
	case OpEquals:
		return valuesEqual(field, c.Value)
	case OpNotEquals:
		return !valuesEqual(field, c.Value)
	case OpGreaterThan:
		return compareValues(field, c.Value) > 0
	case OpGreaterThanOrEquals:
		return compareValues(field, c.Value) >= 0
	case OpLessThan:
		return compareValues(field, c.Value) < 0
	case OpLessThanOrEquals:
		return compareValues(field, c.Value) <= 0
	case OpIn:
		list, ok := asList(c.Value)
		return ok && inList(field, list)
	case OpNotIn:
		list, ok := asList(c.Value)
		return !ok || !inList(field, list)
	case OpContains:
		return containsFold(field, c.Value)
	case OpBetween:
		return between(field, c.Value)
	default:
		return false
	}
}

// =============================================================================
// FIELD RESOLUTION
// =============================================================================

func resolveField(c Condition, ctx EvaluationContext) any {
	switch c.Type {
	case ConditionAttribute:
		return lookupPath(ctx.Attributes, strings.TrimPrefix(c.Field, "attributes."))
	case ConditionMarketPrice:
		return ctx.MarketPrice
	case ConditionInventory:
		if ctx.Inventory == nil {
			return nil
		}
		return ctx.Inventory.QtyOnHand
	case ConditionDate:
		v, ok := ctx.Time.Field(c.Field)
		if !ok {
			return nil
		}
		return v
	case ConditionCategory:
		var v string
		switch c.Field {
		case "categoryId":
			v = ctx.CategoryID
		case "categorySlug":
			v = ctx.CategorySlug
		}
		if v == "" {
			return nil
		}
		return v
	default:
		return nil
	}
}

// lookupPath walks a dot-path through nested maps. Missing segments yield nil.
func lookupPath(attrs map[string]any, path string) any {
	if path == "" || attrs == nil {
		return nil
	}

	var cur any = attrs
	for _, seg := range strings.Split(path, ".") {
		switch m := cur.(type) {
		case map[string]any:
			v, ok := m[seg]
			if !ok {
				return nil
			}
			cur = v
		case map[string]bool:
			v, ok := m[seg]
			if !ok {
				return nil
			}
			cur = v
		case map[string]string:
			v, ok := m[seg]
			if !ok {
				return nil
			}
			cur = v
		default:
			return nil
		}
	}
	return cur
}
