package pricing

import (
	"fmt"
	"slices"
	"strings"
)

// =============================================================================
// WHITELISTS - What each condition type may reference
// =============================================================================

var orderingOps = []Operator{
	OpGreaterThan, OpGreaterThanOrEquals, OpLessThan, OpLessThanOrEquals,
}

var allowedFields = map[ConditionType][]string{
	ConditionMarketPrice: {"marketPrice", "price"},
	ConditionInventory:   {"qtyOnHand", "quantity"},
	ConditionDate:        dateFields,
	ConditionCategory:    {"categoryId", "categorySlug"},
}

var allowedOperators = map[ConditionType][]Operator{
	ConditionAttribute: {
		OpEquals, OpNotEquals, OpGreaterThan, OpGreaterThanOrEquals, OpLessThan,
		OpLessThanOrEquals, OpIn, OpNotIn, OpContains, OpBetween,
	},
	ConditionMarketPrice: append([]Operator{OpEquals, OpNotEquals, OpBetween}, orderingOps...),
	ConditionInventory:   append([]Operator{OpEquals, OpNotEquals, OpBetween}, orderingOps...),
	ConditionDate:        append([]Operator{OpEquals, OpNotEquals, OpIn, OpNotIn, OpBetween}, orderingOps...),
	ConditionCategory:    {OpEquals, OpNotEquals, OpIn, OpNotIn},
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidateCondition checks a tree's structure and collects every defect.
func ValidateCondition(node Node) ValidationResult {
	v := &validator{}
	v.node(node, "", 1)
	return ValidationResult{Valid: len(v.errs) == 0, Errors: v.errs}
}

type validator struct {
	errs []string
}

func (v *validator) addf(path, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if path != "" {
		msg = path + ": " + msg
	}
	v.errs = append(v.errs, msg)
}

func (v *validator) node(n Node, path string, depth int) {
	switch c := n.(type) {
	case ConditionGroup:
		v.group(c, path, depth)
	case *ConditionGroup:
		if c == nil {
			v.addf(path, "condition group is nil")
			return
		}
		v.group(*c, path, depth)
	case Condition:
		v.leaf(c, path)
	case *Condition:
		if c == nil {
			v.addf(path, "condition is nil")
			return
		}
		v.leaf(*c, path)
	default:
		v.addf(path, "unsupported condition node %T", n)
	}
}

func (v *validator) group(g ConditionGroup, path string, depth int) {
	if depth > MaxConditionDepth {
		v.addf(path, "condition groups nested deeper than %d levels", MaxConditionDepth)
		return
	}
	if g.Operator != GroupAnd && g.Operator != GroupOr {
		v.addf(path, "invalid group operator %q (must be AND or OR)", g.Operator)
	}
	for i, child := range g.Conditions {
		v.node(child, childPath(path, i), depth+1)
	}
}

func (v *validator) leaf(c Condition, path string) {
	ops, known := allowedOperators[c.Type]
	if !known {
		v.addf(path, "unknown condition type %q", c.Type)
	}

	if !fieldAllowed(c.Type, c.Field) {
		if c.Field == "" {
			v.addf(path, "field is required")
		} else if known {
			v.addf(path, "field %q is not allowed for %s conditions", c.Field, c.Type)
		}
	}

	if c.Operator == "" {
		v.addf(path, "operator is required")
	} else if known && !slices.Contains(ops, c.Operator) {
		v.addf(path, "operator %s is not allowed for %s conditions", c.Operator, c.Type)
	}

	switch c.Operator {
	case OpIn, OpNotIn:
		if _, ok := asList(c.Value); !ok {
			v.addf(path, "%s requires an array value", c.Operator)
		}
	case OpBetween:
		if l, ok := asList(c.Value); !ok || len(l) != 2 {
			v.addf(path, "BETWEEN requires exactly 2 values [min, max]")
		}
	}
}

// fieldAllowed accepts any nested path for ATTRIBUTE, with or without the
// "attributes." prefix; other types use their fixed whitelist.
func fieldAllowed(t ConditionType, field string) bool {
	if field == "" {
		return false
	}
	if t == ConditionAttribute {
		path := strings.TrimPrefix(field, "attributes.")
		if path == "" {
			return false
		}
		for _, seg := range strings.Split(path, ".") {
			if seg == "" {
				return false
			}
		}
		return true
	}
	return slices.Contains(allowedFields[t], field)
}

func childPath(parent string, i int) string {
	if parent == "" {
		return fmt.Sprintf("conditions[%d]", i)
	}
	return fmt.Sprintf("%s.conditions[%d]", parent, i)
}
