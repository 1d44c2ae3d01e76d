/*
parse.go - Condition and rule deserialisation

PURPOSE:
  Rule conditions arrive from storage either as JSON text or as structured
  data. Everything funnels through ParseConditions before any evaluation
  runs, so the evaluator only ever sees the canonical tree.

DISCRIMINANT:
  An object whose "operator" is AND/OR (any case) is a group; anything else
  is a leaf condition. A bare leaf at the root is wrapped in an AND group.

FAILURE MODE:
  ParseConditions never fails: unparsable input degrades to MatchAll().
  DecodeConditions is the strict variant used by validation tooling so
  authors see the decode error instead of a silent match-all.
*/
package pricing

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// maxDecodeDepth stops pathological input before it reaches the evaluator.
const maxDecodeDepth = 64

var errDecodeDepth = errors.New("condition tree nested too deeply")

// =============================================================================
// PARSE CONDITIONS - The single deserialisation chokepoint
// =============================================================================

// ParseConditions normalises stored conditions into a ConditionGroup,
// defaulting to an empty AND group when the input cannot be decoded.
func ParseConditions(v any) ConditionGroup {
	g, err := DecodeConditions(v)
	if err != nil {
		return MatchAll()
	}
	return g
}

// DecodeConditions is ParseConditions with the decode error surfaced.
func DecodeConditions(v any) (ConditionGroup, error) {
	switch c := v.(type) {
	case nil:
		return MatchAll(), nil
	case ConditionGroup:
		return c, nil
	case *ConditionGroup:
		if c == nil {
			return MatchAll(), nil
		}
		return *c, nil
	case Condition:
		return ConditionGroup{Operator: GroupAnd, Conditions: []Node{c}}, nil
	case string:
		if strings.TrimSpace(c) == "" {
			return MatchAll(), nil
		}
		return decodeRoot([]byte(c))
	case []byte:
		if len(bytes.TrimSpace(c)) == 0 {
			return MatchAll(), nil
		}
		return decodeRoot(c)
	case json.RawMessage:
		if len(bytes.TrimSpace(c)) == 0 {
			return MatchAll(), nil
		}
		return decodeRoot(c)
	default:
		// Structured data (maps, slices) from a generic decoder: round-trip
		// through JSON so there is one decoding path.
		raw, err := json.Marshal(c)
		if err != nil {
			return ConditionGroup{}, fmt.Errorf("encode conditions: %w", err)
		}
		return decodeRoot(raw)
	}
}

func decodeRoot(raw []byte) (ConditionGroup, error) {
	// Stored rows sometimes hold the tree as a JSON-encoded string.
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '"' {
		var inner string
		if err := json.Unmarshal(trimmed, &inner); err != nil {
			return ConditionGroup{}, fmt.Errorf("decode condition string: %w", err)
		}
		if strings.TrimSpace(inner) == "" {
			return MatchAll(), nil
		}
		raw = []byte(inner)
	}

	node, err := decodeNode(raw, 1)
	if err != nil {
		return ConditionGroup{}, err
	}
	switch n := node.(type) {
	case ConditionGroup:
		return n, nil
	case Condition:
		return ConditionGroup{Operator: GroupAnd, Conditions: []Node{n}}, nil
	default:
		return ConditionGroup{}, fmt.Errorf("unexpected condition node %T", node)
	}
}

// nodeProbe captures both shapes; the operator decides which one it is.
type nodeProbe struct {
	Operator   string            `json:"operator"`
	Conditions []json.RawMessage `json:"conditions"`
	Type       string            `json:"type"`
	Field      string            `json:"field"`
	Value      json.RawMessage   `json:"value"`
}

func decodeNode(raw []byte, depth int) (Node, error) {
	if depth > maxDecodeDepth {
		return nil, errDecodeDepth
	}

	var probe nodeProbe
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("decode condition: %w", err)
	}

	op := strings.ToUpper(strings.TrimSpace(probe.Operator))
	if op == string(GroupAnd) || op == string(GroupOr) {
		g := ConditionGroup{Operator: GroupOperator(op), Conditions: make([]Node, 0, len(probe.Conditions))}
		for i, child := range probe.Conditions {
			n, err := decodeNode(child, depth+1)
			if err != nil {
				return nil, fmt.Errorf("conditions[%d]: %w", i, err)
			}
			g.Conditions = append(g.Conditions, n)
		}
		return g, nil
	}

	c := Condition{
		Type:     ConditionType(strings.ToUpper(strings.TrimSpace(probe.Type))),
		Field:    strings.TrimSpace(probe.Field),
		Operator: Operator(op),
	}
	if len(probe.Value) > 0 {
		v, err := decodeValue(probe.Value)
		if err != nil {
			return nil, fmt.Errorf("decode condition value: %w", err)
		}
		c.Value = v
	}
	return c, nil
}

// decodeValue keeps numbers as json.Number so decimals stay exact.
func decodeValue(raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// UnmarshalJSON lets ConditionGroup be embedded in larger JSON documents.
func (g *ConditionGroup) UnmarshalJSON(data []byte) error {
	parsed, err := decodeRoot(data)
	if err != nil {
		return err
	}
	*g = parsed
	return nil
}

// MarshalJSON always emits a conditions array, never null.
func (g ConditionGroup) MarshalJSON() ([]byte, error) {
	type plain struct {
		Operator   GroupOperator `json:"operator"`
		Conditions []Node        `json:"conditions"`
	}
	p := plain{Operator: g.Operator, Conditions: g.Conditions}
	if p.Operator == "" {
		p.Operator = GroupAnd
	}
	if p.Conditions == nil {
		p.Conditions = []Node{}
	}
	return json.Marshal(p)
}

// =============================================================================
// RULE NORMALISATION
// =============================================================================

// NormalizeRule converts a stored rule into evaluation-ready form. An
// unparsable or out-of-range action value becomes zero, which makes the
// rule a no-op.
func NormalizeRule(sr StoredRule) Rule {
	value, err := decimal.NewFromString(strings.TrimSpace(sr.ActionValue))
	if err != nil || !WithinExponentRange(value) {
		value = decimal.Zero
	}

	mode := StackingMode(strings.ToUpper(strings.TrimSpace(sr.StackingMode)))
	if mode == "" {
		mode = StackMultiplicative
	}

	return Rule{
		ID:           sr.ID,
		Name:         sr.Name,
		Priority:     sr.Priority,
		Conditions:   ParseConditions(sr.Conditions),
		ActionType:   ActionType(strings.ToUpper(strings.TrimSpace(sr.ActionType))),
		ActionValue:  value,
		StackingMode: mode,
		StartsAt:     sr.StartsAt,
		EndsAt:       sr.EndsAt,
		IsActive:     sr.IsActive,
	}
}

func NormalizeRules(stored []StoredRule) []Rule {
	rules := make([]Rule, 0, len(stored))
	for _, sr := range stored {
		rules = append(rules, NormalizeRule(sr))
	}
	return rules
}
