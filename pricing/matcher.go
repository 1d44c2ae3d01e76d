/*
matcher.go - Rule activation and matching

PURPOSE:
  Given a flat set of rules, keep those that are switched on, inside their
  activation window and whose condition tree holds, ordered by priority.
  Storage is not trusted to pre-filter or pre-sort: the matcher always does
  both itself.

ACTIVATION WINDOW:
  Half-open [StartsAt, EndsAt). A rule is active exactly at StartsAt and no
  longer active at EndsAt. Unset bounds are open-ended.

ORDERING:
  Ascending priority, stable: rules with equal priority keep their input order.
*/
package pricing

import (
	"cmp"
	"slices"
	"time"
)

// MatchOptions tunes FindMatchingRules and CategorizeRules.
type MatchOptions struct {
	// IncludeInactive keeps rules whose IsActive flag is off.
	IncludeInactive bool

	// EvaluationTime is the instant windows are checked at. Zero means now.
	EvaluationTime time.Time
}

func (o MatchOptions) at() time.Time {
	if o.EvaluationTime.IsZero() {
		return time.Now()
	}
	return o.EvaluationTime
}

// MissReason explains why CategorizeRules rejected a rule.
type MissReason string

const (
	MissInactive      MissReason = "inactive"
	MissOutsideWindow MissReason = "outside_window"
	MissConditions    MissReason = "conditions_not_met"
)

// RuleMiss is a rule that did not match, with the first failing filter.
type RuleMiss struct {
	Rule   Rule
	Reason MissReason
}

// Categorized splits a rule set for preview and debugging tools.
type Categorized struct {
	Matching    []Rule
	NotMatching []RuleMiss
}

// IsRuleActiveAtTime reports whether now falls inside the rule's window.
func IsRuleActiveAtTime(rule Rule, now time.Time) bool {
	if rule.StartsAt != nil && now.Before(*rule.StartsAt) {
		return false
	}
	if rule.EndsAt != nil && !now.Before(*rule.EndsAt) {
		return false
	}
	return true
}

// FindMatchingRules returns the applicable rules in evaluation order.
func FindMatchingRules(rules []Rule, ctx EvaluationContext, opts MatchOptions) []Rule {
	return CategorizeRules(rules, ctx, opts).Matching
}

// CategorizeRules applies the same filters as FindMatchingRules but also
// reports what was left out and why.
func CategorizeRules(rules []Rule, ctx EvaluationContext, opts MatchOptions) Categorized {
	now := opts.at()
	out := Categorized{Matching: []Rule{}, NotMatching: []RuleMiss{}}

	for _, r := range rules {
		if reason, ok := missReason(r, ctx, now, opts.IncludeInactive); !ok {
			out.NotMatching = append(out.NotMatching, RuleMiss{Rule: r, Reason: reason})
			continue
		}
		out.Matching = append(out.Matching, r)
	}

	sortByPriority(out.Matching)
	return out
}

func missReason(r Rule, ctx EvaluationContext, now time.Time, includeInactive bool) (MissReason, bool) {
	if !r.IsActive && !includeInactive {
		return MissInactive, false
	}
	if !IsRuleActiveAtTime(r, now) {
		return MissOutsideWindow, false
	}
	if !Evaluate(r.Conditions, ctx) {
		return MissConditions, false
	}
	return "", true
}

func sortByPriority(rules []Rule) {
	slices.SortStableFunc(rules, func(a, b Rule) int {
		return cmp.Compare(a.Priority, b.Priority)
	})
}
