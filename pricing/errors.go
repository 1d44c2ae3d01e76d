/*
errors.go - Centralized error types for the pricing core

PURPOSE:
  The core recovers from malformed-but-recoverable data on its own (missing
  base percentage, unparsable condition JSON, missing inventory). The errors
  here cover the few inputs it cannot make sense of, plus the structured
  validation report for condition trees.

ERROR CATEGORIES:
  1. Input errors - caller supplied something unusable (negative price, bad zone)
  2. Validation errors - condition tree defects, aggregated not short-circuited

USAGE:
  result, err := engine.CalculatePrice(input)
  if pricing.IsClientError(err) {
      // 400 at the API boundary
  }
*/
package pricing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNegativeMarketPrice is returned when the market price is below zero.
	ErrNegativeMarketPrice = errors.New("market price must not be negative")

	// ErrUnknownTimezone is returned when the evaluation timezone cannot be loaded.
	ErrUnknownTimezone = errors.New("unknown timezone")

	// ErrNumberOutOfRange is returned when an input decimal's exponent is
	// outside ±MaxExponent.
	ErrNumberOutOfRange = errors.New("number out of range")

	// ErrInvalidConditions is returned when a condition tree fails validation.
	ErrInvalidConditions = errors.New("invalid conditions")

	// ErrInvalidPolicy is returned by policy authoring checks.
	ErrInvalidPolicy = errors.New("invalid policy")

	// ErrPolicyNotFound is returned by collaborators when a referenced policy
	// doesn't exist. The core itself never looks policies up.
	ErrPolicyNotFound = errors.New("policy not found")

	// ErrRuleNotFound is returned by collaborators when a referenced rule
	// doesn't exist.
	ErrRuleNotFound = errors.New("rule not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// TimezoneError wraps the location lookup failure.
type TimezoneError struct {
	Name string
	Err  error
}

func (e *TimezoneError) Error() string {
	return fmt.Sprintf("unknown timezone %q: %v", e.Name, e.Err)
}

// Unwrap exposes both the sentinel and the underlying lookup failure.
func (e *TimezoneError) Unwrap() []error {
	return []error{ErrUnknownTimezone, e.Err}
}

// RangeError names an input amount whose exponent is outside ±MaxExponent.
type RangeError struct {
	Field string
	Value decimal.Decimal
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s: exponent %d is outside ±%d", e.Field, e.Value.Exponent(), MaxExponent)
}

func (e *RangeError) Unwrap() error {
	return ErrNumberOutOfRange
}

// ValidationResult is the aggregated structural report for a condition tree.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// Err converts an invalid result into an error, nil when valid.
func (r ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	return &ConditionsError{Errors: r.Errors}
}

// ConditionsError lists every defect found in a condition tree.
type ConditionsError struct {
	Errors []string
}

func (e *ConditionsError) Error() string {
	return fmt.Sprintf("invalid conditions: %s", strings.Join(e.Errors, "; "))
}

func (e *ConditionsError) Unwrap() error {
	return ErrInvalidConditions
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrNegativeMarketPrice) ||
		errors.Is(err, ErrUnknownTimezone) ||
		errors.Is(err, ErrNumberOutOfRange) ||
		errors.Is(err, ErrInvalidConditions) ||
		errors.Is(err, ErrInvalidPolicy)
}

// IsNotFound returns true if the error indicates a missing policy or rule.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPolicyNotFound) ||
		errors.Is(err, ErrRuleNotFound)
}
