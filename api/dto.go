/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Policy and rule bodies
  reuse the factory document types so the API, the CLI and YAML packs all
  speak one schema.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Policies: PolicyDTO, CreatePolicyRequest
  Rules:    RuleDTO, PreviewRulesRequest, PreviewRuleRequest, RulePreviewResponse
  Quotes:   QuoteRequest, QuoteDTO, BatchQuoteRequest, BatchQuoteResponse
  Other:    ValidateConditionsRequest, ScenarioDTO, ErrorResponse

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/policy.go: PolicyJSON and RuleJSON
*/
package api

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/buyback-engine/factory"
	"github.com/warp/buyback-engine/pricing"
)

// =============================================================================
// POLICIES AND RULES
// =============================================================================

// PolicyDTO represents a policy in API responses.
type PolicyDTO struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	Type      string             `json:"type"`
	Config    factory.PolicyJSON `json:"config"`
	Version   int                `json:"version"`
	CreatedAt string             `json:"created_at,omitempty"`
	UpdatedAt string             `json:"updated_at,omitempty"`
}

// CreatePolicyRequest is the request to create or replace a policy.
type CreatePolicyRequest struct {
	Config factory.PolicyJSON `json:"config"`
}

// RuleDTO is a rule document tagged with its owning policy.
type RuleDTO struct {
	PolicyID string `json:"policy_id"`
	factory.RuleJSON
}

// =============================================================================
// QUOTES
// =============================================================================

type InventoryDTO struct {
	QtyOnHand int `json:"qty_on_hand"`
}

// QuoteRequest describes the item being bought back.
type QuoteRequest struct {
	MarketPrice    decimal.Decimal `json:"market_price"`
	Condition      string          `json:"condition"`
	Attributes     map[string]any  `json:"attributes,omitempty"`
	Inventory      *InventoryDTO   `json:"inventory,omitempty"`
	CategoryID     string          `json:"category_id,omitempty"`
	CategorySlug   string          `json:"category_slug,omitempty"`
	EvaluationTime *time.Time      `json:"evaluation_time,omitempty"`
	Timezone       string          `json:"timezone,omitempty"`
}

// QuoteDTO is the calculation trace plus a quote identifier.
type QuoteDTO struct {
	QuoteID string `json:"quote_id"`
	*pricing.PriceCalculationResult
}

// BatchQuoteItem is one line of a batch quote.
type BatchQuoteItem struct {
	PolicyID string `json:"policy_id"`
	QuoteRequest
}

type BatchQuoteRequest struct {
	Items []BatchQuoteItem `json:"items"`
}

// BatchQuoteResult carries either a quote or the error for that line.
type BatchQuoteResult struct {
	Index int       `json:"index"`
	Quote *QuoteDTO `json:"quote,omitempty"`
	Error string    `json:"error,omitempty"`
}

type BatchQuoteResponse struct {
	BatchID string             `json:"batch_id"`
	Results []BatchQuoteResult `json:"results"`
	Total   decimal.Decimal    `json:"total"`
	Failed  int                `json:"failed"`
}

// =============================================================================
// AUTHORING TOOLS
// =============================================================================

// PreviewRulesRequest is a hypothetical item checked against a policy's rules.
type PreviewRulesRequest struct {
	QuoteRequest
	IncludeInactive bool `json:"include_inactive"`
}

// RuleSummaryDTO is the compact form of a rule in preview output.
type RuleSummaryDTO struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Priority     int             `json:"priority"`
	ActionType   string          `json:"action_type"`
	ActionValue  decimal.Decimal `json:"action_value"`
	StackingMode string          `json:"stacking_mode"`
	Reason       string          `json:"reason,omitempty"`
}

type PreviewRulesResponse struct {
	Matching    []RuleSummaryDTO `json:"matching"`
	NotMatching []RuleSummaryDTO `json:"not_matching"`
}

// PreviewRuleRequest asks what a single rule would do to an offer.
type PreviewRuleRequest struct {
	Rule         factory.RuleJSON `json:"rule"`
	CurrentOffer decimal.Decimal  `json:"current_offer"`
	BaseOffer    *decimal.Decimal `json:"base_offer,omitempty"`
	MarketPrice  decimal.Decimal  `json:"market_price"`
}

type ValidateConditionsRequest struct {
	Conditions json.RawMessage `json:"conditions"`
}

// =============================================================================
// SCENARIOS AND ERRORS
// =============================================================================

// ScenarioDTO describes a demo data set.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toRuleSummary(r pricing.Rule, reason pricing.MissReason) RuleSummaryDTO {
	return RuleSummaryDTO{
		ID:           string(r.ID),
		Name:         r.Name,
		Priority:     r.Priority,
		ActionType:   string(r.ActionType),
		ActionValue:  r.ActionValue,
		StackingMode: string(r.StackingMode),
		Reason:       string(reason),
	}
}

func (q QuoteRequest) inventory() *pricing.Inventory {
	if q.Inventory == nil {
		return nil
	}
	return &pricing.Inventory{QtyOnHand: q.Inventory.QtyOnHand}
}

func (q QuoteRequest) evaluationTime() time.Time {
	if q.EvaluationTime == nil {
		return time.Time{}
	}
	return *q.EvaluationTime
}
