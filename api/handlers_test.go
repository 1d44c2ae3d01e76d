/*
handlers_test.go - HTTP tests for the API handlers

Tests for:
- Policy and rule CRUD through the router
- Single and batch quotes, including error mapping
- Rule preview and condition validation
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/buyback-engine/store"
)

var (
	saturdayNoon  = time.Date(2025, time.March, 15, 12, 30, 0, 0, time.UTC)
	wednesdayNoon = time.Date(2025, time.March, 12, 12, 0, 0, 0, time.UTC)
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func setupTestHandler(t *testing.T) (*Handler, *chi.Mux) {
	t.Helper()
	h := NewHandler(store.NewMemory())
	h.Engine.Now = func() time.Time { return saturdayNoon }
	return h, NewRouter(h, RouterOptions{})
}

func setupScenario(t *testing.T, id string) (*Handler, *chi.Mux) {
	t.Helper()
	h, router := setupTestHandler(t)
	require.NoError(t, h.LoadScenarioByID(context.Background(), id))
	return h, router
}

func do(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// =============================================================================
// POLICIES
// =============================================================================

func TestCreatePolicy_ThenGetWithRules(t *testing.T) {
	// GIVEN: An empty store
	_, router := setupTestHandler(t)

	// WHEN: Posting a policy with one rule
	rec := do(t, router, http.MethodPost, "/api/policies", `{
	  "config": {
	    "id": "singles",
	    "name": "Singles",
	    "type": "PERCENTAGE",
	    "base_percentage": 60,
	    "rules": [
	      {"id": "foil", "name": "Foil", "priority": 10,
	       "conditions": {"type": "ATTRIBUTE", "field": "foil", "operator": "EQUALS", "value": true},
	       "action_type": "PERCENTAGE_MODIFIER", "action_value": 10}
	    ]
	  }
	}`)

	// THEN: It is created at version 1 with its rule attached
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[PolicyDTO](t, rec)
	assert.Equal(t, "singles", created.ID)
	assert.Equal(t, "PERCENTAGE", created.Type)
	assert.Equal(t, 1, created.Version)
	require.Len(t, created.Config.Rules, 1)
	assert.Equal(t, "foil", created.Config.Rules[0].ID)

	rec = do(t, router, http.MethodGet, "/api/policies/singles", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[PolicyDTO](t, rec)
	assert.Equal(t, "60", got.Config.BasePercentage.String())
	require.Len(t, got.Config.Rules, 1)
	assert.Equal(t, "PERCENTAGE_MODIFIER", got.Config.Rules[0].ActionType)

	// AND: Posting it again bumps the version
	rec = do(t, router, http.MethodPost, "/api/policies", `{"config": {"id": "singles", "name": "Singles v2", "base_percentage": 65}}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 2, decode[PolicyDTO](t, rec).Version)
}

func TestCreatePolicy_GeneratesIDs(t *testing.T) {
	_, router := setupTestHandler(t)

	rec := do(t, router, http.MethodPost, "/api/policies", `{"config": {"name": "Anonymous",
	  "rules": [{"action_type": "FIXED_MODIFIER", "action_value": 1}]}}`)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	dto := decode[PolicyDTO](t, rec)
	assert.Len(t, dto.ID, 36)
	require.Len(t, dto.Config.Rules, 1)
	assert.Len(t, dto.Config.Rules[0].ID, 36)
}

func TestCreatePolicy_ReplacingDropsOmittedRules(t *testing.T) {
	// GIVEN: A 50% policy with an unconditional +10% rule, quoted once so it is cached
	_, router := setupTestHandler(t)
	rec := do(t, router, http.MethodPost, "/api/policies", `{"config": {"id": "singles", "base_percentage": 50,
	  "rules": [{"id": "old", "action_type": "PERCENTAGE_MODIFIER", "action_value": 10}]}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	quote := decode[QuoteDTO](t, do(t, router, http.MethodPost, "/api/policies/singles/quote",
		QuoteRequest{MarketPrice: dec("100"), Condition: "NM"}))
	require.Len(t, quote.AppliedRules, 1)
	assert.Equal(t, "55", quote.FinalOffer.String())

	// WHEN: Posting the same policy without rules
	rec = do(t, router, http.MethodPost, "/api/policies", `{"config": {"id": "singles", "base_percentage": 50, "rules": []}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Empty(t, decode[PolicyDTO](t, rec).Config.Rules)

	// THEN: The dropped rule no longer applies
	quote = decode[QuoteDTO](t, do(t, router, http.MethodPost, "/api/policies/singles/quote",
		QuoteRequest{MarketPrice: dec("100"), Condition: "NM"}))
	assert.Empty(t, quote.AppliedRules)
	assert.Equal(t, "50", quote.FinalOffer.String())
	assert.Empty(t, decode[[]RuleDTO](t, do(t, router, http.MethodGet, "/api/policies/singles/rules", nil)))
}

func TestCreatePolicy_RuleIDOwnedElsewhere(t *testing.T) {
	// GIVEN: Every demo policy
	_, router := setupScenario(t, "multi-shop")

	// WHEN: A new policy tries to claim the tiered foil rule
	rec := do(t, router, http.MethodPost, "/api/policies", `{"config": {"id": "thief", "base_percentage": 50,
	  "rules": [{"id": "tiered-foil", "action_type": "FIXED_MODIFIER", "action_value": 1}]}}`)

	// THEN: It conflicts and the rule stays where it was
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, http.StatusNotFound, do(t, router, http.MethodGet, "/api/policies/thief", nil).Code)
	rules := decode[[]RuleDTO](t, do(t, router, http.MethodGet, "/api/policies/tiered-singles/rules", nil))
	var ids []string
	for _, r := range rules {
		ids = append(ids, r.ID)
	}
	assert.Contains(t, ids, "tiered-foil")
}

func TestCreatePolicy_Invalid(t *testing.T) {
	_, router := setupTestHandler(t)

	tests := []struct {
		name    string
		body    string
		details string
	}{
		{"malformed body", `{"config":`, ""},
		{"inverted clamps", `{"config": {"id": "p", "minimum_price": 10, "maximum_price": 5}}`, "maximum_price 5 is below minimum_price 10"},
		{"bad condition", `{"config": {"id": "p", "rules": [{"id": "r", "action_type": "FIXED_MODIFIER", "action_value": 1,
		  "conditions": {"type": "ATTRIBUTE", "field": "foil", "operator": "NEAR", "value": true}}]}}`, "rules[0] (r)"},
		{"unknown action", `{"config": {"id": "p", "rules": [{"id": "r", "action_type": "DOUBLE", "action_value": 1}]}}`, `unknown action_type "DOUBLE"`},
		{"huge maximum", `{"config": {"id": "p", "maximum_price": 1e30000000}}`, "maximum_price: exponent 30000000 is outside ±64"},
		{"huge action value", `{"config": {"id": "p", "rules": [{"id": "r", "action_type": "FIXED_MODIFIER", "action_value": "1e30000000"}]}}`, `action_value "1e30000000" is out of range`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, http.MethodPost, "/api/policies", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			resp := decode[ErrorResponse](t, rec)
			assert.NotEmpty(t, resp.Error)
			assert.Contains(t, resp.Details, tt.details)
		})
	}
}

func TestGetPolicy_NotFound(t *testing.T) {
	_, router := setupTestHandler(t)

	rec := do(t, router, http.MethodGet, "/api/policies/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Policy not found", decode[ErrorResponse](t, rec).Error)
}

func TestListAndDeletePolicies(t *testing.T) {
	// GIVEN: Every demo policy
	_, router := setupScenario(t, "multi-shop")

	rec := do(t, router, http.MethodGet, "/api/policies", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]PolicyDTO](t, rec)
	require.Len(t, list, 4)
	assert.Equal(t, "Bulk Buylist", list[0].Name)

	// WHEN: Deleting one
	rec = do(t, router, http.MethodDelete, "/api/policies/bulk-buylist", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// THEN: It is gone and deleting again is 404
	assert.Len(t, decode[[]PolicyDTO](t, do(t, router, http.MethodGet, "/api/policies", nil)), 3)
	assert.Equal(t, http.StatusNotFound, do(t, router, http.MethodDelete, "/api/policies/bulk-buylist", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, router, http.MethodPost, "/api/policies/bulk-buylist/quote",
		QuoteRequest{Condition: "NM"}).Code)
}

// =============================================================================
// RULES
// =============================================================================

func TestRules_CreateListDelete(t *testing.T) {
	// GIVEN: The standard singles policy
	_, router := setupScenario(t, "standard-singles")

	rec := do(t, router, http.MethodGet, "/api/policies/standard-singles/rules", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rules := decode[[]RuleDTO](t, rec)
	require.Len(t, rules, 2)
	assert.Equal(t, "standard-foil", rules[0].ID)
	assert.Equal(t, "standard-low-stock", rules[1].ID)

	// WHEN: Adding a first-priority flat bonus
	rec = do(t, router, http.MethodPost, "/api/policies/standard-singles/rules", `{
	  "id": "promo", "name": "Promo", "priority": 1,
	  "action_type": "FIXED_MODIFIER", "action_value": "2.5"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[RuleDTO](t, rec)
	assert.Equal(t, "standard-singles", created.PolicyID)
	require.NotNil(t, created.IsActive)
	assert.True(t, *created.IsActive)

	// THEN: It lists first and the quote picks it up: 20*55% = 11 + 2.5 = 13.5
	rules = decode[[]RuleDTO](t, do(t, router, http.MethodGet, "/api/policies/standard-singles/rules", nil))
	require.Len(t, rules, 3)
	assert.Equal(t, "promo", rules[0].ID)

	quote := decode[QuoteDTO](t, do(t, router, http.MethodPost, "/api/policies/standard-singles/quote",
		QuoteRequest{MarketPrice: dec("20"), Condition: "NM"}))
	assert.Equal(t, "13.5", quote.FinalOffer.String())

	// AND: Deleting it restores the original quote
	require.Equal(t, http.StatusOK, do(t, router, http.MethodDelete, "/api/policies/standard-singles/rules/promo", nil).Code)
	quote = decode[QuoteDTO](t, do(t, router, http.MethodPost, "/api/policies/standard-singles/quote",
		QuoteRequest{MarketPrice: dec("20"), Condition: "NM"}))
	assert.Equal(t, "11", quote.FinalOffer.String())
}

func TestRules_Errors(t *testing.T) {
	_, router := setupScenario(t, "multi-shop")

	// Unknown policy
	assert.Equal(t, http.StatusNotFound, do(t, router, http.MethodGet, "/api/policies/ghost/rules", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, router, http.MethodPost, "/api/policies/ghost/rules",
		`{"id": "r", "action_type": "FIXED_MODIFIER", "action_value": 1}`).Code)

	// Invalid conditions
	rec := do(t, router, http.MethodPost, "/api/policies/standard-singles/rules",
		`{"id": "r", "action_type": "FIXED_MODIFIER", "action_value": 1,
		  "conditions": {"operator": "AND", "conditions": [{"type": "INVENTORY", "field": "color", "operator": "EQUALS", "value": 1}]}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[ErrorResponse](t, rec).Details, `field "color" is not allowed`)

	// Rule belongs to another policy
	assert.Equal(t, http.StatusNotFound, do(t, router, http.MethodDelete, "/api/policies/standard-singles/rules/tiered-foil", nil).Code)
	rec = do(t, router, http.MethodPost, "/api/policies/standard-singles/rules",
		`{"id": "tiered-foil", "action_type": "FIXED_MODIFIER", "action_value": 100}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	quote := decode[QuoteDTO](t, do(t, router, http.MethodPost, "/api/policies/standard-singles/quote",
		QuoteRequest{MarketPrice: dec("20"), Condition: "NM"}))
	assert.Equal(t, "11", quote.FinalOffer.String())
	assert.Equal(t, http.StatusNotFound, do(t, router, http.MethodDelete, "/api/policies/standard-singles/rules/ghost", nil).Code)
}

func TestPreviewRules(t *testing.T) {
	// GIVEN: Tiered singles and a foil card on a Wednesday
	_, router := setupScenario(t, "tiered-singles")
	at := wednesdayNoon

	// WHEN: Previewing
	rec := do(t, router, http.MethodPost, "/api/policies/tiered-singles/rules/preview", PreviewRulesRequest{
		QuoteRequest: QuoteRequest{
			MarketPrice:    dec("30"),
			Condition:      "NM",
			Attributes:     map[string]any{"foil": true},
			EvaluationTime: &at,
		},
	})

	// THEN: Only the foil rule matches; the others explain why not
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[PreviewRulesResponse](t, rec)
	require.Len(t, resp.Matching, 1)
	assert.Equal(t, "tiered-foil", resp.Matching[0].ID)
	require.Len(t, resp.NotMatching, 2)
	for _, miss := range resp.NotMatching {
		assert.Equal(t, "conditions_not_met", miss.Reason)
	}
}

// =============================================================================
// QUOTES
// =============================================================================

func TestQuote_TieredWeekendFoil(t *testing.T) {
	_, router := setupScenario(t, "tiered-singles")

	rec := do(t, router, http.MethodPost, "/api/policies/tiered-singles/quote", QuoteRequest{
		MarketPrice: dec("30"),
		Condition:   "NM",
		Attributes:  map[string]any{"foil": true},
	})

	// 30 * 50% = 15, foil x1.1 = 16.5, weekend +5% of 15 = 17.25
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	quote := decode[QuoteDTO](t, rec)
	assert.Len(t, quote.QuoteID, 36)
	assert.Equal(t, "tiered-singles", string(quote.PolicyID))
	assert.Equal(t, "15", quote.BaseOffer.String())
	assert.Equal(t, "17.25", quote.FinalOffer.String())
	require.Len(t, quote.AppliedRules, 2)
	assert.Equal(t, "tiered-foil", string(quote.AppliedRules[0].RuleID))
	assert.Equal(t, "tiered-weekend", string(quote.AppliedRules[1].RuleID))
	assert.True(t, quote.EvaluatedAt.Equal(saturdayNoon))
}

func TestQuote_ChaseCardCapped(t *testing.T) {
	_, router := setupScenario(t, "tiered-singles")

	quote := decode[QuoteDTO](t, do(t, router, http.MethodPost, "/api/policies/tiered-singles/quote",
		QuoteRequest{MarketPrice: dec("800"), Condition: "NM"}))

	// 560 + 28 weekend, then SET_MAXIMUM 300
	assert.Equal(t, "300", quote.FinalOffer.String())
	assert.False(t, quote.ConstraintsApplied.MaximumApplied)
}

func TestQuote_HandlerTimezoneDefault(t *testing.T) {
	// GIVEN: Saturday 02:00 UTC, which is still Friday in Los Angeles
	h, router := setupScenario(t, "tiered-singles")
	h.Timezone = "America/Los_Angeles"
	at := time.Date(2025, time.March, 15, 2, 0, 0, 0, time.UTC)

	// WHEN: Quoting without a timezone
	quote := decode[QuoteDTO](t, do(t, router, http.MethodPost, "/api/policies/tiered-singles/quote",
		QuoteRequest{MarketPrice: dec("30"), Condition: "NM", EvaluationTime: &at}))

	// THEN: The weekend rule does not fire
	assert.Equal(t, "15", quote.FinalOffer.String())

	// AND: An explicit UTC request overrides the default
	quote = decode[QuoteDTO](t, do(t, router, http.MethodPost, "/api/policies/tiered-singles/quote",
		QuoteRequest{MarketPrice: dec("30"), Condition: "NM", EvaluationTime: &at, Timezone: "UTC"}))
	assert.Equal(t, "15.75", quote.FinalOffer.String())
}

func TestQuote_ClientErrors(t *testing.T) {
	_, router := setupScenario(t, "standard-singles")

	tests := []struct {
		name string
		body any
		want int
	}{
		{"malformed", `{"market_price":`, http.StatusBadRequest},
		{"negative market price", QuoteRequest{MarketPrice: dec("-1"), Condition: "NM"}, http.StatusBadRequest},
		{"unknown timezone", QuoteRequest{MarketPrice: dec("10"), Condition: "NM", Timezone: "Mars/Olympus"}, http.StatusBadRequest},
		{"huge market price", `{"market_price": "1e30000000", "condition": "NM"}`, http.StatusBadRequest},
		{"tiny market price", `{"market_price": 1e-30000000, "condition": "NM"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, http.MethodPost, "/api/policies/standard-singles/quote", tt.body)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestBatchQuote(t *testing.T) {
	// GIVEN: All demo policies and a batch with one good line and two bad ones
	h, router := setupScenario(t, "multi-shop")
	h.BatchConcurrency = 2

	req := BatchQuoteRequest{Items: []BatchQuoteItem{
		{PolicyID: "tiered-singles", QuoteRequest: QuoteRequest{MarketPrice: dec("30"), Condition: "NM", Attributes: map[string]any{"foil": true}}},
		{PolicyID: "ghost", QuoteRequest: QuoteRequest{MarketPrice: dec("30"), Condition: "NM"}},
		{PolicyID: "standard-singles", QuoteRequest: QuoteRequest{MarketPrice: dec("-5"), Condition: "NM"}},
		{PolicyID: "standard-singles", QuoteRequest: QuoteRequest{MarketPrice: dec("20"), Condition: "NM", Inventory: &InventoryDTO{QtyOnHand: 1}}},
	}}

	// WHEN: Quoting the batch
	rec := do(t, router, http.MethodPost, "/api/quotes/batch", req)

	// THEN: Results keep request order and failures are per line
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[BatchQuoteResponse](t, rec)
	assert.Len(t, resp.BatchID, 36)
	require.Len(t, resp.Results, 4)
	for i, res := range resp.Results {
		assert.Equal(t, i, res.Index)
	}
	require.NotNil(t, resp.Results[0].Quote)
	assert.Equal(t, "17.25", resp.Results[0].Quote.FinalOffer.String())
	assert.Contains(t, resp.Results[1].Error, "not found")
	assert.Contains(t, resp.Results[2].Error, "must not be negative")
	require.NotNil(t, resp.Results[3].Quote)
	assert.Equal(t, "11.5", resp.Results[3].Quote.FinalOffer.String())

	assert.Equal(t, 2, resp.Failed)
	assert.Equal(t, "28.75", resp.Total.String())
}

func TestBatchQuote_Empty(t *testing.T) {
	_, router := setupTestHandler(t)

	rec := do(t, router, http.MethodPost, "/api/quotes/batch", BatchQuoteRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// AUTHORING TOOLS
// =============================================================================

func TestPreviewRule(t *testing.T) {
	_, router := setupTestHandler(t)

	tests := []struct {
		name       string
		body       string
		wantOffer  string
		wantChange string
		wantPct    string
	}{
		{
			name:       "multiplicative percentage",
			body:       `{"rule": {"id": "r", "action_type": "PERCENTAGE_MODIFIER", "action_value": 10}, "current_offer": 50, "market_price": 100}`,
			wantOffer:  "55",
			wantChange: "5",
			wantPct:    "10",
		},
		{
			name:       "additive uses base offer",
			body:       `{"rule": {"id": "r", "action_type": "PERCENTAGE_MODIFIER", "action_value": 10, "stacking_mode": "ADDITIVE"}, "current_offer": 50, "base_offer": 40, "market_price": 100}`,
			wantOffer:  "54",
			wantChange: "4",
			wantPct:    "8",
		},
		{
			name:       "set maximum",
			body:       `{"rule": {"id": "r", "action_type": "SET_MAXIMUM", "action_value": 30}, "current_offer": 50, "market_price": 100}`,
			wantOffer:  "30",
			wantChange: "-20",
			wantPct:    "-40",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, http.MethodPost, "/api/rules/preview", tt.body)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			var got struct {
				NewOffer      string `json:"new_offer"`
				Change        string `json:"change"`
				ChangePercent string `json:"change_percent"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
			assert.Equal(t, tt.wantOffer, got.NewOffer)
			assert.Equal(t, tt.wantChange, got.Change)
			assert.Equal(t, tt.wantPct, got.ChangePercent)
		})
	}
}

func TestPreviewRule_RejectsHugeAmounts(t *testing.T) {
	_, router := setupTestHandler(t)

	for _, body := range []string{
		`{"rule": {"id": "r", "action_type": "FIXED_MODIFIER", "action_value": 1}, "current_offer": 1e30000000, "market_price": 100}`,
		`{"rule": {"id": "r", "action_type": "FIXED_MODIFIER", "action_value": 1}, "current_offer": 5, "base_offer": "1e-999", "market_price": 100}`,
		`{"rule": {"id": "r", "action_type": "FIXED_MODIFIER", "action_value": 1}, "current_offer": 5, "market_price": "9e99999"}`,
	} {
		rec := do(t, router, http.MethodPost, "/api/rules/preview", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}

	// An out-of-range action value is a no-op rather than an error.
	rec := do(t, router, http.MethodPost, "/api/rules/preview",
		`{"rule": {"id": "r", "action_type": "FIXED_MODIFIER", "action_value": "1e30000000"}, "current_offer": 5, "market_price": 100}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var got struct {
		NewOffer string `json:"new_offer"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "5", got.NewOffer)
}

func TestValidateConditions(t *testing.T) {
	_, router := setupTestHandler(t)

	rec := do(t, router, http.MethodPost, "/api/conditions/validate",
		`{"conditions": {"operator": "OR", "conditions": [
		   {"type": "DATE", "field": "dayOfWeek", "operator": "IN", "value": [0, 6]},
		   {"type": "ATTRIBUTE", "field": "foil", "operator": "EQUALS", "value": true}]}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	ok := decode[struct {
		Valid  bool     `json:"valid"`
		Errors []string `json:"errors"`
	}](t, rec)
	assert.True(t, ok.Valid)

	rec = do(t, router, http.MethodPost, "/api/conditions/validate",
		`{"conditions": {"type": "MARKET_PRICE", "field": "msrp", "operator": "EQUALS", "value": 1}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	bad := decode[struct {
		Valid  bool     `json:"valid"`
		Errors []string `json:"errors"`
	}](t, rec)
	assert.False(t, bad.Valid)
	require.Len(t, bad.Errors, 1)
	assert.Contains(t, bad.Errors[0], `field "msrp" is not allowed for MARKET_PRICE conditions`)
}

func TestHealth(t *testing.T) {
	_, router := setupScenario(t, "multi-shop")

	rec := do(t, router, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(4), body["cached_policies"])
}
