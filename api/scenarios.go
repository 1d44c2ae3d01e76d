/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built card shop setups that populate the store with
	policies and rules. Each scenario shows off a different part of the
	pricing pipeline.

AVAILABLE SCENARIOS:

	standard-singles:  PERCENTAGE policy with foil and low-stock rules
	tiered-singles:    TIERED policy with weekend bonus and high-value cap
	bulk-buylist:      FIXED_DISCOUNT policy with custom condition grading
	holiday-event:     Tiered singles plus a week-long event boost
	multi-shop:        All of the above side by side

HOW SCENARIOS WORK:
 1. Reset the store and the policy cache
 2. Parse preset policy documents through the factory
 3. Save each policy with its rules
 4. Warm the cache

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "tiered-singles"}

NOTE:

	Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - presets/presets.go: Policy and rule documents
  - handlers.go: ResetDatabase
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/warp/buyback-engine/presets"
	"github.com/warp/buyback-engine/store"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "standard-singles",
		Name:        "Standard Singles",
		Description: "55% of market with a foil bonus and a low-stock top-up",
		Category:    "percentage",
	},
	{
		ID:          "tiered-singles",
		Name:        "Tiered Singles",
		Description: "Value tiers from 40% to 70%, weekend bonus, cap on chase cards",
		Category:    "tiered",
	},
	{
		ID:          "bulk-buylist",
		Name:        "Bulk Buylist",
		Description: "Market minus a flat amount with custom condition grading",
		Category:    "fixed",
	},
	{
		ID:          "holiday-event",
		Name:        "Holiday Event",
		Description: "Tiered singles with a time-boxed event boost starting today",
		Category:    "tiered",
	},
	{
		ID:          "multi-shop",
		Name:        "Multi-Shop",
		Description: "Every demo policy loaded side by side for comparison",
		Category:    "mixed",
	},
}

// scenarioDocs returns the policy documents for a scenario. now anchors
// time-boxed rules.
func scenarioDocs(id string, now time.Time) ([]string, error) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	standard := presets.StandardSinglesJSON("standard-singles", "Standard Singles", 55,
		presets.FoilBonusRule("standard-foil", 10),
		presets.LowStockRule("standard-low-stock", 3, 0.5))
	tiered := presets.TieredSinglesJSON("tiered-singles", "Tiered Singles",
		presets.FoilBonusRule("tiered-foil", 10),
		presets.WeekendBonusRule("tiered-weekend", 5),
		presets.HighValueCapRule("tiered-chase-cap", 500, 300))
	bulk := presets.BulkDiscountJSON("bulk-buylist", "Bulk Buylist", 0.05)
	holiday := presets.TieredSinglesJSON("holiday-singles", "Holiday Singles",
		presets.FoilBonusRule("holiday-foil", 10),
		presets.HolidayEventRule("holiday-boost", 15, today, today.AddDate(0, 0, 7)))

	switch id {
	case "standard-singles":
		return []string{standard}, nil
	case "tiered-singles":
		return []string{tiered}, nil
	case "bulk-buylist":
		return []string{bulk}, nil
	case "holiday-event":
		return []string{holiday}, nil
	case "multi-shop":
		return []string{standard, tiered, bulk, holiday}, nil
	default:
		return nil, fmt.Errorf("unknown scenario %q", id)
	}
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	current := h.scenario()
	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current, Description: "Currently loaded scenario"})
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if !knownScenario(req.ScenarioID) {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	if err := h.LoadScenarioByID(r.Context(), req.ScenarioID); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// LoadScenarioByID resets the store and loads the named scenario.
func (h *Handler) LoadScenarioByID(ctx context.Context, id string) error {
	docs, err := scenarioDocs(id, h.now())
	if err != nil {
		return err
	}

	if err := h.Store.Reset(ctx); err != nil {
		return eris.Wrap(err, "api: reset before scenario")
	}
	h.clearCache()
	h.setScenario("")

	for _, doc := range docs {
		if err := h.createPolicyFromJSON(ctx, doc); err != nil {
			return eris.Wrapf(err, "api: load scenario %s", id)
		}
	}
	if err := h.LoadPolicies(ctx); err != nil {
		return eris.Wrap(err, "api: warm policy cache")
	}

	h.setScenario(id)
	zap.L().Info("scenario loaded", zap.String("scenario", id), zap.Int("policies", len(docs)))
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) createPolicyFromJSON(ctx context.Context, doc string) error {
	policy, err := h.PolicyFactory.ParsePolicy(doc)
	if err != nil {
		return err
	}
	return store.SavePolicyWithRules(ctx, h.Store, policy)
}

func knownScenario(id string) bool {
	for _, s := range scenarios {
		if s.ID == id {
			return true
		}
	}
	return false
}

func (h *Handler) scenario() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.currentScenario
}

func (h *Handler) setScenario(id string) {
	h.mu.Lock()
	h.currentScenario = id
	h.mu.Unlock()
}
