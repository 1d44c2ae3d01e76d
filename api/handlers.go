/*
handlers.go - HTTP API handlers for the buy-back pricing engine

PURPOSE:
  Exposes policy management, quoting and rule authoring tools via REST.
  Handles HTTP request/response, JSON serialization, and delegates to the
  pricing core.

ENDPOINTS:
  Policies:
    GET    /api/policies                         List policies
    POST   /api/policies                         Create or replace a policy (with rules)
    GET    /api/policies/{id}                    Policy with its rules
    DELETE /api/policies/{id}                    Delete policy and its rules

  Rules:
    GET    /api/policies/{id}/rules              Rules in priority order
    POST   /api/policies/{id}/rules              Create or replace one rule
    DELETE /api/policies/{id}/rules/{ruleID}     Delete one rule
    POST   /api/policies/{id}/rules/preview      Which rules would match an item

  Quotes:
    POST   /api/policies/{id}/quote              Calculate one offer
    POST   /api/quotes/batch                     Calculate many offers concurrently

  Authoring:
    POST   /api/rules/preview                    Effect of one rule on one offer
    POST   /api/conditions/validate              Structural check of a condition tree

ARCHITECTURE:
  Handler holds the store, the engine and a cache of parsed policies with
  their rules attached. Writes go to the store first and then drop the cache
  entry; reads fill it lazily. CacheRefresher rebuilds it periodically so
  edits made by other instances show up.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Policy or rule not found
  - 500: Internal errors

SECURITY NOTE:
  No authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/warp/buyback-engine/factory"
	"github.com/warp/buyback-engine/pricing"
	"github.com/warp/buyback-engine/store"
)

// DefaultBatchConcurrency bounds concurrent calculations in a batch quote.
const DefaultBatchConcurrency = 8

// MaxBatchItems caps the size of one batch request.
const MaxBatchItems = 1000

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store         store.PolicyStore
	Engine        *pricing.Engine
	PolicyFactory *factory.PolicyFactory

	// Timezone applies to quotes that don't name one.
	Timezone         string
	BatchConcurrency int

	mu       sync.RWMutex
	policies map[pricing.PolicyID]*pricing.Policy
	// generation counts invalidations; a load that started under an older
	// generation must not populate the cache.
	generation      uint64
	currentScenario string
}

// NewHandler creates a new handler with the given store.
func NewHandler(st store.PolicyStore) *Handler {
	return &Handler{
		Store:            st,
		Engine:           pricing.NewEngine(),
		PolicyFactory:    factory.NewPolicyFactory(),
		BatchConcurrency: DefaultBatchConcurrency,
		policies:         make(map[pricing.PolicyID]*pricing.Policy),
	}
}

// LoadPolicies rebuilds the policy cache from the store. Policies that fail
// to decode are logged and skipped.
func (h *Handler) LoadPolicies(ctx context.Context) error {
	gen := h.currentGeneration()

	records, err := h.Store.ListPolicies(ctx)
	if err != nil {
		return err
	}

	fresh := make(map[pricing.PolicyID]*pricing.Policy, len(records))
	for _, r := range records {
		policy, err := store.LoadPolicy(ctx, h.Store, r.ID)
		if err != nil {
			zap.L().Warn("skipping policy that failed to load",
				zap.String("policy_id", r.ID),
				zap.Error(err),
			)
			continue
		}
		fresh[policy.ID] = policy
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.generation != gen {
		// A write landed mid-load; let lookups fetch lazily instead.
		zap.L().Debug("policy cache reload raced a write, clearing cache")
		h.policies = make(map[pricing.PolicyID]*pricing.Policy)
		return nil
	}
	h.policies = fresh
	return nil
}

// policy returns a cached policy, loading it from the store on a miss.
func (h *Handler) policy(ctx context.Context, id string) (*pricing.Policy, error) {
	h.mu.RLock()
	p, ok := h.policies[pricing.PolicyID(id)]
	gen := h.generation
	h.mu.RUnlock()
	if ok {
		return p, nil
	}

	p, err := store.LoadPolicy(ctx, h.Store, id)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	if h.generation == gen {
		h.policies[p.ID] = p
	}
	h.mu.Unlock()
	return p, nil
}

func (h *Handler) currentGeneration() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.generation
}

func (h *Handler) invalidate(id string) {
	h.mu.Lock()
	delete(h.policies, pricing.PolicyID(id))
	h.generation++
	h.mu.Unlock()
}

func (h *Handler) clearCache() {
	h.mu.Lock()
	h.policies = make(map[pricing.PolicyID]*pricing.Policy)
	h.generation++
	h.mu.Unlock()
}

func (h *Handler) cachedCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.policies)
}

// =============================================================================
// POLICY HANDLERS
// =============================================================================

// ListPolicies returns all policies without their rules.
func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	records, err := h.Store.ListPolicies(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list policies", err)
		return
	}

	dtos := make([]PolicyDTO, len(records))
	for i, rec := range records {
		dtos[i] = toPolicyDTO(rec, nil)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreatePolicy validates and stores a policy document. An empty id gets a
// generated one; an existing id is replaced and its version bumped.
func (h *Handler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	var req CreatePolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if strings.TrimSpace(req.Config.ID) == "" {
		req.Config.ID = uuid.NewString()
	}
	for i := range req.Config.Rules {
		if strings.TrimSpace(req.Config.Rules[i].ID) == "" {
			req.Config.Rules[i].ID = uuid.NewString()
		}
	}

	policy, err := h.PolicyFactory.FromJSON(req.Config)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid policy configuration", err)
		return
	}
	if err := factory.ValidatePolicy(policy); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid policy configuration", err)
		return
	}

	ctx := r.Context()
	if err := store.SavePolicyWithRules(ctx, h.Store, policy); err != nil {
		writeStoreError(w, "Policy not found", "Failed to save policy", err)
		return
	}
	h.invalidate(string(policy.ID))

	zap.L().Info("policy saved",
		zap.String("policy_id", string(policy.ID)),
		zap.String("type", string(policy.Type)),
		zap.Int("rules", len(policy.Rules)),
	)

	h.respondPolicy(w, r, string(policy.ID), http.StatusCreated)
}

// GetPolicy returns a single policy with its rules.
func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	h.respondPolicy(w, r, chi.URLParam(r, "id"), http.StatusOK)
}

func (h *Handler) respondPolicy(w http.ResponseWriter, r *http.Request, id string, status int) {
	ctx := r.Context()
	record, err := h.Store.GetPolicy(ctx, id)
	if err != nil {
		writeStoreError(w, "Policy not found", "Failed to get policy", err)
		return
	}
	rules, err := h.Store.ListRules(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list rules", err)
		return
	}
	writeJSON(w, status, toPolicyDTO(*record, rules))
}

// DeletePolicy removes a policy and, by cascade, its rules.
func (h *Handler) DeletePolicy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Store.DeletePolicy(r.Context(), id); err != nil {
		writeStoreError(w, "Policy not found", "Failed to delete policy", err)
		return
	}
	h.invalidate(id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
}

// =============================================================================
// RULE HANDLERS
// =============================================================================

// ListRules returns a policy's rules in evaluation order.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if _, err := h.Store.GetPolicy(ctx, id); err != nil {
		writeStoreError(w, "Policy not found", "Failed to get policy", err)
		return
	}
	rules, err := h.Store.ListRules(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list rules", err)
		return
	}

	dtos := make([]RuleDTO, len(rules))
	for i, rr := range rules {
		dtos[i] = RuleDTO{PolicyID: rr.PolicyID, RuleJSON: factory.RuleToJSON(rr.StoredRule())}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateRule validates and stores one rule under a policy.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	policyID := chi.URLParam(r, "id")

	var rj factory.RuleJSON
	if err := json.NewDecoder(r.Body).Decode(&rj); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if strings.TrimSpace(rj.ID) == "" {
		rj.ID = uuid.NewString()
	}

	sr := factory.RuleFromJSON(rj)
	check := &pricing.Policy{ID: pricing.PolicyID(policyID), Type: pricing.PolicyPercentage, Rules: []pricing.StoredRule{sr}}
	if err := factory.ValidatePolicy(check); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid rule", err)
		return
	}

	rec, err := store.NewRuleRecord(policyID, sr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid rule", err)
		return
	}
	if err := h.Store.SaveRule(ctx, rec); err != nil {
		writeStoreError(w, "Policy not found", "Failed to save rule", err)
		return
	}
	h.invalidate(policyID)

	saved, err := h.Store.GetRule(ctx, rec.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read back rule", err)
		return
	}
	writeJSON(w, http.StatusCreated, RuleDTO{PolicyID: saved.PolicyID, RuleJSON: factory.RuleToJSON(saved.StoredRule())})
}

// DeleteRule removes one rule. The rule must belong to the policy in the path.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	policyID := chi.URLParam(r, "id")
	ruleID := chi.URLParam(r, "ruleID")

	rec, err := h.Store.GetRule(ctx, ruleID)
	if err != nil {
		writeStoreError(w, "Rule not found", "Failed to get rule", err)
		return
	}
	if rec.PolicyID != policyID {
		writeError(w, http.StatusNotFound, "Rule not found", pricing.ErrRuleNotFound)
		return
	}
	if err := h.Store.DeleteRule(ctx, ruleID); err != nil {
		writeStoreError(w, "Rule not found", "Failed to delete rule", err)
		return
	}
	h.invalidate(policyID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": ruleID})
}

// PreviewRules reports which of a policy's rules would apply to an item.
func (h *Handler) PreviewRules(w http.ResponseWriter, r *http.Request) {
	var req PreviewRulesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	policy, err := h.policy(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, "Policy not found", "Failed to load policy", err)
		return
	}

	cat, err := h.Engine.PreviewMatchingRules(pricing.PreviewInput{
		Rules:           policy.Rules,
		Context:         h.contextInput(req.QuoteRequest),
		IncludeInactive: req.IncludeInactive,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}

	resp := PreviewRulesResponse{
		Matching:    make([]RuleSummaryDTO, 0, len(cat.Matching)),
		NotMatching: make([]RuleSummaryDTO, 0, len(cat.NotMatching)),
	}
	for _, m := range cat.Matching {
		resp.Matching = append(resp.Matching, toRuleSummary(m, ""))
	}
	for _, miss := range cat.NotMatching {
		resp.NotMatching = append(resp.NotMatching, toRuleSummary(miss.Rule, miss.Reason))
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// QUOTE HANDLERS
// =============================================================================

// Quote calculates the buy-back offer for one item under one policy.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	var req QuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	policy, err := h.policy(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, "Policy not found", "Failed to load policy", err)
		return
	}

	quote, err := h.quote(policy, req)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

func (h *Handler) quote(policy *pricing.Policy, req QuoteRequest) (*QuoteDTO, error) {
	result, err := h.Engine.CalculatePrice(pricing.CalculateInput{
		Policy:         *policy,
		MarketPrice:    req.MarketPrice,
		Condition:      req.Condition,
		Attributes:     req.Attributes,
		Inventory:      req.inventory(),
		CategoryID:     req.CategoryID,
		CategorySlug:   req.CategorySlug,
		EvaluationTime: req.evaluationTime(),
		Timezone:       h.timezone(req.Timezone),
	})
	if err != nil {
		return nil, err
	}
	return &QuoteDTO{QuoteID: uuid.NewString(), PriceCalculationResult: result}, nil
}

// BatchQuote prices many items concurrently. A failing line is reported in
// its result slot and doesn't fail the batch.
func (h *Handler) BatchQuote(w http.ResponseWriter, r *http.Request) {
	var req BatchQuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, "Batch has no items", nil)
		return
	}
	if len(req.Items) > MaxBatchItems {
		writeError(w, http.StatusBadRequest, "Batch is too large", nil)
		return
	}

	ctx := r.Context()
	start := time.Now()
	results := make([]BatchQuoteResult, len(req.Items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.batchLimit())
	for i, item := range req.Items {
		i, item := i, item
		g.Go(func() error {
			results[i] = h.batchLine(gctx, i, item)
			return nil
		})
	}
	_ = g.Wait()

	resp := BatchQuoteResponse{BatchID: uuid.NewString(), Results: results, Total: decimal.Zero}
	for _, res := range results {
		if res.Quote == nil {
			resp.Failed++
			continue
		}
		resp.Total = resp.Total.Add(res.Quote.FinalOffer)
	}

	zap.L().Info("batch quote complete",
		zap.String("batch_id", resp.BatchID),
		zap.Int("items", len(req.Items)),
		zap.Int("failed", resp.Failed),
		zap.Duration("elapsed", time.Since(start)),
	)
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) batchLine(ctx context.Context, i int, item BatchQuoteItem) BatchQuoteResult {
	if err := ctx.Err(); err != nil {
		return BatchQuoteResult{Index: i, Error: err.Error()}
	}
	policy, err := h.policy(ctx, item.PolicyID)
	if err != nil {
		return BatchQuoteResult{Index: i, Error: err.Error()}
	}
	quote, err := h.quote(policy, item.QuoteRequest)
	if err != nil {
		return BatchQuoteResult{Index: i, Error: err.Error()}
	}
	return BatchQuoteResult{Index: i, Quote: quote}
}

// =============================================================================
// AUTHORING HANDLERS
// =============================================================================

// PreviewRule shows the effect of a single rule on an offer.
func (h *Handler) PreviewRule(w http.ResponseWriter, r *http.Request) {
	var req PreviewRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	base := req.CurrentOffer
	if req.BaseOffer != nil {
		base = *req.BaseOffer
	}
	for _, amount := range []decimal.Decimal{req.CurrentOffer, base, req.MarketPrice} {
		if !pricing.WithinExponentRange(amount) {
			writeError(w, http.StatusBadRequest, "Amount out of range",
				&pricing.RangeError{Field: "preview", Value: amount})
			return
		}
	}
	rule := pricing.NormalizeRule(factory.RuleFromJSON(req.Rule))
	writeJSON(w, http.StatusOK, pricing.PreviewRule(req.CurrentOffer, base, req.MarketPrice, rule))
}

// ValidateConditions reports every structural defect in a condition tree.
func (h *Handler) ValidateConditions(w http.ResponseWriter, r *http.Request) {
	var req ValidateConditionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	writeJSON(w, http.StatusOK, h.Engine.ValidateConditions(req.Conditions))
}

// Health reports liveness and cache size.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"cached_policies": h.cachedCount(),
	})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.clearCache()
	h.setScenario("")

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) contextInput(q QuoteRequest) pricing.ContextInput {
	return pricing.ContextInput{
		Attributes:   q.Attributes,
		MarketPrice:  q.MarketPrice,
		Condition:    q.Condition,
		Inventory:    q.inventory(),
		CategoryID:   q.CategoryID,
		CategorySlug: q.CategorySlug,
		At:           q.evaluationTime(),
		Timezone:     h.timezone(q.Timezone),
	}
}

func (h *Handler) now() time.Time {
	if h.Engine == nil || h.Engine.Now == nil {
		return time.Now()
	}
	return h.Engine.Now()
}

func (h *Handler) timezone(requested string) string {
	if requested != "" {
		return requested
	}
	return h.Timezone
}

func (h *Handler) batchLimit() int {
	if h.BatchConcurrency < 1 {
		return DefaultBatchConcurrency
	}
	return h.BatchConcurrency
}

func toPolicyDTO(rec store.PolicyRecord, rules []store.RuleRecord) PolicyDTO {
	var config factory.PolicyJSON
	if err := json.Unmarshal([]byte(rec.ConfigJSON), &config); err != nil {
		zap.L().Warn("stored policy config is not valid JSON", zap.String("policy_id", rec.ID), zap.Error(err))
	}
	for _, rr := range rules {
		config.Rules = append(config.Rules, factory.RuleToJSON(rr.StoredRule()))
	}

	dto := PolicyDTO{
		ID:      rec.ID,
		Name:    rec.Name,
		Type:    rec.PolicyType,
		Config:  config,
		Version: rec.Version,
	}
	if !rec.CreatedAt.IsZero() {
		dto.CreatedAt = rec.CreatedAt.Format(time.RFC3339)
	}
	if !rec.UpdatedAt.IsZero() {
		dto.UpdatedAt = rec.UpdatedAt.Format(time.RFC3339)
	}
	return dto
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	if status >= http.StatusInternalServerError {
		zap.L().Error(message, zap.Error(err))
	}
	writeJSON(w, status, resp)
}

// writeStoreError maps a missing record to 404, a rule ID owned by another
// policy to 409 and anything else to 500.
func writeStoreError(w http.ResponseWriter, notFound, failed string, err error) {
	if store.IsNotFound(err) {
		writeError(w, http.StatusNotFound, notFound, err)
		return
	}
	if errors.Is(err, store.ErrRuleOwned) {
		writeError(w, http.StatusConflict, "Rule ID belongs to another policy", err)
		return
	}
	writeError(w, http.StatusInternalServerError, failed, err)
}

// writeEngineError maps pricing errors: caller mistakes are 400.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case pricing.IsClientError(err):
		writeError(w, http.StatusBadRequest, "Invalid quote input", err)
	case pricing.IsNotFound(err), errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "Not found", err)
	default:
		writeError(w, http.StatusInternalServerError, "Calculation failed", err)
	}
}
