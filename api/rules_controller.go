package api

// RulesController exposes cost-model and indexing-rule get/set, both backed
// by the same core.RuleStore (spec.md §4.G: "treated as simple key-value
// storage with a global fallback key").

import (
	"encoding/json"
	"net/http"

	"indexer-core/core"
)

type RulesController struct {
	rules *core.RuleStore
	kind  core.RuleKind
}

func NewCostModelsController(rules *core.RuleStore) *RulesController {
	return &RulesController{rules: rules, kind: core.RuleKindCostModel}
}

func NewIndexingRulesController(rules *core.RuleStore) *RulesController {
	return &RulesController{rules: rules, kind: core.RuleKindIndexingRule}
}

// Get handles GET /{cost-models,indexing-rules}/{key}.
func (c *RulesController) Get(w http.ResponseWriter, r *http.Request) {
	key, err := pathString(r, "key")
	if err != nil {
		writeError(w, err)
		return
	}
	rule, err := c.rules.Get(r.Context(), c.kind, key)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, toRuleResponse(*rule))
}

// Set handles PUT /{cost-models,indexing-rules}/{key}.
func (c *RulesController) Set(w http.ResponseWriter, r *http.Request) {
	key, err := pathString(r, "key")
	if err != nil {
		writeError(w, err)
		return
	}
	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, core.SchemaError("malformed_body", err.Error()))
		return
	}
	rule, err := c.rules.Set(r.Context(), c.kind, key, req.Value)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, toRuleResponse(*rule))
}

// Delete handles DELETE /{cost-models,indexing-rules}/{key}.
func (c *RulesController) Delete(w http.ResponseWriter, r *http.Request) {
	key, err := pathString(r, "key")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := c.rules.Delete(r.Context(), c.kind, key); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// List handles GET /{cost-models,indexing-rules}.
func (c *RulesController) List(w http.ResponseWriter, r *http.Request) {
	rules, err := c.rules.List(r.Context(), c.kind)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]ruleResponse, len(rules))
	for i, rule := range rules {
		out[i] = toRuleResponse(rule)
	}
	writeJSON(w, out)
}
