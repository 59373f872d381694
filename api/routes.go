package api

// Routes, split from Server the way the teacher separates
// walletserver/routes.Register from walletserver/main.go.

import "github.com/gorilla/mux"

func registerActionRoutes(r *mux.Router, c *ActionsController) {
	r.HandleFunc("/actions", c.Queue).Methods("POST")
	r.HandleFunc("/actions", c.List).Methods("GET")
	r.HandleFunc("/actions", c.Update).Methods("PATCH")
	r.HandleFunc("/actions/feasibility", c.Feasibility).Methods("POST")
	r.HandleFunc("/actions/approve", c.Approve).Methods("POST")
	r.HandleFunc("/actions/cancel", c.Cancel).Methods("POST")
	r.HandleFunc("/actions/delete", c.Delete).Methods("POST")
	r.HandleFunc("/actions/{id}", c.Get).Methods("GET")
}

func registerAllocationRoutes(r *mux.Router, c *AllocationsController) {
	r.HandleFunc("/allocations/{id}/summary", c.Summary).Methods("GET")
}

func registerRuleRoutes(r *mux.Router, prefix string, c *RulesController) {
	r.HandleFunc(prefix, c.List).Methods("GET")
	r.HandleFunc(prefix+"/{key}", c.Get).Methods("GET")
	r.HandleFunc(prefix+"/{key}", c.Set).Methods("PUT")
	r.HandleFunc(prefix+"/{key}", c.Delete).Methods("DELETE")
}

func registerRedemptionRoutes(r *mux.Router, c *RedemptionsController) {
	r.HandleFunc("/redemptions/{allocationId}", c.Retry).Methods("POST")
}
