package api

// Server is the management API's thin gorilla/mux adapter over the typed
// core operation surface (spec.md §4.G), mirroring the teacher's
// walletserver/main.go + routes.Register wiring.

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"indexer-core/core"
)

type Server struct {
	router *mux.Router
	http   *http.Server
}

// Dependencies bundles the core collaborators the management API mediates.
type Dependencies struct {
	Store         *core.Store
	ActionQueue   *core.ActionQueue
	Manager       *core.AllocationManager
	Summary       *core.AllocationSummaryStore
	CostModels    *core.RuleStore
	IndexingRules *core.RuleStore
	Redeemer      core.Redeemer
	Log           *logrus.Logger
}

func NewServer(addr string, deps Dependencies) *Server {
	if deps.Log == nil {
		deps.Log = logrus.StandardLogger()
	}
	router := mux.NewRouter()
	router.Use(RequestID)
	router.Use(Logger(deps.Log))

	actions := NewActionsController(deps.ActionQueue, deps.Manager)
	allocations := NewAllocationsController(deps.Store, deps.Summary)
	costModels := NewCostModelsController(deps.CostModels)
	indexingRules := NewIndexingRulesController(deps.IndexingRules)
	redemptions := NewRedemptionsController(deps.Store, deps.Redeemer)

	registerActionRoutes(router, actions)
	registerAllocationRoutes(router, allocations)
	registerRuleRoutes(router, "/cost-models", costModels)
	registerRuleRoutes(router, "/indexing-rules", indexingRules)
	registerRedemptionRoutes(router, redemptions)

	return &Server{
		router: router,
		http:   &http.Server{Addr: addr, Handler: router},
	}
}

func (s *Server) ListenAndServe() error { return s.http.ListenAndServe() }

func (s *Server) Shutdown(ctx context.Context) error { return s.http.Shutdown(ctx) }
