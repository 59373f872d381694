package api

// ActionsController exposes the Action Queue (E) and Allocation Manager (F)
// operations, mirroring the teacher's WalletController: one method per HTTP
// verb, JSON in, JSON out.

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"indexer-core/core"
)

type ActionsController struct {
	queue   *core.ActionQueue
	manager *core.AllocationManager
}

func NewActionsController(queue *core.ActionQueue, manager *core.AllocationManager) *ActionsController {
	return &ActionsController{queue: queue, manager: manager}
}

// Queue handles POST /actions.
func (c *ActionsController) Queue(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, core.SchemaError("malformed_body", err.Error()))
		return
	}
	in, err := req.toInput()
	if err != nil {
		writeError(w, err)
		return
	}
	action, err := c.queue.Queue(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, toActionResponse(*action))
}

// Get handles GET /actions/{id}.
func (c *ActionsController) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	action, err := c.queue.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, toActionResponse(*action))
}

// List handles GET /actions?status=&protocolNetwork=&orderBy=&orderDirection=.
func (c *ActionsController) List(w http.ResponseWriter, r *http.Request) {
	var status *core.ActionStatus
	if s := r.URL.Query().Get("status"); s != "" {
		v := core.ActionStatus(s)
		status = &v
	}
	var network *core.ProtocolNetwork
	if n := r.URL.Query().Get("protocolNetwork"); n != "" {
		normalized, err := core.Normalize(n)
		if err != nil {
			writeError(w, core.SchemaError("invalid_protocol_network", err.Error()))
			return
		}
		network = &normalized
	}
	orderBy := core.ActionOrderBy(r.URL.Query().Get("orderBy"))
	direction := core.OrderDirection(r.URL.Query().Get("orderDirection"))
	actions, err := c.queue.List(r.Context(), status, network, orderBy, direction)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]actionResponse, len(actions))
	for i, a := range actions {
		out[i] = toActionResponse(a)
	}
	writeJSON(w, out)
}

// Approve handles POST /actions/approve with a {"ids": [...]} body.
func (c *ActionsController) Approve(w http.ResponseWriter, r *http.Request) {
	ids, err := decodeIDs(r)
	if err != nil {
		writeError(w, err)
		return
	}
	actions, err := c.queue.Approve(r.Context(), ids)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, toActionResponses(actions))
}

// Cancel handles POST /actions/cancel with a {"ids": [...]} body.
func (c *ActionsController) Cancel(w http.ResponseWriter, r *http.Request) {
	ids, err := decodeIDs(r)
	if err != nil {
		writeError(w, err)
		return
	}
	actions, err := c.queue.Cancel(r.Context(), ids)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, toActionResponses(actions))
}

// Update handles PATCH /actions with a {"filter": {...}, "patch": {...}} body.
func (c *ActionsController) Update(w http.ResponseWriter, r *http.Request) {
	var req actionUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, core.SchemaError("malformed_body", err.Error()))
		return
	}
	filter, patch, err := req.toFilterAndPatch()
	if err != nil {
		writeError(w, err)
		return
	}
	actions, err := c.queue.Update(r.Context(), filter, patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, toActionResponses(actions))
}

// Delete handles POST /actions/delete with a {"ids": [...]} body.
func (c *ActionsController) Delete(w http.ResponseWriter, r *http.Request) {
	ids, err := decodeIDs(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := c.queue.Delete(r.Context(), ids); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Feasibility handles POST /actions/feasibility: runs
// validateActionBatchFeasibility over the currently Queued actions for
// protocolNetwork and returns the reordered batch, without mutating state.
func (c *ActionsController) Feasibility(w http.ResponseWriter, r *http.Request) {
	network := r.URL.Query().Get("protocolNetwork")
	normalized, err := core.Normalize(network)
	if err != nil {
		writeError(w, core.SchemaError("invalid_protocol_network", err.Error()))
		return
	}
	queued := core.StatusQueued
	actions, err := c.queue.List(r.Context(), &queued, &normalized, core.ActionOrderByPriority, core.OrderDescending)
	if err != nil {
		writeError(w, err)
		return
	}
	reordered, err := c.manager.ValidateActionBatchFeasibility(r.Context(), actions)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]actionResponse, len(reordered))
	for i, a := range reordered {
		out[i] = toActionResponse(a)
	}
	writeJSON(w, out)
}

func toActionResponses(actions []core.Action) []actionResponse {
	out := make([]actionResponse, len(actions))
	for i, a := range actions {
		out[i] = toActionResponse(a)
	}
	return out
}

func decodeIDs(r *http.Request) ([]int64, error) {
	var req idsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, core.SchemaError("malformed_body", err.Error())
	}
	if len(req.IDs) == 0 {
		return nil, core.SchemaError("ids_required", "at least one id is required")
	}
	return req.IDs, nil
}

func pathInt64(r *http.Request, name string) (int64, error) {
	raw := mux.Vars(r)[name]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, core.SchemaError("invalid_"+name, "expected an integer id")
	}
	return id, nil
}
