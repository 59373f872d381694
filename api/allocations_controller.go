package api

// AllocationsController surfaces read-only views over Allocation Summaries
// (B) and their RAV lineage, per SPEC_FULL.md's §4.G expansion: "GET
// /allocations/{id}/summary ... since §2's data flow explicitly names
// dashboards and operator tools as downstream consumers of the summary."

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"indexer-core/core"
)

type AllocationsController struct {
	store   *core.Store
	summary *core.AllocationSummaryStore
}

func NewAllocationsController(store *core.Store, summary *core.AllocationSummaryStore) *AllocationsController {
	return &AllocationsController{store: store, summary: summary}
}

type ravResponse struct {
	SenderAddress  string     `json:"senderAddress"`
	TimestampNs    uint64     `json:"timestampNs"`
	ValueAggregate string     `json:"valueAggregate"`
	Last           bool       `json:"last"`
	Final          bool       `json:"final"`
	RedeemedAt     *time.Time `json:"redeemedAt,omitempty"`
}

type allocationSummaryView struct {
	summaryResponse
	Ravs []ravResponse `json:"ravs"`
}

// Summary handles GET /allocations/{id}/summary.
func (c *AllocationsController) Summary(w http.ResponseWriter, r *http.Request) {
	idHex, err := pathString(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	allocationID, err := core.ParseHash(idHex)
	if err != nil {
		writeError(w, core.SchemaError("invalid_allocation_id", err.Error()))
		return
	}
	network, err := core.Normalize(r.URL.Query().Get("protocolNetwork"))
	if err != nil {
		writeError(w, core.SchemaError("invalid_protocol_network", err.Error()))
		return
	}

	summary, err := c.summary.EnsureSummary(r.Context(), c.store.Pool, allocationID, network)
	if err != nil {
		writeError(w, err)
		return
	}

	ravs, err := c.loadRavs(r.Context(), allocationID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, allocationSummaryView{summaryResponse: toSummaryResponse(*summary), Ravs: ravs})
}

func (c *AllocationsController) loadRavs(ctx context.Context, allocationID core.Hash) ([]ravResponse, error) {
	const q = `SELECT sender_address, timestamp_ns, value_aggregate, is_last, is_final, redeemed_at
		FROM ravs WHERE allocation_id = $1`
	rows, err := c.store.Pool.Query(ctx, q, allocationID.Hex())
	if err != nil {
		return nil, core.TransientError("load rav lineage", err)
	}
	defer rows.Close()

	var out []ravResponse
	for rows.Next() {
		var v ravResponse
		if err := rows.Scan(&v.SenderAddress, &v.TimestampNs, &v.ValueAggregate, &v.Last, &v.Final, &v.RedeemedAt); err != nil {
			return nil, core.TransientError("scan rav lineage", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func pathString(r *http.Request, name string) (string, error) {
	v, ok := mux.Vars(r)[name]
	if !ok || v == "" {
		return "", core.SchemaError("missing_path_param", "missing path parameter "+name)
	}
	return v, nil
}
