package api

// DTOs mirror the teacher's inline request-struct style (see
// walletserver/controllers' anonymous `var req struct{...}` decoding) but
// named, since the management API's schemas are load-bearing (spec.md §4.G:
// "all inputs are validated against explicit schemas").

import (
	"fmt"
	"math/big"
	"time"

	"indexer-core/core"
)

type actionRequest struct {
	Type            string `json:"type"`
	DeploymentID    string `json:"deploymentId"`
	AllocationID    string `json:"allocationId,omitempty"`
	Amount          string `json:"amount,omitempty"`
	POI             string `json:"poi,omitempty"`
	Force           bool   `json:"force,omitempty"`
	Source          string `json:"source"`
	Reason          string `json:"reason,omitempty"`
	Priority        int    `json:"priority,omitempty"`
	ProtocolNetwork string `json:"protocolNetwork"`
}

// toInput validates the request and builds a core.ActionInput, per spec.md
// §4.G's "enum-typed fields carry their valid set."
func (req actionRequest) toInput() (core.ActionInput, error) {
	var in core.ActionInput

	switch req.Type {
	case string(core.ActionAllocate), string(core.ActionUnallocate), string(core.ActionReallocate):
		in.Type = core.ActionType(req.Type)
	default:
		return in, core.SchemaError("invalid_type", fmt.Sprintf("type must be one of allocate, unallocate, reallocate; got %q", req.Type))
	}

	dep, err := core.ParseHash(req.DeploymentID)
	if err != nil {
		return in, core.SchemaError("invalid_deployment_id", err.Error())
	}
	in.DeploymentID = dep

	if req.AllocationID != "" {
		h, err := core.ParseHash(req.AllocationID)
		if err != nil {
			return in, core.SchemaError("invalid_allocation_id", err.Error())
		}
		in.AllocationID = &h
	}
	if in.Type != core.ActionAllocate && in.AllocationID == nil {
		return in, core.SchemaError("allocation_id_required", "unallocate/reallocate require allocationId")
	}

	if req.Amount != "" {
		amount, ok := new(big.Int).SetString(req.Amount, 10)
		if !ok || amount.Sign() < 0 {
			return in, core.SchemaError("invalid_amount", "amount must be a non-negative base-10 integer")
		}
		in.Amount = amount
	}

	if req.POI != "" {
		poi, err := core.ParseHash(req.POI)
		if err != nil {
			return in, core.SchemaError("invalid_poi", err.Error())
		}
		in.POI = &poi
	}

	if req.Source == "" {
		return in, core.SchemaError("source_required", "source must not be empty")
	}

	network, err := core.Normalize(req.ProtocolNetwork)
	if err != nil {
		return in, core.SchemaError("invalid_protocol_network", err.Error())
	}

	in.Force = req.Force
	in.Source = req.Source
	in.Reason = req.Reason
	in.Priority = req.Priority
	in.ProtocolNetwork = network
	return in, nil
}

// idsRequest is the body shape for bulk approve/cancel/delete.
type idsRequest struct {
	IDs []int64 `json:"ids"`
}

// actionUpdateRequest is the body shape for PATCH /actions: filter selects
// the rows, patch carries the fields to set (spec.md §4.E "update(filter,
// patch)").
type actionUpdateRequest struct {
	Filter struct {
		IDs             []int64 `json:"ids,omitempty"`
		Status          string  `json:"status,omitempty"`
		ProtocolNetwork string  `json:"protocolNetwork,omitempty"`
	} `json:"filter"`
	Patch struct {
		Priority *int    `json:"priority,omitempty"`
		Reason   *string `json:"reason,omitempty"`
	} `json:"patch"`
}

func (req actionUpdateRequest) toFilterAndPatch() (core.ActionFilter, core.ActionPatch, error) {
	var filter core.ActionFilter
	filter.IDs = req.Filter.IDs
	if req.Filter.Status != "" {
		s := core.ActionStatus(req.Filter.Status)
		filter.Status = &s
	}
	if req.Filter.ProtocolNetwork != "" {
		network, err := core.Normalize(req.Filter.ProtocolNetwork)
		if err != nil {
			return filter, core.ActionPatch{}, core.SchemaError("invalid_protocol_network", err.Error())
		}
		filter.ProtocolNetwork = &network
	}
	patch := core.ActionPatch{Priority: req.Patch.Priority, Reason: req.Patch.Reason}
	return filter, patch, nil
}

type actionResponse struct {
	ID              int64   `json:"id"`
	Type            string  `json:"type"`
	DeploymentID    string  `json:"deploymentId"`
	AllocationID    *string `json:"allocationId,omitempty"`
	Amount          *string `json:"amount,omitempty"`
	POI             *string `json:"poi,omitempty"`
	Force           bool    `json:"force"`
	Source          string  `json:"source"`
	Reason          string  `json:"reason,omitempty"`
	Priority        int     `json:"priority"`
	ProtocolNetwork string  `json:"protocolNetwork"`
	Status          string  `json:"status"`
	Transaction     *string `json:"transaction,omitempty"`
	FailureReason   string  `json:"failureReason,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

func toActionResponse(a core.Action) actionResponse {
	resp := actionResponse{
		ID: a.ID, Type: string(a.Type), DeploymentID: a.DeploymentID.Hex(),
		Force: a.Force, Source: a.Source, Reason: a.Reason, Priority: a.Priority,
		ProtocolNetwork: string(a.ProtocolNetwork), Status: string(a.Status),
		FailureReason: a.FailureReason, CreatedAt: a.CreatedAt, UpdatedAt: a.UpdatedAt,
	}
	if a.AllocationID != nil {
		s := a.AllocationID.Hex()
		resp.AllocationID = &s
	}
	if a.Amount != nil {
		s := a.Amount.String()
		resp.Amount = &s
	}
	if a.POI != nil {
		s := a.POI.Hex()
		resp.POI = &s
	}
	if a.Transaction != nil {
		s := a.Transaction.Hex()
		resp.Transaction = &s
	}
	return resp
}

type summaryResponse struct {
	AllocationID    string `json:"allocationId"`
	ProtocolNetwork string `json:"protocolNetwork"`
	ClosedAt        *time.Time `json:"closedAt,omitempty"`
	CollectedFees   string `json:"collectedFees"`
	WithdrawnFees   string `json:"withdrawnFees"`
}

func toSummaryResponse(s core.AllocationSummary) summaryResponse {
	return summaryResponse{
		AllocationID:    s.AllocationID.Hex(),
		ProtocolNetwork: string(s.ProtocolNetwork),
		ClosedAt:        s.ClosedAt,
		CollectedFees:   s.CollectedFees.String(),
		WithdrawnFees:   s.WithdrawnFees.String(),
	}
}

type ruleRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type ruleResponse struct {
	Key   string `json:"key"`
	Kind  string `json:"kind"`
	Value string `json:"value"`
}

func toRuleResponse(r core.Rule) ruleResponse {
	return ruleResponse{Key: r.Key, Kind: string(r.Kind), Value: r.Value}
}
