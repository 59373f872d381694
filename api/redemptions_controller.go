package api

// RedemptionsController exposes the operator escape hatch described by
// SPEC_FULL.md's §4.G expansion: "a POST /redemptions/{allocationId} operator-
// triggered manual redemption retry... an operator escape hatch is implied
// by the Fatal/quarantine error taxonomy of §7."

import (
	"math/big"
	"net/http"

	"indexer-core/core"
)

type RedemptionsController struct {
	store    *core.Store
	redeemer core.Redeemer
}

func NewRedemptionsController(store *core.Store, redeemer core.Redeemer) *RedemptionsController {
	return &RedemptionsController{store: store, redeemer: redeemer}
}

// Retry handles POST /redemptions/{allocationId}: reloads the allocation's
// current RAV and hands it to the redeemer again, for a RAV stuck after a
// prior redemption failure.
func (c *RedemptionsController) Retry(w http.ResponseWriter, r *http.Request) {
	idHex, err := pathString(r, "allocationId")
	if err != nil {
		writeError(w, err)
		return
	}
	allocationID, err := core.ParseHash(idHex)
	if err != nil {
		writeError(w, core.SchemaError("invalid_allocation_id", err.Error()))
		return
	}

	const q = `SELECT sender_address, timestamp_ns, value_aggregate, signature, is_last, is_final, protocol_network
		FROM ravs WHERE allocation_id = $1`
	row := c.store.Pool.QueryRow(r.Context(), q, allocationID.Hex())
	var (
		senderHex, valueAgg, network string
		ts                           uint64
		sig                          []byte
		last, final                  bool
	)
	if err := row.Scan(&senderHex, &ts, &valueAgg, &sig, &last, &final, &network); err != nil {
		writeError(w, core.NotFoundError("rav_not_found", "no rav for allocation "+idHex))
		return
	}
	if !last || !final {
		writeError(w, core.PreconditionError("not_redeemable", "rav is not last && final"))
		return
	}

	sender, err := core.ParseAddress(senderHex)
	if err != nil {
		writeError(w, core.FatalError("malformed stored rav sender", err))
		return
	}
	value, ok := new(big.Int).SetString(valueAgg, 10)
	if !ok {
		writeError(w, core.FatalError("malformed stored rav value", nil))
		return
	}
	var signature [65]byte
	copy(signature[:], sig)

	rav := core.SignedRAV{
		AllocationID: allocationID, SenderAddress: sender, TimestampNs: ts,
		ValueAggregate: value, Signature: signature, Last: last, Final: final,
		ProtocolNetwork: core.ProtocolNetwork(network),
	}
	if err := c.redeemer.Redeem(r.Context(), rav); err != nil {
		writeError(w, core.TransientError("redemption retry failed", err))
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
