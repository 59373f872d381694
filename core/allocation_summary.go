package core

// AllocationSummaryStore is the invariant anchor for receipt aggregation and
// RAV persistence (spec.md §4.B): every caller that mutates receipts or RAVs
// must call EnsureSummary first, inside the same transaction as the mutation.

import (
	"context"
	"math/big"
	"time"
)

type AllocationSummaryStore struct {
	store *Store
}

func NewAllocationSummaryStore(s *Store) *AllocationSummaryStore {
	return &AllocationSummaryStore{store: s}
}

// EnsureSummary idempotently finds or creates the summary row for
// (allocation, network) within tx. Two concurrent calls for the same key
// yield the same row and never create a duplicate (spec.md §8). The row is
// read with SELECT ... FOR UPDATE, so transactions that ensure the same
// summary are serialized on it until they finish.
func (a *AllocationSummaryStore) EnsureSummary(ctx context.Context, q Querier, allocationID Hash, network ProtocolNetwork) (*AllocationSummary, error) {
	const insert = `
		INSERT INTO allocation_summaries (allocation_id, protocol_network, collected_fees, withdrawn_fees)
		VALUES ($1, $2, 0, 0)
		ON CONFLICT (allocation_id, protocol_network) DO NOTHING`
	if _, err := q.Exec(ctx, insert, allocationID.Hex(), string(network)); err != nil {
		return nil, TransientError("ensure allocation summary", err)
	}

	const selectRow = `
		SELECT closed_at, collected_fees, withdrawn_fees
		FROM allocation_summaries
		WHERE allocation_id = $1 AND protocol_network = $2
		FOR UPDATE`
	row := q.QueryRow(ctx, selectRow, allocationID.Hex(), string(network))

	var (
		closedAt                     *time.Time
		collectedFees, withdrawnFees string
	)
	if err := row.Scan(&closedAt, &collectedFees, &withdrawnFees); err != nil {
		return nil, TransientError("load allocation summary", err)
	}

	summary := &AllocationSummary{
		AllocationID:    allocationID,
		ProtocolNetwork: network,
		ClosedAt:        closedAt,
		CollectedFees:   new(big.Int),
		WithdrawnFees:   new(big.Int),
	}
	if _, ok := summary.CollectedFees.SetString(collectedFees, 10); !ok {
		summary.CollectedFees.SetInt64(0)
	}
	if _, ok := summary.WithdrawnFees.SetString(withdrawnFees, 10); !ok {
		summary.WithdrawnFees.SetInt64(0)
	}
	return summary, nil
}

// AddCollectedFees increments collected_fees by delta within tx, enforcing
// S1 (collectedFees >= sum of receipt fees) by construction: callers only
// ever add the Σ value of receipts just subsumed into a RAV.
func (a *AllocationSummaryStore) AddCollectedFees(ctx context.Context, q Querier, allocationID Hash, network ProtocolNetwork, delta *big.Int) error {
	const update = `
		UPDATE allocation_summaries
		SET collected_fees = collected_fees + $3
		WHERE allocation_id = $1 AND protocol_network = $2`
	if _, err := q.Exec(ctx, update, allocationID.Hex(), string(network), delta.String()); err != nil {
		return TransientError("update collected fees", err)
	}
	return nil
}

// MarkClosed records an allocation's closure time on its summary.
func (a *AllocationSummaryStore) MarkClosed(ctx context.Context, q Querier, allocationID Hash, network ProtocolNetwork, closedAt int64) error {
	const update = `
		UPDATE allocation_summaries
		SET closed_at = to_timestamp($3)
		WHERE allocation_id = $1 AND protocol_network = $2`
	if _, err := q.Exec(ctx, update, allocationID.Hex(), string(network), closedAt); err != nil {
		return TransientError("mark allocation closed", err)
	}
	return nil
}
