package core

// AllocationManager implements spec.md §4.F: it translates approved action
// batches into protocol operations by computing per-action stake usage and
// reordering a batch so cumulative stake balance never goes negative.

import (
	"context"
	"math/big"
)

// RewardsLookup reads indexing rewards accrued for an (allocation, poi) pair.
// It is an out-of-core collaborator (subgraph/indexing-reward accounting
// lives outside this module, spec.md §1).
type RewardsLookup interface {
	RewardsAccrued(ctx context.Context, allocationID Hash, poi *Hash) (*big.Int, error)
}

// AllocationLookup reads the read-model Allocation row for a referenced
// allocationId (spec.md §3: "Created by on-chain event ingestion; the core
// treats it read-only"). Separated from *Store as an interface so
// StakeUsageSummary is testable without a database.
type AllocationLookup interface {
	Load(ctx context.Context, id Hash) (*Allocation, error)
}

// StoreAllocationLookup is the production AllocationLookup, backed by the
// allocations read-model table.
type StoreAllocationLookup struct {
	store *Store
}

func NewStoreAllocationLookup(s *Store) StoreAllocationLookup { return StoreAllocationLookup{store: s} }

func (l StoreAllocationLookup) Load(ctx context.Context, id Hash) (*Allocation, error) {
	const q = `SELECT deployment_id, indexer, allocated_tokens, created_at_epoch, closed_at_epoch, protocol_network, status
		FROM allocations WHERE allocation_id = $1`
	row := l.store.Pool.QueryRow(ctx, q, id.Hex())
	var (
		depHex, indexerHex, tokens, network, status string
		createdEpoch                                uint64
		closedEpoch                                  *uint64
	)
	if err := row.Scan(&depHex, &indexerHex, &tokens, &createdEpoch, &closedEpoch, &network, &status); err != nil {
		if isNoRows(err) {
			return nil, NotFoundError("allocation_not_found", "no allocation with id "+id.Hex())
		}
		return nil, TransientError("load allocation", err)
	}
	dep, err := ParseHash(depHex)
	if err != nil {
		return nil, FatalError("malformed deployment_id in storage", err)
	}
	indexer, err := ParseAddress(indexerHex)
	if err != nil {
		return nil, FatalError("malformed indexer in storage", err)
	}
	allocated, ok := new(big.Int).SetString(tokens, 10)
	if !ok {
		return nil, FatalError("malformed allocated_tokens in storage", nil)
	}
	return &Allocation{
		AllocationID: id, DeploymentID: dep, Indexer: indexer, AllocatedTokens: allocated,
		CreatedAtEpoch: createdEpoch, ClosedAtEpoch: closedEpoch,
		ProtocolNetwork: ProtocolNetwork(network), Status: AllocationStatus(status),
	}, nil
}

// AllocationManager owns stake-usage computation and batch feasibility.
type AllocationManager struct {
	allocations AllocationLookup
	rewards     RewardsLookup
}

func NewAllocationManager(s *Store, rewards RewardsLookup) *AllocationManager {
	return &AllocationManager{allocations: NewStoreAllocationLookup(s), rewards: rewards}
}

// NewAllocationManagerWithLookup builds a manager against an arbitrary
// AllocationLookup, primarily for tests.
func NewAllocationManagerWithLookup(allocations AllocationLookup, rewards RewardsLookup) *AllocationManager {
	return &AllocationManager{allocations: allocations, rewards: rewards}
}

// StakeUsageSummary computes {allocates, unallocates, rewards, balance} for
// a single action, per spec.md §4.F.
func (m *AllocationManager) StakeUsageSummary(ctx context.Context, a Action) (StakeUsage, error) {
	switch a.Type {
	case ActionAllocate:
		amount := valueOrZeroBig(a.Amount)
		return StakeUsage{
			Allocates:   amount,
			Unallocates: new(big.Int),
			Rewards:     new(big.Int),
			Balance:     new(big.Int).Set(amount),
		}, nil

	case ActionUnallocate:
		return m.unallocateUsage(ctx, a, new(big.Int))

	case ActionReallocate:
		return m.reallocateUsage(ctx, a)

	default:
		return StakeUsage{}, SchemaError("unknown_action_type", string(a.Type))
	}
}

func (m *AllocationManager) unallocateUsage(ctx context.Context, a Action, allocates *big.Int) (StakeUsage, error) {
	if a.AllocationID == nil {
		return StakeUsage{}, SchemaError("allocation_id_required", "unallocate requires an allocationId")
	}
	alloc, err := m.allocations.Load(ctx, *a.AllocationID)
	if err != nil {
		return StakeUsage{}, err
	}
	if alloc.Status != AllocationActive {
		return StakeUsage{}, ConflictError("inactive_allocation", "allocation "+a.AllocationID.Hex()+" is not Active")
	}

	rewards, err := m.rewardsFor(ctx, *a.AllocationID, a.POI)
	if err != nil {
		return StakeUsage{}, err
	}

	unallocates := new(big.Int).Set(alloc.AllocatedTokens)
	balance := new(big.Int).Sub(allocates, unallocates)
	balance.Sub(balance, rewards)
	return StakeUsage{Allocates: allocates, Unallocates: unallocates, Rewards: rewards, Balance: balance}, nil
}

func (m *AllocationManager) reallocateUsage(ctx context.Context, a Action) (StakeUsage, error) {
	allocates := valueOrZeroBig(a.Amount)
	return m.unallocateUsage(ctx, a, allocates)
}

func (m *AllocationManager) rewardsFor(ctx context.Context, allocationID Hash, poi *Hash) (*big.Int, error) {
	if poi == nil || *poi == (Hash{}) {
		return new(big.Int), nil
	}
	if m.rewards == nil {
		return new(big.Int), nil
	}
	r, err := m.rewards.RewardsAccrued(ctx, allocationID, poi)
	if err != nil {
		return nil, TransientError("load rewards accrued", err)
	}
	return valueOrZeroBig(r), nil
}

// ValidateActionBatchFeasibility stably reorders actions so stake-consuming
// actions (balance <= 0) precede stake-committing ones (balance > 0):
// partition by the sign of balance, sort each partition by priority
// descending then original order, concatenate negative ∥ zero ∥ positive
// (spec.md §4.F).
func (m *AllocationManager) ValidateActionBatchFeasibility(ctx context.Context, actions []Action) ([]Action, error) {
	scoredActions := make([]scoredAction, len(actions))
	for i, a := range actions {
		u, err := m.StakeUsageSummary(ctx, a)
		if err != nil {
			return nil, err
		}
		scoredActions[i] = scoredAction{action: a, usage: u, index: i}
	}

	var negative, zero, committing []scoredAction
	for _, s := range scoredActions {
		switch {
		case s.usage.BalanceSign() > 0:
			committing = append(committing, s)
		case s.usage.Balance.Sign() < 0:
			negative = append(negative, s)
		default:
			zero = append(zero, s)
		}
	}
	stableSortByPriority(negative)
	stableSortByPriority(zero)
	stableSortByPriority(committing)

	out := make([]Action, 0, len(actions))
	for _, part := range [][]scoredAction{negative, zero, committing} {
		for _, s := range part {
			out = append(out, s.action)
		}
	}
	return out, nil
}

type scoredAction struct {
	action Action
	usage  StakeUsage
	index  int
}

// stableSortByPriority sorts in place by priority descending then original
// index ascending. An insertion sort is enough: batches here are
// operator-scale action queues, not bulk ingestion.
func stableSortByPriority(s []scoredAction) {
	for i := 1; i < len(s); i++ {
		j := i
		for j > 0 && scoredLess(s[j], s[j-1]) {
			s[j], s[j-1] = s[j-1], s[j]
			j--
		}
	}
}

func scoredLess(a, b scoredAction) bool {
	if a.action.Priority != b.action.Priority {
		return a.action.Priority > b.action.Priority
	}
	return a.index < b.index
}
