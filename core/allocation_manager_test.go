package core

import (
	"context"
	"math/big"
	"testing"
)

type mockAllocationLookup struct {
	byID map[Hash]*Allocation
}

func (m mockAllocationLookup) Load(ctx context.Context, id Hash) (*Allocation, error) {
	a, ok := m.byID[id]
	if !ok {
		return nil, NotFoundError("allocation_not_found", "no allocation with id "+id.Hex())
	}
	return a, nil
}

type mockRewardsLookup struct {
	rewards *big.Int
}

func (m mockRewardsLookup) RewardsAccrued(ctx context.Context, allocationID Hash, poi *Hash) (*big.Int, error) {
	return m.rewards, nil
}

func hashFromByte(b byte) Hash {
	var h Hash
	h[31] = b
	return h
}

func TestStakeUsageSummaryAllocate(t *testing.T) {
	mgr := NewAllocationManagerWithLookup(mockAllocationLookup{}, nil)
	a := Action{Type: ActionAllocate, Amount: big.NewInt(10000)}
	usage, err := mgr.StakeUsageSummary(context.Background(), a)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if usage.Balance.Cmp(big.NewInt(10000)) != 0 {
		t.Fatalf("balance = %v, want 10000", usage.Balance)
	}
	if usage.BalanceSign() != 1 {
		t.Fatalf("BalanceSign() = %d, want 1", usage.BalanceSign())
	}
}

func TestStakeUsageSummaryUnallocateWithRewards(t *testing.T) {
	existing := hashFromByte(1)
	lookup := mockAllocationLookup{byID: map[Hash]*Allocation{
		existing: {AllocationID: existing, AllocatedTokens: big.NewInt(10000), Status: AllocationActive},
	}}
	mgr := NewAllocationManagerWithLookup(lookup, mockRewardsLookup{rewards: big.NewInt(50)})
	poi := hashFromByte(9)
	a := Action{Type: ActionUnallocate, AllocationID: &existing, POI: &poi}

	usage, err := mgr.StakeUsageSummary(context.Background(), a)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := new(big.Int).Neg(big.NewInt(10050)) // 0 - 10000 - 50
	if usage.Balance.Cmp(want) != 0 {
		t.Fatalf("balance = %v, want %v", usage.Balance, want)
	}
	if usage.BalanceSign() != -1 {
		t.Fatalf("BalanceSign() = %d, want -1", usage.BalanceSign())
	}
}

func TestStakeUsageSummaryUnallocateInactiveRejected(t *testing.T) {
	existing := hashFromByte(2)
	lookup := mockAllocationLookup{byID: map[Hash]*Allocation{
		existing: {AllocationID: existing, AllocatedTokens: big.NewInt(10000), Status: AllocationClosed},
	}}
	mgr := NewAllocationManagerWithLookup(lookup, nil)
	a := Action{Type: ActionUnallocate, AllocationID: &existing}

	_, err := mgr.StakeUsageSummary(context.Background(), a)
	if !IsKind(err, KindConflict) {
		t.Fatalf("expected conflict error, got %v", err)
	}
}

func TestStakeUsageSummaryReallocateNoRewards(t *testing.T) {
	existing := hashFromByte(3)
	lookup := mockAllocationLookup{byID: map[Hash]*Allocation{
		existing: {AllocationID: existing, AllocatedTokens: big.NewInt(10000), Status: AllocationActive},
	}}
	mgr := NewAllocationManagerWithLookup(lookup, mockRewardsLookup{rewards: big.NewInt(0)})
	zero := Hash{}
	a := Action{Type: ActionReallocate, AllocationID: &existing, Amount: big.NewInt(10000), POI: &zero}

	usage, err := mgr.StakeUsageSummary(context.Background(), a)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if usage.Balance.Sign() != 0 {
		t.Fatalf("balance = %v, want 0", usage.Balance)
	}
	if usage.BalanceSign() != -1 {
		t.Fatalf("BalanceSign() = %d, want -1 (zero balance consumes)", usage.BalanceSign())
	}
}

// TestValidateActionBatchFeasibilityReorders exercises spec.md §8's stake
// reordering scenario: Allocate(D1,10000), Unallocate(existing,10000,
// poi!=0,rewards>0), Reallocate(D1,10000,poi=0) must come back as
// [Unallocate, Reallocate, Allocate].
func TestValidateActionBatchFeasibilityReorders(t *testing.T) {
	existing := hashFromByte(4)
	d1 := hashFromByte(5)
	poi := hashFromByte(6)
	zero := Hash{}

	lookup := mockAllocationLookup{byID: map[Hash]*Allocation{
		existing: {AllocationID: existing, AllocatedTokens: big.NewInt(10000), Status: AllocationActive},
		d1:       {AllocationID: d1, AllocatedTokens: big.NewInt(10000), Status: AllocationActive},
	}}
	mgr := NewAllocationManagerWithLookup(lookup, mockRewardsLookup{rewards: big.NewInt(50)})

	allocate := Action{Type: ActionAllocate, DeploymentID: d1, Amount: big.NewInt(10000)}
	unallocate := Action{Type: ActionUnallocate, AllocationID: &existing, Amount: big.NewInt(10000), POI: &poi}
	reallocate := Action{Type: ActionReallocate, AllocationID: &d1, Amount: big.NewInt(10000), POI: &zero}

	out, err := mgr.ValidateActionBatchFeasibility(context.Background(), []Action{allocate, unallocate, reallocate})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("len(out) = %d, want 3", len(out))
	}
	if out[0].Type != ActionUnallocate || out[1].Type != ActionReallocate || out[2].Type != ActionAllocate {
		t.Fatalf("order = [%s, %s, %s], want [unallocate, reallocate, allocate]", out[0].Type, out[1].Type, out[2].Type)
	}
}

func TestValidateActionBatchFeasibilityStableWithinPartition(t *testing.T) {
	mgr := NewAllocationManagerWithLookup(mockAllocationLookup{}, nil)
	low := Action{Type: ActionAllocate, Amount: big.NewInt(1), Priority: 1, Reason: "low"}
	high := Action{Type: ActionAllocate, Amount: big.NewInt(1), Priority: 5, Reason: "high"}
	mid := Action{Type: ActionAllocate, Amount: big.NewInt(1), Priority: 5, Reason: "mid"}

	out, err := mgr.ValidateActionBatchFeasibility(context.Background(), []Action{low, high, mid})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out[0].Reason != "high" || out[1].Reason != "mid" || out[2].Reason != "low" {
		t.Fatalf("order = [%s, %s, %s], want [high, mid, low]", out[0].Reason, out[1].Reason, out[2].Reason)
	}
}
