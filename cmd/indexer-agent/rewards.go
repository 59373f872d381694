package main

// noRewardsLookup is the default core.RewardsLookup: indexing-reward
// accrual accounting lives in the subgraph-deployment lifecycle subsystem,
// explicitly out of scope (spec.md §1). Deployments that need real rewards
// data wire a collaborator backed by that subsystem instead.

import (
	"context"
	"math/big"

	"indexer-core/core"
)

type noRewardsLookup struct{}

func (noRewardsLookup) RewardsAccrued(ctx context.Context, allocationID core.Hash, poi *core.Hash) (*big.Int, error) {
	return new(big.Int), nil
}
