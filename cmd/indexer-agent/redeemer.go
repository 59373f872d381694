package main

// loggingRedeemer is the default core.Redeemer: it hands a ready RAV off by
// logging its identity. Actual on-chain redemption submission (gas
// management, transaction signing, contract calls) is an explicit Non-goal
// of the core (spec.md §1: "it prepares and hands signed artifacts to a
// submitter"); production deployments wire a real submitter in its place.

import (
	"context"

	"github.com/sirupsen/logrus"

	"indexer-core/core"
)

type loggingRedeemer struct {
	log *logrus.Logger
}

func (r loggingRedeemer) Redeem(ctx context.Context, rav core.SignedRAV) error {
	r.log.WithFields(logrus.Fields{
		"allocation":     rav.AllocationID.Hex(),
		"sender":         rav.SenderAddress.Hex(),
		"valueAggregate": rav.ValueAggregate.String(),
	}).Info("rav ready for on-chain redemption, handing off to submitter")
	return nil
}
