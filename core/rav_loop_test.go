package core

import (
	"math/big"
	"testing"
)

func TestCollectedFeesDeltaFirstRAV(t *testing.T) {
	got := collectedFeesDelta(big.NewInt(500), nil)
	if got.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("collectedFeesDelta(500, nil) = %s, want 500", got)
	}
}

func TestCollectedFeesDeltaSubsequentRAV(t *testing.T) {
	// value_aggregate is cumulative: a tick that grows it from 500 to 700
	// must only add the 200 difference, not the full 700, or collectedFees
	// overcounts every tick after the first.
	got := collectedFeesDelta(big.NewInt(700), big.NewInt(500))
	if got.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("collectedFeesDelta(700, 500) = %s, want 200", got)
	}
}

func TestCollectedFeesDeltaNoNewReceipts(t *testing.T) {
	got := collectedFeesDelta(big.NewInt(500), big.NewInt(500))
	if got.Sign() != 0 {
		t.Fatalf("collectedFeesDelta(500, 500) = %s, want 0", got)
	}
}
