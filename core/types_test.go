package core

import (
	"math/big"
	"strings"
	"testing"
)

func TestParseAddressRoundTrip(t *testing.T) {
	const in = "0x00000000000000000000000000000000000000AB"
	a, err := ParseAddress(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a[19] != 0xAB {
		t.Fatalf("last byte = %#x, want 0xab", a[19])
	}
}

func TestParseAddressWrongLength(t *testing.T) {
	if _, err := ParseAddress("0xAB"); err == nil {
		t.Fatal("expected error for short address")
	}
}

func TestParseHashNoPrefix(t *testing.T) {
	in := strings.Repeat("0", 63) + "1"
	h, err := ParseHash(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.Hex() != in {
		t.Fatalf("Hex() = %q, want %q", h.Hex(), in)
	}
}

func TestStakeUsageBalanceSignZeroConsumes(t *testing.T) {
	u := StakeUsage{Balance: big.NewInt(0)}
	if u.BalanceSign() != -1 {
		t.Fatalf("BalanceSign() = %d, want -1 for zero balance", u.BalanceSign())
	}
}

func TestStakeUsageBalanceSignPositiveCommits(t *testing.T) {
	u := StakeUsage{Balance: big.NewInt(1)}
	if u.BalanceSign() != 1 {
		t.Fatalf("BalanceSign() = %d, want 1", u.BalanceSign())
	}
}
