package core

import (
	"math/big"
	"testing"
)

func TestNormalizeHumanName(t *testing.T) {
	got, err := Normalize("Mainnet")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "eip155:1" {
		t.Fatalf("got %q, want eip155:1", got)
	}
}

func TestNormalizeAlreadyCAIP2(t *testing.T) {
	got, err := Normalize("eip155:42161")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "eip155:42161" {
		t.Fatalf("got %q, want eip155:42161", got)
	}
}

func TestNormalizeUnknownNameRejected(t *testing.T) {
	if _, err := Normalize("not-a-real-chain"); !IsKind(err, KindSchema) {
		t.Fatalf("expected schema error, got %v", err)
	}
}

func TestNormalizeEmptyRejected(t *testing.T) {
	if _, err := Normalize("  "); !IsKind(err, KindSchema) {
		t.Fatalf("expected schema error, got %v", err)
	}
}

func TestChainIDFromEIP155(t *testing.T) {
	id, err := ProtocolNetwork("eip155:137").ChainID()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.Cmp(big.NewInt(137)) != 0 {
		t.Fatalf("chain id = %v, want 137", id)
	}
}

func TestChainIDRejectsNonEIP155Namespace(t *testing.T) {
	if _, err := ProtocolNetwork("cosmos:cosmoshub-4").ChainID(); !IsKind(err, KindSchema) {
		t.Fatalf("expected schema error, got %v", err)
	}
}
