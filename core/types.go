// Package core implements the indexer's action queue, allocation manager,
// and query-fee receipt / RAV pipeline — the off-chain state machinery that
// cooperates with the on-chain indexing protocol.
package core

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"time"
)

// Address is a 20-byte protocol account identifier.
type Address [20]byte

// ParseAddress decodes a hex string (with or without 0x prefix) into an Address.
func ParseAddress(s string) (Address, error) {
	var a Address
	b, err := decodeHex(s, 20)
	if err != nil {
		return a, fmt.Errorf("address: %w", err)
	}
	copy(a[:], b)
	return a, nil
}

// Hex renders the address as a lowercase 0x-prefixed string.
func (a Address) Hex() string { return "0x" + hex.EncodeToString(a[:]) }

// String satisfies fmt.Stringer.
func (a Address) String() string { return a.Hex() }

// Hash is a 32-byte identifier (collection ids, allocation ids, POIs).
type Hash [32]byte

// ParseHash decodes a hex string into a Hash.
func ParseHash(s string) (Hash, error) {
	var h Hash
	b, err := decodeHex(s, 32)
	if err != nil {
		return h, fmt.Errorf("hash: %w", err)
	}
	copy(h[:], b)
	return h, nil
}

// Hex renders all 32 bytes of the hash as 64 lowercase hex chars without a
// 0x prefix. Allocation ids (20 significant bytes in the first 20 bytes of a
// Hash) are therefore stored in the 64-char form, not a 40-char form.
func (h Hash) Hex() string { return hex.EncodeToString(h[:]) }

func (h Hash) String() string { return h.Hex() }

func decodeHex(s string, wantLen int) ([]byte, error) {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(b) != wantLen {
		return nil, fmt.Errorf("expected %d bytes, got %d", wantLen, len(b))
	}
	return b, nil
}

// AllocationStatus is the on-chain lifecycle state of an Allocation.
type AllocationStatus string

const (
	AllocationActive AllocationStatus = "active"
	AllocationClosed AllocationStatus = "closed"
)

// Allocation is read-only from the core's perspective; it is populated by
// on-chain event ingestion that lives outside this module.
type Allocation struct {
	AllocationID    Hash
	DeploymentID    Hash
	Indexer         Address
	AllocatedTokens *big.Int
	CreatedAtEpoch  uint64
	ClosedAtEpoch   *uint64
	ProtocolNetwork ProtocolNetwork
	Status          AllocationStatus
}

// Receipt is a single signed query-fee promise-to-pay.
type Receipt struct {
	AllocationID    Hash
	SignerAddress   Address
	ID              uint64 // 15-byte wire field, fits in uint64 (120 bits)
	Fees            *big.Int
	Signature       [65]byte
	TimestampNs     uint64
	Nonce           uint64
	Value           *big.Int
	ProtocolNetwork ProtocolNetwork
}

// InvalidReceipt is a Receipt that failed schema or signature validation.
type InvalidReceipt struct {
	Receipt
	ErrorLog string
}

// SignedRAV is a Receipt Aggregate Voucher returned by the aggregator.
type SignedRAV struct {
	AllocationID    Hash
	SenderAddress   Address
	TimestampNs     uint64
	ValueAggregate  *big.Int
	Signature       [65]byte
	Last            bool
	Final           bool
	RedeemedAt      *time.Time
	ProtocolNetwork ProtocolNetwork
}

// AllocationSummary is the single source of truth for per-allocation
// aggregates; every receipt/RAV mutation must go through EnsureSummary first.
type AllocationSummary struct {
	AllocationID    Hash
	ProtocolNetwork ProtocolNetwork
	ClosedAt        *time.Time
	CollectedFees   *big.Int
	WithdrawnFees   *big.Int
}

// ActionType enumerates the three protocol state-changing intents.
type ActionType string

const (
	ActionAllocate   ActionType = "allocate"
	ActionUnallocate ActionType = "unallocate"
	ActionReallocate ActionType = "reallocate"
)

// ActionStatus enumerates the Action state machine's states (spec.md §4.E).
type ActionStatus string

const (
	StatusQueued   ActionStatus = "queued"
	StatusApproved ActionStatus = "approved"
	StatusPending  ActionStatus = "pending"
	StatusSuccess  ActionStatus = "success"
	StatusFailed   ActionStatus = "failed"
	StatusCanceled ActionStatus = "canceled"
)

// Action is an operator- or rule-engine-initiated intent to change an
// allocation's state.
type Action struct {
	ID              int64
	Type            ActionType
	DeploymentID    Hash
	AllocationID    *Hash
	Amount          *big.Int
	POI             *Hash
	Force           bool
	Source          string
	Reason          string
	Priority        int
	ProtocolNetwork ProtocolNetwork
	Status          ActionStatus
	Transaction     *Hash
	FailureReason   string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// StakeUsage is the result of §4.F's stakeUsageSummary algorithm.
type StakeUsage struct {
	Allocates   *big.Int
	Unallocates *big.Int
	Rewards     *big.Int
	Balance     *big.Int // allocates - unallocates - rewards
}

// BalanceSign reports the consuming/committing split used by
// validateActionBatchFeasibility: -1 for consuming stake (balance <= 0), +1
// for committing stake (balance > 0).
func (s StakeUsage) BalanceSign() int {
	switch s.Balance.Sign() {
	case 1:
		return 1
	default:
		return -1
	}
}
