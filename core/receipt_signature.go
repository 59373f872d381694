package core

// Signature verification for receipts and RAVs.
//
// Adapted from the legacy state-channel payment manager's ECDSA verify
// primitive (VerifyECDSASignature / verifySigs in the superseded
// state-channel design — see spec.md §9): that design's per-allocation
// signed-state channel is gone, but the ECDSA-over-a-domain-separated-hash
// shape survives as the receipt/RAV signature check required by R2 and the
// aggregator protocol (spec.md §6).

import (
	"crypto/ecdsa"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// encodeSig renders a 65-byte signature as a 0x-prefixed hex string, the
// wire format used by the aggregator protocol (spec.md §6).
func encodeSig(sig [65]byte) string { return "0x" + hex.EncodeToString(sig[:]) }

// decodeSig parses the aggregator's hex-encoded signature back into wire form.
func decodeSig(s string) ([65]byte, error) {
	var out [65]byte
	b, err := hex.DecodeString(trimHexPrefix(s))
	if err != nil {
		return out, err
	}
	if len(b) != 65 {
		return out, fmt.Errorf("expected 65-byte signature, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}

// eip712Domain parameters, distinct per signed-message kind (spec.md §6).
type eip712Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract Address
}

// NewEIP712Domain builds the domain shared by the receipt and RAV digests
// for one protocol network; Name is filled in per-kind by ReceiptDigest and
// RAVDigest.
func NewEIP712Domain(chainID *big.Int, verifyingContract Address) eip712Domain {
	return eip712Domain{Version: "1", ChainID: chainID, VerifyingContract: verifyingContract}
}

func (d eip712Domain) separator() [32]byte {
	nameHash := crypto.Keccak256([]byte(d.Name))
	versionHash := crypto.Keccak256([]byte(d.Version))
	var chainIDBuf [32]byte
	d.ChainID.FillBytes(chainIDBuf[:])
	buf := make([]byte, 0, 32*4)
	buf = append(buf, nameHash...)
	buf = append(buf, versionHash...)
	buf = append(buf, chainIDBuf[:]...)
	buf = append(buf, leftPad32(d.VerifyingContract[:])...)
	var out [32]byte
	copy(out[:], crypto.Keccak256(buf))
	return out
}

func leftPad32(b []byte) []byte {
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}

// receiptStructHash hashes the canonical receipt fields:
// allocation_id(20) ∥ fees(32) ∥ id(15), per spec.md §6.
func receiptStructHash(allocationID Hash, fees *big.Int, id uint64) [32]byte {
	buf := make([]byte, 0, 20+32+15)
	buf = append(buf, allocationID[:20]...)
	var feesBuf [32]byte
	fees.FillBytes(feesBuf[:])
	buf = append(buf, feesBuf[:]...)
	buf = append(buf, encodeUint120(id)...)
	var out [32]byte
	copy(out[:], crypto.Keccak256(buf))
	return out
}

// ravStructHash hashes the canonical RAV fields:
// allocation_id(20) ∥ timestamp_ns(8) ∥ value_aggregate(32), per spec.md §6.
func ravStructHash(allocationID Hash, timestampNs uint64, valueAggregate *big.Int) [32]byte {
	buf := make([]byte, 0, 20+8+32)
	buf = append(buf, allocationID[:20]...)
	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], timestampNs)
	buf = append(buf, tsBuf[:]...)
	var valBuf [32]byte
	valueAggregate.FillBytes(valBuf[:])
	buf = append(buf, valBuf[:]...)
	var out [32]byte
	copy(out[:], crypto.Keccak256(buf))
	return out
}

// encodeUint120 big-endian-encodes id (which fits in 64 bits) into the
// 15-byte wire field the receipt layout reserves for it.
func encodeUint120(id uint64) []byte {
	out := make([]byte, 15)
	var full [8]byte
	binary.BigEndian.PutUint64(full[:], id)
	copy(out[15-8:], full[:])
	return out
}

// digest builds the EIP-712 digest: keccak256("\x19\x01" ++ domainSeparator ++ structHash).
func digest(domain eip712Domain, structHash [32]byte) [32]byte {
	sep := domain.separator()
	buf := make([]byte, 0, 2+32+32)
	buf = append(buf, 0x19, 0x01)
	buf = append(buf, sep[:]...)
	buf = append(buf, structHash[:]...)
	var out [32]byte
	copy(out[:], crypto.Keccak256(buf))
	return out
}

// ReceiptDigest returns the TAP-receipt EIP-712 digest signed over by clients.
func ReceiptDigest(domain eip712Domain, allocationID Hash, fees *big.Int, id uint64) [32]byte {
	domain.Name = "TAP-receipt"
	return digest(domain, receiptStructHash(allocationID, fees, id))
}

// RAVDigest returns the TAP-RAV EIP-712 digest signed over by the aggregator.
func RAVDigest(domain eip712Domain, allocationID Hash, timestampNs uint64, valueAggregate *big.Int) [32]byte {
	domain.Name = "TAP-RAV"
	return digest(domain, ravStructHash(allocationID, timestampNs, valueAggregate))
}

// VerifyECDSASignature recovers the signer from sig over digest and reports
// whether it matches want. sig is the 65-byte {R||S||V} wire format produced
// by crypto.Sign.
func VerifyECDSASignature(digest [32]byte, sig [65]byte, want Address) error {
	pubKey, err := crypto.SigToPub(digest[:], sig[:])
	if err != nil {
		return AuthError("signature recovery failed", err)
	}
	if !crypto.VerifySignature(crypto.FromECDSAPub(pubKey), digest[:], sig[:64]) {
		return AuthError("signature does not verify", nil)
	}
	recovered := addressFromCommon(crypto.PubkeyToAddress(*pubKey))
	if recovered != want {
		return AuthError(fmt.Sprintf("signature recovered %s, expected %s", recovered, want), nil)
	}
	return nil
}

// Sign produces a 65-byte {R||S||V} signature over digest.
func Sign(digest [32]byte, priv *ecdsa.PrivateKey) ([65]byte, error) {
	var out [65]byte
	sig, err := crypto.Sign(digest[:], priv)
	if err != nil {
		return out, err
	}
	copy(out[:], sig)
	return out, nil
}

// addressFromCommon converts a go-ethereum common.Address into our Address,
// the same bridging helper the teacher's transactions.go names FromCommon.
func addressFromCommon(a common.Address) Address {
	var out Address
	copy(out[:], a.Bytes())
	return out
}
