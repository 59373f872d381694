package core

// ReceiptStore is the write-behind buffered ingress for per-query payment
// receipts (spec.md §4.A). Receipts are dense, out-of-order, and safe to
// drop on tie; monotone-fees semantics (R1) let the buffer coalesce bursts
// before ever touching Postgres.
//
// The flush loop follows the teacher's ticker+stop-channel idiom (see
// core/fault_tolerance.go's HealthChecker.loop / core/autonomous_agent_node.go's
// loop in the teacher repo): a ticker goroutine that also drains on Stop.

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

const maxFlushRetries = 20

// ReceiptAck is returned to the HTTP ingress handler on successful staging.
type ReceiptAck struct {
	ID           uint64
	AllocationID Hash
	Fees         *big.Int
}

type bufferedReceipt struct {
	receipt Receipt
}

// ReceiptStore buffers receipt writes and flushes them in LIFO order.
type ReceiptStore struct {
	store    *Store
	summary  *AllocationSummaryStore
	signer   Address
	domain   eip712Domain
	log      *logrus.Logger

	mu      sync.Mutex
	buffer  map[bufferKey]bufferedReceipt
	dirty   []bufferKey // LIFO stack of staged ids, may contain duplicates

	stop chan struct{}
	wg   sync.WaitGroup
}

type bufferKey struct {
	allocationID Hash
	id           uint64
}

// NewReceiptStore constructs a store that verifies incoming receipts against
// signer and persists through s.
func NewReceiptStore(s *Store, summary *AllocationSummaryStore, signer Address, domain eip712Domain, log *logrus.Logger) *ReceiptStore {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &ReceiptStore{
		store:   s,
		summary: summary,
		signer:  signer,
		domain:  domain,
		log:     log,
		buffer:  make(map[bufferKey]bufferedReceipt),
		stop:    make(chan struct{}),
	}
}

// Add decodes a 264-hex-char receipt blob, verifies its signature (R2), and
// stages it in the write-behind buffer, replacing any cached entry only when
// incoming fees strictly exceed the cached value (R1).
func (rs *ReceiptStore) Add(ctx context.Context, network ProtocolNetwork, receiptHex string) (ReceiptAck, error) {
	raw, err := hex.DecodeString(trimHexPrefix(receiptHex))
	if err != nil || len(raw) != 132 {
		return ReceiptAck{}, SchemaError("receipt_bytes", fmt.Sprintf("expected 264 hex chars decoding to 132 bytes, got %d bytes", len(raw)))
	}

	var allocationID Hash
	copy(allocationID[:20], raw[0:20])
	fees := new(big.Int).SetBytes(raw[20:52])
	id := decodeUint120(raw[52:67])
	var sig [65]byte
	copy(sig[:], raw[67:132])

	digest := ReceiptDigest(rs.domain, allocationID, fees, id)
	if err := VerifyECDSASignature(digest, sig, rs.signer); err != nil {
		rs.persistInvalid(ctx, Receipt{
			AllocationID:    allocationID,
			SignerAddress:   rs.signer,
			ID:              id,
			Fees:            fees,
			Signature:       sig,
			ProtocolNetwork: network,
		}, err.Error())
		return ReceiptAck{}, err
	}

	r := Receipt{
		AllocationID:    allocationID,
		SignerAddress:   rs.signer,
		ID:              id,
		Fees:            fees,
		Signature:       sig,
		TimestampNs:     uint64(time.Now().UnixNano()),
		ProtocolNetwork: network,
	}

	key := bufferKey{allocationID: allocationID, id: id}
	rs.mu.Lock()
	if existing, ok := rs.buffer[key]; !ok || fees.Cmp(existing.receipt.Fees) > 0 {
		rs.buffer[key] = bufferedReceipt{receipt: r}
		rs.dirty = append(rs.dirty, key)
	}
	rs.mu.Unlock()

	return ReceiptAck{ID: id, AllocationID: allocationID, Fees: fees}, nil
}

// Flush persists buffered receipts with at-most-once update semantics (R1),
// popping staged ids in LIFO order.
func (rs *ReceiptStore) Flush(ctx context.Context) error {
	rs.mu.Lock()
	keys := rs.dirty
	rs.dirty = nil
	rs.mu.Unlock()

	// Pop LIFO: iterate from the tail.
	for i := len(keys) - 1; i >= 0; i-- {
		key := keys[i]
		rs.mu.Lock()
		buffered, ok := rs.buffer[key]
		if ok {
			delete(rs.buffer, key)
		}
		rs.mu.Unlock()
		if !ok {
			continue // superseded by a later flush of the same key
		}
		if err := rs.persistWithRetry(ctx, buffered.receipt); err != nil {
			// Persistent failure: re-buffer so revenue is not lost on
			// transient outages (spec.md §4.A failure model).
			rs.mu.Lock()
			if cur, stillThere := rs.buffer[key]; !stillThere || buffered.receipt.Fees.Cmp(cur.receipt.Fees) > 0 {
				rs.buffer[key] = buffered
				rs.dirty = append(rs.dirty, key)
			}
			rs.mu.Unlock()
			rs.log.WithError(err).WithField("allocation", key.allocationID.Hex()).Error("receipt flush failed, re-buffered")
		}
	}
	return nil
}

func (rs *ReceiptStore) persistWithRetry(ctx context.Context, r Receipt) error {
	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxFlushRetries)
	return backoff.Retry(func() error {
		err := rs.persistOne(ctx, r)
		if err == nil {
			return nil
		}
		if IsKind(err, KindTransient) {
			return err // retried by backoff.Retry
		}
		return backoff.Permanent(err)
	}, bo)
}

func (rs *ReceiptStore) persistOne(ctx context.Context, r Receipt) error {
	tx, err := rs.store.BeginSerializable(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := rs.summary.EnsureSummary(ctx, tx, r.AllocationID, r.ProtocolNetwork); err != nil {
		return err
	}

	const selectFees = `SELECT fees FROM receipts WHERE allocation_id = $1 AND signer_address = $2 AND id = $3`
	var storedFees string
	err = tx.QueryRow(ctx, selectFees, r.AllocationID.Hex(), r.SignerAddress.Hex(), r.ID).Scan(&storedFees)
	switch {
	case err == nil:
		existing := new(big.Int)
		existing.SetString(storedFees, 10)
		if r.Fees.Cmp(existing) <= 0 {
			return tx.Commit(ctx) // R1: lower-fee updates are discarded
		}
		const update = `UPDATE receipts SET fees = $4, signature = $5, timestamp_ns = $6, nonce = $7, value = $8
			WHERE allocation_id = $1 AND signer_address = $2 AND id = $3`
		if _, err := tx.Exec(ctx, update, r.AllocationID.Hex(), r.SignerAddress.Hex(), r.ID,
			r.Fees.String(), r.Signature[:], r.TimestampNs, r.Nonce, valueOrZero(r.Value)); err != nil {
			if isSerializationFailure(err) {
				return TransientError("update receipt", err)
			}
			return FatalError("update receipt", err)
		}
	case isNoRows(err):
		const insert = `INSERT INTO receipts (allocation_id, signer_address, id, fees, signature, timestamp_ns, nonce, value, protocol_network)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
		if _, err := tx.Exec(ctx, insert, r.AllocationID.Hex(), r.SignerAddress.Hex(), r.ID,
			r.Fees.String(), r.Signature[:], r.TimestampNs, r.Nonce, valueOrZero(r.Value), string(r.ProtocolNetwork)); err != nil {
			if isSerializationFailure(err) {
				return TransientError("insert receipt", err)
			}
			return FatalError("insert receipt", err)
		}
	default:
		return TransientError("select existing receipt", err)
	}

	if err := tx.Commit(ctx); err != nil {
		if isSerializationFailure(err) {
			return TransientError("commit receipt flush", err)
		}
		return FatalError("commit receipt flush", err)
	}
	return nil
}

func (rs *ReceiptStore) persistInvalid(ctx context.Context, r Receipt, errLog string) {
	const insert = `INSERT INTO invalid_receipts (allocation_id, signer_address, id, fees, signature, timestamp_ns, nonce, value, protocol_network, error_log)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`
	if _, err := rs.store.Pool.Exec(ctx, insert, r.AllocationID.Hex(), r.SignerAddress.Hex(), r.ID,
		r.Fees.String(), r.Signature[:], r.TimestampNs, r.Nonce, valueOrZero(r.Value), string(r.ProtocolNetwork), errLog); err != nil {
		rs.log.WithError(err).Warn("failed to persist invalid receipt")
	}
}

// RunFlushLoop runs Flush every period until ctx is canceled, then performs a
// final flush (spec.md §4.A background flushLoop; §5 graceful shutdown).
func (rs *ReceiptStore) RunFlushLoop(ctx context.Context, period time.Duration) {
	rs.wg.Add(1)
	go func() {
		defer rs.wg.Done()
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := rs.Flush(ctx); err != nil {
					rs.log.WithError(err).Error("receipt flush loop error")
				}
			case <-ctx.Done():
				_ = rs.Flush(context.Background())
				return
			case <-rs.stop:
				_ = rs.Flush(context.Background())
				return
			}
		}
	}()
}

// Stop terminates the flush loop and waits for it to finish.
func (rs *ReceiptStore) Stop() {
	close(rs.stop)
	rs.wg.Wait()
}

func valueOrZero(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

func decodeUint120(b []byte) uint64 {
	var v uint64
	for _, by := range b[len(b)-8:] {
		v = v<<8 | uint64(by)
	}
	return v
}
