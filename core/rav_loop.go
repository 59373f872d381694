package core

// RAVLoop is the periodic state machine of spec.md §4.D:
// Idle -> Sampling -> Aggregating -> Persisting -> Idle, with a terminal
// Redeemed per RAV. Each tick runs on a ticker, the same idiom the teacher
// uses for its health-check and autonomous-rule loops.

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// LoopState names the four states the RAV loop's tick moves through.
type LoopState string

const (
	StateIdle        LoopState = "idle"
	StateSampling    LoopState = "sampling"
	StateAggregating LoopState = "aggregating"
	StatePersisting  LoopState = "persisting"
)

// Redeemer hands a ready RAV (last && final && !redeemed) to the on-chain
// redemption collaborator. It is an out-of-core dependency (spec.md §1).
type Redeemer interface {
	Redeem(ctx context.Context, rav SignedRAV) error
}

type quarantineEntry struct {
	reason string
	at     time.Time
}

// RAVLoop owns eligibility sampling, bounded-parallel aggregation, and
// persistence for all allocations under one protocol network.
type RAVLoop struct {
	store      *Store
	summary    *AllocationSummaryStore
	aggregator *AggregatorClient
	redeemer   Redeemer
	log        *logrus.Logger

	network          ProtocolNetwork
	indexer          Address
	threshold        *big.Int
	finalEpochWindow uint64
	maxBatchSize     int
	concurrency      int
	currentEpoch     func() uint64

	mu          sync.Mutex
	quarantined map[Hash]quarantineEntry
	state       LoopState

	stop chan struct{}
	wg   sync.WaitGroup
}

// RAVLoopConfig bundles the tunables of spec.md §4.D.
type RAVLoopConfig struct {
	Network          ProtocolNetwork
	Indexer          Address
	Threshold        *big.Int
	FinalEpochWindow uint64
	MaxBatchSize     int
	Concurrency      int
	CurrentEpoch     func() uint64
}

func NewRAVLoop(store *Store, summary *AllocationSummaryStore, aggregator *AggregatorClient, redeemer Redeemer, cfg RAVLoopConfig, log *logrus.Logger) *RAVLoop {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 1000
	}
	return &RAVLoop{
		store:            store,
		summary:          summary,
		aggregator:       aggregator,
		redeemer:         redeemer,
		log:              log,
		network:          cfg.Network,
		indexer:          cfg.Indexer,
		threshold:        cfg.Threshold,
		finalEpochWindow: cfg.FinalEpochWindow,
		maxBatchSize:     cfg.MaxBatchSize,
		concurrency:      cfg.Concurrency,
		currentEpoch:     cfg.CurrentEpoch,
		quarantined:      make(map[Hash]quarantineEntry),
		state:            StateIdle,
		stop:             make(chan struct{}),
	}
}

// Run ticks every period until ctx is canceled. If a tick cannot finish
// within the period, the next tick is skipped rather than overlapped
// (spec.md §5).
func (l *RAVLoop) Run(ctx context.Context, period time.Duration) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		var inFlight sync.Mutex
		for {
			select {
			case <-ticker.C:
				if !inFlight.TryLock() {
					l.log.Warn("rav loop tick skipped: previous tick still running")
					continue
				}
				go func() {
					defer inFlight.Unlock()
					if err := l.Tick(ctx); err != nil {
						l.log.WithError(err).Error("rav loop tick failed")
					}
				}()
			case <-ctx.Done():
				return
			case <-l.stop:
				return
			}
		}
	}()
}

func (l *RAVLoop) Stop() {
	close(l.stop)
	l.wg.Wait()
}

// Unquarantine clears a previously-quarantined allocation (spec.md §7:
// "quarantined from the RAV loop until an operator re-enables it").
func (l *RAVLoop) Unquarantine(allocationID Hash) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.quarantined, allocationID)
}

// Quarantined reports the currently quarantined allocations and their reasons.
func (l *RAVLoop) Quarantined() map[Hash]string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[Hash]string, len(l.quarantined))
	for id, e := range l.quarantined {
		out[id] = e.reason
	}
	return out
}

func (l *RAVLoop) setQuarantined(id Hash, reason string) {
	l.mu.Lock()
	l.quarantined[id] = quarantineEntry{reason: reason, at: time.Now()}
	l.mu.Unlock()
}

func (l *RAVLoop) isQuarantined(id Hash) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.quarantined[id]
	return ok
}

// Tick runs one Sample -> Aggregate -> Persist -> Redeem pass.
func (l *RAVLoop) Tick(ctx context.Context) error {
	l.setState(StateSampling)
	eligible, err := l.sample(ctx)
	if err != nil {
		return err
	}

	l.setState(StateAggregating)
	results := l.aggregateAll(ctx, eligible)

	l.setState(StatePersisting)
	for _, res := range results {
		if res.err != nil {
			l.log.WithError(res.err).WithField("allocation", res.allocationID.Hex()).Warn("rav aggregation failed")
			if IsKind(res.err, KindFatal) {
				l.setQuarantined(res.allocationID, res.err.Error())
			}
			continue
		}
		if err := l.persist(ctx, res); err != nil {
			l.log.WithError(err).WithField("allocation", res.allocationID.Hex()).Error("rav persist failed")
			continue
		}
		if res.rav.Last && res.rav.Final && l.redeemer != nil {
			rav := res.rav
			redeem := func() error { return l.redeemer.Redeem(ctx, rav) }
			bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
			if err := backoff.Retry(redeem, bo); err != nil {
				l.log.WithError(err).WithField("allocation", res.allocationID.Hex()).Warn("redemption failed after retries")
			}
		}
	}

	l.setState(StateIdle)
	return nil
}

func (l *RAVLoop) setState(s LoopState) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// State reports the loop's current state, for operator inspection.
func (l *RAVLoop) State() LoopState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

type eligibleAllocation struct {
	allocationID Hash
	senderAddr   Address
	forceFinal   bool
}

// sample loads allocations eligible for aggregation per spec.md §4.D.1:
// Active with unaggregated value over threshold, or just-Closed within the
// final epoch window.
func (l *RAVLoop) sample(ctx context.Context) ([]eligibleAllocation, error) {
	const query = `
		SELECT a.allocation_id, a.status, a.closed_at_epoch,
		       COALESCE(r.unagg, 0) AS unagg
		FROM allocations a
		LEFT JOIN (
			SELECT rc.allocation_id, SUM(rc.value) AS unagg
			FROM receipts rc
			LEFT JOIN ravs rv ON rv.allocation_id = rc.allocation_id
			WHERE rc.timestamp_ns > COALESCE(rv.timestamp_ns, 0)
			GROUP BY rc.allocation_id
		) r ON r.allocation_id = a.allocation_id
		WHERE a.protocol_network = $1 AND a.indexer = $2`
	rows, err := l.store.Pool.Query(ctx, query, string(l.network), l.indexer.Hex())
	if err != nil {
		return nil, TransientError("sample eligible allocations", err)
	}
	defer rows.Close()

	var out []eligibleAllocation
	for rows.Next() {
		var (
			idHex        string
			status       string
			closedEpoch  *int64
			unaggregated string
		)
		if err := rows.Scan(&idHex, &status, &closedEpoch, &unaggregated); err != nil {
			return nil, TransientError("scan eligible allocation", err)
		}
		id, err := ParseHash(idHex)
		if err != nil {
			continue
		}
		if l.isQuarantined(id) {
			continue
		}

		forceFinal := status == string(AllocationClosed) && closedEpoch != nil &&
			l.currentEpoch != nil && l.currentEpoch() <= uint64(*closedEpoch)+l.finalEpochWindow

		unagg := new(big.Int)
		unagg.SetString(unaggregated, 10)

		if forceFinal || (status == string(AllocationActive) && unagg.Cmp(l.threshold) > 0) {
			out = append(out, eligibleAllocation{allocationID: id, forceFinal: forceFinal})
		}
	}
	return out, rows.Err()
}

type aggregateResult struct {
	allocationID  Hash
	rav           SignedRAV
	previousValue *big.Int
	forceFinal    bool
	err           error
}

// aggregateAll runs aggregation for each eligible allocation on a bounded
// worker pool (the teacher's fan-out idiom in core/autonomous_agent_node.go
// / core/distributed_network_coordination.go, generalized here to a
// semaphore + WaitGroup rather than a fixed rule set).
func (l *RAVLoop) aggregateAll(ctx context.Context, eligible []eligibleAllocation) []aggregateResult {
	results := make([]aggregateResult, len(eligible))
	sem := make(chan struct{}, l.concurrency)
	var wg sync.WaitGroup
	for i, ea := range eligible {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, ea eligibleAllocation) {
			defer wg.Done()
			defer func() { <-sem }()
			rav, previousValue, err := l.aggregateOne(ctx, ea)
			results[i] = aggregateResult{allocationID: ea.allocationID, rav: rav, previousValue: previousValue, forceFinal: ea.forceFinal, err: err}
		}(i, ea)
	}
	wg.Wait()
	return results
}

func (l *RAVLoop) aggregateOne(ctx context.Context, ea eligibleAllocation) (SignedRAV, *big.Int, error) {
	previous, err := l.loadPreviousRAV(ctx, ea.allocationID)
	if err != nil {
		return SignedRAV{}, nil, err
	}
	previousValue := new(big.Int)
	if previous != nil {
		previousValue.Set(previous.ValueAggregate)
	}

	receipts, err := l.loadReceiptsSince(ctx, ea.allocationID, previousTimestamp(previous))
	if err != nil {
		return SignedRAV{}, nil, err
	}
	if len(receipts) == 0 && !ea.forceFinal {
		return SignedRAV{}, nil, PreconditionError("no_new_receipts", "no new receipts since previous RAV")
	}

	if len(receipts) > l.maxBatchSize {
		receipts = receipts[:l.maxBatchSize]
	}

	rav, err := l.aggregator.Aggregate(ctx, ea.allocationID, previous, receipts)
	if err != nil {
		return SignedRAV{}, nil, err
	}
	rav.ProtocolNetwork = l.network
	if ea.forceFinal {
		rav.Last = true
		rav.Final = true
	}
	return rav, previousValue, nil
}

// collectedFeesDelta is the Σ value just subsumed into a new RAV: the RAV's
// cumulative valueAggregate minus whatever the previous RAV already
// accounted for (zero if there was no previous RAV). AddCollectedFees must
// only ever see this delta, never the raw cumulative value, or S1 drifts
// upward on every tick.
func collectedFeesDelta(current, previous *big.Int) *big.Int {
	if previous == nil {
		previous = new(big.Int)
	}
	return new(big.Int).Sub(current, previous)
}

func previousTimestamp(p *SignedRAV) uint64 {
	if p == nil {
		return 0
	}
	return p.TimestampNs
}

func (l *RAVLoop) loadPreviousRAV(ctx context.Context, allocationID Hash) (*SignedRAV, error) {
	const q = `SELECT sender_address, timestamp_ns, value_aggregate, signature, is_last, is_final
		FROM ravs WHERE allocation_id = $1`
	row := l.store.Pool.QueryRow(ctx, q, allocationID.Hex())
	var (
		senderHex      string
		ts             uint64
		valueAgg       string
		sigBytes       []byte
		last, final    bool
	)
	if err := row.Scan(&senderHex, &ts, &valueAgg, &sigBytes, &last, &final); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, TransientError("load previous rav", err)
	}
	sender, err := ParseAddress(senderHex)
	if err != nil {
		return nil, FatalError("stored rav has malformed sender", err)
	}
	value, ok := new(big.Int).SetString(valueAgg, 10)
	if !ok {
		return nil, FatalError("stored rav has malformed valueAggregate", nil)
	}
	var sig [65]byte
	copy(sig[:], sigBytes)
	return &SignedRAV{
		AllocationID:   allocationID,
		SenderAddress:  sender,
		TimestampNs:    ts,
		ValueAggregate: value,
		Signature:      sig,
		Last:           last,
		Final:          final,
	}, nil
}

func (l *RAVLoop) loadReceiptsSince(ctx context.Context, allocationID Hash, sinceNs uint64) ([]Receipt, error) {
	const q = `SELECT signer_address, id, fees, signature, timestamp_ns, nonce, value, protocol_network
		FROM receipts WHERE allocation_id = $1 AND timestamp_ns > $2 ORDER BY timestamp_ns ASC`
	rows, err := l.store.Pool.Query(ctx, q, allocationID.Hex(), sinceNs)
	if err != nil {
		return nil, TransientError("load receipts since", err)
	}
	defer rows.Close()

	var out []Receipt
	for rows.Next() {
		var (
			signerHex string
			id        uint64
			fees      string
			sig       []byte
			ts        uint64
			nonce     uint64
			value     string
			network   string
		)
		if err := rows.Scan(&signerHex, &id, &fees, &sig, &ts, &nonce, &value, &network); err != nil {
			return nil, TransientError("scan receipt", err)
		}
		signer, err := ParseAddress(signerHex)
		if err != nil {
			continue
		}
		feesBig, _ := new(big.Int).SetString(fees, 10)
		valueBig, _ := new(big.Int).SetString(value, 10)
		var s [65]byte
		copy(s[:], sig)
		out = append(out, Receipt{
			AllocationID: allocationID, SignerAddress: signer, ID: id,
			Fees: feesBig, Signature: s, TimestampNs: ts, Nonce: nonce,
			Value: valueBig, ProtocolNetwork: ProtocolNetwork(network),
		})
	}
	return out, rows.Err()
}

// persist upserts the new RAV and updates the allocation summary in one
// transaction (spec.md §4.D.3). Receipts are retained; nothing in this
// module deletes them (see DESIGN.md's Open Question resolution).
func (l *RAVLoop) persist(ctx context.Context, res aggregateResult) error {
	tx, err := l.store.BeginRepeatableRead(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := l.summary.EnsureSummary(ctx, tx, res.allocationID, l.network); err != nil {
		return err
	}

	const upsert = `
		INSERT INTO ravs (allocation_id, sender_address, timestamp_ns, value_aggregate, signature, is_last, is_final, protocol_network)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (allocation_id, sender_address) DO UPDATE SET
			timestamp_ns = EXCLUDED.timestamp_ns,
			value_aggregate = EXCLUDED.value_aggregate,
			signature = EXCLUDED.signature,
			is_last = EXCLUDED.is_last,
			is_final = EXCLUDED.is_final
		WHERE ravs.is_final = false`
	tag, err := tx.Exec(ctx, upsert, res.allocationID.Hex(), res.rav.SenderAddress.Hex(), res.rav.TimestampNs,
		res.rav.ValueAggregate.String(), res.rav.Signature[:], res.rav.Last, res.rav.Final, string(l.network))
	if err != nil {
		return FatalError("upsert rav", err)
	}
	if tag.RowsAffected() == 0 {
		return PreconditionError("rav_already_final", "a final RAV already exists for this key (V2)")
	}

	delta := collectedFeesDelta(res.rav.ValueAggregate, res.previousValue)
	if err := l.summary.AddCollectedFees(ctx, tx, res.allocationID, l.network, delta); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return FatalError("commit rav persist", err)
	}
	return nil
}
