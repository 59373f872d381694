package core

// AggregatorClient calls the external RAV aggregator service (spec.md §4.C).

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type aggregatorReceipt struct {
	AllocationID string `json:"allocationId"`
	TimestampNs  uint64 `json:"timestampNs"`
	Value        string `json:"value"`
	Fees         string `json:"fees"`
	ID           uint64 `json:"id"`
	Signature    string `json:"signature"`
}

type aggregatorRAV struct {
	AllocationID   string `json:"allocationId"`
	TimestampNs    uint64 `json:"timestampNs"`
	ValueAggregate string `json:"valueAggregate"`
	Signature      string `json:"signature"`
}

type aggregatorRequest struct {
	PreviousRAV *aggregatorRAV      `json:"previousRav,omitempty"`
	Receipts    []aggregatorReceipt `json:"receipts"`
}

// AggregatorClient turns a receipt batch plus a prior RAV into a new signed
// RAV via an external aggregator endpoint.
type AggregatorClient struct {
	endpoint      string
	senderAddress Address
	domain        eip712Domain
	httpClient    *http.Client
	maxRetries    uint64
}

func NewAggregatorClient(endpoint string, senderAddress Address, domain eip712Domain, timeout time.Duration, maxRetries uint64) *AggregatorClient {
	return &AggregatorClient{
		endpoint:      endpoint,
		senderAddress: senderAddress,
		domain:        domain,
		httpClient:    &http.Client{Timeout: timeout},
		maxRetries:    maxRetries,
	}
}

// Aggregate sends receipts (already sorted by timestamp ascending) plus an
// optional previous RAV, and returns the aggregator's new signed RAV.
//
// receipts must be contiguous with previous.TimestampNs (no receipt may have
// timestampNs <= previous.TimestampNs), and the response must satisfy
// valueAggregate >= previous.ValueAggregate and
// valueAggregate == previous.ValueAggregate + sum(receipts.value), per
// spec.md §4.C.
func (c *AggregatorClient) Aggregate(ctx context.Context, allocationID Hash, previous *SignedRAV, receipts []Receipt) (SignedRAV, error) {
	sorted := append([]Receipt(nil), receipts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].TimestampNs < sorted[j].TimestampNs })

	expectedSum := new(big.Int)
	if previous != nil {
		expectedSum.Set(previous.ValueAggregate)
		for _, r := range sorted {
			if r.TimestampNs <= previous.TimestampNs {
				return SignedRAV{}, PreconditionError("receipt_not_contiguous",
					fmt.Sprintf("receipt id %d has timestampNs %d <= previousRav timestampNs %d", r.ID, r.TimestampNs, previous.TimestampNs))
			}
		}
	}
	for _, r := range sorted {
		expectedSum.Add(expectedSum, valueOrZeroBig(r.Value))
	}

	req := aggregatorRequest{Receipts: make([]aggregatorReceipt, len(sorted))}
	if previous != nil {
		req.PreviousRAV = &aggregatorRAV{
			AllocationID:   previous.AllocationID.Hex(),
			TimestampNs:    previous.TimestampNs,
			ValueAggregate: previous.ValueAggregate.String(),
			Signature:      encodeSig(previous.Signature),
		}
	}
	for i, r := range sorted {
		req.Receipts[i] = aggregatorReceipt{
			AllocationID: r.AllocationID.Hex(),
			TimestampNs:  r.TimestampNs,
			Value:        valueOrZeroBig(r.Value).String(),
			Fees:         r.Fees.String(),
			ID:           r.ID,
			Signature:    encodeSig(r.Signature),
		}
	}

	var resp aggregatorRAV
	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries)
	err := backoff.Retry(func() error {
		r, err := c.call(ctx, req)
		if err != nil {
			if IsKind(err, KindTransient) {
				return err
			}
			return backoff.Permanent(err)
		}
		resp = r
		return nil
	}, bo)
	if err != nil {
		return SignedRAV{}, err
	}

	newValue, ok := new(big.Int).SetString(resp.ValueAggregate, 10)
	if !ok {
		return SignedRAV{}, FatalError("aggregator returned malformed valueAggregate", nil)
	}
	if previous != nil && newValue.Cmp(previous.ValueAggregate) < 0 {
		return SignedRAV{}, FatalError("aggregator violated V1 monotonicity", nil)
	}
	if newValue.Cmp(expectedSum) != 0 {
		return SignedRAV{}, FatalError(fmt.Sprintf("aggregator valueAggregate %s != expected %s", newValue, expectedSum), nil)
	}

	sig, err := decodeSig(resp.Signature)
	if err != nil {
		return SignedRAV{}, FatalError("aggregator returned malformed signature", err)
	}
	digest := RAVDigest(c.domain, allocationID, resp.TimestampNs, newValue)
	if err := VerifyECDSASignature(digest, sig, c.senderAddress); err != nil {
		return SignedRAV{}, FatalError("aggregator RAV signature does not verify", err)
	}

	return SignedRAV{
		AllocationID:   allocationID,
		SenderAddress:  c.senderAddress,
		TimestampNs:    resp.TimestampNs,
		ValueAggregate: newValue,
		Signature:      sig,
	}, nil
}

func (c *AggregatorClient) call(ctx context.Context, req aggregatorRequest) (aggregatorRAV, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return aggregatorRAV{}, FatalError("marshal aggregator request", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return aggregatorRAV{}, FatalError("build aggregator request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return aggregatorRAV{}, TransientError("aggregator unavailable", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return aggregatorRAV{}, TransientError("read aggregator response", err)
	}
	if resp.StatusCode >= 500 {
		return aggregatorRAV{}, TransientError(fmt.Sprintf("aggregator returned %d", resp.StatusCode), nil)
	}
	if resp.StatusCode >= 400 {
		return aggregatorRAV{}, FatalError(fmt.Sprintf("aggregator rejected batch: %d %s", resp.StatusCode, respBody), nil)
	}

	var rav aggregatorRAV
	if err := json.Unmarshal(respBody, &rav); err != nil {
		return aggregatorRAV{}, FatalError("decode aggregator response", err)
	}
	return rav, nil
}

func valueOrZeroBig(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
