package core

import (
	"math/big"
	"strings"
)

// ProtocolNetwork is a CAIP-2 chain identifier, e.g. "eip155:1". Input may be
// given as a human chain name or already-CAIP-2 form; output is always CAIP-2
// (spec.md §6).
type ProtocolNetwork string

// caip2ByName is the seed alias table for human chain names the indexer
// ecosystem commonly targets.
var caip2ByName = map[string]ProtocolNetwork{
	"mainnet":      "eip155:1",
	"goerli":       "eip155:5",
	"sepolia":      "eip155:11155111",
	"arbitrum-one": "eip155:42161",
	"matic":        "eip155:137",
	"gnosis":       "eip155:100",
}

// Normalize resolves a human chain name or CAIP-2 string into canonical
// CAIP-2 form. Unknown names that are not already CAIP-2-shaped are rejected.
func Normalize(network string) (ProtocolNetwork, error) {
	n := strings.TrimSpace(strings.ToLower(network))
	if n == "" {
		return "", SchemaError("protocol_network", "protocolNetwork must not be empty")
	}
	if strings.Contains(n, ":") {
		parts := strings.SplitN(n, ":", 2)
		if parts[0] == "" || parts[1] == "" {
			return "", SchemaError("protocol_network", "malformed CAIP-2 identifier: "+network)
		}
		return ProtocolNetwork(n), nil
	}
	if caip2, ok := caip2ByName[n]; ok {
		return caip2, nil
	}
	return "", SchemaError("protocol_network", "unrecognized protocol network: "+network)
}

// String satisfies fmt.Stringer.
func (p ProtocolNetwork) String() string { return string(p) }

// ChainID extracts the numeric chain id from a CAIP-2 eip155 network,
// needed by the EIP-712 domain separator (spec.md §6).
func (p ProtocolNetwork) ChainID() (*big.Int, error) {
	parts := strings.SplitN(string(p), ":", 2)
	if len(parts) != 2 || parts[0] != "eip155" {
		return nil, SchemaError("protocol_network", "not an eip155 CAIP-2 identifier: "+string(p))
	}
	id, ok := new(big.Int).SetString(parts[1], 10)
	if !ok {
		return nil, SchemaError("protocol_network", "malformed chain id in: "+string(p))
	}
	return id, nil
}
