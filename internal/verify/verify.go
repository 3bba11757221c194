package verify

import (
	"fmt"
	"strings"
	"time"

	"github.com/palaseus/gillean/internal/api"
	"github.com/palaseus/gillean/internal/metrics"
	"github.com/palaseus/gillean/internal/snapshot"
)

// GenesisPreviousHash is the well-known previous hash of block 0.
var GenesisPreviousHash = strings.Repeat("0", 64)

// TimestampTolerance is how far a block timestamp may drift from the
// harness clock before it is flagged. Drift is a warning, never a
// violation: test fleets run on machines with loose clocks.
const TimestampTolerance = time.Hour

// Violation is one broken invariant with enough detail to debug it.
type Violation struct {
	Rule       string `json:"rule"`
	BlockIndex int64  `json:"block_index"`
	Detail     string `json:"detail"`
}

// Result collects all violations and warnings from one judgment. Checks
// never short-circuit; a corrupt chain reports every broken link.
type Result struct {
	Violations []Violation `json:"violations,omitempty"`
	Warnings   []string    `json:"warnings,omitempty"`
}

func (r Result) OK() bool { return len(r.Violations) == 0 }

// Summary renders a compact single-line description for reports.
func (r Result) Summary() string {
	if r.OK() {
		if len(r.Warnings) > 0 {
			return fmt.Sprintf("ok (%d warnings)", len(r.Warnings))
		}
		return "ok"
	}
	parts := make([]string, 0, len(r.Violations))
	for _, v := range r.Violations {
		parts = append(parts, fmt.Sprintf("%s[%d]: %s", v.Rule, v.BlockIndex, v.Detail))
	}
	return strings.Join(parts, "; ")
}

func (r *Result) violate(rule string, blockIndex int64, format string, args ...any) {
	r.Violations = append(r.Violations, Violation{
		Rule:       rule,
		BlockIndex: blockIndex,
		Detail:     fmt.Sprintf(format, args...),
	})
	metrics.InvariantViolationsTotal.WithLabelValues(rule).Inc()
}

func (r *Result) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

func (r *Result) merge(other Result) {
	r.Violations = append(r.Violations, other.Violations...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

func isHexHash(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}

// BlockIntegrity judges one block on its own: hash format, index sanity,
// and timestamp plausibility.
func BlockIntegrity(b api.Block) Result {
	var r Result

	if b.Index < 0 {
		r.violate("block_index_negative", b.Index, "index %d is negative", b.Index)
	}
	if !isHexHash(b.Hash) {
		r.violate("block_hash_format", b.Index, "hash %q is not 64 hex chars", b.Hash)
	}
	if !isHexHash(b.PreviousHash) {
		r.violate("block_prev_hash_format", b.Index, "previous hash %q is not 64 hex chars", b.PreviousHash)
	}
	if b.Nonce < 0 {
		r.violate("block_nonce_negative", b.Index, "nonce %d is negative", b.Nonce)
	}

	drift := time.Since(time.Unix(int64(b.Timestamp), 0))
	if drift > TimestampTolerance || drift < -TimestampTolerance {
		r.warn("block %d timestamp drifts %s from harness clock", b.Index, drift.Round(time.Second))
	}
	return r
}

// GenesisBlock judges the chain's first block.
func GenesisBlock(b api.Block) Result {
	r := BlockIntegrity(b)
	if b.Index != 0 {
		r.violate("genesis_index", b.Index, "genesis block has index %d", b.Index)
	}
	if b.PreviousHash != GenesisPreviousHash {
		r.violate("genesis_prev_hash", b.Index, "genesis previous hash is %q", b.PreviousHash)
	}
	return r
}

// ChainLinkage judges block ordering and hash chaining across the whole
// chain, collecting every broken link.
func ChainLinkage(blocks []api.Block) Result {
	var r Result
	for i, b := range blocks {
		if b.Index != int64(i) {
			r.violate("chain_index_mismatch", b.Index, "block at position %d carries index %d", i, b.Index)
		}
		if i == 0 {
			continue
		}
		if b.PreviousHash != blocks[i-1].Hash {
			r.violate("chain_link_broken", b.Index,
				"previous hash %q does not match block %d hash %q",
				b.PreviousHash, i-1, blocks[i-1].Hash)
		}
	}
	return r
}

// ChainIntegrity combines per-block integrity with linkage, plus the
// genesis rules when the chain is non-empty.
func ChainIntegrity(blocks []api.Block) Result {
	var r Result
	if len(blocks) == 0 {
		r.violate("chain_empty", 0, "chain has no blocks, genesis expected")
		return r
	}
	r.merge(GenesisBlock(blocks[0]))
	for _, b := range blocks[1:] {
		r.merge(BlockIntegrity(b))
	}
	r.merge(ChainLinkage(blocks))
	return r
}

// Immutability compares two snapshots of the same node. Equal block counts
// must mean an identical chain hash; a grown chain must change the hash.
// Invalid snapshots degrade to a warning because no judgment is possible.
func Immutability(before, after snapshot.ChainSnapshot) Result {
	var r Result
	if !before.Valid || !after.Valid {
		r.warn("immutability check skipped: snapshot unavailable (before=%v after=%v)", before.Valid, after.Valid)
		return r
	}

	if after.BlockCount < before.BlockCount {
		r.violate("chain_shrunk", int64(after.BlockCount),
			"block count fell from %d to %d", before.BlockCount, after.BlockCount)
	}
	if before.BlockCount == after.BlockCount && before.ChainHash != after.ChainHash {
		r.violate("immutability_hash_changed", int64(after.BlockCount),
			"chain hash changed without new blocks: %q -> %q", before.ChainHash, after.ChainHash)
	}
	if before.BlockCount != after.BlockCount && before.ChainHash == after.ChainHash {
		r.violate("immutability_hash_static", int64(after.BlockCount),
			"block count changed %d -> %d but chain hash stayed %q",
			before.BlockCount, after.BlockCount, before.ChainHash)
	}
	return r
}

// CrossNodeSync judges fleet-wide health from one snapshot per node. Nodes
// run heterogeneous consensus parameters, so hash agreement is not
// required; each node must merely be readable with non-negative counters.
func CrossNodeSync(snaps []snapshot.ChainSnapshot) Result {
	var r Result
	for _, s := range snaps {
		if !s.Valid {
			r.violate("node_unreadable", 0, "node %s produced no snapshot", s.NodeID)
			continue
		}
		if s.BlockCount < 0 {
			r.violate("node_negative_block_count", 0, "node %s reports %d blocks", s.NodeID, s.BlockCount)
		}
		if s.TotalTransactions < 0 {
			r.violate("node_negative_tx_count", 0, "node %s reports %d transactions", s.NodeID, s.TotalTransactions)
		}
	}
	return r
}
