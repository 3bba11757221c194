package snapshot

import (
	"context"
	"log/slog"
	"time"

	"github.com/palaseus/gillean/internal/api"
)

// ChainSnapshot is a point-in-time reduction of one node's chain. A zero
// snapshot (Valid=false) means the node could not be read; verifiers treat
// it as unknown rather than as an empty chain.
type ChainSnapshot struct {
	NodeID            string    `json:"node_id"`
	ChainHash         string    `json:"chain_hash"`
	BlockCount        int       `json:"block_count"`
	TotalTransactions int64     `json:"total_transactions"`
	LastBlockHash     string    `json:"last_block_hash"`
	LastBlockIndex    int64     `json:"last_block_index"`
	CapturedAt        time.Time `json:"captured_at"`
	Valid             bool      `json:"valid"`
}

// Service captures chain snapshots through node API clients.
type Service struct {
	logger *slog.Logger
}

func NewService(logger *slog.Logger) *Service {
	return &Service{logger: logger.With("component", "snapshot")}
}

// Capture reduces one GET /chain response to a snapshot. A query that
// fails or returns no blocks yields an invalid snapshot instead of an
// error: a snapshot that cannot be taken is itself a data point for the
// verifiers, and an empty chain must never compare equal to another
// empty chain.
func (s *Service) Capture(ctx context.Context, client *api.Client) ChainSnapshot {
	snap := ChainSnapshot{
		NodeID:     client.NodeID(),
		CapturedAt: time.Now(),
	}

	view, out := client.Chain(ctx)
	if !out.Accepted() {
		s.logger.Debug("snapshot capture failed",
			"node", client.NodeID(),
			"status", out.Status,
			"reason", out.Reason,
		)
		return snap
	}
	if len(view.Blocks) == 0 {
		s.logger.Debug("snapshot capture found empty chain", "node", client.NodeID())
		return snap
	}

	snap.Valid = true
	snap.ChainHash = view.ChainHash
	snap.BlockCount = len(view.Blocks)
	snap.TotalTransactions = view.TotalTransactions
	last := view.Blocks[len(view.Blocks)-1]
	snap.LastBlockHash = last.Hash
	snap.LastBlockIndex = last.Index
	return snap
}

// CaptureAll snapshots every client in order. Unreachable nodes produce
// invalid snapshots; the slice always has one entry per client.
func (s *Service) CaptureAll(ctx context.Context, clients []*api.Client) []ChainSnapshot {
	snaps := make([]ChainSnapshot, len(clients))
	for i, c := range clients {
		snaps[i] = s.Capture(ctx, c)
	}
	return snaps
}
