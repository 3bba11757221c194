package suite

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/palaseus/gillean/internal/api"
	"github.com/palaseus/gillean/internal/verify"
)

// Well-known fleet addresses. The genesis address is pre-funded by the
// node; the others exist only as transfer targets.
const (
	GenesisAddress = "genesis"
	MinerAddress   = "miner_address_12345"
	AliceAddress   = "alice_address_67890"
	BobAddress     = "bob_address_11111"
	CharlieAddress = "charlie_address_22222"
)

// ContinuousCases is the subset re-run on every continuous-mode tick.
var ContinuousCases = []string{
	"health_burst",
	"chain_integrity",
	"cross_node_sync",
	"block_mining",
}

// Builtin returns a registry holding the full built-in suite.
func Builtin() *Registry {
	r := NewRegistry()
	r.MustRegister(Case{Name: "genesis_block", Run: runGenesisBlock})
	r.MustRegister(Case{Name: "transaction_validation", Run: runTransactionValidation})
	r.MustRegister(Case{Name: "block_mining", Run: runBlockMining})
	r.MustRegister(Case{Name: "chain_immutability", Run: runChainImmutability})
	r.MustRegister(Case{Name: "chain_integrity", Run: runChainIntegrity})
	r.MustRegister(Case{Name: "transaction_lifecycle", Run: runTransactionLifecycle})
	r.MustRegister(Case{Name: "cross_node_sync", Run: runCrossNodeSync})
	r.MustRegister(Case{Name: "concurrent_transactions", Run: runConcurrentTransactions})
	r.MustRegister(Case{Name: "load_burst", Run: runLoadBurst})
	r.MustRegister(Case{Name: "health_burst", Run: runHealthBurst})
	r.MustRegister(Case{Name: "balance_query", Run: runBalanceQuery})
	r.MustRegister(Case{Name: "security_negative_amount", Run: runSecurityNegativeAmount})
	r.MustRegister(Case{Name: "api_surface", Run: runAPISurface})
	r.MustRegister(Case{Name: "metrics_endpoint", Run: probeOptional("metrics", (*api.Client).Metrics)})
	r.MustRegister(Case{Name: "peers_endpoint", Run: probeOptional("peers", (*api.Client).Peers)})
	return r
}

// runGenesisBlock checks the first block of the primary node's chain.
func runGenesisBlock(ctx context.Context, env *Env) (Outcome, string, error) {
	view, out := env.Primary().Chain(ctx)
	if !out.Accepted() {
		return OutcomeFailed, "", fmt.Errorf("chain unreadable: %s", out.Reason)
	}
	if len(view.Blocks) == 0 {
		return OutcomeFailed, "chain has no genesis block", nil
	}

	res := verify.GenesisBlock(view.Blocks[0])
	if !res.OK() {
		return OutcomeFailed, res.Summary(), nil
	}
	return OutcomePassed, res.Summary(), nil
}

// runTransactionValidation seeds three transfers from the genesis address
// and expects the node to reach a decision on each, accepting at least one.
func runTransactionValidation(ctx context.Context, env *Env) (Outcome, string, error) {
	transfers := []api.TransactionRequest{
		{Sender: GenesisAddress, Receiver: AliceAddress, Amount: 100, Message: "seed transfer"},
		{Sender: GenesisAddress, Receiver: BobAddress, Amount: 50, Message: "seed transfer"},
		{Sender: GenesisAddress, Receiver: CharlieAddress, Amount: 25, Message: "seed transfer"},
	}

	accepted, rejected := 0, 0
	for _, tx := range transfers {
		out := env.Primary().SubmitTransaction(ctx, tx)
		switch {
		case out.Accepted():
			accepted++
		case out.Rejected():
			rejected++
		case out.NotImplemented():
			return OutcomeNotImplemented, "transaction endpoint not implemented", nil
		default:
			return OutcomeFailed, "", fmt.Errorf("node unreachable during submit: %s", out.Reason)
		}
	}

	detail := fmt.Sprintf("%d accepted, %d rejected of %d transfers", accepted, rejected, len(transfers))
	if accepted == 0 {
		return OutcomeFailed, detail, nil
	}
	return OutcomePassed, detail, nil
}

// runBlockMining seeds a transfer, requests block production, and checks
// the chain did not shrink. A rejection on an empty mempool is retried
// once after seeding.
func runBlockMining(ctx context.Context, env *Env) (Outcome, string, error) {
	client := env.Primary()
	before := env.Snapshots.Capture(ctx, client)

	block, out := client.Mine(ctx, MinerAddress)
	if out.Rejected() {
		// Likely an empty mempool; seed one transfer and retry.
		if seed := client.SubmitTransaction(ctx, api.TransactionRequest{
			Sender: GenesisAddress, Receiver: MinerAddress, Amount: 1, Message: "mining seed",
		}); !seed.Reachable() {
			return OutcomeFailed, "", fmt.Errorf("node unreachable while seeding: %s", seed.Reason)
		}
		block, out = client.Mine(ctx, MinerAddress)
	}

	switch {
	case out.NotImplemented():
		return OutcomeNotImplemented, "mine endpoint not implemented", nil
	case !out.Reachable():
		return OutcomeFailed, "", fmt.Errorf("node unreachable during mine: %s", out.Reason)
	case out.Rejected():
		return OutcomeFailed, fmt.Sprintf("mining rejected twice: %s", out.Reason), nil
	}

	after := env.Snapshots.Capture(ctx, client)
	if after.Valid && before.Valid && after.BlockCount < before.BlockCount {
		return OutcomeFailed, fmt.Sprintf("chain shrank from %d to %d blocks", before.BlockCount, after.BlockCount), nil
	}

	detail := fmt.Sprintf("chain grew %d -> %d blocks", before.BlockCount, after.BlockCount)
	if block != nil {
		res := verify.BlockIntegrity(*block)
		if !res.OK() {
			return OutcomeFailed, "mined block invalid: " + res.Summary(), nil
		}
		detail += fmt.Sprintf(", mined block %d", block.Index)
	}
	return OutcomePassed, detail, nil
}

// runChainImmutability takes snapshots around a write and judges the
// count/hash relation between them.
func runChainImmutability(ctx context.Context, env *Env) (Outcome, string, error) {
	client := env.Primary()

	before := env.Snapshots.Capture(ctx, client)
	if !before.Valid {
		return OutcomeFailed, "could not capture baseline snapshot", nil
	}

	// Best-effort write between the snapshots; a rejection still leaves
	// a meaningful stable-chain comparison.
	client.SubmitTransaction(ctx, api.TransactionRequest{
		Sender: GenesisAddress, Receiver: AliceAddress, Amount: 2, Message: "immutability probe",
	})
	client.Mine(ctx, MinerAddress)

	after := env.Snapshots.Capture(ctx, client)
	res := verify.Immutability(before, after)
	if !res.OK() {
		return OutcomeFailed, res.Summary(), nil
	}
	return OutcomePassed, fmt.Sprintf("blocks %d -> %d, %s", before.BlockCount, after.BlockCount, res.Summary()), nil
}

// runChainIntegrity verifies every block and every link of the primary
// node's chain.
func runChainIntegrity(ctx context.Context, env *Env) (Outcome, string, error) {
	view, out := env.Primary().Chain(ctx)
	if !out.Accepted() {
		return OutcomeFailed, "", fmt.Errorf("chain unreadable: %s", out.Reason)
	}

	res := env.ChainIntegrity(view.Blocks)
	if !res.OK() {
		return OutcomeFailed, res.Summary(), nil
	}
	return OutcomePassed, fmt.Sprintf("%d blocks verified, %s", len(view.Blocks), res.Summary()), nil
}

// runTransactionLifecycle follows one transfer from submission through
// mining into the chain.
func runTransactionLifecycle(ctx context.Context, env *Env) (Outcome, string, error) {
	client := env.Primary()
	before := env.Snapshots.Capture(ctx, client)

	submit := client.SubmitTransaction(ctx, api.TransactionRequest{
		Sender: GenesisAddress, Receiver: BobAddress, Amount: 5, Message: "lifecycle probe",
	})
	switch {
	case submit.NotImplemented():
		return OutcomeNotImplemented, "transaction endpoint not implemented", nil
	case !submit.Reachable():
		return OutcomeFailed, "", fmt.Errorf("node unreachable during submit: %s", submit.Reason)
	case submit.Rejected():
		return OutcomeFailed, fmt.Sprintf("valid transfer rejected: %s", submit.Reason), nil
	}

	inMempool := false
	if pending, out := client.Pending(ctx); out.Accepted() {
		for _, tx := range pending {
			if tx.Sender == GenesisAddress && tx.Receiver == BobAddress && tx.Amount == 5 {
				inMempool = true
				break
			}
		}
	}

	client.Mine(ctx, MinerAddress)

	after := env.Snapshots.Capture(ctx, client)
	if !after.Valid {
		return OutcomeFailed, "chain unreadable after mining", nil
	}
	if before.Valid && after.TotalTransactions < before.TotalTransactions {
		return OutcomeFailed, fmt.Sprintf("transaction count fell %d -> %d", before.TotalTransactions, after.TotalTransactions), nil
	}

	return OutcomePassed, fmt.Sprintf("seen in mempool=%v, transactions %d -> %d",
		inMempool, before.TotalTransactions, after.TotalTransactions), nil
}

// runCrossNodeSync snapshots the whole fleet and judges reachability and
// counter sanity. Hash agreement is not required across heterogeneous
// consensus configurations.
func runCrossNodeSync(ctx context.Context, env *Env) (Outcome, string, error) {
	snaps := env.Snapshots.CaptureAll(ctx, env.Clients)
	res := verify.CrossNodeSync(snaps)
	if !res.OK() {
		return OutcomeFailed, res.Summary(), nil
	}
	return OutcomePassed, fmt.Sprintf("%d nodes readable", len(snaps)), nil
}

// submitBurst fires n concurrent transfers at the primary node and counts
// how many reached a decision (accepted or rejected).
func submitBurst(ctx context.Context, env *Env, n int, tag string) (decided, accepted int64) {
	var decidedCount, acceptedCount atomic.Int64

	g := new(errgroup.Group)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			out := env.Primary().SubmitTransaction(ctx, api.TransactionRequest{
				Sender:   GenesisAddress,
				Receiver: AliceAddress,
				Amount:   float64(i + 1),
				Message:  fmt.Sprintf("%s %d", tag, i),
			})
			if out.Reachable() {
				decidedCount.Add(1)
			}
			if out.Accepted() {
				acceptedCount.Add(1)
			}
			return nil
		})
	}
	g.Wait()
	return decidedCount.Load(), acceptedCount.Load()
}

// runConcurrentTransactions fires 5 parallel transfers; at least 4 must
// reach a decision.
func runConcurrentTransactions(ctx context.Context, env *Env) (Outcome, string, error) {
	decided, accepted := submitBurst(ctx, env, 5, "concurrent")
	detail := fmt.Sprintf("%d/5 decided, %d accepted", decided, accepted)
	if decided < 4 {
		return OutcomeFailed, detail, nil
	}
	return OutcomePassed, detail, nil
}

// runLoadBurst fires 10 parallel transfers; at least 8 must reach a
// decision.
func runLoadBurst(ctx context.Context, env *Env) (Outcome, string, error) {
	decided, accepted := submitBurst(ctx, env, 10, "load")
	detail := fmt.Sprintf("%d/10 decided, %d accepted", decided, accepted)
	if decided < 8 {
		return OutcomeFailed, detail, nil
	}
	return OutcomePassed, detail, nil
}

// runHealthBurst fires 20 parallel health probes round-robin across the
// fleet; at least 16 must answer.
func runHealthBurst(ctx context.Context, env *Env) (Outcome, string, error) {
	const probes = 20
	var reachable atomic.Int64

	g := new(errgroup.Group)
	for i := 0; i < probes; i++ {
		client := env.Clients[i%len(env.Clients)]
		g.Go(func() error {
			if out := client.Health(ctx); out.Reachable() {
				reachable.Add(1)
			}
			return nil
		})
	}
	g.Wait()

	detail := fmt.Sprintf("%d/%d probes answered", reachable.Load(), probes)
	if reachable.Load() < 16 {
		return OutcomeFailed, detail, nil
	}
	return OutcomePassed, detail, nil
}

// runBalanceQuery reads balances for the well-known addresses.
func runBalanceQuery(ctx context.Context, env *Env) (Outcome, string, error) {
	addresses := []string{GenesisAddress, AliceAddress, MinerAddress}
	answered := 0
	for _, addr := range addresses {
		view, out := env.Primary().Balance(ctx, addr)
		switch {
		case out.NotImplemented():
			return OutcomeNotImplemented, "balance endpoint not implemented", nil
		case !out.Reachable():
			return OutcomeFailed, "", fmt.Errorf("node unreachable querying %s: %s", addr, out.Reason)
		case out.Accepted():
			answered++
			if view.Balance < 0 {
				return OutcomeFailed, fmt.Sprintf("address %s has negative balance %f", addr, view.Balance), nil
			}
		}
	}
	return OutcomePassed, fmt.Sprintf("%d/%d balances answered", answered, len(addresses)), nil
}

// runSecurityNegativeAmount verifies the node rejects an obviously
// invalid transfer instead of accepting it.
func runSecurityNegativeAmount(ctx context.Context, env *Env) (Outcome, string, error) {
	out := env.Primary().SubmitTransaction(ctx, api.TransactionRequest{
		Sender: AliceAddress, Receiver: BobAddress, Amount: -10, Message: "should be rejected",
	})
	switch {
	case out.NotImplemented():
		return OutcomeNotImplemented, "transaction endpoint not implemented", nil
	case out.Accepted():
		return OutcomeFailed, "node accepted a negative-amount transfer", nil
	case out.Rejected():
		return OutcomePassed, fmt.Sprintf("rejected: %s", out.Reason), nil
	default:
		return OutcomeFailed, "", fmt.Errorf("node unreachable: %s", out.Reason)
	}
}

// runAPISurface probes the four core read surfaces; at least three must
// answer.
func runAPISurface(ctx context.Context, env *Env) (Outcome, string, error) {
	client := env.Primary()
	probes := []struct {
		name string
		call func() api.Outcome
	}{
		{"health", func() api.Outcome { return client.Health(ctx) }},
		{"chain", func() api.Outcome { _, out := client.Chain(ctx); return out }},
		{"pending", func() api.Outcome { _, out := client.Pending(ctx); return out }},
		{"balance", func() api.Outcome { _, out := client.Balance(ctx, GenesisAddress); return out }},
	}

	answered := 0
	missing := []string{}
	for _, p := range probes {
		if p.call().Reachable() {
			answered++
		} else {
			missing = append(missing, p.name)
		}
	}

	detail := fmt.Sprintf("%d/%d surfaces answered", answered, len(probes))
	if len(missing) > 0 {
		detail += fmt.Sprintf(" (silent: %v)", missing)
	}
	if answered < 3 {
		return OutcomeFailed, detail, nil
	}
	return OutcomePassed, detail, nil
}

// probeOptional builds a case for a surface the node may not expose.
func probeOptional(name string, call func(*api.Client, context.Context) api.Outcome) RunFunc {
	return func(ctx context.Context, env *Env) (Outcome, string, error) {
		out := call(env.Primary(), ctx)
		switch {
		case out.NotImplemented():
			return OutcomeNotImplemented, fmt.Sprintf("%s endpoint not implemented", name), nil
		case out.Accepted():
			return OutcomePassed, fmt.Sprintf("%s endpoint answered", name), nil
		case out.Rejected():
			return OutcomeFailed, fmt.Sprintf("%s endpoint rejected the probe: %s", name, out.Reason), nil
		default:
			return OutcomeFailed, "", fmt.Errorf("node unreachable probing %s: %s", name, out.Reason)
		}
	}
}
