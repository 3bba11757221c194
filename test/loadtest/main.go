// Package main implements a standalone load generator for a single
// gillean node. It floods POST /transaction with synthetic transfers
// from concurrent workers, periodically requests mining, and reports
// throughput, latency percentiles, and the decision rate.
//
// Usage:
//
//	go run ./test/loadtest \
//	  -url http://127.0.0.1:3000 \
//	  -concurrency 8 \
//	  -duration 30s \
//	  -rps 200 \
//	  -mine-every 50
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/palaseus/gillean/internal/api"
	"github.com/palaseus/gillean/internal/ratelimit"
)

type stats struct {
	submitted   atomic.Int64
	accepted    atomic.Int64
	rejected    atomic.Int64
	unreachable atomic.Int64
	mined       atomic.Int64

	mu        sync.Mutex
	latencies []time.Duration
}

func (s *stats) record(d time.Duration) {
	s.mu.Lock()
	s.latencies = append(s.latencies, d)
	s.mu.Unlock()
}

func (s *stats) percentile(p float64) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.latencies) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(s.latencies))
	copy(sorted, s.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}

func main() {
	var (
		url         = flag.String("url", "http://127.0.0.1:3000", "Node API base URL")
		concurrency = flag.Int("concurrency", 8, "Number of parallel submitter workers")
		duration    = flag.Duration("duration", 30*time.Second, "Test duration")
		rps         = flag.Float64("rps", 200, "Target transactions per second across all workers")
		mineEvery   = flag.Int("mine-every", 50, "Request block production after this many submissions (0 disables)")
		timeout     = flag.Duration("timeout", 5*time.Second, "Per-request timeout")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	logger.Info("load test configuration",
		"url", *url,
		"concurrency", *concurrency,
		"duration", *duration,
		"rps", *rps,
		"mine_every", *mineEvery,
	)

	client := api.NewClient("loadtest", *url, logger,
		api.WithTimeout(*timeout),
		api.WithLimiter(ratelimit.New(*rps, *concurrency, "loadtest")),
	)

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("interrupted, stopping early", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	if out := client.Health(ctx); !out.Reachable() {
		logger.Error("node is not answering, aborting", "reason", out.Reason)
		os.Exit(1)
	}

	st := &stats{}
	start := time.Now()

	var wg sync.WaitGroup
	for w := 0; w < *concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for i := 0; ctx.Err() == nil; i++ {
				reqStart := time.Now()
				out := client.SubmitTransaction(ctx, api.TransactionRequest{
					Sender:   "genesis",
					Receiver: fmt.Sprintf("load_target_%d", worker),
					Amount:   float64(i%100 + 1),
					Message:  fmt.Sprintf("load worker %d tx %d", worker, i),
				})
				st.record(time.Since(reqStart))
				st.submitted.Add(1)

				switch {
				case out.Accepted():
					st.accepted.Add(1)
				case out.Rejected():
					st.rejected.Add(1)
				default:
					st.unreachable.Add(1)
				}

				if *mineEvery > 0 && st.submitted.Load()%int64(*mineEvery) == 0 {
					if _, mine := client.Mine(ctx, "load_miner"); mine.Accepted() {
						st.mined.Add(1)
					}
				}
			}
		}(w)
	}
	wg.Wait()

	elapsed := time.Since(start)
	submitted := st.submitted.Load()
	decided := st.accepted.Load() + st.rejected.Load()

	decisionRate := 0.0
	if submitted > 0 {
		decisionRate = float64(decided) / float64(submitted) * 100
	}

	fmt.Printf("\n--- load test results ---\n")
	fmt.Printf("elapsed:        %s\n", elapsed.Round(time.Millisecond))
	fmt.Printf("submitted:      %d (%.1f tx/s)\n", submitted, float64(submitted)/elapsed.Seconds())
	fmt.Printf("accepted:       %d\n", st.accepted.Load())
	fmt.Printf("rejected:       %d\n", st.rejected.Load())
	fmt.Printf("unreachable:    %d\n", st.unreachable.Load())
	fmt.Printf("blocks mined:   %d\n", st.mined.Load())
	fmt.Printf("decision rate:  %.1f%%\n", decisionRate)
	fmt.Printf("latency p50:    %s\n", st.percentile(0.50).Round(time.Microsecond))
	fmt.Printf("latency p95:    %s\n", st.percentile(0.95).Round(time.Microsecond))
	fmt.Printf("latency p99:    %s\n", st.percentile(0.99).Round(time.Microsecond))

	if decisionRate < 80 {
		fmt.Println("result: FAIL (decision rate below 80%)")
		os.Exit(1)
	}
	fmt.Println("result: PASS")
}
