// Package orchestrator coordinates the node fleet and the test suite:
// it starts and stops the node processes, probes their health, runs
// registered cases, and compiles run reports.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/palaseus/gillean/internal/alert"
	"github.com/palaseus/gillean/internal/api"
	"github.com/palaseus/gillean/internal/config"
	"github.com/palaseus/gillean/internal/metrics"
	"github.com/palaseus/gillean/internal/node"
	"github.com/palaseus/gillean/internal/report"
	"github.com/palaseus/gillean/internal/retry"
	"github.com/palaseus/gillean/internal/snapshot"
	"github.com/palaseus/gillean/internal/suite"
	"github.com/palaseus/gillean/internal/tracing"
	"github.com/palaseus/gillean/internal/verify"
)

// startAttempts is how many times a node spawn is tried before the fleet
// gives up on it.
const startAttempts = 2

// Orchestrator drives a fleet of node handles through suite runs.
type Orchestrator struct {
	cfg        *config.Config
	registry   *suite.Registry
	handles    []*node.Handle
	trackers   []*node.HealthTracker
	snapshots  *snapshot.Service
	verifier   *verify.Verifier
	alerter    alert.Alerter
	logger     *slog.Logger
	baseLogger *slog.Logger
	tracer     trace.Tracer

	mu         sync.RWMutex
	clients    []*api.Client
	lastReport *report.Report
}

// New creates an orchestrator over the given handles. The suite
// environment is derived from the handles' API clients; handle order
// decides which node is primary.
func New(cfg *config.Config, registry *suite.Registry, handles []*node.Handle, alerter alert.Alerter, logger *slog.Logger) *Orchestrator {
	clients := make([]*api.Client, len(handles))
	trackers := make([]*node.HealthTracker, len(handles))
	for i, h := range handles {
		clients[i] = h.Client()
		trackers[i] = node.NewHealthTracker(h.Config().ID)
	}

	return &Orchestrator{
		cfg:        cfg,
		registry:   registry,
		handles:    handles,
		trackers:   trackers,
		snapshots:  snapshot.NewService(logger),
		verifier:   verify.NewVerifier(0, 0),
		alerter:    alerter,
		logger:     logger.With("component", "orchestrator"),
		baseLogger: logger,
		tracer:     tracing.Tracer("orchestrator"),
		clients:    clients,
	}
}

// runEnv builds the case environment from the nodes currently in the
// fleet roster. Handles that failed startup have been dropped from the
// roster, so a dead node never participates in a case.
func (o *Orchestrator) runEnv() *suite.Env {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return &suite.Env{
		Clients:   o.clients,
		Snapshots: o.snapshots,
		Verifier:  o.verifier,
		Logger:    o.baseLogger,
	}
}

// StartFleet brings the nodes up one at a time, pausing between starts so
// each node settles before the next port binds. A node that fails to
// start is alerted and skipped; only a fully dead fleet is an error.
func (o *Orchestrator) StartFleet(ctx context.Context) error {
	started := 0
	for i, h := range o.handles {
		if i > 0 && o.cfg.Node.StartDelay > 0 {
			select {
			case <-time.After(o.cfg.Node.StartDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if err := o.startNode(ctx, h); err != nil {
			o.logger.Error("node failed to start", "node", h.Config().ID, "error", err)
			o.alerter.Send(ctx, alert.Alert{
				Type:    alert.AlertTypeStartupFailure,
				Node:    h.Config().ID,
				Title:   "Node failed to start",
				Message: err.Error(),
				Fields: map[string]string{
					"port":      fmt.Sprintf("%d", h.Config().Port),
					"consensus": h.Config().Consensus,
				},
			})
			continue
		}
		started++
	}

	if started == 0 {
		return fmt.Errorf("no node out of %d started", len(o.handles))
	}

	// Dead nodes drop out of the roster; cases only ever see live ones.
	active := make([]*api.Client, 0, len(o.handles))
	for _, h := range o.handles {
		if h.Running() {
			active = append(active, h.Client())
		}
	}
	o.mu.Lock()
	o.clients = active
	o.mu.Unlock()

	o.logger.Info("fleet started", "started", started, "total", len(o.handles))
	return nil
}

// startNode starts one handle with a single backed-off retry. A node that
// missed its readiness window often comes up clean on the second spawn;
// a handle that is already running must not be restarted. The respawn
// needs the port back, so the failed process is killed before a retry;
// the final failure leaves it alive for post-mortem inspection.
func (o *Orchestrator) startNode(ctx context.Context, h *node.Handle) error {
	attempt := 0
	return retry.Do(ctx, startAttempts, time.Second, func(ctx context.Context) error {
		attempt++
		err := h.Start(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, node.ErrAlreadyRunning) {
			return retry.Terminal(err)
		}
		if attempt < startAttempts {
			h.Kill()
		}
		return retry.Transient(err)
	})
}

// StopFleet stops all nodes concurrently, best effort.
func (o *Orchestrator) StopFleet(ctx context.Context) {
	var wg sync.WaitGroup
	for _, h := range o.handles {
		wg.Add(1)
		go func(h *node.Handle) {
			defer wg.Done()
			if err := h.Stop(ctx); err != nil {
				o.logger.Warn("node stop failed", "node", h.Config().ID, "error", err)
			}
		}(h)
	}
	wg.Wait()
	o.logger.Info("fleet stopped")
}

// RunOnce runs the full registered suite and returns the compiled report.
func (o *Orchestrator) RunOnce(ctx context.Context) (*report.Report, error) {
	return o.run(ctx, o.registry.Cases(), config.SuiteModeSingle)
}

// RunCases runs the named cases, or the full suite when names is empty.
// It satisfies the status server's run trigger.
func (o *Orchestrator) RunCases(ctx context.Context, names []string) (any, error) {
	cases := o.registry.Cases()
	if len(names) > 0 {
		var err error
		cases, err = o.registry.Select(names)
		if err != nil {
			return nil, err
		}
	}
	return o.run(ctx, cases, config.SuiteModeSingle)
}

// run executes cases concurrently. Every case always produces a result:
// siblings are not canceled when one fails, since a failed case is a
// finding, not a reason to abort the run.
func (o *Orchestrator) run(ctx context.Context, cases []suite.Case, mode string) (*report.Report, error) {
	runID := uuid.NewString()
	startedAt := time.Now()

	ctx, span := o.tracer.Start(ctx, "suite.run",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("run.mode", mode),
			attribute.Int("run.cases", len(cases)),
		))
	defer span.End()

	o.logger.Info("suite run starting", "run_id", runID, "mode", mode, "cases", len(cases))

	env := o.runEnv()
	results := make([]suite.Result, len(cases))
	g := new(errgroup.Group)
	for i, c := range cases {
		i, c := i, c
		g.Go(func() error {
			results[i] = suite.Execute(ctx, c, env)
			return nil
		})
	}
	g.Wait()

	nodes := make([]node.Config, len(o.handles))
	for i, h := range o.handles {
		nodes[i] = h.Config()
	}

	rep := report.Compile(runID, mode, startedAt, nodes, results)

	o.mu.Lock()
	o.lastReport = rep
	o.mu.Unlock()

	metrics.SuiteRunsTotal.WithLabelValues(mode).Inc()
	span.SetAttributes(
		attribute.Int("run.passed", rep.Passed),
		attribute.Int("run.failed", rep.Failed),
	)

	o.logger.Info("suite run finished",
		"run_id", runID,
		"passed", rep.Passed,
		"failed", rep.Failed,
		"not_implemented", rep.NotImplemented,
		"duration", rep.Duration,
	)

	if failed := rep.FailedResults(); len(failed) > 0 {
		names := make([]string, len(failed))
		for i, res := range failed {
			names[i] = res.Name
		}
		o.alerter.Send(ctx, alert.Alert{
			Type:    alert.AlertTypeSuiteFailed,
			Run:     runID,
			Title:   "Suite run failed",
			Message: fmt.Sprintf("%d of %d cases failed", rep.Failed, len(cases)),
			Fields:  map[string]string{"failed": strings.Join(names, ", ")},
		})
	}

	return rep, nil
}

// RunContinuous re-runs the continuous subset on every tick until ctx is
// canceled or the configured duration budget runs out. Each tick starts
// with a health probe of the whole fleet.
func (o *Orchestrator) RunContinuous(ctx context.Context) error {
	cases, err := o.registry.Select(suite.ContinuousCases)
	if err != nil {
		return fmt.Errorf("continuous case set: %w", err)
	}

	if o.cfg.Suite.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.Suite.Duration)
		defer cancel()
	}

	ticker := time.NewTicker(o.cfg.Suite.ContinuousInterval)
	defer ticker.Stop()

	o.logger.Info("continuous mode starting",
		"interval", o.cfg.Suite.ContinuousInterval,
		"cases", len(cases),
	)

	for tick := 1; ; tick++ {
		o.probeFleet(ctx)
		if _, err := o.run(ctx, cases, config.SuiteModeContinuous); err != nil {
			return err
		}
		o.logger.Info("continuous tick finished", "tick", tick)

		select {
		case <-ctx.Done():
			// Duration budget exhausted or shutdown requested; either way
			// the loop ends cleanly.
			if o.cfg.Suite.Duration > 0 && ctx.Err() == context.DeadlineExceeded {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// probeFleet health-checks every node, feeds the trackers, and alerts on
// down/recovered transitions.
func (o *Orchestrator) probeFleet(ctx context.Context) {
	for i, h := range o.handles {
		tracker := o.trackers[i]
		id := h.Config().ID

		start := time.Now()
		out := h.Client().Health(ctx)
		tracker.RecordLatency(time.Since(start))

		if out.Reachable() {
			if recovered := tracker.RecordSuccess(); recovered {
				o.logger.Info("node recovered", "node", id)
				o.alerter.Send(ctx, alert.Alert{
					Type:    alert.AlertTypeNodeRecovered,
					Node:    id,
					Title:   "Node recovered",
					Message: "health endpoint is answering again",
				})
			}
			continue
		}

		if wentDown := tracker.RecordFailure(); wentDown {
			snap := tracker.Snapshot()
			o.logger.Warn("node unhealthy", "node", id, "failures", snap.ConsecutiveFailures)
			o.alerter.Send(ctx, alert.Alert{
				Type:    alert.AlertTypeNodeDown,
				Node:    id,
				Title:   "Node unreachable",
				Message: out.Reason,
				Fields: map[string]string{
					"failures": fmt.Sprintf("%d", snap.ConsecutiveFailures),
					"port":     fmt.Sprintf("%d", h.Config().Port),
				},
			})
		}
	}
}

// LatestReport returns the most recent compiled report for the status
// server, or nil when no run has finished.
func (o *Orchestrator) LatestReport() any {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.lastReport == nil {
		return nil
	}
	return o.lastReport
}

// NodeSnapshots returns per-node process state for the status server.
func (o *Orchestrator) NodeSnapshots() any {
	snaps := make([]node.Snapshot, len(o.handles))
	for i, h := range o.handles {
		snaps[i] = h.Snapshot()
	}
	return snaps
}

// HealthSnapshots returns per-node health state for the status server.
func (o *Orchestrator) HealthSnapshots() any {
	snaps := make([]node.HealthSnapshot, len(o.trackers))
	for i, t := range o.trackers {
		snaps[i] = t.Snapshot()
	}
	return snaps
}
