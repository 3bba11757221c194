package suite

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/palaseus/gillean/internal/api"
	"github.com/palaseus/gillean/internal/metrics"
	"github.com/palaseus/gillean/internal/snapshot"
	"github.com/palaseus/gillean/internal/verify"
)

// Env is what a test case gets to work with: one API client per fleet
// node (index 0 is the primary) and the snapshot service. Verifier is
// optional; when set, chain judgments reuse cached per-block verdicts.
type Env struct {
	Clients   []*api.Client
	Snapshots *snapshot.Service
	Verifier  *verify.Verifier
	Logger    *slog.Logger
}

// ChainIntegrity judges blocks through the cached verifier when one is
// configured.
func (e *Env) ChainIntegrity(blocks []api.Block) verify.Result {
	if e.Verifier != nil {
		return e.Verifier.ChainIntegrity(blocks)
	}
	return verify.ChainIntegrity(blocks)
}

// Primary returns the client for node 0.
func (e *Env) Primary() *api.Client {
	return e.Clients[0]
}

// RunFunc is a test case body. It reports a judged outcome with a human
// detail line; a returned error marks the case failed with the error text.
type RunFunc func(ctx context.Context, env *Env) (Outcome, string, error)

// Case pairs a unique name with a body. Cases are plain values in a
// registry; adding one is a registration, not a new type.
type Case struct {
	Name string
	Run  RunFunc
}

// Registry holds test cases in registration order.
type Registry struct {
	mu    sync.RWMutex
	order []string
	cases map[string]Case
}

func NewRegistry() *Registry {
	return &Registry{cases: make(map[string]Case)}
}

// Register adds a case. Names must be unique and non-empty.
func (r *Registry) Register(c Case) error {
	if c.Name == "" {
		return fmt.Errorf("case name is empty")
	}
	if c.Run == nil {
		return fmt.Errorf("case %q has no run func", c.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.cases[c.Name]; exists {
		return fmt.Errorf("case %q already registered", c.Name)
	}
	r.cases[c.Name] = c
	r.order = append(r.order, c.Name)
	return nil
}

// MustRegister is Register for wiring built-in cases at startup.
func (r *Registry) MustRegister(c Case) {
	if err := r.Register(c); err != nil {
		panic(err)
	}
}

// Cases returns all cases in registration order.
func (r *Registry) Cases() []Case {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Case, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.cases[name])
	}
	return out
}

// Select returns the named cases, in the given order.
func (r *Registry) Select(names []string) ([]Case, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Case, 0, len(names))
	for _, name := range names {
		c, ok := r.cases[name]
		if !ok {
			return nil, fmt.Errorf("unknown case %q", name)
		}
		out = append(out, c)
	}
	return out, nil
}

// Len returns the number of registered cases.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Execute runs one case and produces exactly one Result. The clock runs
// around the whole body, error path included, and a panicking case is
// recorded as failed instead of taking the suite down.
func Execute(ctx context.Context, c Case, env *Env) (result Result) {
	start := time.Now()
	result = Result{Name: c.Name, StartedAt: start}

	defer func() {
		if r := recover(); r != nil {
			result.Outcome = OutcomeFailed
			result.Detail = fmt.Sprintf("panic: %v", r)
		}
		result.Duration = time.Since(start)
		metrics.CaseRunsTotal.WithLabelValues(c.Name, string(result.Outcome)).Inc()
		metrics.CaseDuration.WithLabelValues(c.Name).Observe(result.Duration.Seconds())
		env.Logger.Info("case finished",
			"case", c.Name,
			"outcome", result.Outcome,
			"duration", result.Duration,
			"detail", result.Detail,
		)
	}()

	outcome, detail, err := c.Run(ctx, env)
	if err != nil {
		result.Outcome = OutcomeFailed
		result.Detail = err.Error()
		return result
	}
	result.Outcome = outcome
	result.Detail = detail
	return result
}
