package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/palaseus/gillean/internal/api"
	"github.com/palaseus/gillean/internal/metrics"
)

// ErrAlreadyRunning is returned when Start is called on a live handle.
var ErrAlreadyRunning = errors.New("node already running")

// Timing bundles the process lifecycle timeouts.
type Timing struct {
	StartupTimeout time.Duration // total budget for the readiness poll
	PollInterval   time.Duration // delay between health probes
	StopGrace      time.Duration // SIGTERM grace before SIGKILL
}

func (t Timing) withDefaults() Timing {
	if t.StartupTimeout <= 0 {
		t.StartupTimeout = 30 * time.Second
	}
	if t.PollInterval <= 0 {
		t.PollInterval = time.Second
	}
	if t.StopGrace <= 0 {
		t.StopGrace = 10 * time.Second
	}
	return t
}

// Handle owns one ledger node child process. Start spawns the process and
// blocks until the health endpoint answers; Stop terminates gracefully and
// escalates to SIGKILL when the grace period runs out. Stop is idempotent.
type Handle struct {
	cfg    Config
	binary string
	timing Timing
	client *api.Client
	logger *slog.Logger

	mu         sync.Mutex
	cmd        *exec.Cmd
	waitCh     chan error
	running    bool
	exited     bool
	forcedKill bool
	startedAt  time.Time
}

// NewHandle creates a handle. The client must point at the node's API
// address; it is used for the readiness poll and exposed to test cases.
func NewHandle(cfg Config, binary string, client *api.Client, timing Timing, logger *slog.Logger) *Handle {
	return &Handle{
		cfg:    cfg,
		binary: binary,
		timing: timing.withDefaults(),
		client: client,
		logger: logger.With("component", "node", "node", cfg.ID),
	}
}

func (h *Handle) Config() Config      { return h.cfg }
func (h *Handle) Client() *api.Client { return h.client }

// Running reports whether the child process is believed to be alive.
func (h *Handle) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

// ForcedKill reports whether the last stop needed SIGKILL.
func (h *Handle) ForcedKill() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.forcedKill
}

// Start spawns the node process and waits for it to answer health probes.
// On readiness failure the liveness flag stays false but the process, if
// still alive, is left running for post-mortem inspection; Kill reclaims
// it when the caller wants the port back.
func (h *Handle) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return ErrAlreadyRunning
	}

	if err := os.MkdirAll(h.cfg.DataDir, 0o755); err != nil {
		h.mu.Unlock()
		return fmt.Errorf("create data dir: %w", err)
	}

	cmd := exec.Command(h.binary, "start-api",
		"--address", fmt.Sprintf("127.0.0.1:%d", h.cfg.Port),
		"--db-path", h.cfg.DataDir,
	)
	if err := cmd.Start(); err != nil {
		h.mu.Unlock()
		metrics.NodeStartsTotal.WithLabelValues(h.cfg.ID, "spawn_failed").Inc()
		return fmt.Errorf("spawn %s: %w", h.binary, err)
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	h.cmd = cmd
	h.waitCh = waitCh
	h.running = true
	h.exited = false
	h.forcedKill = false
	h.startedAt = time.Now()
	h.mu.Unlock()

	h.logger.Info("node process spawned",
		"pid", cmd.Process.Pid,
		"port", h.cfg.Port,
		"consensus", h.cfg.Consensus,
	)

	if err := h.waitReady(ctx); err != nil {
		metrics.NodeStartsTotal.WithLabelValues(h.cfg.ID, "not_ready").Inc()
		h.markFailed()
		return fmt.Errorf("node %s not ready: %w", h.cfg.ID, err)
	}

	metrics.NodeStartsTotal.WithLabelValues(h.cfg.ID, "ok").Inc()
	metrics.NodeReadyDuration.WithLabelValues(h.cfg.ID).Observe(time.Since(h.startedAt).Seconds())
	h.logger.Info("node ready", "elapsed", time.Since(h.startedAt))
	return nil
}

// waitReady polls the health endpoint until it accepts, the process exits,
// or the startup budget runs out.
func (h *Handle) waitReady(ctx context.Context) error {
	deadline := time.NewTimer(h.timing.StartupTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(h.timing.PollInterval)
	defer ticker.Stop()

	for {
		if out := h.client.Health(ctx); out.Accepted() {
			return nil
		}

		select {
		case err := <-h.waitCh:
			h.markExited()
			return fmt.Errorf("process exited during startup: %v", err)
		case <-deadline.C:
			return fmt.Errorf("health endpoint silent after %s", h.timing.StartupTimeout)
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Stop terminates the node. It sends SIGTERM, waits for the grace period,
// and falls back to SIGKILL. Calling Stop on a stopped handle is a no-op.
func (h *Handle) Stop(ctx context.Context) error {
	h.mu.Lock()
	if !h.running || h.cmd == nil {
		h.mu.Unlock()
		return nil
	}
	cmd := h.cmd
	waitCh := h.waitCh
	h.mu.Unlock()

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Process already gone; treat as stopped.
		h.markExited()
		metrics.NodeStopsTotal.WithLabelValues(h.cfg.ID, "false").Inc()
		return nil
	}

	grace := time.NewTimer(h.timing.StopGrace)
	defer grace.Stop()

	select {
	case <-waitCh:
		h.markExited()
		metrics.NodeStopsTotal.WithLabelValues(h.cfg.ID, "false").Inc()
		h.logger.Info("node stopped gracefully")
		return nil
	case <-grace.C:
	case <-ctx.Done():
	}

	h.logger.Warn("node ignored SIGTERM, killing", "grace", h.timing.StopGrace)
	h.kill(true)
	metrics.NodeStopsTotal.WithLabelValues(h.cfg.ID, "true").Inc()

	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

// Kill force-terminates the process without the graceful stop path. It
// reclaims the port from a process that failed its readiness check; a
// failed Start otherwise leaves the process alive for inspection.
func (h *Handle) Kill() {
	h.kill(false)
}

// kill force-terminates the process and marks the handle stopped.
// escalated marks a graceful stop that had to fall back to SIGKILL.
func (h *Handle) kill(escalated bool) {
	h.mu.Lock()
	cmd := h.cmd
	waitCh := h.waitCh
	exited := h.exited
	h.mu.Unlock()

	if cmd == nil || exited {
		return
	}

	_ = cmd.Process.Kill()
	if waitCh != nil {
		select {
		case <-waitCh:
		case <-time.After(2 * time.Second):
		}
	}

	h.mu.Lock()
	h.running = false
	h.exited = true
	if escalated {
		h.forcedKill = true
	}
	h.mu.Unlock()
}

// markFailed clears the liveness flag without touching the process.
func (h *Handle) markFailed() {
	h.mu.Lock()
	h.running = false
	h.mu.Unlock()
}

func (h *Handle) markExited() {
	h.mu.Lock()
	h.running = false
	h.exited = true
	h.mu.Unlock()
}

// Snapshot is a JSON-safe view of the handle for the status server.
type Snapshot struct {
	ID         string     `json:"id"`
	Port       int        `json:"port"`
	Consensus  string     `json:"consensus"`
	Running    bool       `json:"running"`
	ForcedKill bool       `json:"forced_kill"`
	PID        int        `json:"pid,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
}

// Snapshot returns the current handle state.
func (h *Handle) Snapshot() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := Snapshot{
		ID:         h.cfg.ID,
		Port:       h.cfg.Port,
		Consensus:  h.cfg.Consensus,
		Running:    h.running,
		ForcedKill: h.forcedKill,
	}
	if h.cmd != nil && h.cmd.Process != nil {
		s.PID = h.cmd.Process.Pid
	}
	if !h.startedAt.IsZero() {
		t := h.startedAt
		s.StartedAt = &t
	}
	return s
}
