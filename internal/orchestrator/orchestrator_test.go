package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palaseus/gillean/internal/alert"
	"github.com/palaseus/gillean/internal/api"
	"github.com/palaseus/gillean/internal/config"
	"github.com/palaseus/gillean/internal/node"
	"github.com/palaseus/gillean/internal/report"
	"github.com/palaseus/gillean/internal/suite"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []alert.Alert
}

func (r *recordingAlerter) Send(_ context.Context, a alert.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return nil
}

func (r *recordingAlerter) ofType(t alert.AlertType) []alert.Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []alert.Alert
	for _, a := range r.alerts {
		if a.Type == t {
			out = append(out, a)
		}
	}
	return out
}

func testConfig() *config.Config {
	return &config.Config{
		Suite: config.SuiteConfig{
			Mode:               config.SuiteModeSingle,
			ContinuousInterval: 20 * time.Millisecond,
		},
	}
}

// writeScript drops an executable shell script into dir, standing in for
// the node binary.
func writeScript(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "node.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func healthyServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"data":{"status":"ok"}}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func scriptHandle(t *testing.T, id, script, baseURL string) *node.Handle {
	t.Helper()
	cfg := node.Config{
		ID:      id,
		Port:    3000,
		DataDir: filepath.Join(t.TempDir(), "data"),
	}
	client := api.NewClient(id, baseURL, testLogger())
	timing := node.Timing{
		StartupTimeout: 2 * time.Second,
		PollInterval:   10 * time.Millisecond,
		StopGrace:      200 * time.Millisecond,
	}
	return node.NewHandle(cfg, script, client, timing, testLogger())
}

func syntheticRegistry(t *testing.T) *suite.Registry {
	t.Helper()
	r := suite.NewRegistry()
	require.NoError(t, r.Register(suite.Case{Name: "always_passes", Run: func(ctx context.Context, env *suite.Env) (suite.Outcome, string, error) {
		return suite.OutcomePassed, "fine", nil
	}}))
	require.NoError(t, r.Register(suite.Case{Name: "always_fails", Run: func(ctx context.Context, env *suite.Env) (suite.Outcome, string, error) {
		return suite.OutcomeFailed, "", errors.New("broke")
	}}))
	require.NoError(t, r.Register(suite.Case{Name: "optional_probe", Run: func(ctx context.Context, env *suite.Env) (suite.Outcome, string, error) {
		return suite.OutcomeNotImplemented, "no such surface", nil
	}}))
	return r
}

// TestRunOnce_CompilesReportAndAlerts verifies a run produces a compiled
// report, stores it as the latest, and alerts on the failed case.
func TestRunOnce_CompilesReportAndAlerts(t *testing.T) {
	alerter := &recordingAlerter{}
	o := New(testConfig(), syntheticRegistry(t), nil, alerter, testLogger())

	rep, err := o.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, rep.Passed)
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, 1, rep.NotImplemented)
	assert.InDelta(t, 50.0, rep.SuccessRate, 0.01)
	assert.NotEmpty(t, rep.RunID)

	latest, ok := o.LatestReport().(*report.Report)
	require.True(t, ok)
	assert.Equal(t, rep.RunID, latest.RunID)

	failAlerts := alerter.ofType(alert.AlertTypeSuiteFailed)
	require.Len(t, failAlerts, 1)
	assert.Equal(t, rep.RunID, failAlerts[0].Run)
	assert.Contains(t, failAlerts[0].Fields["failed"], "always_fails")
}

// TestLatestReport_NilBeforeFirstRun verifies the status server sees a
// plain nil, not a typed nil pointer, before any run finishes.
func TestLatestReport_NilBeforeFirstRun(t *testing.T) {
	o := New(testConfig(), syntheticRegistry(t), nil, &recordingAlerter{}, testLogger())
	assert.Nil(t, o.LatestReport())
}

// TestRunCases_SelectsByName verifies named selection and the unknown
// name error surface through the run trigger.
func TestRunCases_SelectsByName(t *testing.T) {
	o := New(testConfig(), syntheticRegistry(t), nil, &recordingAlerter{}, testLogger())

	res, err := o.RunCases(context.Background(), []string{"always_passes"})
	require.NoError(t, err)
	rep, ok := res.(*report.Report)
	require.True(t, ok)
	assert.Equal(t, 1, rep.Passed)
	assert.Equal(t, 0, rep.Failed)

	_, err = o.RunCases(context.Background(), []string{"ghost"})
	assert.Error(t, err)
}

// TestStartFleet_SurvivesOneDeadNode verifies a node that cannot start is
// alerted and skipped while the rest of the fleet comes up.
func TestStartFleet_SurvivesOneDeadNode(t *testing.T) {
	srv := healthyServer(t)
	good := writeScript(t, t.TempDir(), "trap 'exit 0' TERM\nsleep 30 &\nwait")
	bad := writeScript(t, t.TempDir(), "exit 1")

	alerter := &recordingAlerter{}
	handles := []*node.Handle{
		scriptHandle(t, "node-0", good, srv.URL),
		scriptHandle(t, "node-1", bad, "http://127.0.0.1:1"),
	}
	o := New(testConfig(), syntheticRegistry(t), handles, alerter, testLogger())

	require.NoError(t, o.StartFleet(context.Background()))
	assert.True(t, handles[0].Running())
	assert.False(t, handles[1].Running())

	startupAlerts := alerter.ofType(alert.AlertTypeStartupFailure)
	require.Len(t, startupAlerts, 1)
	assert.Equal(t, "node-1", startupAlerts[0].Node)

	o.StopFleet(context.Background())
	assert.False(t, handles[0].Running())
}

// TestStartFleet_ExcludesDeadNodeFromCases verifies a node that failed
// to start is dropped from the roster cases run against: only live
// clients reach the case environment, and the primary is a live node.
func TestStartFleet_ExcludesDeadNodeFromCases(t *testing.T) {
	srv := healthyServer(t)
	good := writeScript(t, t.TempDir(), "trap 'exit 0' TERM\nsleep 30 &\nwait")
	bad := writeScript(t, t.TempDir(), "exit 1")

	var mu sync.Mutex
	var roster []string
	reg := suite.NewRegistry()
	require.NoError(t, reg.Register(suite.Case{Name: "fleet_roster", Run: func(ctx context.Context, env *suite.Env) (suite.Outcome, string, error) {
		mu.Lock()
		defer mu.Unlock()
		for _, c := range env.Clients {
			roster = append(roster, c.NodeID())
		}
		roster = append(roster, "primary="+env.Primary().NodeID())
		return suite.OutcomePassed, "", nil
	}}))

	handles := []*node.Handle{
		scriptHandle(t, "node-0", bad, "http://127.0.0.1:1"),
		scriptHandle(t, "node-1", good, srv.URL),
	}
	o := New(testConfig(), reg, handles, &recordingAlerter{}, testLogger())

	require.NoError(t, o.StartFleet(context.Background()))
	defer o.StopFleet(context.Background())

	_, err := o.RunOnce(context.Background())
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"node-1", "primary=node-1"}, roster)
}

// TestStartFleet_AllDeadIsAnError verifies a fully dead fleet fails the
// start instead of limping on with zero nodes.
func TestStartFleet_AllDeadIsAnError(t *testing.T) {
	bad := writeScript(t, t.TempDir(), "exit 1")
	handles := []*node.Handle{scriptHandle(t, "node-0", bad, "http://127.0.0.1:1")}
	o := New(testConfig(), syntheticRegistry(t), handles, &recordingAlerter{}, testLogger())

	err := o.StartFleet(context.Background())
	assert.Error(t, err)
}

// TestProbeFleet_DownAndRecoveryAlerts verifies the health probe raises a
// down alert after the failure threshold and a recovery alert when the
// node answers again.
func TestProbeFleet_DownAndRecoveryAlerts(t *testing.T) {
	var healthy bool
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		up := healthy
		mu.Unlock()
		if !up {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	alerter := &recordingAlerter{}
	handles := []*node.Handle{scriptHandle(t, "node-0", "/bin/true", srv.URL)}
	o := New(testConfig(), syntheticRegistry(t), handles, alerter, testLogger())

	ctx := context.Background()
	for i := 0; i < node.DefaultUnhealthyThreshold+1; i++ {
		o.probeFleet(ctx)
	}
	require.Len(t, alerter.ofType(alert.AlertTypeNodeDown), 1,
		"the down transition should alert exactly once")

	mu.Lock()
	healthy = true
	mu.Unlock()
	o.probeFleet(ctx)
	require.Len(t, alerter.ofType(alert.AlertTypeNodeRecovered), 1)

	snaps, ok := o.HealthSnapshots().([]node.HealthSnapshot)
	require.True(t, ok)
	require.Len(t, snaps, 1)
	assert.Equal(t, string(node.HealthHealthy), snaps[0].Status)
}

// TestRunContinuous_StopsOnDurationBudget verifies continuous mode exits
// cleanly when the duration budget runs out.
func TestRunContinuous_StopsOnDurationBudget(t *testing.T) {
	cfg := testConfig()
	cfg.Suite.Duration = 60 * time.Millisecond
	cfg.Suite.ContinuousInterval = 15 * time.Millisecond

	reg := suite.NewRegistry()
	for _, name := range suite.ContinuousCases {
		require.NoError(t, reg.Register(suite.Case{Name: name, Run: func(ctx context.Context, env *suite.Env) (suite.Outcome, string, error) {
			return suite.OutcomePassed, "", nil
		}}))
	}

	srv := healthyServer(t)
	handles := []*node.Handle{scriptHandle(t, "node-0", "/bin/true", srv.URL)}
	o := New(cfg, reg, handles, &recordingAlerter{}, testLogger())

	done := make(chan error, 1)
	go func() { done <- o.RunContinuous(context.Background()) }()

	select {
	case err := <-done:
		assert.NoError(t, err, "a spent duration budget is a clean exit")
	case <-time.After(2 * time.Second):
		t.Fatal("continuous mode did not stop at its duration budget")
	}

	rep, ok := o.LatestReport().(*report.Report)
	require.True(t, ok)
	assert.Equal(t, "continuous", rep.Mode)
}
