package suite

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palaseus/gillean/internal/snapshot"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func emptyEnv() *Env {
	return &Env{
		Snapshots: snapshot.NewService(testLogger()),
		Logger:    testLogger(),
	}
}

// TestRegistry_RegistrationOrder verifies Cases preserves registration
// order.
func TestRegistry_RegistrationOrder(t *testing.T) {
	r := NewRegistry()
	noop := func(ctx context.Context, env *Env) (Outcome, string, error) { return OutcomePassed, "", nil }

	require.NoError(t, r.Register(Case{Name: "b", Run: noop}))
	require.NoError(t, r.Register(Case{Name: "a", Run: noop}))
	require.NoError(t, r.Register(Case{Name: "c", Run: noop}))

	cases := r.Cases()
	require.Len(t, cases, 3)
	assert.Equal(t, "b", cases[0].Name)
	assert.Equal(t, "a", cases[1].Name)
	assert.Equal(t, "c", cases[2].Name)
	assert.Equal(t, 3, r.Len())
}

// TestRegistry_RejectsDuplicatesAndInvalid verifies registration guards.
func TestRegistry_RejectsDuplicatesAndInvalid(t *testing.T) {
	r := NewRegistry()
	noop := func(ctx context.Context, env *Env) (Outcome, string, error) { return OutcomePassed, "", nil }

	require.NoError(t, r.Register(Case{Name: "dup", Run: noop}))
	assert.Error(t, r.Register(Case{Name: "dup", Run: noop}))
	assert.Error(t, r.Register(Case{Name: "", Run: noop}))
	assert.Error(t, r.Register(Case{Name: "nilrun"}))
}

// TestRegistry_Select verifies named selection and the unknown-name error.
func TestRegistry_Select(t *testing.T) {
	r := NewRegistry()
	noop := func(ctx context.Context, env *Env) (Outcome, string, error) { return OutcomePassed, "", nil }
	require.NoError(t, r.Register(Case{Name: "x", Run: noop}))
	require.NoError(t, r.Register(Case{Name: "y", Run: noop}))

	sel, err := r.Select([]string{"y", "x"})
	require.NoError(t, err)
	require.Len(t, sel, 2)
	assert.Equal(t, "y", sel[0].Name)

	_, err = r.Select([]string{"ghost"})
	assert.Error(t, err)
}

// TestExecute_RecordsOutcomeAndDuration verifies the single-result
// contract, including elapsed time on the error path.
func TestExecute_RecordsOutcomeAndDuration(t *testing.T) {
	c := Case{Name: "slow_fail", Run: func(ctx context.Context, env *Env) (Outcome, string, error) {
		time.Sleep(20 * time.Millisecond)
		return OutcomeFailed, "", errors.New("node said no")
	}}

	res := Execute(context.Background(), c, emptyEnv())

	assert.Equal(t, "slow_fail", res.Name)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, "node said no", res.Detail)
	assert.GreaterOrEqual(t, res.Duration, 20*time.Millisecond,
		"duration must cover the body even when it errors")
}

// TestExecute_PassedWithDetail verifies the happy path.
func TestExecute_PassedWithDetail(t *testing.T) {
	c := Case{Name: "fine", Run: func(ctx context.Context, env *Env) (Outcome, string, error) {
		return OutcomePassed, "3 blocks verified", nil
	}}

	res := Execute(context.Background(), c, emptyEnv())
	assert.Equal(t, OutcomePassed, res.Outcome)
	assert.Equal(t, "3 blocks verified", res.Detail)
}

// TestExecute_RecoversPanic verifies a panicking case body becomes a
// failed result instead of crashing the suite.
func TestExecute_RecoversPanic(t *testing.T) {
	c := Case{Name: "explosive", Run: func(ctx context.Context, env *Env) (Outcome, string, error) {
		panic("boom")
	}}

	res := Execute(context.Background(), c, emptyEnv())
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Contains(t, res.Detail, "panic: boom")
}

// TestBuiltin_ContinuousSubsetExists verifies every continuous-mode case
// name resolves against the built-in registry.
func TestBuiltin_ContinuousSubsetExists(t *testing.T) {
	r := Builtin()
	sel, err := r.Select(ContinuousCases)
	require.NoError(t, err)
	assert.Len(t, sel, len(ContinuousCases))
}
