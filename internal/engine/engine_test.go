package engine

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/memoir/internal/portal"
	"github.com/roach88/memoir/internal/store"
)

func newTestPortal(t *testing.T) *portal.Portal {
	t.Helper()
	reg := portal.NewRegistry()
	p, err := portal.New(reg, portal.Config{
		Path: filepath.Join(t.TempDir(), "store.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Reset() })
	return p
}

// fakeClock drives the engine's time seams: sleeping advances the
// clock instead of blocking.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) sleep(_ context.Context, d time.Duration) error {
	c.t = c.t.Add(d)
	return nil
}

func newTestEngine(fns *FnRegistry) (*Engine, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	e := New(fns, slog.New(slog.NewTextHandler(io.Discard, nil)))
	e.now = clock.now
	e.sleep = clock.sleep
	e.jitter = func() float64 { return 0 }
	return e, clock
}

func registerDouble(t *testing.T, fns *FnRegistry, calls *atomic.Int64) *Fn {
	t.Helper()
	fn, err := fns.Register("double", "v1", func(_ context.Context, kwargs KwArgs) (any, error) {
		if calls != nil {
			calls.Add(1)
		}
		return kwargs["x"].(float64) * 2, nil
	})
	require.NoError(t, err)
	return fn
}

func TestCallMemoizes(t *testing.T) {
	ctx := context.Background()
	p := newTestPortal(t)
	fns := NewFnRegistry(nil)
	var calls atomic.Int64
	fn := registerDouble(t, fns, &calls)
	e, _ := newTestEngine(fns)

	v1, r1, err := e.Call(ctx, p, fn, KwArgs{"x": 21})
	require.NoError(t, err)
	assert.Equal(t, float64(42), v1)
	assert.EqualValues(t, 1, calls.Load())

	v2, r2, err := e.Call(ctx, p, fn, KwArgs{"x": 21})
	require.NoError(t, err)
	assert.Equal(t, float64(42), v2)
	assert.EqualValues(t, 1, calls.Load(), "second call must hit the stored result")
	assert.True(t, r1.Equal(r2.HashAddr))
}

func TestAddressIgnoresArgumentOrderAndNumericForm(t *testing.T) {
	ctx := context.Background()
	p := newTestPortal(t)
	fns := NewFnRegistry(nil)
	fn, err := fns.Register("mix", "v1", func(_ context.Context, _ KwArgs) (any, error) {
		return nil, nil
	})
	require.NoError(t, err)
	e, _ := newTestEngine(fns)

	r1, err := e.Address(ctx, p, fn, KwArgs{"a": 1, "b": "two", "c": []any{3}})
	require.NoError(t, err)
	r2, err := e.Address(ctx, p, fn, KwArgs{"c": []any{3}, "b": "two", "a": float64(1)})
	require.NoError(t, err)
	assert.True(t, r1.Equal(r2.HashAddr))
}

func TestAddressVariesWithArgsAndToken(t *testing.T) {
	ctx := context.Background()
	p := newTestPortal(t)
	fns := NewFnRegistry(nil)
	noop := func(_ context.Context, _ KwArgs) (any, error) { return nil, nil }
	fn1, err := fns.Register("f", "v1", noop)
	require.NoError(t, err)
	fn2, err := fns.Register("g", "v2", noop)
	require.NoError(t, err)
	e, _ := newTestEngine(fns)

	base, err := e.Address(ctx, p, fn1, KwArgs{"x": 1})
	require.NoError(t, err)

	otherArgs, err := e.Address(ctx, p, fn1, KwArgs{"x": 2})
	require.NoError(t, err)
	assert.False(t, base.Equal(otherArgs.HashAddr))

	otherFn, err := e.Address(ctx, p, fn2, KwArgs{"x": 1})
	require.NoError(t, err)
	assert.False(t, base.Equal(otherFn.HashAddr))
}

func TestSubmitThenGetTimesOutWithoutWorkers(t *testing.T) {
	ctx := context.Background()
	p := newTestPortal(t)
	fns := NewFnRegistry(nil)
	fn := registerDouble(t, fns, nil)
	e, _ := newTestEngine(fns)

	r, err := e.Submit(ctx, p, fn, KwArgs{"x": 5})
	require.NoError(t, err)

	requested, err := e.ExecutionRequested(ctx, p, r)
	require.NoError(t, err)
	assert.True(t, requested)

	_, err = e.Get(ctx, p, r, 10*time.Second)
	require.Error(t, err)
	assert.True(t, IsTimeout(err))

	// The timeout must not consume the request.
	requested, err = e.ExecutionRequested(ctx, p, r)
	require.NoError(t, err)
	assert.True(t, requested)

	needed, err := e.NeedsExecution(ctx, p, r)
	require.NoError(t, err)
	assert.True(t, needed)
}

func TestExecuteStoresResultAndDropsRequest(t *testing.T) {
	ctx := context.Background()
	p := newTestPortal(t)
	fns := NewFnRegistry(nil)
	fn := registerDouble(t, fns, nil)
	e, _ := newTestEngine(fns)

	r, err := e.Submit(ctx, p, fn, KwArgs{"x": 3})
	require.NoError(t, err)

	v, err := e.Execute(ctx, p, r)
	require.NoError(t, err)
	assert.Equal(t, float64(6), v)

	ready, err := e.Ready(ctx, p, r)
	require.NoError(t, err)
	assert.True(t, ready)

	requested, err := e.ExecutionRequested(ctx, p, r)
	require.NoError(t, err)
	assert.False(t, requested)

	attempts, latest, err := e.AttemptStats(ctx, p, r)
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
	assert.Greater(t, latest, float64(0))
}

func TestExecuteSurvivesHandleWithoutCache(t *testing.T) {
	ctx := context.Background()
	p := newTestPortal(t)
	fns := NewFnRegistry(nil)
	fn := registerDouble(t, fns, nil)
	e, _ := newTestEngine(fns)

	r, err := e.Submit(ctx, p, fn, KwArgs{"x": 4})
	require.NoError(t, err)
	_, err = e.Execute(ctx, p, r)
	require.NoError(t, err)

	// A fresh handle, as a worker in another process would build it.
	fresh, _, err := e.ProcessRandomRequest(ctx, p)
	require.NoError(t, err)
	assert.Nil(t, fresh, "request pool must be empty after execution")

	r.Cache.Invalidate()
	v, err := e.Get(ctx, p, r, time.Second)
	require.NoError(t, err)
	assert.Equal(t, float64(8), v)
}

func TestFailedExecutionKeepsRequestPending(t *testing.T) {
	ctx := context.Background()
	p := newTestPortal(t)
	fns := NewFnRegistry(nil)
	fn, err := fns.Register("flaky", "v1", func(_ context.Context, _ KwArgs) (any, error) {
		return nil, assert.AnError
	})
	require.NoError(t, err)
	e, _ := newTestEngine(fns)

	r, err := e.Submit(ctx, p, fn, KwArgs{"x": 1})
	require.NoError(t, err)

	_, err = e.Execute(ctx, p, r)
	require.Error(t, err)

	requested, err := e.ExecutionRequested(ctx, p, r)
	require.NoError(t, err)
	assert.True(t, requested, "failed execution must leave the request for a retry")

	attempts, _, err := e.AttemptStats(ctx, p, r)
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestNeedsExecutionCoolDownAndCircuitBreaker(t *testing.T) {
	ctx := context.Background()
	p := newTestPortal(t)
	fns := NewFnRegistry(nil)
	fn := registerDouble(t, fns, nil)
	e, clock := newTestEngine(fns)

	r, err := e.Submit(ctx, p, fn, KwArgs{"x": 7})
	require.NoError(t, err)

	needed, err := e.NeedsExecution(ctx, p, r)
	require.NoError(t, err)
	assert.True(t, needed, "fresh request with no attempts is eligible")

	require.NoError(t, e.RecordAttempt(ctx, p, r))
	needed, err = e.NeedsExecution(ctx, p, r)
	require.NoError(t, err)
	assert.False(t, needed, "one attempt puts the call on a 20s cool-down")

	clock.t = clock.t.Add(25 * time.Second)
	needed, err = e.NeedsExecution(ctx, p, r)
	require.NoError(t, err)
	assert.True(t, needed, "cool-down expired")

	for i := 0; i < 4; i++ {
		require.NoError(t, e.RecordAttempt(ctx, p, r))
	}
	clock.t = clock.t.Add(24 * time.Hour)
	needed, err = e.NeedsExecution(ctx, p, r)
	require.NoError(t, err)
	assert.True(t, needed, "five attempts stay within the ceiling")

	require.NoError(t, e.RecordAttempt(ctx, p, r))
	clock.t = clock.t.Add(24 * time.Hour)
	needed, err = e.NeedsExecution(ctx, p, r)
	require.NoError(t, err)
	assert.False(t, needed, "exceeding five attempts trips the circuit breaker for good")
}

func TestExecuteRejectsUnregisteredFunction(t *testing.T) {
	ctx := context.Background()
	p := newTestPortal(t)
	fns := NewFnRegistry(nil)
	fn := registerDouble(t, fns, nil)
	submitter, _ := newTestEngine(fns)

	r, err := submitter.Submit(ctx, p, fn, KwArgs{"x": 9})
	require.NoError(t, err)

	worker, _ := newTestEngine(NewFnRegistry(nil))
	_, err = worker.Execute(ctx, p, r)
	require.Error(t, err)
	assert.True(t, IsNotRegistered(err))
}

func TestProcessRandomRequest(t *testing.T) {
	ctx := context.Background()
	p := newTestPortal(t)
	fns := NewFnRegistry(nil)
	fn := registerDouble(t, fns, nil)
	e, _ := newTestEngine(fns)

	submitted, err := e.Submit(ctx, p, fn, KwArgs{"x": 10})
	require.NoError(t, err)

	r, processed, err := e.ProcessRandomRequest(ctx, p)
	require.NoError(t, err)
	assert.True(t, processed)
	require.NotNil(t, r)
	assert.True(t, r.Equal(submitted.HashAddr))

	v, err := e.Get(ctx, p, submitted, time.Second)
	require.NoError(t, err)
	assert.Equal(t, float64(20), v)

	r, processed, err = e.ProcessRandomRequest(ctx, p)
	require.NoError(t, err)
	assert.False(t, processed)
	assert.Nil(t, r)
}

func TestGetRecordsExecutionRequestBeforePolling(t *testing.T) {
	ctx := context.Background()
	p := newTestPortal(t)
	fns := NewFnRegistry(nil)
	fn := registerDouble(t, fns, nil)
	e, _ := newTestEngine(fns)

	// Address only, never Submit: a caller holding nothing but the
	// address must still get its work in front of the workers.
	r, err := e.Address(ctx, p, fn, KwArgs{"x": 11})
	require.NoError(t, err)

	_, err = e.Get(ctx, p, r, 5*time.Second)
	require.Error(t, err)
	assert.True(t, IsTimeout(err))

	requested, err := e.ExecutionRequested(ctx, p, r)
	require.NoError(t, err)
	assert.True(t, requested, "waiting on a result must record an execution request")
}

func TestGetWithoutDeadlinePollsUntilReady(t *testing.T) {
	ctx := context.Background()
	p := newTestPortal(t)
	fns := NewFnRegistry(nil)
	fn := registerDouble(t, fns, nil)
	e, clock := newTestEngine(fns)

	r, err := e.Address(ctx, p, fn, KwArgs{"x": 8})
	require.NoError(t, err)

	// The result appears only after several polling rounds; with no
	// deadline the loop must keep going instead of timing out.
	sleeps := 0
	e.sleep = func(c context.Context, d time.Duration) error {
		clock.t = clock.t.Add(d)
		sleeps++
		if sleeps == 3 {
			if _, err := e.Execute(ctx, p, r); err != nil {
				return err
			}
			r.Cache.Invalidate()
		}
		return nil
	}

	v, err := e.Get(ctx, p, r, 0)
	require.NoError(t, err)
	assert.Equal(t, float64(16), v)
	assert.Equal(t, 3, sleeps)
}

func TestNeedsExecutionWithoutRequestMarker(t *testing.T) {
	ctx := context.Background()
	p := newTestPortal(t)
	fns := NewFnRegistry(nil)
	fn := registerDouble(t, fns, nil)
	e, _ := newTestEngine(fns)

	// Addressed but never submitted: no marker, no attempts, no result.
	r, err := e.Address(ctx, p, fn, KwArgs{"x": 13})
	require.NoError(t, err)

	needed, err := e.NeedsExecution(ctx, p, r)
	require.NoError(t, err)
	assert.True(t, needed, "a never-attempted call needs execution regardless of markers")
}

func TestStaleRequestMarkerRetiredOnceResultReady(t *testing.T) {
	ctx := context.Background()
	p := newTestPortal(t)
	fns := NewFnRegistry(nil)
	fn := registerDouble(t, fns, nil)
	e, _ := newTestEngine(fns)

	v, r, err := e.Call(ctx, p, fn, KwArgs{"x": 15})
	require.NoError(t, err)
	assert.Equal(t, float64(30), v)

	// Another process may have left a marker behind before the result
	// landed. Plant one directly.
	require.NoError(t, p.Requests().Put(ctx, store.Key(r.KeyParts()), []byte("{}")))

	claimed, processed, err := e.ProcessRandomRequest(ctx, p)
	require.NoError(t, err)
	assert.False(t, processed)
	require.NotNil(t, claimed)
	assert.True(t, claimed.Equal(r.HashAddr))

	requested, err := e.ExecutionRequested(ctx, p, r)
	require.NoError(t, err)
	assert.False(t, requested, "declining ready work must retire its marker")
}

func TestRequestExecutionOnReadyResultRetiresMarker(t *testing.T) {
	ctx := context.Background()
	p := newTestPortal(t)
	fns := NewFnRegistry(nil)
	fn := registerDouble(t, fns, nil)
	e, _ := newTestEngine(fns)

	_, r, err := e.Call(ctx, p, fn, KwArgs{"x": 17})
	require.NoError(t, err)
	require.NoError(t, p.Requests().Put(ctx, store.Key(r.KeyParts()), []byte("{}")))

	require.NoError(t, e.RequestExecution(ctx, p, r))

	requested, err := e.ExecutionRequested(ctx, p, r)
	require.NoError(t, err)
	assert.False(t, requested, "requesting a ready result must leave no marker behind")
}

func TestGetReturnsOnceResultAppears(t *testing.T) {
	ctx := context.Background()
	p := newTestPortal(t)
	fns := NewFnRegistry(nil)
	fn := registerDouble(t, fns, nil)
	e, clock := newTestEngine(fns)

	r, err := e.Submit(ctx, p, fn, KwArgs{"x": 6})
	require.NoError(t, err)

	// Complete the execution from inside the first sleep, the way a
	// worker would while the caller polls.
	executed := false
	e.sleep = func(c context.Context, d time.Duration) error {
		clock.t = clock.t.Add(d)
		if !executed {
			executed = true
			if _, err := e.Execute(ctx, p, r); err != nil {
				return err
			}
			r.Cache.Invalidate() // force the poll to hit the store
		}
		return nil
	}

	v, err := e.Get(ctx, p, r, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, float64(12), v)
	assert.True(t, executed)
}
