// Package engine turns registered functions into idempotent,
// content-addressed computations.
//
// Every call is reduced to a call signature (function identity plus
// packed arguments) whose hash yields the call's result address. The
// result slot is written at most once; execution may happen any number
// of times, locally or on a swarm worker, and every execution of the
// same signature lands on the same slot.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"runtime"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/memoir/internal/address"
	"github.com/roach88/memoir/internal/canonical"
	"github.com/roach88/memoir/internal/portal"
	"github.com/roach88/memoir/internal/store"
)

// Engine executes registered functions against a portal's stores.
//
// An engine is stateless apart from its function registry; it is safe
// to share one engine across goroutines as long as each goroutine
// brings its own portal.
type Engine struct {
	fns *FnRegistry
	log *slog.Logger

	// test seams
	now     func() time.Time
	sleep   func(context.Context, time.Duration) error
	jitter  func() float64
	context func() map[string]any
}

// New creates an engine over the given function registry. A nil logger
// falls back to slog.Default().
func New(fns *FnRegistry, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		fns:     fns,
		log:     log,
		now:     time.Now,
		sleep:   sleepContext,
		jitter:  func() float64 { return rand.Float64() - 0.5 },
		context: runtimeContext,
	}
}

// Functions returns the engine's function registry.
func (e *Engine) Functions() *FnRegistry { return e.fns }

// Address computes the result address of one (function, arguments)
// call. Arguments are packed into the portal eagerly; the call
// signature is stored so any process sharing the store can reconstruct
// and execute the call.
func (e *Engine) Address(ctx context.Context, p *portal.Portal, fn *Fn, kwargs KwArgs) (*address.ResultAddr, error) {
	sig, _, err := NewCallSignature(ctx, p, fn, kwargs)
	if err != nil {
		return nil, err
	}
	return ResultAddrOf(ctx, p, sig)
}

// Ready reports whether the addressed result exists in any reachable
// store.
func (e *Engine) Ready(ctx context.Context, p *portal.Portal, r *address.ResultAddr) (bool, error) {
	if r.Cache.Ready() {
		return true, nil
	}
	_, ok, err := e.Result(ctx, p, r)
	return ok, err
}

// Result returns the addressed result if it exists, consulting the
// handle's cache, the portal's own store, then every other portal
// known to the registry. A result found elsewhere is copied home.
func (e *Engine) Result(ctx context.Context, p *portal.Portal, r *address.ResultAddr) (any, bool, error) {
	if v, ok := r.Cache.Value(); ok {
		return v, true, nil
	}

	key := store.Key(r.KeyParts())
	raw, err := p.Values().Get(ctx, key)
	if err == nil {
		return decodeResult(r, raw)
	}
	if !store.IsNotFound(err) {
		return nil, false, err
	}

	for _, other := range p.Registry().Others(p) {
		raw, err := other.Values().Get(ctx, key)
		if err != nil {
			continue
		}
		if err := p.Values().Put(ctx, key, raw); err != nil {
			return nil, false, fmt.Errorf("copy result %s home: %w", r, err)
		}
		return decodeResult(r, raw)
	}
	return nil, false, nil
}

// Submit computes the call's result address and, unless the result
// already exists, records a pending execution request for workers to
// pick up. Submitting the same call twice is a no-op.
func (e *Engine) Submit(ctx context.Context, p *portal.Portal, fn *Fn, kwargs KwArgs) (*address.ResultAddr, error) {
	r, err := e.Address(ctx, p, fn, kwargs)
	if err != nil {
		return nil, err
	}
	if err := e.RequestExecution(ctx, p, r); err != nil {
		return nil, err
	}
	return r, nil
}

// RequestExecution records a pending execution request for an already
// addressed call. When the result already exists nothing is recorded,
// and any stale marker left behind by an earlier request is retired.
func (e *Engine) RequestExecution(ctx context.Context, p *portal.Portal, r *address.ResultAddr) error {
	ready, err := e.Ready(ctx, p, r)
	if err != nil {
		return err
	}
	if ready {
		return e.DropRequest(ctx, p, r)
	}
	content, err := canonical.Encode(AddrRef{
		Descriptor: r.Descriptor(),
		Signature:  r.Signature(),
	})
	if err != nil {
		return err
	}
	if err := p.Requests().Put(ctx, store.Key(r.KeyParts()), content); err != nil {
		return fmt.Errorf("request execution of %s: %w", r, err)
	}
	e.log.Debug("execution requested", "result", r.String())
	return nil
}

// ExecutionRequested reports whether a pending request exists in the
// portal's own store.
func (e *Engine) ExecutionRequested(ctx context.Context, p *portal.Portal, r *address.ResultAddr) (bool, error) {
	return p.Requests().Contains(ctx, store.Key(r.KeyParts()))
}

// DropRequest withdraws the pending request from the portal's store and
// from every other portal known to the registry. Dropping an absent
// request is a no-op.
func (e *Engine) DropRequest(ctx context.Context, p *portal.Portal, r *address.ResultAddr) error {
	key := store.Key(r.KeyParts())
	if err := p.Requests().Delete(ctx, key); err != nil {
		return err
	}
	for _, other := range p.Registry().Others(p) {
		if err := other.Requests().Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// RecordAttempt appends one execution attempt record for the call.
// Attempts are keyed by the result address plus a time-ordered random
// id, so concurrent workers never collide and recency queries stay
// cheap.
func (e *Engine) RecordAttempt(ctx context.Context, p *portal.Portal, r *address.ResultAddr) error {
	id := uuid.Must(uuid.NewV7()).String()
	record := map[string]any{
		"attempt_id":  id,
		"recorded_at": unixSeconds(e.now()),
		"context":     e.context(),
	}
	content, err := canonical.Encode(record)
	if err != nil {
		return err
	}
	key := store.Key{r.Descriptor(), r.Signature(), id}
	// Stamped with the engine's clock so recency reads compare against
	// the clock that wrote them.
	if err := p.Attempts().PutAt(ctx, key, content, unixSeconds(e.now())); err != nil {
		return fmt.Errorf("record attempt for %s: %w", r, err)
	}
	return nil
}

// AttemptStats returns how many attempts the call has accumulated and
// the Unix timestamp of the latest one (0 when none).
func (e *Engine) AttemptStats(ctx context.Context, p *portal.Portal, r *address.ResultAddr) (int, float64, error) {
	return p.Attempts().CountAndLatest(ctx, r.Descriptor(), r.Signature())
}

// NeedsExecution decides whether executing the call now would be
// useful. A never-attempted call with no result always does; after
// that the call needs execution until the circuit breaker trips, as
// long as the latest attempt has aged past its cool-down window. The
// window doubles with every recorded attempt.
//
// The predicate is advisory and independent of any pending request
// marker. Observing a ready result retires a stale marker as a side
// effect, so workers stop re-claiming work that is already done.
func (e *Engine) NeedsExecution(ctx context.Context, p *portal.Portal, r *address.ResultAddr) (bool, error) {
	ready, err := e.Ready(ctx, p, r)
	if err != nil {
		return false, err
	}
	if ready {
		if err := e.DropRequest(ctx, p, r); err != nil {
			return false, err
		}
		return false, nil
	}
	attempts, latest, err := e.AttemptStats(ctx, p, r)
	if err != nil {
		return false, err
	}
	if attempts > maxAttempts {
		return false, nil
	}
	if attempts > 0 {
		age := unixSeconds(e.now()) - latest
		if age < coolDown(attempts).Seconds() {
			return false, nil
		}
	}
	return true, nil
}

// Execute runs the addressed call in this process: it reconstructs the
// call signature, resolves the function from the registry, records an
// attempt, runs the function, and writes the result into its slot.
//
// The result slot is immutable, so a concurrent execution of the same
// call cannot clobber an existing result. The pending request is
// dropped only after the result is durably stored; a failed execution
// leaves the request in place for a later retry.
func (e *Engine) Execute(ctx context.Context, p *portal.Portal, r *address.ResultAddr) (any, error) {
	if v, ok, err := e.Result(ctx, p, r); err != nil {
		return nil, err
	} else if ok {
		return v, nil
	}

	sig, err := loadSignature(ctx, p, r)
	if err != nil {
		return nil, err
	}
	fn, ok := e.fns.Lookup(sig.Function.Name)
	if !ok {
		return nil, &NotRegisteredError{Name: sig.Function.Name}
	}
	if fn.Identity().Signature() != sig.Function.Signature {
		return nil, fmt.Errorf(
			"function %q registered with a different content token than the call expects",
			sig.Function.Name)
	}

	if err := e.RecordAttempt(ctx, p, r); err != nil {
		return nil, err
	}

	packed, err := sig.PackedArgs()
	if err != nil {
		return nil, err
	}
	kwargs, err := packed.Unpack(ctx, p)
	if err != nil {
		return nil, err
	}

	started := e.now()
	v, err := fn.call(ctx, kwargs)
	if err != nil {
		e.log.Warn("execution failed",
			"function", sig.Function.Name,
			"result", r.String(),
			"error", err)
		return nil, fmt.Errorf("execute %q: %w", sig.Function.Name, err)
	}

	data, err := canonical.Encode(v)
	if err != nil {
		return nil, fmt.Errorf("encode result of %q: %w", sig.Function.Name, err)
	}
	if err := p.Values().Put(ctx, store.Key(r.KeyParts()), data); err != nil {
		return nil, fmt.Errorf("store result of %q: %w", sig.Function.Name, err)
	}
	r.Cache.SetValue(v)

	if err := e.DropRequest(ctx, p, r); err != nil {
		return nil, err
	}
	e.log.Info("execution completed",
		"function", sig.Function.Name,
		"result", r.String(),
		"elapsed", e.now().Sub(started))
	return v, nil
}

// Call runs one (function, arguments) call synchronously: memoized when
// the result exists, executed here otherwise.
func (e *Engine) Call(ctx context.Context, p *portal.Portal, fn *Fn, kwargs KwArgs) (any, *address.ResultAddr, error) {
	r, err := e.Address(ctx, p, fn, kwargs)
	if err != nil {
		return nil, nil, err
	}
	if v, ok, err := e.Result(ctx, p, r); err != nil {
		return nil, r, err
	} else if ok {
		return v, r, nil
	}
	v, err := e.Execute(ctx, p, r)
	return v, r, err
}

// Get blocks until the addressed result exists, polling with jittered
// exponential backoff. Before the first poll it records an execution
// request, so workers can see the work even when the caller holds
// nothing but the address.
//
// A timeout greater than zero bounds the wait: when it expires, Get
// returns TimeoutError and leaves the pending request in place, so the
// caller can simply poll again later. A timeout of zero or less means
// no deadline.
func (e *Engine) Get(ctx context.Context, p *portal.Portal, r *address.ResultAddr, timeout time.Duration) (any, error) {
	if err := e.RequestExecution(ctx, p, r); err != nil {
		return nil, err
	}

	start := e.now()
	hasDeadline := timeout > 0
	deadline := start.Add(timeout)
	var backoff time.Duration
	for {
		v, ok, err := e.Result(ctx, p, r)
		if err != nil {
			return nil, err
		}
		if ok {
			return v, nil
		}

		backoff = NextBackoff(backoff, e.jitter())
		wait := backoff
		if hasDeadline {
			remaining := deadline.Sub(e.now())
			if remaining <= 0 {
				return nil, &TimeoutError{Waited: e.now().Sub(start)}
			}
			if wait > remaining {
				wait = remaining
			}
		}
		if err := e.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

// ProcessRandomRequest claims one pending execution request at random
// and executes it if it still needs execution. Returns the processed
// call's address and true when work was done, false when the request
// pool was empty or nothing was eligible.
func (e *Engine) ProcessRandomRequest(ctx context.Context, p *portal.Portal) (*address.ResultAddr, bool, error) {
	key, ok, err := p.Requests().RandomKey(ctx)
	if err != nil || !ok {
		return nil, false, err
	}
	r, err := resultAddrFromKey(key)
	if err != nil {
		return nil, false, err
	}
	needed, err := e.NeedsExecution(ctx, p, r)
	if err != nil || !needed {
		return r, false, err
	}
	if _, err := e.Execute(ctx, p, r); err != nil {
		return r, false, err
	}
	return r, true, nil
}

// resultAddrFromKey rebuilds a result address from its storage key
// tuple (descriptor, shard, subshard, tail).
func resultAddrFromKey(key store.Key) (*address.ResultAddr, error) {
	return address.ResultAddrFromStrings(key[0], key[1]+key[2]+key[3])
}

func decodeResult(r *address.ResultAddr, raw []byte) (any, bool, error) {
	var v any
	if err := canonical.Decode(raw, &v); err != nil {
		return nil, false, err
	}
	r.Cache.SetValue(v)
	return v, true, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// runtimeContext snapshots where an attempt ran. Recorded with every
// attempt so stuck executions can be traced to a host.
func runtimeContext() map[string]any {
	hostname, _ := os.Hostname()
	return map[string]any{
		"hostname": hostname,
		"pid":      os.Getpid(),
		"os":       runtime.GOOS,
		"arch":     runtime.GOARCH,
		"cpus":     runtime.NumCPU(),
	}
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
