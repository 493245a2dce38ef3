package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/memoir/internal/address"
)

// FnFunc is the shape of a memoizable function: named arguments in,
// one JSON-serializable result out.
type FnFunc func(ctx context.Context, kwargs KwArgs) (any, error)

// SafetyPredicate decides whether a function may be registered for
// (potentially remote) execution. It is consumed as an opaque check —
// the engine treats a function as a black box once the predicate has
// passed. AllowAll admits everything.
type SafetyPredicate func(name string, fn FnFunc) error

// AllowAll is the permissive safety predicate.
func AllowAll(string, FnFunc) error { return nil }

// Fn is a registered function together with its content identity.
type Fn struct {
	name     string
	identity address.HashAddr
	call     FnFunc
}

// Name returns the name the function was registered under.
func (f *Fn) Name() string { return f.name }

// Identity returns the function's content address: a hash of the
// registered name and the caller-supplied content token.
func (f *Fn) Identity() address.HashAddr { return f.identity }

// FnRegistry maps function names to registered functions.
//
// Unlike portals, the function registry is shared freely across
// goroutines: functions are code, not portal state. Swarm workers and
// the foreground caller must register the same functions to cooperate.
type FnRegistry struct {
	mu     sync.RWMutex
	fns    map[string]*Fn
	safety SafetyPredicate
}

// NewFnRegistry creates a function registry guarded by the given
// safety predicate. A nil predicate admits everything.
func NewFnRegistry(safety SafetyPredicate) *FnRegistry {
	if safety == nil {
		safety = AllowAll
	}
	return &FnRegistry{fns: make(map[string]*Fn), safety: safety}
}

// Register admits a function under a stable name. The contentToken
// should change whenever the function's behavior changes (a source
// hash, a version string); it feeds the function's content identity so
// a changed function gets fresh result addresses.
//
// The safety predicate runs once, here. Re-registering a name with the
// same token is idempotent; with a different token it is an error.
func (r *FnRegistry) Register(name, contentToken string, call FnFunc) (*Fn, error) {
	if name == "" {
		return nil, fmt.Errorf("function name must not be empty")
	}
	if call == nil {
		return nil, fmt.Errorf("function %q: nil implementation", name)
	}
	if err := r.safety(name, call); err != nil {
		return nil, fmt.Errorf("function %q rejected: %w", name, err)
	}

	identity, err := address.OfValue(map[string]any{
		"function": name,
		"token":    contentToken,
	})
	if err != nil {
		return nil, fmt.Errorf("function %q: identity: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.fns[name]; ok {
		if !existing.identity.Equal(identity) {
			return nil, fmt.Errorf(
				"function %q already registered with a different content token", name)
		}
		return existing, nil
	}
	fn := &Fn{name: name, identity: identity, call: call}
	r.fns[name] = fn
	return fn, nil
}

// Lookup returns the function registered under name.
func (r *FnRegistry) Lookup(name string) (*Fn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.fns[name]
	return fn, ok
}
