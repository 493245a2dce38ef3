package portal

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// maxNestedActivations bounds the activation stack depth, counting
// re-entries. Exceeding it indicates runaway recursive Enter calls.
const maxNestedActivations = 256

// Registry is the process-scoped service holding every known portal
// and the activation stack of portals currently entered.
//
// A registry is confined to the single goroutine that first touches
// it: the ownership token is captured on first use and every later
// mutation is checked against it. Concurrency across workers comes
// from separate registries (one per worker) coordinating through the
// shared durable store, never from sharing a registry.
type Registry struct {
	// owner is the ownership token: the id of the goroutine that first
	// used this registry. Atomic so a trespassing goroutine can read it
	// to build its error; everything below is mutated only by the owner.
	owner atomic.Uint64

	portals  map[string]*Portal // by fingerprint
	stack    []*Portal
	counters []int // re-entrancy counter per stack level

	defaultFactory func(*Registry) (*Portal, error)
}

// NewRegistry creates an empty registry. Swarm workers create one each;
// foreground code normally uses Default().
func NewRegistry() *Registry {
	return &Registry{portals: make(map[string]*Portal)}
}

var (
	defaultRegistryMu sync.Mutex
	defaultRegistry   *Registry
)

// Default returns the process-wide default registry, creating it on
// first use.
func Default() *Registry {
	defaultRegistryMu.Lock()
	defer defaultRegistryMu.Unlock()
	if defaultRegistry == nil {
		defaultRegistry = NewRegistry()
	}
	return defaultRegistry
}

// ResetDefault tears down the default registry and replaces it with a
// fresh one. Test hook: normal code never resets.
func ResetDefault() error {
	defaultRegistryMu.Lock()
	old := defaultRegistry
	defaultRegistry = nil
	defaultRegistryMu.Unlock()
	if old != nil {
		return old.Reset()
	}
	return nil
}

// ensureOwner claims the ownership token on first use and rejects any
// later use from a different goroutine.
func (r *Registry) ensureOwner() error {
	caller := goroutineID()
	if r.owner.CompareAndSwap(0, caller) {
		return nil
	}
	if owner := r.owner.Load(); owner != caller {
		return &ConcurrencyError{OwnerID: owner, CallerID: caller}
	}
	return nil
}

// SetDefaultFactory configures a factory used by Current when the
// activation stack is empty. Passing nil removes the factory.
func (r *Registry) SetDefaultFactory(f func(*Registry) (*Portal, error)) {
	r.defaultFactory = f
}

// register adds a portal to the registry. Called by New; a portal
// enters its registry immediately on construction and leaves only on
// Reset, never on Exit.
func (r *Registry) register(p *Portal) error {
	if err := r.ensureOwner(); err != nil {
		return err
	}
	if existing, ok := r.portals[p.Fingerprint()]; ok && existing != p {
		return fmt.Errorf("portal with fingerprint %s already registered", p.Fingerprint())
	}
	r.portals[p.Fingerprint()] = p
	return nil
}

// ByFingerprint looks a portal up by its storage fingerprint.
func (r *Registry) ByFingerprint(fp string) (*Portal, bool) {
	p, ok := r.portals[fp]
	return p, ok
}

// All returns every registered portal, in unspecified order.
func (r *Registry) All() []*Portal {
	out := make([]*Portal, 0, len(r.portals))
	for _, p := range r.portals {
		out = append(out, p)
	}
	return out
}

// Others returns every registered portal except the given one. Lookups
// fall through to these before declaring a value missing.
func (r *Registry) Others(current *Portal) []*Portal {
	out := make([]*Portal, 0, len(r.portals))
	for _, p := range r.portals {
		if p != current {
			out = append(out, p)
		}
	}
	return out
}

// push enters a portal: increments the top re-entrancy counter when the
// portal is already on top, otherwise pushes a new level.
func (r *Registry) push(p *Portal) error {
	if err := r.ensureOwner(); err != nil {
		return err
	}
	if r.depth() >= maxNestedActivations {
		return fmt.Errorf("activation stack exceeds %d nested entries", maxNestedActivations)
	}
	if n := len(r.stack); n > 0 && r.stack[n-1] == p {
		r.counters[n-1]++
		return nil
	}
	r.stack = append(r.stack, p)
	r.counters = append(r.counters, 1)
	return nil
}

// pop exits one activation layer of a portal. The portal must be on
// top: activations are strictly LIFO.
func (r *Registry) pop(p *Portal) error {
	if err := r.ensureOwner(); err != nil {
		return err
	}
	n := len(r.stack)
	if n == 0 || r.stack[n-1] != p {
		return fmt.Errorf("portal %s is not the current activation", p.Fingerprint())
	}
	if r.counters[n-1] > 1 {
		r.counters[n-1]--
		return nil
	}
	r.stack[n-1] = nil // release for GC
	r.stack = r.stack[:n-1]
	r.counters = r.counters[:n-1]
	return nil
}

// Current returns the portal on top of the activation stack. With an
// empty stack it consults the default factory; without one it returns
// NoActiveContextError.
func (r *Registry) Current() (*Portal, error) {
	if err := r.ensureOwner(); err != nil {
		return nil, err
	}
	if n := len(r.stack); n > 0 {
		return r.stack[n-1], nil
	}
	if r.defaultFactory != nil {
		p, err := r.defaultFactory(r)
		if err != nil {
			return nil, fmt.Errorf("default portal factory: %w", err)
		}
		if err := r.push(p); err != nil {
			return nil, err
		}
		return p, nil
	}
	return nil, &NoActiveContextError{}
}

// StackDepth returns the total activation depth, counting re-entries.
func (r *Registry) StackDepth() int {
	return r.depth()
}

func (r *Registry) depth() int {
	total := 0
	for _, c := range r.counters {
		total += c
	}
	return total
}

// Reset closes every registered portal and empties the registry and the
// activation stack. The ownership token is released so a different
// goroutine may own the registry afterwards. Test hook.
func (r *Registry) Reset() error {
	if err := r.ensureOwner(); err != nil {
		return err
	}
	var firstErr error
	for _, p := range r.portals {
		if err := p.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.portals = make(map[string]*Portal)
	r.stack = nil
	r.counters = nil
	r.defaultFactory = nil
	r.owner.Store(0)
	return firstErr
}
