// Package portal implements the scoped execution context that owns all
// storage handles.
//
// A portal binds one backing store and derives the value, request,
// attempt, config and settings dicts from it. Portals register with a
// Registry on construction and are entered/exited like a resource
// guard; the registry's activation stack decides which portal is
// "current" for value storage and lookup.
package portal

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/roach88/memoir/internal/canonical"
	"github.com/roach88/memoir/internal/store"
)

// Dict names derived from the root store.
const (
	dictValues   = "values"
	dictRequests = "execution_requests"
	dictAttempts = "execution_attempts"
	dictConfig   = "config"
	dictSettings = "settings"
)

const settingPConsistencyChecks = "p_consistency_checks"

// Config describes how to open a portal.
type Config struct {
	// Path is the backing store location (a SQLite database file).
	Path string

	// PConsistencyChecks, when non-nil, sets the probability in [0,1]
	// that redundant immutable writes are verified against stored
	// content. When nil, the value persisted at the storage location is
	// kept (0 for a fresh location).
	PConsistencyChecks *float64
}

// Portal is a scoped execution context. It owns one root store and the
// dicts derived from it, and is confined to its registry's owner
// goroutine.
type Portal struct {
	registry    *Registry
	root        *store.Store
	fingerprint string
	path        string

	pConsistencyChecks float64

	values   *store.Dict
	requests *store.Dict
	attempts *store.Dict
	config   *store.Dict
	settings *store.Dict
}

// New opens a portal over the given storage location and registers it.
// Opening the same location twice in one registry returns an error;
// reuse the registered portal instead.
func New(reg *Registry, cfg Config) (*Portal, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("portal config: path must not be empty")
	}
	if cfg.PConsistencyChecks != nil {
		p := *cfg.PConsistencyChecks
		if p < 0 || p > 1 {
			return nil, fmt.Errorf("portal config: p_consistency_checks %v outside [0,1]", p)
		}
	}

	abs, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("portal config: resolve path: %w", err)
	}

	root, err := store.Open(abs)
	if err != nil {
		return nil, fmt.Errorf("open portal store: %w", err)
	}

	p := &Portal{
		registry:    reg,
		root:        root,
		path:        abs,
		fingerprint: canonical.SignatureOfBytes([]byte(abs)),
	}
	p.config = root.Dict(dictConfig, store.DictOptions{})
	p.settings = root.Dict(dictSettings, store.DictOptions{})

	if err := p.resolveConsistencyChecks(context.Background(), cfg.PConsistencyChecks); err != nil {
		root.Close()
		return nil, err
	}

	p.values = root.Dict(dictValues, store.DictOptions{
		Immutable:          true,
		PConsistencyChecks: p.pConsistencyChecks,
	})
	p.requests = root.Dict(dictRequests, store.DictOptions{})
	p.attempts = root.Dict(dictAttempts, store.DictOptions{})

	if err := reg.register(p); err != nil {
		root.Close()
		return nil, err
	}
	return p, nil
}

// resolveConsistencyChecks reconciles the configured verification
// probability with the one persisted at the storage location. The
// persisted value survives reopening; an explicit config value
// overrides and re-persists it.
func (p *Portal) resolveConsistencyChecks(ctx context.Context, configured *float64) error {
	if configured != nil {
		p.pConsistencyChecks = *configured
		return p.putConfigFloat(ctx, settingPConsistencyChecks, *configured)
	}

	raw, err := p.config.Get(ctx, store.Key1(settingPConsistencyChecks))
	if err != nil {
		if store.IsNotFound(err) {
			p.pConsistencyChecks = 0
			return p.putConfigFloat(ctx, settingPConsistencyChecks, 0)
		}
		return fmt.Errorf("read persisted config: %w", err)
	}
	var persisted float64
	if err := canonical.Decode(raw, &persisted); err != nil {
		return fmt.Errorf("decode persisted %s: %w", settingPConsistencyChecks, err)
	}
	p.pConsistencyChecks = persisted
	return nil
}

func (p *Portal) putConfigFloat(ctx context.Context, key string, v float64) error {
	data, err := canonical.Encode(v)
	if err != nil {
		return err
	}
	if err := p.config.Put(ctx, store.Key1(key), data); err != nil {
		return fmt.Errorf("persist config %s: %w", key, err)
	}
	return nil
}

// Enter pushes this portal onto its registry's activation stack.
// Re-entering the portal already on top increments its counter.
func (p *Portal) Enter() error {
	return p.registry.push(p)
}

// Exit pops one activation layer. The portal stays registered and
// reusable.
func (p *Portal) Exit() error {
	return p.registry.pop(p)
}

// Registry returns the registry this portal belongs to.
func (p *Portal) Registry() *Registry { return p.registry }

// Fingerprint returns the stable lookup key derived from the portal's
// storage location.
func (p *Portal) Fingerprint() string { return p.fingerprint }

// Path returns the backing store location.
func (p *Portal) Path() string { return p.path }

// PConsistencyChecks returns the effective verification probability.
func (p *Portal) PConsistencyChecks() float64 { return p.pConsistencyChecks }

// Values returns the immutable content-addressed value dict.
func (p *Portal) Values() *store.Dict { return p.values }

// Requests returns the pending execution request dict.
func (p *Portal) Requests() *store.Dict { return p.requests }

// Attempts returns the append-only execution attempt dict.
func (p *Portal) Attempts() *store.Dict { return p.attempts }

// SetSetting stores an arbitrary named setting in the portal's
// settings dict.
func (p *Portal) SetSetting(ctx context.Context, name string, v any) error {
	data, err := canonical.Encode(v)
	if err != nil {
		return err
	}
	return p.settings.Put(ctx, store.Key1(name), data)
}

// GetSetting reads a named setting. Returns store.NotFoundError when
// the setting was never written.
func (p *Portal) GetSetting(ctx context.Context, name string) (any, error) {
	raw, err := p.settings.Get(ctx, store.Key1(name))
	if err != nil {
		return nil, err
	}
	var v any
	if err := canonical.Decode(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// MarshalJSON always fails: a portal owns live OS handles and cannot be
// reconstructed from a snapshot.
func (p *Portal) MarshalJSON() ([]byte, error) {
	return nil, &NotSerializableError{}
}

// close releases the portal's storage handles. Called by Registry.Reset.
func (p *Portal) close() error {
	return p.root.Close()
}
