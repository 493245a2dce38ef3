package portal

import (
	"context"
	"fmt"
	"reflect"

	"github.com/roach88/memoir/internal/address"
	"github.com/roach88/memoir/internal/canonical"
	"github.com/roach88/memoir/internal/store"
)

// StoreValue writes a value into this portal's value store and returns
// its address handle. The write is eager: creating a value address
// always persists the value.
//
// Passing an existing *address.ValueAddr returns it unchanged — value
// addresses never wrap other value addresses.
func (p *Portal) StoreValue(ctx context.Context, v any) (*address.ValueAddr, error) {
	if existing, ok := v.(*address.ValueAddr); ok {
		return existing, nil
	}

	data, err := canonical.Encode(v)
	if err != nil {
		return nil, err
	}
	a, err := address.New(address.KindValue,
		address.BuildDescriptor(v), canonical.SignatureOfBytes(data))
	if err != nil {
		return nil, err
	}
	handle, err := address.NewValueAddr(a)
	if err != nil {
		return nil, err
	}

	if err := p.values.Put(ctx, store.Key(a.KeyParts()), data); err != nil {
		return nil, err
	}
	handle.Cache.SetValue(v)
	return handle, nil
}

// HasValue reports whether the addressed value is present in this
// portal's own store. No fall-through to other portals.
func (p *Portal) HasValue(ctx context.Context, addr *address.ValueAddr) (bool, error) {
	return p.values.Contains(ctx, store.Key(addr.KeyParts()))
}

// ResolveValue returns the addressed value, consulting the handle's
// cache, then this portal's store, then every other portal known to the
// registry. A value found elsewhere is copied into this portal's store
// before it is returned, so later lookups are local.
//
// Returns store.NotFoundError when the address is absent from every
// reachable store.
func (p *Portal) ResolveValue(ctx context.Context, addr *address.ValueAddr) (any, error) {
	if v, ok := addr.Cache.Value(); ok {
		return v, nil
	}

	key := store.Key(addr.KeyParts())
	raw, err := p.values.Get(ctx, key)
	if err == nil {
		return decodeIntoCache(addr, raw)
	}
	if !store.IsNotFound(err) {
		return nil, err
	}

	// Fall through to the other known portals. A failed lookup against
	// one alternate is not fatal; the next one is tried.
	for _, other := range p.registry.Others(p) {
		raw, err := other.values.Get(ctx, key)
		if err != nil {
			continue
		}
		if err := p.values.Put(ctx, key, raw); err != nil {
			return nil, fmt.Errorf("copy value %s home: %w", addr, err)
		}
		return decodeIntoCache(addr, raw)
	}

	return nil, &store.NotFoundError{Dict: p.values.Name(), Key: key}
}

// CopyValueFrom explicitly copies the addressed value from another
// portal's store into this one.
func (p *Portal) CopyValueFrom(ctx context.Context, addr *address.ValueAddr, from *Portal) error {
	key := store.Key(addr.KeyParts())
	raw, err := from.values.Get(ctx, key)
	if err != nil {
		return err
	}
	return p.values.Put(ctx, key, raw)
}

// ValueAs resolves addr through p and asserts the result's type.
// Returns TypeMismatchError when the stored value does not satisfy T.
func ValueAs[T any](ctx context.Context, p *Portal, addr *address.ValueAddr) (T, error) {
	var zero T
	v, err := p.ResolveValue(ctx, addr)
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		actual := "nil"
		if v != nil {
			actual = reflect.TypeOf(v).String()
		}
		return zero, &TypeMismatchError{
			Expected: fmt.Sprintf("%T", zero),
			Actual:   actual,
		}
	}
	return typed, nil
}

func decodeIntoCache(addr *address.ValueAddr, raw []byte) (any, error) {
	var v any
	if err := canonical.Decode(raw, &v); err != nil {
		return nil, err
	}
	addr.Cache.SetValue(v)
	return v, nil
}
