package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/roach88/memoir/internal/address"
	"github.com/roach88/memoir/internal/portal"
)

// KwArgs is a named-argument mapping for one function call.
type KwArgs map[string]any

// SortedKeys returns the argument names in lexical order. Key order
// never affects a call's identity: canonicalization sorts.
func (k KwArgs) SortedKeys() []string {
	keys := make([]string, 0, len(k))
	for key := range k {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// PackedKwArgs is a KwArgs with every value replaced by its value
// address. Packing is how arguments travel: small, stable, and
// resolvable from any portal sharing the store.
type PackedKwArgs map[string]*address.ValueAddr

// Pack replaces every argument value with its value address, eagerly
// storing the values in the given portal.
//
// Packing is idempotent: a value that already is a value address is
// kept as-is, never wrapped again, so nested packed bundles round-trip
// without double-wrapping.
func Pack(ctx context.Context, p *portal.Portal, kwargs KwArgs) (PackedKwArgs, error) {
	packed := make(PackedKwArgs, len(kwargs))
	for name, v := range kwargs {
		addr, err := p.StoreValue(ctx, v)
		if err != nil {
			return nil, fmt.Errorf("pack argument %q: %w", name, err)
		}
		packed[name] = addr
	}
	return packed, nil
}

// Unpack resolves every packed argument back to its value through the
// given portal.
func (pk PackedKwArgs) Unpack(ctx context.Context, p *portal.Portal) (KwArgs, error) {
	kwargs := make(KwArgs, len(pk))
	for name, addr := range pk {
		v, err := p.ResolveValue(ctx, addr)
		if err != nil {
			return nil, fmt.Errorf("unpack argument %q: %w", name, err)
		}
		kwargs[name] = v
	}
	return kwargs, nil
}

// refs converts packed arguments to their serializable form, ready for
// canonical encoding inside a call signature.
func (pk PackedKwArgs) refs() map[string]AddrRef {
	out := make(map[string]AddrRef, len(pk))
	for name, addr := range pk {
		out[name] = AddrRef{
			Descriptor: addr.Descriptor(),
			Signature:  addr.Signature(),
		}
	}
	return out
}
