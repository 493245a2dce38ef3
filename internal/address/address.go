// Package address defines hash-based addresses for content-addressed
// storage.
//
// A HashAddr names content, not location: two values with the same
// declared type and the same canonical content always produce the same
// address, in every process sharing a store. The set of address kinds
// is closed — an address either names a stored value (KindValue) or the
// outcome slot of a function call (KindResult).
package address

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/memoir/internal/canonical"
)

// MinSignatureLength is the shortest accepted hash signature: the
// signature must at least split into a shard (3), a subshard (3) and a
// non-empty tail.
const MinSignatureLength = 7

// Kind discriminates the closed set of address variants.
type Kind int

const (
	// KindValue addresses an arbitrary stored value.
	KindValue Kind = iota + 1
	// KindResult addresses the outcome slot of one (function, canonical
	// arguments) pair.
	KindResult
)

// String returns the kind's storage label.
func (k Kind) String() string {
	switch k {
	case KindValue:
		return "value"
	case KindResult:
		return "result"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// HashAddr is a globally unique, immutable hash-based address.
//
// It consists of a human-readable descriptor and a base32 hash
// signature. The descriptor is a debugging aid; uniqueness rests
// entirely on the signature. The signature is split into a shard, a
// subshard and a tail to keep per-directory fan-out bounded on
// filesystems and object stores.
type HashAddr struct {
	kind       Kind
	descriptor string
	signature  string
}

// New constructs an address from its parts, validating them.
func New(kind Kind, descriptor, signature string) (HashAddr, error) {
	if kind != KindValue && kind != KindResult {
		return HashAddr{}, fmt.Errorf("invalid address kind %d", kind)
	}
	if descriptor == "" {
		return HashAddr{}, fmt.Errorf("address descriptor must not be empty")
	}
	if len(signature) < MinSignatureLength {
		return HashAddr{}, fmt.Errorf(
			"address signature %q too short: need at least %d characters",
			signature, MinSignatureLength)
	}
	return HashAddr{kind: kind, descriptor: descriptor, signature: signature}, nil
}

// Kind returns the address variant.
func (a HashAddr) Kind() Kind { return a.kind }

// Descriptor returns the human-readable descriptor.
func (a HashAddr) Descriptor() string { return a.descriptor }

// Signature returns the full hash signature.
func (a HashAddr) Signature() string { return a.signature }

// Shard returns the first 3 signature characters.
func (a HashAddr) Shard() string { return a.signature[:3] }

// Subshard returns signature characters 3..6.
func (a HashAddr) Subshard() string { return a.signature[3:6] }

// Tail returns the signature remainder after the subshard.
func (a HashAddr) Tail() string { return a.signature[6:] }

// IsZero reports whether the address is the zero value.
func (a HashAddr) IsZero() bool { return a.kind == 0 }

// Equal reports address identity: same kind, same descriptor, same
// signature. Caches never participate in equality.
func (a HashAddr) Equal(other HashAddr) bool {
	return a.kind == other.kind &&
		a.descriptor == other.descriptor &&
		a.signature == other.signature
}

// KeyParts returns the storage key tuple (descriptor, shard, subshard,
// tail) under which the addressed entry is persisted.
func (a HashAddr) KeyParts() [4]string {
	return [4]string{a.descriptor, a.Shard(), a.Subshard(), a.Tail()}
}

// String renders the address for logs and diagnostics.
func (a HashAddr) String() string {
	return fmt.Sprintf("%s:%s@%s", a.kind, a.descriptor, a.signature)
}

// MarshalJSON serializes the address as its three parts, so an address
// used as a plain value (for example inside a nested argument bundle)
// survives canonical encoding instead of collapsing to an empty object.
func (a HashAddr) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{
		"kind":       a.kind.String(),
		"descriptor": a.descriptor,
		"signature":  a.signature,
	})
}

// OfValue computes the value address of an arbitrary value: descriptor
// from the declared type plus a length hint, signature from the
// canonical content hash. Pure — nothing is stored.
func OfValue(v any) (HashAddr, error) {
	sig, err := canonical.Signature(v)
	if err != nil {
		return HashAddr{}, fmt.Errorf("address of value: %w", err)
	}
	return New(KindValue, BuildDescriptor(v), sig)
}
