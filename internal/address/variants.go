package address

import "fmt"

// ValueAddr is a handle on a stored arbitrary value: the address
// identity plus a transient resolution cache.
//
// The cache is deliberately excluded from equality — compare handles
// with HashAddr.Equal.
type ValueAddr struct {
	HashAddr
	Cache Cache
}

// NewValueAddr wraps a KindValue address in a handle.
func NewValueAddr(a HashAddr) (*ValueAddr, error) {
	if a.Kind() != KindValue {
		return nil, fmt.Errorf("cannot make a value handle from a %s address", a.Kind())
	}
	return &ValueAddr{HashAddr: a}, nil
}

// ValueAddrFromStrings reconstructs a value handle from its two string
// parts, e.g. when a key read back from a store needs to become an
// address again.
func ValueAddrFromStrings(descriptor, signature string) (*ValueAddr, error) {
	a, err := New(KindValue, descriptor, signature)
	if err != nil {
		return nil, err
	}
	return &ValueAddr{HashAddr: a}, nil
}

// ResultAddr is a handle on the outcome slot of one (function,
// canonical arguments) pair, independent of how many times or where the
// call is executed.
type ResultAddr struct {
	HashAddr
	Cache Cache
}

// NewResultAddr wraps a KindResult address in a handle.
func NewResultAddr(a HashAddr) (*ResultAddr, error) {
	if a.Kind() != KindResult {
		return nil, fmt.Errorf("cannot make a result handle from a %s address", a.Kind())
	}
	return &ResultAddr{HashAddr: a}, nil
}

// ResultAddrFromStrings reconstructs a result handle from its two
// string parts.
func ResultAddrFromStrings(descriptor, signature string) (*ResultAddr, error) {
	a, err := New(KindResult, descriptor, signature)
	if err != nil {
		return nil, err
	}
	return &ResultAddr{HashAddr: a}, nil
}
