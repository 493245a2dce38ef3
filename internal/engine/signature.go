package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/memoir/internal/address"
	"github.com/roach88/memoir/internal/canonical"
	"github.com/roach88/memoir/internal/portal"
)

const (
	resultAddrSuffix    = "_result_addr"
	callSignatureSuffix = "_callsignature"
)

// AddrRef is the serializable form of an address: the two strings it
// can be reconstructed from.
type AddrRef struct {
	Descriptor string `json:"descriptor"`
	Signature  string `json:"signature"`
}

// FnRef identifies a function inside a call signature.
type FnRef struct {
	Name       string `json:"name"`
	Descriptor string `json:"descriptor"`
	Signature  string `json:"signature"`
}

// CallSignature canonicalizes one (function, arguments) pair. It is
// itself content-addressed: the signature is stored as a value, and the
// call's result address is derived from that value's address.
type CallSignature struct {
	Function  FnRef              `json:"function"`
	Arguments map[string]AddrRef `json:"arguments"`
}

// AddrDescriptor names stored call signatures after their function.
func (s CallSignature) AddrDescriptor() string {
	return s.Function.Name + callSignatureSuffix
}

// NewCallSignature packs the arguments into the portal and binds them
// to the function's identity.
func NewCallSignature(ctx context.Context, p *portal.Portal, fn *Fn, kwargs KwArgs) (CallSignature, PackedKwArgs, error) {
	packed, err := Pack(ctx, p, kwargs)
	if err != nil {
		return CallSignature{}, nil, err
	}
	identity := fn.Identity()
	sig := CallSignature{
		Function: FnRef{
			Name:       fn.Name(),
			Descriptor: identity.Descriptor(),
			Signature:  identity.Signature(),
		},
		Arguments: packed.refs(),
	}
	return sig, packed, nil
}

// PackedArgs reconstructs the packed argument handles referenced by the
// signature.
func (s CallSignature) PackedArgs() (PackedKwArgs, error) {
	packed := make(PackedKwArgs, len(s.Arguments))
	for name, ref := range s.Arguments {
		addr, err := address.ValueAddrFromStrings(ref.Descriptor, ref.Signature)
		if err != nil {
			return nil, fmt.Errorf("signature argument %q: %w", name, err)
		}
		packed[name] = addr
	}
	return packed, nil
}

// ResultAddrOf stores the call signature as a value and derives the
// result address from it: the result descriptor names the function, the
// result signature is the signature value's own hash. Argument
// insertion order cannot affect the outcome — canonical encoding sorts.
func ResultAddrOf(ctx context.Context, p *portal.Portal, sig CallSignature) (*address.ResultAddr, error) {
	sigAddr, err := p.StoreValue(ctx, sig)
	if err != nil {
		return nil, fmt.Errorf("store call signature: %w", err)
	}
	a, err := address.New(address.KindResult,
		sig.Function.Name+resultAddrSuffix, sigAddr.Signature())
	if err != nil {
		return nil, err
	}
	return address.NewResultAddr(a)
}

// SignatureValueAddr is the explicit conversion from a result address
// to the value address of its stored call signature: same hash, the
// descriptor suffix swapped back.
func SignatureValueAddr(r *address.ResultAddr) (*address.ValueAddr, error) {
	descriptor := strings.TrimSuffix(r.Descriptor(), resultAddrSuffix) + callSignatureSuffix
	return address.ValueAddrFromStrings(descriptor, r.Signature())
}

// loadSignature resolves a result address back to its call signature.
func loadSignature(ctx context.Context, p *portal.Portal, r *address.ResultAddr) (CallSignature, error) {
	sigAddr, err := SignatureValueAddr(r)
	if err != nil {
		return CallSignature{}, err
	}
	raw, err := p.ResolveValue(ctx, sigAddr)
	if err != nil {
		return CallSignature{}, fmt.Errorf("load call signature for %s: %w", r, err)
	}
	// resolved values come back as generic JSON; re-encode into the
	// typed signature
	data, err := canonical.Encode(raw)
	if err != nil {
		return CallSignature{}, err
	}
	var sig CallSignature
	if err := canonical.Decode(data, &sig); err != nil {
		return CallSignature{}, fmt.Errorf("decode call signature for %s: %w", r, err)
	}
	return sig, nil
}
