package address

import (
	"fmt"
	"reflect"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Descriptorer lets a type override its address descriptor.
type Descriptorer interface {
	AddrDescriptor() string
}

// BuildDescriptor creates a short human-readable summary of a value.
//
// The name follows the value's canonical JSON type, not its concrete Go
// type, so a value keeps the same descriptor after a store round trip
// (an int written as canonical JSON comes back as a float64). When the
// value has a length, a "_len_N" hint is appended: [1,2,3] and
// [1,2,3,4] stay visually distinguishable. This is a debugging aid —
// uniqueness rests on the signature alone.
func BuildDescriptor(v any) string {
	if d, ok := v.(Descriptorer); ok {
		return sanitizeDescriptor(d.AddrDescriptor())
	}
	if v == nil {
		return "none"
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return "none"
		}
		rv = rv.Elem()
	}

	var name string
	switch rv.Kind() {
	case reflect.Bool:
		name = "bool"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		name = "number"
	case reflect.String:
		name = fmt.Sprintf("str_len_%d", rv.Len())
	case reflect.Slice, reflect.Array:
		name = fmt.Sprintf("list_len_%d", rv.Len())
	case reflect.Map:
		name = fmt.Sprintf("dict_len_%d", rv.Len())
	case reflect.Struct:
		name = strings.ToLower(rv.Type().Name())
		if name == "" {
			name = "dict"
		}
	default:
		name = strings.ToLower(rv.Kind().String())
	}

	return sanitizeDescriptor(name)
}

// sanitizeDescriptor NFC-normalizes the descriptor and replaces every
// character outside [a-z0-9_] with an underscore, keeping descriptors
// safe as path and key components.
func sanitizeDescriptor(s string) string {
	s = strings.ToLower(norm.NFC.String(s))
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}
