// Package canonical produces the canonical byte form and the hash
// signatures used for content addressing.
//
// Canonical JSON (RFC 8785) is the ONLY serialization used for identity
// computation. Two values that encode to the same canonical bytes are,
// by definition, the same content.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// SignatureLength is the length of every hash signature, in characters.
// Signatures are the first SignatureLength characters of the base32
// transcoding of a sha256 digest.
const SignatureLength = 22

// Encode serializes a value to canonical JSON per RFC 8785.
//
// The result is deterministic: object keys are sorted by UTF-16 code
// units and numbers are normalized to their shortest ES6 form, so an
// int 10 and a float64 10.0 encode identically.
func Encode(v any) ([]byte, error) {
	raw, err := marshalNoHTMLEscape(v)
	if err != nil {
		return nil, fmt.Errorf("canonical encode: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonical transform: %w", err)
	}
	return canonical, nil
}

// Decode deserializes canonical JSON bytes into out.
// Numbers decode as float64, objects as map[string]any.
func Decode(data []byte, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("canonical decode: %w", err)
	}
	return nil
}

// Signature computes the hash signature of a value's canonical form.
func Signature(v any) (string, error) {
	data, err := Encode(v)
	if err != nil {
		return "", err
	}
	return SignatureOfBytes(data), nil
}

// SignatureOfBytes computes the hash signature of raw bytes.
// The digest is sha256, transcoded to the base32 alphabet and
// truncated to SignatureLength characters.
func SignatureOfBytes(data []byte) string {
	digest := sha256.Sum256(data)
	return truncateSignature(digestToBase32(digest[:]))
}

func truncateSignature(s string) string {
	if len(s) > SignatureLength {
		return s[:SignatureLength]
	}
	return s
}

// marshalNoHTMLEscape marshals without HTML escaping, so < > & survive
// intact before the RFC 8785 transform.
func marshalNoHTMLEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	result := buf.Bytes()
	if len(result) > 0 && result[len(result)-1] == '\n' {
		result = result[:len(result)-1]
	}
	return result, nil
}
