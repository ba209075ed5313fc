// Package canonical provides RFC 8785 canonical JSON encoding and
// domain-separated SHA-256 hashing used as the pre-image of every
// signature this module produces.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/forgeward/kernel/pkg/kernelerr"
)

// Value is a restricted JSON-like value: nil, bool, string, int64, float64
// (rejected unless floats are explicitly allowed; non-finite values are
// always rejected), []Value, or map[string]Value. Any other Go type is rejected at marshal time.
type Value = any

const errCodeInvalid kernelerr.Code = "secure_layer.hash.invalid"

func invalid(reason string) error {
	return kernelerr.New(kernelerr.ClassInputShape, errCodeInvalid, reason, nil)
}

// Bytes returns the RFC 8785 canonical JSON representation of v: map keys
// sorted by UTF-8 codepoint, minimal separators, no HTML escaping, UTF-8
// output. Floating-point values are rejected unless allowFloats is true,
// in which case NaN/Infinity are still rejected.
func Bytes(v Value, allowFloats bool) ([]byte, error) {
	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: pre-marshal failed: %w", err)
	}

	var generic any
	dec := json.NewDecoder(bytes.NewReader(intermediate))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonical: intermediate decode failed: %w", err)
	}

	if err := validateValue(generic, allowFloats); err != nil {
		return nil, err
	}
	return marshalRecursive(generic)
}

// RequireMapping returns Bytes(v, allowFloats) but additionally requires
// that v itself encodes to a JSON object, matching the original's
// canon_json_bytes_v1 mapping requirement.
func RequireMapping(v Value, allowFloats bool) ([]byte, error) {
	b, err := Bytes(v, allowFloats)
	if err != nil {
		return nil, err
	}
	if len(b) == 0 || b[0] != '{' {
		return nil, invalid("mapping_required")
	}
	return b, nil
}

// DomainHash computes SHA-256(domain || 0x0A || canonical_bytes(obj))
// rendered as lowercase hex. obj must canonicalize to a JSON object.
func DomainHash(domain string, obj Value) (string, error) {
	if domain == "" {
		return "", invalid("domain")
	}
	body, err := RequireMapping(obj, false)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x0A})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil)), nil
}

func validateValue(v any, allowFloats bool) error {
	switch t := v.(type) {
	case nil, bool, string:
		return nil
	case json.Number:
		if !allowFloats {
			if _, err := t.Int64(); err != nil {
				return invalid("float_forbidden")
			}
			return nil
		}
		f, err := t.Float64()
		if err != nil {
			return invalid("value_type")
		}
		if !math.IsInf(f, 0) && !math.IsNaN(f) {
			return nil
		}
		return invalid("non_finite_float")
	case []any:
		for _, item := range t {
			if err := validateValue(item, allowFloats); err != nil {
				return err
			}
		}
		return nil
	case map[string]any:
		for k, item := range t {
			_ = k // map keys from encoding/json are always strings already
			if err := validateValue(item, allowFloats); err != nil {
				return err
			}
		}
		return nil
	default:
		return invalid("value_type")
	}
}

func marshalRecursive(v any) ([]byte, error) {
	var buf bytes.Buffer
	switch t := v.(type) {
	case nil:
		return []byte("null"), nil
	case bool:
		if t {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case json.Number:
		return []byte(t.String()), nil
	case string:
		return marshalString(t)
	case []any:
		buf.WriteByte('[')
		for i, elem := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			b, err := marshalRecursive(elem)
			if err != nil {
				return nil, err
			}
			buf.Write(b)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := marshalString(k)
			if err != nil {
				return nil, err
			}
			buf.Write(kb)
			buf.WriteByte(':')

			vb, err := marshalRecursive(t[k])
			if err != nil {
				return nil, err
			}
			buf.Write(vb)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	default:
		return nil, invalid("value_type")
	}
}

func marshalString(s string) ([]byte, error) {
	var buf bytes.Buffer
	e := json.NewEncoder(&buf)
	e.SetEscapeHTML(false)
	if err := e.Encode(s); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}
