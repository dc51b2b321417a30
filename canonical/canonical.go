// Package canonical implements RFC 8785 JSON Canonicalization Scheme (JCS)
// encoding and the content-addressed stable_hash built on top of it. Every
// hash recorded anywhere in Landscape (source_data_hash, input_hash,
// output_hash, request_hash, response_hash, content_hash, config hashes,
// topology hashes) is stable_hash(Canonicalize(value)).
//
// encoding/json is not used for the wire bytes: its map key ordering,
// number formatting, and string escaping are not RFC 8785 compliant, and
// byte-exactness here is the entire point of the package. See DESIGN.md for
// the full rationale.
package canonical

import (
	"encoding/base64"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/google/uuid"
)

// CanonicalVersion is written into every Run.canonical_version so that a
// hash computed by a future, possibly incompatible, encoder version can be
// told apart from one computed by this one.
const CanonicalVersion = "jcs-rfc8785-v1"

// Value is anything Canonicalize accepts: nil, bool, integer of any Go width,
// float64, string, []byte, time.Time, uuid.UUID, []Value-ish slices, or
// map[string]Value-ish maps. Accepted container element types are checked at
// encode time, not by this alias.
type Value = any

// bytesWrapperKey is the sentinel map key used to wrap raw byte strings per
// spec.md's {"__bytes__": base64(data)} rule.
const bytesWrapperKey = "__bytes__"

// Canonicalize encodes v as RFC 8785 canonical JSON bytes. It never falls
// back to a lossy representation: unsupported types and non-finite reals
// return a typed error.
func Canonicalize(v Value) ([]byte, error) {
	var buf strings.Builder
	if err := encodeValue(&buf, v); err != nil {
		return nil, err
	}
	return []byte(buf.String()), nil
}

// StableHash returns the lowercase hex SHA-256 of Canonicalize(v). It panics
// only if Canonicalize would return an error — callers that accept
// operator-controlled values must call StableHashErr themselves; this
// form exists for the common case where the caller already knows v is
// well-formed (e.g. re-hashing a value this process just constructed).
//
// Most callers should use StableHashErr, which returns the error instead of
// panicking.
func StableHash(v Value) string {
	h, err := StableHashErr(v)
	if err != nil {
		panic(err)
	}
	return h
}

// StableHashErr returns sha256(Canonicalize(v)) as lowercase hex, or the
// canonicalization error.
func StableHashErr(v Value) (string, error) {
	b, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	return sha256Hex(b), nil
}

func encodeValue(buf *strings.Builder, v Value) error {
	switch x := v.(type) {
	case nil:
		buf.WriteString("null")
		return nil
	case bool:
		if x {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case string:
		encodeString(buf, x)
		return nil
	case []byte:
		return encodeValue(buf, map[string]Value{bytesWrapperKey: base64.StdEncoding.EncodeToString(x)})
	case time.Time:
		encodeString(buf, x.UTC().Format("2006-01-02T15:04:05.999999999Z07:00"))
		return nil
	case uuid.UUID:
		encodeString(buf, x.String())
		return nil
	case [16]byte:
		return encodeValue(buf, uuid.UUID(x))
	case int:
		buf.WriteString(strconv.FormatInt(int64(x), 10))
		return nil
	case int8:
		buf.WriteString(strconv.FormatInt(int64(x), 10))
		return nil
	case int16:
		buf.WriteString(strconv.FormatInt(int64(x), 10))
		return nil
	case int32:
		buf.WriteString(strconv.FormatInt(int64(x), 10))
		return nil
	case int64:
		buf.WriteString(strconv.FormatInt(x, 10))
		return nil
	case uint:
		buf.WriteString(strconv.FormatUint(uint64(x), 10))
		return nil
	case uint8:
		buf.WriteString(strconv.FormatUint(uint64(x), 10))
		return nil
	case uint16:
		buf.WriteString(strconv.FormatUint(uint64(x), 10))
		return nil
	case uint32:
		buf.WriteString(strconv.FormatUint(uint64(x), 10))
		return nil
	case uint64:
		buf.WriteString(strconv.FormatUint(x, 10))
		return nil
	case float32:
		return encodeFloat(buf, float64(x))
	case float64:
		return encodeFloat(buf, x)
	case []Value:
		return encodeArray(buf, x)
	case map[string]Value:
		return encodeObject(buf, x)
	case map[Value]Value:
		obj := make(map[string]Value, len(x))
		for k, val := range x {
			s, ok := k.(string)
			if !ok {
				return &nonStringKeyError{key: k}
			}
			obj[s] = val
		}
		return encodeObject(buf, obj)
	}

	// Fall back to reflection-free handling of commonly produced slice/map
	// shapes ([]string, []int, map[string]string, ...) by asserting the
	// narrowest useful interfaces rather than reaching for reflect: the
	// spec treats "sequence" and "mapping" as closed categories, so we
	// enumerate the shapes this codebase actually produces.
	if arr, ok := asAnySlice(v); ok {
		return encodeArray(buf, arr)
	}
	if obj, ok := asStringMap(v); ok {
		return encodeObject(buf, obj)
	}

	return &unsupportedTypeError{value: v}
}

func encodeArray(buf *strings.Builder, arr []Value) error {
	buf.WriteByte('[')
	for i, el := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encodeValue(buf, el); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}

func encodeObject(buf *strings.Builder, obj map[string]Value) error {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	// RFC 8785 §3.2.3: sort by UTF-16 code unit order. Go strings are
	// UTF-8, whose byte order is code point order; that differs from UTF-16
	// order when one key has a character above U+FFFF (a surrogate pair)
	// where another has one in U+E000..U+FFFF, so keys are compared as
	// UTF-16 code units.
	sort.Slice(keys, func(i, j int) bool {
		a, b := utf16.Encode([]rune(keys[i])), utf16.Encode([]rune(keys[j]))
		for k := 0; k < len(a) && k < len(b); k++ {
			if a[k] != b[k] {
				return a[k] < b[k]
			}
		}
		return len(a) < len(b)
	})

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		encodeString(buf, k)
		buf.WriteByte(':')
		if err := encodeValue(buf, obj[k]); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

// encodeFloat implements ECMA-262 section 7.1.12.1 ("NumberToString"),
// which RFC 8785 mandates for all JSON numbers including integral floats.
func encodeFloat(buf *strings.Builder, f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return &nonFiniteNumberError{value: f}
	}
	if f == 0 {
		if math.Signbit(f) {
			buf.WriteString("0") // JCS normalizes -0 to 0
		} else {
			buf.WriteString("0")
		}
		return nil
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e21 {
		// Integral value: render without exponent or trailing ".0".
		buf.WriteString(strconv.FormatFloat(f, 'f', -1, 64))
		return nil
	}
	if abs := math.Abs(f); abs >= 1e-6 && abs < 1e21 {
		// ECMA-262 uses plain decimal notation in this range.
		buf.WriteString(strconv.FormatFloat(f, 'f', -1, 64))
		return nil
	}
	s := strconv.FormatFloat(f, 'e', -1, 64)
	s = normalizeExponent(s)
	buf.WriteString(s)
	return nil
}

// normalizeExponent rewrites Go's %e exponent form ("1e+21", "1e-07") into
// ECMA-262's ("1e+21", "1e-7") — Go zero-pads the exponent to two digits,
// ECMA-262 does not, and always requires an explicit sign.
func normalizeExponent(s string) string {
	idx := strings.IndexAny(s, "eE")
	if idx < 0 {
		return s
	}
	mantissa, exp := s[:idx], s[idx+1:]
	sign := "+"
	if len(exp) > 0 && (exp[0] == '+' || exp[0] == '-') {
		if exp[0] == '-' {
			sign = "-"
		}
		exp = exp[1:]
	}
	exp = strings.TrimLeft(exp, "0")
	if exp == "" {
		exp = "0"
	}
	return mantissa + "e" + sign + exp
}

// encodeString writes s as a JSON string literal using the shortest escape
// form RFC 8785 requires: only the mandatory escapes (", \, and control
// characters) plus \uXXXX for anything else that must be escaped; no
// over-escaping of e.g. forward slashes.
func encodeString(buf *strings.Builder, s string) {
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(buf, `\u%04x`, r)
			} else {
				buf.WriteRune(r)
			}
		}
	}
	buf.WriteByte('"')
}

func asAnySlice(v Value) ([]Value, bool) {
	switch x := v.(type) {
	case []string:
		out := make([]Value, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out, true
	case []int:
		out := make([]Value, len(x))
		for i, n := range x {
			out[i] = n
		}
		return out, true
	case []float64:
		out := make([]Value, len(x))
		for i, n := range x {
			out[i] = n
		}
		return out, true
	case []map[string]Value:
		out := make([]Value, len(x))
		for i, m := range x {
			out[i] = m
		}
		return out, true
	}
	return nil, false
}

func asStringMap(v Value) (map[string]Value, bool) {
	switch x := v.(type) {
	case map[string]string:
		out := make(map[string]Value, len(x))
		for k, s := range x {
			out[k] = s
		}
		return out, true
	case map[string]int:
		out := make(map[string]Value, len(x))
		for k, n := range x {
			out[k] = n
		}
		return out, true
	}
	return nil, false
}
