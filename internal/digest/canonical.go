// Package digest computes content hashes of architectural state.
//
// Values are serialised as RFC 8785 canonical JSON (object keys in UTF-16
// order, strings NFC-normalised, no floats, no null) and hashed with
// SHA-256 under a domain prefix. Two machines with equal architectural
// state always produce the same digest, which is what the journal and
// replay compare.
package digest

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"unicode/utf16"

	"golang.org/x/text/unicode/norm"
)

// Value is a canonical JSON value.
type Value interface {
	canonical()
}

type (
	String string
	Int    int64
	Bool   bool
	Array  []Value
	Object map[string]Value
)

func (String) canonical() {}
func (Int) canonical()    {}
func (Bool) canonical()   {}
func (Array) canonical()  {}
func (Object) canonical() {}

// Marshal produces canonical JSON for v.
func Marshal(v Value) ([]byte, error) {
	var b strings.Builder
	if err := marshal(&b, v); err != nil {
		return nil, err
	}
	return []byte(b.String()), nil
}

func marshal(b *strings.Builder, v Value) error {
	switch val := v.(type) {
	case nil:
		return fmt.Errorf("null is forbidden in canonical JSON")
	case String:
		writeString(b, string(val))
	case Int:
		b.WriteString(strconv.FormatInt(int64(val), 10))
	case Bool:
		b.WriteString(strconv.FormatBool(bool(val)))
	case Array:
		b.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := marshal(b, elem); err != nil {
				return fmt.Errorf("array[%d]: %w", i, err)
			}
		}
		b.WriteByte(']')
	case Object:
		b.WriteByte('{')
		for i, k := range val.SortedKeys() {
			if i > 0 {
				b.WriteByte(',')
			}
			writeString(b, k)
			b.WriteByte(':')
			if err := marshal(b, val[k]); err != nil {
				return fmt.Errorf("value for key %q: %w", k, err)
			}
		}
		b.WriteByte('}')
	default:
		return fmt.Errorf("unsupported type for canonical JSON: %T", v)
	}
	return nil
}

// writeString escapes only what RFC 8785 requires: quote, backslash and
// control characters. HTML characters and U+2028/U+2029 stay literal.
func writeString(b *strings.Builder, s string) {
	const hexDigits = "0123456789abcdef"

	b.WriteByte('"')
	for _, r := range norm.NFC.String(s) {
		switch {
		case r == '"':
			b.WriteString(`\"`)
		case r == '\\':
			b.WriteString(`\\`)
		case r == '\b':
			b.WriteString(`\b`)
		case r == '\f':
			b.WriteString(`\f`)
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\r':
			b.WriteString(`\r`)
		case r == '\t':
			b.WriteString(`\t`)
		case r < 0x20:
			b.WriteString(`\u00`)
			b.WriteByte(hexDigits[r>>4])
			b.WriteByte(hexDigits[r&0xf])
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
}

// SortedKeys returns keys in UTF-16 code unit order, which differs from
// Go's byte order for characters outside the BMP.
func (obj Object) SortedKeys() []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b string) int {
		return slices.Compare(utf16.Encode([]rune(a)), utf16.Encode([]rune(b)))
	})
	return keys
}
