// Package canon implements the canonical encoding used to compute event
// hashes: object keys sorted lexicographically, arrays in given order, no
// whitespace, numbers in shortest round-trip form, strings with a fixed
// escape policy. Two implementations on different platforms must produce
// byte-identical output for the same value.
package canon

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Encode renders v into its canonical byte form. Supported value shapes:
// nil, bool, string, int/int64/float64, []any, map[string]any, and any type
// implementing Canonicalizer.
func Encode(v interface{}) []byte {
	var sb strings.Builder
	encodeValue(&sb, v)
	return []byte(sb.String())
}

// Canonicalizer lets a type control its own canonical representation by
// returning a plain value built from the supported shapes above.
type Canonicalizer interface {
	Canonical() interface{}
}

func encodeValue(sb *strings.Builder, v interface{}) {
	switch t := v.(type) {
	case nil:
		sb.WriteString("null")
	case Canonicalizer:
		encodeValue(sb, t.Canonical())
	case bool:
		if t {
			sb.WriteString("true")
		} else {
			sb.WriteString("false")
		}
	case string:
		encodeString(sb, t)
	case int:
		sb.WriteString(strconv.FormatInt(int64(t), 10))
	case int64:
		sb.WriteString(strconv.FormatInt(t, 10))
	case uint64:
		sb.WriteString(strconv.FormatUint(t, 10))
	case float64:
		encodeFloat(sb, t)
	case []interface{}:
		sb.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				sb.WriteByte(',')
			}
			encodeValue(sb, e)
		}
		sb.WriteByte(']')
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			encodeString(sb, k)
			sb.WriteByte(':')
			encodeValue(sb, t[k])
		}
		sb.WriteByte('}')
	default:
		panic(fmt.Sprintf("canon: unsupported value type %T", v))
	}
}

// encodeFloat renders the shortest decimal that round-trips to the same
// float64.
func encodeFloat(sb *strings.Builder, f float64) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		panic("canon: non-finite float cannot be canonically encoded")
	}
	sb.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
}

// encodeString applies the fixed escape policy: backslash, quote, and the
// control characters get named or \u00XX escapes; everything else passes
// through verbatim (canonical encoding does not care about raw UTF-8
// bytes, only about producing one deterministic form per string).
func encodeString(sb *strings.Builder, s string) {
	sb.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\t':
			sb.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(sb, `\u%04x`, r)
			} else {
				sb.WriteRune(r)
			}
		}
	}
	sb.WriteByte('"')
}
