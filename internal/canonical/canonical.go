// Package canonical produces the deterministic byte encoding used for both
// signing and chain hashing. Verification must re-canonicalize stored JSON,
// never trust its formatting: Go maps have random iteration order and
// PostgreSQL JSONB may reorder keys.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"unicode/utf8"

	"github.com/inkform/trustcore/internal/shared/errors"
)

// Marshal encodes v as canonical JSON: UTF-8, object keys sorted ascending
// by codepoint, no insignificant whitespace, shortest round-trippable
// numbers, minimal string escaping, no trailing newline. Arrays keep
// insertion order. Unrepresentable values (NaN, Inf, invalid UTF-8) fail
// with ErrCanonicalize.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := encode(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// HashHex returns lowercase hex SHA-256 of b.
func HashHex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// HashB64 returns standard base64 SHA-256 of b.
func HashB64(b []byte) string {
	sum := sha256.Sum256(b)
	return base64.StdEncoding.EncodeToString(sum[:])
}

func encode(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
		return nil

	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil

	case string:
		return encodeString(buf, val)

	case json.Number:
		return encodeNumber(buf, string(val))

	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return errors.Canonicalize(fmt.Sprintf("unrepresentable number %v", val))
		}
		buf.WriteString(strconv.FormatFloat(val, 'g', -1, 64))
		return nil

	case int:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
		return nil

	case int64:
		buf.WriteString(strconv.FormatInt(val, 10))
		return nil

	case uint64:
		buf.WriteString(strconv.FormatUint(val, 10))
		return nil

	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeString(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := encode(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil

	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encode(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil

	default:
		// Structs, pointers and typed values go through encoding/json once
		// to apply tags and omitempty, then re-enter as a generic tree.
		// UseNumber preserves the original numeric literal.
		return encodeViaJSON(buf, v)
	}
}

func encodeViaJSON(buf *bytes.Buffer, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return errors.Canonicalize(err.Error())
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return errors.Canonicalize(err.Error())
	}
	return encode(buf, tree)
}

// encodeNumber normalizes a JSON numeric literal to its shortest
// round-trippable decimal form.
func encodeNumber(buf *bytes.Buffer, lit string) error {
	if i, err := strconv.ParseInt(lit, 10, 64); err == nil {
		buf.WriteString(strconv.FormatInt(i, 10))
		return nil
	}
	f, err := strconv.ParseFloat(lit, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return errors.Canonicalize(fmt.Sprintf("unrepresentable number %q", lit))
	}
	buf.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
	return nil
}

/// encodeString escapes only the minimal set: quote, backslash, and control
// characters as \u00XX. encoding/json's HTML escaping would make the bytes
// implementation-specific.
func encodeString(buf *bytes.Buffer, s string) error {
	if !utf8.ValidString(s) {
		return errors.Canonicalize("string is not valid UTF-8")
	}

	buf.WriteByte('"')
	for _, r := range s {
		switch {
		case r == '"':
			buf.WriteString(`\"`)
		case r == '\\':
			buf.WriteString(`\\`)
		case r < 0x20:
			fmt.Fprintf(buf, `\u%04x`, r)
		default:
			buf.WriteRune(r)
		}
	}
	buf.WriteByte('"')
	return nil
}
