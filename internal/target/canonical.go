package target

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"unicode/utf16"

	"golang.org/x/text/unicode/norm"
)

// MarshalCanonical serializes a value to canonical JSON: object keys
// sorted by UTF-16 code units, strings NFC-normalized, no HTML escaping
// and no insignificant whitespace. Two structurally equal values always
// produce identical bytes, which makes the output safe to hash.
//
// Supported values: nil, bool, int, int64, string, []any and
// map[string]any. Floats are rejected because their formatting is not
// canonical across implementations.
func MarshalCanonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")

	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}

	case int:
		fmt.Fprintf(buf, "%d", val)

	case int64:
		fmt.Fprintf(buf, "%d", val)

	case string:
		return encodeCanonicalString(buf, val)

	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')

	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			return utf16Less(norm.NFC.String(keys[i]), norm.NFC.String(keys[j]))
		})

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeCanonicalString(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := encodeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')

	case float32, float64:
		return fmt.Errorf("canonical json: float values are not supported")

	default:
		return fmt.Errorf("canonical json: unsupported type %T", v)
	}
	return nil
}

// encodeCanonicalString writes s as a JSON string, NFC-normalized and
// without HTML escaping.
func encodeCanonicalString(buf *bytes.Buffer, s string) error {
	var sb bytes.Buffer
	enc := json.NewEncoder(&sb)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(norm.NFC.String(s)); err != nil {
		return fmt.Errorf("canonical json: encode string: %w", err)
	}
	// Encoder appends a newline after every value.
	buf.Write(bytes.TrimRight(sb.Bytes(), "\n"))
	return nil
}

// utf16Less orders strings by their UTF-16 code units, the collation
// canonical JSON requires for object keys. It differs from byte order
// for characters outside the basic multilingual plane.
func utf16Less(a, b string) bool {
	ua := utf16.Encode([]rune(a))
	ub := utf16.Encode([]rune(b))
	for i := 0; i < len(ua) && i < len(ub); i++ {
		if ua[i] != ub[i] {
			return ua[i] < ub[i]
		}
	}
	return len(ua) < len(ub)
}
