package vietqr

import (
	"fmt"
	"strings"
)

const maxFieldLength = 99

// Field is a single EMV tag-length-value entry.
type Field struct {
	Tag   string
	Value string
}

// EncodeTLV concatenates fields as tag, two-digit decimal length, value.
func EncodeTLV(fields ...Field) (string, error) {
	var b strings.Builder
	for _, f := range fields {
		if len(f.Tag) != 2 {
			return "", fmt.Errorf("%w: tag %q must be two characters", ErrFieldOverflow, f.Tag)
		}
		if len(f.Value) > maxFieldLength {
			return "", fmt.Errorf("%w: tag %s has %d bytes", ErrFieldOverflow, f.Tag, len(f.Value))
		}
		b.WriteString(f.Tag)
		b.WriteString(fmt.Sprintf("%02d", len(f.Value)))
		b.WriteString(f.Value)
	}
	return b.String(), nil
}

// ParseTLV splits one level of a TLV string. Nested templates are returned
// as raw values and can be parsed again.
func ParseTLV(s string) ([]Field, error) {
	fields := make([]Field, 0, 12)
	for i := 0; i < len(s); {
		if len(s)-i < 4 {
			return nil, fmt.Errorf("%w: truncated header at offset %d", ErrMalformedTLV, i)
		}
		tag := s[i : i+2]
		n, ok := fieldLength(s[i+2 : i+4])
		if !ok {
			return nil, fmt.Errorf("%w: bad length for tag %s", ErrMalformedTLV, tag)
		}
		start := i + 4
		if start+n > len(s) {
			return nil, fmt.Errorf("%w: tag %s overruns input", ErrMalformedTLV, tag)
		}
		fields = append(fields, Field{Tag: tag, Value: s[start : start+n]})
		i = start + n
	}
	return fields, nil
}

// fieldLength reads a two-digit decimal length. Signs and spaces are not
// digits.
func fieldLength(s string) (int, bool) {
	if len(s) != 2 || s[0] < '0' || s[0] > '9' || s[1] < '0' || s[1] > '9' {
		return 0, false
	}
	return int(s[0]-'0')*10 + int(s[1]-'0'), true
}

// Lookup returns the value of the first field with tag.
func Lookup(fields []Field, tag string) (string, bool) {
	for _, f := range fields {
		if f.Tag == tag {
			return f.Value, true
		}
	}
	return "", false
}
