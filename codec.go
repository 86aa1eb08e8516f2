package gemini

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// MaxRequestLineLength is the recommended upper bound on a request line's
// length in octets (spec.md §3, "Request URL").
const MaxRequestLineLength = 1024

// MaxStatusLineLength bounds the serialized status line (spec.md §3,
// "Response").
const MaxStatusLineLength = 1024

// ReadRequestLine consumes octets from r until a CRLF terminator, matching
// the teacher's readHeader/getRequest byte-at-a-time scan (kulak-gemini
// gemini.go, server.go): a lone LF is a hard error, EOF before any CRLF is
// a hard error, and an empty line is reported as ErrInfoRequest so callers
// can serve the dialect capability document (spec.md §4.6).
func ReadRequestLine(r io.Reader, maxLen int) (string, error) {
	var line []byte
	buf := make([]byte, 1)
	prevCR := false

	for {
		n, err := r.Read(buf)
		if n == 0 && err != nil {
			if err == io.EOF && len(line) == 0 && !prevCR {
				return "", fmt.Errorf("%w: connection closed before CRLF", ErrMalformedRequest)
			}
			return "", err
		}
		b := buf[0]

		if b == '\n' {
			if !prevCR {
				return "", fmt.Errorf("%w: bare LF without preceding CR", ErrMalformedRequest)
			}
			if len(line) == 0 {
				return "", ErrInfoRequest
			}
			return string(line), nil
		}
		if prevCR {
			// A lone CR not followed by LF is just data; keep it.
			line = append(line, '\r')
			prevCR = false
		}
		if b == '\r' {
			prevCR = true
			continue
		}
		line = append(line, b)
		if len(line) > maxLen {
			return "", ErrRequestTooLong
		}
	}
}

// WriteResponse serializes a status line and, for responses that carry one,
// a body, per spec.md §4.1. Status is clamped to 10-69 (else rewritten to
// 42 with a diagnostic message, spec.md §8 Invariant 1); control characters
// in meta are replaced with spaces (§8 Invariant 5); an empty meta on a
// success code defaults to "text/gemini; charset=utf-8".
func WriteResponse(w io.Writer, status StatusCode, meta string, body io.Reader) error {
	status, meta = clampStatus(status, meta)
	meta = sanitizeStatusLine(meta)
	if status.IsSuccess() && meta == "" {
		meta = "text/gemini; charset=utf-8"
	}
	if len(meta) > MaxStatusLineLength {
		meta = meta[:MaxStatusLineLength]
	}

	bw, ok := w.(*bufio.Writer)
	if !ok {
		bw = bufio.NewWriter(w)
	}

	if _, err := fmt.Fprintf(bw, "%d %s\r\n", int(status), meta); err != nil {
		return err
	}

	if body != nil && status.IsSuccess() {
		buf := make([]byte, 32*1024)
		if _, err := io.CopyBuffer(bw, body, buf); err != nil {
			return err
		}
	}

	return bw.Flush()
}

// sanitizeStatusLine replaces control characters (0x00-0x1F) with spaces
// (spec.md §4.1, §8 Invariant 5).
func sanitizeStatusLine(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r <= 0x1f {
			b.WriteByte(' ')
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ExtendedMeta is an ordered set of key/value attributes appended to a
// success response's meta line when the dialect allows it (spec.md §4.1,
// "Extended meta").
type ExtendedMeta struct {
	Type   string
	keys   []string
	values map[string]string
}

// NewExtendedMeta creates an extended meta builder for the given base type
// (e.g. "text/plain").
func NewExtendedMeta(typ string) *ExtendedMeta {
	return &ExtendedMeta{Type: typ, values: map[string]string{}}
}

// Set adds or replaces a key/value attribute. Insertion order is preserved
// for first-seen keys.
func (m *ExtendedMeta) Set(key, value string) *ExtendedMeta {
	if _, exists := m.values[key]; !exists {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
	return m
}

// String renders "type; k1=v1; k2=v2; ...". Keys are always percent-encoded;
// values are percent-encoded if they contain control characters, and
// additionally quoted if they contain whitespace or a semicolon. Empty
// values are rendered as "".
func (m *ExtendedMeta) String() string {
	var b strings.Builder
	b.WriteString(m.Type)
	for _, k := range m.keys {
		v := m.values[k]
		b.WriteString("; ")
		b.WriteString(percentEncodeKey(k))
		b.WriteByte('=')
		b.WriteString(formatMetaValue(v))
	}
	return b.String()
}

func percentEncodeKey(k string) string {
	var b strings.Builder
	for _, r := range k {
		if isUnreservedMetaByte(r) {
			b.WriteRune(r)
		} else {
			fmt.Fprintf(&b, "%%%02X", r)
		}
	}
	return b.String()
}

func formatMetaValue(v string) string {
	if v == "" {
		return `""`
	}
	hasControl := strings.ContainsFunc(v, func(r rune) bool { return r <= 0x1f })
	needsQuote := strings.ContainsAny(v, " \t\n\v\f\r;")

	escaped := v
	if hasControl {
		var b strings.Builder
		for _, r := range v {
			if r <= 0x1f {
				fmt.Fprintf(&b, "%%%02X", r)
			} else {
				b.WriteRune(r)
			}
		}
		escaped = b.String()
	}
	if needsQuote {
		return `"` + escaped + `"`
	}
	return escaped
}

func isUnreservedMetaByte(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '-' || r == '_' || r == '.' || r == '~':
		return true
	}
	return false
}
