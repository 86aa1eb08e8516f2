package gemini

import (
	"fmt"
	"net/url"
	"strings"
)

// DefaultPort is the default Gemini port, used when a request URL omits one.
const DefaultPort = "1965"

// ParseRequestURL parses a raw request line into a URL, enforcing the
// invariants of spec.md §3/§4.1: the scheme must be gemini (case
// insensitively), the raw bytes must contain no control characters or
// unescaped whitespace, and the port defaults to 1965.
func ParseRequestURL(raw string) (*url.URL, error) {
	if err := checkRawBytes(raw); err != nil {
		return nil, err
	}

	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	if !strings.EqualFold(u.Scheme, SchemaGemini) {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrMalformedRequest, u.Scheme)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Path == "" {
		u.Path = "/"
	}
	if u.Port() == "" {
		u.Host = u.Hostname() + ":" + DefaultPort
	}
	return u, nil
}

func checkRawBytes(raw string) error {
	for _, r := range raw {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("%w: control character in request line", ErrMalformedRequest)
		}
		if r == ' ' || r == '\t' {
			return fmt.Errorf("%w: unescaped whitespace in request line", ErrMalformedRequest)
		}
	}
	return nil
}
