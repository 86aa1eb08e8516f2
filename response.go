package gemini

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ClientResponse is a parsed Gemini response as seen from the client side
// of the wire (used by the test client in client.go). Grounded on the
// teacher's client Response type, trimmed to the fields a Gemini+ test
// client actually needs.
type ClientResponse struct {
	Status StatusCode
	Meta   string
	Body   io.ReadCloser
}

// readClientResponse parses "<code><SP><meta>CRLF[body]" from r, leaving
// the remainder of r as the Body (spec.md §6.2).
func readClientResponse(r io.Reader) (*ClientResponse, error) {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}

	line, err := br.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("gemini: failed to read response header: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")

	fields := strings.SplitN(line, " ", 2)
	if len(fields) == 0 {
		return nil, fmt.Errorf("gemini: empty response header")
	}
	code, err := strconv.Atoi(fields[0])
	if err != nil {
		return nil, fmt.Errorf("gemini: invalid status code %q: %w", fields[0], err)
	}
	meta := ""
	if len(fields) == 2 {
		meta = fields[1]
	}

	return &ClientResponse{
		Status: StatusCode(code),
		Meta:   meta,
		Body:   io.NopCloser(br),
	}, nil
}
