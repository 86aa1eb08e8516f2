package gemini

import (
	"crypto/tls"
	"fmt"
	"io"
	"net"
)

// TestClient dials a Gemini server and fetches a single response. It is
// adapted from the teacher's client Fetch/connect pair and kept narrowly as
// a wire-level exerciser for the pipeline's own tests (see pipeline_test.go)
// rather than as a general-purpose browsing client, which is out of scope
// (spec.md §1).
type TestClient struct {
	// InsecureSkipVerify accepts any certificate chain presented by the
	// server. Tests dial self-signed listener certificates, so this is
	// always true in practice; it is still a field rather than a hardcoded
	// true so a future caller could tighten it.
	InsecureSkipVerify bool
}

// Fetch dials addr, writes the request line for rawurl, and returns the
// parsed response. The caller must close the returned response's Body.
func (c TestClient) Fetch(addr, rawurl string) (*ClientResponse, error) {
	conf := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: c.InsecureSkipVerify,
		NextProtos:         []string{"GEMINI"},
	}

	conn, err := tls.Dial("tcp", addr, conf)
	if err != nil {
		return nil, fmt.Errorf("gemini: dial failed: %w", err)
	}

	if _, err := fmt.Fprintf(conn, "%s\r\n", rawurl); err != nil {
		conn.Close()
		return nil, fmt.Errorf("gemini: failed to write request line: %w", err)
	}

	resp, err := readClientResponse(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	resp.Body = connClosingReader{ReadCloser: resp.Body, conn: conn}
	return resp, nil
}

// connClosingReader closes the underlying TLS connection once the buffered
// body has been fully consumed and closed by the caller.
type connClosingReader struct {
	io.ReadCloser
	conn net.Conn
}

func (c connClosingReader) Close() error {
	c.conn.Close()
	return c.ReadCloser.Close()
}
