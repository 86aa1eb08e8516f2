package gemini

import (
	"crypto/x509"
	"io"
	"net"
	"net/url"
)

// Response is the result of a host's Respond call: a status, a status
// line, and an optional owned body stream (spec.md §3, "Response").
type Response struct {
	Status StatusCode
	Meta   string
	Body   io.ReadCloser
}

// NewResponse builds a Response with no body.
func NewResponse(status StatusCode, meta string) *Response {
	return &Response{Status: status, Meta: meta}
}

// Close releases the response body, if any.
func (r *Response) Close() error {
	if r == nil || r.Body == nil {
		return nil
	}
	return r.Body.Close()
}

// Host is the polymorphic request handler contract of spec.md §4.3. A host
// chain is built once per listener; Start is called exactly once before the
// first request, Stop/Dispose exactly once at shutdown.
type Host interface {
	// Priority orders hosts ascending; lower runs earlier. The range
	// 0xFF00-0xFFFE is reserved for internal hosts.
	Priority() uint16

	// Start prepares the host to serve requests. A false return (or a
	// panic, recovered by the caller) discards the host from the chain;
	// Dispose is still called exactly once on a discarded host.
	Start() bool

	// Stop is called once during shutdown, after the listener has ceased
	// accepting connections.
	Stop()

	// Dispose releases any resources held by the host. Called once, either
	// after a failed Start or during shutdown.
	Dispose()

	// Accept reports whether this host will handle the given request.
	Accept(u *url.URL, remote net.Addr, cert *x509.Certificate) bool

	// Rewrite may replace the request URL before Respond is called. A false
	// second return terminates the request with no response.
	Rewrite(u *url.URL, remote net.Addr, cert *x509.Certificate) (*url.URL, bool)

	// Respond answers the (possibly rewritten) request. A false second
	// return means this host declines to answer and the chain continues.
	Respond(u *url.URL, remote net.Addr, cert *x509.Certificate) (*Response, bool)
}

// internalPriorityBase is the first priority value reserved for hosts built
// into this package (spec.md §3, "Host"); user hosts should stay below it.
const internalPriorityBase uint16 = 0xFF00

// ReservedPriority returns true if p falls in the internal reserved range.
func ReservedPriority(p uint16) bool {
	return p >= internalPriorityBase && p <= 0xFFFE
}
