package gemini

import (
	"crypto/tls"
	"strings"
	"time"
)

// DefaultIOTimeout is the default read/write deadline reset per operation
// (spec.md §4.5, §5).
const DefaultIOTimeout = 5 * time.Second

// CertificateSource resolves the server certificate to present for a given
// SNI hostname, implementing the lookup order of spec.md §4.5: if there is
// exactly one configured certificate and no SNI was sent, use it; otherwise
// try HOST exact, then "*.HOST", then "*"; otherwise fall back to the first
// configured certificate.
type CertificateSource struct {
	// ByHost maps a lowercase hostname pattern ("example.com", "*.example.com",
	// "*") to a certificate. Order of insertion is preserved for the
	// first-entry fallback.
	ByHost map[string]*tls.Certificate
	order  []string
}

// NewCertificateSource builds a CertificateSource, remembering the
// insertion order of the supplied map for the fallback case.
func NewCertificateSource(certs map[string]*tls.Certificate, order []string) *CertificateSource {
	return &CertificateSource{ByHost: certs, order: order}
}

// Lookup implements the §4.5 selection strategy.
func (c *CertificateSource) Lookup(sni string) *tls.Certificate {
	if len(c.ByHost) == 0 {
		return nil
	}
	if len(c.ByHost) == 1 && sni == "" {
		for _, cert := range c.ByHost {
			return cert
		}
	}

	host := strings.ToLower(sni)
	if cert, ok := c.ByHost[host]; ok {
		return cert
	}
	if i := strings.IndexByte(host, '.'); i >= 0 {
		wildcard := "*" + host[i:]
		if cert, ok := c.ByHost[wildcard]; ok {
			return cert
		}
	}
	if cert, ok := c.ByHost["*"]; ok {
		return cert
	}

	for _, host := range c.order {
		return c.ByHost[host]
	}
	return nil
}

// BuildTLSConfig constructs the server-side TLS configuration described in
// spec.md §4.5: TLS 1.2 minimum, ALPN "GEMINI", SNI-driven certificate
// selection, and client-certificate capture that is required (handshake
// fails without one) only when requireClientCert is set — a presented
// certificate's chain is never validated, since Gemini does TOFU at the
// application layer (GLOSSARY).
func BuildTLSConfig(certs *CertificateSource, requireClientCert bool) *tls.Config {
	clientAuth := tls.RequestClientCert
	if requireClientCert {
		clientAuth = tls.RequireAnyClientCert
	}

	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		NextProtos: []string{"GEMINI"},
		ClientAuth: clientAuth,
		GetCertificate: func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
			return certs.Lookup(hello.ServerName), nil
		},
		// The protocol verifies client identity via thumbprint comparison at
		// the application layer (TOFU), not via chain validation.
		InsecureSkipVerify: true,
	}
}

// resetDeadlines resets the read and write deadlines on conn to now+timeout,
// matching the pattern in a-h/gemini's handshakeAndHandle and repeated
// before every blocking I/O in the pipeline (spec.md §5, "Suspension points").
func resetDeadlines(conn interface {
	SetReadDeadline(time.Time) error
	SetWriteDeadline(time.Time) error
}, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	_ = conn.SetReadDeadline(deadline)
	_ = conn.SetWriteDeadline(deadline)
}
