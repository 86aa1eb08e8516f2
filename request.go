package gemini

import (
	"crypto/sha1"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"net"
	"net/url"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/knowfox/gemini/internal/form"
)

// ClientCertificate is the identity presented by a client during the TLS
// handshake (spec.md §3, "Certificate identity"; GLOSSARY "Thumbprint").
type ClientCertificate struct {
	Raw        []byte
	Subject    string
	Thumbprint string // 40 hex characters, SHA-1 of the DER encoding.
	cert       *x509.Certificate
}

// Certificate returns the parsed x509 certificate.
func (c *ClientCertificate) Certificate() *x509.Certificate {
	if c == nil {
		return nil
	}
	return c.cert
}

func clientCertFromConnState(state tls.ConnectionState) *ClientCertificate {
	if len(state.PeerCertificates) == 0 {
		return nil
	}
	cert := state.PeerCertificates[0]
	return &ClientCertificate{
		Raw:        cert.Raw,
		Subject:    cert.Subject.String(),
		Thumbprint: Thumbprint(cert),
		cert:       cert,
	}
}

// Thumbprint computes the hex-encoded SHA-1 thumbprint of cert's DER
// encoding (GLOSSARY "Thumbprint"), the stable identifier used by
// certificate ACLs such as internal/statichost's thumbprint allow list.
func Thumbprint(cert *x509.Certificate) string {
	sum := sha1.Sum(cert.Raw)
	return hex.EncodeToString(sum[:])
}

// RequestState is the per-connection state owned exclusively by the
// pipeline worker handling it (spec.md §3, "Request state"). ScratchDir is
// created lazily by the form stager and removed on Dispose.
type RequestState struct {
	ID          uuid.UUID
	URL         *url.URL
	RemoteAddr  net.Addr
	Certificate *ClientCertificate
	Conn        *tls.Conn
	Form        *form.Form
	Files       []*form.File
	ScratchDir  string

	scratchRoot string
}

// NewRequestState creates request state for a freshly accepted connection.
// scratchRoot is the parent temporary directory under which this request's
// scratch directory will be created on demand (spec.md §6.5, "Per-request
// scratch directory").
func NewRequestState(conn *tls.Conn, u *url.URL, scratchRoot string) *RequestState {
	id := uuid.New()
	state := conn.ConnectionState()
	return &RequestState{
		ID:          id,
		URL:         u,
		RemoteAddr:  conn.RemoteAddr(),
		Certificate: clientCertFromConnState(state),
		Conn:        conn,
		scratchRoot: scratchRoot,
		ScratchDir:  filepath.Join(scratchRoot, id.String()),
	}
}

// Dispose removes the request's scratch directory, best effort, and logs a
// failure rather than propagating it (spec.md §3, "Request state";
// spec.md §9, "Scratch I/O").
func (r *RequestState) Dispose(log logrus.FieldLogger) {
	if r.ScratchDir == "" {
		return
	}
	if err := os.RemoveAll(r.ScratchDir); err != nil {
		if log == nil {
			log = logrus.StandardLogger()
		}
		log.WithField("request_id", r.ID).WithError(err).Warn("failed to remove scratch directory")
	}
}
