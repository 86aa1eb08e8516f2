package gemini

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/knowfox/gemini/internal/form"
)

// Pipeline ties the TLS terminator, wire codec and host chain together for
// one listener (spec.md §2, "Request pipeline"; §4.6). It is safe for
// concurrent use by many connection workers once built.
type Pipeline struct {
	Chain       *Chain
	TLSConfig   *tls.Config
	ScratchRoot string
	Log         logrus.FieldLogger
	IOTimeout   time.Duration
}

// NewPipeline builds a Pipeline with spec-default I/O timeouts.
func NewPipeline(chain *Chain, tlsConfig *tls.Config, scratchRoot string, log logrus.FieldLogger) *Pipeline {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Pipeline{
		Chain:       chain,
		TLSConfig:   tlsConfig,
		ScratchRoot: scratchRoot,
		Log:         log,
		IOTimeout:   DefaultIOTimeout,
	}
}

// Serve handles one accepted connection end to end: TLS handshake, request
// read, URL parse, host dispatch, response write, always closing the
// connection afterward (spec.md §4.6).
func (p *Pipeline) Serve(rawConn net.Conn) {
	defer rawConn.Close()

	tlsConn, ok := rawConn.(*tls.Conn)
	if !ok {
		tlsConn = tls.Server(rawConn, p.TLSConfig)
	}
	resetDeadlines(tlsConn, p.IOTimeout)

	if err := tlsConn.Handshake(); err != nil {
		p.Log.WithError(err).WithField("remote_addr", rawConn.RemoteAddr()).
			Debug("tls handshake failed")
		return
	}

	resetDeadlines(tlsConn, p.IOTimeout)
	raw, err := ReadRequestLine(tlsConn, MaxRequestLineLength)
	if errors.Is(err, ErrInfoRequest) {
		_ = WriteResponse(tlsConn, StatusSuccess, infoMimeType, strings.NewReader(InfoDocument()))
		return
	}
	if err != nil {
		p.logReadError(err, rawConn)
		return
	}

	u, err := ParseRequestURL(raw)
	if err != nil {
		_ = WriteResponse(tlsConn, StatusBadRequest, "Bad Request", nil)
		return
	}

	state := NewRequestState(tlsConn, u, p.ScratchRoot)
	defer state.Dispose(p.Log)

	resetDeadlines(tlsConn, p.IOTimeout)
	if err := p.stageForm(tlsConn, state); err != nil {
		resetDeadlines(tlsConn, p.IOTimeout)
		p.respondError(tlsConn, err)
		return
	}

	resp, err := p.dispatch(state)
	resetDeadlines(tlsConn, p.IOTimeout)
	if err != nil {
		p.respondError(tlsConn, err)
		return
	}
	if resp == nil {
		// A host declined its own rewrite; terminate with no response
		// (spec.md §4.3).
		return
	}
	defer resp.Close()

	if err := WriteResponse(tlsConn, resp.Status, resp.Meta, resp.Body); err != nil {
		p.Log.WithError(err).WithField("request_id", state.ID).Debug("failed to write response")
	}

	p.Log.WithFields(logrus.Fields{
		"request_id": state.ID,
		"path":       u.Path,
		"status":     int(resp.Status),
	}).Info("request handled")
}

// stageForm decodes the request's query into a form, detects and ingests
// body-mode (spec.md §4.2), validates the file-index invariant, and
// materializes any declared files into the request's scratch area.
func (p *Pipeline) stageForm(conn net.Conn, state *RequestState) error {
	f, err := form.DecodeQuery(state.URL.RawQuery)
	if err != nil {
		return pkgerrors.Wrap(err, "decode query")
	}

	if form.IsBodyMode(f) {
		f, err = form.IngestBodyMode(f, conn)
		if err != nil {
			return pkgerrors.Wrap(err, "ingest body-mode form")
		}
	}

	if err := f.Validate(); err != nil {
		return pkgerrors.Wrap(err, "validate form")
	}
	state.Form = f

	files, err := form.Stage(f, conn, state.ScratchDir)
	if err != nil {
		return pkgerrors.Wrap(err, "stage files")
	}
	state.Files = files
	return nil
}

// dispatch walks the host chain, recovering a panicking host into a wrapped
// error (spec.md §4.6(e), §7 "HostFailure"). A nil, nil result means a host
// declined its own rewrite and the connection should simply be closed
// (spec.md §4.3).
func (p *Pipeline) dispatch(state *RequestState) (resp *Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = pkgerrors.Wrap(pkgerrors.Errorf("%v", r), "host handler panicked")
		}
	}()
	resp, err = p.Chain.Dispatch(state.URL, state.RemoteAddr, state.Certificate.Certificate())
	if err != nil {
		return nil, pkgerrors.Wrap(err, "host handler failed")
	}
	return resp, nil
}

// respondError translates a pipeline error into a wire response per
// spec.md §7: malformed/too-long requests become 59; a truncated body gets
// no response; everything else (host panics, malformed forms) becomes 42
// with the flattened cause chain.
func (p *Pipeline) respondError(conn net.Conn, err error) {
	switch {
	case errors.Is(err, ErrMalformedRequest), errors.Is(err, ErrRequestTooLong):
		_ = WriteResponse(conn, StatusBadRequest, "Bad Request", nil)
	case errors.Is(err, form.ErrMalformedForm):
		_ = WriteResponse(conn, StatusCGIError, causeChain(err), nil)
	case errors.Is(err, form.ErrTruncatedBody):
		// No response is attempted for a truncated body (spec.md §7).
	default:
		_ = WriteResponse(conn, StatusCGIError, causeChain(err), nil)
	}
}

func (p *Pipeline) logReadError(err error, conn net.Conn) {
	p.Log.WithError(err).WithField("remote_addr", conn.RemoteAddr()).Debug("failed to read request line")
}

// causeChain flattens a pkg/errors cause chain into the ": "-joined
// diagnostic message spec.md §7/§8 S8 requires for code-42 responses.
func causeChain(err error) string {
	var parts []string
	for err != nil {
		if msg := topMessage(err); msg != "" {
			parts = append(parts, msg)
		}
		cause, ok := err.(interface{ Cause() error })
		if !ok {
			break
		}
		next := cause.Cause()
		if next == nil || next == err {
			break
		}
		err = next
	}
	return strings.Join(parts, ": ")
}

func topMessage(err error) string {
	type causer interface {
		Cause() error
	}
	if c, ok := err.(causer); ok {
		full := err.Error()
		causeMsg := c.Cause().Error()
		if strings.HasSuffix(full, causeMsg) {
			prefix := strings.TrimSuffix(full, causeMsg)
			return strings.TrimSuffix(prefix, ": ")
		}
	}
	return err.Error()
}

// Acceptor binds a TCP listener and dispatches each accepted connection to a
// Pipeline on its own goroutine (spec.md §2 "TCP acceptor"; §5).
type Acceptor struct {
	Addr     string
	Pipeline *Pipeline
	Log      logrus.FieldLogger

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
}

// Start binds the listener and begins accepting in a background goroutine.
func (a *Acceptor) Start() error {
	if a.Log == nil {
		a.Log = logrus.StandardLogger()
	}
	ln, err := net.Listen("tcp", a.Addr)
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.listener = ln
	a.mu.Unlock()

	a.wg.Add(1)
	go a.run(ln)
	return nil
}

// ListenAddr returns the bound listener's address, or nil if Start has not
// completed yet. Mainly useful for tests that bind an ephemeral port.
func (a *Acceptor) ListenAddr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

func (a *Acceptor) run(ln net.Listener) {
	defer a.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if isClosedErr(err) {
				return
			}
			a.Log.WithError(err).Warn("accept error")
			continue
		}
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.Pipeline.Serve(conn)
		}()
	}
}

// Stop closes the bound listener, causing the accept loop to exit, then
// waits (bounded by ctx) for in-flight workers to finish naturally
// (spec.md §5, "Cancellation").
func (a *Acceptor) Stop(ctx context.Context) error {
	a.mu.Lock()
	ln := a.listener
	a.mu.Unlock()
	if ln == nil {
		return nil
	}
	if err := ln.Close(); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func isClosedErr(err error) bool {
	return strings.Contains(err.Error(), "use of closed network connection")
}
