package gemini

import "errors"

// Sentinel errors for the error kinds named in spec.md §7 that originate in
// this package. Form-related errors (ErrMalformedForm, ErrTruncatedBody)
// are sentinels of internal/form; the pipeline matches them with errors.Is
// and treats any error not matching a known sentinel as a generic
// HostFailure.
var (
	ErrTLSFailure          = errors.New("gemini: tls handshake failed")
	ErrMalformedRequest    = errors.New("gemini: malformed request")
	ErrRequestTooLong      = errors.New("gemini: request line too long")
	ErrHostFailure         = errors.New("gemini: host handler failed")
	ErrFilesystem          = errors.New("gemini: filesystem error")
	ErrCertificateRejected = errors.New("gemini: certificate rejected")
	ErrInfoRequest         = errors.New("gemini: empty request line")
	ErrEmptyChain          = errors.New("gemini: host chain is empty")
)
