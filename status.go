package gemini

import "fmt"

// StatusCode is a two-digit Gemini response status as defined in the
// Gemini protocol specification.
type StatusCode int

// Lists Gemini-related URI schemes.
const (
	SchemaGemini = "gemini"
	SchemaTitan  = "titan"
)

// Status codes, per the Gemini protocol specification.
const (
	StatusInput             StatusCode = 10
	StatusSensitiveInput    StatusCode = 11
	StatusSuccess           StatusCode = 20
	StatusTemporaryRedirect StatusCode = 30
	StatusPermanentRedirect StatusCode = 31
	StatusTemporaryFailure  StatusCode = 40
	StatusServerUnavailable StatusCode = 41
	StatusCGIError          StatusCode = 42
	StatusProxyError        StatusCode = 43
	StatusSlowDown          StatusCode = 44
	StatusPermanentFailure  StatusCode = 50
	StatusNotFound          StatusCode = 51
	StatusGone              StatusCode = 52
	StatusProxyRefused      StatusCode = 53
	StatusBadRequest        StatusCode = 59
	StatusCertRequired      StatusCode = 60
	StatusCertNotAuthorized StatusCode = 61
	StatusCertNotValid      StatusCode = 62

	// statusMin and statusMax bound the valid wire range (§6.1); anything
	// outside it is rewritten to StatusCGIError with a diagnostic message.
	statusMin StatusCode = 10
	statusMax StatusCode = 69
)

// IsSuccess reports whether status is in the 20-29 success class.
func (s StatusCode) IsSuccess() bool {
	return s/10 == 2
}

// IsValid reports whether status falls in the 10-69 wire range.
func (s StatusCode) IsValid() bool {
	return s >= statusMin && s <= statusMax
}

// SimplifyStatus drops the detailed second digit of the status, e.g. 51 -> 50.
func SimplifyStatus(status StatusCode) StatusCode {
	return (status / 10) * 10
}

// clampStatus enforces the 10-69 wire range (spec.md §4.1, §8 Invariant 1),
// substituting code 42 with a diagnostic message when status is out of range.
func clampStatus(status StatusCode, meta string) (StatusCode, string) {
	if status.IsValid() {
		return status, meta
	}
	return StatusCGIError, fmt.Sprintf("A backend application generated an invalid status code of %d", int(status))
}
