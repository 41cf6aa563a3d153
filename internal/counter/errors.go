package counter

import "errors"

// Error codes returned to clients. Validation codes are rejected before any
// write; E_COUNTER_EXHAUSTED is a business-capacity limit; E_DB_CONFLICT is a
// transient infrastructure failure that is safe to retry.
const (
	CodeInvalidNationalID = "E_INVALID_NID"
	CodeInvalidGender     = "E_INVALID_GENDER"
	CodeInvalidYearCode   = "E_YEAR_CODE_INVALID"
	CodePatternInvalid    = "E_COUNTER_PATTERN_INVALID"
	CodeExhausted         = "E_COUNTER_EXHAUSTED"
	CodeDBConflict        = "E_DB_CONFLICT"

	// Reported by the backfill pipeline, never raised by the service.
	CodeGenderMismatch = "E_LEDGER_GENDER_MISMATCH"
	CodeLookupFailed   = "E_DB_LOOKUP_FAILED"
)

// Error is the structured error value returned at the service boundary.
// It marshals to the wire payload {code, message_fa, details?}.
type Error struct {
	Code      string            `json:"code"`
	MessageFa string            `json:"message_fa"`
	Details   map[string]string `json:"details,omitempty"`

	cause error
}

func (e *Error) Error() string {
	return e.Code + ": " + e.MessageFa
}

func (e *Error) Unwrap() error { return e.cause }

// NewError builds a service error. details may be nil.
func NewError(code, messageFa string, details map[string]string) *Error {
	return &Error{Code: code, MessageFa: messageFa, Details: details}
}

// WrapError builds a service error that wraps an underlying cause.
func WrapError(code, messageFa string, details map[string]string, cause error) *Error {
	return &Error{Code: code, MessageFa: messageFa, Details: details, cause: cause}
}

// AsError extracts a *Error from err's chain, or nil.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}

// IsCode reports whether err carries the given service error code.
func IsCode(err error, code string) bool {
	e := AsError(err)
	return e != nil && e.Code == code
}
