package security

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a validation failure
type ErrorKind string

const (
	KindEmptyInput        ErrorKind = "empty_input"
	KindDangerousProtocol ErrorKind = "dangerous_protocol"
	KindMalformedURL      ErrorKind = "malformed_url"
	KindPrivateAddress    ErrorKind = "private_address"
	KindBlockedDomain     ErrorKind = "blocked_domain"
	KindTooLong           ErrorKind = "too_long"
	KindTooShort          ErrorKind = "too_short"
	KindInvalidCharacters ErrorKind = "invalid_characters"
	KindReservedWord      ErrorKind = "reserved_word"
	KindSuspiciousPattern ErrorKind = "suspicious_pattern"
	KindSlugTaken         ErrorKind = "slug_taken"
	KindDuplicateURL      ErrorKind = "duplicate_url"
)

// ValidationError is a user-facing validation failure tied to a single
// input field. An empty Field marks a form-level failure.
type ValidationError struct {
	Field   string
	Kind    ErrorKind
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError builds a field-level validation failure
func NewValidationError(field string, kind ErrorKind, message string) *ValidationError {
	return &ValidationError{Field: field, Kind: kind, Message: message}
}

// AsValidationError unwraps err into a *ValidationError when it is one
func AsValidationError(err error) (*ValidationError, bool) {
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return vErr, true
	}
	return nil, false
}
