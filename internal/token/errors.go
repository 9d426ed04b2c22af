package token

import (
	"errors"
	"fmt"
)

// Reason identifies why a token was rejected.
type Reason int

// Rejection reasons, in the order the pipeline checks them.
const (
	// ReasonNoToken means the call carried no token at all.
	ReasonNoToken Reason = iota + 1
	// ReasonMalformed means the token or its header could not be decoded, or it has no kid.
	ReasonMalformed
	// ReasonUnknownKey means the kid is not in the current certificate set.
	ReasonUnknownKey
	// ReasonInvalidSignature means RS256 verification or payload decoding failed.
	ReasonInvalidSignature
	// ReasonExpired means the token was valid but its exp is in the past.
	ReasonExpired
	// ReasonEmptyIdentity means the verified token has an empty issuer_uid.
	ReasonEmptyIdentity
)

// String returns a stable label for metrics and logs.
func (r Reason) String() string {
	switch r {
	case ReasonNoToken:
		return "no_token"
	case ReasonMalformed:
		return "malformed"
	case ReasonUnknownKey:
		return "unknown_key"
	case ReasonInvalidSignature:
		return "invalid_signature"
	case ReasonExpired:
		return "expired"
	case ReasonEmptyIdentity:
		return "empty_identity"
	default:
		return "unknown"
	}
}

// Message returns the text sent to the caller.
func (r Reason) Message() string {
	switch r {
	case ReasonNoToken:
		return "Token not found"
	case ReasonMalformed:
		return "Token malformed"
	case ReasonUnknownKey:
		return "Token invalid (no matching KID)"
	case ReasonInvalidSignature:
		return "Token signature or claims invalid"
	case ReasonExpired:
		return "Token expired"
	case ReasonEmptyIdentity:
		return "Issuer UID empty"
	default:
		return "Authentication failed"
	}
}

// Reasons lists every rejection reason.
func Reasons() []Reason {
	return []Reason{
		ReasonNoToken,
		ReasonMalformed,
		ReasonUnknownKey,
		ReasonInvalidSignature,
		ReasonExpired,
		ReasonEmptyIdentity,
	}
}

// Details narrowing ReasonMalformed in the caller facing message.
const (
	// DetailString means the token is not a printable ASCII string.
	DetailString = "string"
	// DetailHeader means the JOSE header could not be decoded.
	DetailHeader = "header"
	// DetailMissingKID means the header carries no kid.
	DetailMissingKID = "missing KID header"
)

// ErrAuthentication is matched by every *AuthError.
var ErrAuthentication = errors.New("authentication failed")

// AuthError is a token rejection.
type AuthError struct {
	Reason Reason
	Detail string
	Cause  error
}

// NewAuthError creates an AuthError.
func NewAuthError(reason Reason, cause error) *AuthError {
	return &AuthError{Reason: reason, Cause: cause}
}

// NewMalformedError creates a ReasonMalformed AuthError with a detail.
func NewMalformedError(detail string, cause error) *AuthError {
	return &AuthError{Reason: ReasonMalformed, Detail: detail, Cause: cause}
}

// Message returns the text sent to the caller, such as
// "Token malformed (header)" when a detail is set.
func (e *AuthError) Message() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s (%s)", e.Reason.Message(), e.Detail)
	}
	return e.Reason.Message()
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("auth error (%s): %s: %v", e.Reason, e.Message(), e.Cause)
	}
	return fmt.Sprintf("auth error (%s): %s", e.Reason, e.Message())
}

// Unwrap returns the underlying error.
func (e *AuthError) Unwrap() error {
	return e.Cause
}

// Is matches ErrAuthentication and any *AuthError with the same reason.
func (e *AuthError) Is(target error) bool {
	if target == ErrAuthentication {
		return true
	}
	other, ok := target.(*AuthError)
	return ok && other.Reason == e.Reason
}

// MessageOf returns the caller facing message carried by err, if any.
func MessageOf(err error) (string, bool) {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Message(), true
	}
	return "", false
}

// ReasonOf returns the rejection reason carried by err, if any.
func ReasonOf(err error) (Reason, bool) {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Reason, true
	}
	return 0, false
}
