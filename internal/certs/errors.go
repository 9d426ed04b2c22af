package certs

import (
	"errors"
	"fmt"
)

// Sentinel errors for certificate retrieval.
var (
	// ErrFetchFailed indicates the certificate endpoint could not be reached.
	ErrFetchFailed = errors.New("certificate fetch failed")

	// ErrUnexpectedStatus indicates the endpoint answered with a non-2xx status.
	ErrUnexpectedStatus = errors.New("unexpected certificate endpoint status")

	// ErrMalformedDocument indicates the response body is not a kid to PEM object.
	ErrMalformedDocument = errors.New("malformed certificate document")

	// ErrInvalidCertificate indicates a PEM block that is not a parsable X.509 certificate.
	ErrInvalidCertificate = errors.New("invalid certificate")

	// ErrNotRSAKey indicates a certificate whose public key is not RSA.
	ErrNotRSAKey = errors.New("certificate public key is not RSA")
)

// FetchError is returned by Fetcher implementations. Any FetchError leaves the
// store untouched.
type FetchError struct {
	Op    string
	URL   string
	KeyID string
	Cause error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	msg := fmt.Sprintf("certificate fetch (%s)", e.Op)
	if e.URL != "" {
		msg += " " + e.URL
	}
	if e.KeyID != "" {
		msg += fmt.Sprintf(" kid %q", e.KeyID)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *FetchError) Unwrap() error {
	return e.Cause
}

// Is makes every FetchError match ErrFetchFailed; causes are reached through Unwrap.
func (e *FetchError) Is(target error) bool {
	return target == ErrFetchFailed
}

// IsFetchError reports whether err is or wraps a *FetchError.
func IsFetchError(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}

func newFetchError(op, url string, cause error) *FetchError {
	return &FetchError{Op: op, URL: url, Cause: cause}
}
