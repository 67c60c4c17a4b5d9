package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a provider or gateway failure.
type ErrorKind string

const (
	KindRateLimited       ErrorKind = "rate_limited"
	KindTimeout           ErrorKind = "timeout"
	KindUnavailable       ErrorKind = "unavailable"
	KindInvalidAudio      ErrorKind = "invalid_audio"
	KindAuthError         ErrorKind = "auth_error"
	KindMalformedResponse ErrorKind = "malformed_response"
	KindConstraint        ErrorKind = "constraint_violation"
	KindUnknown           ErrorKind = "unknown"
)

// ErrorClass is the retry eligibility of an ErrorKind.
type ErrorClass int

const (
	ClassTransient ErrorClass = iota
	ClassPermanent
	ClassUnknown
)

// Class maps a kind onto the retry taxonomy. Malformed model responses are
// transient: the analysis provider is non-deterministic and a reissued
// request regularly yields parseable output.
func (k ErrorKind) Class() ErrorClass {
	switch k {
	case KindRateLimited, KindTimeout, KindUnavailable, KindMalformedResponse:
		return ClassTransient
	case KindInvalidAudio, KindAuthError, KindConstraint:
		return ClassPermanent
	}
	return ClassUnknown
}

// ProviderError is a failure from an external collaborator carrying its
// classified kind.
type ProviderError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// NewProviderError wraps err with an operation name and kind.
func NewProviderError(op string, kind ErrorKind, err error) *ProviderError {
	return &ProviderError{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the kind from an error chain, KindUnknown when absent.
func KindOf(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}
