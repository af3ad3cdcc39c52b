package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for retry and propagation decisions. Transient provider
// errors are retried locally; fatal ones abort the session; session-not-found is
// logged and swallowed at the webhook boundary.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidArgument
	KindProviderTransient
	KindProviderFatal
	KindSessionNotFound
	KindFinalization
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid_argument"
	case KindProviderTransient:
		return "provider_transient"
	case KindProviderFatal:
		return "provider_fatal"
	case KindSessionNotFound:
		return "session_not_found"
	case KindFinalization:
		return "finalization_failure"
	default:
		return "unknown"
	}
}

type classified struct {
	kind Kind
	err  error
}

func (e *classified) Error() string { return e.err.Error() }
func (e *classified) Unwrap() error { return e.err }

// E wraps err with a classification kind.
func E(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &classified{kind: kind, err: err}
}

// Ef wraps a formatted error with a classification kind.
func Ef(kind Kind, format string, args ...interface{}) error {
	return &classified{kind: kind, err: fmt.Errorf(format, args...)}
}

// KindOf returns the classification of err, walking the wrap chain.
// Unclassified errors report KindUnknown.
func KindOf(err error) Kind {
	var c *classified
	if errors.As(err, &c) {
		return c.kind
	}
	return KindUnknown
}

// IsTransient reports whether err should be retried with backoff.
func IsTransient(err error) bool {
	return KindOf(err) == KindProviderTransient
}

// IsFatal reports whether err must abort the session without retrying.
func IsFatal(err error) bool {
	return KindOf(err) == KindProviderFatal
}

// IsInvalidArgument reports whether err was rejected before any work started.
func IsInvalidArgument(err error) bool {
	return KindOf(err) == KindInvalidArgument
}

// IsSessionNotFound reports whether err refers to an unknown or expired call id.
func IsSessionNotFound(err error) bool {
	return KindOf(err) == KindSessionNotFound
}
