package errors

import (
	"errors"
	"fmt"

	"github.com/3scale-ops/oci-cert-sync/pkg/util/backoff"
)

const (
	// PermanentError means the operation must not be retried
	PermanentError Kind = "Permanent"

	// TemporaryError means the operation can be retried after
	// a delay, up to a maximum number of attempts
	TemporaryError Kind = "Temporary"
)

// Kind is the retry classification of a handler error
type Kind string

// Error is the error type returned by the certificate handlers. It carries
// the retry policy that applies to the failure.
type Error struct {
	Kind   Kind
	Reason string
	// Policy is only meaningful for TemporaryError
	Policy backoff.Policy
	Err    error
}

// Permanent returns a new non retryable Error
func Permanent(reason string, err error) Error {
	return Error{Kind: PermanentError, Reason: reason, Err: err}
}

// Temporary returns a new Error that can be retried following policy
func Temporary(reason string, policy backoff.Policy, err error) Error {
	return Error{Kind: TemporaryError, Reason: reason, Policy: policy, Err: err}
}

func (e Error) Error() string {
	return fmt.Sprintf("%s | %s", e.Reason, e.Err)
}

func (e Error) Unwrap() error {
	return e.Err
}

// KindForError returns the Kind of a given error. Errors that are
// not of type Error are considered permanent.
func KindForError(err error) Kind {
	var e Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return PermanentError
}

// ReasonForError returns the Reason field of an Error, or the
// given fallback if err is not an Error
func ReasonForError(err error, fallback string) string {
	var e Error
	if errors.As(err, &e) && e.Reason != "" {
		return e.Reason
	}
	return fallback
}

// RetryFor returns the retry policy of a TemporaryError. ok is false
// for any other error.
func RetryFor(err error) (policy backoff.Policy, ok bool) {
	var e Error
	if errors.As(err, &e) && e.Kind == TemporaryError {
		return e.Policy, true
	}
	return backoff.Policy{}, false
}

// IsPermanent returns true if the error must not be retried
func IsPermanent(err error) bool {
	return KindForError(err) == PermanentError
}

// IsTemporary returns true if the error can be retried
func IsTemporary(err error) bool {
	return KindForError(err) == TemporaryError
}
