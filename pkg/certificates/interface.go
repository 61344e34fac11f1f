package certificates

import (
	"context"
	"errors"
	"fmt"
)

// Bundle is the PEM encoded material of an imported certificate
type Bundle struct {
	// Certificate is the leaf certificate
	Certificate string
	// Chain holds the intermediate certificates, newline joined
	Chain string
	// PrivateKey is the private key of the leaf certificate
	PrivateKey string
}

// Client has methods to manage imported certificates in a remote
// certificates service.
//
// Every method returns a *SoftFailureError when the service was reached
// but declined or failed the operation. Any other error (credentials,
// transport, timeouts) is a hard failure.
type Client interface {
	// Create imports a new certificate with the given name in the given
	// compartment and returns its ID
	Create(ctx context.Context, compartmentID, name string, bundle Bundle) (string, error)
	// Update imports a new version of an existing certificate and returns
	// the new current version number
	Update(ctx context.Context, certificateID string, bundle Bundle) (int64, error)
	// ScheduleDeletion asks the service to delete the certificate. The
	// deletion is asynchronous.
	ScheduleDeletion(ctx context.Context, certificateID string) error
}

// SoftFailureError is returned when the certificates service answered
// the request with a non success status
type SoftFailureError struct {
	Operation  string
	StatusCode int
	Message    string
}

// NewSoftFailureError returns a SoftFailureError
func NewSoftFailureError(op string, statusCode int, msg string) *SoftFailureError {
	return &SoftFailureError{Operation: op, StatusCode: statusCode, Message: msg}
}

func (e *SoftFailureError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s did not succeed: %s", e.Operation, e.Message)
	}
	return fmt.Sprintf("%s did not succeed (status %d): %s", e.Operation, e.StatusCode, e.Message)
}

// IsSoftFailure returns true if the error, or any error it wraps,
// is a SoftFailureError
func IsSoftFailure(err error) bool {
	var sf *SoftFailureError
	return errors.As(err, &sf)
}
