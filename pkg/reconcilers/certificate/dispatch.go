package reconcilers

import (
	"context"
	"fmt"

	handlererrors "github.com/3scale-ops/oci-cert-sync/pkg/reconcilers/certificate/errors"
	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
)

// EventType is the kind of lifecycle event a Secret goes through
type EventType string

const (
	CreateEvent EventType = "create"
	UpdateEvent EventType = "update"
	DeleteEvent EventType = "delete"
)

// HandlerFunc serves one kind of event for a Secret
type HandlerFunc func(ctx context.Context, logger logr.Logger, p Payload) (Result, error)

// DispatchTable maps each event type to the handler that serves it
type DispatchTable map[EventType]HandlerFunc

// DispatchTable returns the handlers of the Syncer
func (s *Syncer) DispatchTable() DispatchTable {
	return DispatchTable{
		CreateEvent: s.Create,
		UpdateEvent: s.Update,
		DeleteEvent: s.Delete,
	}
}

// Dispatch runs the handler registered for the event
func (t DispatchTable) Dispatch(ctx context.Context, logger logr.Logger, event EventType, p Payload) (Result, error) {
	handler, ok := t[event]
	if !ok {
		return Result{}, handlererrors.Permanent(FailureReason(event), fmt.Errorf("no handler registered for '%s' events", event))
	}
	return handler(ctx, logger, p)
}

// EventFor derives the event a Secret is going through from its current
// state: a deletion timestamp means delete, no linked certificate means
// create, anything else is an update.
func EventFor(secret *corev1.Secret) EventType {
	if secret.GetDeletionTimestamp() != nil {
		return DeleteEvent
	}
	if secret.GetAnnotations()[CertificateIDAnnotation] == "" {
		return CreateEvent
	}
	return UpdateEvent
}

// FailureReason returns the failure reason used for an event type
func FailureReason(event EventType) string {
	switch event {
	case CreateEvent:
		return CreationFailedReason
	case UpdateEvent:
		return UpdateFailedReason
	case DeleteEvent:
		return DeletionFailedReason
	}
	return "OCICertificateSyncFail"
}
