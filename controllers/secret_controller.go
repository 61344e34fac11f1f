/*


Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package controllers

import (
	"context"
	"fmt"

	"github.com/3scale-ops/oci-cert-sync/pkg/metrics"
	reconcilers "github.com/3scale-ops/oci-cert-sync/pkg/reconcilers/certificate"
	handlererrors "github.com/3scale-ops/oci-cert-sync/pkg/reconcilers/certificate/errors"
	"github.com/3scale-ops/oci-cert-sync/pkg/retry"
	"github.com/3scale-ops/oci-cert-sync/pkg/util/hash"
	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/tools/record"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/builder"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
	"sigs.k8s.io/controller-runtime/pkg/predicate"
)

const (
	// Finalizer holds synced Secrets until the remote certificate
	// has been scheduled for deletion
	Finalizer = "oci.oraclecloud.com/certificate-sync"
	// LastHandledAnnotation holds the fingerprint of the Secret data
	// the handlers last ran for
	LastHandledAnnotation = "oci.oraclecloud.com/last-handled-data-hash"
)

// SecretReconciler syncs labeled TLS Secrets to remote certificates
type SecretReconciler struct {
	Client   client.Client
	Log      logr.Logger
	Scheme   *runtime.Scheme
	Recorder record.EventRecorder

	Handlers   reconcilers.DispatchTable
	Attempts   *retry.Tracker
	Metrics    *metrics.Recorder
	SyncLabels map[string]string

	MaxConcurrentReconciles int
}

// +kubebuilder:rbac:groups=core,resources=secrets,verbs=get;list;watch;update;patch
// +kubebuilder:rbac:groups=core,resources=events,verbs=create;patch

func (r *SecretReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	log := r.Log.WithValues("name", req.Name, "namespace", req.Namespace)

	// Fetch the Secret instance
	secret := &corev1.Secret{}
	if err := r.Client.Get(ctx, req.NamespacedName, secret); err != nil {
		if errors.IsNotFound(err) {
			r.Metrics.ForgetExpiry(req.Namespace, req.Name)
			return ctrl.Result{}, nil
		}
		return ctrl.Result{}, err
	}

	if secret.GetDeletionTimestamp() != nil {
		if !controllerutil.ContainsFinalizer(secret, Finalizer) {
			return ctrl.Result{}, nil
		}
		return r.handle(ctx, log, secret, reconcilers.DeleteEvent, "")
	}

	if !r.inScope(secret) {
		// The Secret is only seen because it still carries the finalizer
		if controllerutil.ContainsFinalizer(secret, Finalizer) {
			if err := r.releaseFinalizer(ctx, secret); err != nil {
				return ctrl.Result{}, err
			}
			log.Info("secret no longer selected for sync, finalizer removed")
		}
		r.Metrics.ForgetExpiry(secret.GetNamespace(), secret.GetName())
		return ctrl.Result{}, nil
	}

	if !controllerutil.ContainsFinalizer(secret, Finalizer) {
		patch := client.MergeFrom(secret.DeepCopy())
		controllerutil.AddFinalizer(secret, Finalizer)
		if err := r.Client.Patch(ctx, secret, patch); err != nil {
			return ctrl.Result{}, err
		}
		log.V(1).Info("finalizer added")
		return ctrl.Result{Requeue: true}, nil
	}

	fingerprint := DataFingerprint(secret)
	if secret.GetAnnotations()[LastHandledAnnotation] == fingerprint {
		log.V(1).Info("secret data already handled")
		return ctrl.Result{}, nil
	}

	return r.handle(ctx, log, secret, reconcilers.EventFor(secret), fingerprint)
}

// handle runs the handler for the event and persists its outcome
func (r *SecretReconciler) handle(ctx context.Context, log logr.Logger, secret *corev1.Secret,
	event reconcilers.EventType, fingerprint string) (ctrl.Result, error) {

	key := retry.Key(secret.GetUID(), string(event), fingerprint)
	attempt := r.Attempts.Increment(key)
	log = log.WithValues("event", event, "attempt", attempt)

	result, err := r.Handlers.Dispatch(ctx, log, event, reconcilers.PayloadFromSecret(secret))
	if err == nil {
		r.Attempts.Reset(key)
		return ctrl.Result{}, r.succeeded(ctx, log, secret, event, fingerprint, result)
	}

	reason := handlererrors.ReasonForError(err, reconcilers.FailureReason(event))
	if policy, ok := handlererrors.RetryFor(err); ok && !policy.Exhausted(attempt) {
		delay := policy.Duration()
		log.Info(fmt.Sprintf("%s | %s, will retry in %s", reason, err.Error(), delay))
		r.Metrics.ObserveOutcome(string(event), metrics.Retry)
		if delay <= 0 {
			// a zero RequeueAfter would not requeue at all
			return ctrl.Result{Requeue: true}, nil
		}
		return ctrl.Result{RequeueAfter: delay}, nil
	}

	r.Attempts.Reset(key)
	return ctrl.Result{}, r.failed(ctx, log, secret, event, fingerprint, reason, err)
}

func (r *SecretReconciler) succeeded(ctx context.Context, log logr.Logger, secret *corev1.Secret,
	event reconcilers.EventType, fingerprint string, result reconcilers.Result) error {

	if result.Reason != "" {
		r.Recorder.Event(secret, corev1.EventTypeNormal, result.Reason, result.Message)
	}
	r.Metrics.ObserveOutcome(string(event), metrics.Succeeded)

	if event == reconcilers.DeleteEvent {
		r.Metrics.ForgetExpiry(secret.GetNamespace(), secret.GetName())
		return r.releaseFinalizer(ctx, secret)
	}

	if result.NotAfter != nil {
		r.Metrics.SetExpiry(secret.GetNamespace(), secret.GetName(), *result.NotAfter)
	}

	annotations := map[string]string{LastHandledAnnotation: fingerprint}
	for k, v := range result.Annotations {
		annotations[k] = v
	}
	if err := r.annotate(ctx, secret, annotations); err != nil {
		log.Error(err, "unable to persist handler outcome in secret annotations")
		return err
	}
	return nil
}

// failed records a final failure. The Secret data is marked as handled so
// the same data is not retried, and a deleted Secret is let go.
func (r *SecretReconciler) failed(ctx context.Context, log logr.Logger, secret *corev1.Secret,
	event reconcilers.EventType, fingerprint, reason string, err error) error {

	log.Error(err, reason)
	r.Recorder.Event(secret, corev1.EventTypeWarning, reason, err.Error())
	r.Metrics.ObserveOutcome(string(event), metrics.Failed)

	if event == reconcilers.DeleteEvent {
		r.Metrics.ForgetExpiry(secret.GetNamespace(), secret.GetName())
		return r.releaseFinalizer(ctx, secret)
	}
	return r.annotate(ctx, secret, map[string]string{LastHandledAnnotation: fingerprint})
}

func (r *SecretReconciler) annotate(ctx context.Context, secret *corev1.Secret, annotations map[string]string) error {
	patch := client.MergeFrom(secret.DeepCopy())
	current := secret.GetAnnotations()
	if current == nil {
		current = map[string]string{}
	}
	for k, v := range annotations {
		current[k] = v
	}
	secret.SetAnnotations(current)
	return r.Client.Patch(ctx, secret, patch)
}

func (r *SecretReconciler) releaseFinalizer(ctx context.Context, secret *corev1.Secret) error {
	patch := client.MergeFrom(secret.DeepCopy())
	controllerutil.RemoveFinalizer(secret, Finalizer)
	if err := r.Client.Patch(ctx, secret, patch); err != nil && !errors.IsNotFound(err) {
		return err
	}
	return nil
}

func (r *SecretReconciler) inScope(o client.Object) bool {
	return labels.SelectorFromSet(r.SyncLabels).Matches(labels.Set(o.GetLabels()))
}

// filterSyncedSecretsPredicate lets through Secrets selected for sync and
// Secrets that still hold the finalizer
func (r *SecretReconciler) filterSyncedSecretsPredicate() predicate.Predicate {
	return predicate.NewPredicateFuncs(func(o client.Object) bool {
		return r.inScope(o) || controllerutil.ContainsFinalizer(o, Finalizer)
	})
}

// DataFingerprint returns the fingerprint of the certificate material
// held in the Secret
func DataFingerprint(secret *corev1.Secret) string {
	return hash.Fingerprint(map[string][]byte{
		corev1.TLSCertKey:       secret.Data[corev1.TLSCertKey],
		corev1.TLSPrivateKeyKey: secret.Data[corev1.TLSPrivateKeyKey],
	})
}

// SetupWithManager adds the controller to the manager
func (r *SecretReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		Named("secret").
		For(&corev1.Secret{}, builder.WithPredicates(r.filterSyncedSecretsPredicate())).
		WithOptions(controller.Options{MaxConcurrentReconciles: r.MaxConcurrentReconciles}).
		Complete(r)
}
