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
	"time"

	"github.com/3scale-ops/oci-cert-sync/pkg/certificates"
	"github.com/3scale-ops/oci-cert-sync/pkg/metrics"
	reconcilers "github.com/3scale-ops/oci-cert-sync/pkg/reconcilers/certificate"
	"github.com/3scale-ops/oci-cert-sync/pkg/retry"
	"github.com/3scale-ops/oci-cert-sync/pkg/util/backoff"
	"github.com/3scale-ops/oci-cert-sync/pkg/util/clock"
	"github.com/3scale-ops/oci-cert-sync/pkg/util/pki"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/tools/record"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
)

const (
	testCompartment = "ocid1.compartment.oc1..test"
	testCertificate = "ocid1.certificate.oc1..test"
)

var _ = Describe("Secret controller", func() {
	var (
		namespace string
		key       types.NamespacedName
		secret    *corev1.Secret
		bundle    []byte
		privKey   []byte
		certs     *fakeCertificates
		recorder  *record.FakeRecorder
		policy    backoff.Policy
		r         *SecretReconciler
		k8sClient client.Client
	)

	build := func(objects ...client.Object) {
		k8sClient = fake.NewClientBuilder().WithScheme(scheme.Scheme).WithObjects(objects...).Build()
		r = &SecretReconciler{
			Client:     k8sClient,
			Log:        ctrl.Log.WithName("controllers").WithName("secret"),
			Scheme:     scheme.Scheme,
			Recorder:   recorder,
			Handlers:   reconcilers.NewSyncer(certs, testCompartment, policy, clock.Real{}).DispatchTable(),
			Attempts:   retry.NewTracker(time.Hour),
			Metrics:    metrics.New(),
			SyncLabels: map[string]string{"sync-to-oci": "yes"},
		}
	}

	reconcileSecret := func() (ctrl.Result, error) {
		return r.Reconcile(context.TODO(), ctrl.Request{NamespacedName: key})
	}

	get := func() *corev1.Secret {
		s := &corev1.Secret{}
		Expect(k8sClient.Get(context.TODO(), key, s)).To(Succeed())
		return s
	}

	BeforeEach(func() {
		var err error
		bundle, privKey, err = pki.GenerateChain("web.example.com", time.Now(), 24*time.Hour)
		Expect(err).ToNot(HaveOccurred())

		namespace = nameGenerator.Generate()
		key = types.NamespacedName{Name: "web", Namespace: namespace}
		secret = &corev1.Secret{
			ObjectMeta: metav1.ObjectMeta{
				Name:      "web",
				Namespace: namespace,
				UID:       types.UID("2b8a7c4e-uid"),
				Labels:    map[string]string{"sync-to-oci": "yes"},
			},
			Type: corev1.SecretTypeTLS,
			Data: map[string][]byte{
				corev1.TLSCertKey:       bundle,
				corev1.TLSPrivateKeyKey: privKey,
			},
		}
		certs = &fakeCertificates{id: testCertificate, version: 2}
		recorder = record.NewFakeRecorder(100)
		policy = backoff.Default
	})

	Context("a labeled secret is created", func() {

		BeforeEach(func() { build(secret) })

		It("adds the finalizer before calling the certificates service", func() {
			result, err := reconcileSecret()
			Expect(err).ToNot(HaveOccurred())
			Expect(result.Requeue).To(BeTrue())
			Expect(controllerutil.ContainsFinalizer(get(), Finalizer)).To(BeTrue())
			Expect(certs.Calls()).To(BeEmpty())
		})

		It("creates the remote certificate and links it to the secret", func() {
			_, err := reconcileSecret()
			Expect(err).ToNot(HaveOccurred())
			result, err := reconcileSecret()
			Expect(err).ToNot(HaveOccurred())
			Expect(result).To(Equal(ctrl.Result{}))

			calls := certs.Calls()
			Expect(calls).To(HaveLen(1))
			Expect(calls[0].Method).To(Equal("Create"))
			Expect(calls[0].CompartmentID).To(Equal(testCompartment))
			Expect(calls[0].Name).To(Equal(namespace + "_web_2b8a7c4e-uid"))
			Expect(calls[0].Bundle.PrivateKey).To(Equal(string(privKey)))

			s := get()
			Expect(s.GetAnnotations()).To(HaveKeyWithValue(reconcilers.CertificateIDAnnotation, testCertificate))
			Expect(s.GetAnnotations()).To(HaveKeyWithValue(LastHandledAnnotation, DataFingerprint(s)))
			Eventually(recorder.Events).Should(Receive(ContainSubstring("Normal OCICertificateCreated")))
		})

		It("does not call the service again for data already handled", func() {
			for i := 0; i < 4; i++ {
				_, err := reconcileSecret()
				Expect(err).ToNot(HaveOccurred())
			}
			Expect(certs.Calls()).To(HaveLen(1))
		})
	})

	Context("the data of a linked secret changes", func() {

		BeforeEach(func() {
			controllerutil.AddFinalizer(secret, Finalizer)
			secret.SetAnnotations(map[string]string{
				reconcilers.CertificateIDAnnotation: testCertificate,
				LastHandledAnnotation:               DataFingerprint(secret),
			})
			build(secret)
		})

		It("imports a new version of the remote certificate", func() {
			newBundle, newKey, err := pki.GenerateChain("web.example.com", time.Now(), 48*time.Hour)
			Expect(err).ToNot(HaveOccurred())
			s := get()
			s.Data = map[string][]byte{corev1.TLSCertKey: newBundle, corev1.TLSPrivateKeyKey: newKey}
			Expect(k8sClient.Update(context.TODO(), s)).To(Succeed())

			_, err = reconcileSecret()
			Expect(err).ToNot(HaveOccurred())

			calls := certs.Calls()
			Expect(calls).To(HaveLen(1))
			Expect(calls[0].Method).To(Equal("Update"))
			Expect(calls[0].CertificateID).To(Equal(testCertificate))
			Expect(calls[0].Bundle.PrivateKey).To(Equal(string(newKey)))

			s = get()
			Expect(s.GetAnnotations()).To(HaveKeyWithValue(reconcilers.CertificateIDAnnotation, testCertificate))
			Expect(s.GetAnnotations()).To(HaveKeyWithValue(LastHandledAnnotation, DataFingerprint(s)))
			Eventually(recorder.Events).Should(Receive(ContainSubstring("current version was updated to 2")))
		})
	})

	Context("the certificates service reports a soft failure", func() {

		BeforeEach(func() {
			controllerutil.AddFinalizer(secret, Finalizer)
			certs.err = certificates.NewSoftFailureError("CreateCertificate", 500, "InternalServerError")
			build(secret)
		})

		It("retries a minute later up to three attempts", func() {
			for i := 0; i < 2; i++ {
				result, err := reconcileSecret()
				Expect(err).ToNot(HaveOccurred())
				Expect(result.RequeueAfter).To(Equal(60 * time.Second))
			}

			result, err := reconcileSecret()
			Expect(err).ToNot(HaveOccurred())
			Expect(result).To(Equal(ctrl.Result{}))
			Expect(certs.Calls()).To(HaveLen(3))

			s := get()
			Expect(s.GetAnnotations()).ToNot(HaveKey(reconcilers.CertificateIDAnnotation))
			Expect(s.GetAnnotations()).To(HaveKeyWithValue(LastHandledAnnotation, DataFingerprint(s)))
			Eventually(recorder.Events).Should(Receive(ContainSubstring("Warning OCICertificateCreationFail")))

			// the same data is not retried anymore
			_, err = reconcileSecret()
			Expect(err).ToNot(HaveOccurred())
			Expect(certs.Calls()).To(HaveLen(3))
		})
	})

	Context("soft failures are retried with a zero delay", func() {

		BeforeEach(func() {
			controllerutil.AddFinalizer(secret, Finalizer)
			certs.err = certificates.NewSoftFailureError("CreateCertificate", 503, "ServiceUnavailable")
			policy = backoff.Fixed(0, 3)
			build(secret)
		})

		It("requeues immediately and fails after the last attempt", func() {
			for i := 0; i < 2; i++ {
				result, err := reconcileSecret()
				Expect(err).ToNot(HaveOccurred())
				Expect(result).To(Equal(ctrl.Result{Requeue: true}))
			}

			result, err := reconcileSecret()
			Expect(err).ToNot(HaveOccurred())
			Expect(result).To(Equal(ctrl.Result{}))
			Expect(certs.Calls()).To(HaveLen(3))

			s := get()
			Expect(s.GetAnnotations()).To(HaveKeyWithValue(LastHandledAnnotation, DataFingerprint(s)))
			Eventually(recorder.Events).Should(Receive(ContainSubstring("Warning OCICertificateCreationFail")))
		})
	})

	Context("the secret holds a single certificate", func() {

		BeforeEach(func() {
			leaf, _, err := pki.GenerateCertificate(nil, nil, "web.example.com", time.Now(), time.Hour, false)
			Expect(err).ToNot(HaveOccurred())
			secret.Data[corev1.TLSCertKey] = leaf
			controllerutil.AddFinalizer(secret, Finalizer)
			build(secret)
		})

		It("fails without calling the certificates service", func() {
			result, err := reconcileSecret()
			Expect(err).ToNot(HaveOccurred())
			Expect(result).To(Equal(ctrl.Result{}))
			Expect(certs.Calls()).To(BeEmpty())
			Expect(get().GetAnnotations()).ToNot(HaveKey(reconcilers.CertificateIDAnnotation))
			Eventually(recorder.Events).Should(Receive(ContainSubstring("Warning OCICertificateCreationFail")))
		})
	})

	Context("a synced secret is deleted", func() {

		It("releases a secret without a linked certificate", func() {
			controllerutil.AddFinalizer(secret, Finalizer)
			build(secret)
			Expect(k8sClient.Delete(context.TODO(), get())).To(Succeed())

			_, err := reconcileSecret()
			Expect(err).ToNot(HaveOccurred())
			Expect(certs.Calls()).To(BeEmpty())

			err = k8sClient.Get(context.TODO(), key, &corev1.Secret{})
			Expect(apierrors.IsNotFound(err)).To(BeTrue())
		})

		It("schedules the deletion of the linked certificate", func() {
			controllerutil.AddFinalizer(secret, Finalizer)
			secret.SetAnnotations(map[string]string{reconcilers.CertificateIDAnnotation: testCertificate})
			build(secret)
			Expect(k8sClient.Delete(context.TODO(), get())).To(Succeed())

			_, err := reconcileSecret()
			Expect(err).ToNot(HaveOccurred())
			Expect(certs.Calls()).To(Equal([]certificatesCall{{Method: "ScheduleDeletion", CertificateID: testCertificate}}))

			err = k8sClient.Get(context.TODO(), key, &corev1.Secret{})
			Expect(apierrors.IsNotFound(err)).To(BeTrue())
			Eventually(recorder.Events).Should(Receive(ContainSubstring("Normal OCICertificateDeletionScheduled")))
		})

		It("releases the secret when the deletion finally fails", func() {
			controllerutil.AddFinalizer(secret, Finalizer)
			secret.SetAnnotations(map[string]string{reconcilers.CertificateIDAnnotation: testCertificate})
			certs.err = certificates.NewSoftFailureError("ScheduleCertificateDeletion", 409, "Conflict")
			build(secret)
			Expect(k8sClient.Delete(context.TODO(), get())).To(Succeed())

			for i := 0; i < 2; i++ {
				result, err := reconcileSecret()
				Expect(err).ToNot(HaveOccurred())
				Expect(result.RequeueAfter).To(Equal(60 * time.Second))
			}
			_, err := reconcileSecret()
			Expect(err).ToNot(HaveOccurred())
			Expect(certs.Calls()).To(HaveLen(3))

			err = k8sClient.Get(context.TODO(), key, &corev1.Secret{})
			Expect(apierrors.IsNotFound(err)).To(BeTrue())
			Eventually(recorder.Events).Should(Receive(ContainSubstring("Warning OCICertificateDeletionFail")))
		})
	})

	Context("the sync label is removed", func() {

		It("releases the finalizer and leaves the remote certificate", func() {
			controllerutil.AddFinalizer(secret, Finalizer)
			secret.SetLabels(map[string]string{})
			secret.SetAnnotations(map[string]string{reconcilers.CertificateIDAnnotation: testCertificate})
			build(secret)

			_, err := reconcileSecret()
			Expect(err).ToNot(HaveOccurred())

			s := get()
			Expect(controllerutil.ContainsFinalizer(s, Finalizer)).To(BeFalse())
			Expect(s.GetAnnotations()).To(HaveKeyWithValue(reconcilers.CertificateIDAnnotation, testCertificate))
			Expect(certs.Calls()).To(BeEmpty())
		})
	})

	Context("the secret does not exist", func() {

		It("does nothing", func() {
			build()
			result, err := reconcileSecret()
			Expect(err).ToNot(HaveOccurred())
			Expect(result).To(Equal(ctrl.Result{}))
			Expect(certs.Calls()).To(BeEmpty())
		})
	})

	Context("filterSyncedSecretsPredicate", func() {

		It("selects labeled secrets and secrets holding the finalizer", func() {
			build()
			p := r.filterSyncedSecretsPredicate()

			Expect(p.Generic(genericEvent(secret))).To(BeTrue())

			unlabeled := secret.DeepCopy()
			unlabeled.SetLabels(nil)
			Expect(p.Generic(genericEvent(unlabeled))).To(BeFalse())

			controllerutil.AddFinalizer(unlabeled, Finalizer)
			Expect(p.Generic(genericEvent(unlabeled))).To(BeTrue())

			other := secret.DeepCopy()
			other.SetLabels(map[string]string{"sync-to-oci": "no"})
			Expect(p.Generic(genericEvent(other))).To(BeFalse())
		})
	})
})
