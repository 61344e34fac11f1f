package reconcilers

import (
	"context"

	"github.com/3scale-ops/oci-cert-sync/pkg/certificates"
)

type call struct {
	Method        string
	CompartmentID string
	Name          string
	CertificateID string
	Bundle        certificates.Bundle
}

// fakeClient records every call and answers with the configured values
type fakeClient struct {
	calls   []call
	id      string
	version int64
	err     error
}

var _ certificates.Client = &fakeClient{}

func (f *fakeClient) Create(ctx context.Context, compartmentID, name string, bundle certificates.Bundle) (string, error) {
	f.calls = append(f.calls, call{Method: "Create", CompartmentID: compartmentID, Name: name, Bundle: bundle})
	if f.err != nil {
		return "", f.err
	}
	return f.id, nil
}

func (f *fakeClient) Update(ctx context.Context, certificateID string, bundle certificates.Bundle) (int64, error) {
	f.calls = append(f.calls, call{Method: "Update", CertificateID: certificateID, Bundle: bundle})
	if f.err != nil {
		return 0, f.err
	}
	return f.version, nil
}

func (f *fakeClient) ScheduleDeletion(ctx context.Context, certificateID string) error {
	f.calls = append(f.calls, call{Method: "ScheduleDeletion", CertificateID: certificateID})
	return f.err
}
