package version

// version is set at build time with
//
//	-ldflags "-X github.com/3scale-ops/oci-cert-sync/pkg/version.version=<version>"
var version = "v0.1.0"

// Current returns the current oci-cert-sync operator version
func Current() string { return version }
