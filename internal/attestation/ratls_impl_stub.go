//go:build !ratls

package attestation

import (
	"context"
	"errors"
)

// ErrRATLSUnavailable is returned by the verifier in builds without -tags ratls.
var ErrRATLSUnavailable = errors.New("RA-TLS verifier unavailable: rebuild with -tags ratls")

// RATLSAvailable reports whether RA-TLS verification is compiled in.
func RATLSAvailable() bool { return false }

// RATLSVerifier without quote verification. Certificate parsing and the app
// id cross-check still run so a forged bundle is reported as such.
type RATLSVerifier struct{}

func NewRATLSVerifier() *RATLSVerifier {
	return &RATLSVerifier{}
}

func (v *RATLSVerifier) Verify(_ context.Context, b Bundle) (VerifiedIdentity, error) {
	cert, err := bundleCert(b)
	if err != nil {
		return VerifiedIdentity{}, err
	}
	if err := checkBundleAppID(AppIDFromCert(cert), b); err != nil {
		return VerifiedIdentity{}, err
	}
	return VerifiedIdentity{}, ErrRATLSUnavailable
}
