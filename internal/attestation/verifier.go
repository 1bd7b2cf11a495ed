package attestation

import "context"

// Verifier validates attestation bundles.
type Verifier interface {
	Verify(ctx context.Context, b Bundle) (VerifiedIdentity, error)
}

// Collector fetches the local attestation bundle from the TEE runtime.
type Collector interface {
	Collect(ctx context.Context) (Bundle, error)
}
