package dstack

import (
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"

	"golang.org/x/crypto/sha3"
)

// DefaultQuotePrefix is mixed into hashed report data when a TdxQuote request
// leaves the prefix empty.
const DefaultQuotePrefix = "app-data:"

// ReportDataFor computes the 64-byte REPORTDATA a TdxQuote carries for data
// under alg and prefix. Digests shorter than 64 bytes are zero-padded.
func ReportDataFor(alg QuoteHashAlgorithm, prefix string, data []byte) ([]byte, error) {
	out := make([]byte, MaxReportDataLen)
	if alg == HashRaw {
		if len(data) > MaxReportDataLen {
			return nil, fmt.Errorf("%w: raw report data is %d bytes, at most %d allowed", ErrInvalidReportData, len(data), MaxReportDataLen)
		}
		copy(out, data)
		return out, nil
	}

	h, err := newReportHash(alg)
	if err != nil {
		return nil, err
	}
	if prefix == "" {
		prefix = DefaultQuotePrefix
	}
	h.Write([]byte(prefix))
	h.Write(data)
	copy(out, h.Sum(nil))
	return out, nil
}

func newReportHash(alg QuoteHashAlgorithm) (hash.Hash, error) {
	switch alg {
	case HashSHA256:
		return sha256.New(), nil
	case HashSHA384:
		return sha512.New384(), nil
	case HashSHA512, "":
		return sha512.New(), nil
	case HashSHA3_256:
		return sha3.New256(), nil
	case HashSHA3_384:
		return sha3.New384(), nil
	case HashSHA3_512:
		return sha3.New512(), nil
	case HashKeccak256:
		return sha3.NewLegacyKeccak256(), nil
	case HashKeccak512:
		return sha3.NewLegacyKeccak512(), nil
	case HashKeccak384:
		return nil, fmt.Errorf("%w: %s has no local implementation", ErrInvalidHashAlgorithm, alg)
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidHashAlgorithm, string(alg))
}
