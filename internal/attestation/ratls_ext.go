package attestation

import (
	"crypto/x509"
	"encoding/asn1"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"strings"
)

// OIDAppID is the RA-TLS certificate extension carrying the application id.
var OIDAppID = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 62397, 1, 3}

// AppIDFromCert returns the app id embedded in cert, or "" when the
// extension is absent. Printable ids are returned as text, others as hex.
func AppIDFromCert(cert *x509.Certificate) string {
	for _, ext := range cert.Extensions {
		if !ext.Id.Equal(OIDAppID) {
			continue
		}
		var raw []byte
		if _, err := asn1.Unmarshal(ext.Value, &raw); err != nil {
			continue
		}
		if len(raw) == 0 {
			continue
		}
		if isPrintableASCII(raw) {
			return strings.TrimSpace(string(raw))
		}
		return hex.EncodeToString(raw)
	}
	return ""
}

func isPrintableASCII(b []byte) bool {
	for _, c := range b {
		if c < 0x20 || c > 0x7e {
			return false
		}
	}
	return true
}

// ParseFirstPEMCertificate decodes the leaf of a PEM chain.
func ParseFirstPEMCertificate(pemChain string) (*x509.Certificate, error) {
	block, _ := pem.Decode([]byte(pemChain))
	if block == nil {
		return nil, fmt.Errorf("failed to decode certificate PEM")
	}
	if block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("unexpected PEM block type %q (want CERTIFICATE)", block.Type)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}
	return cert, nil
}

// checkBundleAppID rejects bundles whose self-reported app id disagrees with
// the certificate. Only the certificate value is trusted.
func checkBundleAppID(certAppID string, b Bundle) error {
	claimed := strings.TrimSpace(b.AppID)
	if certAppID != "" && claimed != "" && certAppID != claimed {
		return fmt.Errorf("attestation app_id mismatch between certificate (%q) and bundle (%q)", certAppID, claimed)
	}
	return nil
}

func bundleCert(b Bundle) (*x509.Certificate, error) {
	if b.AppCert == "" {
		return nil, fmt.Errorf("missing app_cert in attestation bundle")
	}
	return ParseFirstPEMCertificate(b.AppCert)
}
