//go:build ratls

package attestation

import (
	"context"
	"encoding/hex"
	"fmt"

	dstackratls "github.com/Dstack-TEE/dstack/sdk/go/ratls"

	"github.com/aspect-build/teeguest/internal/logx"
)

// RATLSAvailable reports whether RA-TLS verification is compiled in.
func RATLSAvailable() bool { return true }

// RATLSVerifier checks the quote embedded in the app certificate, then
// replays the bundle's tcb_info event log against that quote's RTMRs.
type RATLSVerifier struct{}

func NewRATLSVerifier() *RATLSVerifier {
	return &RATLSVerifier{}
}

func (v *RATLSVerifier) Verify(_ context.Context, b Bundle) (VerifiedIdentity, error) {
	cert, err := bundleCert(b)
	if err != nil {
		return VerifiedIdentity{}, err
	}

	result, err := dstackratls.VerifyCert(cert)
	if err != nil {
		return VerifiedIdentity{}, fmt.Errorf("RA-TLS certificate verification failed: %w", err)
	}
	certAppID := AppIDFromCert(cert)
	if err := checkBundleAppID(certAppID, b); err != nil {
		return VerifiedIdentity{}, err
	}

	if result != nil && result.Report != nil {
		qr := result.Report.Report
		logx.Debugf("ratls.verify status=%s advisory_ids=%v mrtd=%s", result.Report.Status, result.Report.AdvisoryIDs, hex.EncodeToString(qr.MrTD))
		if b.TCBInfo != "" {
			report, err := VerifyTcbInfo(b.TCBInfo, [4][]byte{qr.RTMR0, qr.RTMR1, qr.RTMR2, qr.RTMR3})
			if err != nil {
				return VerifiedIdentity{}, fmt.Errorf("tcb_info event log: %w", err)
			}
			logx.Debugf("ratls.replay registers=%d out_of_range=%v", len(report.Registers), report.OutOfRange)
		}
	}

	// Instance and device ids are self-reported; only the app id is bound by
	// the certificate.
	return VerifiedIdentity{
		AppID:      certAppID,
		InstanceID: b.Instance,
		DeviceID:   b.DeviceID,
	}, nil
}
