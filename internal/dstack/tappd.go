package dstack

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/aspect-build/teeguest/internal/transport"
)

const (
	EnvTappdEndpoint   = "TAPPD_SIMULATOR_ENDPOINT"
	DefaultTappdSocket = "/var/run/tappd.sock"
)

// TappdClient talks to the legacy tappd service. It is immutable after
// construction and safe for concurrent use.
type TappdClient struct {
	rpc *transport.Client
}

// NewTappdClient resolves the endpoint from TAPPD_SIMULATOR_ENDPOINT, then
// DSTACK_SIMULATOR_ENDPOINT, then the default socket.
func NewTappdClient(opts ...Option) *TappdClient {
	return &TappdClient{rpc: buildTransport([]string{EnvTappdEndpoint, EnvDstackEndpoint}, DefaultTappdSocket, opts)}
}

func (c *TappdClient) Endpoint() transport.Endpoint {
	return c.rpc.Endpoint()
}

func (c *TappdClient) Info(ctx context.Context) (*InfoResponse, error) {
	var resp InfoResponse
	if err := c.rpc.Send(ctx, "prpc/Tappd.Info", nil, &resp); err != nil {
		return nil, err
	}
	if err := resp.decode(); err != nil {
		return nil, fmt.Errorf("%w: Tappd.Info: %v", transport.ErrMalformedResponse, err)
	}
	return &resp, nil
}

// DeriveKey derives a key using path as the certificate subject.
func (c *TappdClient) DeriveKey(ctx context.Context, path string) (*DeriveKeyResponse, error) {
	return c.DeriveKeyWithSubjectAndAltNames(ctx, path, path, nil)
}

func (c *TappdClient) DeriveKeyWithSubject(ctx context.Context, path, subject string) (*DeriveKeyResponse, error) {
	return c.DeriveKeyWithSubjectAndAltNames(ctx, path, subject, nil)
}

// DeriveKeyWithSubjectAndAltNames derives a key; an empty subject falls back
// to path and empty alt names are left off the request.
func (c *TappdClient) DeriveKeyWithSubjectAndAltNames(ctx context.Context, path, subject string, altNames []string) (*DeriveKeyResponse, error) {
	if subject == "" {
		subject = path
	}
	req := struct {
		Path     string   `json:"path"`
		Subject  string   `json:"subject"`
		AltNames []string `json:"alt_names,omitempty"`
	}{path, subject, altNames}
	var resp DeriveKeyResponse
	if err := c.rpc.Send(ctx, "prpc/Tappd.DeriveKey", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RawQuote embeds reportData verbatim and requires exactly 64 bytes.
func (c *TappdClient) RawQuote(ctx context.Context, reportData []byte) (*QuoteResponse, error) {
	if len(reportData) != MaxReportDataLen {
		return nil, fmt.Errorf("%w: raw quote needs exactly %d bytes, got %d", ErrInvalidReportData, MaxReportDataLen, len(reportData))
	}
	req := struct {
		ReportData string `json:"report_data"`
	}{hex.EncodeToString(reportData)}
	var resp QuoteResponse
	if err := c.rpc.Send(ctx, "prpc/Tappd.RawQuote", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TdxQuote lets the daemon hash reportData with alg before embedding it.
// Only HashRaw limits the input length. HashKeccak384 is forwarded as is,
// but ReportDataFor cannot compute it and teeguest-sim rejects it with 400.
func (c *TappdClient) TdxQuote(ctx context.Context, reportData []byte, alg QuoteHashAlgorithm) (*QuoteResponse, error) {
	if alg == "" {
		alg = HashSHA512
	}
	if !alg.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidHashAlgorithm, string(alg))
	}
	if alg == HashRaw && len(reportData) > MaxReportDataLen {
		return nil, fmt.Errorf("%w: raw report data is %d bytes, at most %d allowed", ErrInvalidReportData, len(reportData), MaxReportDataLen)
	}
	req := struct {
		ReportData    string `json:"report_data"`
		HashAlgorithm string `json:"hash_algorithm"`
		Prefix        string `json:"prefix"`
	}{hex.EncodeToString(reportData), string(alg), ""}
	var resp QuoteResponse
	if err := c.rpc.Send(ctx, "prpc/Tappd.TdxQuote", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
