// Package dstack is the client for the in-guest attestation daemon. The
// current agent is spoken to through DstackClient and the legacy tappd
// service through TappdClient; both sit on the same transport.
package dstack

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/aspect-build/teeguest/internal/logx"
	"github.com/aspect-build/teeguest/internal/transport"
)

const (
	// EnvDstackEndpoint points the client at a simulator instead of the
	// local socket.
	EnvDstackEndpoint = "DSTACK_SIMULATOR_ENDPOINT"
	// DefaultDstackSocket is where the guest agent listens.
	DefaultDstackSocket = "/var/run/dstack.sock"
)

type Option func(*clientOptions)

type clientOptions struct {
	endpoint string
	timeout  time.Duration
}

// WithEndpoint overrides environment and default resolution. An http:// or
// https:// value selects HTTP, anything else is a socket path.
func WithEndpoint(endpoint string) Option {
	return func(o *clientOptions) { o.endpoint = endpoint }
}

// WithTimeout bounds every call made by the client.
func WithTimeout(d time.Duration) Option {
	return func(o *clientOptions) { o.timeout = d }
}

func buildTransport(envVars []string, defaultPath string, opts []Option) *transport.Client {
	var o clientOptions
	for _, opt := range opts {
		opt(&o)
	}
	ep := transport.ResolveEndpoint(o.endpoint, envVars, defaultPath)
	var topts []transport.Option
	if o.timeout > 0 {
		topts = append(topts, transport.WithTimeout(o.timeout))
	}
	return transport.New(ep, topts...)
}

// DstackClient talks to the current guest agent. It is immutable after
// construction and safe for concurrent use.
type DstackClient struct {
	rpc *transport.Client
}

func NewDstackClient(opts ...Option) *DstackClient {
	return &DstackClient{rpc: buildTransport([]string{EnvDstackEndpoint}, DefaultDstackSocket, opts)}
}

// Endpoint reports where the client sends requests.
func (c *DstackClient) Endpoint() transport.Endpoint {
	return c.rpc.Endpoint()
}

func (c *DstackClient) Info(ctx context.Context) (*InfoResponse, error) {
	var resp InfoResponse
	if err := c.rpc.Send(ctx, "Info", nil, &resp); err != nil {
		return nil, err
	}
	if err := resp.decode(); err != nil {
		return nil, fmt.Errorf("%w: Info: %v", transport.ErrMalformedResponse, err)
	}
	return &resp, nil
}

// IsReachable reports whether Info succeeds.
func (c *DstackClient) IsReachable(ctx context.Context) bool {
	_, err := c.Info(ctx)
	if err != nil {
		logx.Debugf("dstack.unreachable endpoint=%s err=%v", c.rpc.Endpoint(), err)
	}
	return err == nil
}

// GetKey asks the daemon for a key bound to path and purpose. Both may be
// empty.
func (c *DstackClient) GetKey(ctx context.Context, path, purpose string) (*GetKeyResponse, error) {
	req := struct {
		Path    string `json:"path"`
		Purpose string `json:"purpose"`
	}{path, purpose}
	var resp GetKeyResponse
	if err := c.rpc.Send(ctx, "GetKey", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetQuote requests a quote embedding reportData, which is zero-padded by
// the daemon. More than 64 bytes is rejected before anything is sent.
func (c *DstackClient) GetQuote(ctx context.Context, reportData []byte) (*QuoteResponse, error) {
	if len(reportData) > MaxReportDataLen {
		return nil, fmt.Errorf("%w: report data is %d bytes, at most %d allowed", ErrInvalidReportData, len(reportData), MaxReportDataLen)
	}
	req := struct {
		ReportData string `json:"report_data"`
	}{hex.EncodeToString(reportData)}
	var resp QuoteResponse
	if err := c.rpc.Send(ctx, "GetQuote", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// EmitEvent extends RTMR3 with a runtime event. Every call extends again.
func (c *DstackClient) EmitEvent(ctx context.Context, name string, payload []byte) error {
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidEvent)
	}
	req := struct {
		EventName string `json:"event_name"`
		Payload   string `json:"payload"`
	}{name, hex.EncodeToString(payload)}
	return c.rpc.Send(ctx, "EmitEvent", req, nil)
}

// GetTlsKey asks for a fresh TLS key and certificate. Keys are not
// deterministic across calls.
func (c *DstackClient) GetTlsKey(ctx context.Context, cfg TlsKeyConfig) (*GetTlsKeyResponse, error) {
	if cfg.AltNames == nil {
		cfg.AltNames = []string{}
	}
	var resp GetTlsKeyResponse
	if err := c.rpc.Send(ctx, "GetTlsKey", cfg, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
