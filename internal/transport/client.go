package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/aspect-build/teeguest/internal/logx"
	"github.com/aspect-build/teeguest/internal/version"
)

// unixBaseURL is the placeholder host used for requests carried over a
// Unix socket; the dialer ignores it.
const unixBaseURL = "http://localhost"

// maxResponseBytes bounds how much of a daemon reply is read.
const maxResponseBytes = 64 << 20

// Client performs one JSON request/response exchange per Send. It holds no
// mutable state after New returns and is safe for concurrent use.
type Client struct {
	endpoint Endpoint
	baseURL  string
	http     *http.Client
}

type Option func(*options)

type options struct {
	timeout    time.Duration
	httpClient *http.Client
}

// WithTimeout bounds each request, including connection setup.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithHTTPClient overrides the client used for HTTP endpoints. The client is
// copied, so WithTimeout never changes the caller's value. It is ignored for
// Unix socket endpoints, which always dial the socket directly.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// New builds a client bound to endpoint for its whole lifetime.
func New(endpoint Endpoint, opts ...Option) *Client {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	c := &Client{endpoint: endpoint}
	switch endpoint.Kind {
	case KindHTTP:
		c.baseURL = strings.TrimRight(endpoint.Address, "/")
		if o.httpClient != nil {
			cp := *o.httpClient
			c.http = &cp
		} else {
			c.http = &http.Client{}
		}
	default:
		socketPath := endpoint.Address
		c.baseURL = unixBaseURL
		c.http = &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socketPath)
				},
				// One connection per call.
				DisableKeepAlives: true,
			},
		}
	}
	if o.timeout > 0 {
		c.http.Timeout = o.timeout
	}
	return c
}

// Endpoint returns the endpoint fixed at construction.
func (c *Client) Endpoint() Endpoint {
	return c.endpoint
}

// BaseURL returns the URL prefix requests are sent to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Send POSTs payload as JSON to path and decodes the reply into out. A nil
// payload is sent as {}. A nil out discards the reply body, which may be
// empty.
func (c *Client) Send(ctx context.Context, path string, payload, out any) error {
	var body []byte
	if payload == nil {
		body = []byte("{}")
	} else {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", path, err)
		}
	}

	url := c.baseURL + "/" + strings.TrimLeft(path, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	logx.Debugf("rpc.send transport=%s endpoint=%s path=%s bytes=%d", c.endpoint.Kind, c.endpoint.Address, path, len(body))

	resp, err := c.http.Do(req)
	if err != nil {
		return classifyDoError(path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return classifyDoError(path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logx.Debugf("rpc.status path=%s status=%d", path, resp.StatusCode)
		return &StatusError{Path: path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	if out == nil {
		return nil
	}
	if len(bytes.TrimSpace(respBody)) == 0 {
		return fmt.Errorf("%w: %s: empty body", ErrMalformedResponse, path)
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedResponse, path, err)
	}
	return nil
}
