package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		in   string
		kind Kind
	}{
		{"http://localhost:8000", KindHTTP},
		{"https://agent.example.com/base", KindHTTP},
		{"/custom/path/x.sock", KindUnix},
		{"relative.sock", KindUnix},
		{"httpfoo", KindUnix},
	}
	for _, tt := range tests {
		ep := ParseEndpoint(tt.in)
		assert.Equal(t, tt.kind, ep.Kind, tt.in)
		assert.Equal(t, tt.in, ep.Address, tt.in)
	}
}

func TestResolveEndpointPrecedence(t *testing.T) {
	const envA = "TEEGUEST_TEST_SIM_A"
	const envB = "TEEGUEST_TEST_SIM_B"
	vars := []string{envA, envB}

	t.Setenv(envA, "")
	t.Setenv(envB, "")
	ep := ResolveEndpoint("", vars, "/var/run/default.sock")
	assert.Equal(t, Endpoint{Kind: KindUnix, Address: "/var/run/default.sock"}, ep)

	t.Setenv(envB, "http://sim-b:8090")
	ep = ResolveEndpoint("", vars, "/var/run/default.sock")
	assert.Equal(t, Endpoint{Kind: KindHTTP, Address: "http://sim-b:8090"}, ep)

	t.Setenv(envA, "/tmp/sim-a.sock")
	ep = ResolveEndpoint("", vars, "/var/run/default.sock")
	assert.Equal(t, Endpoint{Kind: KindUnix, Address: "/tmp/sim-a.sock"}, ep)

	ep = ResolveEndpoint("http://localhost:8000", vars, "/var/run/default.sock")
	assert.Equal(t, Endpoint{Kind: KindHTTP, Address: "http://localhost:8000"}, ep)
}

type echoRequest struct {
	Value string `json:"value"`
}

type echoResponse struct {
	Echo string `json:"echo"`
	Path string `json:"path"`
}

func echoHandler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		switch r.URL.Path {
		case "/Echo":
			var req echoRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			_ = json.NewEncoder(w).Encode(echoResponse{Echo: req.Value, Path: r.URL.Path})
		case "/Empty":
			w.WriteHeader(http.StatusOK)
		case "/Garbage":
			_, _ = io.WriteString(w, "<html>nope</html>")
		case "/Fail":
			http.Error(w, "quote provider offline", http.StatusServiceUnavailable)
		case "/Slow":
			time.Sleep(300 * time.Millisecond)
			_, _ = io.WriteString(w, "{}")
		default:
			http.NotFound(w, r)
		}
	})
}

func startUnixServer(t *testing.T, h http.Handler) string {
	t.Helper()
	sock := filepath.Join(t.TempDir(), "agent.sock")
	ln, err := net.Listen("unix", sock)
	require.NoError(t, err)
	ts := httptest.NewUnstartedServer(h)
	ts.Listener = ln
	ts.Start()
	t.Cleanup(ts.Close)
	return sock
}

func TestSendHTTP(t *testing.T) {
	ts := httptest.NewServer(echoHandler(t))
	t.Cleanup(ts.Close)

	c := New(ParseEndpoint(ts.URL + "/"))
	var out echoResponse
	require.NoError(t, c.Send(context.Background(), "/Echo", echoRequest{Value: "hi"}, &out))
	assert.Equal(t, "hi", out.Echo)
	assert.Equal(t, "/Echo", out.Path)
}

func TestWithHTTPClientLeavesCallerClientAlone(t *testing.T) {
	ts := httptest.NewServer(echoHandler(t))
	t.Cleanup(ts.Close)

	mine := &http.Client{Timeout: time.Minute}
	c := New(ParseEndpoint(ts.URL), WithHTTPClient(mine), WithTimeout(2*time.Second))

	assert.Equal(t, time.Minute, mine.Timeout)
	assert.Equal(t, 2*time.Second, c.http.Timeout)
	var out echoResponse
	require.NoError(t, c.Send(context.Background(), "Echo", echoRequest{Value: "x"}, &out))
	assert.Equal(t, "x", out.Echo)
}

func TestSendUnix(t *testing.T) {
	sock := startUnixServer(t, echoHandler(t))

	c := New(ParseEndpoint(sock))
	require.Equal(t, KindUnix, c.Endpoint().Kind)

	var out echoResponse
	require.NoError(t, c.Send(context.Background(), "Echo", echoRequest{Value: "over-socket"}, &out))
	assert.Equal(t, "over-socket", out.Echo)
}

func TestSendEmptyBodyWithoutOut(t *testing.T) {
	sock := startUnixServer(t, echoHandler(t))
	c := New(ParseEndpoint(sock))

	require.NoError(t, c.Send(context.Background(), "Empty", nil, nil))

	var out echoResponse
	err := c.Send(context.Background(), "Empty", nil, &out)
	require.ErrorIs(t, err, ErrMalformedResponse)
}

func TestSendStatusError(t *testing.T) {
	ts := httptest.NewServer(echoHandler(t))
	t.Cleanup(ts.Close)
	c := New(ParseEndpoint(ts.URL))

	err := c.Send(context.Background(), "Fail", nil, nil)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
	assert.Contains(t, statusErr.Body, "quote provider offline")
	assert.False(t, IsTimeout(err))
}

func TestSendMalformedJSON(t *testing.T) {
	ts := httptest.NewServer(echoHandler(t))
	t.Cleanup(ts.Close)
	c := New(ParseEndpoint(ts.URL))

	var out echoResponse
	err := c.Send(context.Background(), "Garbage", nil, &out)
	require.ErrorIs(t, err, ErrMalformedResponse)
}

func TestSendConnectFailure(t *testing.T) {
	c := New(ParseEndpoint(filepath.Join(t.TempDir(), "missing.sock")))
	err := c.Send(context.Background(), "Echo", nil, nil)
	require.ErrorIs(t, err, ErrConnect)
	assert.False(t, IsTimeout(err))

	// The client stays usable after a failure.
	err = c.Send(context.Background(), "Echo", nil, nil)
	require.ErrorIs(t, err, ErrConnect)
}

func TestSendTimeoutIsDistinct(t *testing.T) {
	sock := startUnixServer(t, echoHandler(t))

	c := New(ParseEndpoint(sock))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := c.Send(ctx, "Slow", nil, nil)
	require.Error(t, err)
	assert.True(t, IsTimeout(err), "got %v", err)
	var statusErr *StatusError
	assert.False(t, errors.As(err, &statusErr))

	c = New(ParseEndpoint(sock), WithTimeout(50*time.Millisecond))
	err = c.Send(context.Background(), "Slow", nil, nil)
	assert.True(t, IsTimeout(err), "got %v", err)
}

func TestSendConcurrent(t *testing.T) {
	sock := startUnixServer(t, echoHandler(t))
	c := New(ParseEndpoint(sock))

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var out echoResponse
			if err := c.Send(context.Background(), "Echo", echoRequest{Value: "x"}, &out); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent send: %v", err)
	}
}
