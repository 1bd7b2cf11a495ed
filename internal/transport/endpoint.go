package transport

import (
	"os"
	"strings"
)

// Kind selects how requests reach the daemon.
type Kind int

const (
	KindUnix Kind = iota
	KindHTTP
)

func (k Kind) String() string {
	switch k {
	case KindUnix:
		return "unix"
	case KindHTTP:
		return "http"
	default:
		return "unknown"
	}
}

// Endpoint is a resolved daemon address. Address is a socket path for
// KindUnix and a base URL for KindHTTP.
type Endpoint struct {
	Kind    Kind
	Address string
}

func (e Endpoint) String() string {
	return e.Kind.String() + ":" + e.Address
}

// ParseEndpoint classifies s: http:// and https:// select HTTP with s as the
// base URL, anything else is taken as a Unix socket path.
func ParseEndpoint(s string) Endpoint {
	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		return Endpoint{Kind: KindHTTP, Address: s}
	}
	return Endpoint{Kind: KindUnix, Address: s}
}

// ResolveEndpoint applies the precedence explicit > first non-empty env var
// in envVars > defaultPath.
func ResolveEndpoint(explicit string, envVars []string, defaultPath string) Endpoint {
	if explicit != "" {
		return ParseEndpoint(explicit)
	}
	for _, name := range envVars {
		if v := os.Getenv(name); v != "" {
			return ParseEndpoint(v)
		}
	}
	return ParseEndpoint(defaultPath)
}
