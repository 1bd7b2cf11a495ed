package runner

import (
	"fmt"
	"net/url"
	"strings"
)

const refPrefix = "dstack-key://"

// Key value encodings accepted in the format query parameter.
const (
	FormatHex    = "hex"
	FormatBase64 = "base64"
	FormatEth    = "eth"
)

// KeyRef is a parsed dstack-key:// reference.
//
//	dstack-key://<path>[?purpose=<purpose>&format=hex|base64|eth]
type KeyRef struct {
	Path    string
	Purpose string
	Format  string
	Raw     string
}

// IsRef reports whether value is a dstack-key:// reference.
func IsRef(value string) bool {
	return strings.HasPrefix(value, refPrefix)
}

// ParseRef parses a dstack-key:// reference. Format defaults to hex.
func ParseRef(ref string) (KeyRef, error) {
	if !IsRef(ref) {
		return KeyRef{}, fmt.Errorf("not a key reference: %q", ref)
	}
	body, rawQuery, _ := strings.Cut(strings.TrimPrefix(ref, refPrefix), "?")
	path := strings.Trim(body, "/")
	if path == "" {
		return KeyRef{}, fmt.Errorf("invalid key reference %q: empty path", ref)
	}
	q, err := url.ParseQuery(rawQuery)
	if err != nil {
		return KeyRef{}, fmt.Errorf("invalid key reference %q: %w", ref, err)
	}

	kr := KeyRef{
		Path:    path,
		Purpose: q.Get("purpose"),
		Format:  q.Get("format"),
		Raw:     ref,
	}
	switch kr.Format {
	case "":
		kr.Format = FormatHex
	case FormatHex, FormatBase64, FormatEth:
	default:
		return KeyRef{}, fmt.Errorf("invalid key reference %q: unknown format %q", ref, kr.Format)
	}
	return kr, nil
}
