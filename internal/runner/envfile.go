package runner

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// EnvEntry is a single KEY=VALUE pair.
type EnvEntry struct {
	Key   string
	Value string
}

// ParseEnvFile parses a .env file; see ParseEnv for the accepted syntax.
func ParseEnvFile(path string) ([]EnvEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open env file: %w", err)
	}
	defer f.Close()
	return ParseEnv(f)
}

// ParseEnv reads KEY=VALUE lines with an optional export prefix. Blank
// lines and # comments are skipped. Double-quoted values take Go escapes,
// single-quoted values are literal, and unquoted values end at " #".
func ParseEnv(r io.Reader) ([]EnvEntry, error) {
	var entries []EnvEntry
	sc := bufio.NewScanner(r)
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		key, raw, ok := strings.Cut(strings.TrimPrefix(line, "export "), "=")
		if !ok {
			return nil, fmt.Errorf("line %d: missing '='", n)
		}
		key = strings.TrimSpace(key)
		if !validEnvKey(key) {
			return nil, fmt.Errorf("line %d: invalid key %q", n, key)
		}
		value, err := envValue(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("line %d: %s: %w", n, key, err)
		}
		entries = append(entries, EnvEntry{Key: key, Value: value})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read env file: %w", err)
	}
	return entries, nil
}

func envValue(v string) (string, error) {
	if len(v) >= 2 && v[0] == v[len(v)-1] {
		switch v[0] {
		case '\'':
			return v[1 : len(v)-1], nil
		case '"':
			return strconv.Unquote(v)
		}
	}
	if i := strings.Index(v, " #"); i >= 0 {
		v = strings.TrimSpace(v[:i])
	}
	return v, nil
}

func validEnvKey(k string) bool {
	if k == "" {
		return false
	}
	for i, c := range k {
		switch {
		case c == '_', c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
