package runner

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/aspect-build/teeguest/internal/dstack"
	"github.com/aspect-build/teeguest/internal/logx"
	"github.com/aspect-build/teeguest/internal/wallet"
)

// KeyGetter derives keys by path. *dstack.DstackClient satisfies it.
type KeyGetter interface {
	GetKey(ctx context.Context, path, purpose string) (*dstack.GetKeyResponse, error)
}

// ScanResult separates plain environment variables from key references.
type ScanResult struct {
	// PlainEnv holds KEY=VALUE pairs passed to the child unchanged.
	PlainEnv []string
	// Refs maps variable name to its dstack-key:// reference.
	Refs map[string]string
}

// ScanEnv merges env file entries over environ (KEY=VALUE pairs, usually
// os.Environ()) and splits out key references. File entries win. Order of
// first appearance is kept.
func ScanEnv(environ []string, entries []EnvEntry) ScanResult {
	values := make(map[string]string)
	var keys []string
	set := func(k, v string) {
		if _, ok := values[k]; !ok {
			keys = append(keys, k)
		}
		values[k] = v
	}
	for _, e := range environ {
		k, v, _ := strings.Cut(e, "=")
		set(k, v)
	}
	for _, e := range entries {
		set(e.Key, e.Value)
	}

	result := ScanResult{Refs: make(map[string]string)}
	for _, k := range keys {
		v := values[k]
		if IsRef(v) {
			result.Refs[k] = v
		} else {
			result.PlainEnv = append(result.PlainEnv, k+"="+v)
		}
	}
	return result
}

// Resolve derives every referenced key and returns the child environment
// together with the values that must be masked in its output.
func Resolve(ctx context.Context, getter KeyGetter, scan ScanResult) (env []string, secrets []string, err error) {
	env = append(env, scan.PlainEnv...)

	names := make([]string, 0, len(scan.Refs))
	for name := range scan.Refs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ref, err := ParseRef(scan.Refs[name])
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", name, err)
		}
		resp, err := getter.GetKey(ctx, ref.Path, ref.Purpose)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: get key %s: %w", name, ref.Path, err)
		}
		key, err := resp.DecodeKey()
		if err != nil {
			return nil, nil, fmt.Errorf("%s: decode key: %w", name, err)
		}
		value, extra, err := formatKey(ref.Format, key)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", name, err)
		}
		logx.Debugf("runner.resolve var=%s path=%s format=%s", name, ref.Path, ref.Format)
		env = append(env, name+"="+value)
		secrets = append(secrets, value)
		secrets = append(secrets, extra...)
	}
	return env, secrets, nil
}

// formatKey renders key material. extra lists other spellings of the same
// secret that should also be masked.
func formatKey(format string, key []byte) (string, []string, error) {
	switch format {
	case FormatBase64:
		return base64.StdEncoding.EncodeToString(key), []string{hex.EncodeToString(key)}, nil
	case FormatEth:
		acct, err := wallet.NewEthereumAccount(key)
		if err != nil {
			return "", nil, err
		}
		v := acct.PrivateKeyHex()
		return v, []string{strings.TrimPrefix(v, "0x")}, nil
	default:
		return hex.EncodeToString(key), nil, nil
	}
}
