// Package codec turns daemon-returned strings of unknown encoding into raw
// bytes. The daemon may answer with hex, base64, or a PEM-wrapped PKCS#8
// private key depending on the code path it took, so the format is sniffed
// rather than declared by the caller.
package codec

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"
)

// P256ScalarLen is the width of a raw P-256 private scalar.
const P256ScalarLen = 32

var (
	ErrUnrecognizedEncoding = errors.New("unrecognized key encoding")
	ErrKeyFormat            = errors.New("invalid key format")
)

const pemPrefix = "-----BEGIN"

// Decode applies PEM, then hex, then base64, first match wins. A PEM body
// that parses as a DER SEQUENCE is unwrapped as PKCS#8 down to the raw
// 32-byte EC scalar and any structural failure from that point is reported
// as ErrKeyFormat. A PEM body that is not DER at all is returned as is.
//
// maxLen > 0 keeps only the leading maxLen bytes. That truncation has no
// structural awareness and must not be used to pick a key size.
func Decode(raw string, maxLen int) ([]byte, error) {
	out, err := decode(raw)
	if err != nil {
		return nil, err
	}
	if maxLen > 0 && len(out) > maxLen {
		out = out[:maxLen]
	}
	return out, nil
}

func decode(raw string) ([]byte, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, fmt.Errorf("%w: empty input", ErrUnrecognizedEncoding)
	}

	if strings.HasPrefix(s, pemPrefix) {
		der, err := pemBody(s)
		if err != nil {
			return nil, err
		}
		if !isDERSequence(der) {
			return der, nil
		}
		return UnwrapPKCS8EC(der)
	}

	if b, err := hex.DecodeString(s); err == nil {
		return b, nil
	}

	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		if b, err := enc.DecodeString(s); err == nil {
			return b, nil
		}
	}

	return nil, ErrUnrecognizedEncoding
}

// DecodePEMKey requires a PEM-wrapped PKCS#8 EC key and returns its 32-byte
// scalar.
func DecodePEMKey(raw string) ([]byte, error) {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, pemPrefix) {
		return nil, fmt.Errorf("%w: expected PEM block", ErrKeyFormat)
	}
	der, err := pemBody(s)
	if err != nil {
		return nil, err
	}
	return UnwrapPKCS8EC(der)
}

// pemBody drops the armour lines and base64-decodes what remains. Header
// key/value lines are not supported.
func pemBody(s string) ([]byte, error) {
	var body strings.Builder
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "-----") {
			continue
		}
		body.WriteString(line)
	}
	der, err := base64.StdEncoding.DecodeString(body.String())
	if err != nil {
		return nil, fmt.Errorf("%w: PEM body: %v", ErrKeyFormat, err)
	}
	return der, nil
}

func isDERSequence(der []byte) bool {
	in := cryptobyte.String(der)
	var seq cryptobyte.String
	return in.ReadASN1(&seq, asn1.SEQUENCE) && in.Empty()
}

type element struct {
	tag     asn1.Tag
	content cryptobyte.String
}

func readSequence(der []byte) ([]element, bool) {
	in := cryptobyte.String(der)
	var seq cryptobyte.String
	if !in.ReadASN1(&seq, asn1.SEQUENCE) {
		return nil, false
	}
	var elems []element
	for !seq.Empty() {
		var e element
		if !seq.ReadAnyASN1(&e.content, &e.tag) {
			return nil, false
		}
		elems = append(elems, e)
	}
	return elems, true
}

// UnwrapPKCS8EC walks PrivateKeyInfo { version, algorithm, privateKey } and
// the ECPrivateKey { version, privateKey, ... } carried in privateKey,
// returning the raw scalar.
func UnwrapPKCS8EC(der []byte) ([]byte, error) {
	outer, ok := readSequence(der)
	if !ok {
		return nil, fmt.Errorf("%w: PKCS#8 is not a DER SEQUENCE", ErrKeyFormat)
	}
	if len(outer) < 3 {
		return nil, fmt.Errorf("%w: PKCS#8 has %d elements, expected at least 3", ErrKeyFormat, len(outer))
	}

	inner, ok := readSequence(outer[2].content)
	if !ok {
		return nil, fmt.Errorf("%w: inner EC private key is not a DER SEQUENCE", ErrKeyFormat)
	}
	if len(inner) < 2 {
		return nil, fmt.Errorf("%w: EC private key has %d elements, expected at least 2", ErrKeyFormat, len(inner))
	}

	key := inner[1].content
	if len(key) != P256ScalarLen {
		return nil, fmt.Errorf("%w: expected %d-byte P-256 private key, got %d bytes", ErrKeyFormat, P256ScalarLen, len(key))
	}
	out := make([]byte, len(key))
	copy(out, key)
	return out, nil
}
