package dstack

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/aspect-build/teeguest/internal/codec"
	"github.com/aspect-build/teeguest/internal/eventlog"
)

var (
	ErrInvalidReportData    = errors.New("invalid report data")
	ErrInvalidHashAlgorithm = errors.New("invalid hash algorithm")
	ErrInvalidEvent         = errors.New("invalid event")
)

// MaxReportDataLen is the width of the TDX REPORTDATA field.
const MaxReportDataLen = 64

// TcbInfo is the measurement snapshot the daemon reports in Info.
type TcbInfo struct {
	MRTD        string           `json:"mrtd"`
	RTMR0       string           `json:"rtmr0"`
	RTMR1       string           `json:"rtmr1"`
	RTMR2       string           `json:"rtmr2"`
	RTMR3       string           `json:"rtmr3"`
	ComposeHash string           `json:"compose_hash,omitempty"`
	DeviceID    string           `json:"device_id,omitempty"`
	OSImageHash string           `json:"os_image_hash,omitempty"`
	AppCompose  string           `json:"app_compose,omitempty"`
	EventLog    []eventlog.Entry `json:"event_log"`
}

// RTMRs returns the reported registers indexed 0..3.
func (t TcbInfo) RTMRs() map[int]string {
	return map[int]string{0: t.RTMR0, 1: t.RTMR1, 2: t.RTMR2, 3: t.RTMR3}
}

// DecodeTcbInfo accepts tcb_info as either an embedded object or a JSON
// document carried in a string.
func DecodeTcbInfo(raw json.RawMessage) (TcbInfo, error) {
	var info TcbInfo
	if len(raw) == 0 {
		return info, nil
	}
	v := gjson.ParseBytes(raw)
	switch v.Type {
	case gjson.Null:
		return info, nil
	case gjson.String:
		s := v.String()
		if strings.TrimSpace(s) == "" {
			return info, nil
		}
		if err := json.Unmarshal([]byte(s), &info); err != nil {
			return info, fmt.Errorf("tcb_info: %w", err)
		}
	case gjson.JSON:
		if err := json.Unmarshal(raw, &info); err != nil {
			return info, fmt.Errorf("tcb_info: %w", err)
		}
	default:
		return info, fmt.Errorf("tcb_info: unexpected %s", v.Type)
	}
	return info, nil
}

// InfoResponse is the daemon's identity and measurement report.
type InfoResponse struct {
	AppID           string          `json:"app_id"`
	InstanceID      string          `json:"instance_id"`
	AppCert         string          `json:"app_cert"`
	TcbInfo         TcbInfo         `json:"-"`
	RawTcbInfo      json.RawMessage `json:"tcb_info"`
	AppName         string          `json:"app_name"`
	DeviceID        string          `json:"device_id,omitempty"`
	ComposeHash     string          `json:"compose_hash,omitempty"`
	OSImageHash     string          `json:"os_image_hash,omitempty"`
	KeyProviderInfo string          `json:"key_provider_info,omitempty"`
}

func (r *InfoResponse) decode() error {
	info, err := DecodeTcbInfo(r.RawTcbInfo)
	if err != nil {
		return err
	}
	r.TcbInfo = info
	return nil
}

// GetKeyResponse carries a derived key and the chain of signatures
// endorsing it.
type GetKeyResponse struct {
	Key            string   `json:"key"`
	SignatureChain []string `json:"signature_chain"`
}

// DecodeKey returns the raw key bytes, whatever encoding the daemon used.
func (r *GetKeyResponse) DecodeKey() ([]byte, error) {
	return codec.Decode(r.Key, 0)
}

// DecodeSignatureChain hex-decodes every signature in order.
func (r *GetKeyResponse) DecodeSignatureChain() ([][]byte, error) {
	out := make([][]byte, 0, len(r.SignatureChain))
	for i, s := range r.SignatureChain {
		b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
		if err != nil {
			return nil, fmt.Errorf("signature %d: %w", i, err)
		}
		out = append(out, b)
	}
	return out, nil
}

// GetTlsKeyResponse is a freshly generated TLS key and its certificate
// chain, leaf first.
type GetTlsKeyResponse struct {
	Key              string   `json:"key"`
	CertificateChain []string `json:"certificate_chain"`
}

// AsBytes decodes the key and keeps at most maxLen leading bytes. The cut is
// blind to key structure.
func (r *GetTlsKeyResponse) AsBytes(maxLen int) ([]byte, error) {
	return codec.Decode(r.Key, maxLen)
}

// DecodeKey unwraps the PEM PKCS#8 key to its 32-byte P-256 scalar.
func (r *GetTlsKeyResponse) DecodeKey() ([]byte, error) {
	return codec.DecodePEMKey(r.Key)
}

// DeriveKeyResponse is the legacy derive-key reply.
type DeriveKeyResponse struct {
	Key              string   `json:"key"`
	CertificateChain []string `json:"certificate_chain"`
}

// DecodeKey unwraps the PEM PKCS#8 key to its 32-byte P-256 scalar.
func (r *DeriveKeyResponse) DecodeKey() ([]byte, error) {
	return codec.DecodePEMKey(r.Key)
}

// AsBytes decodes the key and keeps at most maxLen leading bytes. The cut is
// blind to key structure.
func (r *DeriveKeyResponse) AsBytes(maxLen int) ([]byte, error) {
	return codec.Decode(r.Key, maxLen)
}

// QuoteResponse is shared by GetQuote, RawQuote and TdxQuote.
type QuoteResponse struct {
	Quote         string `json:"quote"`
	EventLog      string `json:"event_log"`
	HashAlgorithm string `json:"hash_algorithm,omitempty"`
	Prefix        string `json:"prefix,omitempty"`
}

// DecodeQuote hex-decodes the quote.
func (r *QuoteResponse) DecodeQuote() ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(r.Quote, "0x"))
	if err != nil {
		return nil, fmt.Errorf("quote: %w", err)
	}
	return b, nil
}

// DecodeEventLog parses the embedded event log.
func (r *QuoteResponse) DecodeEventLog() ([]eventlog.Entry, error) {
	return eventlog.ParseString(r.EventLog)
}

// ReplayRTMRs parses the event log and recomputes RTMR0..3.
func (r *QuoteResponse) ReplayRTMRs() (map[int]string, error) {
	entries, err := r.DecodeEventLog()
	if err != nil {
		return nil, err
	}
	return eventlog.Replay(entries)
}

// TlsKeyConfig selects what the daemon puts into a GetTlsKey certificate.
type TlsKeyConfig struct {
	Subject         string   `json:"subject"`
	AltNames        []string `json:"alt_names"`
	UsageRaTls      bool     `json:"usage_ra_tls"`
	UsageServerAuth bool     `json:"usage_server_auth"`
	UsageClientAuth bool     `json:"usage_client_auth"`
}

// QuoteHashAlgorithm names how TdxQuote condenses report data into the
// 64-byte REPORTDATA field.
type QuoteHashAlgorithm string

const (
	HashSHA256    QuoteHashAlgorithm = "sha256"
	HashSHA384    QuoteHashAlgorithm = "sha384"
	HashSHA512    QuoteHashAlgorithm = "sha512"
	HashSHA3_256  QuoteHashAlgorithm = "sha3-256"
	HashSHA3_384  QuoteHashAlgorithm = "sha3-384"
	HashSHA3_512  QuoteHashAlgorithm = "sha3-512"
	HashKeccak256 QuoteHashAlgorithm = "keccak256"
	HashKeccak384 QuoteHashAlgorithm = "keccak384"
	HashKeccak512 QuoteHashAlgorithm = "keccak512"
	HashRaw       QuoteHashAlgorithm = "raw"
)

// QuoteHashAlgorithms lists every accepted algorithm.
var QuoteHashAlgorithms = []QuoteHashAlgorithm{
	HashSHA256, HashSHA384, HashSHA512,
	HashSHA3_256, HashSHA3_384, HashSHA3_512,
	HashKeccak256, HashKeccak384, HashKeccak512,
	HashRaw,
}

// ParseQuoteHashAlgorithm resolves a wire name. The empty string means
// sha512, the daemon's default.
func ParseQuoteHashAlgorithm(s string) (QuoteHashAlgorithm, error) {
	if strings.TrimSpace(s) == "" {
		return HashSHA512, nil
	}
	a := QuoteHashAlgorithm(strings.ToLower(strings.TrimSpace(s)))
	if !a.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidHashAlgorithm, s)
	}
	return a, nil
}

func (a QuoteHashAlgorithm) Valid() bool {
	for _, v := range QuoteHashAlgorithms {
		if a == v {
			return true
		}
	}
	return false
}

func (a QuoteHashAlgorithm) String() string { return string(a) }
