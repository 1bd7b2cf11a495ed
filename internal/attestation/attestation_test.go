package attestation

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aspect-build/teeguest/internal/dstack"
	"github.com/aspect-build/teeguest/internal/eventlog"
)

func fill(b byte, n int) []byte {
	return bytes.Repeat([]byte{b}, n)
}

func TestParseQuoteFixedOffsets(t *testing.T) {
	rtmrs := [4][]byte{fill(0x10, 48), fill(0x11, 48), fill(0x12, 48), fill(0x13, 48)}
	raw := UnsignedQuote(fill(0xaa, 48), rtmrs, []byte("nonce"))
	require.Len(t, raw, QuoteMinSize)

	// Absolute offsets of the body fields within the quote.
	assert.Equal(t, fill(0xaa, 48), raw[184:232])
	assert.Equal(t, fill(0x10, 48), raw[376:424])
	assert.Equal(t, []byte("nonce"), raw[568:573])

	q, err := ParseQuote(raw)
	require.NoError(t, err)
	assert.False(t, q.Signed())
	assert.EqualValues(t, QuoteVersion4, q.Version)
	assert.EqualValues(t, TeeTypeTDX, q.TeeType)
	assert.Equal(t, fill(0xaa, 48), q.MRTD)
	for i := range rtmrs {
		assert.Equal(t, rtmrs[i], q.RTMRs[i], "rtmr%d", i)
	}
	assert.Equal(t, hex.EncodeToString(rtmrs[2]), q.RTMRHex(2))
	assert.Equal(t, "", q.RTMRHex(4))

	want := make([]byte, 64)
	copy(want, "nonce")
	assert.Equal(t, want, q.ReportData)
}

func TestParseQuoteRejects(t *testing.T) {
	_, err := ParseQuote(make([]byte, 100))
	require.ErrorIs(t, err, ErrQuoteFormat)

	raw := UnsignedQuote(nil, [4][]byte{}, nil)
	binary.LittleEndian.PutUint16(raw[0:2], 3)
	_, err = ParseQuote(raw)
	require.ErrorIs(t, err, ErrQuoteFormat)

	raw = UnsignedQuote(nil, [4][]byte{}, nil)
	binary.LittleEndian.PutUint32(raw[4:8], 0)
	_, err = ParseQuote(raw)
	require.ErrorIs(t, err, ErrQuoteFormat)
}

func TestQuoteJSON(t *testing.T) {
	q, err := ParseQuote(UnsignedQuote(fill(1, 48), [4][]byte{}, nil))
	require.NoError(t, err)
	b, err := q.JSON()
	require.NoError(t, err)
	assert.Contains(t, string(b), "tdQuoteBody")
	assert.Contains(t, string(b), "rtmrs")
}

func TestVerifyEventLog(t *testing.T) {
	entries := []eventlog.Entry{
		{IMR: 0, Digest: "aa"},
		eventlog.RuntimeEntry("app-start", []byte("v1")),
	}
	var rtmrs [4][]byte
	for i := range rtmrs {
		r, err := eventlog.ReplayRegister(entries, i)
		require.NoError(t, err)
		rtmrs[i] = r
	}
	q, err := ParseQuote(UnsignedQuote(nil, rtmrs, nil))
	require.NoError(t, err)

	report, err := VerifyEventLog(q, entries)
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Len(t, report.Registers, 4)

	tampered := append([]eventlog.Entry{}, entries...)
	tampered = append(tampered, eventlog.RuntimeEntry("injected", nil))
	report, err = VerifyEventLog(q, tampered)
	require.ErrorIs(t, err, ErrRTMRMismatch)
	assert.Contains(t, err.Error(), "rtmr3")
	assert.NotContains(t, err.Error(), "rtmr0")
	assert.False(t, report.OK())
	assert.True(t, report.Registers[0].Match)
	assert.False(t, report.Registers[3].Match)
}

func TestVerifyEventLogBadDigest(t *testing.T) {
	q, err := ParseQuote(UnsignedQuote(nil, [4][]byte{}, nil))
	require.NoError(t, err)
	_, err = VerifyEventLog(q, []eventlog.Entry{{IMR: 1, Digest: "xyz"}})
	require.ErrorIs(t, err, eventlog.ErrReplay)
}

func TestVerifyEvidence(t *testing.T) {
	entries := []eventlog.Entry{
		eventlog.RuntimeEntry("app-start", []byte("v1")),
		eventlog.RuntimeEntry("config", []byte("c")),
	}
	rtmr3, err := eventlog.ReplayRegister(entries, 3)
	require.NoError(t, err)
	var rtmrs [4][]byte
	rtmrs[3] = rtmr3
	for i := 0; i < 3; i++ {
		rtmrs[i] = eventlog.InitialValue()
	}
	raw := UnsignedQuote(nil, rtmrs, []byte("nonce"))
	logJSON, err := json.Marshal(entries)
	require.NoError(t, err)

	q, report, err := VerifyEvidence(raw, string(logJSON), []byte("nonce"))
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Equal(t, hex.EncodeToString(rtmr3), q.RTMRHex(3))

	_, report, err = VerifyEvidence(raw, string(logJSON), []byte("other"))
	require.ErrorIs(t, err, ErrReportDataMismatch)
	assert.True(t, report.OK())

	_, _, err = VerifyEvidence(raw, string(logJSON), nil)
	require.NoError(t, err)

	_, _, err = VerifyEvidence(raw, "[]", nil)
	require.ErrorIs(t, err, ErrRTMRMismatch)

	_, _, err = VerifyEvidence(raw, "{", nil)
	require.ErrorIs(t, err, eventlog.ErrParse)

	_, _, err = VerifyEvidence(raw[:100], "[]", nil)
	require.ErrorIs(t, err, ErrQuoteFormat)
}

func TestCheckReportData(t *testing.T) {
	q, err := ParseQuote(UnsignedQuote(nil, [4][]byte{}, []byte("challenge")))
	require.NoError(t, err)
	require.NoError(t, CheckReportData(q, []byte("challenge")))
	require.ErrorIs(t, CheckReportData(q, []byte("other")), ErrReportDataMismatch)
	require.ErrorIs(t, CheckReportData(q, make([]byte, 65)), ErrReportDataMismatch)
}

func selfSignedPEM(t *testing.T, appID []byte) string {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "app"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	if appID != nil {
		value, err := asn1.Marshal(appID)
		require.NoError(t, err)
		tmpl.ExtraExtensions = []pkix.Extension{{Id: OIDAppID, Value: value}}
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
}

func TestAppIDFromCert(t *testing.T) {
	cert, err := ParseFirstPEMCertificate(selfSignedPEM(t, []byte("my-app")))
	require.NoError(t, err)
	assert.Equal(t, "my-app", AppIDFromCert(cert))

	cert, err = ParseFirstPEMCertificate(selfSignedPEM(t, []byte{0xde, 0xad, 0x01}))
	require.NoError(t, err)
	assert.Equal(t, "dead01", AppIDFromCert(cert))

	cert, err = ParseFirstPEMCertificate(selfSignedPEM(t, nil))
	require.NoError(t, err)
	assert.Equal(t, "", AppIDFromCert(cert))
}

func TestParseFirstPEMCertificateRejects(t *testing.T) {
	_, err := ParseFirstPEMCertificate("nope")
	require.Error(t, err)
	_, err = ParseFirstPEMCertificate(string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: []byte{1}})))
	require.ErrorContains(t, err, "unexpected PEM block type")
}

func TestDstackInfoCollector(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/Info", r.URL.Path)
		_, _ = w.Write([]byte(`{"app_id":"app-9","instance_id":"i-1","app_cert":"CERT","device_id":"d-1","compose_hash":"ch","tcb_info":{"mrtd":"00","rtmr0":"","rtmr1":"","rtmr2":"","rtmr3":"","event_log":[]}}`))
	}))
	t.Cleanup(ts.Close)

	c := NewDstackInfoCollector(dstack.NewDstackClient(dstack.WithEndpoint(ts.URL)))
	b, err := c.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "app-9", b.AppID)
	assert.Equal(t, "i-1", b.Instance)
	assert.Equal(t, "d-1", b.DeviceID)
	assert.Equal(t, "ch", b.ComposeHash)
	assert.Contains(t, b.TCBInfo, `"mrtd":"00"`)

	var _ Collector = c
}

func TestVerifyTcbInfo(t *testing.T) {
	entries := []eventlog.Entry{eventlog.RuntimeEntry("boot", []byte("ok"))}
	rtmr3, err := eventlog.ReplayRegister(entries, 3)
	require.NoError(t, err)
	zero := eventlog.InitialValue()
	rtmrs := [4][]byte{zero, zero, zero, rtmr3}

	logJSON, err := json.Marshal(entries)
	require.NoError(t, err)
	object := `{"mrtd":"","rtmr0":"","rtmr1":"","rtmr2":"","rtmr3":"","event_log":` + string(logJSON) + `}`
	asString, err := json.Marshal(object)
	require.NoError(t, err)

	for name, raw := range map[string]string{"object": object, "string": string(asString)} {
		report, err := VerifyTcbInfo(raw, rtmrs)
		require.NoError(t, err, name)
		assert.True(t, report.OK(), name)
	}

	_, err = VerifyTcbInfo(object, [4][]byte{zero, zero, zero, zero})
	require.ErrorIs(t, err, ErrRTMRMismatch)

	_, err = VerifyTcbInfo(`42`, rtmrs)
	require.Error(t, err)
}
