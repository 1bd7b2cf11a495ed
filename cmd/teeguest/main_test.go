package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aspect-build/teeguest/internal/attestation"
	"github.com/aspect-build/teeguest/internal/simulator"
)

func startSimulator(t *testing.T) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	sim, err := simulator.New(simulator.Config{Seed: "cli-test-seed"})
	require.NoError(t, err)
	sock := filepath.Join(t.TempDir(), "dstack.sock")
	ln, err := simulator.Listen(sock)
	require.NoError(t, err)
	ts := httptest.NewUnstartedServer(sim.Handler())
	ts.Listener = ln
	ts.Start()
	t.Cleanup(ts.Close)
	return sock
}

func run(t *testing.T, sock string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(append([]string{"--endpoint", sock}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestInfoAndReplay(t *testing.T) {
	sock := startSimulator(t)

	for _, args := range [][]string{{"info"}, {"--tappd", "info"}} {
		out, err := run(t, sock, args...)
		require.NoError(t, err)
		var info struct {
			AppID   string `json:"app_id"`
			TcbInfo struct {
				RTMR3 string `json:"rtmr3"`
			} `json:"tcb_info"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &info))
		assert.NotEmpty(t, info.AppID)
		assert.Len(t, info.TcbInfo.RTMR3, 96)
	}

	out, err := run(t, sock, "replay")
	require.NoError(t, err)
	assert.Contains(t, out, `"match": true`)
	assert.NotContains(t, out, `"match": false`)
}

func TestReplayFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"imr":0,"event_type":1,"digest":"ab","event":"x","event_payload":""}]`), 0o600))

	out, err := run(t, "/nonexistent.sock", "replay", path)
	require.NoError(t, err)
	assert.Contains(t, out, "588543df6ba930fa5e91593de47ea696f3cd618f5d8ad1efaacdbad08c48526a86faa945dcc8b03908ce8fe713ccc980")

	require.NoError(t, os.WriteFile(path, []byte(`[{"imr":0,"event_type":1,"digest":"zz","event":"x","event_payload":""}]`), 0o600))
	_, err = run(t, "/nonexistent.sock", "replay", path)
	require.Error(t, err)
}

func TestQuoteSaveAndEvidenceVerify(t *testing.T) {
	sock := startSimulator(t)
	db := filepath.Join(t.TempDir(), "evidence.db")

	_, err := run(t, sock, "emit-event", "deploy", "v1")
	require.NoError(t, err)

	out, err := run(t, sock, "quote", "--save", "--db", db, "nonce")
	require.NoError(t, err)
	assert.Contains(t, out, `"event_log"`)

	out, err = run(t, sock, "--tappd", "quote", "--hash", "sha256", "--save", "--db", db, "long report data")
	require.NoError(t, err)
	assert.Contains(t, out, `"hash_algorithm": "sha256"`)

	out, err = run(t, sock, "evidence", "list", "--db", db)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)

	for _, line := range lines[1:] {
		id := strings.Fields(line)[0]
		out, err = run(t, sock, "evidence", "verify", "--db", db, id)
		require.NoError(t, err, out)
		out, err = run(t, sock, "evidence", "show", "--db", db, id)
		require.NoError(t, err)
		assert.Contains(t, out, `"verified": true`)
	}

	_, err = run(t, sock, "evidence", "show", "--db", db, "missing")
	require.Error(t, err)
}

func TestVerifyLive(t *testing.T) {
	sock := startSimulator(t)

	out, err := run(t, sock, "verify", "--hex", "00ff")
	require.NoError(t, err)
	assert.Contains(t, out, `"report_data": "00ff0000`)
	assert.Contains(t, out, `"signed": false`)

	out, err = run(t, sock, "quote", "--decode", "abc")
	require.NoError(t, err)
	assert.Contains(t, out, "tdQuoteBody")
}

func TestVerifyOffline(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "log.json")
	quotePath := filepath.Join(dir, "quote.bin")
	require.NoError(t, os.WriteFile(logPath, []byte("[]"), 0o600))
	var zero [4][]byte
	require.NoError(t, os.WriteFile(quotePath, attestation.UnsignedQuote(nil, zero, []byte("rd")), 0o600))

	_, err := run(t, "/nonexistent.sock", "verify", "--quote", quotePath, "--event-log", logPath, "rd")
	require.NoError(t, err)

	_, err = run(t, "/nonexistent.sock", "verify", "--quote", quotePath, "--event-log", logPath, "other")
	require.ErrorIs(t, err, attestation.ErrReportDataMismatch)

	_, err = run(t, "/nonexistent.sock", "verify", "--quote", quotePath)
	require.Error(t, err)
}

func TestKeysAndWallet(t *testing.T) {
	sock := startSimulator(t)

	first, err := run(t, sock, "get-key", "app/db", "--purpose", "enc")
	require.NoError(t, err)
	second, err := run(t, sock, "get-key", "app/db", "--purpose", "enc")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	out, err := run(t, sock, "wallet", "app/eth", "--sign", "hello")
	require.NoError(t, err)
	assert.Contains(t, out, `"address": "0x`)
	assert.Contains(t, out, `"signature": "0x`)

	out, err = run(t, sock, "wallet", "app/sol", "--chain", "sol", "--secure")
	require.NoError(t, err)
	assert.Contains(t, out, `"public_key"`)

	_, err = run(t, sock, "wallet", "app/x", "--chain", "btc")
	require.Error(t, err)

	out, err = run(t, sock, "derive-key", "/svc", "--alt-name", "svc.local")
	require.NoError(t, err)
	assert.Contains(t, out, `"certificate_chain"`)

	out, err = run(t, sock, "tls-key", "--subject", "svc", "--ra-tls")
	require.NoError(t, err)
	assert.Contains(t, out, "BEGIN PRIVATE KEY")
}

func TestDecodeQuoteFile(t *testing.T) {
	var zero [4][]byte
	raw := attestation.UnsignedQuote(nil, zero, nil)

	got, err := decodeQuoteFile(raw)
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	hexed := []byte("0x" + strings.ToUpper(hex.EncodeToString(raw)) + "\n")
	got, err = decodeQuoteFile(hexed)
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	_, err = decodeQuoteFile([]byte("not a quote"))
	require.Error(t, err)
}

func TestReadEnvEntriesFromStdin(t *testing.T) {
	cmd := newExecCmd(&globalOptions{})
	cmd.SetIn(strings.NewReader("export DB_KEY=dstack-key://db\nPLAIN='x'\n"))

	entries, err := readEnvEntries(cmd, "-")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "DB_KEY", entries[0].Key)
	assert.Equal(t, "dstack-key://db", entries[0].Value)
	assert.Equal(t, "x", entries[1].Value)

	_, err = readEnvEntries(cmd, filepath.Join(t.TempDir(), "missing.env"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
