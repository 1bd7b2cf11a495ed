package internal

import (
	"bytes"
	"context"
	"encoding/hex"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/aspect-build/teeguest/internal/attestation"
	"github.com/aspect-build/teeguest/internal/dstack"
	"github.com/aspect-build/teeguest/internal/evidence"
	"github.com/aspect-build/teeguest/internal/runner"
	"github.com/aspect-build/teeguest/internal/simulator"
)

const testSeed = "integration-seed"

func setupSimulator(t *testing.T) (*simulator.Simulator, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	sim, err := simulator.New(simulator.Config{Seed: testSeed, AppName: "integration"})
	if err != nil {
		t.Fatalf("simulator.New: %v", err)
	}
	ts := httptest.NewServer(sim.Handler())
	t.Cleanup(ts.Close)
	return sim, ts
}

func TestEndToEnd(t *testing.T) {
	sim, ts := setupSimulator(t)
	t.Setenv(dstack.EnvDstackEndpoint, ts.URL)
	t.Setenv(dstack.EnvTappdEndpoint, "")
	ctx := context.Background()

	client := dstack.NewDstackClient()
	if got := client.Endpoint().Address; got != ts.URL {
		t.Fatalf("endpoint = %q, want %q", got, ts.URL)
	}
	if !client.IsReachable(ctx) {
		t.Fatal("simulator not reachable")
	}

	// Step 1: identity
	info, err := client.Info(ctx)
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.AppID != sim.AppID() {
		t.Fatalf("app_id = %q, want %q", info.AppID, sim.AppID())
	}

	// Step 2: runtime events extend RTMR3
	for _, ev := range []struct{ name, payload string }{
		{"config-loaded", "v1"},
		{"migration", "0042"},
	} {
		if err := client.EmitEvent(ctx, ev.name, []byte(ev.payload)); err != nil {
			t.Fatalf("EmitEvent(%s): %v", ev.name, err)
		}
	}

	// Step 3: quote bound to a nonce
	nonce := []byte("e2e-nonce")
	resp, err := client.GetQuote(ctx, nonce)
	if err != nil {
		t.Fatalf("GetQuote: %v", err)
	}
	raw, err := resp.DecodeQuote()
	if err != nil {
		t.Fatalf("DecodeQuote: %v", err)
	}
	q, report, err := attestation.VerifyEvidence(raw, resp.EventLog, nonce)
	if err != nil {
		t.Fatalf("VerifyEvidence: %v", err)
	}
	if !report.OK() {
		t.Fatalf("report not OK: %+v", report)
	}
	if q.RTMRHex(3) == info.TcbInfo.RTMR3 {
		t.Fatal("RTMR3 did not move after EmitEvent")
	}

	// Step 4: archive and re-verify from storage
	store, err := evidence.NewStore(":memory:")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()

	rec := &evidence.Record{AppID: info.AppID, InstanceID: info.InstanceID, ReportData: nonce, Quote: raw, EventLog: resp.EventLog}
	if err := store.Save(rec); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := store.Get(rec.ID)
	if err != nil || got == nil {
		t.Fatalf("Get: %v %v", got, err)
	}
	if _, _, err := attestation.VerifyEvidence(got.Quote, got.EventLog, got.ReportData); err != nil {
		t.Fatalf("stored evidence does not verify: %v", err)
	}
	if err := store.MarkVerified(rec.ID, true); err != nil {
		t.Fatalf("MarkVerified: %v", err)
	}
	recs, err := store.List(evidence.ListOptions{AppID: info.AppID})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 1 || !recs[0].Verified || recs[0].VerifiedAt == nil {
		t.Fatalf("List = %+v", recs)
	}

	// Step 5: a quote taken before a later event no longer matches the new log
	if err := client.EmitEvent(ctx, "late", nil); err != nil {
		t.Fatalf("EmitEvent(late): %v", err)
	}
	newer, err := client.GetQuote(ctx, nonce)
	if err != nil {
		t.Fatalf("GetQuote: %v", err)
	}
	if _, _, err := attestation.VerifyEvidence(raw, newer.EventLog, nonce); err == nil {
		t.Fatal("old quote verified against a longer event log")
	}
}

func TestLegacyAPIAgainstSimulator(t *testing.T) {
	_, ts := setupSimulator(t)
	t.Setenv(dstack.EnvDstackEndpoint, "/nonexistent/dstack.sock")
	t.Setenv(dstack.EnvTappdEndpoint, ts.URL)
	ctx := context.Background()

	tappd := dstack.NewTappdClient()
	info, err := tappd.Info(ctx)
	if err != nil {
		t.Fatalf("Tappd.Info: %v", err)
	}
	if len(info.TcbInfo.EventLog) == 0 {
		t.Fatal("legacy Info returned no event log")
	}

	for _, alg := range []dstack.QuoteHashAlgorithm{dstack.HashSHA384, dstack.HashSHA3_256, dstack.HashKeccak512, dstack.HashRaw} {
		data := []byte("legacy-" + string(alg))
		resp, err := tappd.TdxQuote(ctx, data, alg)
		if err != nil {
			t.Fatalf("TdxQuote(%s): %v", alg, err)
		}
		want, err := dstack.ReportDataFor(alg, resp.Prefix, data)
		if err != nil {
			t.Fatalf("ReportDataFor(%s): %v", alg, err)
		}
		raw, err := resp.DecodeQuote()
		if err != nil {
			t.Fatalf("DecodeQuote: %v", err)
		}
		if _, _, err := attestation.VerifyEvidence(raw, resp.EventLog, want); err != nil {
			t.Fatalf("%s: %v", alg, err)
		}
	}

	if _, err := tappd.RawQuote(ctx, []byte("short")); err == nil {
		t.Fatal("RawQuote accepted a short report")
	}
}

func TestKeysAreStableAcrossConcurrentCallers(t *testing.T) {
	_, ts := setupSimulator(t)
	client := dstack.NewDstackClient(dstack.WithEndpoint(ts.URL))
	ctx := context.Background()

	const workers = 8
	keys := make([]string, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := client.GetKey(ctx, "shared/path", "enc")
			if err != nil {
				errs[i] = err
				return
			}
			keys[i] = resp.Key
		}(i)
	}
	wg.Wait()
	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		if keys[i] != keys[0] {
			t.Fatalf("worker %d key %s differs from %s", i, keys[i], keys[0])
		}
	}
}

func TestRunnerInjectsAndMasksDerivedKeys(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	_, ts := setupSimulator(t)
	client := dstack.NewDstackClient(dstack.WithEndpoint(ts.URL))
	ctx := context.Background()

	envPath := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(envPath, []byte("DB_KEY=dstack-key://db?purpose=enc\nSIGNER=dstack-key://wallet?format=eth\nPLAIN=visible\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	entries, err := runner.ParseEnvFile(envPath)
	if err != nil {
		t.Fatalf("ParseEnvFile: %v", err)
	}
	env, secrets, err := runner.Resolve(ctx, client, runner.ScanEnv(nil, entries))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	want, err := client.GetKey(ctx, "db", "enc")
	if err != nil {
		t.Fatalf("GetKey: %v", err)
	}
	key, err := want.DecodeKey()
	if err != nil {
		t.Fatalf("DecodeKey: %v", err)
	}
	found := false
	for _, kv := range env {
		found = found || kv == "DB_KEY="+hex.EncodeToString(key)
	}
	if !found {
		t.Fatalf("DB_KEY not injected: %v", env)
	}

	var stdout bytes.Buffer
	code, err := runner.Run(runner.RunConfig{
		Command: sh,
		Args:    []string{"-c", `echo "$DB_KEY $SIGNER $PLAIN"`},
		Env:     env,
		Secrets: secrets,
		Stdin:   strings.NewReader(""),
		Stdout:  &stdout,
		Stderr:  &bytes.Buffer{},
	})
	if err != nil || code != 0 {
		t.Fatalf("Run: code=%d err=%v", code, err)
	}
	if got := stdout.String(); got != "[REDACTED] [REDACTED] visible\n" {
		t.Fatalf("stdout = %q", got)
	}
}
