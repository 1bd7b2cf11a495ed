package runner

import (
	"bytes"
	"strings"
	"testing"
)

func TestMaskingWriter_Basic(t *testing.T) {
	var buf bytes.Buffer
	mw := NewMaskingWriter(&buf, []string{"SECRET123", "TOKEN456"})

	mw.Write([]byte("hello SECRET123 world TOKEN456 end"))
	mw.Flush()

	want := "hello [REDACTED] world [REDACTED] end"
	if got := buf.String(); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestMaskingWriter_ChunkBoundary(t *testing.T) {
	var buf bytes.Buffer
	mw := NewMaskingWriter(&buf, []string{"MYSECRET"})

	mw.Write([]byte("prefix MYSE"))
	mw.Write([]byte("CRET suffix"))
	mw.Flush()

	want := "prefix [REDACTED] suffix"
	if got := buf.String(); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestMaskingWriter_ByteAtATime(t *testing.T) {
	var buf bytes.Buffer
	secret := "0123456789abcdef0123456789abcdef"
	mw := NewMaskingWriter(&buf, []string{secret})

	for _, b := range []byte("key=" + secret + "\n") {
		mw.Write([]byte{b})
	}
	mw.Flush()

	if got := buf.String(); got != "key=[REDACTED]\n" {
		t.Fatalf("got %q", got)
	}
}

func TestMaskingWriter_NoSecrets(t *testing.T) {
	var buf bytes.Buffer
	mw := NewMaskingWriter(&buf, []string{""})

	mw.Write([]byte("passthrough"))
	if got := buf.String(); got != "passthrough" {
		t.Fatalf("got %q, want passthrough before Flush", got)
	}
	mw.Flush()
}

func TestMaskingWriter_OverlappingSecrets(t *testing.T) {
	var buf bytes.Buffer
	mw := NewMaskingWriter(&buf, []string{"abcd", "0xabcd"})

	mw.Write([]byte("v=0xabcd w=abcd"))
	mw.Flush()

	got := buf.String()
	if strings.Contains(got, "abcd") {
		t.Fatalf("secret leaked: %q", got)
	}
	if got != "v=[REDACTED] w=[REDACTED]" {
		t.Fatalf("got %q", got)
	}
}

func TestMaskingWriter_HoldsTailUntilFlush(t *testing.T) {
	var buf bytes.Buffer
	mw := NewMaskingWriter(&buf, []string{"LONGSECRET"})

	mw.Write([]byte("abc"))
	if buf.Len() != 0 {
		t.Fatalf("short write should be held back, got %q", buf.String())
	}
	mw.Flush()
	if got := buf.String(); got != "abc" {
		t.Fatalf("got %q after Flush", got)
	}
}
