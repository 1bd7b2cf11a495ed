package runner

import (
	"io"
	"sync"

	aho "github.com/petar-dambovaliev/aho-corasick"
)

// Redacted replaces every masked value in child output.
const Redacted = "[REDACTED]"

// MaskingWriter replaces secret values written through it with Redacted.
// The tail of each write is held back so a value split across two writes is
// still caught; call Flush once the writer is done.
type MaskingWriter struct {
	mu      sync.Mutex
	out     io.Writer
	matcher aho.AhoCorasick
	enabled bool
	keep    int
	buf     []byte
}

// NewMaskingWriter masks all non-empty secrets. With none it passes writes
// straight through.
func NewMaskingWriter(out io.Writer, secrets []string) *MaskingWriter {
	var patterns []string
	longest := 0
	for _, s := range secrets {
		if s == "" {
			continue
		}
		patterns = append(patterns, s)
		longest = max(longest, len(s))
	}

	mw := &MaskingWriter{out: out}
	if len(patterns) == 0 {
		return mw
	}
	mw.enabled = true
	mw.keep = longest - 1
	b := aho.NewAhoCorasickBuilder(aho.Opts{MatchKind: aho.LeftMostLongestMatch})
	mw.matcher = b.Build(patterns)
	return mw
}

func (mw *MaskingWriter) Write(p []byte) (int, error) {
	if !mw.enabled {
		return mw.out.Write(p)
	}
	mw.mu.Lock()
	defer mw.mu.Unlock()

	mw.buf = append(mw.buf, p...)
	if err := mw.drain(false); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Flush writes out whatever is still held back.
func (mw *MaskingWriter) Flush() error {
	if !mw.enabled {
		return nil
	}
	mw.mu.Lock()
	defer mw.mu.Unlock()
	return mw.drain(true)
}

func (mw *MaskingWriter) drain(all bool) error {
	if len(mw.buf) == 0 {
		return nil
	}
	safe := len(mw.buf)
	if !all {
		safe -= mw.keep
		if safe <= 0 {
			return nil
		}
	}

	var out []byte
	pos, consumed := 0, safe
	for _, m := range mw.matcher.FindAll(string(mw.buf)) {
		if m.Start() < pos {
			continue
		}
		if m.Start() >= safe && !all {
			break
		}
		out = append(out, mw.buf[pos:m.Start()]...)
		out = append(out, Redacted...)
		pos = m.End()
		consumed = max(consumed, pos)
	}
	if pos < safe {
		out = append(out, mw.buf[pos:safe]...)
	}

	if len(out) > 0 {
		if _, err := mw.out.Write(out); err != nil {
			return err
		}
	}
	mw.buf = append([]byte(nil), mw.buf[consumed:]...)
	return nil
}
