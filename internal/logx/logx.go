// Package logx is the leveled stderr logger shared by the CLI, the
// simulator and the runner. Lines look like
//
//	2026-01-02T15:04:05Z [DEBUG] rpc.send transport=unix path=/GetQuote
//
// Callers never pass key material; measurement values go through Short.
package logx

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// EnvLogLevel names the environment variable consulted by Configure.
const EnvLogLevel = "TEEGUEST_LOG_LEVEL"

type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = map[Level]string{
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LEVEL(%d)", int32(l))
}

// ParseLevel accepts the names printed by String in any case, plus
// "warning". The empty string means info.
func ParseLevel(v string) (Level, error) {
	s := strings.ToUpper(strings.TrimSpace(v))
	switch s {
	case "":
		return LevelInfo, nil
	case "WARNING":
		return LevelWarn, nil
	}
	for l, name := range levelNames {
		if name == s {
			return l, nil
		}
	}
	return LevelInfo, fmt.Errorf("invalid log level %q (expected debug|info|warn|error)", v)
}

type sink struct {
	level atomic.Int32
	mu    sync.Mutex
	w     io.Writer
	now   func() time.Time
}

var std = newSink()

func newSink() *sink {
	s := &sink{w: os.Stderr, now: time.Now}
	s.level.Store(int32(LevelInfo))
	return s
}

func (s *sink) enabled(l Level) bool {
	return l >= Level(s.level.Load())
}

func (s *sink) printf(l Level, format string, args ...any) {
	if !s.enabled(l) {
		return
	}
	line := fmt.Sprintf("%s [%s] %s\n", s.now().UTC().Format(time.RFC3339), l, fmt.Sprintf(format, args...))
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = io.WriteString(s.w, line)
}

func SetLevel(v string) error {
	lvl, err := ParseLevel(v)
	if err != nil {
		return err
	}
	std.level.Store(int32(lvl))
	return nil
}

// Configure resolves the level.
// Precedence: --log-level > --verbose > TEEGUEST_LOG_LEVEL > info.
func Configure(flagLevel string, verbose bool) error {
	switch {
	case strings.TrimSpace(flagLevel) != "":
		return SetLevel(flagLevel)
	case verbose:
		return SetLevel("debug")
	default:
		return SetLevel(os.Getenv(EnvLogLevel))
	}
}

func IsDebug() bool { return std.enabled(LevelDebug) }

// SetOutput redirects log lines, mainly for tests. Passing nil restores stderr.
func SetOutput(w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	std.mu.Lock()
	std.w = w
	std.mu.Unlock()
}

// Short abbreviates a hex measurement to its first and last eight
// characters unless debug logging is on.
func Short(hexValue string) string {
	if IsDebug() || len(hexValue) <= 20 {
		return hexValue
	}
	return hexValue[:8] + ".." + hexValue[len(hexValue)-8:]
}

func Debugf(format string, args ...any) { std.printf(LevelDebug, format, args...) }
func Infof(format string, args ...any)  { std.printf(LevelInfo, format, args...) }
func Warnf(format string, args ...any)  { std.printf(LevelWarn, format, args...) }
func Errorf(format string, args ...any) { std.printf(LevelError, format, args...) }
