// Package version reports the build identity of the teeguest binaries.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Set via -ldflags at build time:
//
//	go build -ldflags "-X github.com/aspect-build/teeguest/internal/version.Version=0.1.0
//	  -X github.com/aspect-build/teeguest/internal/version.GitCommit=abc1234"
//
// Left unset, they fall back to the module version and VCS revision
// recorded by the go tool.
var (
	Version   = "dev"
	GitCommit = "unknown"
)

func resolved() (ver, commit string) {
	ver, commit = Version, GitCommit
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return ver, commit
	}
	if ver == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		ver = bi.Main.Version
	}
	if commit == "unknown" {
		for _, s := range bi.Settings {
			if s.Key == "vcs.revision" && len(s.Value) >= 7 {
				commit = s.Value[:7]
			}
		}
	}
	return ver, commit
}

// String returns a human-readable version string.
func String(binaryName string) string {
	ver, commit := resolved()
	return fmt.Sprintf("%s %s (commit=%s, go=%s, %s/%s)",
		binaryName, ver, commit, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// UserAgent is sent on every daemon request.
func UserAgent() string {
	ver, _ := resolved()
	return "teeguest/" + ver
}
