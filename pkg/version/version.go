// Package version reports the build of the running sightcore binary.
//
// Release builds set the variables with -ldflags, e.g.
//
//	-X github.com/IRCAD/sight-sub083/pkg/version.Version=v1.2.0
//
// Other builds fall back to the VCS stamp the Go toolchain embeds.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

const unknown = "unknown"

var (
	Version   = "dev"
	BuildTime = unknown
	GitCommit = unknown
	GoVersion = runtime.Version()
)

var stampOnce sync.Once

// stamp fills BuildTime and GitCommit from the embedded build info when the
// linker did not set them.
func stamp() {
	stampOnce.Do(func() {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				if GitCommit == unknown {
					GitCommit = shortRevision(s.Value)
				}
			case "vcs.time":
				if BuildTime == unknown {
					BuildTime = s.Value
				}
			case "vcs.modified":
				if s.Value == "true" && GitCommit != unknown {
					GitCommit += "-dirty"
				}
			}
		}
	})
}

func shortRevision(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}

// Info returns the build fields keyed as the /status endpoint reports them.
func Info() map[string]string {
	stamp()
	return map[string]string{
		"version":   Version,
		"buildTime": BuildTime,
		"gitCommit": GitCommit,
		"goVersion": GoVersion,
	}
}

// String formats the build on one line.
func String() string {
	stamp()
	return fmt.Sprintf("sightcore %s (%s, built %s, %s)", Version, GitCommit, BuildTime, GoVersion)
}
