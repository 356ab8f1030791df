// Package version reports the build of the running binary.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
	"time"
)

// Set at build time with -ldflags "-X github.com/conneroisu/assetmin/internal/version.Version=v1.2.3".
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version   string    `json:"version" yaml:"version"`
	GitCommit string    `json:"git_commit" yaml:"git_commit"`
	BuildTime time.Time `json:"build_time,omitzero" yaml:"build_time,omitempty"`
	GoVersion string    `json:"go_version" yaml:"go_version"`
	Platform  string    `json:"platform" yaml:"platform"`
	Dirty     bool      `json:"dirty" yaml:"dirty"`
}

var info = sync.OnceValue(func() BuildInfo {
	bi := BuildInfo{
		Version:   Version,
		GitCommit: GitCommit,
		BuildTime: parseTime(BuildTime),
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}

	build, ok := debug.ReadBuildInfo()
	if !ok {
		return bi
	}
	if bi.Version == "dev" && build.Main.Version != "" && build.Main.Version != "(devel)" {
		bi.Version = build.Main.Version
	}
	for _, s := range build.Settings {
		switch s.Key {
		case "vcs.revision":
			if bi.GitCommit == "unknown" {
				bi.GitCommit = s.Value
			}
		case "vcs.time":
			if bi.BuildTime.IsZero() {
				bi.BuildTime = parseTime(s.Value)
			}
		case "vcs.modified":
			bi.Dirty = s.Value == "true"
		}
	}
	return bi
})

// Get returns the build information.
func Get() BuildInfo {
	return info()
}

// IsRelease reports whether the binary was built from a tagged version.
func (b BuildInfo) IsRelease() bool {
	return b.Version != "dev" && !strings.HasPrefix(b.Version, "dev-")
}

// Short returns the version with the abbreviated commit, such as
// "v1.2.3 (abc1234)" or "dev-abc1234".
func (b BuildInfo) Short() string {
	if len(b.GitCommit) < 7 || b.GitCommit == "unknown" {
		return b.Version
	}
	commit := b.GitCommit[:7]
	if b.Version == "dev" {
		return "dev-" + commit
	}
	return fmt.Sprintf("%s (%s)", b.Version, commit)
}

// String returns every known field, one per line.
func (b BuildInfo) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Version:  %s\n", b.Version)
	if b.GitCommit != "unknown" {
		fmt.Fprintf(&sb, "Commit:   %s", b.GitCommit)
		if b.Dirty {
			sb.WriteString(" (modified)")
		}
		sb.WriteString("\n")
	}
	if !b.BuildTime.IsZero() {
		fmt.Fprintf(&sb, "Built:    %s\n", b.BuildTime.Format(time.RFC3339))
	}
	fmt.Fprintf(&sb, "Go:       %s\n", b.GoVersion)
	fmt.Fprintf(&sb, "Platform: %s", b.Platform)
	return sb.String()
}

// GetShortVersion returns Get().Short().
func GetShortVersion() string {
	return Get().Short()
}

func parseTime(s string) time.Time {
	if s == "" || s == "unknown" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
