package context

import (
	"fmt"
	"runtime/debug"
)

// version is set at build time with
// -ldflags "-X go.hackfix.me/multimig/app/context.version=..."
var version = "dev"

// VersionInfo describes the running build.
type VersionInfo struct {
	Semantic  string
	Commit    string
	Dirty     bool
	GoVersion string
}

func (v *VersionInfo) String() string {
	s := v.Semantic
	if v.Commit != "" {
		commit := v.Commit
		if len(commit) > 12 {
			commit = commit[:12]
		}
		s = fmt.Sprintf("%s (%s", s, commit)
		if v.Dirty {
			s += "-dirty"
		}
		s += ")"
	}
	if v.GoVersion != "" {
		s = fmt.Sprintf("%s %s", s, v.GoVersion)
	}

	return s
}

// GetVersion returns the version of the running build, with VCS details if
// the binary was built with them.
func GetVersion() (*VersionInfo, error) {
	vi := &VersionInfo{Semantic: version}

	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return vi, nil
	}
	vi.GoVersion = bi.GoVersion

	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			vi.Commit = s.Value
		case "vcs.modified":
			vi.Dirty = s.Value == "true"
		}
	}

	return vi, nil
}
