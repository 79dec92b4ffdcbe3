// Package buildinfo exposes the version of the running build.
package buildinfo

import (
	"runtime/debug"
	"sync"

	"github.com/hashicorp/go-version"
)

var (
	buildInfo      *debug.BuildInfo
	buildInfoValid bool
	readBuildInfo  sync.Once

	resolved    string
	readVersion sync.Once

	// Injected with ldflags at build:
	//
	//	-ldflags "-X github.com/platinummonkey/gpureport/pkg/buildinfo.tag=1.4.0"
	tag string
)

// Version returns the version of the build, "v0.0.0-devel" plus the revision
// when no tag was injected.
func Version() string {
	readVersion.Do(func() {
		revision, valid := Revision()
		if valid && len(revision) >= 7 {
			revision = "+" + revision[:7]
		} else {
			revision = ""
		}
		if tag == "" {
			resolved = "v0.0.0-devel" + revision
			return
		}
		resolved = "v" + tag
	})
	return resolved
}

// CurrentMajorVersion is the major component of Version. The disk cache is
// wiped whenever it changes.
func CurrentMajorVersion() int {
	return MajorVersion(Version())
}

// MajorVersion parses v and returns its major component, 0 when v does not parse
func MajorVersion(v string) int {
	parsed, err := version.NewVersion(v)
	if err != nil {
		return 0
	}
	return parsed.Segments()[0]
}

// Revision returns the VCS revision recorded by the Go toolchain
func Revision() (string, bool) {
	readBuildInfo.Do(func() {
		buildInfo, buildInfoValid = debug.ReadBuildInfo()
	})
	if !buildInfoValid {
		return "", false
	}
	for _, setting := range buildInfo.Settings {
		if setting.Key == "vcs.revision" {
			return setting.Value, true
		}
	}
	return "", false
}
