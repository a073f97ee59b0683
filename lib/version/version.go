// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports the build of the messenger binary.
//
// Release builds inject values with -ldflags:
//
//	go build -ldflags "-X github.com/bureau-foundation/messenger/lib/version.GitCommit=$(git rev-parse --short HEAD)"
//
// Plain "go build" and "go install" builds fall back to the VCS stamp
// the toolchain embeds.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

var (
	GitCommit = "unknown"
	GitDirty  = "false"
	BuildTime = "unknown"
	Version   = "0.1.0-dev"
)

// build is the resolved stamp.
type build struct {
	commit string
	dirty  bool
	time   string
}

var stamped = sync.OnceValue(func() build {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return build{}
	}
	return fromSettings(info.Settings)
})

// fromSettings extracts the VCS stamp from build settings.
func fromSettings(settings []debug.BuildSetting) build {
	var stamp build
	for _, setting := range settings {
		switch setting.Key {
		case "vcs.revision":
			stamp.commit = setting.Value
			if len(stamp.commit) > 12 {
				stamp.commit = stamp.commit[:12]
			}
		case "vcs.modified":
			stamp.dirty = setting.Value == "true"
		case "vcs.time":
			stamp.time = setting.Value
		}
	}
	return stamp
}

// resolve prefers injected values over the embedded stamp.
func resolve(stamp build) build {
	resolved := build{commit: GitCommit, dirty: GitDirty == "true", time: BuildTime}
	if GitCommit == "unknown" && stamp.commit != "" {
		resolved.commit, resolved.dirty = stamp.commit, stamp.dirty
	}
	if BuildTime == "unknown" && stamp.time != "" {
		resolved.time = stamp.time
	}
	return resolved
}

// Info returns a one-line version string.
func Info() string {
	return format(resolve(stamped()))
}

func format(resolved build) string {
	dirty := ""
	if resolved.dirty {
		dirty = "-dirty"
	}
	return fmt.Sprintf("%s (%s%s, %s)", Version, resolved.commit, dirty, resolved.time)
}

// Full adds the Go toolchain and platform to Info.
func Full() string {
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s/%s", Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
