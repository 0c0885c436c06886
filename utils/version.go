package utils

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

// Set at build time with -ldflags "-X .../utils.Commit=...". Commit and
// BuildDate fall back to the VCS stamp embedded by the go command.
var (
	VersionMajor = "0"
	VersionMinor = "1"
	VersionPatch = "0"
	Branch       = "main"
	Commit       = ""
	BuildDate    = ""
	BuildHash    = ""
)

var readBuildInfo = debug.ReadBuildInfo

// GetVersion reports the running binary's version.
func GetVersion() Version {
	commit, date, dirty := Commit, BuildDate, false
	if commit == "" || date == "" {
		vcsCommit, vcsDate, modified := vcsStamp()
		if commit == "" {
			commit, dirty = vcsCommit, modified
		}
		if date == "" {
			date = vcsDate
		}
	}
	if commit == "" {
		commit = "dev"
	}
	if date == "" {
		date = "unknown"
	}
	if len(commit) > 7 {
		commit = commit[:7]
	}
	if dirty {
		commit += "-dirty"
	}

	obj := VersionObject{
		Major:     VersionMajor,
		Minor:     VersionMinor,
		Patch:     VersionPatch,
		Branch:    Branch,
		Commit:    commit,
		BuildDate: date,
		Arch:      runtime.GOOS + "/" + runtime.GOARCH,
		BuildHash: BuildHash,
	}
	tag := strings.Join([]string{obj.Major, obj.Minor, obj.Patch}, ".")
	parts := []string{obj.Commit, obj.BuildDate, obj.Arch}
	if obj.BuildHash != "" {
		parts = append(parts, obj.BuildHash)
	}

	return Version{
		Tag: tag,
		Str: fmt.Sprintf("%s-%s+%s", tag, obj.Branch, strings.Join(parts, ".")),
		Obj: obj,
	}
}

func vcsStamp() (revision, date string, modified bool) {
	info, ok := readBuildInfo()
	if !ok {
		return "", "", false
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.time":
			date = s.Value
		case "vcs.modified":
			modified = s.Value == "true"
		}
	}
	return revision, date, modified
}
