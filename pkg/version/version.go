package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

// Version represents the current version of pwalk.
type Version struct {
	Major    string
	Minor    string
	Patch    string
	Metadata string
	Build    string
}

// PwalkVersion is the current version of pwalk.
var PwalkVersion = Version{
	Major: "0", Minor: "3", Patch: "0", Metadata: "",
	Build: "$Id$",
}

func (v Version) String() string {
	fixBuild(&v)
	ver := fmt.Sprintf("Version: %s.%s.%s", v.Major, v.Minor, v.Patch)
	if v.Metadata != "" {
		ver += "-" + v.Metadata
	}
	return fmt.Sprintf("%s\nBuild: %s", ver, v.Build)
}

// BuildInfo returns the Go version and the module versions pwalk was built with.
func BuildInfo() string {
	return fmt.Sprintf("%s\n%s", runtime.Version(), moduleVersions())
}

func moduleVersions() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "not built in module mode"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, " mod\t%s\t%s\n", info.Main.Path, info.Main.Version)
	for _, dep := range info.Deps {
		if dep.Replace != nil {
			dep = dep.Replace
		}
		fmt.Fprintf(&sb, " dep\t%s\t%s\n", dep.Path, dep.Version)
	}
	return sb.String()
}

func fixBuild(v *Version) {
	// Return if v.Build already set, but not if it is Git ident expand file blob hash
	if !strings.HasPrefix(v.Build, "$Id$") {
		return
	}

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}

	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" {
			v.Build = setting.Value
			return
		}
	}
}
