package main

import (
	"os"

	"github.com/powerwalker/pwalk/cmd/pwalk/cmds"
	"github.com/powerwalker/pwalk/pkg/version"
)

// Build is the git sha of this binaries build.
var Build string

func main() {
	if Build != "" {
		version.PwalkVersion.Build = Build
	}
	if err := cmds.New(false).Execute(); err != nil {
		os.Exit(1)
	}
}
