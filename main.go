package main

import (
	"github.com/diyartec/calassist/cmd"
)

// Build information, set by goreleaser during build
var (
	version = "dev"
	commit  = ""
	date    = ""
)

func main() {
	cmd.SetVersion(version)
	cmd.SetBuildInfo(commit, date)

	cmd.Execute()
}
