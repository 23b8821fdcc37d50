// Command mapperctl submits network mapper scans, follows them to completion
// and serves the mapper backend.
package main

import (
	"github.com/anstrom/mapperctl/cmd/cli"
)

// Build information, set with -ldflags "-X main.version=...".
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	cli.SetVersion(version, commit, buildTime)
	cli.Execute()
}
