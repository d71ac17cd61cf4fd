// Command tracerama traces network paths over TCP or UDP with nmap.
package main

import (
	"github.com/anstrom/tracerama/cmd/cli"
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
