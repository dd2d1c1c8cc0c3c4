// Command transferpipe uploads and downloads large binary assets to and
// from a content-repository service over its direct binary upload
// protocol.
package main

import (
	"fmt"
	"os"

	"github.com/transferpipe/core/internal/cli"
)

// Version and BuildTime (internal/version) are overridden at build time via
// LDFLAGS, e.g. -X github.com/transferpipe/core/internal/version.Version=...

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
