// Intake Tracker - submits clinical documents for extraction and follows the
// resulting jobs until they finish.
package main

import (
	"os"

	"github.com/clinops/intake-tracker/internal/cli"
	"github.com/clinops/intake-tracker/internal/version"
)

// Version information, set by ldflags
var (
	Version   = "v0.4.0-dev"
	BuildTime = "unknown"
)

func main() {
	version.Version = Version
	version.BuildTime = BuildTime

	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
