// Package version implements the version command.
package version

import (
	"fmt"
	"runtime"

	"github.com/cloudflare/cfsmime/cli"
)

var (
	version = "dev"
)

// Usage text for 'cfsmime version'
var versionUsageText = `cfsmime version -- print out the version of cfsmime

Usage of version:
	cfsmime version
`

// FormatVersion returns the formatted version string.
func FormatVersion() string {
	return fmt.Sprintf("Version: %s\nRuntime: %s\n", version, runtime.Version())
}

// The main functionality of 'cfsmime version' is to print out the version info.
func versionMain(args []string, c cli.Config) (err error) {
	_, err = fmt.Fprintf(cli.Output, "%s", FormatVersion())
	return err
}

// Command assembles the definition of Command 'version'
var Command = &cli.Command{UsageText: versionUsageText, Flags: nil, Main: versionMain}
