/*
cfsmime is the command line tool to manage an S/MIME certificate database,
sign, verify, encrypt and decrypt CMS messages, and sign mail with DKIM and
ARC.

Usage:

	cfsmime command [-flags] arguments

	The commands are

	import     imports certificates, keys and PKCS #12 files
	export     exports certificates as PEM or PKCS #12
	crl        imports a CRL from a file or distribution point
	gencrl     generates a CRL from a list of serial numbers
	sign       signs content for a mailbox
	verify     verifies a signed message
	encrypt    encrypts content for mailboxes
	decrypt    decrypts an enveloped message
	dkimsign   adds a DKIM signature or an ARC set to a message
	dkimverify verifies the DKIM signatures and ARC chain of a message
	serve      starts the HTTP API server
	version    prints the current cfsmime version

Use "cfsmime [command] -help" to find out more about a command.
*/
package main

import (
	"flag"
	"os"

	"github.com/cloudflare/cfsmime/cli"
	"github.com/cloudflare/cfsmime/cli/crl"
	"github.com/cloudflare/cfsmime/cli/decrypt"
	"github.com/cloudflare/cfsmime/cli/dkimsign"
	"github.com/cloudflare/cfsmime/cli/dkimverify"
	"github.com/cloudflare/cfsmime/cli/encrypt"
	"github.com/cloudflare/cfsmime/cli/export"
	"github.com/cloudflare/cfsmime/cli/gencrl"
	"github.com/cloudflare/cfsmime/cli/importer"
	"github.com/cloudflare/cfsmime/cli/serve"
	"github.com/cloudflare/cfsmime/cli/sign"
	"github.com/cloudflare/cfsmime/cli/verify"
	"github.com/cloudflare/cfsmime/cli/version"
	"github.com/cloudflare/cfsmime/log"
)

// main defines the cfsmime usage and registers all defined commands and flags.
func main() {
	log.RegisterFlags(flag.CommandLine)
	// Standard output carries command results.
	log.SetOutput(os.Stderr)
	// Register commands.
	cmds := map[string]*cli.Command{
		"import":     importer.Command,
		"export":     export.Command,
		"crl":        crl.Command,
		"gencrl":     gencrl.Command,
		"sign":       sign.Command,
		"verify":     verify.Command,
		"encrypt":    encrypt.Command,
		"decrypt":    decrypt.Command,
		"dkimsign":   dkimsign.Command,
		"dkimverify": dkimverify.Command,
		"serve":      serve.Command,
		"version":    version.Command,
	}
	cli.Start(cmds)
}
