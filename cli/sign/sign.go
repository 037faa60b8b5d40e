// Package sign implements the sign command.
package sign

import (
	"context"

	"github.com/cloudflare/cfsmime/cli"
)

// Usage text of 'cfsmime sign'
var signerUsageText = `cfsmime sign -- signs content with the certificate and key of a mailbox

Usage of sign:
        cfsmime sign [-config config] [-detached] [-pem] MAILBOX CONTENT

Arguments:
        MAILBOX:    Address of the signer, such as "Alice <alice@example.com>"
        CONTENT:    File holding the MIME entity to sign, use '-' for reading from stdin.

The SignedData is printed in DER form, or PEM with -pem.

Flags:
`

// Flags of 'cfsmime sign'
var signerFlags = []string{"config", "detached", "pem"}

func signerMain(args []string, c cli.Config) (err error) {
	mailbox, args, err := cli.PopFirstArgument(args)
	if err != nil {
		return
	}
	file, _, err := cli.PopFirstArgument(args)
	if err != nil {
		return
	}
	content, err := cli.ReadStdin(file)
	if err != nil {
		return
	}

	ctx := context.Background()
	sc, err := cli.OpenContext(ctx, c)
	if err != nil {
		return
	}
	defer sc.Close()

	der, err := sc.Sign(ctx, mailbox, content, c.Detached)
	if err != nil {
		return
	}
	return cli.PrintMessage(der, c.PEM)
}

// Command assembles the definition of Command 'sign'
var Command = &cli.Command{UsageText: signerUsageText, Flags: signerFlags, Main: signerMain}
