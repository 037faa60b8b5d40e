// Package encrypt implements the encrypt command.
package encrypt

import (
	"context"

	"github.com/cloudflare/cfsmime/cli"
)

// Usage text of 'cfsmime encrypt'
var encryptUsageText = `cfsmime encrypt -- encrypts content for one or more mailboxes

Usage of encrypt:
        cfsmime encrypt [-config config] [-pem] CONTENT MAILBOX...

Arguments:
        CONTENT:    File holding the MIME entity to encrypt, use '-' for reading from stdin.
        MAILBOX:    Address of a recipient with a certificate in the database.

The content encryption algorithm is the strongest one every recipient is known
to support. The EnvelopedData is printed in DER form, or PEM with -pem.

Flags:
`

// Flags of 'cfsmime encrypt'
var encryptFlags = []string{"config", "pem"}

func encryptMain(args []string, c cli.Config) (err error) {
	file, mailboxes, err := cli.PopFirstArgument(args)
	if err != nil {
		return
	}
	if _, _, err = cli.PopFirstArgument(mailboxes); err != nil {
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

	der, err := sc.Encrypt(ctx, mailboxes, content)
	if err != nil {
		return
	}
	return cli.PrintMessage(der, c.PEM)
}

// Command assembles the definition of Command 'encrypt'
var Command = &cli.Command{UsageText: encryptUsageText, Flags: encryptFlags, Main: encryptMain}
