// Package decrypt implements the decrypt command.
package decrypt

import (
	"context"

	"github.com/cloudflare/cfsmime/cli"
)

// Usage text of 'cfsmime decrypt'
var decryptUsageText = `cfsmime decrypt -- decrypts a message with a private key from the database

Usage of decrypt:
        cfsmime decrypt [-config config] MESSAGE

Arguments:
        MESSAGE:    EnvelopedData in DER or PEM form, use '-' for reading from stdin.

Flags:
`

// Flags of 'cfsmime decrypt'
var decryptFlags = []string{"config"}

func decryptMain(args []string, c cli.Config) (err error) {
	file, _, err := cli.PopFirstArgument(args)
	if err != nil {
		return
	}
	data, err := cli.ReadStdin(file)
	if err != nil {
		return
	}
	enveloped, err := cli.DecodeMessage(data)
	if err != nil {
		return
	}

	ctx := context.Background()
	sc, err := cli.OpenContext(ctx, c)
	if err != nil {
		return
	}
	defer sc.Close()

	content, err := sc.Decrypt(ctx, enveloped)
	if err != nil {
		return
	}
	_, err = cli.Output.Write(content)
	return
}

// Command assembles the definition of Command 'decrypt'
var Command = &cli.Command{UsageText: decryptUsageText, Flags: decryptFlags, Main: decryptMain}
