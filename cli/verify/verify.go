// Package verify implements the verify command.
package verify

import (
	"context"
	"errors"

	verifyapi "github.com/cloudflare/cfsmime/api/verify"
	"github.com/cloudflare/cfsmime/cli"
)

// Usage text of 'cfsmime verify'
var verifyUsageText = `cfsmime verify -- verifies the signers of a signed message

Usage of verify:
        cfsmime verify [-config config] [-content file] MESSAGE

Arguments:
        MESSAGE:    SignedData in DER or PEM form, use '-' for reading from stdin.

Detached signatures need the signed content passed with -content. The result of
each signer is printed as JSON; the command fails when a signer is invalid.

Flags:
`

// Flags of 'cfsmime verify'
var verifyFlags = []string{"config", "content"}

// errInvalid is returned after printing when a signer did not verify.
var errInvalid = errors.New("signature verification failed")

func verifyMain(args []string, c cli.Config) (err error) {
	file, _, err := cli.PopFirstArgument(args)
	if err != nil {
		return
	}
	data, err := cli.ReadStdin(file)
	if err != nil {
		return
	}
	signed, err := cli.DecodeMessage(data)
	if err != nil {
		return
	}
	var content []byte
	if c.ContentFile != "" {
		if content, err = cli.ReadStdin(c.ContentFile); err != nil {
			return
		}
	}

	ctx := context.Background()
	sc, err := cli.OpenContext(ctx, c)
	if err != nil {
		return
	}
	defer sc.Close()

	sigs, err := sc.Verify(ctx, signed, content)
	if err != nil {
		return
	}
	results := make([]verifyapi.SignerResult, 0, len(sigs))
	valid := true
	for _, sig := range sigs {
		results = append(results, verifyapi.Describe(sig))
		valid = valid && sig.Valid()
	}
	if err = cli.PrintJSON(results); err != nil {
		return
	}
	if !valid {
		return errInvalid
	}
	return nil
}

// Command assembles the definition of Command 'verify'
var Command = &cli.Command{UsageText: verifyUsageText, Flags: verifyFlags, Main: verifyMain}
