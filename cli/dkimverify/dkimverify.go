// Package dkimverify implements the dkimverify command.
package dkimverify

import (
	"bytes"
	"context"
	"errors"
	"time"

	dkimverifyapi "github.com/cloudflare/cfsmime/api/dkimverify"
	"github.com/cloudflare/cfsmime/cli"
	"github.com/cloudflare/cfsmime/config"
	"github.com/cloudflare/cfsmime/dkim"
	"github.com/jmhodges/clock"
)

// Usage text of 'cfsmime dkimverify'
var dkimverifyUsageText = `cfsmime dkimverify -- verifies the DKIM signatures and ARC chain of a message

Usage of dkimverify:
        cfsmime dkimverify [-config config] MESSAGE

Arguments:
        MESSAGE:    RFC 5322 message, use '-' for reading from stdin.

Public keys are looked up in DNS using the settings of the configuration file.
The results are printed as JSON; the command fails when a signature is invalid
or the ARC chain is broken.

Flags:
`

// Flags of 'cfsmime dkimverify'
var dkimverifyFlags = []string{"config"}

// keyCacheTTL keeps keys shared by DKIM and ARC signatures for one run.
const keyCacheTTL = 5 * time.Minute

var errInvalid = errors.New("DKIM verification failed")

// newLocator returns the key locator of c.
var newLocator = func(c cli.Config) dkim.PublicKeyLocator {
	var cfg *config.DKIM
	if c.CFG != nil {
		cfg = c.CFG.DKIM
	}
	return dkim.NewCachingLocator(dkim.NewDNSLocator(cfg), keyCacheTTL)
}

func dkimverifyMain(args []string, c cli.Config) (err error) {
	file, _, err := cli.PopFirstArgument(args)
	if err != nil {
		return
	}
	msg, err := cli.ReadStdin(file)
	if err != nil {
		return
	}

	ctx := context.Background()
	v := &dkim.Verifier{Locator: newLocator(c), Clock: clock.New()}
	vers, err := v.Verify(ctx, bytes.NewReader(msg))
	if err != nil {
		return
	}
	arc, err := v.VerifyArc(ctx, bytes.NewReader(msg))
	if err != nil {
		return
	}

	out := dkimverifyapi.Describe(vers, arc)
	if err = cli.PrintJSON(out); err != nil {
		return
	}
	if !out.Valid() {
		return errInvalid
	}
	return nil
}

// Command assembles the definition of Command 'dkimverify'
var Command = &cli.Command{UsageText: dkimverifyUsageText, Flags: dkimverifyFlags, Main: dkimverifyMain}
