// Package dkimsign implements the dkimsign command.
package dkimsign

import (
	"bytes"
	"context"
	"crypto"
	"errors"
	"strings"
	"time"

	"github.com/cloudflare/cfsmime/cli"
	"github.com/cloudflare/cfsmime/config"
	"github.com/cloudflare/cfsmime/dkim"
	cferr "github.com/cloudflare/cfsmime/errors"
	"github.com/cloudflare/cfsmime/helpers"
	"github.com/cloudflare/cfsmime/log"
	"github.com/emersion/go-msgauth/authres"
)

// Usage text of 'cfsmime dkimsign'
var dkimsignUsageText = `cfsmime dkimsign -- adds a DKIM signature or an ARC set to a message

Usage of dkimsign:
        cfsmime dkimsign -domain domain -selector selector -key key [-identifier i] [-headers list] [-expiration duration] MESSAGE
        cfsmime dkimsign -authserv-id id -domain domain -selector selector -key key [-config config] MESSAGE

Arguments:
        MESSAGE:    RFC 5322 message, use '-' for reading from stdin.

The key is an RSA or Ed25519 private key in PEM form. With -authserv-id the message
is sealed as an ARC intermediary instead: its DKIM signatures are checked and the
results recorded in the new ARC-Authentication-Results field. Key lookups use the
DNS settings of the configuration file.

Flags:
`

// Flags of 'cfsmime dkimsign'
var dkimsignFlags = []string{"config", "domain", "selector", "key", "identifier", "headers", "expiration", "authserv-id"}

// newLocator returns the key locator used to check signatures before
// sealing.
var newLocator = func(c cli.Config) dkim.PublicKeyLocator {
	var cfg *config.DKIM
	if c.CFG != nil {
		cfg = c.CFG.DKIM
	}
	return dkim.NewDNSLocator(cfg)
}

// signerFromConfig builds the DKIM signer the flags describe.
func signerFromConfig(c cli.Config) (*dkim.Signer, error) {
	if c.KeyFile == "" {
		return nil, cferr.Wrap(cferr.ArgumentError, cferr.NullArgument, errors.New("missing -key"))
	}
	keyPEM, err := cli.ReadStdin(c.KeyFile)
	if err != nil {
		return nil, err
	}
	key, err := helpers.ParsePrivateKeyPEM(keyPEM)
	if err != nil {
		return nil, err
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, cferr.New(cferr.PrivateKeyError, cferr.UnsupportedKeyType)
	}

	s, err := dkim.NewSigner(c.Domain, c.Selector, signer)
	if err != nil {
		return nil, err
	}
	s.Identifier = c.Identifier
	if c.Headers != "" {
		for _, h := range strings.Split(c.Headers, ",") {
			if h = strings.TrimSpace(h); h != "" {
				s.Headers = append(s.Headers, h)
			}
		}
	}
	if c.Expiration != "" {
		d, err := time.ParseDuration(c.Expiration)
		if err != nil || d <= 0 {
			return nil, cferr.Wrap(cferr.ArgumentError, cferr.InvalidArgument, errors.New("bad -expiration "+c.Expiration))
		}
		s.Expiration = d
	}
	return s, nil
}

// dkimResults converts verifications into authentication results.
func dkimResults(vers []*dkim.Verification) []authres.Result {
	if len(vers) == 0 {
		return []authres.Result{&authres.DKIMResult{Value: authres.ResultNone}}
	}
	results := make([]authres.Result, 0, len(vers))
	for _, v := range vers {
		r := &authres.DKIMResult{Value: authres.ResultPass, Domain: v.Domain, Identifier: v.Identifier}
		switch {
		case v.Err == nil:
		case errors.Is(v.Err, cferr.New(cferr.DKIMError, cferr.KeyLookupFailed)):
			r.Value = authres.ResultTempError
		case cferr.IsParse(v.Err), cferr.IsUnsupported(v.Err):
			r.Value = authres.ResultPermError
		default:
			r.Value = authres.ResultFail
		}
		results = append(results, r)
	}
	return results
}

func seal(ctx context.Context, s *dkim.Signer, msg []byte, c cli.Config) error {
	locator := newLocator(c)
	vers, err := dkim.Verify(ctx, locator, bytes.NewReader(msg))
	if err != nil {
		return err
	}
	a, err := dkim.NewArcSigner(s, c.AuthServID, locator)
	if err != nil {
		return err
	}
	log.Debugf("sealing as %s over %d DKIM signatures", c.AuthServID, len(vers))
	return a.SealMessage(ctx, cli.Output, bytes.NewReader(msg), dkimResults(vers))
}

func dkimsignMain(args []string, c cli.Config) (err error) {
	file, _, err := cli.PopFirstArgument(args)
	if err != nil {
		return
	}
	msg, err := cli.ReadStdin(file)
	if err != nil {
		return
	}
	s, err := signerFromConfig(c)
	if err != nil {
		return
	}

	if c.AuthServID != "" {
		return seal(context.Background(), s, msg, c)
	}
	return s.SignMessage(cli.Output, bytes.NewReader(msg))
}

// Command assembles the definition of Command 'dkimsign'
var Command = &cli.Command{UsageText: dkimsignUsageText, Flags: dkimsignFlags, Main: dkimsignMain}
