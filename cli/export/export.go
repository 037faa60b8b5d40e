// Package export implements the export command.
package export

import (
	"context"
	"encoding/pem"
	"errors"

	"github.com/cloudflare/cfsmime/certstore"
	"github.com/cloudflare/cfsmime/cli"
	cferr "github.com/cloudflare/cfsmime/errors"
)

// Usage text of 'cfsmime export'
var exportUsageText = `cfsmime export -- exports certificates from the database

Usage of export:
        cfsmime export [-config config] [-pem] [-fingerprint sha1] [MAILBOX]
        cfsmime export [-config config] -password password [-fingerprint sha1] [MAILBOX]

Arguments:
        MAILBOX:    Only export certificates issued to this address.

Without a mailbox or fingerprint every certificate is exported. Certificates are
written as concatenated DER, as PEM with -pem, or as a PKCS #12 file holding the
mailbox's private key when a password is given.

Flags:
`

// Flags of 'cfsmime export'
var exportFlags = []string{"config", "password", "pem", "fingerprint"}

func selector(args []string, c cli.Config) *certstore.Selector {
	var sel *certstore.Selector
	if len(args) > 0 {
		sel = certstore.BySubjectEmail(args[0])
	}
	if c.Fingerprint != "" {
		if sel == nil {
			sel = &certstore.Selector{}
		}
		sel.Fingerprint = c.Fingerprint
	}
	return sel
}

func exportMain(args []string, c cli.Config) (err error) {
	if len(args) > 1 {
		return cferr.Wrap(cferr.ArgumentError, cferr.InvalidArgument, errors.New("export takes at most one mailbox"))
	}
	if c.PEM && c.Password != "" {
		return cferr.Wrap(cferr.ArgumentError, cferr.InvalidArgument, errors.New("-pem and -password are exclusive"))
	}

	ctx := context.Background()
	sc, err := cli.OpenContext(ctx, c)
	if err != nil {
		return err
	}
	defer sc.Close()

	sel := selector(args, c)
	if !c.PEM {
		return certstore.ExportWriter(ctx, sc.Backend, cli.Output, sel, c.Password)
	}

	certs, err := sc.Backend.Find(ctx, sel)
	if err != nil {
		return err
	}
	for _, cert := range certs {
		if err := pem.Encode(cli.Output, &pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw}); err != nil {
			return err
		}
	}
	return nil
}

// Command assembles the definition of Command 'export'
var Command = &cli.Command{UsageText: exportUsageText, Flags: exportFlags, Main: exportMain}
