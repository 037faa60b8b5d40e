// Package gencrl implements the gencrl command.
package gencrl

import (
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"math/big"

	"github.com/cloudflare/cfsmime/cli"
	"github.com/cloudflare/cfsmime/crl"
)

var gencrlUsageText = `cfsmime gencrl -- generate a new Certificate Revocation List

Usage of gencrl:
        cfsmime gencrl [-pem] [-number n] SERIALLIST CERTIFICATE PRIVATEKEY [EXPIRYTIME]

Arguments:
        SERIALLIST:     File of decimal serial numbers to revoke, one per line
        CERTIFICATE:    The certificate signing the CRL, in PEM form
        PRIVATEKEY:     The private key of the certificate, in PEM form
        EXPIRYTIME:     Seconds until the CRL expires, one week when 0 or omitted

The CRL is printed in base64 DER form, or PEM with -pem.

Flags:
`

var gencrlFlags = []string{"pem", "number"}

func gencrlMain(args []string, c cli.Config) (err error) {
	serialList, args, err := cli.PopFirstArgument(args)
	if err != nil {
		return
	}
	serialListBytes, err := cli.ReadStdin(serialList)
	if err != nil {
		return
	}

	certFile, args, err := cli.PopFirstArgument(args)
	if err != nil {
		return
	}
	certFileBytes, err := cli.ReadStdin(certFile)
	if err != nil {
		return
	}

	keyFile, args, err := cli.PopFirstArgument(args)
	if err != nil {
		return
	}
	keyBytes, err := cli.ReadStdin(keyFile)
	if err != nil {
		return
	}

	// Default value if no expiry time is given
	timeString := c.Expiry
	if timeString == "" {
		timeString = "0"
	}
	if len(args) > 0 {
		timeArg, _, err := cli.PopFirstArgument(args)
		if err != nil {
			return err
		}
		timeString = timeArg
	}

	req, err := crl.NewCRLFromFile(serialListBytes, certFileBytes, keyBytes, timeString, big.NewInt(c.Number))
	if err != nil {
		return
	}

	if c.PEM {
		return pem.Encode(cli.Output, &pem.Block{Type: "X509 CRL", Bytes: req})
	}
	_, err = fmt.Fprintln(cli.Output, base64.StdEncoding.EncodeToString(req))
	return err
}

// Command assembles the definition of Command 'gencrl'
var Command = &cli.Command{UsageText: gencrlUsageText, Flags: gencrlFlags, Main: gencrlMain}
