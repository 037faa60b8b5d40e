// Package crl implements the crl command.
package crl

import (
	"context"
	"net/http"
	"strings"
	"time"

	crlapi "github.com/cloudflare/cfsmime/api/crl"
	"github.com/cloudflare/cfsmime/cli"
	"github.com/cloudflare/cfsmime/log"
	"github.com/cloudflare/cfsmime/revoke"
)

// Usage text of 'cfsmime crl'
var crlUsageText = `cfsmime crl -- imports certificate revocation lists

Usage of crl:
        cfsmime crl [-config config] SOURCE...

Arguments:
        SOURCE:     CRL file in PEM or DER form, use '-' for reading from stdin,
                    or an http:// or https:// distribution point to fetch.

A CRL that is already stored is left unchanged.

Flags:
`

// Flags of 'cfsmime crl'
var crlFlags = []string{"config"}

// fetchTimeout bounds the download of one distribution point.
var fetchTimeout = 30 * time.Second

type crlResult struct {
	Source string `json:"source"`
	crlapi.Result
}

func isURL(source string) bool {
	lower := strings.ToLower(source)
	for _, scheme := range []string{"http://", "https://", "ldap://", "ldaps://"} {
		if strings.HasPrefix(lower, scheme) {
			return true
		}
	}
	return false
}

func readCRL(ctx context.Context, source string) ([]byte, error) {
	if !isURL(source) {
		return cli.ReadStdin(source)
	}
	log.Infof("fetching CRL from %s", source)
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()
	return revoke.FetchCRL(ctx, http.DefaultClient, source)
}

func crlMain(args []string, c cli.Config) (err error) {
	if len(args) == 0 {
		_, _, err = cli.PopFirstArgument(args)
		return err
	}

	ctx := context.Background()
	sc, err := cli.OpenContext(ctx, c)
	if err != nil {
		return err
	}
	defer sc.Close()

	var results []crlResult
	for _, source := range args {
		data, err := readCRL(ctx, source)
		if err != nil {
			return err
		}
		rec, err := sc.ImportCRL(ctx, data)
		if err != nil {
			return err
		}
		results = append(results, crlResult{Source: source, Result: crlapi.Describe(rec)})
	}
	return cli.PrintJSON(results)
}

// Command assembles the definition of Command 'crl'
var Command = &cli.Command{UsageText: crlUsageText, Flags: crlFlags, Main: crlMain}
