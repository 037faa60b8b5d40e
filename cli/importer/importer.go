// Package importer implements the import command.
package importer

import (
	"context"

	"github.com/cloudflare/cfsmime/cli"
	"github.com/cloudflare/cfsmime/log"
)

// Usage text of 'cfsmime import'
var importerUsageText = `cfsmime import -- imports certificates, private keys and PKCS #12 files

Usage of import:
        cfsmime import [-config config] [-password password] FILE...
        cfsmime import -trusted [-config config] FILE...

Arguments:
        FILE:       PEM, DER, PKCS #7 or PKCS #12 file, use '-' for reading from stdin.

With -trusted only self-signed certificates are accepted and they become trust anchors.

Flags:
`

// Flags of 'cfsmime import'
var importerFlags = []string{"config", "password", "trusted"}

type importResult struct {
	File     string `json:"file"`
	Imported int    `json:"imported"`
}

func importerMain(args []string, c cli.Config) (err error) {
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

	var results []importResult
	for _, file := range args {
		data, err := cli.ReadStdin(file)
		if err != nil {
			return err
		}
		var n int
		if c.Trusted {
			n, err = sc.ImportTrusted(ctx, data)
		} else {
			n, err = sc.Import(ctx, data, c.Password)
		}
		if err != nil {
			return err
		}
		log.Infof("imported %d certificates from %s", n, file)
		results = append(results, importResult{File: file, Imported: n})
	}
	return cli.PrintJSON(results)
}

// Command assembles the definition of Command 'import'
var Command = &cli.Command{UsageText: importerUsageText, Flags: importerFlags, Main: importerMain}
