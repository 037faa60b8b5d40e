// Package clitest holds helpers shared by the command tests.
package clitest

import (
	"bytes"
	"context"
	"crypto/x509"
	"os"
	"path/filepath"
	"testing"

	"github.com/cloudflare/cfsmime/certdb/dbconf"
	"github.com/cloudflare/cfsmime/cli"
	"github.com/cloudflare/cfsmime/config"
	"github.com/cloudflare/cfsmime/helpers/testsuite"
	"github.com/stretchr/testify/require"
)

// Config returns a command configuration backed by a fresh SQLite
// database, so that state survives between commands.
func Config(t *testing.T) cli.Config {
	cfg := &config.Config{Database: &dbconf.DBConfig{
		DriverName:     "sqlite3",
		DataSourceName: filepath.Join(t.TempDir(), "smime.db"),
	}}
	require.True(t, cfg.Valid())
	return cli.Config{CFG: cfg}
}

// Capture redirects command output to a buffer for the rest of the test.
func Capture(t *testing.T) *bytes.Buffer {
	var b bytes.Buffer
	old := cli.Output
	cli.Output = &b
	t.Cleanup(func() { cli.Output = old })
	return &b
}

// WriteFile writes data to a file in a temporary directory and returns
// its path.
func WriteFile(t *testing.T, name string, data []byte) string {
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0600))
	return path
}

// Identity creates a chain for email with one intermediate and stores
// it in the database of c: the root as a trust anchor and the leaf
// with its private key. The chain is returned leaf first.
func Identity(t *testing.T, c cli.Config, email string) []*testsuite.Identity {
	chain, err := testsuite.CreateCertificateChain(1, email)
	require.NoError(t, err)

	ctx := context.Background()
	sc, err := cli.OpenContext(ctx, c)
	require.NoError(t, err)
	defer sc.Close()
	require.NoError(t, sc.Backend.AddTrusted(ctx, []*x509.Certificate{chain[2].Certificate}))
	require.NoError(t, sc.Backend.Add(ctx, chain[1].Certificate))
	require.NoError(t, sc.Backend.AddPrivateKey(ctx, chain[0].Certificate, chain[0].Key))
	return chain
}
