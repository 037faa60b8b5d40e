package gencrl

import (
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"strings"
	"testing"
	"time"

	"github.com/cloudflare/cfsmime/cli"
	"github.com/cloudflare/cfsmime/cli/clitest"
	"github.com/cloudflare/cfsmime/helpers/testsuite"
	"github.com/stretchr/testify/require"
)

func fixture(t *testing.T) []string {
	ca, err := testsuite.NewRootCA("Test CRL CA")
	require.NoError(t, err)
	keyPEM, err := ca.KeyPEM()
	require.NoError(t, err)
	return []string{
		clitest.WriteFile(t, "serialList", []byte("1\n22\n\n333\n")),
		clitest.WriteFile(t, "ca.pem", ca.CertificatePEM()),
		clitest.WriteFile(t, "ca-key.pem", keyPEM),
	}
}

func TestGencrl(t *testing.T) {
	out := clitest.Capture(t)
	err := gencrlMain(fixture(t), cli.Config{Number: 7})
	require.NoError(t, err)

	der, err := base64.StdEncoding.DecodeString(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	rl, err := x509.ParseRevocationList(der)
	require.NoError(t, err)
	require.Len(t, rl.RevokedCertificateEntries, 3)
	require.EqualValues(t, 7, rl.Number.Int64())
	require.WithinDuration(t, time.Now().Add(7*24*time.Hour), rl.NextUpdate, time.Minute)
}

func TestGencrlTime(t *testing.T) {
	out := clitest.Capture(t)
	err := gencrlMain(append(fixture(t), "3600"), cli.Config{Number: 1, PEM: true})
	require.NoError(t, err)

	block, _ := pem.Decode(out.Bytes())
	require.NotNil(t, block)
	require.Equal(t, "X509 CRL", block.Type)
	rl, err := x509.ParseRevocationList(block.Bytes)
	require.NoError(t, err)
	require.WithinDuration(t, time.Now().Add(time.Hour), rl.NextUpdate, time.Minute)
}

func TestGencrlErrors(t *testing.T) {
	clitest.Capture(t)
	args := fixture(t)
	require.Error(t, gencrlMain(args[:2], cli.Config{Number: 1}))
	require.Error(t, gencrlMain(append(args, "soon"), cli.Config{Number: 1}))

	bad := clitest.WriteFile(t, "bad", []byte("x\n"))
	require.Error(t, gencrlMain([]string{bad, args[1], args[2]}, cli.Config{Number: 1}))
}
