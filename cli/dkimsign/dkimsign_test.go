package dkimsign

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"strings"
	"testing"

	"github.com/cloudflare/cfsmime/cli"
	"github.com/cloudflare/cfsmime/cli/clitest"
	"github.com/cloudflare/cfsmime/dkim"
	"github.com/cloudflare/cfsmime/dkim/dkimtest"
	cferr "github.com/cloudflare/cfsmime/errors"
	"github.com/emersion/go-msgauth/authres"
	"github.com/stretchr/testify/require"
)

const message = "From: Alice <alice@example.org>\r\n" +
	"To: Bob <bob@example.net>\r\n" +
	"Subject: Lunch\r\n" +
	"Date: Mon, 19 Oct 2026 10:00:00 +0000\r\n" +
	"\r\n" +
	"Noon at the usual place?\r\n"

type fixture struct {
	c       cli.Config
	key     ed25519.PrivateKey
	keyFile string
}

// newFixture publishes one key for example.org and relay.example and
// points the DNS settings of the configuration at it.
func newFixture(t *testing.T) *fixture {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	txt, err := dkim.FormatKeyRecord(key.Public())
	require.NoError(t, err)

	addr := dkimtest.ServeDNS(t, map[string][]string{
		"mail._domainkey.example.org.":  {txt},
		"arc._domainkey.relay.example.": {txt},
	})
	c := clitest.Config(t)
	c.CFG.DKIM.Resolver = addr
	return &fixture{
		c:       c,
		key:     key,
		keyFile: clitest.WriteFile(t, "key.pem", pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})),
	}
}

func (f *fixture) locator() dkim.PublicKeyLocator {
	return dkim.NewDNSLocator(f.c.CFG.DKIM)
}

func TestDkimsignMain(t *testing.T) {
	f := newFixture(t)
	out := clitest.Capture(t)

	c := f.c
	c.Domain, c.Selector, c.KeyFile = "example.org", "mail", f.keyFile
	c.Headers = "From, To,Subject"
	c.Expiration = "72h"
	require.NoError(t, dkimsignMain([]string{clitest.WriteFile(t, "msg.eml", []byte(message))}, c))
	require.True(t, strings.HasPrefix(out.String(), dkim.SignatureHeader+":"))
	require.True(t, strings.HasSuffix(out.String(), message))

	vers, err := dkim.Verify(context.Background(), f.locator(), strings.NewReader(out.String()))
	require.NoError(t, err)
	require.Len(t, vers, 1)
	require.NoError(t, vers[0].Err)
	require.Equal(t, []string{"From", "To", "Subject"}, vers[0].HeaderKeys)
	require.False(t, vers[0].Expiration.IsZero())
}

func TestDkimsignSeal(t *testing.T) {
	f := newFixture(t)
	out := clitest.Capture(t)

	s, err := dkim.NewSigner("example.org", "mail", f.key)
	require.NoError(t, err)
	signed, err := s.Sign(strings.NewReader(message))
	require.NoError(t, err)

	c := f.c
	c.Domain, c.Selector, c.KeyFile = "relay.example", "arc", f.keyFile
	c.AuthServID = "mx.relay.example"
	require.NoError(t, dkimsignMain([]string{clitest.WriteFile(t, "msg.eml", []byte(signed+message))}, c))
	require.True(t, strings.HasPrefix(out.String(), dkim.ArcSealHeader+": i=1;"))

	res, err := dkim.VerifyArc(context.Background(), f.locator(), strings.NewReader(out.String()))
	require.NoError(t, err)
	require.NoError(t, res.Err)
	require.Equal(t, dkim.ChainPass, res.Status)
	require.Contains(t, out.String(), "dkim=pass")
}

func TestDkimResults(t *testing.T) {
	results := dkimResults(nil)
	require.Len(t, results, 1)
	require.Equal(t, authres.ResultNone, results[0].(*authres.DKIMResult).Value)

	results = dkimResults([]*dkim.Verification{
		{Domain: "a.example"},
		{Domain: "b.example", Err: cferr.New(cferr.DKIMError, cferr.KeyLookupFailed)},
		{Domain: "c.example", Err: cferr.New(cferr.DKIMError, cferr.UnsupportedAlgorithm)},
		{Domain: "d.example", Err: cferr.New(cferr.DKIMError, cferr.BodyHashMismatch)},
		{Domain: "e.example", Err: errors.New("boom")},
	})
	var values []authres.ResultValue
	for _, r := range results {
		values = append(values, r.(*authres.DKIMResult).Value)
	}
	require.Equal(t, []authres.ResultValue{
		authres.ResultPass, authres.ResultTempError, authres.ResultPermError, authres.ResultFail, authres.ResultFail,
	}, values)
}

func TestDkimsignArguments(t *testing.T) {
	f := newFixture(t)
	clitest.Capture(t)
	file := clitest.WriteFile(t, "msg.eml", []byte(message))

	c := f.c
	require.Error(t, dkimsignMain(nil, c))
	require.True(t, cferr.IsArgument(dkimsignMain([]string{file}, c)))

	c.KeyFile = f.keyFile
	require.True(t, cferr.IsArgument(dkimsignMain([]string{file}, c)))

	c.Domain, c.Selector = "example.org", "mail"
	c.Expiration = "-1h"
	require.True(t, cferr.IsArgument(dkimsignMain([]string{file}, c)))

	c.Expiration = ""
	require.Error(t, dkimsignMain([]string{clitest.WriteFile(t, "bad.eml", []byte("no header\r\n"))}, c))
}
