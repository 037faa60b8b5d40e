package dkimverify

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"strings"
	"testing"

	dkimverifyapi "github.com/cloudflare/cfsmime/api/dkimverify"
	"github.com/cloudflare/cfsmime/cli"
	"github.com/cloudflare/cfsmime/cli/clitest"
	"github.com/cloudflare/cfsmime/dkim"
	"github.com/cloudflare/cfsmime/dkim/dkimtest"
	"github.com/emersion/go-msgauth/authres"
	"github.com/stretchr/testify/require"
)

const message = "From: Alice <alice@example.org>\r\n" +
	"To: Bob <bob@example.net>\r\n" +
	"Subject: Lunch\r\n" +
	"\r\n" +
	"Noon at the usual place?\r\n"

// sealed returns message signed by example.org and sealed by
// relay.example, with c resolving both keys.
func sealed(t *testing.T) (string, cli.Config) {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	txt, err := dkim.FormatKeyRecord(key.Public())
	require.NoError(t, err)
	addr := dkimtest.ServeDNS(t, map[string][]string{
		"mail._domainkey.example.org.":  {txt},
		"arc._domainkey.relay.example.": {txt},
	})
	c := clitest.Config(t)
	c.CFG.DKIM.Resolver = addr

	s, err := dkim.NewSigner("example.org", "mail", key)
	require.NoError(t, err)
	sig, err := s.Sign(strings.NewReader(message))
	require.NoError(t, err)

	relay, err := dkim.NewSigner("relay.example", "arc", key)
	require.NoError(t, err)
	a, err := dkim.NewArcSigner(relay, "mx.relay.example", newLocator(c))
	require.NoError(t, err)
	set, err := a.Seal(context.Background(), strings.NewReader(sig+message),
		[]authres.Result{&authres.DKIMResult{Value: authres.ResultPass, Domain: "example.org"}})
	require.NoError(t, err)
	return strings.Join(set, "") + sig + message, c
}

func TestDkimverifyMain(t *testing.T) {
	msg, c := sealed(t)
	out := clitest.Capture(t)

	require.NoError(t, dkimverifyMain([]string{clitest.WriteFile(t, "msg.eml", []byte(msg))}, c))
	var res dkimverifyapi.Result
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	require.Len(t, res.Signatures, 1)
	sig := res.Signatures[0]
	require.True(t, sig.Valid)
	require.Equal(t, "example.org", sig.Domain)
	require.Equal(t, "mail", sig.Selector)
	require.Equal(t, "@example.org", sig.Identifier)
	require.Equal(t, dkim.AlgorithmEd25519SHA256, sig.Algorithm)
	require.NotNil(t, sig.Time)
	require.Nil(t, sig.Expiration)
	require.Equal(t, dkim.ChainPass, res.ARC.Status)
	require.Equal(t, 1, res.ARC.Instance)
}

func TestDkimverifyTampered(t *testing.T) {
	msg, c := sealed(t)
	out := clitest.Capture(t)

	tampered := strings.Replace(msg, "Noon", "Midnight", 1)
	err := dkimverifyMain([]string{clitest.WriteFile(t, "msg.eml", []byte(tampered))}, c)
	require.ErrorIs(t, err, errInvalid)

	var res dkimverifyapi.Result
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	require.False(t, res.Signatures[0].Valid)
	require.NotEmpty(t, res.Signatures[0].Error)
	require.Equal(t, dkim.ChainFail, res.ARC.Status)
	require.Equal(t, 1, res.ARC.FailedInstance)
}

func TestDkimverifyUnsigned(t *testing.T) {
	c := clitest.Config(t)
	out := clitest.Capture(t)

	require.NoError(t, dkimverifyMain([]string{clitest.WriteFile(t, "msg.eml", []byte(message))}, c))
	var res dkimverifyapi.Result
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	require.Empty(t, res.Signatures)
	require.Equal(t, dkim.ChainNone, res.ARC.Status)

	require.Error(t, dkimverifyMain(nil, c))
	require.Error(t, dkimverifyMain([]string{clitest.WriteFile(t, "bad.eml", []byte(" folded\r\n"))}, c))
}
