package dkim

import (
	"bytes"
	"context"
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"strings"
	"sync"
	"testing"
	"time"

	cferr "github.com/cloudflare/cfsmime/errors"
	"github.com/emersion/go-msgauth/dkim"
	"github.com/jmhodges/clock"
	"github.com/stretchr/testify/require"
)

const testMessage = "From: Alice <alice@example.org>\r\n" +
	"To: Bob <bob@example.net>\r\n" +
	"Subject:  Quarterly   report\r\n" +
	"Date: Mon, 19 Oct 2026 10:00:00 +0000\r\n" +
	"Message-ID: <20261019100000.1@example.org>\r\n" +
	"\r\n" +
	"Hello Bob,  \r\n" +
	"\r\n" +
	"the report is attached.\r\n" +
	"\r\n" +
	"\r\n"

type keys struct {
	rsa     *rsa.PrivateKey
	ed25519 ed25519.PrivateKey
}

var (
	keysOnce sync.Once
	keysVal  keys
	keysErr  error
)

func testKeys(t *testing.T) keys {
	keysOnce.Do(func() {
		keysVal.rsa, keysErr = rsa.GenerateKey(rand.Reader, 2048)
		if keysErr != nil {
			return
		}
		_, keysVal.ed25519, keysErr = ed25519.GenerateKey(rand.Reader)
	})
	require.NoError(t, keysErr)
	return keysVal
}

// records is a fake DNS zone of key records.
type records map[string][]string

func (r records) lookup(ctx context.Context, name string) ([]string, error) {
	return r[name], nil
}

func (r records) msgauth(name string) ([]string, error) {
	return r[name], nil
}

func (r records) publish(t *testing.T, domain, selector string, pub crypto.PublicKey) {
	txt, err := FormatKeyRecord(pub)
	require.NoError(t, err)
	name, err := KeyName(domain, selector)
	require.NoError(t, err)
	r[name] = append(r[name], txt)
}

type signCase struct {
	name string
	key  crypto.Signer
}

func signCases(t *testing.T) []signCase {
	k := testKeys(t)
	return []signCase{{"rsa", k.rsa}, {"ed25519", k.ed25519}}
}

func signMessage(t *testing.T, s *Signer, msg string) string {
	var b bytes.Buffer
	require.NoError(t, s.SignMessage(&b, strings.NewReader(msg)))
	return b.String()
}

func newFakeClock() clock.FakeClock {
	clk := clock.NewFake()
	clk.Set(time.Now().Truncate(time.Second))
	return clk
}

func TestSignVerify(t *testing.T) {
	for _, tc := range signCases(t) {
		t.Run(tc.name, func(t *testing.T) {
			zone := records{}
			zone.publish(t, "example.org", "sel", tc.key.Public())
			clk := newFakeClock()

			s, err := NewSigner("example.org", "sel", tc.key)
			require.NoError(t, err)
			s.Clock = clk
			s.Identifier = "alice@example.org"
			signed := signMessage(t, s, testMessage)
			require.True(t, strings.HasPrefix(signed, SignatureHeader+": v=1;"))
			require.True(t, strings.HasSuffix(signed, testMessage[strings.Index(testMessage, "\r\n\r\n"):]))

			v := &Verifier{Locator: TXTLocator{Lookup: zone.lookup}, Clock: clk}
			vers, err := v.Verify(context.Background(), strings.NewReader(signed))
			require.NoError(t, err)
			require.Len(t, vers, 1)
			ver := vers[0]
			require.NoError(t, ver.Err)
			require.Equal(t, "example.org", ver.Domain)
			require.Equal(t, "sel", ver.Selector)
			require.Equal(t, "alice@example.org", ver.Identifier)
			require.Equal(t, []string{"From", "Subject", "Date", "To", "Message-ID"}, ver.HeaderKeys)
			require.True(t, clk.Now().Equal(ver.Time))
			require.True(t, ver.Expiration.IsZero())
		})
	}
}

func TestSignHeader(t *testing.T) {
	k := testKeys(t)
	s, err := NewSigner("Example.ORG.", "sel", k.ed25519)
	require.NoError(t, err)
	require.Equal(t, "example.org", s.Domain)
	s.Headers = []string{"From", "X-Missing", "Subject"}

	h, err := s.Sign(strings.NewReader(testMessage))
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(h, "\r\n"))
	sig, err := parseSignature(SignatureHeader, field{raw: strings.TrimSuffix(h, "\r\n")}.value())
	require.NoError(t, err)
	require.Equal(t, AlgorithmEd25519SHA256, sig.algorithm)
	require.Equal(t, Relaxed, sig.header)
	require.Equal(t, Relaxed, sig.body)
	require.Equal(t, []string{"From", "Subject"}, sig.headerKeys)
	require.EqualValues(t, -1, sig.bodyLength)
}

func TestSignErrors(t *testing.T) {
	k := testKeys(t)
	_, err := NewSigner("", "sel", k.rsa)
	require.True(t, cferr.IsArgument(err))
	_, err = NewSigner("example.org", "sel", nil)
	require.True(t, cferr.IsArgument(err))

	s, err := NewSigner("example.org", "sel", k.rsa)
	require.NoError(t, err)
	_, err = s.Sign(strings.NewReader("Subject: no sender\r\n\r\nbody\r\n"))
	require.ErrorIs(t, err, cferr.New(cferr.DKIMError, cferr.SignFailed))

	_, err = s.Sign(strings.NewReader(" folded first line\r\n\r\n"))
	require.True(t, cferr.IsParse(err))
}

// Signatures made here verify with an independent implementation.
func TestVerifiedByMsgauth(t *testing.T) {
	for _, tc := range signCases(t) {
		t.Run(tc.name, func(t *testing.T) {
			zone := records{}
			zone.publish(t, "example.org", "sel", tc.key.Public())
			s, err := NewSigner("example.org", "sel", tc.key)
			require.NoError(t, err)
			s.Expiration = time.Hour
			signed := signMessage(t, s, testMessage)

			vers, err := dkim.VerifyWithOptions(strings.NewReader(signed), &dkim.VerifyOptions{LookupTXT: zone.msgauth})
			require.NoError(t, err)
			require.Len(t, vers, 1)
			require.NoError(t, vers[0].Err)
			require.Equal(t, "example.org", vers[0].Domain)
		})
	}
}

func TestVerifyMsgauthSignature(t *testing.T) {
	for _, tc := range signCases(t) {
		for _, canon := range []dkim.Canonicalization{dkim.CanonicalizationRelaxed, dkim.CanonicalizationSimple} {
			t.Run(tc.name+"/"+string(canon), func(t *testing.T) {
				zone := records{}
				zone.publish(t, "example.org", "msgauth", tc.key.Public())

				var b bytes.Buffer
				err := dkim.Sign(&b, strings.NewReader(testMessage), &dkim.SignOptions{
					Domain:                 "example.org",
					Selector:               "msgauth",
					Signer:                 tc.key,
					HeaderCanonicalization: canon,
					BodyCanonicalization:   canon,
					HeaderKeys:             []string{"From", "To", "Subject", "Date"},
				})
				require.NoError(t, err)

				vers, err := Verify(context.Background(), TXTLocator{Lookup: zone.lookup}, &b)
				require.NoError(t, err)
				require.Len(t, vers, 1)
				require.NoError(t, vers[0].Err)
				require.Equal(t, "msgauth", vers[0].Selector)
			})
		}
	}
}

func TestVerifyTampered(t *testing.T) {
	k := testKeys(t)
	zone := records{}
	zone.publish(t, "example.org", "sel", k.rsa.Public())
	locator := TXTLocator{Lookup: zone.lookup}
	s, err := NewSigner("example.org", "sel", k.rsa)
	require.NoError(t, err)
	signed := signMessage(t, s, testMessage)

	verify := func(msg string) error {
		vers, err := Verify(context.Background(), locator, strings.NewReader(msg))
		require.NoError(t, err)
		require.Len(t, vers, 1)
		return vers[0].Err
	}

	// Relaxed canonicalization tolerates whitespace changes.
	require.NoError(t, verify(strings.Replace(signed, "Hello Bob,  ", "Hello   Bob,", 1)))
	require.NoError(t, verify(strings.Replace(signed, "Subject:  Quarterly", "subject: Quarterly", 1)))

	err = verify(strings.Replace(signed, "attached", "missing", 1))
	require.ErrorIs(t, err, cferr.New(cferr.DKIMError, cferr.BodyHashMismatch))

	err = verify(strings.Replace(signed, "Quarterly", "Annual", 1))
	require.ErrorIs(t, err, cferr.New(cferr.DKIMError, cferr.SignatureInvalid))

	// Signed fields are taken from the bottom, so a From added below wins.
	err = verify(strings.Replace(signed, "To: Bob", "From: Mallory <m@example.com>\r\nTo: Bob", 1))
	require.ErrorIs(t, err, cferr.New(cferr.DKIMError, cferr.SignatureInvalid))
}

func TestVerifyKeyProblems(t *testing.T) {
	k := testKeys(t)
	s, err := NewSigner("example.org", "sel", k.rsa)
	require.NoError(t, err)
	clk := newFakeClock()
	s.Clock = clk
	s.Expiration = time.Hour
	signed := signMessage(t, s, testMessage)

	verify := func(zone records) error {
		v := &Verifier{Locator: TXTLocator{Lookup: zone.lookup}, Clock: clk}
		vers, err := v.Verify(context.Background(), strings.NewReader(signed))
		require.NoError(t, err)
		require.Len(t, vers, 1)
		return vers[0].Err
	}

	err = verify(records{})
	require.ErrorIs(t, err, cferr.New(cferr.DKIMError, cferr.KeyLookupFailed))

	wrongType := records{}
	wrongType.publish(t, "example.org", "sel", k.ed25519.Public())
	err = verify(wrongType)
	require.True(t, cferr.IsUnsupported(err), "%v", err)

	rsaRecord, err := FormatKeyRecord(k.rsa.Public())
	require.NoError(t, err)
	err = verify(records{"sel._domainkey.example.org": {rsaRecord + "; h=sha1"}})
	require.True(t, cferr.IsUnsupported(err), "%v", err)

	err = verify(records{"sel._domainkey.example.org": {"v=DKIM1; p="}})
	require.True(t, cferr.IsParse(err), "%v", err)

	good := records{}
	good.publish(t, "example.org", "sel", k.rsa.Public())
	require.NoError(t, verify(good))
	clk.Add(2 * time.Hour)
	err = verify(good)
	require.ErrorIs(t, err, cferr.New(cferr.DKIMError, cferr.SignatureInvalid))
}

func TestVerifyMalformedSignatures(t *testing.T) {
	zone := records{}
	locator := TXTLocator{Lookup: zone.lookup}
	body := "From: a@example.org\r\n\r\nbody\r\n"

	tests := []string{
		"v=1; a=rsa-sha256; d=example.org; s=sel; h=from; bh=AAAA",
		"v=2; a=rsa-sha256; d=example.org; s=sel; h=from; bh=AAAA; b=AAAA",
		"v=1; a=rsa-sha256; c=fancy; d=example.org; s=sel; h=from; bh=AAAA; b=AAAA",
		"v=1; a=rsa-sha256; d=example.org; s=sel; h=subject; bh=AAAA; b=AAAA",
		"v=1; a=rsa-sha256; d=example.org; i=a@example.com; s=sel; h=from; bh=AAAA; b=AAAA",
	}
	for _, sig := range tests {
		vers, err := Verify(context.Background(), locator, strings.NewReader(SignatureHeader+": "+sig+"\r\n"+body))
		require.NoError(t, err)
		require.Len(t, vers, 1)
		require.True(t, cferr.IsParse(vers[0].Err), "%s: %v", sig, vers[0].Err)
	}

	vers, err := Verify(context.Background(), locator, strings.NewReader(
		SignatureHeader+": v=1; a=rsa-sha1; d=example.org; s=sel; h=from; bh=AAAA; b=AAAA\r\n"+body))
	require.NoError(t, err)
	require.True(t, cferr.IsUnsupported(vers[0].Err), "%v", vers[0].Err)
}

func TestVerifyUnsigned(t *testing.T) {
	vers, err := Verify(context.Background(), TXTLocator{Lookup: records{}.lookup}, strings.NewReader(testMessage))
	require.NoError(t, err)
	require.Empty(t, vers)

	_, err = Verify(context.Background(), nil, strings.NewReader(testMessage))
	require.True(t, cferr.IsArgument(err))
}

func TestVerifyMaxSignatures(t *testing.T) {
	k := testKeys(t)
	zone := records{}
	zone.publish(t, "example.org", "sel", k.rsa.Public())
	s, err := NewSigner("example.org", "sel", k.rsa)
	require.NoError(t, err)
	signed := signMessage(t, s, signMessage(t, s, testMessage))

	v := &Verifier{Locator: TXTLocator{Lookup: zone.lookup}}
	vers, err := v.Verify(context.Background(), strings.NewReader(signed))
	require.NoError(t, err)
	require.Len(t, vers, 2)

	v.MaxSignatures = 1
	vers, err = v.Verify(context.Background(), strings.NewReader(signed))
	require.NoError(t, err)
	require.Len(t, vers, 1)
	require.NoError(t, vers[0].Err)
}
