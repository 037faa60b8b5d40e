package dkim

import (
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"testing"

	cferr "github.com/cloudflare/cfsmime/errors"
	"github.com/stretchr/testify/require"
)

func TestParseKeyRecord(t *testing.T) {
	keys := testKeys(t)

	rsaRecord, err := FormatKeyRecord(keys.rsa.Public())
	require.NoError(t, err)
	rec, err := ParseKeyRecord(rsaRecord)
	require.NoError(t, err)
	require.Equal(t, KeyTypeRSA, rec.KeyType)
	require.True(t, keys.rsa.PublicKey.Equal(rec.PublicKey))
	require.True(t, rec.AllowsHash("sha256"))
	require.True(t, rec.AllowsEmail())
	require.False(t, rec.Testing())

	edRecord, err := FormatKeyRecord(keys.ed25519.Public())
	require.NoError(t, err)
	rec, err = ParseKeyRecord(edRecord)
	require.NoError(t, err)
	require.Equal(t, KeyTypeEd25519, rec.KeyType)
	require.Equal(t, keys.ed25519.Public(), rec.PublicKey)
}

func TestParseKeyRecordTags(t *testing.T) {
	keys := testKeys(t)
	der, err := x509.MarshalPKIXPublicKey(keys.rsa.Public())
	require.NoError(t, err)
	p := base64.StdEncoding.EncodeToString(der)

	// Without k= the key is RSA; p= may be folded.
	rec, err := ParseKeyRecord("h=sha256:sha1; s=email; t=y:s; n=notes; p=" + p[:20] + " \t" + p[20:])
	require.NoError(t, err)
	require.Equal(t, KeyTypeRSA, rec.KeyType)
	require.Equal(t, []string{"sha256", "sha1"}, rec.HashAlgorithms)
	require.True(t, rec.AllowsHash("SHA256"))
	require.False(t, rec.AllowsHash("sha512"))
	require.Equal(t, []string{"email"}, rec.Services)
	require.True(t, rec.Testing())
	require.True(t, rec.StrictIdentity())
	require.Equal(t, "notes", rec.Notes)

	rec, err = ParseKeyRecord("v=DKIM1; s=*; p=" + base64.StdEncoding.EncodeToString(x509.MarshalPKCS1PublicKey(&keys.rsa.PublicKey)))
	require.NoError(t, err)
	require.IsType(t, &rsa.PublicKey{}, rec.PublicKey)
	require.True(t, rec.AllowsEmail())

	rec, err = ParseKeyRecord("v=DKIM1; s=other; p=" + p)
	require.NoError(t, err)
	require.False(t, rec.AllowsEmail())
}

func TestParseKeyRecordErrors(t *testing.T) {
	keys := testKeys(t)
	edKey := base64.StdEncoding.EncodeToString(keys.ed25519.Public().(ed25519.PublicKey))

	tests := []struct {
		name   string
		record string
	}{
		{"empty", ""},
		{"whitespace only", " \t "},
		{"no p tag", "v=DKIM1; k=rsa"},
		{"revoked key", "v=DKIM1; p="},
		{"bad base64", "v=DKIM1; p=!!!"},
		{"unknown key type", "v=DKIM1; k=dsa; p=" + edKey},
		{"wrong version", "v=DKIM2; k=ed25519; p=" + edKey},
		{"short ed25519 key", "k=ed25519; p=" + base64.StdEncoding.EncodeToString([]byte("short"))},
		{"ed25519 key as rsa", "k=rsa; p=" + edKey},
		{"duplicate tag", "k=ed25519; k=ed25519; p=" + edKey},
		{"tag without value", "k; p=" + edKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseKeyRecord(tt.record)
			require.Error(t, err)
			require.True(t, cferr.IsParse(err), "%v", err)
			require.ErrorIs(t, err, cferr.New(cferr.DKIMError, cferr.ParseFailed))
		})
	}
}
