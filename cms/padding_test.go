package cms

import (
	"crypto"
	"testing"

	cferr "github.com/cloudflare/cfsmime/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateOAEP(t *testing.T) {
	var tests = []struct {
		hash crypto.Hash
		want *RSAEncryptionPadding
	}{
		{crypto.SHA1, RSAEncryptionPaddingOaepSHA1},
		{crypto.SHA256, RSAEncryptionPaddingOaepSHA256},
		{crypto.SHA384, RSAEncryptionPaddingOaepSHA384},
		{crypto.SHA512, RSAEncryptionPaddingOaepSHA512},
	}
	for _, tc := range tests {
		got, err := CreateOAEP(tc.hash)
		require.NoError(t, err)
		assert.Same(t, tc.want, got)
		assert.Equal(t, tc.hash, got.Hash())
		assert.Equal(t, EncryptionOaep, got.Scheme())

		id, err := got.AlgorithmIdentifier()
		require.NoError(t, err)
		require.NotNil(t, id)
	}

	_, err := CreateOAEP(crypto.MD5)
	require.True(t, cferr.IsUnsupported(err))
}

func TestEncryptionPaddingsDistinct(t *testing.T) {
	seen := map[*RSAEncryptionPadding]bool{}
	for _, p := range encryptionPaddings {
		require.False(t, seen[p], p.String())
		seen[p] = true
	}
	assert.Len(t, seen, 5)
	assert.NotEqual(t, RSAEncryptionPaddingOaepSHA256, RSAEncryptionPaddingOaepSHA384)

	id, err := RSAEncryptionPaddingPkcs1.AlgorithmIdentifier()
	require.NoError(t, err)
	assert.Nil(t, id)
}

func TestParseRSAEncryptionPadding(t *testing.T) {
	p, err := ParseRSAEncryptionPadding("")
	require.NoError(t, err)
	assert.Nil(t, p)

	p, err = ParseRSAEncryptionPadding("OAEP-SHA384")
	require.NoError(t, err)
	assert.Same(t, RSAEncryptionPaddingOaepSHA384, p)

	_, err = ParseRSAEncryptionPadding("oaep-md5")
	require.True(t, cferr.IsUnsupported(err))
}

func TestSignaturePadding(t *testing.T) {
	p, err := RSASignaturePaddingFor(Pss)
	require.NoError(t, err)
	assert.Same(t, RSASignaturePaddingPss, p)

	_, err = RSASignaturePaddingFor(RSASignaturePaddingScheme(7))
	require.True(t, cferr.IsArgument(err))

	p, err = ParseRSASignaturePadding("")
	require.NoError(t, err)
	assert.Same(t, RSASignaturePaddingPkcs1, p)
	_, err = ParseRSASignaturePadding("x931")
	require.True(t, cferr.IsArgument(err))
}

func TestSubjectIdentifierType(t *testing.T) {
	typ, err := ParseSubjectIdentifierType("")
	require.NoError(t, err)
	assert.Equal(t, IssuerAndSerialNumber, typ)
	typ, err = ParseSubjectIdentifierType("subject_key_identifier")
	require.NoError(t, err)
	assert.Equal(t, SubjectKeyIdentifier, typ)
	_, err = ParseSubjectIdentifierType("thumbprint")
	require.True(t, cferr.IsArgument(err))
	assert.False(t, SubjectIdentifierType(5).Valid())
}
