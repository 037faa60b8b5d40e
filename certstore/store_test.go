package certstore

import (
	"bytes"
	"context"
	"crypto/x509"
	"os"
	"path/filepath"
	"testing"

	cferr "github.com/cloudflare/cfsmime/errors"
	"github.com/cloudflare/cfsmime/helpers"
	"github.com/cloudflare/cfsmime/helpers/testsuite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImportFilesAndRemove(t *testing.T) {
	ctx := context.Background()
	ids, err := testsuite.CreateCertificateChain(2, "erin@example.com")
	require.NoError(t, err)

	dir := t.TempDir()
	var paths []string
	for i, id := range ids {
		path := filepath.Join(dir, "cert"+string(rune('a'+i))+".crt")
		data := id.Certificate.Raw
		if i%2 == 1 {
			data = id.CertificatePEM()
		}
		require.NoError(t, os.WriteFile(path, data, 0600))
		paths = append(paths, path)
	}

	s := NewMemoryStore()
	for _, p := range paths {
		n, err := ImportFile(ctx, s, p, "")
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	}
	require.Equal(t, len(ids), s.Count())

	for _, id := range ids {
		found, err := s.Find(ctx, ByFingerprint(helpers.Fingerprint(id.Certificate)))
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.True(t, found[0].Equal(id.Certificate))
	}
	for _, id := range ids {
		require.NoError(t, s.Remove(ctx, id.Certificate))
	}
	assert.Equal(t, 0, s.Count())
}

func TestAddIsIdempotent(t *testing.T) {
	ctx := context.Background()
	certs := testChain(t)
	s := NewMemoryStore()
	require.NoError(t, s.AddRange(ctx, certs))
	require.NoError(t, s.AddRange(ctx, certs))
	assert.Equal(t, len(certs), s.Count())

	all, err := s.Find(ctx, nil)
	require.NoError(t, err)
	for i := range certs {
		assert.True(t, all[i].Equal(certs[i]))
	}

	require.NoError(t, s.RemoveRange(ctx, certs[:2]))
	assert.Equal(t, len(certs)-2, s.Count())
	require.NoError(t, s.Remove(ctx, certs[0]))
	assert.Equal(t, len(certs)-2, s.Count())
}

func TestStoreArgumentErrors(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	assert.True(t, cferr.IsArgument(s.Add(ctx, nil)))
	assert.True(t, cferr.IsArgument(s.Remove(ctx, nil)))
	assert.True(t, cferr.IsArgument(s.AddRange(ctx, []*x509.Certificate{nil})))
	assert.True(t, cferr.IsArgument(s.RemoveRange(ctx, []*x509.Certificate{nil})))
	_, err := s.PrivateKey(ctx, nil)
	assert.True(t, cferr.IsArgument(err))
	assert.True(t, cferr.IsArgument(s.AddPrivateKey(ctx, nil, nil)))
	_, err = ImportReader(ctx, s, nil, "")
	assert.True(t, cferr.IsArgument(err))
	assert.Equal(t, 0, s.Count())
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewMemoryStore()
	certs := testChain(t)
	assert.ErrorIs(t, s.AddRange(ctx, certs), context.Canceled)
	assert.Equal(t, 0, s.Count())
}

func TestPrivateKeys(t *testing.T) {
	ctx := context.Background()
	ids, err := testsuite.CreateCertificateChain(0, "frank@example.com")
	require.NoError(t, err)
	leaf, root := ids[0], ids[1]

	s := NewMemoryStore()
	err = s.AddPrivateKey(ctx, leaf.Certificate, root.Key)
	assert.True(t, cferr.IsKeyMismatch(err))
	assert.Equal(t, 0, s.Count())

	require.NoError(t, s.AddPrivateKey(ctx, leaf.Certificate, leaf.Key))
	require.NoError(t, s.Add(ctx, root.Certificate))

	key, err := s.PrivateKey(ctx, leaf.Certificate)
	require.NoError(t, err)
	assert.Equal(t, leaf.Key, key)

	_, err = s.PrivateKey(ctx, root.Certificate)
	assert.True(t, cferr.IsNotFound(err))
}

func TestImportPKCS12(t *testing.T) {
	ctx := context.Background()
	ids, err := testsuite.CreateCertificateChain(1, "grace@example.com")
	require.NoError(t, err)
	p12, err := ids[0].PKCS12("secret", ids[1].Certificate, ids[2].Certificate)
	require.NoError(t, err)

	s := NewMemoryStore()
	_, err = s.Import(ctx, p12, "wrong")
	require.Error(t, err)

	n, err := s.Import(ctx, p12, "secret")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, s.Count())

	key, err := s.PrivateKey(ctx, ids[0].Certificate)
	require.NoError(t, err)
	require.NoError(t, helpers.CheckKeyPair(ids[0].Certificate, key))
}

func TestImportPEMBundleWithKey(t *testing.T) {
	ctx := context.Background()
	ids, err := testsuite.CreateCertificateChain(0, "heidi@example.com")
	require.NoError(t, err)
	keyPEM, err := ids[0].KeyPEM()
	require.NoError(t, err)

	var bundle bytes.Buffer
	bundle.Write(ids[1].CertificatePEM())
	bundle.Write(keyPEM)
	bundle.Write(ids[0].CertificatePEM())

	entries, err := Decode(bundle.Bytes(), "")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Nil(t, entries[0].Key)
	assert.NotNil(t, entries[1].Key)

	// A key without its certificate is rejected.
	_, err = Decode(append(ids[1].CertificatePEM(), keyPEM...), "")
	assert.True(t, cferr.IsKeyMismatch(err))

	s := NewMemoryStore()
	n, err := ImportReader(ctx, s, &bundle, "")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestDecodeFormats(t *testing.T) {
	ids, err := testsuite.CreateCertificateChain(1, "ivan@example.com")
	require.NoError(t, err)
	certs := testsuite.Certificates(ids...)

	var der []byte
	for _, c := range certs {
		der = append(der, c.Raw...)
	}
	entries, err := Decode(der, "")
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	entries, err = Decode(certs[0].Raw, "")
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	empty, err := Encode(nil, "")
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = Decode([]byte("   "), "")
	assert.True(t, cferr.IsParse(err))
	_, err = Decode([]byte("-----BEGIN CERTIFICATE-----\nnot base64\n-----END CERTIFICATE-----\n"), "")
	assert.Error(t, err)
}

func TestExportRoundTrip(t *testing.T) {
	ctx := context.Background()
	ids, err := testsuite.CreateCertificateChain(1, "judy@example.com")
	require.NoError(t, err)

	s := NewMemoryStore()
	require.NoError(t, s.AddPrivateKey(ctx, ids[0].Certificate, ids[0].Key))
	require.NoError(t, s.AddRange(ctx, testsuite.Certificates(ids[1:]...)))

	der, err := s.Export(ctx, nil, "")
	require.NoError(t, err)
	certs, err := x509.ParseCertificates(der)
	require.NoError(t, err)
	assert.Len(t, certs, 3)

	p12Path := filepath.Join(t.TempDir(), "export.p12")
	require.NoError(t, ExportFile(ctx, s, p12Path, nil, "pw"))

	restored := NewMemoryStore()
	n, err := ImportFile(ctx, restored, p12Path, "pw")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	_, err = restored.PrivateKey(ctx, ids[0].Certificate)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, ExportWriter(ctx, s, &out, BySubjectEmail("judy@example.com"), ""))
	assert.Equal(t, ids[0].Certificate.Raw, out.Bytes())

	// Two keys cannot be written to one PKCS #12 file.
	require.NoError(t, s.AddPrivateKey(ctx, ids[1].Certificate, ids[1].Key))
	_, err = s.Export(ctx, nil, "pw")
	assert.True(t, cferr.IsArgument(err))
}

// countdownContext reports cancellation once Err has been asked left times.
type countdownContext struct {
	context.Context
	left int
}

func (c *countdownContext) Err() error {
	if c.left <= 0 {
		return context.Canceled
	}
	c.left--
	return nil
}

func TestImportIsAllOrNothing(t *testing.T) {
	ids, err := testsuite.CreateCertificateChain(1, "judy@example.com")
	require.NoError(t, err)
	p12, err := ids[0].PKCS12("secret", ids[1].Certificate, ids[2].Certificate)
	require.NoError(t, err)

	s := NewMemoryStore()
	_, err = s.Import(&countdownContext{Context: context.Background()}, p12, "secret")
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, s.Count())

	// Cancellation after the import started does not interrupt it.
	n, err := s.Import(&countdownContext{Context: context.Background(), left: 1}, p12, "secret")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, s.Count())

	// A bad entry anywhere in the list keeps the others out.
	s = NewMemoryStore()
	entries := []Entry{
		{Certificate: ids[2].Certificate},
		{Certificate: ids[1].Certificate},
		{Certificate: ids[0].Certificate, Key: ids[1].Key},
	}
	_, err = s.addEntries(context.Background(), entries)
	assert.True(t, cferr.IsKeyMismatch(err))
	assert.Equal(t, 0, s.Count())

	_, err = s.addEntries(context.Background(), []Entry{{Certificate: ids[2].Certificate}, {}})
	assert.True(t, cferr.IsArgument(err))
	assert.Equal(t, 0, s.Count())
}
