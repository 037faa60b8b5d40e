package certstore

import (
	"crypto/x509"
	"testing"

	cferr "github.com/cloudflare/cfsmime/errors"
	"github.com/cloudflare/cfsmime/helpers/testsuite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testChain(t *testing.T) []*x509.Certificate {
	ids, err := testsuite.CreateCertificateChain(2, "carol@example.com")
	require.NoError(t, err)
	return testsuite.Certificates(ids...)
}

func TestChainMutations(t *testing.T) {
	certs := testChain(t)
	c, err := NewChain(certs[0], certs[1])
	require.NoError(t, err)
	assert.Equal(t, 2, c.Count())

	require.NoError(t, c.Insert(0, certs[3]))
	require.NoError(t, c.Insert(c.Count(), certs[2]))
	assert.Equal(t, 4, c.Count())
	assert.Equal(t, 0, c.IndexOf(certs[3]))
	assert.Equal(t, 3, c.IndexOf(certs[2]))

	got, err := c.Get(1)
	require.NoError(t, err)
	assert.True(t, got.Equal(certs[0]))

	removed, err := c.Remove(certs[3])
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = c.Remove(certs[3])
	require.NoError(t, err)
	assert.False(t, removed)
	assert.False(t, c.Contains(certs[3]))

	require.NoError(t, c.RemoveAt(0))
	assert.Equal(t, 2, c.Count())

	require.NoError(t, c.RemoveRange([]*x509.Certificate{certs[1], certs[2]}))
	assert.Equal(t, 0, c.Count())

	require.NoError(t, c.AddRange(certs))
	assert.Equal(t, len(certs), c.Count())
	assert.Len(t, c.Certificates(), len(certs))
}

func TestChainArgumentErrors(t *testing.T) {
	certs := testChain(t)
	c, err := NewChain(certs...)
	require.NoError(t, err)

	isNull := func(err error) bool {
		return assert.True(t, cferr.IsArgument(err)) && assert.Equal(t, cferr.NullArgument, err.(*cferr.Error).Reason())
	}
	isRange := func(err error) bool {
		return assert.True(t, cferr.IsArgument(err)) && assert.Equal(t, cferr.OutOfRange, err.(*cferr.Error).Reason())
	}

	isNull(c.Add(nil))
	_, err = c.Remove(nil)
	isNull(err)
	isNull(c.Insert(0, nil))
	isNull(c.AddRange([]*x509.Certificate{certs[0], nil}))
	isNull(c.RemoveRange([]*x509.Certificate{nil}))
	isNull(c.CopyTo(nil, 0))
	_, err = NewChain(nil)
	isNull(err)
	assert.Equal(t, len(certs), c.Count())

	isRange(c.Insert(-1, certs[0]))
	isRange(c.Insert(c.Count()+1, certs[0]))
	isRange(c.RemoveAt(c.Count()))
	_, err = c.Get(-1)
	isRange(err)

	dst := make([]*x509.Certificate, c.Count()+1)
	isRange(c.CopyTo(dst, -1))
	isRange(c.CopyTo(dst, 2))
	isRange(c.CopyTo(dst, len(dst)+1))
	require.NoError(t, c.CopyTo(dst, 1))
	assert.Nil(t, dst[0])
	assert.True(t, dst[1].Equal(certs[0]))
	assert.Equal(t, -1, c.IndexOf(nil))
}
