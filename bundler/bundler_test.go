package bundler

import (
	"context"
	"crypto/rand"
	"crypto/x509"
	"math/big"
	"testing"
	"time"

	"github.com/cloudflare/cfsmime/certdb"
	cferr "github.com/cloudflare/cfsmime/errors"
	"github.com/cloudflare/cfsmime/helpers/testsuite"
	"github.com/cloudflare/cfsmime/revoke"
	"github.com/jmhodges/clock"
	"github.com/stretchr/testify/require"
)

type pki struct {
	root, inter, leaf *testsuite.Identity
	crls              *revoke.CRLSet
	clk               clock.FakeClock
	bundler           *Bundler
}

func newPKI(t *testing.T) *pki {
	chain, err := testsuite.CreateCertificateChain(1, "erin@example.com")
	require.NoError(t, err)
	clk := clock.NewFake()
	clk.Set(time.Now())
	p := &pki{leaf: chain[0], inter: chain[1], root: chain[2], crls: revoke.NewCRLSet(), clk: clk}
	p.bundler = &Bundler{
		Anchors:       []*x509.Certificate{p.root.Certificate},
		Intermediates: []*x509.Certificate{p.inter.Certificate},
		Checker:       &revoke.Checker{Source: p.crls, Clock: clk},
		Clock:         clk,
	}
	return p
}

func (p *pki) revoke(t *testing.T, issuer *testsuite.Identity, serials ...*big.Int) {
	now := p.clk.Now()
	der, err := issuer.CRL(1, now.Add(-time.Minute), now.Add(time.Hour), serials...)
	require.NoError(t, err)
	_, err = p.crls.Add(der)
	require.NoError(t, err)
}

func TestBundle(t *testing.T) {
	p := newPKI(t)
	b, err := p.bundler.Bundle(context.Background(), p.leaf.Certificate, time.Time{})
	require.NoError(t, err)
	require.Len(t, b.Chain, 3)
	require.True(t, b.Cert.Equal(p.leaf.Certificate))
	require.True(t, b.Root.Equal(p.root.Certificate))
	require.False(t, b.Expires.After(p.leaf.Certificate.NotAfter))

	// testsuite certificates live for an hour.
	require.NotZero(t, b.Status.Code&BundleExpiringBit)
	require.Len(t, b.Status.ExpiringSKIs, 3)
	require.Zero(t, b.Status.Code&BundleRevocationUncheckedBit)
}

func TestBundleRevokedLeaf(t *testing.T) {
	p := newPKI(t)
	p.revoke(t, p.inter, p.leaf.Certificate.SerialNumber)

	_, err := p.bundler.Bundle(context.Background(), p.leaf.Certificate, time.Time{})
	require.ErrorIs(t, err, cferr.New(cferr.CertificateError, cferr.Revoked))

	// Before the CRL was issued the chain is fine.
	_, err = p.bundler.Bundle(context.Background(), p.leaf.Certificate, p.clk.Now().Add(-10*time.Minute))
	require.NoError(t, err)
}

func TestBundleRevokedIntermediateTriesNextPath(t *testing.T) {
	p := newPKI(t)
	p.revoke(t, p.root, p.inter.Certificate.SerialNumber)

	_, err := p.bundler.Bundle(context.Background(), p.leaf.Certificate, time.Time{})
	require.ErrorIs(t, err, cferr.New(cferr.CertificateError, cferr.Revoked))

	// Cross-sign the intermediate's key under a second anchor.
	other, err := testsuite.NewRootCA("Other Root")
	require.NoError(t, err)
	tmpl := *p.inter.Certificate
	tmpl.SerialNumber = big.NewInt(time.Now().UnixNano())
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, other.Certificate, p.inter.Key.Public(), other.Key)
	require.NoError(t, err)
	cross, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	p.bundler.Anchors = append(p.bundler.Anchors, other.Certificate)
	p.bundler.Intermediates = append(p.bundler.Intermediates, cross)

	b, err := p.bundler.Bundle(context.Background(), p.leaf.Certificate, time.Time{})
	require.NoError(t, err)
	require.True(t, b.Root.Equal(other.Certificate))
	require.True(t, b.Chain[1].Equal(cross))
}

func TestBundleErrors(t *testing.T) {
	p := newPKI(t)
	ctx := context.Background()

	_, err := p.bundler.Bundle(ctx, nil, time.Time{})
	require.True(t, cferr.IsArgument(err))

	_, err = p.bundler.Bundle(ctx, p.leaf.Certificate, p.clk.Now().Add(24*time.Hour))
	var e *cferr.Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, cferr.CertificateError, e.Category())
	require.Equal(t, cferr.VerifyFailed, e.Reason())

	stranger, err := testsuite.NewRootCA("Stranger")
	require.NoError(t, err)
	_, err = NewBundler([]*x509.Certificate{stranger.Certificate}, nil, nil).Bundle(ctx, p.leaf.Certificate, time.Time{})
	require.Error(t, err)

	_, err = NewBundler(nil, nil, nil).Bundle(ctx, p.leaf.Certificate, time.Time{})
	require.Error(t, err)
}

func TestBundleWithoutChecker(t *testing.T) {
	p := newPKI(t)
	p.revoke(t, p.inter, p.leaf.Certificate.SerialNumber)

	b, err := NewBundler(p.bundler.Anchors, p.bundler.Intermediates, nil).Bundle(context.Background(), p.leaf.Certificate, time.Time{})
	require.NoError(t, err)
	require.NotZero(t, b.Status.Code&BundleRevocationUncheckedBit)
}

func TestFromRecords(t *testing.T) {
	p := newPKI(t)
	var recs []*certdb.CertificateRecord
	for _, id := range []*testsuite.Identity{p.leaf, p.inter, p.root} {
		rec, err := certdb.NewCertificateRecord(id.Certificate, nil, id == p.root)
		require.NoError(t, err)
		recs = append(recs, rec)
	}
	anchors, inters, err := FromRecords(recs)
	require.NoError(t, err)
	require.Len(t, anchors, 1)
	require.True(t, anchors[0].Equal(p.root.Certificate))
	require.Len(t, inters, 1)
	require.True(t, inters[0].Equal(p.inter.Certificate))
}
