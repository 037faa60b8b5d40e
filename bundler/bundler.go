// Package bundler builds and validates certificate chains from a leaf
// certificate to a trust anchor, rejecting paths that contain a
// revoked certificate.
package bundler

import (
	"context"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudflare/cfsmime/certdb"
	cferr "github.com/cloudflare/cfsmime/errors"
	"github.com/cloudflare/cfsmime/helpers"
	"github.com/cloudflare/cfsmime/log"
	"github.com/cloudflare/cfsmime/revoke"
	"github.com/jmhodges/clock"
)

// Bits of BundleStatus.Code.
const (
	// BundleExpiringBit is set when a certificate of the chain expires
	// within ExpiringWindow of the validation instant.
	BundleExpiringBit = 1 << iota
	// BundleRevocationUncheckedBit is set when the bundler has no
	// revocation checker.
	BundleRevocationUncheckedBit
)

// ExpiringWindow is how close to expiry a chain certificate must be to
// be reported in BundleStatus.ExpiringSKIs.
var ExpiringWindow = 30 * 24 * time.Hour

// BundleStatus describes the condition of a bundle.
type BundleStatus struct {
	Code         int      `json:"code"`
	ExpiringSKIs []string `json:"expiring_SKIs"`
	Messages     []string `json:"messages"`
}

// A Bundle contains a certificate and its trust chain.
type Bundle struct {
	Chain   []*x509.Certificate
	Cert    *x509.Certificate
	Root    *x509.Certificate
	Expires time.Time
	// At is the instant the chain was validated for.
	At     time.Time
	Status *BundleStatus
}

// A Bundler contains the certificate pools for producing certificate
// bundles. Anchors are trusted without a signature check; Intermediates
// may be used to build a path but confer no trust.
type Bundler struct {
	Anchors       []*x509.Certificate
	Intermediates []*x509.Certificate
	Checker       *revoke.Checker
	Clock         clock.Clock
}

// NewBundler returns a bundler over the given pools using the wall clock.
func NewBundler(anchors, intermediates []*x509.Certificate, checker *revoke.Checker) *Bundler {
	return &Bundler{Anchors: anchors, Intermediates: intermediates, Checker: checker, Clock: clock.New()}
}

// FromRecords splits certificate records into the trust anchors and the
// CA certificates usable as intermediates.
func FromRecords(recs []*certdb.CertificateRecord) (anchors, intermediates []*x509.Certificate, err error) {
	for _, rec := range recs {
		cert, err := rec.X509()
		if err != nil {
			return nil, nil, err
		}
		switch {
		case rec.IsAnchor():
			anchors = append(anchors, cert)
		case cert.IsCA:
			intermediates = append(intermediates, cert)
		}
	}
	return anchors, intermediates, nil
}

func pool(certs []*x509.Certificate) *x509.CertPool {
	p := x509.NewCertPool()
	for _, c := range certs {
		p.AddCert(c)
	}
	return p
}

// Bundle validates leaf at the given instant and returns the first
// valid path without a revoked certificate. A zero instant means now.
func (b *Bundler) Bundle(ctx context.Context, leaf *x509.Certificate, at time.Time) (*Bundle, error) {
	if leaf == nil {
		return nil, cferr.New(cferr.ArgumentError, cferr.NullArgument)
	}
	if at.IsZero() {
		if b.Clock != nil {
			at = b.Clock.Now()
		} else {
			at = time.Now()
		}
	}
	if len(b.Anchors) == 0 {
		return nil, cferr.Wrap(cferr.RootError, cferr.NotFound, fmt.Errorf("no trust anchors"))
	}

	log.Debugf("bundling %s at %s", leaf.Subject, at)
	chains, err := leaf.Verify(x509.VerifyOptions{
		Roots:         pool(b.Anchors),
		Intermediates: pool(b.Intermediates),
		CurrentTime:   at,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err != nil {
		return nil, cferr.Wrap(cferr.CertificateError, cferr.VerifyFailed, err)
	}

	var lastErr error
	for _, chain := range chains {
		if err := b.checkRevocation(ctx, chain, at); err != nil {
			if errors.Is(err, errRevoked) {
				lastErr = err
				continue
			}
			return nil, err
		}
		return b.newBundle(chain, at), nil
	}
	return nil, lastErr
}

var errRevoked = cferr.New(cferr.CertificateError, cferr.Revoked)

func (b *Bundler) checkRevocation(ctx context.Context, chain []*x509.Certificate, at time.Time) error {
	if b.Checker == nil {
		return nil
	}
	for i := 0; i+1 < len(chain); i++ {
		revoked, err := b.Checker.Check(ctx, chain[i], chain[i+1], at)
		if err != nil {
			return err
		}
		if revoked {
			log.Infof("path through %s rejected: %s is revoked", chain[len(chain)-1].Subject, chain[i].Subject)
			return cferr.Wrap(cferr.CertificateError, cferr.Revoked,
				fmt.Errorf("certificate %s (serial %s) is revoked", chain[i].Subject, chain[i].SerialNumber))
		}
	}
	return nil
}

func (b *Bundler) newBundle(chain []*x509.Certificate, at time.Time) *Bundle {
	status := &BundleStatus{ExpiringSKIs: []string{}, Messages: []string{}}
	for _, c := range chain {
		if c.NotAfter.Sub(at) < ExpiringWindow {
			status.Code |= BundleExpiringBit
			status.ExpiringSKIs = append(status.ExpiringSKIs, strings.ToUpper(hex.EncodeToString(helpers.SubjectKeyID(c))))
			status.Messages = append(status.Messages, fmt.Sprintf("%s expires at %s", c.Subject, c.NotAfter))
		}
	}
	if b.Checker == nil {
		status.Code |= BundleRevocationUncheckedBit
		status.Messages = append(status.Messages, "revocation was not checked")
	}
	return &Bundle{
		Chain:   chain,
		Cert:    chain[0],
		Root:    chain[len(chain)-1],
		Expires: *helpers.ExpiryTime(chain),
		At:      at,
		Status:  status,
	}
}
