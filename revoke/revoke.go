// Package revoke provides functionality for checking the validity of
// a cert. Specifically, the temporal validity of the certificate is
// checked first, then the CRLs of its issuer are consulted. OCSP is not
// supported at this time.
package revoke

import (
	"context"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cloudflare/cfsmime/certdb"
	"github.com/cloudflare/cfsmime/crl"
	cferr "github.com/cloudflare/cfsmime/errors"
	"github.com/cloudflare/cfsmime/log"
	"github.com/jmhodges/clock"
)

// Source supplies the CRLs of an issuer, most recent thisUpdate first.
// certdb.Accessor implementations satisfy it.
type Source interface {
	FindCRLs(ctx context.Context, issuer string, fields certdb.Fields) ([]*certdb.CRLRecord, error)
}

// CRLSet is an in-memory Source.
type CRLSet struct {
	mu   sync.RWMutex
	crls map[string][]*certdb.CRLRecord
}

// NewCRLSet returns an empty CRLSet.
func NewCRLSet() *CRLSet {
	return &CRLSet{crls: map[string][]*certdb.CRLRecord{}}
}

// Add parses and stores a DER or PEM encoded CRL.
func (s *CRLSet) Add(der []byte) (*certdb.CRLRecord, error) {
	rec, err := crl.NewRecord(der)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, old := range s.crls[rec.Issuer] {
		if string(old.CRL) == string(rec.CRL) {
			return old, nil
		}
	}
	rec.ID = int64(len(s.crls[rec.Issuer]) + 1)
	list := append(s.crls[rec.Issuer], rec)
	// Keep most recent first.
	for i := len(list) - 1; i > 0 && list[i].ThisUpdate.After(list[i-1].ThisUpdate); i-- {
		list[i], list[i-1] = list[i-1], list[i]
	}
	s.crls[rec.Issuer] = list
	return rec, nil
}

// FindCRLs implements Source.
func (s *CRLSet) FindCRLs(ctx context.Context, issuer string, fields certdb.Fields) ([]*certdb.CRLRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*certdb.CRLRecord, len(s.crls[issuer]))
	copy(out, s.crls[issuer])
	return out, nil
}

// NextUpdate returns the latest nextUpdate of the issuer's CRLs, or
// certdb.Never.
func (s *CRLSet) NextUpdate(issuer string) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	next := certdb.Never
	for _, rec := range s.crls[issuer] {
		if rec.NextUpdate.Valid && rec.NextUpdate.Time.After(next) {
			next = rec.NextUpdate.Time
		}
	}
	return next
}

// Checker checks certificates against the CRLs of a Source.
type Checker struct {
	Source Source
	Clock  clock.Clock
}

// NewChecker returns a Checker over src using the wall clock.
func NewChecker(src Source) *Checker {
	return &Checker{Source: src, Clock: clock.New()}
}

func (c *Checker) now() time.Time {
	if c.Clock == nil {
		return time.Now()
	}
	return c.Clock.Now()
}

// applicable returns the CRLs of issuer that are signed by it and
// already issued at the given instant: the most recent complete CRL
// followed by the delta CRLs issued after it.
func (c *Checker) applicable(ctx context.Context, issuer *x509.Certificate, at time.Time) ([]*x509.RevocationList, error) {
	recs, err := c.Source.FindCRLs(ctx, issuer.Subject.String(), certdb.FieldCRL)
	if err != nil {
		return nil, err
	}
	var base *x509.RevocationList
	var deltas []*x509.RevocationList
	for _, rec := range recs {
		if rec.ThisUpdate.After(at) {
			continue
		}
		rl, err := rec.RevocationList()
		if err != nil {
			log.Warningf("skipping unreadable CRL of %s: %v", rec.Issuer, err)
			continue
		}
		if err := rl.CheckSignatureFrom(issuer); err != nil {
			log.Warningf("skipping CRL of %s not signed by the issuer: %v", rec.Issuer, err)
			continue
		}
		if rec.Delta {
			deltas = append(deltas, rl)
			continue
		}
		if base == nil || rl.ThisUpdate.After(base.ThisUpdate) {
			base = rl
		}
	}
	if base == nil {
		return nil, nil
	}
	out := []*x509.RevocationList{base}
	for _, d := range deltas {
		if !d.ThisUpdate.Before(base.ThisUpdate) {
			out = append(out, d)
		}
	}
	return out, nil
}

// Check reports whether cert appears on an applicable CRL of issuer at
// the given instant; a zero instant means now. A CRL past its
// nextUpdate is still consulted and logged as stale.
func (c *Checker) Check(ctx context.Context, cert, issuer *x509.Certificate, at time.Time) (revoked bool, err error) {
	if cert == nil || issuer == nil {
		return false, cferr.New(cferr.ArgumentError, cferr.NullArgument)
	}
	if c.Source == nil {
		return false, nil
	}
	if at.IsZero() {
		at = c.now()
	}
	skipLDAP(cert)

	rls, err := c.applicable(ctx, issuer, at)
	if err != nil {
		return false, err
	}
	for _, rl := range rls {
		if !rl.NextUpdate.IsZero() && rl.NextUpdate.Before(at) {
			log.Warningf("CRL of %s is stale: nextUpdate %s is before %s", rl.Issuer, rl.NextUpdate, at)
		}
		for _, entry := range rl.RevokedCertificateEntries {
			if cert.SerialNumber.Cmp(entry.SerialNumber) == 0 {
				log.Infof("serial number %s of %s is revoked", cert.SerialNumber, cert.Subject)
				return true, nil
			}
		}
	}
	return false, nil
}

// VerifyCertificate ensures that the certificate passed in is valid at
// the given instant and is not revoked by its issuer.
func (c *Checker) VerifyCertificate(ctx context.Context, cert, issuer *x509.Certificate, at time.Time) error {
	if cert == nil || issuer == nil {
		return cferr.New(cferr.ArgumentError, cferr.NullArgument)
	}
	if at.IsZero() {
		at = c.now()
	}
	if at.After(cert.NotAfter) {
		log.Infof("Certificate expired %s", cert.NotAfter)
		return cferr.New(cferr.CertificateError, cferr.Expired)
	} else if at.Before(cert.NotBefore) {
		log.Infof("Certificate isn't valid until %s", cert.NotBefore)
		return cferr.New(cferr.CertificateError, cferr.Expired)
	}

	revoked, err := c.Check(ctx, cert, issuer, at)
	if err != nil {
		return err
	}
	if revoked {
		return cferr.New(cferr.CertificateError, cferr.Revoked)
	}
	return nil
}

// We can't fetch LDAP CRLs, so their distribution points are only logged.
func skipLDAP(cert *x509.Certificate) {
	for _, dp := range cert.CRLDistributionPoints {
		if !isLDAP(dp) {
			continue
		}
		u, err := ParseLDAPURL(dp)
		if err != nil {
			log.Warningf("invalid LDAP CRL distribution point %s: %v", dp, err)
			continue
		}
		log.Debugf("skipping LDAP CRL of %s at %s:%d", u.DistinguishedName, u.Host, u.Port)
	}
}

func isLDAP(url string) bool {
	lower := strings.ToLower(url)
	return strings.HasPrefix(lower, "ldap://") || strings.HasPrefix(lower, "ldaps://")
}

// FetchCRL fetches a CRL from an HTTP distribution point and returns
// its DER encoding.
func FetchCRL(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	if isLDAP(url) {
		return nil, cferr.Wrap(cferr.CRLError, cferr.ReadFailed, fmt.Errorf("cannot fetch LDAP CRL %s", url))
	}
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, cferr.Wrap(cferr.ArgumentError, cferr.InvalidArgument, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, cferr.Wrap(cferr.CRLError, cferr.ReadFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, cferr.Wrap(cferr.CRLError, cferr.ReadFailed, fmt.Errorf("failed to retrieve CRL: %s", resp.Status))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, cferr.Wrap(cferr.CRLError, cferr.ReadFailed, err)
	}
	rl, err := crl.Parse(body)
	if err != nil {
		return nil, err
	}
	return rl.Raw, nil
}
