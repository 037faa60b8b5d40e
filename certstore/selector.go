package certstore

import (
	"bytes"
	"crypto/x509"
	"math/big"
	"strings"
	"time"

	"github.com/cloudflare/cfsmime/helpers"
)

// Selector holds optional criteria for certificate queries. A zero
// field leaves that property unconstrained, and a nil *Selector
// matches every certificate.
type Selector struct {
	// Fingerprint is compared case-insensitively with helpers.Fingerprint.
	Fingerprint string
	// Subject and Issuer are compared case-insensitively with the
	// pkix.Name String form.
	Subject string
	Issuer  string

	SerialNumber         *big.Int
	SubjectKeyIdentifier []byte

	// Email is compared case-insensitively with helpers.EmailAddresses.
	Email string

	// ValidAt requires NotBefore <= ValidAt <= NotAfter.
	ValidAt time.Time

	// BasicConstraints is compared with helpers.BasicConstraints, so
	// helpers.NotCA selects end-entity certificates.
	BasicConstraints *int

	// KeyUsage requires every bit to be set, unless the certificate
	// carries no key usage extension at all.
	KeyUsage x509.KeyUsage
}

// BySubjectEmail returns a selector for certificates of a mailbox.
func BySubjectEmail(email string) *Selector {
	return &Selector{Email: email}
}

// ByFingerprint returns a selector for one certificate.
func ByFingerprint(fp string) *Selector {
	return &Selector{Fingerprint: fp}
}

// Match reports whether cert satisfies every criterion of s.
func (s *Selector) Match(cert *x509.Certificate) bool {
	if cert == nil {
		return false
	}
	if s == nil {
		return true
	}
	if s.Fingerprint != "" && !helpers.FingerprintEqual(s.Fingerprint, helpers.Fingerprint(cert)) {
		return false
	}
	if s.Subject != "" && !strings.EqualFold(s.Subject, cert.Subject.String()) {
		return false
	}
	if s.Issuer != "" && !strings.EqualFold(s.Issuer, cert.Issuer.String()) {
		return false
	}
	if s.SerialNumber != nil && s.SerialNumber.Cmp(cert.SerialNumber) != 0 {
		return false
	}
	if len(s.SubjectKeyIdentifier) > 0 && !bytes.Equal(s.SubjectKeyIdentifier, helpers.SubjectKeyID(cert)) {
		return false
	}
	if s.Email != "" && !hasEmail(cert, s.Email) {
		return false
	}
	if !s.ValidAt.IsZero() && (s.ValidAt.Before(cert.NotBefore) || s.ValidAt.After(cert.NotAfter)) {
		return false
	}
	if s.BasicConstraints != nil && *s.BasicConstraints != helpers.BasicConstraints(cert) {
		return false
	}
	if s.KeyUsage != 0 && cert.KeyUsage != 0 && cert.KeyUsage&s.KeyUsage != s.KeyUsage {
		return false
	}
	return true
}

// Filter returns the certificates of certs matched by s.
func (s *Selector) Filter(certs []*x509.Certificate) []*x509.Certificate {
	var out []*x509.Certificate
	for _, c := range certs {
		if s.Match(c) {
			out = append(out, c)
		}
	}
	return out
}

func hasEmail(cert *x509.Certificate, email string) bool {
	email = strings.ToLower(strings.TrimSpace(email))
	for _, e := range helpers.EmailAddresses(cert) {
		if e == email {
			return true
		}
	}
	return false
}
