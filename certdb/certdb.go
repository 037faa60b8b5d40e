// Package certdb defines the records and the accessor interface of the
// persistent certificate database: certificates with their trust flag,
// private key and cached S/MIME capabilities, and CRLs.
package certdb

import (
	"context"
	"crypto"
	"crypto/x509"
	"encoding/hex"
	"strings"
	"time"

	"github.com/cloudflare/cfsmime/certstore"
	"github.com/cloudflare/cfsmime/crypto/pkcs7"
	cferr "github.com/cloudflare/cfsmime/errors"
	"github.com/cloudflare/cfsmime/helpers"
	"github.com/cloudflare/cfsmime/helpers/derhelpers"
	"github.com/cloudflare/cfsmime/helpers/null"
)

// Never is the capability timestamp of a certificate whose
// capabilities were never updated, and the next update time of an
// issuer without CRLs.
var Never = time.Unix(0, 0).UTC()

// Fields selects the optional parts of a record that are read or
// written. The identifying and index columns are always included.
type Fields uint

// Record fields.
const (
	FieldCertificate Fields = 1 << iota
	FieldTrusted
	FieldPrivateKey
	FieldAlgorithms
	FieldCRL

	FieldNone Fields = 0
	FieldAll         = FieldCertificate | FieldTrusted | FieldPrivateKey | FieldAlgorithms | FieldCRL
)

// Has reports whether every field of want is set in f.
func (f Fields) Has(want Fields) bool {
	return f&want == want
}

// CertificateRecord encodes a certificate and its metadata
// that will be recorded in a database.
type CertificateRecord struct {
	ID               int64     `db:"id"`
	Trusted          bool      `db:"trusted"`
	Fingerprint      string    `db:"fingerprint"`
	Subject          string    `db:"subject"`
	Issuer           string    `db:"issuer_name"`
	SerialNumber     string    `db:"serial_number"`
	SubjectKeyID     string    `db:"subject_key_identifier"`
	Emails           string    `db:"emails"`
	NotBefore        time.Time `db:"not_before"`
	NotAfter         time.Time `db:"not_after"`
	KeyUsage         int       `db:"key_usage"`
	BasicConstraints int       `db:"basic_constraints"`
	Certificate      []byte    `db:"certificate"`
	PrivateKey       []byte    `db:"private_key"`

	// Algorithms is the peer's S/MIME capability list in preference
	// order and AlgorithmsUpdated the signing time it was taken from.
	Algorithms        []pkcs7.EncryptionAlgorithm `db:"-"`
	AlgorithmsUpdated time.Time                   `db:"-"`
}

// NewCertificateRecord derives a record from cert. key may be nil.
func NewCertificateRecord(cert *x509.Certificate, key crypto.PrivateKey, trusted bool) (*CertificateRecord, error) {
	if cert == nil {
		return nil, cferr.New(cferr.ArgumentError, cferr.NullArgument)
	}
	rec := &CertificateRecord{
		Trusted:           trusted,
		Fingerprint:       helpers.Fingerprint(cert),
		Subject:           cert.Subject.String(),
		Issuer:            cert.Issuer.String(),
		SerialNumber:      cert.SerialNumber.String(),
		SubjectKeyID:      strings.ToUpper(hex.EncodeToString(helpers.SubjectKeyID(cert))),
		Emails:            JoinEmails(helpers.EmailAddresses(cert)),
		NotBefore:         cert.NotBefore.UTC(),
		NotAfter:          cert.NotAfter.UTC(),
		KeyUsage:          int(cert.KeyUsage),
		BasicConstraints:  helpers.BasicConstraints(cert),
		Certificate:       cert.Raw,
		AlgorithmsUpdated: Never,
	}
	if key != nil {
		if err := rec.SetPrivateKey(cert, key); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// JoinEmails encodes addresses for the emails column so that a single
// address can be matched with LIKE '%,address,%'.
func JoinEmails(addrs []string) string {
	if len(addrs) == 0 {
		return ""
	}
	return "," + strings.Join(addrs, ",") + ","
}

// SetPrivateKey stores key after checking that it belongs to cert.
func (r *CertificateRecord) SetPrivateKey(cert *x509.Certificate, key crypto.PrivateKey) error {
	if err := helpers.CheckKeyPair(cert, key); err != nil {
		return err
	}
	der, err := derhelpers.MarshalPrivateKey(key)
	if err != nil {
		return err
	}
	r.PrivateKey = der
	return nil
}

// X509 parses the stored certificate.
func (r *CertificateRecord) X509() (*x509.Certificate, error) {
	if len(r.Certificate) == 0 {
		return nil, cferr.Wrap(cferr.CertStoreError, cferr.RecordNotFound, errNoField("certificate"))
	}
	cert, err := x509.ParseCertificate(r.Certificate)
	if err != nil {
		return nil, cferr.Wrap(cferr.CertificateError, cferr.ParseFailed, err)
	}
	return cert, nil
}

// Key parses the stored private key.
func (r *CertificateRecord) Key() (crypto.PrivateKey, error) {
	if len(r.PrivateKey) == 0 {
		return nil, cferr.New(cferr.PrivateKeyError, cferr.KeyNotFound)
	}
	return derhelpers.ParsePrivateKeyDER(r.PrivateKey)
}

// IsAnchor reports whether the record is a trusted, self-signed
// certificate usable as a chain validation root.
func (r *CertificateRecord) IsAnchor() bool {
	if !r.Trusted {
		return false
	}
	cert, err := r.X509()
	return err == nil && helpers.IsSelfSigned(cert)
}

// CRLRecord encodes a CRL and its metadata
// that will be recorded in a database.
type CRLRecord struct {
	ID         int64     `db:"id"`
	Issuer     string    `db:"issuer_name"`
	ThisUpdate time.Time `db:"this_update"`
	NextUpdate null.Time `db:"next_update"`
	Delta      bool      `db:"delta"`
	CRL        []byte    `db:"crl"`
}

// RevocationList parses the stored CRL.
func (r *CRLRecord) RevocationList() (*x509.RevocationList, error) {
	if len(r.CRL) == 0 {
		return nil, cferr.Wrap(cferr.CertStoreError, cferr.RecordNotFound, errNoField("crl"))
	}
	crl, err := x509.ParseRevocationList(r.CRL)
	if err != nil {
		return nil, cferr.Wrap(cferr.CRLError, cferr.ParseFailed, err)
	}
	return crl, nil
}

type errNoField string

func (e errNoField) Error() string {
	return "record was read without its " + string(e) + " field"
}

// Accessor abstracts the CRUD of certdb objects from a DB. Every write
// runs in a single transaction, so a cancelled context leaves the
// database unchanged.
type Accessor interface {
	InsertCertificate(ctx context.Context, rec *CertificateRecord) error
	UpdateCertificate(ctx context.Context, rec *CertificateRecord, fields Fields) error
	DeleteCertificate(ctx context.Context, rec *CertificateRecord) error
	// GetCertificate returns the record of cert, or a RecordNotFound error.
	GetCertificate(ctx context.Context, cert *x509.Certificate, fields Fields) (*CertificateRecord, error)
	// FindCertificates returns the records matched by sel; a nil
	// selector matches all records.
	FindCertificates(ctx context.Context, sel *certstore.Selector, trustedOnly bool, fields Fields) ([]*CertificateRecord, error)
	FindPrivateKeys(ctx context.Context, sel *certstore.Selector) ([]crypto.PrivateKey, error)
	// UpdateCapabilities replaces the cached capabilities of cert when
	// updated is newer than the stored timestamp and reports whether
	// it did.
	UpdateCapabilities(ctx context.Context, cert *x509.Certificate, algorithms []pkcs7.EncryptionAlgorithm, updated time.Time) (bool, error)

	InsertCRL(ctx context.Context, rec *CRLRecord) error
	UpdateCRL(ctx context.Context, rec *CRLRecord) error
	DeleteCRL(ctx context.Context, rec *CRLRecord) error
	// GetCRL returns the record holding crl, or a RecordNotFound error.
	GetCRL(ctx context.Context, crl *x509.RevocationList, fields Fields) (*CRLRecord, error)
	FindCRLs(ctx context.Context, issuer string, fields Fields) ([]*CRLRecord, error)
	// GetNextUpdate returns the latest nextUpdate of the issuer's CRLs,
	// or Never.
	GetNextUpdate(ctx context.Context, issuer string) (time.Time, error)
}
