package cms

import (
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"io"
	"os"

	"github.com/cloudflare/cfsmime/crypto/pkcs7"
	cferr "github.com/cloudflare/cfsmime/errors"
	"github.com/cloudflare/cfsmime/helpers"
)

// A Recipient is the certificate a message is encrypted to, with the
// algorithms it is known to support.
type Recipient struct {
	Certificate             *x509.Certificate
	RecipientIdentifierType SubjectIdentifierType
	// EncryptionAlgorithms is in preference order.
	EncryptionAlgorithms []EncryptionAlgorithm
	// RSAEncryptionPadding is nil when unspecified, which means PKCS #1.
	RSAEncryptionPadding *RSAEncryptionPadding
}

// NewRecipient returns a recipient for cert supporting
// DefaultEncryptionAlgorithms.
func NewRecipient(cert *x509.Certificate) (*Recipient, error) {
	if cert == nil {
		return nil, nullCertificate()
	}
	return &Recipient{
		Certificate:             cert,
		RecipientIdentifierType: IssuerAndSerialNumber,
		EncryptionAlgorithms:    append([]EncryptionAlgorithm(nil), DefaultEncryptionAlgorithms...),
	}, nil
}

// NewRecipientFromBytes parses a DER or PEM certificate.
func NewRecipientFromBytes(data []byte) (*Recipient, error) {
	if len(data) == 0 {
		return nil, cferr.Wrap(cferr.ArgumentError, cferr.NullArgument, errors.New("no certificate data"))
	}
	cert, err := helpers.ParseCertificate(data)
	if err != nil {
		return nil, err
	}
	return NewRecipient(cert)
}

// NewRecipientFromReader reads a DER or PEM certificate from r.
func NewRecipientFromReader(r io.Reader) (*Recipient, error) {
	if r == nil {
		return nil, cferr.Wrap(cferr.ArgumentError, cferr.NullArgument, errors.New("reader is nil"))
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, cferr.Wrap(cferr.CertificateError, cferr.ReadFailed, err)
	}
	return NewRecipientFromBytes(data)
}

// NewRecipientFromFile reads a DER or PEM certificate from path.
func NewRecipientFromFile(path string) (*Recipient, error) {
	if path == "" {
		return nil, cferr.Wrap(cferr.ArgumentError, cferr.NullArgument, errors.New("path is empty"))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, cferr.Wrap(cferr.CertificateError, cferr.ReadFailed, err)
	}
	return NewRecipientFromBytes(data)
}

// SetCapabilities replaces EncryptionAlgorithms with the valid
// algorithms of algs. An empty list leaves the current one in place.
func (r *Recipient) SetCapabilities(algs []EncryptionAlgorithm) {
	var known []EncryptionAlgorithm
	for _, a := range algs {
		if a.Valid() && !supports(known, a) {
			known = append(known, a)
		}
	}
	if len(known) > 0 {
		r.EncryptionAlgorithms = known
	}
}

// Params returns the codec description of the recipient.
func (r *Recipient) Params() (pkcs7.RecipientParams, error) {
	p := pkcs7.RecipientParams{
		Certificate:     r.Certificate,
		UseSubjectKeyID: r.RecipientIdentifierType == SubjectKeyIdentifier,
	}
	if _, ok := r.Certificate.PublicKey.(*rsa.PublicKey); !ok {
		return p, cferr.Wrap(cferr.CMSError, cferr.UnsupportedAlgorithm,
			errors.New("key transport requires an RSA certificate"))
	}
	if r.RSAEncryptionPadding != nil && r.RSAEncryptionPadding.Scheme() == EncryptionOaep {
		p.OAEP = r.RSAEncryptionPadding.Hash()
	}
	return p, nil
}
