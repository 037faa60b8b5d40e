// Package pkcs12 implements the parsing and encoding of key and certificate files into a PKCS#12 file
package pkcs12

import (
	"crypto"
	"crypto/rand"
	"crypto/x509"

	cferr "github.com/cloudflare/cfsmime/errors"
	"github.com/cloudflare/cfsmime/log"
	"software.sslmate.com/src/go-pkcs12"
)

// Bag is the decoded content of a PKCS #12 file: at most one private
// key with its leaf certificate, and any further certificates.
type Bag struct {
	Key         crypto.PrivateKey
	Certificate *x509.Certificate
	CACerts     []*x509.Certificate
}

// Certificates returns the leaf (if any) followed by the CA certificates.
func (b *Bag) Certificates() []*x509.Certificate {
	var certs []*x509.Certificate
	if b.Certificate != nil {
		certs = append(certs, b.Certificate)
	}
	return append(certs, b.CACerts...)
}

// Decode parses a password protected PKCS #12 file. Files holding a
// key are decoded as a chain; files without one as a trust store.
func Decode(data []byte, password string) (*Bag, error) {
	key, cert, caCerts, err := pkcs12.DecodeChain(data, password)
	if err == nil {
		return &Bag{Key: key, Certificate: cert, CACerts: caCerts}, nil
	}
	if err == pkcs12.ErrIncorrectPassword {
		return nil, cferr.Wrap(cferr.CertificateError, cferr.DecodeFailed, err)
	}

	log.Debugf("pkcs12: no key bag (%v), trying trust store", err)
	certs, tsErr := pkcs12.DecodeTrustStore(data, password)
	if tsErr != nil {
		return nil, cferr.Wrap(cferr.CertificateError, cferr.DecodeFailed, err)
	}
	return &Bag{CACerts: certs}, nil
}

// Encode serializes b. A bag with a key produces a key bag plus
// certificate bags; a bag without one produces a trust store.
func Encode(b *Bag, password string) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if b.Key != nil {
		if b.Certificate == nil {
			return nil, cferr.New(cferr.ArgumentError, cferr.NullArgument)
		}
		data, err = pkcs12.Encode(rand.Reader, b.Key, b.Certificate, b.CACerts, password)
	} else {
		data, err = pkcs12.EncodeTrustStore(rand.Reader, b.Certificates(), password)
	}
	if err != nil {
		return nil, cferr.Wrap(cferr.CertificateError, cferr.Unknown, err)
	}
	return data, nil
}
