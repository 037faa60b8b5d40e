package cms

import (
	"crypto"
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"io"
	"os"

	"github.com/cloudflare/cfsmime/crypto/pkcs12"
	"github.com/cloudflare/cfsmime/crypto/pkcs7"
	cferr "github.com/cloudflare/cfsmime/errors"
	"github.com/cloudflare/cfsmime/helpers"
	"github.com/cloudflare/cfsmime/log"
)

// A Signer is a certificate chain and the private key of its leaf.
type Signer struct {
	// Chain is leaf first; the leaf is the signing certificate.
	Chain                []*x509.Certificate
	SignerIdentifierType SubjectIdentifierType
	DigestAlgorithm      crypto.Hash

	key     crypto.PrivateKey
	padding *RSASignaturePadding
}

// NewSigner returns a signer for chain, leaf first, and the private
// key of the leaf.
func NewSigner(chain []*x509.Certificate, key crypto.PrivateKey) (*Signer, error) {
	if len(chain) == 0 {
		return nil, cferr.Wrap(cferr.ArgumentError, cferr.NullArgument, errors.New("certificate chain is empty"))
	}
	for _, c := range chain {
		if c == nil {
			return nil, nullCertificate()
		}
	}
	if key == nil {
		return nil, cferr.Wrap(cferr.ArgumentError, cferr.NullArgument, errors.New("private key is nil"))
	}
	if err := helpers.CheckKeyPair(chain[0], key); err != nil {
		return nil, err
	}
	return &Signer{
		Chain:                append([]*x509.Certificate(nil), chain...),
		SignerIdentifierType: IssuerAndSerialNumber,
		DigestAlgorithm:      crypto.SHA256,
		key:                  key,
		padding:              RSASignaturePaddingPkcs1,
	}, nil
}

// NewSignerFromPKCS12 returns a signer for the key bag of a password
// protected PKCS #12 file.
func NewSignerFromPKCS12(data []byte, password string) (*Signer, error) {
	if len(data) == 0 {
		return nil, cferr.Wrap(cferr.ArgumentError, cferr.NullArgument, errors.New("no PKCS #12 data"))
	}
	bag, err := pkcs12.Decode(data, password)
	if err != nil {
		return nil, err
	}
	if bag.Key == nil || bag.Certificate == nil {
		return nil, cferr.Wrap(cferr.PrivateKeyError, cferr.KeyNotFound, errors.New("PKCS #12 file holds no private key"))
	}
	return NewSigner(bag.Certificates(), bag.Key)
}

// NewSignerFromReader reads a PKCS #12 file from r.
func NewSignerFromReader(r io.Reader, password string) (*Signer, error) {
	if r == nil {
		return nil, cferr.Wrap(cferr.ArgumentError, cferr.NullArgument, errors.New("reader is nil"))
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, cferr.Wrap(cferr.CertificateError, cferr.ReadFailed, err)
	}
	return NewSignerFromPKCS12(data, password)
}

// NewSignerFromFile reads a PKCS #12 file from path.
func NewSignerFromFile(path, password string) (*Signer, error) {
	if path == "" {
		return nil, cferr.Wrap(cferr.ArgumentError, cferr.NullArgument, errors.New("path is empty"))
	}
	log.Debugf("loading signer from %s", path)
	f, err := os.Open(path)
	if err != nil {
		return nil, cferr.Wrap(cferr.CertificateError, cferr.ReadFailed, err)
	}
	defer f.Close()
	return NewSignerFromReader(f, password)
}

// Certificate returns the signing certificate.
func (s *Signer) Certificate() *x509.Certificate {
	return s.Chain[0]
}

// PrivateKey returns the signing key.
func (s *Signer) PrivateKey() crypto.PrivateKey {
	return s.key
}

// RSASignaturePaddingScheme returns the scheme of RSASignaturePadding.
func (s *Signer) RSASignaturePaddingScheme() RSASignaturePaddingScheme {
	return s.padding.Scheme()
}

// SetRSASignaturePaddingScheme sets the padding scheme and with it
// RSASignaturePadding.
func (s *Signer) SetRSASignaturePaddingScheme(scheme RSASignaturePaddingScheme) error {
	p, err := RSASignaturePaddingFor(scheme)
	if err != nil {
		return err
	}
	s.padding = p
	return nil
}

// RSASignaturePadding returns the padding of RSA signatures.
func (s *Signer) RSASignaturePadding() *RSASignaturePadding {
	return s.padding
}

// SetRSASignaturePadding sets the padding and with it
// RSASignaturePaddingScheme.
func (s *Signer) SetRSASignaturePadding(p *RSASignaturePadding) error {
	if p == nil {
		return cferr.Wrap(cferr.ArgumentError, cferr.NullArgument, errors.New("padding is nil"))
	}
	return s.SetRSASignaturePaddingScheme(p.Scheme())
}

// SetSignerIdentifierType sets how the signer is identified.
func (s *Signer) SetSignerIdentifierType(t SubjectIdentifierType) error {
	if !t.Valid() {
		return cferr.Wrap(cferr.ArgumentError, cferr.OutOfRange, errors.New("unknown identifier type "+t.String()))
	}
	s.SignerIdentifierType = t
	return nil
}

// Params returns the codec description of the signer.
func (s *Signer) Params() pkcs7.SignerParams {
	_, isRSA := s.Chain[0].PublicKey.(*rsa.PublicKey)
	return pkcs7.SignerParams{
		Certificate:     s.Chain[0],
		Key:             s.key,
		Chain:           s.Chain[1:],
		Digest:          s.DigestAlgorithm,
		UseSubjectKeyID: s.SignerIdentifierType == SubjectKeyIdentifier,
		PSS:             isRSA && s.padding == RSASignaturePaddingPss,
	}
}
