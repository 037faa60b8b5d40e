// Functions which allow for the creation of dummy certificates, chains,
// keys, PKCS #12 files and CRLs for tests.

package testsuite

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/cloudflare/cfsmime/crypto/pkcs12"
)

var serial int64 = time.Now().Unix()

func nextSerial() *big.Int {
	return big.NewInt(atomic.AddInt64(&serial, 1))
}

// KeyType selects the key algorithm of a generated identity.
type KeyType int

// Key algorithms for generated identities. ECDSA is the default since
// it is cheap to generate; RSA is needed for key transport.
const (
	ECDSA KeyType = iota
	RSA
)

// Options describes a certificate to generate. Zero values pick
// defaults: a one hour validity window around now and an ECDSA key.
type Options struct {
	CommonName string
	Emails     []string
	KeyType    KeyType
	KeyUsage   x509.KeyUsage
	IsCA       bool
	// MaxPathLen is only used for CAs; negative means unconstrained.
	MaxPathLen   int
	NotBefore    time.Time
	NotAfter     time.Time
	SubjectKeyID []byte
}

// Identity is a certificate together with its private key.
type Identity struct {
	Certificate *x509.Certificate
	Key         crypto.Signer
}

func generateKey(kt KeyType) (crypto.Signer, error) {
	switch kt {
	case RSA:
		return rsa.GenerateKey(rand.Reader, 2048)
	case ECDSA:
		return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	}
	return nil, errors.New("testsuite: unknown key type")
}

func template(opts Options) *x509.Certificate {
	now := time.Now()
	if opts.NotBefore.IsZero() {
		opts.NotBefore = now.Add(-time.Hour)
	}
	if opts.NotAfter.IsZero() {
		opts.NotAfter = now.Add(time.Hour)
	}
	tmpl := &x509.Certificate{
		SerialNumber:   nextSerial(),
		Subject:        pkix.Name{CommonName: opts.CommonName, Organization: []string{"Internet Widgets, LLC"}},
		NotBefore:      opts.NotBefore,
		NotAfter:       opts.NotAfter,
		EmailAddresses: opts.Emails,
		KeyUsage:       opts.KeyUsage,
		SubjectKeyId:   opts.SubjectKeyID,
	}
	if opts.IsCA {
		tmpl.BasicConstraintsValid = true
		tmpl.IsCA = true
		if tmpl.KeyUsage == 0 {
			tmpl.KeyUsage = x509.KeyUsageCertSign | x509.KeyUsageCRLSign
		}
		switch {
		case opts.MaxPathLen < 0:
			tmpl.MaxPathLen = -1
		case opts.MaxPathLen == 0:
			tmpl.MaxPathLenZero = true
		default:
			tmpl.MaxPathLen = opts.MaxPathLen
		}
	}
	return tmpl
}

func create(tmpl, parent *x509.Certificate, pub crypto.PublicKey, signer crypto.Signer) (*x509.Certificate, error) {
	der, err := x509.CreateCertificate(rand.Reader, tmpl, parent, pub, signer)
	if err != nil {
		return nil, err
	}
	return x509.ParseCertificate(der)
}

// NewSelfSigned creates a self-signed certificate described by opts.
func NewSelfSigned(opts Options) (*Identity, error) {
	key, err := generateKey(opts.KeyType)
	if err != nil {
		return nil, err
	}
	tmpl := template(opts)
	cert, err := create(tmpl, tmpl, key.Public(), key)
	if err != nil {
		return nil, err
	}
	return &Identity{Certificate: cert, Key: key}, nil
}

// NewRootCA creates a self-signed CA without a path length constraint.
func NewRootCA(cn string) (*Identity, error) {
	return NewSelfSigned(Options{CommonName: cn, IsCA: true, MaxPathLen: -1})
}

// Issue creates a certificate described by opts and signed by id.
func (id *Identity) Issue(opts Options) (*Identity, error) {
	key, err := generateKey(opts.KeyType)
	if err != nil {
		return nil, err
	}
	cert, err := create(template(opts), id.Certificate, key.Public(), id.Key)
	if err != nil {
		return nil, err
	}
	return &Identity{Certificate: cert, Key: key}, nil
}

// CertificatePEM returns the PEM encoding of the certificate.
func (id *Identity) CertificatePEM() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: id.Certificate.Raw})
}

// KeyPEM returns the PKCS #8 PEM encoding of the private key.
func (id *Identity) KeyPEM() ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(id.Key)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// PKCS12 encodes the identity and chain as a password protected PKCS #12 file.
func (id *Identity) PKCS12(password string, chain ...*x509.Certificate) ([]byte, error) {
	return pkcs12.Encode(&pkcs12.Bag{Key: id.Key, Certificate: id.Certificate, CACerts: chain}, password)
}

// CRL creates a CRL issued by id that revokes the given serial numbers.
func (id *Identity) CRL(number int64, thisUpdate, nextUpdate time.Time, revoked ...*big.Int) ([]byte, error) {
	var entries []x509.RevocationListEntry
	for _, s := range revoked {
		entries = append(entries, x509.RevocationListEntry{
			SerialNumber:   s,
			RevocationTime: thisUpdate,
		})
	}
	tmpl := &x509.RevocationList{
		Number:                    big.NewInt(number),
		ThisUpdate:                thisUpdate,
		NextUpdate:                nextUpdate,
		RevokedCertificateEntries: entries,
	}
	return x509.CreateRevocationList(rand.Reader, tmpl, id.Certificate, id.Key)
}

// CreateCertificateChain creates a root, count intermediates and an
// RSA leaf carrying the given email address. The chain is returned
// leaf first; the root is last.
func CreateCertificateChain(intermediates int, email string) ([]*Identity, error) {
	root, err := NewRootCA("Test Root CA")
	if err != nil {
		return nil, err
	}
	chain := []*Identity{root}
	issuer := root
	for i := 0; i < intermediates; i++ {
		inter, err := issuer.Issue(Options{
			CommonName: "Test Intermediate CA",
			IsCA:       true,
			MaxPathLen: -1,
		})
		if err != nil {
			return nil, err
		}
		chain = append([]*Identity{inter}, chain...)
		issuer = inter
	}
	leaf, err := issuer.Issue(Options{
		CommonName: email,
		Emails:     []string{email},
		KeyType:    RSA,
		KeyUsage:   x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
	})
	if err != nil {
		return nil, err
	}
	return append([]*Identity{leaf}, chain...), nil
}

// Certificates returns the certificates of ids in order.
func Certificates(ids ...*Identity) []*x509.Certificate {
	certs := make([]*x509.Certificate, 0, len(ids))
	for _, id := range ids {
		certs = append(certs, id.Certificate)
	}
	return certs
}
