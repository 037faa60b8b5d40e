package cms

import (
	"crypto"
	"crypto/x509/pkix"
	"fmt"
	"strings"

	"github.com/cloudflare/cfsmime/crypto/pkcs7"
	cferr "github.com/cloudflare/cfsmime/errors"
	"github.com/cloudflare/cfsmime/helpers"
)

// SubjectIdentifierType selects how a signer or recipient certificate
// is identified inside a CMS structure.
type SubjectIdentifierType int

// Identifier types.
const (
	IssuerAndSerialNumber SubjectIdentifierType = iota
	SubjectKeyIdentifier
)

// Valid reports whether t is a defined identifier type.
func (t SubjectIdentifierType) Valid() bool {
	return t == IssuerAndSerialNumber || t == SubjectKeyIdentifier
}

func (t SubjectIdentifierType) String() string {
	switch t {
	case IssuerAndSerialNumber:
		return "issuer_and_serial"
	case SubjectKeyIdentifier:
		return "subject_key_identifier"
	}
	return fmt.Sprintf("SubjectIdentifierType(%d)", int(t))
}

// ParseSubjectIdentifierType maps a configuration name to its type.
// The empty name selects IssuerAndSerialNumber.
func ParseSubjectIdentifierType(name string) (SubjectIdentifierType, error) {
	switch strings.ToLower(name) {
	case "", "issuer_and_serial":
		return IssuerAndSerialNumber, nil
	case "subject_key_identifier", "ski":
		return SubjectKeyIdentifier, nil
	}
	return 0, cferr.Wrap(cferr.ArgumentError, cferr.InvalidArgument, fmt.Errorf("unknown identifier type %q", name))
}

// RSASignaturePaddingScheme is the padding of RSA signatures.
type RSASignaturePaddingScheme int

// Signature padding schemes.
const (
	Pkcs1 RSASignaturePaddingScheme = iota
	Pss
)

// Valid reports whether s is a defined scheme.
func (s RSASignaturePaddingScheme) Valid() bool {
	return s == Pkcs1 || s == Pss
}

// RSASignaturePadding is one of the RSASignaturePadding* values;
// compare with ==.
type RSASignaturePadding struct {
	scheme RSASignaturePaddingScheme
	name   string
}

// RSA signature paddings.
var (
	RSASignaturePaddingPkcs1 = &RSASignaturePadding{Pkcs1, "pkcs1"}
	RSASignaturePaddingPss   = &RSASignaturePadding{Pss, "pss"}
)

// Scheme returns the padding scheme.
func (p *RSASignaturePadding) Scheme() RSASignaturePaddingScheme { return p.scheme }

func (p *RSASignaturePadding) String() string { return p.name }

// RSASignaturePaddingFor returns the padding of scheme.
func RSASignaturePaddingFor(scheme RSASignaturePaddingScheme) (*RSASignaturePadding, error) {
	switch scheme {
	case Pkcs1:
		return RSASignaturePaddingPkcs1, nil
	case Pss:
		return RSASignaturePaddingPss, nil
	}
	return nil, cferr.Wrap(cferr.ArgumentError, cferr.OutOfRange, fmt.Errorf("unknown RSA signature padding scheme %d", int(scheme)))
}

// ParseRSASignaturePadding maps a configuration name to its padding.
// The empty name selects PKCS #1.
func ParseRSASignaturePadding(name string) (*RSASignaturePadding, error) {
	switch strings.ToLower(name) {
	case "", "pkcs1":
		return RSASignaturePaddingPkcs1, nil
	case "pss":
		return RSASignaturePaddingPss, nil
	}
	return nil, cferr.Wrap(cferr.ArgumentError, cferr.InvalidArgument, fmt.Errorf("unknown RSA signature padding %q", name))
}

// RSAEncryptionPaddingScheme is the padding of RSA key transport.
type RSAEncryptionPaddingScheme int

// Encryption padding schemes.
const (
	EncryptionPkcs1 RSAEncryptionPaddingScheme = iota
	EncryptionOaep
)

// RSAEncryptionPadding is one of the RSAEncryptionPadding* values;
// compare with ==.
type RSAEncryptionPadding struct {
	scheme RSAEncryptionPaddingScheme
	hash   crypto.Hash
	name   string
}

// RSA encryption paddings.
var (
	RSAEncryptionPaddingPkcs1      = &RSAEncryptionPadding{EncryptionPkcs1, 0, "pkcs1"}
	RSAEncryptionPaddingOaepSHA1   = &RSAEncryptionPadding{EncryptionOaep, crypto.SHA1, "oaep-sha1"}
	RSAEncryptionPaddingOaepSHA256 = &RSAEncryptionPadding{EncryptionOaep, crypto.SHA256, "oaep-sha256"}
	RSAEncryptionPaddingOaepSHA384 = &RSAEncryptionPadding{EncryptionOaep, crypto.SHA384, "oaep-sha384"}
	RSAEncryptionPaddingOaepSHA512 = &RSAEncryptionPadding{EncryptionOaep, crypto.SHA512, "oaep-sha512"}
)

var encryptionPaddings = []*RSAEncryptionPadding{
	RSAEncryptionPaddingPkcs1,
	RSAEncryptionPaddingOaepSHA1,
	RSAEncryptionPaddingOaepSHA256,
	RSAEncryptionPaddingOaepSHA384,
	RSAEncryptionPaddingOaepSHA512,
}

// CreateOAEP returns the OAEP padding using digest h.
func CreateOAEP(h crypto.Hash) (*RSAEncryptionPadding, error) {
	for _, p := range encryptionPaddings {
		if p.scheme == EncryptionOaep && p.hash == h {
			return p, nil
		}
	}
	return nil, cferr.Wrap(cferr.CMSError, cferr.UnsupportedAlgorithm,
		fmt.Errorf("OAEP with %s is not supported", helpers.DigestName(h)))
}

// ParseRSAEncryptionPadding maps a configuration name such as
// "oaep-sha256" to its padding. The empty name returns nil, meaning
// unspecified.
func ParseRSAEncryptionPadding(name string) (*RSAEncryptionPadding, error) {
	if name == "" {
		return nil, nil
	}
	for _, p := range encryptionPaddings {
		if strings.EqualFold(p.name, name) {
			return p, nil
		}
	}
	return nil, cferr.Wrap(cferr.CMSError, cferr.UnsupportedAlgorithm, fmt.Errorf("unknown RSA encryption padding %q", name))
}

// Scheme returns the padding scheme.
func (p *RSAEncryptionPadding) Scheme() RSAEncryptionPaddingScheme { return p.scheme }

// Hash returns the OAEP digest, or 0 for PKCS #1.
func (p *RSAEncryptionPadding) Hash() crypto.Hash { return p.hash }

func (p *RSAEncryptionPadding) String() string { return p.name }

// AlgorithmIdentifier returns the key encryption algorithm identifier
// of an OAEP padding. PKCS #1 has no identifier of its own and returns
// nil.
func (p *RSAEncryptionPadding) AlgorithmIdentifier() (*pkix.AlgorithmIdentifier, error) {
	if p.scheme == EncryptionPkcs1 {
		return nil, nil
	}
	id, err := pkcs7.OAEPAlgorithmIdentifier(p.hash)
	if err != nil {
		return nil, err
	}
	return &id, nil
}
