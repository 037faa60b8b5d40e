// Package derhelpers implements common functionality
// on DER encoded data
package derhelpers

import (
	"crypto"
	"crypto/dsa"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"

	cferr "github.com/cloudflare/cfsmime/errors"
)

// ParsePrivateKeyDER parses a PKCS #1, PKCS #8, ECDSA, Ed25519 or DSA
// DER-encoded private key. The key must not be in PEM format.
func ParsePrivateKeyDER(keyDER []byte) (crypto.PrivateKey, error) {
	generalKey, err := x509.ParsePKCS8PrivateKey(keyDER)
	if err == nil {
		return generalKey, nil
	}
	if key, err := parsePKCS8DSAPrivateKey(keyDER); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS1PrivateKey(keyDER); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(keyDER); err == nil {
		return key, nil
	}
	if key, err := ParseDSAPrivateKey(keyDER); err == nil {
		return key, nil
	}
	// We don't include the actual error into the final error. The
	// reason might be we don't want to leak any info about the
	// private key.
	return nil, cferr.New(cferr.PrivateKeyError, cferr.ParseFailed)
}

// MarshalPrivateKey encodes key as PKCS #8. DSA keys use the
// id-dsa algorithm identifier with the domain parameters inline.
func MarshalPrivateKey(key crypto.PrivateKey) ([]byte, error) {
	switch k := key.(type) {
	case *dsa.PrivateKey:
		return marshalPKCS8DSAPrivateKey(k)
	case *rsa.PrivateKey, *ecdsa.PrivateKey, ed25519.PrivateKey:
		der, err := x509.MarshalPKCS8PrivateKey(k)
		if err != nil {
			return nil, cferr.Wrap(cferr.PrivateKeyError, cferr.Unknown, err)
		}
		return der, nil
	default:
		return nil, cferr.New(cferr.PrivateKeyError, cferr.UnsupportedKeyType)
	}
}

// ParsePublicKeyDER parses a PKIX SubjectPublicKeyInfo, falling back to
// a bare PKCS #1 RSA public key.
func ParsePublicKeyDER(der []byte) (crypto.PublicKey, error) {
	pub, err := x509.ParsePKIXPublicKey(der)
	if err == nil {
		return pub, nil
	}
	if rsaPub, rsaErr := x509.ParsePKCS1PublicKey(der); rsaErr == nil {
		return rsaPub, nil
	}
	return nil, cferr.Wrap(cferr.PrivateKeyError, cferr.ParseFailed, err)
}

// MarshalPublicKey encodes pub as a PKIX SubjectPublicKeyInfo.
func MarshalPublicKey(pub crypto.PublicKey) ([]byte, error) {
	if k, ok := pub.(*dsa.PublicKey); ok {
		return MarshalDSAPublicKey(k)
	}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, cferr.Wrap(cferr.PrivateKeyError, cferr.UnsupportedKeyType, err)
	}
	return der, nil
}

// PublicKey returns the public half of a private key.
func PublicKey(key crypto.PrivateKey) (crypto.PublicKey, error) {
	switch k := key.(type) {
	case *dsa.PrivateKey:
		return &k.PublicKey, nil
	case crypto.Signer:
		return k.Public(), nil
	case crypto.Decrypter:
		return k.Public(), nil
	}
	return nil, cferr.New(cferr.PrivateKeyError, cferr.UnsupportedKeyType)
}

// ParseEd25519PublicKey parses a PKIX encoded Ed25519 public key.
func ParseEd25519PublicKey(der []byte) (crypto.PublicKey, error) {
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, err
	}
	if _, ok := pub.(ed25519.PublicKey); !ok {
		return nil, cferr.New(cferr.PrivateKeyError, cferr.UnsupportedKeyType)
	}
	return pub, nil
}

// MarshalEd25519PublicKey encodes an Ed25519 public key as PKIX.
func MarshalEd25519PublicKey(pk crypto.PublicKey) ([]byte, error) {
	if _, ok := pk.(ed25519.PublicKey); !ok {
		return nil, cferr.New(cferr.PrivateKeyError, cferr.UnsupportedKeyType)
	}
	return x509.MarshalPKIXPublicKey(pk)
}

// ParseEd25519PrivateKey parses a PKCS #8 encoded Ed25519 private key.
func ParseEd25519PrivateKey(der []byte) (crypto.PrivateKey, error) {
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, err
	}
	if _, ok := key.(ed25519.PrivateKey); !ok {
		return nil, cferr.New(cferr.PrivateKeyError, cferr.UnsupportedKeyType)
	}
	return key, nil
}

// MarshalEd25519PrivateKey encodes an Ed25519 private key as PKCS #8.
func MarshalEd25519PrivateKey(sk crypto.PrivateKey) ([]byte, error) {
	if _, ok := sk.(ed25519.PrivateKey); !ok {
		return nil, cferr.New(cferr.PrivateKeyError, cferr.UnsupportedKeyType)
	}
	return x509.MarshalPKCS8PrivateKey(sk)
}
