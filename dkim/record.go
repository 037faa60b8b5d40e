package dkim

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	cferr "github.com/cloudflare/cfsmime/errors"
)

// Key types of the k= tag.
const (
	KeyTypeRSA     = "rsa"
	KeyTypeEd25519 = "ed25519"
)

// A KeyRecord is a DKIM public key record, as published in the TXT
// record at selector._domainkey.domain.
type KeyRecord struct {
	// KeyType is the k= tag, rsa when absent.
	KeyType   string
	PublicKey crypto.PublicKey
	// HashAlgorithms lists the h= tag; empty allows all.
	HashAlgorithms []string
	// Services lists the s= tag; empty means all (*).
	Services []string
	// Flags lists the t= tag, such as y for testing mode.
	Flags []string
	Notes string
}

// Testing reports whether the domain is testing DKIM (t=y).
func (r *KeyRecord) Testing() bool {
	return r.hasFlag("y")
}

// StrictIdentity reports whether the i= domain of a signature must equal
// its d= domain exactly (t=s).
func (r *KeyRecord) StrictIdentity() bool {
	return r.hasFlag("s")
}

func (r *KeyRecord) hasFlag(flag string) bool {
	for _, f := range r.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// AllowsHash reports whether the record allows signatures using name,
// such as sha256.
func (r *KeyRecord) AllowsHash(name string) bool {
	if len(r.HashAlgorithms) == 0 {
		return true
	}
	for _, h := range r.HashAlgorithms {
		if strings.EqualFold(h, name) {
			return true
		}
	}
	return false
}

// AllowsEmail reports whether the key may be used for email.
func (r *KeyRecord) AllowsEmail() bool {
	if len(r.Services) == 0 {
		return true
	}
	for _, s := range r.Services {
		if s == "*" || s == "email" {
			return true
		}
	}
	return false
}

func parseFailed(format string, v ...interface{}) error {
	return cferr.Wrap(cferr.DKIMError, cferr.ParseFailed, fmt.Errorf(format, v...))
}

// ParseKeyRecord parses a DKIM key record. The record must carry a
// non-empty p= tag holding a key of the type named by k=.
func ParseKeyRecord(txt string) (*KeyRecord, error) {
	if strings.TrimSpace(txt) == "" {
		return nil, parseFailed("empty key record")
	}
	tags, err := parseTagList(txt)
	if err != nil {
		return nil, parseFailed("key record: %v", err)
	}

	if v, ok := tags.get("v"); ok && v != "DKIM1" {
		return nil, parseFailed("key record version %q is not DKIM1", v)
	}

	rec := &KeyRecord{KeyType: KeyTypeRSA}
	if k, ok := tags.get("k"); ok {
		rec.KeyType = strings.ToLower(k)
	}
	if h, ok := tags.get("h"); ok {
		rec.HashAlgorithms = splitList(h)
	}
	if s, ok := tags.get("s"); ok {
		rec.Services = splitList(s)
	}
	if t, ok := tags.get("t"); ok {
		rec.Flags = splitList(t)
	}
	rec.Notes, _ = tags.get("n")

	p, ok := tags.get("p")
	if !ok {
		return nil, parseFailed("key record has no p= tag")
	}
	p = stripWSP(p)
	if p == "" {
		return nil, parseFailed("key has been revoked")
	}
	der, err := base64.StdEncoding.DecodeString(p)
	if err != nil {
		return nil, parseFailed("malformed p= tag: %v", err)
	}

	switch rec.KeyType {
	case KeyTypeRSA:
		rec.PublicKey, err = parseRSAPublicKey(der)
		if err != nil {
			return nil, parseFailed("malformed RSA public key: %v", err)
		}
	case KeyTypeEd25519:
		if len(der) != ed25519.PublicKeySize {
			return nil, parseFailed("ed25519 public key is %d bytes", len(der))
		}
		rec.PublicKey = ed25519.PublicKey(der)
	default:
		return nil, parseFailed("unknown key type %q", rec.KeyType)
	}
	return rec, nil
}

func parseRSAPublicKey(der []byte) (*rsa.PublicKey, error) {
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		// Some publishers use a bare PKCS #1 key.
		if pk, err1 := x509.ParsePKCS1PublicKey(der); err1 == nil {
			return pk, nil
		}
		return nil, err
	}
	pk, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("not an RSA key")
	}
	return pk, nil
}

// FormatKeyRecord returns the TXT record publishing pub.
func FormatKeyRecord(pub crypto.PublicKey) (string, error) {
	switch pk := pub.(type) {
	case *rsa.PublicKey:
		der, err := x509.MarshalPKIXPublicKey(pk)
		if err != nil {
			return "", err
		}
		return "v=DKIM1; k=rsa; p=" + base64.StdEncoding.EncodeToString(der), nil
	case ed25519.PublicKey:
		return "v=DKIM1; k=ed25519; p=" + base64.StdEncoding.EncodeToString(pk), nil
	}
	return "", cferr.Wrap(cferr.DKIMError, cferr.UnsupportedAlgorithm, fmt.Errorf("unsupported key type %T", pub))
}
