package dkim

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	cferr "github.com/cloudflare/cfsmime/errors"
	"github.com/cloudflare/cfsmime/log"
	"github.com/jmhodges/clock"
)

// A Verification is the outcome of checking one DKIM-Signature.
type Verification struct {
	Domain     string
	Selector   string
	Identifier string
	Algorithm  string
	HeaderKeys []string
	// Time is the signing time, zero when the signature has no t= tag.
	Time       time.Time
	Expiration time.Time
	// Testing is set when the domain publishes its key in testing mode.
	Testing bool
	// Err is nil when the signature is valid.
	Err error
}

// A Verifier checks DKIM signatures with keys from Locator.
type Verifier struct {
	Locator PublicKeyLocator
	Clock   clock.Clock
	// MaxSignatures bounds how many signatures are checked, all of them
	// when zero.
	MaxSignatures int
}

// Verify checks every DKIM-Signature of the message read from r. The
// error is only set when the message itself cannot be read; each
// signature carries its own result.
func Verify(ctx context.Context, locator PublicKeyLocator, r io.Reader) ([]*Verification, error) {
	v := &Verifier{Locator: locator, Clock: clock.New()}
	return v.Verify(ctx, r)
}

// Verify checks every DKIM-Signature of the message read from r.
func (v *Verifier) Verify(ctx context.Context, r io.Reader) ([]*Verification, error) {
	if v.Locator == nil || r == nil {
		return nil, cferr.New(cferr.ArgumentError, cferr.NullArgument)
	}
	m, err := readMessage(r)
	if err != nil {
		return nil, err
	}

	var out []*Verification
	for _, f := range m.all(strings.ToLower(SignatureHeader)) {
		if v.MaxSignatures > 0 && len(out) == v.MaxSignatures {
			log.Warningf("dkim: ignoring signatures beyond the first %d", v.MaxSignatures)
			break
		}
		if err := ctx.Err(); err != nil {
			return out, err
		}
		out = append(out, v.check(ctx, m, f))
	}
	return out, nil
}

func (v *Verifier) now() time.Time {
	if v.Clock == nil {
		return time.Now()
	}
	return v.Clock.Now()
}

func (v *Verifier) check(ctx context.Context, m *message, f field) *Verification {
	ver := new(Verification)
	sig, err := parseSignature(SignatureHeader, f.value())
	if err != nil {
		ver.Err = err
		return ver
	}
	ver.Domain = sig.domain
	ver.Selector = sig.selector
	ver.Identifier = sig.identifier
	ver.Algorithm = sig.algorithm
	ver.HeaderKeys = sig.headerKeys
	ver.Time = sig.timestamp
	ver.Expiration = sig.expiration

	if ver.Identifier == "" {
		ver.Identifier = "@" + sig.domain
	}
	rec, err := v.checkSignature(ctx, m, f, sig, ver.Identifier)
	if rec != nil {
		ver.Testing = rec.Testing()
	}
	ver.Err = err
	return ver
}

// checkSignature verifies a parsed message signature, DKIM or ARC, and
// returns the key record it used.
func (v *Verifier) checkSignature(ctx context.Context, m *message, f field, sig *signature, identifier string) (*KeyRecord, error) {
	if !containsKey(sig.headerKeys, "from") {
		return nil, parseFailed("From field is not signed")
	}
	if identifier != "" {
		_, idDomain, _ := strings.Cut(identifier, "@")
		idDomain = strings.ToLower(strings.TrimSuffix(idDomain, "."))
		if idDomain != sig.domain && !strings.HasSuffix(idDomain, "."+sig.domain) {
			return nil, parseFailed("identifier %q is outside domain %q", identifier, sig.domain)
		}
	}
	if !sig.expiration.IsZero() {
		if !sig.timestamp.IsZero() && sig.expiration.Before(sig.timestamp) {
			return nil, parseFailed("signature expires before it was made")
		}
		if v.now().After(sig.expiration) {
			return nil, cferr.Wrap(cferr.DKIMError, cferr.SignatureInvalid, fmt.Errorf("signature expired at %s", sig.expiration))
		}
	}

	rec, err := v.locate(ctx, sig)
	if err != nil {
		return nil, err
	}
	if rec.StrictIdentity() && identifier != "" {
		_, idDomain, _ := strings.Cut(identifier, "@")
		if !strings.EqualFold(strings.TrimSuffix(idDomain, "."), sig.domain) {
			return rec, cferr.Wrap(cferr.DKIMError, cferr.SignatureInvalid,
				fmt.Errorf("key requires the identifier to be in %q exactly", sig.domain))
		}
	}

	bh, err := computeBodyHash(m.body, sig.body, sig.bodyLength)
	if err != nil {
		return rec, err
	}
	if !bytes.Equal(bh, sig.bodyHash) {
		return rec, cferr.Wrap(cferr.DKIMError, cferr.BodyHashMismatch, errors.New("body hash does not match"))
	}

	digest := hashHeaders(sha256.New(), pick(m.header, sig.headerKeys), f, sig.header)
	return rec, verifyDigest(rec.PublicKey, digest, sig.sig)
}

// locate finds the key of sig and checks it suits sig's algorithm.
func (v *Verifier) locate(ctx context.Context, sig *signature) (*KeyRecord, error) {
	keyType, err := keyTypeOf(sig.algorithm)
	if err != nil {
		return nil, err
	}
	rec, err := v.Locator.LocatePublicKey(ctx, sig.methods, sig.domain, sig.selector)
	if err != nil {
		return nil, err
	}
	if rec.KeyType != keyType {
		return rec, cferr.Wrap(cferr.DKIMError, cferr.UnsupportedAlgorithm,
			fmt.Errorf("%s signature with a %s key", sig.algorithm, rec.KeyType))
	}
	if !rec.AllowsHash("sha256") {
		return rec, cferr.Wrap(cferr.DKIMError, cferr.UnsupportedAlgorithm,
			fmt.Errorf("key does not allow sha256, only %v", rec.HashAlgorithms))
	}
	if !rec.AllowsEmail() {
		return rec, cferr.Wrap(cferr.DKIMError, cferr.KeyLookupFailed, errors.New("key is not for email"))
	}
	return rec, nil
}

func containsKey(keys []string, key string) bool {
	for _, k := range keys {
		if strings.EqualFold(k, key) {
			return true
		}
	}
	return false
}
