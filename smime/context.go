// Package smime signs, verifies, encrypts and decrypts S/MIME payloads
// for mailboxes, resolving them to certificates and keys through a
// Backend and validating signer chains against its trust anchors and
// CRLs.
package smime

import (
	"context"
	"crypto"
	"crypto/x509"
	"errors"
	"fmt"
	"net/mail"
	"sort"
	"strings"
	"time"

	"github.com/cloudflare/cfsmime/bundler"
	"github.com/cloudflare/cfsmime/certdb"
	"github.com/cloudflare/cfsmime/certdb/dbconf"
	"github.com/cloudflare/cfsmime/certstore"
	"github.com/cloudflare/cfsmime/cms"
	"github.com/cloudflare/cfsmime/config"
	"github.com/cloudflare/cfsmime/crypto/pkcs7"
	cferr "github.com/cloudflare/cfsmime/errors"
	"github.com/cloudflare/cfsmime/helpers"
	"github.com/cloudflare/cfsmime/log"
	"github.com/cloudflare/cfsmime/revoke"
	"github.com/jmhodges/clock"
)

// MIME protocols understood by Supports.
const (
	ProtocolPKCS7Signature  = "application/pkcs7-signature"
	ProtocolPKCS7MIME       = "application/pkcs7-mime"
	ProtocolXPKCS7Signature = "application/x-pkcs7-signature"
	ProtocolXPKCS7MIME      = "application/x-pkcs7-mime"
)

// SecureContext is the set of S/MIME operations. Every operation but
// Supports has an Async form that validates its arguments on the
// calling goroutine and delivers the same result as the synchronous
// form on the returned channel.
type SecureContext interface {
	// CanSign reports whether a certificate usable for signing and its
	// private key are available for mailbox.
	CanSign(ctx context.Context, mailbox string) (bool, error)
	// CanEncrypt reports whether a valid certificate usable for key
	// encipherment is available for mailbox.
	CanEncrypt(ctx context.Context, mailbox string) (bool, error)
	Sign(ctx context.Context, mailbox string, content []byte, detached bool) ([]byte, error)
	// Verify checks every signer of a SignedData structure. content is
	// required for detached signatures and ignored otherwise.
	Verify(ctx context.Context, signed, content []byte) ([]*Signature, error)
	Encrypt(ctx context.Context, mailboxes []string, content []byte) ([]byte, error)
	Decrypt(ctx context.Context, enveloped []byte) ([]byte, error)
	Import(ctx context.Context, data []byte, password string) (int, error)
	ImportCRL(ctx context.Context, data []byte) (*certdb.CRLRecord, error)
	Supports(protocol string) bool

	CanSignAsync(ctx context.Context, mailbox string) <-chan Result[bool]
	CanEncryptAsync(ctx context.Context, mailbox string) <-chan Result[bool]
	SignAsync(ctx context.Context, mailbox string, content []byte, detached bool) <-chan Result[[]byte]
	VerifyAsync(ctx context.Context, signed, content []byte) <-chan Result[[]*Signature]
	EncryptAsync(ctx context.Context, mailboxes []string, content []byte) <-chan Result[[]byte]
	DecryptAsync(ctx context.Context, enveloped []byte) <-chan Result[[]byte]
	ImportAsync(ctx context.Context, data []byte, password string) <-chan Result[int]
	ImportCRLAsync(ctx context.Context, data []byte) <-chan Result[*certdb.CRLRecord]
}

// A Signature is the outcome of verifying one signer.
type Signature struct {
	// Certificate is nil when the signer's certificate was found
	// neither in the message nor in the backend.
	Certificate  *x509.Certificate
	SigningTime  time.Time
	Digest       crypto.Hash
	Capabilities []cms.EncryptionAlgorithm
	// Bundle is the validated chain of Certificate.
	Bundle *bundler.Bundle
	// Err is nil when both the signature and the chain are valid.
	Err error
}

// Valid reports whether the signature and its chain verified.
func (s *Signature) Valid() bool {
	return s.Err == nil
}

// Context implements SecureContext over a Backend.
type Context struct {
	Backend Backend
	Clock   clock.Clock

	Digest                  crypto.Hash
	EncryptionAlgorithms    []cms.EncryptionAlgorithm
	SignerIdentifierType    cms.SubjectIdentifierType
	RecipientIdentifierType cms.SubjectIdentifierType
	SignaturePadding        *cms.RSASignaturePadding
	// EncryptionPadding is nil for the PKCS #1 default.
	EncryptionPadding *cms.RSAEncryptionPadding
}

var _ SecureContext = &Context{}

// NewContext returns a Context over b with the default algorithms.
func NewContext(b Backend) *Context {
	return &Context{
		Backend:                 b,
		Clock:                   clock.New(),
		Digest:                  crypto.SHA256,
		EncryptionAlgorithms:    append([]cms.EncryptionAlgorithm(nil), cms.StrongestFirst...),
		SignerIdentifierType:    cms.IssuerAndSerialNumber,
		RecipientIdentifierType: cms.IssuerAndSerialNumber,
		SignaturePadding:        cms.RSASignaturePaddingPkcs1,
	}
}

// New opens the backend selected by cfg and returns a Context using
// its algorithms. A nil cfg selects config.DefaultConfig.
func New(ctx context.Context, cfg *config.Config) (*Context, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if !cfg.Valid() {
		return nil, cferr.Wrap(cferr.ArgumentError, cferr.InvalidArgument, errors.New("invalid configuration"))
	}

	var backend Backend
	if cfg.UsesMemory() {
		log.Debugf("smime: using the memory backend")
		backend = NewMemoryBackend()
	} else {
		log.Debugf("smime: using the %s backend", cfg.Database.DriverName)
		db, err := dbconf.Open(cfg.Database)
		if err != nil {
			return nil, err
		}
		if backend, err = NewSQLBackend(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
	}

	c := NewContext(backend)
	c.Digest = cfg.DigestAlgorithm
	c.EncryptionAlgorithms = cfg.Algorithms
	c.SignerIdentifierType = cfg.SignerIdentifierType
	c.RecipientIdentifierType = cfg.RecipientIdentifierType
	c.SignaturePadding = cfg.SignaturePadding
	c.EncryptionPadding = cfg.EncryptionPadding
	return c, nil
}

// Close releases the backend.
func (c *Context) Close() error {
	return c.Backend.Close()
}

func (c *Context) now() time.Time {
	if c.Clock == nil {
		return time.Now()
	}
	return c.Clock.Now()
}

func nullArgument(what string) error {
	return cferr.Wrap(cferr.ArgumentError, cferr.NullArgument, fmt.Errorf("%s is required", what))
}

// parseMailbox returns the lower-cased address of mailbox, which may
// carry a display name.
func parseMailbox(mailbox string) (string, error) {
	if strings.TrimSpace(mailbox) == "" {
		return "", nullArgument("mailbox")
	}
	addr, err := mail.ParseAddress(mailbox)
	if err != nil {
		return "", cferr.Wrap(cferr.ArgumentError, cferr.InvalidArgument, fmt.Errorf("mailbox %q: %w", mailbox, err))
	}
	return strings.ToLower(addr.Address), nil
}

func validateContent(content []byte) error {
	if content == nil {
		return nullArgument("content")
	}
	return nil
}

func validateMailboxes(mailboxes []string) error {
	if len(mailboxes) == 0 {
		return nullArgument("recipient mailbox")
	}
	for _, m := range mailboxes {
		if _, err := parseMailbox(m); err != nil {
			return err
		}
	}
	return nil
}

func validateData(data []byte, what string) error {
	if len(data) == 0 {
		return nullArgument(what)
	}
	return nil
}

// signingIdentity returns the first certificate of mailbox usable for
// signing whose private key is available, preferring certificates
// valid now.
func (c *Context) signingIdentity(ctx context.Context, address string) (*x509.Certificate, crypto.PrivateKey, error) {
	certs, err := c.Backend.Find(ctx, &certstore.Selector{Email: address, KeyUsage: x509.KeyUsageDigitalSignature})
	if err != nil {
		return nil, nil, err
	}
	now := c.now()
	sort.SliceStable(certs, func(i, j int) bool {
		return validAt(certs[i], now) && !validAt(certs[j], now)
	})
	for _, cert := range certs {
		key, err := c.Backend.PrivateKey(ctx, cert)
		if cferr.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		return cert, key, nil
	}
	return nil, nil, cferr.Wrap(cferr.CertificateError, cferr.NotFound, fmt.Errorf("no signing certificate with a private key for %s", address))
}

func validAt(cert *x509.Certificate, t time.Time) bool {
	return !t.Before(cert.NotBefore) && !t.After(cert.NotAfter)
}

func (c *Context) encryptionCertificates(ctx context.Context, address string) ([]*x509.Certificate, error) {
	return c.Backend.Find(ctx, &certstore.Selector{
		Email:    address,
		ValidAt:  c.now(),
		KeyUsage: x509.KeyUsageKeyEncipherment,
	})
}

// CanSign implements SecureContext.
func (c *Context) CanSign(ctx context.Context, mailbox string) (ok bool, err error) {
	address, err := parseMailbox(mailbox)
	if err != nil {
		return false, err
	}
	defer func(start time.Time) { observe(opCanSign, start, err) }(time.Now())

	_, _, err = c.signingIdentity(ctx, address)
	if cferr.IsNotFound(err) {
		return false, nil
	}
	return err == nil, err
}

// CanEncrypt implements SecureContext.
func (c *Context) CanEncrypt(ctx context.Context, mailbox string) (ok bool, err error) {
	address, err := parseMailbox(mailbox)
	if err != nil {
		return false, err
	}
	defer func(start time.Time) { observe(opCanEncrypt, start, err) }(time.Now())

	certs, err := c.encryptionCertificates(ctx, address)
	if err != nil {
		return false, err
	}
	return len(certs) > 0, nil
}

// bundler returns a chain builder over the backend's pools, with extra
// as additional intermediates.
func (c *Context) bundler(ctx context.Context, extra []*x509.Certificate) (*bundler.Bundler, error) {
	anchors, intermediates, err := c.Backend.Pools(ctx)
	if err != nil {
		return nil, err
	}
	return &bundler.Bundler{
		Anchors:       anchors,
		Intermediates: append(intermediates, extra...),
		Checker:       &revoke.Checker{Source: c.Backend, Clock: c.Clock},
		Clock:         c.Clock,
	}, nil
}

// signer builds the CMS signer of mailbox. The chain embedded is the
// validated one when the certificate chains to an anchor, otherwise
// the certificate alone.
func (c *Context) signer(ctx context.Context, address string) (*cms.Signer, error) {
	cert, key, err := c.signingIdentity(ctx, address)
	if err != nil {
		return nil, err
	}
	chain, err := certstore.NewChain(cert)
	if err != nil {
		return nil, err
	}
	b, err := c.bundler(ctx, nil)
	if err != nil {
		return nil, err
	}
	if bundle, err := b.Bundle(ctx, cert, time.Time{}); err == nil {
		for _, issuer := range bundle.Chain {
			if chain.Contains(issuer) {
				continue
			}
			if err := chain.Add(issuer); err != nil {
				return nil, err
			}
		}
	} else {
		log.Warningf("smime: signing as %s without a validated chain: %v", address, err)
	}

	s, err := cms.NewSigner(chain.Certificates(), key)
	if err != nil {
		return nil, err
	}
	s.DigestAlgorithm = c.Digest
	if err := s.SetSignerIdentifierType(c.SignerIdentifierType); err != nil {
		return nil, err
	}
	if c.SignaturePadding != nil {
		if err := s.SetRSASignaturePadding(c.SignaturePadding); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Sign implements SecureContext.
func (c *Context) Sign(ctx context.Context, mailbox string, content []byte, detached bool) (der []byte, err error) {
	address, err := parseMailbox(mailbox)
	if err != nil {
		return nil, err
	}
	if err := validateContent(content); err != nil {
		return nil, err
	}
	defer func(start time.Time) { observe(opSign, start, err) }(time.Now())

	s, err := c.signer(ctx, address)
	if err != nil {
		return nil, err
	}
	log.Debugf("smime: signing %d bytes as %s", len(content), address)
	return cms.Sign(content, []*cms.Signer{s}, pkcs7.SignOptions{
		Detached:     detached,
		SigningTime:  c.now(),
		Capabilities: c.EncryptionAlgorithms,
	})
}

// findSignerCertificate looks up the certificate of si in the backend.
func (c *Context) findSignerCertificate(ctx context.Context, si *pkcs7.SignerInfo) (*x509.Certificate, error) {
	sel := &certstore.Selector{SerialNumber: si.SerialNumber}
	if si.SubjectKeyID != nil {
		sel = &certstore.Selector{SubjectKeyIdentifier: si.SubjectKeyID}
	}
	certs, err := c.Backend.Find(ctx, sel)
	if err != nil {
		return nil, err
	}
	for _, cert := range certs {
		if si.Matches(cert) {
			return cert, nil
		}
	}
	return nil, cferr.Wrap(cferr.CertificateError, cferr.NotFound, errors.New("signer certificate not found"))
}

func (c *Context) verifySigner(ctx context.Context, b *bundler.Bundler, sd *pkcs7.SignedData, si *pkcs7.SignerInfo) (*Signature, error) {
	sig := &Signature{SigningTime: si.SigningTime, Digest: si.Digest, Capabilities: si.Capabilities}

	cert := sd.FindCertificate(si)
	if cert == nil {
		var err error
		if cert, err = c.findSignerCertificate(ctx, si); err != nil {
			if !cferr.IsNotFound(err) {
				return nil, err
			}
			sig.Err = err
			return sig, nil
		}
	}
	sig.Certificate = cert

	if err := sd.VerifySigner(si, cert); err != nil {
		sig.Err = err
		return sig, nil
	}

	at := si.SigningTime
	if at.IsZero() {
		at = c.now()
	}
	bundle, err := b.Bundle(ctx, cert, at)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		sig.Err = err
		return sig, nil
	}
	sig.Bundle = bundle

	if len(si.Capabilities) > 0 {
		c.updateCapabilities(ctx, cert, si.Capabilities, at)
	}
	return sig, nil
}

// updateCapabilities stores cert if needed and records its
// capabilities. Failures are logged: they do not invalidate the
// operation that revealed the capabilities.
func (c *Context) updateCapabilities(ctx context.Context, cert *x509.Certificate, algs []cms.EncryptionAlgorithm, at time.Time) {
	if err := c.Backend.Add(ctx, cert); err != nil {
		log.Warningf("smime: failed to store %s: %v", cert.Subject, err)
		return
	}
	applied, err := c.Backend.UpdateCapabilities(ctx, cert, algs, at)
	if err != nil {
		log.Warningf("smime: failed to update the capabilities of %s: %v", cert.Subject, err)
		return
	}
	log.Debugf("smime: capabilities of %s as of %s applied=%v", helpers.Fingerprint(cert), at, applied)
}

// Verify implements SecureContext. CRLs embedded in the message are
// imported before the chains are validated.
func (c *Context) Verify(ctx context.Context, signed, content []byte) (sigs []*Signature, err error) {
	if err := validateData(signed, "signed data"); err != nil {
		return nil, err
	}
	defer func(start time.Time) { observe(opVerify, start, err) }(time.Now())

	sd, err := pkcs7.ParseSignedData(signed)
	if err != nil {
		return nil, err
	}
	if sd.Detached {
		if content == nil {
			return nil, nullArgument("content of a detached signature")
		}
		sd.SetContent(content)
	}

	for _, der := range sd.CRLs {
		if _, err := c.Backend.ImportCRL(ctx, der); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Warningf("smime: skipping embedded CRL: %v", err)
		}
	}

	b, err := c.bundler(ctx, sd.Certificates)
	if err != nil {
		return nil, err
	}
	for _, si := range sd.Signers {
		sig, err := c.verifySigner(ctx, b, sd, si)
		if err != nil {
			return nil, err
		}
		sigs = append(sigs, sig)
	}
	return sigs, nil
}

// recipient builds the CMS recipient of mailbox from its first valid
// encryption certificate and cached capabilities.
func (c *Context) recipient(ctx context.Context, address string) (*cms.Recipient, error) {
	certs, err := c.encryptionCertificates(ctx, address)
	if err != nil {
		return nil, err
	}
	if len(certs) == 0 {
		return nil, cferr.Wrap(cferr.CertificateError, cferr.NotFound, fmt.Errorf("no valid encryption certificate for %s", address))
	}
	r, err := cms.NewRecipient(certs[0])
	if err != nil {
		return nil, err
	}
	r.RecipientIdentifierType = c.RecipientIdentifierType
	r.RSAEncryptionPadding = c.EncryptionPadding

	algs, updated, err := c.Backend.Capabilities(ctx, certs[0])
	if err != nil {
		return nil, err
	}
	if updated.After(certdb.Never) {
		r.SetCapabilities(algs)
	}
	return r, nil
}

// Encrypt implements SecureContext.
func (c *Context) Encrypt(ctx context.Context, mailboxes []string, content []byte) (der []byte, err error) {
	if err := validateMailboxes(mailboxes); err != nil {
		return nil, err
	}
	if err := validateContent(content); err != nil {
		return nil, err
	}
	defer func(start time.Time) { observe(opEncrypt, start, err) }(time.Now())

	recipients, err := cms.NewRecipientCollection()
	if err != nil {
		return nil, err
	}
	for _, m := range mailboxes {
		address, _ := parseMailbox(m)
		r, err := c.recipient(ctx, address)
		if err != nil {
			return nil, err
		}
		if err := recipients.Add(r); err != nil {
			return nil, err
		}
	}

	der, alg, err := cms.Encrypt(content, recipients, c.EncryptionAlgorithms)
	if err != nil {
		return nil, err
	}
	log.Debugf("smime: encrypted %d bytes for %s with %s", len(content), strings.Join(mailboxes, ", "), alg)
	return der, nil
}

// recipientKey returns the certificate and private key of ri, or a not
// found error.
func (c *Context) recipientKey(ctx context.Context, ri *pkcs7.RecipientInfo) (*x509.Certificate, crypto.PrivateKey, error) {
	sel := &certstore.Selector{SerialNumber: ri.SerialNumber}
	if ri.SubjectKeyID != nil {
		sel = &certstore.Selector{SubjectKeyIdentifier: ri.SubjectKeyID}
	}
	certs, err := c.Backend.Find(ctx, sel)
	if err != nil {
		return nil, nil, err
	}
	for _, cert := range certs {
		if !ri.Matches(cert) {
			continue
		}
		key, err := c.Backend.PrivateKey(ctx, cert)
		if cferr.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		return cert, key, nil
	}
	return nil, nil, cferr.New(cferr.PrivateKeyError, cferr.KeyNotFound)
}

// Decrypt implements SecureContext. The algorithm the content was
// encrypted with is recorded as a capability of the recipient
// certificate.
func (c *Context) Decrypt(ctx context.Context, enveloped []byte) (content []byte, err error) {
	if err := validateData(enveloped, "enveloped data"); err != nil {
		return nil, err
	}
	defer func(start time.Time) { observe(opDecrypt, start, err) }(time.Now())

	ed, err := pkcs7.ParseEnvelopedData(enveloped)
	if err != nil {
		return nil, err
	}
	for _, ri := range ed.Recipients {
		cert, key, err := c.recipientKey(ctx, ri)
		if cferr.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		content, err := ed.Decrypt(ri, key)
		if err != nil {
			return nil, err
		}
		c.recordAlgorithm(ctx, cert, ed.Algorithm)
		return content, nil
	}
	return nil, cferr.Wrap(cferr.CMSError, cferr.NoRecipient, errors.New("no private key for any recipient"))
}

func (c *Context) recordAlgorithm(ctx context.Context, cert *x509.Certificate, alg cms.EncryptionAlgorithm) {
	known, _, err := c.Backend.Capabilities(ctx, cert)
	if err != nil {
		log.Warningf("smime: failed to read the capabilities of %s: %v", cert.Subject, err)
		return
	}
	algs := []cms.EncryptionAlgorithm{alg}
	for _, a := range known {
		if a != alg {
			algs = append(algs, a)
		}
	}
	c.updateCapabilities(ctx, cert, algs, c.now())
}

// Import implements SecureContext.
func (c *Context) Import(ctx context.Context, data []byte, password string) (n int, err error) {
	if err := validateData(data, "certificate data"); err != nil {
		return 0, err
	}
	defer func(start time.Time) { observe(opImport, start, err) }(time.Now())
	return c.Backend.Import(ctx, data, password)
}

// ImportTrusted imports the self-signed certificates of data as trust
// anchors and returns their number.
func (c *Context) ImportTrusted(ctx context.Context, data []byte) (n int, err error) {
	if err := validateData(data, "certificate data"); err != nil {
		return 0, err
	}
	defer func(start time.Time) { observe(opImport, start, err) }(time.Now())

	entries, err := certstore.Decode(data, "")
	if err != nil {
		return 0, err
	}
	var roots []*x509.Certificate
	for _, e := range entries {
		if !helpers.IsSelfSigned(e.Certificate) {
			log.Warningf("smime: %s is not self-signed, not trusting it", e.Certificate.Subject)
			continue
		}
		roots = append(roots, e.Certificate)
	}
	if err := c.Backend.AddTrusted(ctx, roots); err != nil {
		return 0, err
	}
	return len(roots), nil
}

// ImportCRL implements SecureContext.
func (c *Context) ImportCRL(ctx context.Context, data []byte) (rec *certdb.CRLRecord, err error) {
	if err := validateData(data, "CRL data"); err != nil {
		return nil, err
	}
	defer func(start time.Time) { observe(opImportCRL, start, err) }(time.Now())
	return c.Backend.ImportCRL(ctx, data)
}

// Supports reports whether protocol is an S/MIME content type.
func (c *Context) Supports(protocol string) bool {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case ProtocolPKCS7Signature, ProtocolPKCS7MIME, ProtocolXPKCS7Signature, ProtocolXPKCS7MIME:
		return true
	}
	return false
}

// CanSignAsync is the asynchronous form of CanSign.
func (c *Context) CanSignAsync(ctx context.Context, mailbox string) <-chan Result[bool] {
	if _, err := parseMailbox(mailbox); err != nil {
		return failed[bool](err)
	}
	return async(func() (bool, error) { return c.CanSign(ctx, mailbox) })
}

// CanEncryptAsync is the asynchronous form of CanEncrypt.
func (c *Context) CanEncryptAsync(ctx context.Context, mailbox string) <-chan Result[bool] {
	if _, err := parseMailbox(mailbox); err != nil {
		return failed[bool](err)
	}
	return async(func() (bool, error) { return c.CanEncrypt(ctx, mailbox) })
}

// SignAsync is the asynchronous form of Sign.
func (c *Context) SignAsync(ctx context.Context, mailbox string, content []byte, detached bool) <-chan Result[[]byte] {
	if _, err := parseMailbox(mailbox); err != nil {
		return failed[[]byte](err)
	}
	if err := validateContent(content); err != nil {
		return failed[[]byte](err)
	}
	return async(func() ([]byte, error) { return c.Sign(ctx, mailbox, content, detached) })
}

// VerifyAsync is the asynchronous form of Verify.
func (c *Context) VerifyAsync(ctx context.Context, signed, content []byte) <-chan Result[[]*Signature] {
	if err := validateData(signed, "signed data"); err != nil {
		return failed[[]*Signature](err)
	}
	return async(func() ([]*Signature, error) { return c.Verify(ctx, signed, content) })
}

// EncryptAsync is the asynchronous form of Encrypt.
func (c *Context) EncryptAsync(ctx context.Context, mailboxes []string, content []byte) <-chan Result[[]byte] {
	if err := validateMailboxes(mailboxes); err != nil {
		return failed[[]byte](err)
	}
	if err := validateContent(content); err != nil {
		return failed[[]byte](err)
	}
	return async(func() ([]byte, error) { return c.Encrypt(ctx, mailboxes, content) })
}

// DecryptAsync is the asynchronous form of Decrypt.
func (c *Context) DecryptAsync(ctx context.Context, enveloped []byte) <-chan Result[[]byte] {
	if err := validateData(enveloped, "enveloped data"); err != nil {
		return failed[[]byte](err)
	}
	return async(func() ([]byte, error) { return c.Decrypt(ctx, enveloped) })
}

// ImportAsync is the asynchronous form of Import.
func (c *Context) ImportAsync(ctx context.Context, data []byte, password string) <-chan Result[int] {
	if err := validateData(data, "certificate data"); err != nil {
		return failed[int](err)
	}
	return async(func() (int, error) { return c.Import(ctx, data, password) })
}

// ImportCRLAsync is the asynchronous form of ImportCRL.
func (c *Context) ImportCRLAsync(ctx context.Context, data []byte) <-chan Result[*certdb.CRLRecord] {
	if err := validateData(data, "CRL data"); err != nil {
		return failed[*certdb.CRLRecord](err)
	}
	return async(func() (*certdb.CRLRecord, error) { return c.ImportCRL(ctx, data) })
}
