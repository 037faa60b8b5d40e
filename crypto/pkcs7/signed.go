package pkcs7

import (
	"bytes"
	"crypto"
	"crypto/dsa"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"math/big"
	"sort"
	"time"

	cferr "github.com/cloudflare/cfsmime/errors"
	"github.com/cloudflare/cfsmime/log"
)

type contentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue `asn1:"explicit,optional,tag:0"`
}

type encapsulatedContentInfo struct {
	EContentType asn1.ObjectIdentifier
	EContent     asn1.RawValue `asn1:"explicit,optional,tag:0"`
}

type issuerAndSerial struct {
	Issuer       asn1.RawValue
	SerialNumber *big.Int
}

type attribute struct {
	Type   asn1.ObjectIdentifier
	Values asn1.RawValue
}

type signerInfo struct {
	Version            int
	SID                asn1.RawValue
	DigestAlgorithm    pkix.AlgorithmIdentifier
	SignedAttrs        asn1.RawValue `asn1:"optional,tag:0"`
	SignatureAlgorithm pkix.AlgorithmIdentifier
	Signature          []byte
	UnsignedAttrs      asn1.RawValue `asn1:"optional,tag:1"`
}

type signedData struct {
	Version          int
	DigestAlgorithms []pkix.AlgorithmIdentifier `asn1:"set"`
	EncapContentInfo encapsulatedContentInfo
	Certificates     asn1.RawValue `asn1:"optional,tag:0"`
	CRLs             asn1.RawValue `asn1:"optional,tag:1"`
	SignerInfos      []signerInfo  `asn1:"set"`
}

type smimeCapability struct {
	Algorithm  asn1.ObjectIdentifier
	Parameters asn1.RawValue `asn1:"optional"`
}

type dsaSignature struct {
	R, S *big.Int
}

// SignerParams describes one signer of a SignedData structure.
type SignerParams struct {
	Certificate *x509.Certificate
	// Key is a crypto.Signer or a *dsa.PrivateKey.
	Key crypto.PrivateKey
	// Chain holds additional certificates to embed.
	Chain  []*x509.Certificate
	Digest crypto.Hash
	// UseSubjectKeyID selects the [0] SubjectKeyIdentifier signer
	// identifier instead of IssuerAndSerialNumber.
	UseSubjectKeyID bool
	// PSS selects RSASSA-PSS for RSA keys.
	PSS bool
}

// SignOptions controls the SignedData structure produced by Sign.
type SignOptions struct {
	// Detached omits the content from the structure.
	Detached bool
	// SigningTime is written as the signing-time attribute when set.
	SigningTime time.Time
	// Capabilities is written as the S/MIME capabilities attribute.
	Capabilities []EncryptionAlgorithm
	// CRLs holds DER encoded CRLs to embed.
	CRLs [][]byte
}

// SubjectKeyID returns the subject key identifier of cert, derived
// from the public key (RFC 5280 method 1) when the extension is absent.
func SubjectKeyID(cert *x509.Certificate) []byte {
	if len(cert.SubjectKeyId) > 0 {
		return cert.SubjectKeyId
	}
	var spki struct {
		Algorithm asn1.RawValue
		PublicKey asn1.BitString
	}
	if _, err := asn1.Unmarshal(cert.RawSubjectPublicKeyInfo, &spki); err != nil {
		return nil
	}
	sum := sha1.Sum(spki.PublicKey.Bytes)
	return sum[:]
}

func keyFamily(pub crypto.PublicKey) string {
	switch pub.(type) {
	case *rsa.PublicKey:
		return "rsa"
	case *ecdsa.PublicKey:
		return "ecdsa"
	case *dsa.PublicKey:
		return "dsa"
	case ed25519.PublicKey:
		return "ed25519"
	}
	return ""
}

func marshalSID(cert *x509.Certificate, useSKI bool) (asn1.RawValue, error) {
	if useSKI {
		ski := SubjectKeyID(cert)
		if len(ski) == 0 {
			return asn1.RawValue{}, cferr.Wrap(cferr.CMSError, cferr.Unknown, errors.New("certificate has no usable subject key identifier"))
		}
		return asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, Bytes: ski}, nil
	}
	der, err := asn1.Marshal(issuerAndSerial{
		Issuer:       asn1.RawValue{FullBytes: cert.RawIssuer},
		SerialNumber: cert.SerialNumber,
	})
	if err != nil {
		return asn1.RawValue{}, err
	}
	return asn1.RawValue{FullBytes: der}, nil
}

func newAttribute(oid asn1.ObjectIdentifier, value interface{}) ([]byte, error) {
	v, err := asn1.Marshal(value)
	if err != nil {
		return nil, err
	}
	return asn1.Marshal(attribute{
		Type:   oid,
		Values: asn1.RawValue{Class: asn1.ClassUniversal, Tag: asn1.TagSet, IsCompound: true, Bytes: v},
	})
}

// marshalAttributes returns the DER SET OF encoding of attrs, sorted
// as DER requires.
func marshalAttributes(attrs [][]byte) []byte {
	sort.Slice(attrs, func(i, j int) bool { return bytes.Compare(attrs[i], attrs[j]) < 0 })
	return bytes.Join(attrs, nil)
}

func setOf(content []byte) ([]byte, error) {
	return asn1.Marshal(asn1.RawValue{Class: asn1.ClassUniversal, Tag: asn1.TagSet, IsCompound: true, Bytes: content})
}

func capabilitiesValue(algs []EncryptionAlgorithm) []smimeCapability {
	caps := make([]smimeCapability, 0, len(algs))
	for _, alg := range algs {
		if alg.Valid() {
			caps = append(caps, smimeCapability{Algorithm: alg.OID()})
		}
	}
	return caps
}

func digest(h crypto.Hash, data []byte) []byte {
	d := h.New()
	d.Write(data)
	return d.Sum(nil)
}

func signDigest(key crypto.PrivateKey, h crypto.Hash, pss bool, message, sum []byte) ([]byte, error) {
	switch k := key.(type) {
	case *dsa.PrivateKey:
		if n := (k.Q.BitLen() + 7) / 8; len(sum) > n {
			sum = sum[:n]
		}
		r, s, err := dsa.Sign(rand.Reader, k, sum)
		if err != nil {
			return nil, err
		}
		return asn1.Marshal(dsaSignature{r, s})
	case ed25519.PrivateKey:
		return k.Sign(rand.Reader, message, crypto.Hash(0))
	case crypto.Signer:
		if _, isRSA := k.Public().(*rsa.PublicKey); isRSA && pss {
			return k.Sign(rand.Reader, sum, &rsa.PSSOptions{SaltLength: h.Size(), Hash: h})
		}
		if _, isEd := k.Public().(ed25519.PublicKey); isEd {
			return k.Sign(rand.Reader, message, crypto.Hash(0))
		}
		return k.Sign(rand.Reader, sum, h)
	}
	return nil, cferr.New(cferr.PrivateKeyError, cferr.UnsupportedKeyType)
}

func newSignerInfo(p SignerParams, content []byte, opts SignOptions) (signerInfo, error) {
	if p.Certificate == nil || p.Key == nil {
		return signerInfo{}, cferr.New(cferr.ArgumentError, cferr.NullArgument)
	}
	h := p.Digest
	if h == 0 {
		h = crypto.SHA256
	}
	if keyFamily(p.Certificate.PublicKey) == "ed25519" {
		h = crypto.SHA512
	}

	digestAlg, err := digestOID(h)
	if err != nil {
		return signerInfo{}, err
	}
	sid, err := marshalSID(p.Certificate, p.UseSubjectKeyID)
	if err != nil {
		return signerInfo{}, err
	}

	var attrs [][]byte
	a, err := newAttribute(oidAttributeContentType, OIDData)
	if err != nil {
		return signerInfo{}, err
	}
	attrs = append(attrs, a)
	if a, err = newAttribute(oidAttributeMessageDigest, digest(h, content)); err != nil {
		return signerInfo{}, err
	}
	attrs = append(attrs, a)
	if !opts.SigningTime.IsZero() {
		if a, err = newAttribute(oidAttributeSigningTime, opts.SigningTime.UTC()); err != nil {
			return signerInfo{}, err
		}
		attrs = append(attrs, a)
	}
	if caps := capabilitiesValue(opts.Capabilities); len(caps) > 0 {
		if a, err = newAttribute(oidAttributeSMIMECapabilities, caps); err != nil {
			return signerInfo{}, err
		}
		attrs = append(attrs, a)
	}
	attrContent := marshalAttributes(attrs)
	toSign, err := setOf(attrContent)
	if err != nil {
		return signerInfo{}, err
	}

	var sigAlg pkix.AlgorithmIdentifier
	_, isRSA := p.Certificate.PublicKey.(*rsa.PublicKey)
	if isRSA && p.PSS {
		if sigAlg, err = PSSAlgorithmIdentifier(h); err != nil {
			return signerInfo{}, err
		}
	} else {
		oid, err := signatureOID(p.Certificate.PublicKey, h)
		if err != nil {
			return signerInfo{}, err
		}
		sigAlg = pkix.AlgorithmIdentifier{Algorithm: oid}
		if isRSA {
			sigAlg.Parameters = nullParameters
		}
	}

	sig, err := signDigest(p.Key, h, isRSA && p.PSS, toSign, digest(h, toSign))
	if err != nil {
		return signerInfo{}, cferr.Wrap(cferr.CMSError, cferr.SignFailed, err)
	}

	version := 1
	if p.UseSubjectKeyID {
		version = 3
	}
	return signerInfo{
		Version:            version,
		SID:                sid,
		DigestAlgorithm:    pkix.AlgorithmIdentifier{Algorithm: digestAlg},
		SignedAttrs:        asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, IsCompound: true, Bytes: attrContent},
		SignatureAlgorithm: sigAlg,
		Signature:          sig,
	}, nil
}

// Sign produces a DER encoded ContentInfo wrapping a SignedData
// structure with one SignerInfo per signer.
func Sign(content []byte, signers []SignerParams, opts SignOptions) ([]byte, error) {
	if len(signers) == 0 {
		return nil, cferr.Wrap(cferr.ArgumentError, cferr.NullArgument, errors.New("no signers"))
	}

	sd := signedData{Version: 1}
	sd.EncapContentInfo.EContentType = OIDData
	if !opts.Detached {
		octets, err := asn1.Marshal(content)
		if err != nil {
			return nil, err
		}
		sd.EncapContentInfo.EContent = asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, IsCompound: true, Bytes: octets}
	}

	var certs []*x509.Certificate
	seen := map[string]bool{}
	addCert := func(c *x509.Certificate) {
		if c != nil && !seen[string(c.Raw)] {
			seen[string(c.Raw)] = true
			certs = append(certs, c)
		}
	}
	seenDigest := map[string]bool{}
	for _, p := range signers {
		si, err := newSignerInfo(p, content, opts)
		if err != nil {
			return nil, err
		}
		if si.Version == 3 {
			sd.Version = 3
		}
		if !seenDigest[si.DigestAlgorithm.Algorithm.String()] {
			seenDigest[si.DigestAlgorithm.Algorithm.String()] = true
			sd.DigestAlgorithms = append(sd.DigestAlgorithms, si.DigestAlgorithm)
		}
		sd.SignerInfos = append(sd.SignerInfos, si)
		addCert(p.Certificate)
		for _, c := range p.Chain {
			addCert(c)
		}
		log.Debugf("pkcs7: signed with %s as %s", p.Certificate.Subject, si.SignatureAlgorithm.Algorithm)
	}

	sd.Certificates = rawCertificates(certs)
	if len(opts.CRLs) > 0 {
		sd.CRLs = asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 1, IsCompound: true, Bytes: bytes.Join(opts.CRLs, nil)}
	}
	return wrapContentInfo(OIDSignedData, sd)
}

func rawCertificates(certs []*x509.Certificate) asn1.RawValue {
	if len(certs) == 0 {
		return asn1.RawValue{}
	}
	var buf bytes.Buffer
	for _, c := range certs {
		buf.Write(c.Raw)
	}
	return asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, IsCompound: true, Bytes: buf.Bytes()}
}

func wrapContentInfo(contentType asn1.ObjectIdentifier, content interface{}) ([]byte, error) {
	inner, err := asn1.Marshal(content)
	if err != nil {
		return nil, err
	}
	return asn1.Marshal(contentInfo{
		ContentType: contentType,
		Content:     asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, IsCompound: true, Bytes: inner},
	})
}
