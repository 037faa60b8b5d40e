package pkcs7

import (
	"bytes"
	"crypto"
	"crypto/dsa"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/subtle"
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"
	"time"

	cferr "github.com/cloudflare/cfsmime/errors"
	"github.com/cloudflare/cfsmime/log"
)

// SignerInfo is a parsed SignerInfo of a SignedData structure.
type SignerInfo struct {
	// RawIssuer and SerialNumber are set for IssuerAndSerialNumber
	// signer identifiers, SubjectKeyID for SubjectKeyIdentifier ones.
	RawIssuer    []byte
	SerialNumber *big.Int
	SubjectKeyID []byte

	Digest crypto.Hash
	// PSS is true for RSASSA-PSS signatures.
	PSS bool
	// SigningTime is zero when the attribute is absent.
	SigningTime time.Time
	// Capabilities lists the recognized S/MIME capabilities in the
	// signer's order of preference.
	Capabilities []EncryptionAlgorithm

	raw           signerInfo
	contentType   asn1.ObjectIdentifier
	messageDigest []byte
}

// SignedData is a parsed SignedData structure.
type SignedData struct {
	ContentType  asn1.ObjectIdentifier
	Content      []byte
	Certificates []*x509.Certificate
	CRLs         [][]byte
	Signers      []*SignerInfo

	// Detached is true when the structure carried no content.
	Detached bool
}

func octetContent(v asn1.RawValue) ([]byte, error) {
	var inner asn1.RawValue
	if _, err := asn1.Unmarshal(v.Bytes, &inner); err != nil {
		return nil, err
	}
	if !inner.IsCompound {
		return inner.Bytes, nil
	}
	// Constructed OCTET STRING: concatenate the segments.
	var out []byte
	rest := inner.Bytes
	for len(rest) > 0 {
		var seg asn1.RawValue
		var err error
		if rest, err = asn1.Unmarshal(rest, &seg); err != nil {
			return nil, err
		}
		out = append(out, seg.Bytes...)
	}
	return out, nil
}

func splitRaw(data []byte) ([][]byte, error) {
	var out [][]byte
	for len(data) > 0 {
		var v asn1.RawValue
		rest, err := asn1.Unmarshal(data, &v)
		if err != nil {
			return nil, err
		}
		out = append(out, v.FullBytes)
		data = rest
	}
	return out, nil
}

func parseContentInfo(der []byte, want asn1.ObjectIdentifier) ([]byte, error) {
	var ci contentInfo
	rest, err := asn1.Unmarshal(der, &ci)
	if err != nil {
		return nil, cferr.Wrap(cferr.CMSError, cferr.DecodeFailed, err)
	}
	if len(rest) > 0 {
		return nil, cferr.Wrap(cferr.CMSError, cferr.DecodeFailed, errors.New("trailing data after ContentInfo"))
	}
	if !ci.ContentType.Equal(want) {
		return nil, cferr.Wrap(cferr.CMSError, cferr.ParseFailed, fmt.Errorf("content type is %s, want %s", ci.ContentType, want))
	}
	return ci.Content.Bytes, nil
}

// ParseSignedData parses a DER encoded ContentInfo holding SignedData.
func ParseSignedData(der []byte) (*SignedData, error) {
	inner, err := parseContentInfo(der, OIDSignedData)
	if err != nil {
		return nil, err
	}
	var sd signedData
	if _, err := asn1.Unmarshal(inner, &sd); err != nil {
		return nil, cferr.Wrap(cferr.CMSError, cferr.ParseFailed, err)
	}

	out := &SignedData{ContentType: sd.EncapContentInfo.EContentType}
	if len(sd.EncapContentInfo.EContent.Bytes) == 0 {
		out.Detached = true
	} else if out.Content, err = octetContent(sd.EncapContentInfo.EContent); err != nil {
		return nil, cferr.Wrap(cferr.CMSError, cferr.ParseFailed, err)
	}

	if len(sd.Certificates.Bytes) > 0 {
		if out.Certificates, err = x509.ParseCertificates(sd.Certificates.Bytes); err != nil {
			return nil, cferr.Wrap(cferr.CertificateError, cferr.ParseFailed, err)
		}
	}
	if len(sd.CRLs.Bytes) > 0 {
		if out.CRLs, err = splitRaw(sd.CRLs.Bytes); err != nil {
			return nil, cferr.Wrap(cferr.CRLError, cferr.ParseFailed, err)
		}
	}

	for _, raw := range sd.SignerInfos {
		si, err := parseSignerInfo(raw)
		if err != nil {
			return nil, err
		}
		out.Signers = append(out.Signers, si)
	}
	return out, nil
}

func parseSignerInfo(raw signerInfo) (*SignerInfo, error) {
	si := &SignerInfo{raw: raw}
	switch {
	case raw.SID.Class == asn1.ClassContextSpecific && raw.SID.Tag == 0:
		si.SubjectKeyID = raw.SID.Bytes
	case raw.SID.Class == asn1.ClassUniversal && raw.SID.Tag == asn1.TagSequence:
		var ias issuerAndSerial
		if _, err := asn1.Unmarshal(raw.SID.FullBytes, &ias); err != nil {
			return nil, cferr.Wrap(cferr.CMSError, cferr.ParseFailed, err)
		}
		si.RawIssuer, si.SerialNumber = ias.Issuer.FullBytes, ias.SerialNumber
	default:
		return nil, cferr.Wrap(cferr.CMSError, cferr.ParseFailed, errors.New("unknown signer identifier"))
	}

	var err error
	if si.Digest, err = digestFromOID(raw.DigestAlgorithm.Algorithm); err != nil {
		return nil, err
	}
	if raw.SignatureAlgorithm.Algorithm.Equal(oidRSASSAPSS) {
		si.PSS = true
		h, err := parsePSSParameters(raw.SignatureAlgorithm.Parameters)
		if err != nil {
			return nil, err
		}
		if h != si.Digest {
			return nil, cferr.Wrap(cferr.CMSError, cferr.UnsupportedAlgorithm, errors.New("PSS digest differs from the signer digest"))
		}
	}

	if len(raw.SignedAttrs.Bytes) == 0 {
		return si, nil
	}
	rest := raw.SignedAttrs.Bytes
	for len(rest) > 0 {
		var attr attribute
		if rest, err = asn1.Unmarshal(rest, &attr); err != nil {
			return nil, cferr.Wrap(cferr.CMSError, cferr.ParseFailed, err)
		}
		value := attr.Values.Bytes
		switch {
		case attr.Type.Equal(oidAttributeContentType):
			_, err = asn1.Unmarshal(value, &si.contentType)
		case attr.Type.Equal(oidAttributeMessageDigest):
			_, err = asn1.Unmarshal(value, &si.messageDigest)
		case attr.Type.Equal(oidAttributeSigningTime):
			_, err = asn1.Unmarshal(value, &si.SigningTime)
			si.SigningTime = si.SigningTime.UTC()
		case attr.Type.Equal(oidAttributeSMIMECapabilities):
			var caps []smimeCapability
			if _, err = asn1.Unmarshal(value, &caps); err == nil {
				for _, c := range caps {
					if alg, ok := EncryptionAlgorithmFromOID(c.Algorithm); ok {
						si.Capabilities = append(si.Capabilities, alg)
					} else {
						log.Debugf("pkcs7: ignoring unknown capability %s", c.Algorithm)
					}
				}
			}
		}
		if err != nil {
			return nil, cferr.Wrap(cferr.CMSError, cferr.ParseFailed, fmt.Errorf("signed attribute %s: %v", attr.Type, err))
		}
	}
	if si.messageDigest == nil {
		return nil, cferr.Wrap(cferr.CMSError, cferr.ParseFailed, errors.New("signed attributes lack a message digest"))
	}
	return si, nil
}

// Matches reports whether cert is identified by the signer identifier.
func (si *SignerInfo) Matches(cert *x509.Certificate) bool {
	if cert == nil {
		return false
	}
	if si.SubjectKeyID != nil {
		return bytes.Equal(si.SubjectKeyID, SubjectKeyID(cert))
	}
	return bytes.Equal(si.RawIssuer, cert.RawIssuer) && si.SerialNumber.Cmp(cert.SerialNumber) == 0
}

// SetContent supplies the content of a detached signature.
func (sd *SignedData) SetContent(content []byte) {
	sd.Content = content
}

// FindCertificate returns the embedded certificate identified by si.
func (sd *SignedData) FindCertificate(si *SignerInfo) *x509.Certificate {
	for _, c := range sd.Certificates {
		if si.Matches(c) {
			return c
		}
	}
	return nil
}

// VerifySigner checks the signature of si over the content using the
// public key of cert.
func (sd *SignedData) VerifySigner(si *SignerInfo, cert *x509.Certificate) error {
	if si == nil || cert == nil {
		return cferr.New(cferr.ArgumentError, cferr.NullArgument)
	}
	if sd.Content == nil && sd.Detached {
		return cferr.Wrap(cferr.ArgumentError, cferr.NullArgument, errors.New("detached signature requires the signed content"))
	}

	message := sd.Content
	if len(si.raw.SignedAttrs.Bytes) > 0 {
		if !si.contentType.Equal(sd.ContentType) {
			return cferr.Wrap(cferr.CMSError, cferr.SignatureInvalid, errors.New("content-type attribute mismatch"))
		}
		if subtle.ConstantTimeCompare(digest(si.Digest, sd.Content), si.messageDigest) != 1 {
			return cferr.Wrap(cferr.CMSError, cferr.SignatureInvalid, errors.New("message digest mismatch"))
		}
		var err error
		if message, err = setOf(si.raw.SignedAttrs.Bytes); err != nil {
			return err
		}
	}

	if err := verifySignature(cert.PublicKey, si, message); err != nil {
		return cferr.Wrap(cferr.CMSError, cferr.SignatureInvalid, err)
	}
	return nil
}

func verifySignature(pub crypto.PublicKey, si *SignerInfo, message []byte) error {
	sig := si.raw.Signature
	sum := digest(si.Digest, message)
	switch k := pub.(type) {
	case *rsa.PublicKey:
		if si.PSS {
			return rsa.VerifyPSS(k, si.Digest, sum, sig, &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthAuto, Hash: si.Digest})
		}
		return rsa.VerifyPKCS1v15(k, si.Digest, sum, sig)
	case *ecdsa.PublicKey:
		if !ecdsa.VerifyASN1(k, sum, sig) {
			return errors.New("ECDSA verification failure")
		}
		return nil
	case *dsa.PublicKey:
		var ds dsaSignature
		if _, err := asn1.Unmarshal(sig, &ds); err != nil {
			return err
		}
		if n := (k.Q.BitLen() + 7) / 8; len(sum) > n {
			sum = sum[:n]
		}
		if !dsa.Verify(k, sum, ds.R, ds.S) {
			return errors.New("DSA verification failure")
		}
		return nil
	case ed25519.PublicKey:
		if !ed25519.Verify(k, message, sig) {
			return errors.New("Ed25519 verification failure")
		}
		return nil
	}
	return cferr.New(cferr.PrivateKeyError, cferr.UnsupportedKeyType)
}
