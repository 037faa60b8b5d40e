// Package pkcs7 implements the subset of the Cryptographic Message Syntax
// (RFC 5652) needed for S/MIME: SignedData with signed attributes,
// EnvelopedData with key transport recipients, and the degenerate
// certificates-only SignedData used to package certificates and CRLs.
// reference: https://www.openssl.org/docs/apps/crl2pkcs7.html
//
// Every structure is wrapped in a ContentInfo:
//
//	ContentInfo ::= SEQUENCE {
//		contentType ContentType,
//		content [0] EXPLICIT ANY DEFINED BY contentType
//	}
//
// The signed form has the shape:
//
//	SignedData ::= SEQUENCE {
//		version CMSVersion,
//		digestAlgorithms DigestAlgorithmIdentifiers,
//		encapContentInfo EncapsulatedContentInfo,
//		certificates [0] IMPLICIT CertificateSet OPTIONAL,
//		crls [1] IMPLICIT RevocationInfoChoices OPTIONAL,
//		signerInfos SignerInfos
//	}
//
// Only DER input is supported; indefinite length BER encodings as
// produced by some streaming encoders are rejected by encoding/asn1.
package pkcs7

import (
	"crypto/x509"
	"encoding/asn1"

	cferr "github.com/cloudflare/cfsmime/errors"
)

// PKCS7 represents the ASN1 PKCS7 degenerate signedData content type
type PKCS7 struct {
	Raw          []byte
	Version      int
	Certificates []*x509.Certificate
	// CRLs holds the DER encoded revocation lists.
	CRLs [][]byte
}

// ParsePKCS7 attempts to parse the DER encoded bytes of a
// PKCS7 structure. Signer infos, if any, are ignored.
func ParsePKCS7(raw []byte) (msg *PKCS7, err error) {
	inner, err := parseContentInfo(raw, OIDSignedData)
	if err != nil {
		return nil, err
	}
	var sd signedData
	if _, err = asn1.Unmarshal(inner, &sd); err != nil {
		return nil, cferr.Wrap(cferr.CMSError, cferr.ParseFailed, err)
	}

	msg = &PKCS7{Raw: raw, Version: sd.Version}
	if len(sd.Certificates.Bytes) > 0 {
		msg.Certificates, err = x509.ParseCertificates(sd.Certificates.Bytes)
		if err != nil {
			return nil, cferr.Wrap(cferr.CertificateError, cferr.ParseFailed, err)
		}
	}
	if len(sd.CRLs.Bytes) > 0 {
		if msg.CRLs, err = splitRaw(sd.CRLs.Bytes); err != nil {
			return nil, cferr.Wrap(cferr.CRLError, cferr.ParseFailed, err)
		}
	}
	return msg, nil
}

// EncodeCertsOnly returns the degenerate SignedData structure holding
// certs and no signers, as written by openssl crl2pkcs7.
func EncodeCertsOnly(certs []*x509.Certificate) ([]byte, error) {
	sd := signedData{
		Version:          1,
		EncapContentInfo: encapsulatedContentInfo{EContentType: OIDData},
		Certificates:     rawCertificates(certs),
	}
	return wrapContentInfo(OIDSignedData, sd)
}
