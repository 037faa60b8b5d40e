// Package helpers implements utility functionality common to many
// cfsmime packages.
package helpers

import (
	"bytes"
	"crypto"
	"crypto/dsa"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/asn1"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/cloudflare/cfsmime/crypto/pkcs12"
	"github.com/cloudflare/cfsmime/crypto/pkcs7"
	cferr "github.com/cloudflare/cfsmime/errors"
	"github.com/cloudflare/cfsmime/helpers/derhelpers"
	"github.com/cloudflare/cfsmime/log"
)

// OneYear is a time.Duration representing a year's worth of seconds.
const OneYear = 8760 * time.Hour

// OneDay is a time.Duration representing a day's worth of seconds.
const OneDay = 24 * time.Hour

// NotCA is the basic-constraints value of a certificate that is not a CA.
const NotCA = -1

// UnlimitedPathLength is the basic-constraints value of a CA without a
// path length constraint.
const UnlimitedPathLength = math.MaxInt32

var oidEmailAddress = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 1}

// KeyLength returns the bit size of ECDSA, RSA or DSA PublicKey
func KeyLength(key interface{}) int {
	switch k := key.(type) {
	case *ecdsa.PublicKey:
		return k.Curve.Params().BitSize
	case *rsa.PublicKey:
		return k.N.BitLen()
	case *dsa.PublicKey:
		return k.P.BitLen()
	case ed25519.PublicKey:
		return 256
	}
	return 0
}

// ExpiryTime returns the time when the certificate chain is expired.
func ExpiryTime(chain []*x509.Certificate) *time.Time {
	if len(chain) == 0 {
		return nil
	}
	notAfter := chain[0].NotAfter
	for _, cert := range chain {
		if cert.NotAfter.Before(notAfter) {
			notAfter = cert.NotAfter
		}
	}
	return &notAfter
}

// SignatureString returns the signature string corresponding to
// an X509 signature algorithm.
func SignatureString(alg x509.SignatureAlgorithm) string {
	switch alg {
	case x509.SHA1WithRSA:
		return "SHA1WithRSA"
	case x509.SHA256WithRSA:
		return "SHA256WithRSA"
	case x509.SHA384WithRSA:
		return "SHA384WithRSA"
	case x509.SHA512WithRSA:
		return "SHA512WithRSA"
	case x509.SHA256WithRSAPSS:
		return "SHA256WithRSAPSS"
	case x509.SHA384WithRSAPSS:
		return "SHA384WithRSAPSS"
	case x509.SHA512WithRSAPSS:
		return "SHA512WithRSAPSS"
	case x509.DSAWithSHA1:
		return "DSAWithSHA1"
	case x509.DSAWithSHA256:
		return "DSAWithSHA256"
	case x509.ECDSAWithSHA1:
		return "ECDSAWithSHA1"
	case x509.ECDSAWithSHA256:
		return "ECDSAWithSHA256"
	case x509.ECDSAWithSHA384:
		return "ECDSAWithSHA384"
	case x509.ECDSAWithSHA512:
		return "ECDSAWithSHA512"
	case x509.PureEd25519:
		return "Ed25519"
	default:
		return "Unknown Signature"
	}
}

var digestNames = map[string]crypto.Hash{
	"sha1":   crypto.SHA1,
	"sha224": crypto.SHA224,
	"sha256": crypto.SHA256,
	"sha384": crypto.SHA384,
	"sha512": crypto.SHA512,
}

// ParseDigest maps a digest name such as "sha256" to its hash.
func ParseDigest(name string) (crypto.Hash, error) {
	h, ok := digestNames[strings.ToLower(strings.ReplaceAll(name, "-", ""))]
	if !ok {
		return 0, cferr.Wrap(cferr.CMSError, cferr.UnsupportedAlgorithm, errors.New("unknown digest "+name))
	}
	return h, nil
}

// DigestName is the inverse of ParseDigest.
func DigestName(h crypto.Hash) string {
	for name, v := range digestNames {
		if v == h {
			return name
		}
	}
	return "unknown"
}

// Fingerprint returns the uppercase hex SHA-1 digest of the DER
// encoding of cert.
func Fingerprint(cert *x509.Certificate) string {
	sum := sha1.Sum(cert.Raw)
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// FingerprintEqual compares two fingerprints case-insensitively.
func FingerprintEqual(a, b string) bool {
	return strings.EqualFold(a, b)
}

// SubjectKeyID returns the subject key identifier extension of cert,
// or the SHA-1 of the subject public key when the extension is absent
// (RFC 5280, 4.2.1.2, method 1).
func SubjectKeyID(cert *x509.Certificate) []byte {
	return pkcs7.SubjectKeyID(cert)
}

// BasicConstraints returns NotCA for end-entity certificates, the
// maximum path length for constrained CAs and UnlimitedPathLength
// otherwise.
func BasicConstraints(cert *x509.Certificate) int {
	if !cert.BasicConstraintsValid || !cert.IsCA {
		return NotCA
	}
	if cert.MaxPathLen > 0 || cert.MaxPathLenZero {
		return cert.MaxPathLen
	}
	return UnlimitedPathLength
}

// EmailAddresses returns the lower-cased rfc822Name SANs of cert
// followed by any emailAddress attributes of its subject.
func EmailAddresses(cert *x509.Certificate) []string {
	var addrs []string
	seen := map[string]bool{}
	add := func(s string) {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" && !seen[s] {
			seen[s] = true
			addrs = append(addrs, s)
		}
	}
	for _, addr := range cert.EmailAddresses {
		add(addr)
	}
	for _, atv := range cert.Subject.Names {
		if atv.Type.Equal(oidEmailAddress) {
			if s, ok := atv.Value.(string); ok {
				add(s)
			}
		}
	}
	return addrs
}

// IsSelfSigned reports whether cert is issued by its own subject and
// carries a valid signature from its own key.
func IsSelfSigned(cert *x509.Certificate) bool {
	if !bytes.Equal(cert.RawIssuer, cert.RawSubject) {
		return false
	}
	return cert.CheckSignature(cert.SignatureAlgorithm, cert.RawTBSCertificate, cert.Signature) == nil
}

// PublicKeysEqual compares two public keys component by component.
func PublicKeysEqual(a, b crypto.PublicKey) bool {
	switch ka := a.(type) {
	case *rsa.PublicKey:
		return ka.Equal(b)
	case *ecdsa.PublicKey:
		return ka.Equal(b)
	case ed25519.PublicKey:
		return ka.Equal(b)
	case *dsa.PublicKey:
		kb, ok := b.(*dsa.PublicKey)
		if !ok {
			return false
		}
		return ka.P.Cmp(kb.P) == 0 && ka.Q.Cmp(kb.Q) == 0 &&
			ka.G.Cmp(kb.G) == 0 && ka.Y.Cmp(kb.Y) == 0
	}
	return false
}

// CheckKeyPair returns a KeyMismatch error unless key is the private
// half of the public key in cert.
func CheckKeyPair(cert *x509.Certificate, key crypto.PrivateKey) error {
	if cert == nil || key == nil {
		return cferr.New(cferr.ArgumentError, cferr.NullArgument)
	}
	pub, err := derhelpers.PublicKey(key)
	if err != nil {
		return err
	}
	if !PublicKeysEqual(cert.PublicKey, pub) {
		return cferr.New(cferr.PrivateKeyError, cferr.KeyMismatch)
	}
	return nil
}

// ParseCertificatesPEM parses a sequence of PEM-encoded certificate and returns them.
func ParseCertificatesPEM(certsPEM []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	var err error
	certsPEM = bytes.TrimSpace(certsPEM)
	for len(certsPEM) > 0 {
		var cert *x509.Certificate
		cert, certsPEM, err = ParseOneCertificateFromPEM(certsPEM)
		if err != nil {
			return nil, cferr.Wrap(cferr.CertificateError, cferr.ParseFailed, err)
		} else if cert == nil {
			break
		}

		certs = append(certs, cert)
		certsPEM = bytes.TrimSpace(certsPEM)
	}
	if len(certsPEM) > 0 {
		return nil, cferr.New(cferr.CertificateError, cferr.DecodeFailed)
	}
	return certs, nil
}

// ParseCertificatesDER parses a DER encoding of a certificate object and
// possibly a private key. The object can be a single certificate,
// concatenated certificates, a PKCS #7 certificate bundle or a
// password protected PKCS #12 file.
func ParseCertificatesDER(certsDER []byte, password string) (certs []*x509.Certificate, key crypto.PrivateKey, err error) {
	certsDER = bytes.TrimSpace(certsDER)
	if len(certsDER) == 0 {
		return nil, nil, cferr.New(cferr.CertificateError, cferr.DecodeFailed)
	}

	if p7, err := pkcs7.ParsePKCS7(certsDER); err == nil {
		if len(p7.Certificates) == 0 {
			return nil, nil, cferr.Wrap(cferr.CertificateError, cferr.DecodeFailed, errors.New("PKCS #7 structure contains no certificates"))
		}
		return p7.Certificates, nil, nil
	}

	if certs, err := x509.ParseCertificates(certsDER); err == nil && len(certs) > 0 {
		return certs, nil, nil
	}

	bag, err := pkcs12.Decode(certsDER, password)
	if err != nil {
		log.Debugf("certificate data is neither DER, PKCS #7 nor PKCS #12: %v", err)
		return nil, nil, err
	}
	return bag.Certificates(), bag.Key, nil
}

// ParseSelfSignedCertificatePEM parses a PEM-encoded certificate and check if it is self-signed.
func ParseSelfSignedCertificatePEM(certPEM []byte) (*x509.Certificate, error) {
	cert, err := ParseCertificatePEM(certPEM)
	if err != nil {
		return nil, err
	}
	if err := cert.CheckSignature(cert.SignatureAlgorithm, cert.RawTBSCertificate, cert.Signature); err != nil {
		return nil, cferr.Wrap(cferr.CertificateError, cferr.VerifyFailed, err)
	}
	return cert, nil
}

// ParseCertificatePEM parses and returns a PEM-encoded certificate.
func ParseCertificatePEM(certPEM []byte) (*x509.Certificate, error) {
	certPEM = bytes.TrimSpace(certPEM)
	cert, rest, err := ParseOneCertificateFromPEM(certPEM)
	if err != nil {
		// Log the actual parsing error but throw a default parse error message.
		log.Debugf("Certificate parsing error: %v", err)
		return nil, cferr.New(cferr.CertificateError, cferr.ParseFailed)
	} else if cert == nil {
		return nil, cferr.New(cferr.CertificateError, cferr.DecodeFailed)
	} else if len(bytes.TrimSpace(rest)) > 0 {
		return nil, cferr.Wrap(cferr.CertificateError, cferr.ParseFailed, errors.New("the PEM file should contain only one certificate"))
	}
	return cert, nil
}

// ParseOneCertificateFromPEM attempts to parse one certificate from the top of the certsPEM,
// which may contain multiple certs.
func ParseOneCertificateFromPEM(certsPEM []byte) (cert *x509.Certificate, rest []byte, err error) {
	block, rest := pem.Decode(certsPEM)
	if block == nil {
		return nil, rest, nil
	}
	cert, err = x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, rest, err
	}
	return
}

// ParsePrivateKeyPEM parses and returns a PEM-encoded private
// key. The private key may be an unencrypted PKCS#8, PKCS#1, elliptic
// curve or DSA private key.
func ParsePrivateKeyPEM(keyPEM []byte) (key crypto.PrivateKey, err error) {
	keyDER, _ := pem.Decode(keyPEM)
	if keyDER == nil {
		return nil, cferr.New(cferr.PrivateKeyError, cferr.DecodeFailed)
	}
	if procType, ok := keyDER.Headers["Proc-Type"]; ok {
		if strings.Contains(procType, "ENCRYPTED") {
			return nil, cferr.New(cferr.PrivateKeyError, cferr.Encrypted)
		}
	}
	return derhelpers.ParsePrivateKeyDER(keyDER.Bytes)
}

// ParseCertificate parses a single certificate in PEM or DER form.
func ParseCertificate(data []byte) (*x509.Certificate, error) {
	trimmed := bytes.TrimSpace(data)
	if bytes.HasPrefix(trimmed, []byte("-----BEGIN")) {
		return ParseCertificatePEM(trimmed)
	}
	cert, err := x509.ParseCertificate(trimmed)
	if err != nil {
		return nil, cferr.Wrap(cferr.CertificateError, cferr.ParseFailed, err)
	}
	return cert, nil
}
