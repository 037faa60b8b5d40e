package helpers

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/pem"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/cloudflare/cfsmime/crypto/pkcs7"
	cferr "github.com/cloudflare/cfsmime/errors"
	"github.com/cloudflare/cfsmime/helpers/testsuite"
)

func mustIdentity(t *testing.T, opts testsuite.Options) *testsuite.Identity {
	t.Helper()
	id, err := testsuite.NewSelfSigned(opts)
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func TestKeyLength(t *testing.T) {
	expNil := 0
	recNil := KeyLength(nil)
	if expNil != recNil {
		t.Fatal("KeyLength on nil did not return 0")
	}

	expNonsense := 0
	inNonsense := "string?"
	outNonsense := KeyLength(inNonsense)
	if expNonsense != outNonsense {
		t.Fatal("KeyLength malfunctioning on nonsense input")
	}

	ecdsaIn, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if KeyLength(&ecdsaIn.PublicKey) != 256 {
		t.Fatal("KeyLength malfunctioning on ecdsa input")
	}

	id := mustIdentity(t, testsuite.Options{CommonName: "rsa", KeyType: testsuite.RSA})
	if KeyLength(id.Certificate.PublicKey) != 2048 {
		t.Fatal("KeyLength malfunctioning on rsa input")
	}
}

func TestExpiryTime(t *testing.T) {
	// nil case
	var emptyInput []*x509.Certificate
	if ExpiryTime(emptyInput) != nil {
		t.Fatal("Expected nil output for empty input")
	}

	now := time.Now()
	a := mustIdentity(t, testsuite.Options{CommonName: "a", NotAfter: now.Add(2 * time.Hour)})
	b := mustIdentity(t, testsuite.Options{CommonName: "b", NotAfter: now.Add(time.Hour)})
	got := ExpiryTime([]*x509.Certificate{a.Certificate, b.Certificate})
	if !got.Equal(b.Certificate.NotAfter) {
		t.Fatalf("expected earliest NotAfter %v, got %v", b.Certificate.NotAfter, got)
	}
}

func TestFingerprintStable(t *testing.T) {
	id := mustIdentity(t, testsuite.Options{CommonName: "fp"})
	reparsed, err := x509.ParseCertificate(id.Certificate.Raw)
	if err != nil {
		t.Fatal(err)
	}

	fp := Fingerprint(id.Certificate)
	if len(fp) != 40 || fp != strings.ToUpper(fp) {
		t.Fatal("unexpected fingerprint format:", fp)
	}
	if Fingerprint(reparsed) != fp {
		t.Fatal("fingerprint changed across a decode round trip")
	}
	if !FingerprintEqual(fp, strings.ToLower(fp)) {
		t.Fatal("fingerprints should compare case-insensitively")
	}

	// Every extracted field survives a round trip.
	if reparsed.SerialNumber.Cmp(id.Certificate.SerialNumber) != 0 ||
		reparsed.Subject.String() != id.Certificate.Subject.String() ||
		!reparsed.NotBefore.Equal(id.Certificate.NotBefore) ||
		!reparsed.NotAfter.Equal(id.Certificate.NotAfter) ||
		reparsed.KeyUsage != id.Certificate.KeyUsage ||
		BasicConstraints(reparsed) != BasicConstraints(id.Certificate) {
		t.Fatal("certificate fields changed across a decode round trip")
	}
}

func TestBasicConstraints(t *testing.T) {
	leaf := mustIdentity(t, testsuite.Options{CommonName: "leaf"})
	if BasicConstraints(leaf.Certificate) != NotCA {
		t.Fatal("leaf should not be a CA")
	}
	unlimited := mustIdentity(t, testsuite.Options{CommonName: "ca", IsCA: true, MaxPathLen: -1})
	if BasicConstraints(unlimited.Certificate) != UnlimitedPathLength {
		t.Fatal("expected unlimited path length, got", BasicConstraints(unlimited.Certificate))
	}
	zero := mustIdentity(t, testsuite.Options{CommonName: "ca0", IsCA: true, MaxPathLen: 0})
	if BasicConstraints(zero.Certificate) != 0 {
		t.Fatal("expected path length 0, got", BasicConstraints(zero.Certificate))
	}
	two := mustIdentity(t, testsuite.Options{CommonName: "ca2", IsCA: true, MaxPathLen: 2})
	if BasicConstraints(two.Certificate) != 2 {
		t.Fatal("expected path length 2, got", BasicConstraints(two.Certificate))
	}
}

func TestSubjectKeyID(t *testing.T) {
	explicit := mustIdentity(t, testsuite.Options{CommonName: "ski", SubjectKeyID: []byte{1, 2, 3, 4}})
	if !bytes.Equal(SubjectKeyID(explicit.Certificate), []byte{1, 2, 3, 4}) {
		t.Fatal("explicit subject key identifier not returned")
	}

	derived := mustIdentity(t, testsuite.Options{CommonName: "noski"})
	if len(derived.Certificate.SubjectKeyId) != 0 {
		t.Skip("certificate unexpectedly carries a subject key identifier")
	}
	ski := SubjectKeyID(derived.Certificate)
	if len(ski) != 20 {
		t.Fatal("derived subject key identifier should be a SHA-1 digest")
	}
	if !bytes.Equal(ski, SubjectKeyID(derived.Certificate)) {
		t.Fatal("derived subject key identifier is not stable")
	}
}

func TestEmailAddresses(t *testing.T) {
	key, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(7),
		Subject: pkix.Name{
			CommonName: "mail",
			ExtraNames: []pkix.AttributeTypeAndValue{
				{Type: asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 1}, Value: "Bob@Example.com"},
			},
		},
		EmailAddresses: []string{"Alice@Example.com", "bob@example.com"},
		NotBefore:      time.Now(),
		NotAfter:       time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	cert, _ := x509.ParseCertificate(der)

	got := EmailAddresses(cert)
	if len(got) != 2 || got[0] != "alice@example.com" || got[1] != "bob@example.com" {
		t.Fatal("unexpected addresses:", got)
	}
}

func TestCheckKeyPair(t *testing.T) {
	a := mustIdentity(t, testsuite.Options{CommonName: "a"})
	b := mustIdentity(t, testsuite.Options{CommonName: "b"})

	if err := CheckKeyPair(a.Certificate, a.Key); err != nil {
		t.Fatal(err)
	}
	err := CheckKeyPair(a.Certificate, b.Key)
	if !cferr.IsKeyMismatch(err) {
		t.Fatal("expected a key mismatch error, got", err)
	}
	if !cferr.IsArgument(CheckKeyPair(nil, a.Key)) {
		t.Fatal("expected an argument error for a nil certificate")
	}
}

func TestIsSelfSigned(t *testing.T) {
	root, err := testsuite.NewRootCA("root")
	if err != nil {
		t.Fatal(err)
	}
	leaf, err := root.Issue(testsuite.Options{CommonName: "leaf"})
	if err != nil {
		t.Fatal(err)
	}
	if !IsSelfSigned(root.Certificate) {
		t.Fatal("root should be self-signed")
	}
	if IsSelfSigned(leaf.Certificate) {
		t.Fatal("leaf should not be self-signed")
	}
}

func TestSignatureString(t *testing.T) {
	if SignatureString(x509.SHA256WithRSA) != "SHA256WithRSA" {
		t.Fatal("SignatureString malfunctioning on SHA256WithRSA")
	}
	if SignatureString(x509.UnknownSignatureAlgorithm) != "Unknown Signature" {
		t.Fatal("SignatureString malfunctioning on unknown input")
	}
}

func TestParseDigest(t *testing.T) {
	for _, name := range []string{"sha1", "SHA256", "sha-384", "sha512"} {
		h, err := ParseDigest(name)
		if err != nil {
			t.Fatal(err)
		}
		if !strings.EqualFold(DigestName(h), strings.ReplaceAll(name, "-", "")) {
			t.Fatalf("DigestName(ParseDigest(%q)) = %q", name, DigestName(h))
		}
	}
	if _, err := ParseDigest("md5"); !cferr.IsUnsupported(err) {
		t.Fatal("expected an unsupported error for md5, got", err)
	}
}

func TestParseCertificatesPEM(t *testing.T) {
	a := mustIdentity(t, testsuite.Options{CommonName: "a"})
	b := mustIdentity(t, testsuite.Options{CommonName: "b"})
	bundle := append(a.CertificatePEM(), '\n')
	bundle = append(bundle, b.CertificatePEM()...)

	certs, err := ParseCertificatesPEM(bundle)
	if err != nil {
		t.Fatal(err)
	}
	if len(certs) != 2 {
		t.Fatal("expected 2 certificates, got", len(certs))
	}

	if _, err := ParseCertificatesPEM(append(bundle, []byte("garbage")...)); err == nil {
		t.Fatal("trailing garbage should fail")
	}

	if _, err := ParseCertificatePEM(bundle); err == nil {
		t.Fatal("ParseCertificatePEM should reject a bundle")
	}
	if _, err := ParseCertificatePEM([]byte("")); err == nil {
		t.Fatal("ParseCertificatePEM should reject empty input")
	}
}

func TestParseCertificatesDER(t *testing.T) {
	a := mustIdentity(t, testsuite.Options{CommonName: "a"})
	b := mustIdentity(t, testsuite.Options{CommonName: "b"})

	// single DER
	certs, key, err := ParseCertificatesDER(a.Certificate.Raw, "")
	if err != nil || len(certs) != 1 || key != nil {
		t.Fatal("single DER:", len(certs), key, err)
	}

	// concatenated DER
	concat := append(append([]byte{}, a.Certificate.Raw...), b.Certificate.Raw...)
	certs, _, err = ParseCertificatesDER(concat, "")
	if err != nil || len(certs) != 2 {
		t.Fatal("concatenated DER:", len(certs), err)
	}

	// PKCS #7 certs-only
	p7, err := pkcs7.EncodeCertsOnly([]*x509.Certificate{a.Certificate, b.Certificate})
	if err != nil {
		t.Fatal(err)
	}
	certs, _, err = ParseCertificatesDER(p7, "")
	if err != nil || len(certs) != 2 {
		t.Fatal("PKCS #7:", len(certs), err)
	}

	// PKCS #12
	p12, err := a.PKCS12("password", b.Certificate)
	if err != nil {
		t.Fatal(err)
	}
	certs, key, err = ParseCertificatesDER(p12, "password")
	if err != nil || len(certs) != 2 || key == nil {
		t.Fatal("PKCS #12:", len(certs), key, err)
	}
	if _, _, err := ParseCertificatesDER(p12, "incorrectpassword"); err == nil {
		t.Fatal("PKCS #12 with the wrong password should fail")
	}

	if _, _, err := ParseCertificatesDER(nil, ""); err == nil {
		t.Fatal("empty input should fail")
	}
}

func TestParsePrivateKeyPEM(t *testing.T) {
	id := mustIdentity(t, testsuite.Options{CommonName: "k"})
	keyPEM, err := id.KeyPEM()
	if err != nil {
		t.Fatal(err)
	}
	key, err := ParsePrivateKeyPEM(keyPEM)
	if err != nil {
		t.Fatal(err)
	}
	if err := CheckKeyPair(id.Certificate, key); err != nil {
		t.Fatal(err)
	}

	encrypted := pem.EncodeToMemory(&pem.Block{
		Type:    "RSA PRIVATE KEY",
		Headers: map[string]string{"Proc-Type": "4,ENCRYPTED"},
		Bytes:   []byte{0},
	})
	if _, err := ParsePrivateKeyPEM(encrypted); !errorHasReason(err, cferr.Encrypted) {
		t.Fatal("expected an encrypted key error, got", err)
	}
	if _, err := ParsePrivateKeyPEM([]byte("nope")); err == nil {
		t.Fatal("garbage should fail")
	}
}

func TestParseCertificate(t *testing.T) {
	id := mustIdentity(t, testsuite.Options{CommonName: "x"})
	for _, data := range [][]byte{id.Certificate.Raw, id.CertificatePEM()} {
		cert, err := ParseCertificate(data)
		if err != nil {
			t.Fatal(err)
		}
		if !cert.Equal(id.Certificate) {
			t.Fatal("certificate mismatch")
		}
	}
	if _, err := ParseCertificate([]byte{0x30, 0x00}); !cferr.IsParse(err) {
		t.Fatal("expected a parse error, got", err)
	}
}

func errorHasReason(err error, r cferr.Reason) bool {
	e, ok := err.(*cferr.Error)
	return ok && e.Reason() == r
}
