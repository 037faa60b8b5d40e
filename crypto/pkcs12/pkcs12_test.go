package pkcs12

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	xpkcs12 "golang.org/x/crypto/pkcs12"
)

func selfSigned(t *testing.T, cn string) (*x509.Certificate, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatal(err)
	}
	return cert, key
}

func TestEncodeDecodeKeyBag(t *testing.T) {
	leaf, key := selfSigned(t, "leaf")
	ca, _ := selfSigned(t, "ca")

	data, err := Encode(&Bag{Key: key, Certificate: leaf, CACerts: []*x509.Certificate{ca}}, "password")
	if err != nil {
		t.Fatal(err)
	}

	bag, err := Decode(data, "password")
	if err != nil {
		t.Fatal(err)
	}
	if !key.Equal(bag.Key) {
		t.Fatal("key did not survive the round trip")
	}
	if !bag.Certificate.Equal(leaf) {
		t.Fatal("leaf did not survive the round trip")
	}
	if len(bag.Certificates()) != 2 {
		t.Fatalf("expected 2 certificates, got %d", len(bag.Certificates()))
	}

	if _, err := Decode(data, "wrong"); err == nil {
		t.Fatal("expected an error with the wrong password")
	}
}

func TestEncodeDecodeTrustStore(t *testing.T) {
	a, _ := selfSigned(t, "a")
	b, _ := selfSigned(t, "b")

	data, err := Encode(&Bag{CACerts: []*x509.Certificate{a, b}}, "pw")
	if err != nil {
		t.Fatal(err)
	}
	bag, err := Decode(data, "pw")
	if err != nil {
		t.Fatal(err)
	}
	if bag.Key != nil {
		t.Fatal("trust store decoded with a key")
	}
	if len(bag.Certificates()) != 2 {
		t.Fatalf("expected 2 certificates, got %d", len(bag.Certificates()))
	}
}

func TestEncodeKeyWithoutCertificate(t *testing.T) {
	_, key := selfSigned(t, "x")
	if _, err := Encode(&Bag{Key: key}, "pw"); err == nil {
		t.Fatal("expected an error for a key without a certificate")
	}
}

// Files produced by Encode are readable by other PKCS #12 decoders.
func TestEncodeInterop(t *testing.T) {
	leaf, key := selfSigned(t, "leaf")
	data, err := Encode(&Bag{Key: key, Certificate: leaf}, "password")
	if err != nil {
		t.Fatal(err)
	}

	priv, cert, err := xpkcs12.Decode(data, "password")
	if err != nil {
		t.Fatal(err)
	}
	if !key.Equal(priv) {
		t.Fatal("x/crypto decoded a different key")
	}
	if !cert.Equal(leaf) {
		t.Fatal("x/crypto decoded a different certificate")
	}
}
