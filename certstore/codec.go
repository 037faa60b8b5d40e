package certstore

import (
	"bytes"
	"context"
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/cloudflare/cfsmime/crypto/pkcs12"
	"github.com/cloudflare/cfsmime/crypto/pkcs7"
	cferr "github.com/cloudflare/cfsmime/errors"
	"github.com/cloudflare/cfsmime/helpers"
	"github.com/cloudflare/cfsmime/helpers/derhelpers"
	"github.com/cloudflare/cfsmime/log"
)

// Entry is a certificate with its private key, when known.
type Entry struct {
	Certificate *x509.Certificate
	Key         crypto.PrivateKey
}

// Decode auto-detects and decodes PEM (certificates, PKCS #7 bundles and
// private keys), a PKCS #7 certs-only bundle, concatenated DER
// certificates or a PKCS #12 file. Private keys are attached to the
// certificate whose public key they match; a key without a certificate
// is an error.
func Decode(data []byte, password string) ([]Entry, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, cferr.Wrap(cferr.CertificateError, cferr.DecodeFailed, errors.New("no certificate data"))
	}

	var (
		certs []*x509.Certificate
		keys  []crypto.PrivateKey
		err   error
	)
	if bytes.HasPrefix(data, []byte("-----BEGIN")) {
		certs, keys, err = decodePEM(data)
	} else {
		var key crypto.PrivateKey
		certs, key, err = helpers.ParseCertificatesDER(data, password)
		if key != nil {
			keys = append(keys, key)
		}
	}
	if err != nil {
		return nil, err
	}
	return pairKeys(certs, keys)
}

func decodePEM(data []byte) (certs []*x509.Certificate, keys []crypto.PrivateKey, err error) {
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		switch {
		case block.Type == "CERTIFICATE":
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, nil, cferr.Wrap(cferr.CertificateError, cferr.ParseFailed, err)
			}
			certs = append(certs, cert)
		case block.Type == "PKCS7":
			p7, err := pkcs7.ParsePKCS7(block.Bytes)
			if err != nil {
				return nil, nil, err
			}
			certs = append(certs, p7.Certificates...)
		case strings.HasSuffix(block.Type, "PRIVATE KEY"):
			if _, ok := block.Headers["Proc-Type"]; ok {
				return nil, nil, cferr.New(cferr.PrivateKeyError, cferr.Encrypted)
			}
			key, err := derhelpers.ParsePrivateKeyDER(block.Bytes)
			if err != nil {
				return nil, nil, err
			}
			keys = append(keys, key)
		default:
			log.Warningf("certstore: skipping PEM block %q", block.Type)
		}
	}
	if len(bytes.TrimSpace(data)) > 0 {
		return nil, nil, cferr.Wrap(cferr.CertificateError, cferr.DecodeFailed, errors.New("trailing data after PEM blocks"))
	}
	return certs, keys, nil
}

func pairKeys(certs []*x509.Certificate, keys []crypto.PrivateKey) ([]Entry, error) {
	entries := make([]Entry, len(certs))
	for i, cert := range certs {
		entries[i].Certificate = cert
	}
	for _, key := range keys {
		pub, err := derhelpers.PublicKey(key)
		if err != nil {
			return nil, err
		}
		matched := false
		for i := range entries {
			if entries[i].Key == nil && helpers.PublicKeysEqual(entries[i].Certificate.PublicKey, pub) {
				entries[i].Key = key
				matched = true
				break
			}
		}
		if !matched {
			return nil, cferr.Wrap(cferr.PrivateKeyError, cferr.KeyMismatch, errors.New("private key matches no certificate"))
		}
	}
	return entries, nil
}

// Encode serializes entries. With a password the result is a PKCS #12
// file holding every certificate and the key of the first keyed entry;
// more than one key cannot be represented and is an error. Without a
// password the certificates are written as concatenated DER.
func Encode(entries []Entry, password string) ([]byte, error) {
	if password == "" {
		var buf bytes.Buffer
		for _, e := range entries {
			if e.Certificate == nil {
				return nil, nullCertificate()
			}
			buf.Write(e.Certificate.Raw)
		}
		return buf.Bytes(), nil
	}

	bag := &pkcs12.Bag{}
	for _, e := range entries {
		if e.Certificate == nil {
			return nil, nullCertificate()
		}
		switch {
		case e.Key != nil && bag.Key != nil:
			return nil, cferr.Wrap(cferr.ArgumentError, cferr.InvalidArgument, errors.New("PKCS #12 export holds a single private key"))
		case e.Key != nil:
			bag.Key, bag.Certificate = e.Key, e.Certificate
		default:
			bag.CACerts = append(bag.CACerts, e.Certificate)
		}
	}
	return pkcs12.Encode(bag, password)
}

// ImportReader reads r to the end and imports it into s.
func ImportReader(ctx context.Context, s Store, r io.Reader, password string) (int, error) {
	if r == nil {
		return 0, cferr.Wrap(cferr.ArgumentError, cferr.NullArgument, errors.New("reader is nil"))
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, cferr.Wrap(cferr.CertificateError, cferr.ReadFailed, err)
	}
	return s.Import(ctx, data, password)
}

// ImportFile imports the file at path into s.
func ImportFile(ctx context.Context, s Store, path, password string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, cferr.Wrap(cferr.CertificateError, cferr.ReadFailed, err)
	}
	defer f.Close()
	return ImportReader(ctx, s, f, password)
}

// ExportWriter writes the certificates of s matched by sel to w.
func ExportWriter(ctx context.Context, s Store, w io.Writer, sel *Selector, password string) error {
	if w == nil {
		return cferr.Wrap(cferr.ArgumentError, cferr.NullArgument, errors.New("writer is nil"))
	}
	data, err := s.Export(ctx, sel, password)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// ExportFile writes the certificates of s matched by sel to path.
func ExportFile(ctx context.Context, s Store, path string, sel *Selector, password string) error {
	data, err := s.Export(ctx, sel, password)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
