// Package crl exposes Certificate Revocation List generation and the
// conversion of CRLs into certificate database records.
package crl

import (
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/pem"
	"errors"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/cloudflare/cfsmime/certdb"
	cferr "github.com/cloudflare/cfsmime/errors"
	"github.com/cloudflare/cfsmime/helpers"
	"github.com/cloudflare/cfsmime/helpers/null"
	"github.com/cloudflare/cfsmime/log"
)

// oidDeltaCRLIndicator marks a delta CRL (RFC 5280, 5.2.4).
var oidDeltaCRLIndicator = asn1.ObjectIdentifier{2, 5, 29, 27}

// IsDelta reports whether rl carries the Delta CRL Indicator extension.
func IsDelta(rl *x509.RevocationList) bool {
	for _, ext := range rl.Extensions {
		if ext.Id.Equal(oidDeltaCRLIndicator) {
			return true
		}
	}
	return false
}

// Parse parses a CRL in PEM or DER form.
func Parse(data []byte) (*x509.RevocationList, error) {
	if block, _ := pem.Decode(data); block != nil {
		if block.Type != "X509 CRL" {
			return nil, cferr.Wrap(cferr.CRLError, cferr.DecodeFailed, errors.New("PEM block is "+block.Type))
		}
		data = block.Bytes
	}
	rl, err := x509.ParseRevocationList(data)
	if err != nil {
		return nil, cferr.Wrap(cferr.CRLError, cferr.ParseFailed, err)
	}
	return rl, nil
}

// NewRecord parses a CRL into a certdb.CRLRecord.
func NewRecord(data []byte) (*certdb.CRLRecord, error) {
	rl, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return RecordFrom(rl), nil
}

// RecordFrom converts a parsed CRL into a certdb.CRLRecord.
func RecordFrom(rl *x509.RevocationList) *certdb.CRLRecord {
	return &certdb.CRLRecord{
		Issuer:     rl.Issuer.String(),
		ThisUpdate: rl.ThisUpdate.UTC(),
		NextUpdate: null.TimeFrom(rl.NextUpdate.UTC()),
		Delta:      IsDelta(rl),
		CRL:        rl.Raw,
	}
}

// NewCRLFromFile takes in a list of serial numbers, one per line, as well as the issuing certificate
// of the CRL, and the private key. This function is then used to parse the list and generate a CRL
func NewCRLFromFile(serialList, issuerFile, keyFile []byte, expiryTime string, number *big.Int) ([]byte, error) {
	var revokedCerts []x509.RevocationListEntry
	var oneWeek = time.Duration(604800) * time.Second

	expiryInt, err := strconv.ParseInt(expiryTime, 0, 32)
	if err != nil {
		return nil, cferr.Wrap(cferr.ArgumentError, cferr.InvalidArgument, err)
	}
	now := time.Now()
	newExpiryTime := now.Add(time.Duration(expiryInt) * time.Second)
	if expiryInt == 0 {
		newExpiryTime = now.Add(oneWeek)
	}

	// Parse the PEM encoded certificate
	issuerCert, err := helpers.ParseCertificatePEM(issuerFile)
	if err != nil {
		return nil, err
	}

	// For every new line, create a new revokedCertificate and add it to slice
	for _, value := range strings.Split(string(serialList), "\n") {
		value = strings.TrimSpace(value)
		if len(value) == 0 {
			continue
		}

		serial, ok := new(big.Int).SetString(value, 10)
		if !ok {
			return nil, cferr.Wrap(cferr.ArgumentError, cferr.ParseFailed, errors.New("bad serial number "+value))
		}
		revokedCerts = append(revokedCerts, x509.RevocationListEntry{
			SerialNumber:   serial,
			RevocationTime: now,
		})
	}

	// Parse the key given
	key, err := helpers.ParsePrivateKeyPEM(keyFile)
	if err != nil {
		log.Debugf("Malformed private key %v", err)
		return nil, err
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, cferr.New(cferr.PrivateKeyError, cferr.UnsupportedKeyType)
	}

	return CreateGenericCRL(revokedCerts, signer, issuerCert, now, newExpiryTime, number)
}

// CreateGenericCRL is a helper function that takes in all of the information above, and then calls the createCRL
// function. This outputs the bytes of the created CRL.
func CreateGenericCRL(certList []x509.RevocationListEntry, key crypto.Signer, issuingCert *x509.Certificate, thisUpdate, nextUpdate time.Time, number *big.Int) ([]byte, error) {
	return createCRL(certList, key, issuingCert, thisUpdate, nextUpdate, number, nil)
}

// CreateDeltaCRL creates a delta CRL against the complete CRL numbered base.
func CreateDeltaCRL(certList []x509.RevocationListEntry, key crypto.Signer, issuingCert *x509.Certificate, thisUpdate, nextUpdate time.Time, number, base *big.Int) ([]byte, error) {
	value, err := asn1.Marshal(base)
	if err != nil {
		return nil, err
	}
	ext := []pkix.Extension{{Id: oidDeltaCRLIndicator, Critical: true, Value: value}}
	return createCRL(certList, key, issuingCert, thisUpdate, nextUpdate, number, ext)
}

func createCRL(certList []x509.RevocationListEntry, key crypto.Signer, issuingCert *x509.Certificate, thisUpdate, nextUpdate time.Time, number *big.Int, ext []pkix.Extension) ([]byte, error) {
	tpl := &x509.RevocationList{
		Issuer:                    issuingCert.Subject,
		RevokedCertificateEntries: certList,
		NextUpdate:                nextUpdate,
		ThisUpdate:                thisUpdate,
		Number:                    number,
		ExtraExtensions:           ext,
	}

	crlBytes, err := x509.CreateRevocationList(rand.Reader, tpl, issuingCert, key)
	if err != nil {
		log.Debugf("error creating CRL: %s", err)
		return nil, cferr.Wrap(cferr.CRLError, cferr.Unknown, err)
	}

	return crlBytes, nil
}
