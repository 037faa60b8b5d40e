package pkcs7

import (
	"bytes"
	"crypto"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"fmt"
	"io"
	"math/big"

	cferr "github.com/cloudflare/cfsmime/errors"
	"github.com/cloudflare/cfsmime/log"
)

type keyTransRecipientInfo struct {
	Version                int
	RID                    asn1.RawValue
	KeyEncryptionAlgorithm pkix.AlgorithmIdentifier
	EncryptedKey           []byte
}

type encryptedContentInfo struct {
	ContentType                asn1.ObjectIdentifier
	ContentEncryptionAlgorithm pkix.AlgorithmIdentifier
	EncryptedContent           asn1.RawValue `asn1:"optional,tag:0"`
}

type envelopedData struct {
	Version              int
	OriginatorInfo       asn1.RawValue   `asn1:"optional,tag:0"`
	RecipientInfos       []asn1.RawValue `asn1:"set"`
	EncryptedContentInfo encryptedContentInfo
	UnprotectedAttrs     asn1.RawValue `asn1:"optional,tag:1"`
}

// RecipientParams describes one key transport recipient.
type RecipientParams struct {
	Certificate *x509.Certificate
	// UseSubjectKeyID selects the [0] SubjectKeyIdentifier recipient
	// identifier instead of IssuerAndSerialNumber.
	UseSubjectKeyID bool
	// OAEP selects RSAES-OAEP with the given digest; zero selects
	// PKCS #1 v1.5.
	OAEP crypto.Hash
}

// RecipientInfo is a parsed key transport RecipientInfo.
type RecipientInfo struct {
	RawIssuer    []byte
	SerialNumber *big.Int
	SubjectKeyID []byte
	// OAEP is the OAEP digest, zero for PKCS #1 v1.5.
	OAEP crypto.Hash

	encryptedKey []byte
}

// EnvelopedData is a parsed EnvelopedData structure.
type EnvelopedData struct {
	Recipients []*RecipientInfo
	Algorithm  EncryptionAlgorithm

	iv         []byte
	ciphertext []byte
}

func pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(append([]byte{}, data...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errors.New("invalid padded length")
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize {
		return nil, errors.New("invalid padding")
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, errors.New("invalid padding")
		}
	}
	return data[:len(data)-n], nil
}

func encryptKey(p RecipientParams, key []byte) (pkix.AlgorithmIdentifier, []byte, error) {
	pub, ok := p.Certificate.PublicKey.(*rsa.PublicKey)
	if !ok {
		return pkix.AlgorithmIdentifier{}, nil, cferr.Wrap(cferr.CMSError, cferr.UnsupportedAlgorithm,
			fmt.Errorf("key transport requires an RSA key, %s has %T", p.Certificate.Subject, p.Certificate.PublicKey))
	}
	if p.OAEP == 0 {
		ek, err := rsa.EncryptPKCS1v15(rand.Reader, pub, key)
		return pkix.AlgorithmIdentifier{Algorithm: oidRSAEncryption, Parameters: nullParameters}, ek, err
	}
	alg, err := OAEPAlgorithmIdentifier(p.OAEP)
	if err != nil {
		return pkix.AlgorithmIdentifier{}, nil, err
	}
	ek, err := rsa.EncryptOAEP(p.OAEP.New(), rand.Reader, pub, key, nil)
	return alg, ek, err
}

// Encrypt produces a DER encoded ContentInfo wrapping an EnvelopedData
// structure readable by every recipient.
func Encrypt(content []byte, recipients []RecipientParams, alg EncryptionAlgorithm) ([]byte, error) {
	if len(recipients) == 0 {
		return nil, cferr.Wrap(cferr.ArgumentError, cferr.NullArgument, errors.New("no recipients"))
	}
	info, ok := encryptionAlgorithms[alg]
	if !ok {
		return nil, cferr.New(cferr.CMSError, cferr.UnsupportedAlgorithm)
	}

	key := make([]byte, info.keySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}
	block, err := info.block(key)
	if err != nil {
		return nil, cferr.Wrap(cferr.CMSError, cferr.EncryptFailed, err)
	}
	iv := make([]byte, block.BlockSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, err
	}
	plaintext := pad(content, block.BlockSize())
	ciphertext := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, plaintext)

	ivParam, err := asn1.Marshal(iv)
	if err != nil {
		return nil, err
	}

	ed := envelopedData{Version: 0}
	for _, p := range recipients {
		if p.Certificate == nil {
			return nil, cferr.New(cferr.ArgumentError, cferr.NullArgument)
		}
		rid, err := marshalSID(p.Certificate, p.UseSubjectKeyID)
		if err != nil {
			return nil, err
		}
		keyAlg, ek, err := encryptKey(p, key)
		if err != nil {
			if _, ok := err.(*cferr.Error); ok {
				return nil, err
			}
			return nil, cferr.Wrap(cferr.CMSError, cferr.EncryptFailed, err)
		}
		version := 0
		if p.UseSubjectKeyID {
			version = 2
			ed.Version = 2
		}
		ri, err := asn1.Marshal(keyTransRecipientInfo{
			Version:                version,
			RID:                    rid,
			KeyEncryptionAlgorithm: keyAlg,
			EncryptedKey:           ek,
		})
		if err != nil {
			return nil, err
		}
		ed.RecipientInfos = append(ed.RecipientInfos, asn1.RawValue{FullBytes: ri})
	}

	ed.EncryptedContentInfo = encryptedContentInfo{
		ContentType: OIDData,
		ContentEncryptionAlgorithm: pkix.AlgorithmIdentifier{
			Algorithm:  info.oid,
			Parameters: asn1.RawValue{FullBytes: ivParam},
		},
		EncryptedContent: asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, Bytes: ciphertext},
	}
	log.Debugf("pkcs7: enveloped %d bytes for %d recipients with %s", len(content), len(recipients), alg)
	return wrapContentInfo(OIDEnvelopedData, ed)
}

// ParseEnvelopedData parses a DER encoded ContentInfo holding
// EnvelopedData. Recipient types other than key transport are skipped.
func ParseEnvelopedData(der []byte) (*EnvelopedData, error) {
	inner, err := parseContentInfo(der, OIDEnvelopedData)
	if err != nil {
		return nil, err
	}
	var ed envelopedData
	if _, err := asn1.Unmarshal(inner, &ed); err != nil {
		return nil, cferr.Wrap(cferr.CMSError, cferr.ParseFailed, err)
	}

	eci := ed.EncryptedContentInfo
	alg, ok := EncryptionAlgorithmFromOID(eci.ContentEncryptionAlgorithm.Algorithm)
	if !ok {
		return nil, cferr.Wrap(cferr.CMSError, cferr.UnsupportedAlgorithm,
			fmt.Errorf("content encryption algorithm %s", eci.ContentEncryptionAlgorithm.Algorithm))
	}
	out := &EnvelopedData{Algorithm: alg}
	if _, err := asn1.Unmarshal(eci.ContentEncryptionAlgorithm.Parameters.FullBytes, &out.iv); err != nil {
		return nil, cferr.Wrap(cferr.CMSError, cferr.ParseFailed, fmt.Errorf("content encryption IV: %v", err))
	}
	if eci.EncryptedContent.IsCompound {
		wrapped, err := asn1.Marshal(asn1.RawValue{Class: asn1.ClassUniversal, Tag: asn1.TagOctetString, IsCompound: true, Bytes: eci.EncryptedContent.Bytes})
		if err != nil {
			return nil, err
		}
		if out.ciphertext, err = octetContent(asn1.RawValue{Bytes: wrapped}); err != nil {
			return nil, cferr.Wrap(cferr.CMSError, cferr.ParseFailed, err)
		}
	} else {
		out.ciphertext = eci.EncryptedContent.Bytes
	}

	for _, raw := range ed.RecipientInfos {
		if raw.Class != asn1.ClassUniversal || raw.Tag != asn1.TagSequence {
			log.Debugf("pkcs7: skipping recipient info [%d]", raw.Tag)
			continue
		}
		var ktri keyTransRecipientInfo
		if _, err := asn1.Unmarshal(raw.FullBytes, &ktri); err != nil {
			return nil, cferr.Wrap(cferr.CMSError, cferr.ParseFailed, err)
		}
		ri := &RecipientInfo{encryptedKey: ktri.EncryptedKey}
		switch {
		case ktri.RID.Class == asn1.ClassContextSpecific && ktri.RID.Tag == 0:
			ri.SubjectKeyID = ktri.RID.Bytes
		default:
			var ias issuerAndSerial
			if _, err := asn1.Unmarshal(ktri.RID.FullBytes, &ias); err != nil {
				return nil, cferr.Wrap(cferr.CMSError, cferr.ParseFailed, err)
			}
			ri.RawIssuer, ri.SerialNumber = ias.Issuer.FullBytes, ias.SerialNumber
		}
		switch {
		case ktri.KeyEncryptionAlgorithm.Algorithm.Equal(oidRSAEncryption):
		case ktri.KeyEncryptionAlgorithm.Algorithm.Equal(oidRSAESOAEP):
			if ri.OAEP, err = parseOAEPParameters(ktri.KeyEncryptionAlgorithm.Parameters); err != nil {
				return nil, err
			}
		default:
			log.Debugf("pkcs7: skipping recipient with key encryption %s", ktri.KeyEncryptionAlgorithm.Algorithm)
			continue
		}
		out.Recipients = append(out.Recipients, ri)
	}
	return out, nil
}

// Matches reports whether cert is identified by the recipient identifier.
func (ri *RecipientInfo) Matches(cert *x509.Certificate) bool {
	if cert == nil {
		return false
	}
	if ri.SubjectKeyID != nil {
		return bytes.Equal(ri.SubjectKeyID, SubjectKeyID(cert))
	}
	return bytes.Equal(ri.RawIssuer, cert.RawIssuer) && ri.SerialNumber.Cmp(cert.SerialNumber) == 0
}

// Decrypt recovers the content using the private key of recipient ri.
func (ed *EnvelopedData) Decrypt(ri *RecipientInfo, key crypto.PrivateKey) ([]byte, error) {
	if ri == nil || key == nil {
		return nil, cferr.New(cferr.ArgumentError, cferr.NullArgument)
	}
	dec, ok := key.(crypto.Decrypter)
	if !ok {
		return nil, cferr.New(cferr.PrivateKeyError, cferr.UnsupportedKeyType)
	}
	info := encryptionAlgorithms[ed.Algorithm]

	var opts crypto.DecrypterOpts = &rsa.PKCS1v15DecryptOptions{SessionKeyLen: info.keySize}
	if ri.OAEP != 0 {
		opts = &rsa.OAEPOptions{Hash: ri.OAEP}
	}
	cek, err := dec.Decrypt(rand.Reader, ri.encryptedKey, opts)
	if err != nil {
		return nil, cferr.Wrap(cferr.CMSError, cferr.DecryptFailed, err)
	}

	block, err := info.block(cek)
	if err != nil {
		return nil, cferr.Wrap(cferr.CMSError, cferr.DecryptFailed, err)
	}
	if len(ed.iv) != block.BlockSize() || len(ed.ciphertext)%block.BlockSize() != 0 {
		return nil, cferr.Wrap(cferr.CMSError, cferr.DecryptFailed, errors.New("malformed ciphertext"))
	}
	plaintext := make([]byte, len(ed.ciphertext))
	cipher.NewCBCDecrypter(block, ed.iv).CryptBlocks(plaintext, ed.ciphertext)
	content, err := unpad(plaintext, block.BlockSize())
	if err != nil {
		return nil, cferr.Wrap(cferr.CMSError, cferr.DecryptFailed, err)
	}
	return content, nil
}
