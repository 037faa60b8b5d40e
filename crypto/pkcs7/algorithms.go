package pkcs7

import (
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/des"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"strings"

	cferr "github.com/cloudflare/cfsmime/errors"
)

// EncryptionAlgorithm is a content encryption algorithm.
type EncryptionAlgorithm int

// Supported content encryption algorithms. The zero value is not a
// valid algorithm.
const (
	TripleDES EncryptionAlgorithm = iota + 1
	AES128
	AES192
	AES256
)

type encryptionInfo struct {
	name    string
	oid     asn1.ObjectIdentifier
	keySize int
	block   func(key []byte) (cipher.Block, error)
}

var encryptionAlgorithms = map[EncryptionAlgorithm]encryptionInfo{
	TripleDES: {"3des", oidDESEDE3CBC, 24, des.NewTripleDESCipher},
	AES128:    {"aes128", oidAES128CBC, 16, aes.NewCipher},
	AES192:    {"aes192", oidAES192CBC, 24, aes.NewCipher},
	AES256:    {"aes256", oidAES256CBC, 32, aes.NewCipher},
}

// String returns the short name of the algorithm.
func (a EncryptionAlgorithm) String() string {
	if info, ok := encryptionAlgorithms[a]; ok {
		return info.name
	}
	return "unknown"
}

// OID returns the CBC mode object identifier of the algorithm.
func (a EncryptionAlgorithm) OID() asn1.ObjectIdentifier {
	return encryptionAlgorithms[a].oid
}

// KeySize returns the key length in bytes.
func (a EncryptionAlgorithm) KeySize() int {
	return encryptionAlgorithms[a].keySize
}

// Valid reports whether a is one of the supported algorithms.
func (a EncryptionAlgorithm) Valid() bool {
	_, ok := encryptionAlgorithms[a]
	return ok
}

// ParseEncryptionAlgorithm maps a short name to its algorithm.
func ParseEncryptionAlgorithm(name string) (EncryptionAlgorithm, error) {
	name = strings.ToLower(strings.ReplaceAll(name, "-", ""))
	for alg, info := range encryptionAlgorithms {
		if info.name == name {
			return alg, nil
		}
	}
	return 0, cferr.Wrap(cferr.CMSError, cferr.UnsupportedAlgorithm, errors.New("unknown encryption algorithm "+name))
}

// EncryptionAlgorithmFromOID maps an object identifier to its algorithm.
func EncryptionAlgorithmFromOID(oid asn1.ObjectIdentifier) (EncryptionAlgorithm, bool) {
	for alg, info := range encryptionAlgorithms {
		if info.oid.Equal(oid) {
			return alg, true
		}
	}
	return 0, false
}

func digestOID(h crypto.Hash) (asn1.ObjectIdentifier, error) {
	switch h {
	case crypto.SHA1:
		return oidDigestSHA1, nil
	case crypto.SHA224:
		return oidDigestSHA224, nil
	case crypto.SHA256:
		return oidDigestSHA256, nil
	case crypto.SHA384:
		return oidDigestSHA384, nil
	case crypto.SHA512:
		return oidDigestSHA512, nil
	}
	return nil, cferr.Wrap(cferr.CMSError, cferr.UnsupportedAlgorithm, errors.New("unsupported digest algorithm"))
}

func digestFromOID(oid asn1.ObjectIdentifier) (crypto.Hash, error) {
	for _, h := range []crypto.Hash{crypto.SHA1, crypto.SHA224, crypto.SHA256, crypto.SHA384, crypto.SHA512} {
		if o, _ := digestOID(h); o.Equal(oid) {
			return h, nil
		}
	}
	return 0, cferr.Wrap(cferr.CMSError, cferr.UnsupportedAlgorithm, errors.New("unsupported digest algorithm "+oid.String()))
}

var nullParameters = asn1.RawValue{Tag: asn1.TagNull}

type pssParameters struct {
	Hash         pkix.AlgorithmIdentifier `asn1:"explicit,tag:0"`
	MGF          pkix.AlgorithmIdentifier `asn1:"explicit,tag:1"`
	SaltLength   int                      `asn1:"explicit,tag:2"`
	TrailerField int                      `asn1:"optional,explicit,tag:3,default:1"`
}

type oaepParameters struct {
	Hash    pkix.AlgorithmIdentifier `asn1:"optional,explicit,tag:0"`
	MGF     pkix.AlgorithmIdentifier `asn1:"optional,explicit,tag:1"`
	PSource pkix.AlgorithmIdentifier `asn1:"optional,explicit,tag:2"`
}

func mgf1(h crypto.Hash) (pkix.AlgorithmIdentifier, pkix.AlgorithmIdentifier, error) {
	oid, err := digestOID(h)
	if err != nil {
		return pkix.AlgorithmIdentifier{}, pkix.AlgorithmIdentifier{}, err
	}
	hashAlg := pkix.AlgorithmIdentifier{Algorithm: oid, Parameters: nullParameters}
	params, err := asn1.Marshal(hashAlg)
	if err != nil {
		return pkix.AlgorithmIdentifier{}, pkix.AlgorithmIdentifier{}, err
	}
	return hashAlg, pkix.AlgorithmIdentifier{Algorithm: oidMGF1, Parameters: asn1.RawValue{FullBytes: params}}, nil
}

// PSSAlgorithmIdentifier returns the RSASSA-PSS algorithm identifier
// for digest h with a salt as long as the digest.
func PSSAlgorithmIdentifier(h crypto.Hash) (pkix.AlgorithmIdentifier, error) {
	hashAlg, mgf, err := mgf1(h)
	if err != nil {
		return pkix.AlgorithmIdentifier{}, err
	}
	params, err := asn1.Marshal(pssParameters{Hash: hashAlg, MGF: mgf, SaltLength: h.Size(), TrailerField: 1})
	if err != nil {
		return pkix.AlgorithmIdentifier{}, err
	}
	return pkix.AlgorithmIdentifier{Algorithm: oidRSASSAPSS, Parameters: asn1.RawValue{FullBytes: params}}, nil
}

// OAEPAlgorithmIdentifier returns the RSAES-OAEP algorithm identifier
// for digest h. SHA-1 uses the default (empty) parameters.
func OAEPAlgorithmIdentifier(h crypto.Hash) (pkix.AlgorithmIdentifier, error) {
	var p oaepParameters
	if h != crypto.SHA1 {
		hashAlg, mgf, err := mgf1(h)
		if err != nil {
			return pkix.AlgorithmIdentifier{}, err
		}
		p.Hash, p.MGF = hashAlg, mgf
	}
	params, err := asn1.Marshal(p)
	if err != nil {
		return pkix.AlgorithmIdentifier{}, err
	}
	return pkix.AlgorithmIdentifier{Algorithm: oidRSAESOAEP, Parameters: asn1.RawValue{FullBytes: params}}, nil
}

func parseOAEPParameters(raw asn1.RawValue) (crypto.Hash, error) {
	var p oaepParameters
	if len(raw.FullBytes) > 0 {
		if _, err := asn1.Unmarshal(raw.FullBytes, &p); err != nil {
			return 0, cferr.Wrap(cferr.CMSError, cferr.ParseFailed, err)
		}
	}
	h := crypto.SHA1
	if len(p.Hash.Algorithm) > 0 {
		var err error
		if h, err = digestFromOID(p.Hash.Algorithm); err != nil {
			return 0, err
		}
	}
	if len(p.MGF.Algorithm) > 0 {
		var mgfHash pkix.AlgorithmIdentifier
		if _, err := asn1.Unmarshal(p.MGF.Parameters.FullBytes, &mgfHash); err != nil {
			return 0, cferr.Wrap(cferr.CMSError, cferr.ParseFailed, err)
		}
		if mh, err := digestFromOID(mgfHash.Algorithm); err != nil || mh != h {
			return 0, cferr.Wrap(cferr.CMSError, cferr.UnsupportedAlgorithm, errors.New("OAEP mask generation digest differs from the label digest"))
		}
	}
	return h, nil
}

func parsePSSParameters(raw asn1.RawValue) (crypto.Hash, error) {
	var p pssParameters
	if _, err := asn1.Unmarshal(raw.FullBytes, &p); err != nil {
		return 0, cferr.Wrap(cferr.CMSError, cferr.ParseFailed, err)
	}
	return digestFromOID(p.Hash.Algorithm)
}

func signatureOID(pub crypto.PublicKey, h crypto.Hash) (asn1.ObjectIdentifier, error) {
	table := map[string]map[crypto.Hash]asn1.ObjectIdentifier{
		"rsa": {
			crypto.SHA1: oidSHA1WithRSA, crypto.SHA224: oidSHA224WithRSA, crypto.SHA256: oidSHA256WithRSA,
			crypto.SHA384: oidSHA384WithRSA, crypto.SHA512: oidSHA512WithRSA,
		},
		"ecdsa": {
			crypto.SHA1: oidECDSAWithSHA1, crypto.SHA224: oidECDSAWithSHA224, crypto.SHA256: oidECDSAWithSHA256,
			crypto.SHA384: oidECDSAWithSHA384, crypto.SHA512: oidECDSAWithSHA512,
		},
		"dsa": {
			crypto.SHA1: oidDSAWithSHA1, crypto.SHA224: oidDSAWithSHA224, crypto.SHA256: oidDSAWithSHA256,
		},
		"ed25519": {
			crypto.SHA512: oidEd25519,
		},
	}
	oid, ok := table[keyFamily(pub)][h]
	if !ok {
		return nil, cferr.Wrap(cferr.CMSError, cferr.UnsupportedAlgorithm, errors.New("unsupported key and digest combination"))
	}
	return oid, nil
}
