package derhelpers

import (
	"crypto/dsa"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"math/big"

	cferr "github.com/cloudflare/cfsmime/errors"
)

var oidPublicKeyDSA = asn1.ObjectIdentifier{1, 2, 840, 10040, 4, 1}

// dsaOpenSSLPrivateKey is the "DSA PRIVATE KEY" layout written by OpenSSL.
type dsaOpenSSLPrivateKey struct {
	Version       int
	P, Q, G, Y, X *big.Int
}

type dsaParameters struct {
	P, Q, G *big.Int
}

type pkcs8 struct {
	Version    int
	Algo       pkix.AlgorithmIdentifier
	PrivateKey []byte
}

type publicKeyInfo struct {
	Algorithm pkix.AlgorithmIdentifier
	PublicKey asn1.BitString
}

func checkDSAParameters(p *dsa.Parameters) error {
	if p.P == nil || p.Q == nil || p.G == nil || p.P.Sign() <= 0 || p.Q.Sign() <= 0 || p.G.Sign() <= 0 {
		return errors.New("derhelpers: invalid DSA domain parameters")
	}
	return nil
}

// ParseDSAPrivateKey parses an OpenSSL DSA private key.
func ParseDSAPrivateKey(der []byte) (*dsa.PrivateKey, error) {
	var k dsaOpenSSLPrivateKey
	rest, err := asn1.Unmarshal(der, &k)
	if err != nil {
		return nil, cferr.Wrap(cferr.PrivateKeyError, cferr.ParseFailed, err)
	}
	if len(rest) > 0 || k.Version != 0 {
		return nil, cferr.New(cferr.PrivateKeyError, cferr.ParseFailed)
	}
	key := &dsa.PrivateKey{
		PublicKey: dsa.PublicKey{
			Parameters: dsa.Parameters{P: k.P, Q: k.Q, G: k.G},
			Y:          k.Y,
		},
		X: k.X,
	}
	if err := checkDSAParameters(&key.Parameters); err != nil {
		return nil, cferr.Wrap(cferr.PrivateKeyError, cferr.ParseFailed, err)
	}
	return key, nil
}

// MarshalDSAPrivateKey encodes key in the OpenSSL DSA private key layout.
func MarshalDSAPrivateKey(key *dsa.PrivateKey) ([]byte, error) {
	if err := checkDSAParameters(&key.Parameters); err != nil {
		return nil, cferr.Wrap(cferr.PrivateKeyError, cferr.Unknown, err)
	}
	return asn1.Marshal(dsaOpenSSLPrivateKey{
		P: key.P, Q: key.Q, G: key.G, Y: key.Y, X: key.X,
	})
}

// MarshalDSAPublicKey encodes pub as a PKIX SubjectPublicKeyInfo.
func MarshalDSAPublicKey(pub *dsa.PublicKey) ([]byte, error) {
	if err := checkDSAParameters(&pub.Parameters); err != nil {
		return nil, cferr.Wrap(cferr.PrivateKeyError, cferr.Unknown, err)
	}
	params, err := asn1.Marshal(dsaParameters{P: pub.P, Q: pub.Q, G: pub.G})
	if err != nil {
		return nil, err
	}
	y, err := asn1.Marshal(pub.Y)
	if err != nil {
		return nil, err
	}
	return asn1.Marshal(publicKeyInfo{
		Algorithm: pkix.AlgorithmIdentifier{
			Algorithm:  oidPublicKeyDSA,
			Parameters: asn1.RawValue{FullBytes: params},
		},
		PublicKey: asn1.BitString{Bytes: y, BitLength: 8 * len(y)},
	})
}

func marshalPKCS8DSAPrivateKey(key *dsa.PrivateKey) ([]byte, error) {
	if err := checkDSAParameters(&key.Parameters); err != nil {
		return nil, cferr.Wrap(cferr.PrivateKeyError, cferr.Unknown, err)
	}
	params, err := asn1.Marshal(dsaParameters{P: key.P, Q: key.Q, G: key.G})
	if err != nil {
		return nil, err
	}
	x, err := asn1.Marshal(key.X)
	if err != nil {
		return nil, err
	}
	return asn1.Marshal(pkcs8{
		Algo: pkix.AlgorithmIdentifier{
			Algorithm:  oidPublicKeyDSA,
			Parameters: asn1.RawValue{FullBytes: params},
		},
		PrivateKey: x,
	})
}

func parsePKCS8DSAPrivateKey(der []byte) (*dsa.PrivateKey, error) {
	var info pkcs8
	if _, err := asn1.Unmarshal(der, &info); err != nil {
		return nil, err
	}
	if !info.Algo.Algorithm.Equal(oidPublicKeyDSA) {
		return nil, errors.New("derhelpers: not a DSA key")
	}
	var params dsaParameters
	if _, err := asn1.Unmarshal(info.Algo.Parameters.FullBytes, &params); err != nil {
		return nil, err
	}
	x := new(big.Int)
	if _, err := asn1.Unmarshal(info.PrivateKey, &x); err != nil {
		return nil, err
	}
	key := &dsa.PrivateKey{
		PublicKey: dsa.PublicKey{
			Parameters: dsa.Parameters{P: params.P, Q: params.Q, G: params.G},
		},
		X: x,
	}
	if err := checkDSAParameters(&key.Parameters); err != nil {
		return nil, err
	}
	key.Y = new(big.Int).Exp(key.G, key.X, key.P)
	return key, nil
}
