// Package cms builds the signer and recipient descriptors of S/MIME
// messages: identifier types, RSA paddings and the negotiation of a
// content encryption algorithm every recipient supports.
package cms

import (
	"errors"

	"github.com/cloudflare/cfsmime/crypto/pkcs7"
	cferr "github.com/cloudflare/cfsmime/errors"
)

// EncryptionAlgorithm is a content encryption algorithm.
type EncryptionAlgorithm = pkcs7.EncryptionAlgorithm

// Content encryption algorithms.
const (
	TripleDES = pkcs7.TripleDES
	AES128    = pkcs7.AES128
	AES192    = pkcs7.AES192
	AES256    = pkcs7.AES256
)

// DefaultEncryptionAlgorithms is what a recipient is assumed to
// support until its capabilities are known.
var DefaultEncryptionAlgorithms = []EncryptionAlgorithm{TripleDES}

// StrongestFirst lists every supported algorithm by decreasing strength.
var StrongestFirst = []EncryptionAlgorithm{AES256, AES192, AES128, TripleDES}

func supports(algs []EncryptionAlgorithm, alg EncryptionAlgorithm) bool {
	for _, a := range algs {
		if a == alg {
			return true
		}
	}
	return false
}

// Negotiate returns the first algorithm of preferred that every
// recipient supports. An empty preference list means StrongestFirst.
func Negotiate(preferred []EncryptionAlgorithm, recipients []*Recipient) (EncryptionAlgorithm, error) {
	if len(recipients) == 0 {
		return 0, cferr.Wrap(cferr.ArgumentError, cferr.NullArgument, errors.New("no recipients"))
	}
	if len(preferred) == 0 {
		preferred = StrongestFirst
	}
outer:
	for _, alg := range preferred {
		if !alg.Valid() {
			continue
		}
		for _, r := range recipients {
			if r == nil {
				return 0, cferr.Wrap(cferr.ArgumentError, cferr.NullArgument, errors.New("recipient is nil"))
			}
			if !supports(r.EncryptionAlgorithms, alg) {
				continue outer
			}
		}
		return alg, nil
	}
	return 0, cferr.Wrap(cferr.CMSError, cferr.UnsupportedAlgorithm, errors.New("no encryption algorithm is supported by every recipient"))
}
