package cms

import (
	"errors"

	"github.com/cloudflare/cfsmime/crypto/pkcs7"
	cferr "github.com/cloudflare/cfsmime/errors"
	"github.com/cloudflare/cfsmime/log"
)

// Sign produces a SignedData structure over content for signers.
func Sign(content []byte, signers []*Signer, opts pkcs7.SignOptions) ([]byte, error) {
	if len(signers) == 0 {
		return nil, cferr.Wrap(cferr.ArgumentError, cferr.NullArgument, errors.New("no signers"))
	}
	params := make([]pkcs7.SignerParams, len(signers))
	for i, s := range signers {
		if s == nil {
			return nil, cferr.Wrap(cferr.ArgumentError, cferr.NullArgument, errors.New("signer is nil"))
		}
		params[i] = s.Params()
	}
	return pkcs7.Sign(content, params, opts)
}

// Encrypt produces an EnvelopedData structure of content for the
// recipients, using the first algorithm of preferred that all of them
// support. It returns the algorithm chosen.
func Encrypt(content []byte, recipients *RecipientCollection, preferred []EncryptionAlgorithm) ([]byte, EncryptionAlgorithm, error) {
	if recipients == nil || recipients.Count() == 0 {
		return nil, 0, cferr.Wrap(cferr.ArgumentError, cferr.NullArgument, errors.New("no recipients"))
	}
	rs := recipients.Recipients()
	alg, err := Negotiate(preferred, rs)
	if err != nil {
		return nil, 0, err
	}
	params := make([]pkcs7.RecipientParams, len(rs))
	for i, r := range rs {
		if params[i], err = r.Params(); err != nil {
			return nil, 0, err
		}
	}
	log.Debugf("cms: encrypting for %d recipients with %s", len(rs), alg)
	der, err := pkcs7.Encrypt(content, params, alg)
	if err != nil {
		return nil, 0, err
	}
	return der, alg, nil
}
