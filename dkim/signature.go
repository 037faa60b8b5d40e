// Package dkim signs and verifies mail with DomainKeys Identified Mail
// (RFC 6376) and the Authenticated Received Chain (RFC 8617).
package dkim

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"hash"
	"strconv"
	"strings"
	"time"

	cferr "github.com/cloudflare/cfsmime/errors"
)

// Signature algorithms of the a= tag.
const (
	AlgorithmRSASHA256     = "rsa-sha256"
	AlgorithmEd25519SHA256 = "ed25519-sha256"
)

// Header field names of the signatures this package produces.
const (
	SignatureHeader   = "DKIM-Signature"
	ArcSealHeader     = "ARC-Seal"
	ArcMessageHeader  = "ARC-Message-Signature"
	ArcResultsHeader  = "ARC-Authentication-Results"
	maxArcInstance    = 50
	signatureVersion  = "1"
	defaultQueryTypes = QueryMethodDNSTXT
)

// DefaultHeaders are the header fields signed when none are given.
var DefaultHeaders = []string{
	"From", "Reply-To", "Subject", "Date", "To", "Cc",
	"Message-ID", "In-Reply-To", "References",
	"MIME-Version", "Content-Type", "Content-Transfer-Encoding",
}

// algorithmFor returns the a= value for a signing key.
func algorithmFor(pub crypto.PublicKey) (string, error) {
	switch pub.(type) {
	case *rsa.PublicKey:
		return AlgorithmRSASHA256, nil
	case ed25519.PublicKey:
		return AlgorithmEd25519SHA256, nil
	}
	return "", cferr.Wrap(cferr.DKIMError, cferr.UnsupportedAlgorithm, fmt.Errorf("unsupported key type %T", pub))
}

// keyTypeOf returns the key record type a signature algorithm needs.
func keyTypeOf(algorithm string) (string, error) {
	switch algorithm {
	case AlgorithmRSASHA256:
		return KeyTypeRSA, nil
	case AlgorithmEd25519SHA256:
		return KeyTypeEd25519, nil
	}
	return "", cferr.Wrap(cferr.DKIMError, cferr.UnsupportedAlgorithm, fmt.Errorf("unsupported signature algorithm %q", algorithm))
}

// signDigest signs a SHA-256 digest. Ed25519 signs the digest itself as
// its message, RFC 8463.
func signDigest(key crypto.Signer, digest []byte) ([]byte, error) {
	var opts crypto.SignerOpts = crypto.SHA256
	if _, ok := key.Public().(ed25519.PublicKey); ok {
		opts = crypto.Hash(0)
	}
	sig, err := key.Sign(rand.Reader, digest, opts)
	if err != nil {
		return nil, cferr.Wrap(cferr.DKIMError, cferr.SignFailed, err)
	}
	return sig, nil
}

func verifyDigest(pub crypto.PublicKey, digest, sig []byte) error {
	switch pk := pub.(type) {
	case *rsa.PublicKey:
		if err := rsa.VerifyPKCS1v15(pk, crypto.SHA256, digest, sig); err != nil {
			return cferr.Wrap(cferr.DKIMError, cferr.SignatureInvalid, err)
		}
		return nil
	case ed25519.PublicKey:
		if !ed25519.Verify(pk, digest, sig) {
			return cferr.Wrap(cferr.DKIMError, cferr.SignatureInvalid, errors.New("ed25519 verification failure"))
		}
		return nil
	}
	return cferr.Wrap(cferr.DKIMError, cferr.UnsupportedAlgorithm, fmt.Errorf("unsupported key type %T", pub))
}

// signature holds the tags of a DKIM-Signature, ARC-Message-Signature or
// ARC-Seal header field.
type signature struct {
	instance    int
	algorithm   string
	header      Canonicalization
	body        Canonicalization
	domain      string
	selector    string
	identifier  string
	methods     string
	headerKeys  []string
	bodyHash    []byte
	sig         []byte
	bodyLength  int64
	timestamp   time.Time
	expiration  time.Time
	chainStatus string
}

// parseSignature parses the value of a signature header field named
// header.
func parseSignature(header, value string) (*signature, error) {
	tags, err := parseTagList(value)
	if err != nil {
		return nil, parseFailed("%s: %v", header, err)
	}

	required := []string{"a", "b", "d", "s"}
	switch header {
	case SignatureHeader:
		required = append(required, "v", "bh", "h")
	case ArcMessageHeader:
		required = append(required, "i", "bh", "h")
	case ArcSealHeader:
		required = append(required, "i", "cv")
	}
	for _, t := range required {
		if v, ok := tags.get(t); !ok || (v == "" && t != "b") {
			return nil, parseFailed("%s: missing %s= tag", header, t)
		}
	}

	s := &signature{
		algorithm:  strings.ToLower(tags.values["a"]),
		domain:     strings.ToLower(strings.TrimSuffix(tags.values["d"], ".")),
		selector:   tags.values["s"],
		header:     Simple,
		body:       Simple,
		methods:    defaultQueryTypes,
		bodyLength: -1,
	}
	if v, ok := tags.get("v"); ok && v != signatureVersion {
		return nil, parseFailed("%s: unsupported version %q", header, v)
	}
	if v, ok := tags.get("i"); ok {
		if header == SignatureHeader {
			s.identifier = v
		} else if s.instance, err = parseInstance(v); err != nil {
			return nil, parseFailed("%s: %v", header, err)
		}
	}
	if header == ArcSealHeader {
		s.header, s.body = Relaxed, Relaxed
		if _, ok := tags.get("h"); ok {
			return nil, parseFailed("%s: h= tag is not allowed", header)
		}
		s.chainStatus = strings.ToLower(tags.values["cv"])
	}
	if c, ok := tags.get("c"); ok {
		hc, bc, _ := strings.Cut(strings.ToLower(c), "/")
		s.header = Canonicalization(hc)
		if bc != "" {
			s.body = Canonicalization(bc)
		}
		for _, v := range []Canonicalization{s.header, s.body} {
			if v != Simple && v != Relaxed {
				return nil, parseFailed("%s: unknown canonicalization %q", header, c)
			}
		}
	}
	if q, ok := tags.get("q"); ok {
		s.methods = q
	}
	if h, ok := tags.get("h"); ok {
		s.headerKeys = splitList(h)
	}
	if s.sig, err = base64.StdEncoding.DecodeString(stripWSP(tags.values["b"])); err != nil {
		return nil, parseFailed("%s: malformed b= tag: %v", header, err)
	}
	if bh, ok := tags.get("bh"); ok {
		if s.bodyHash, err = base64.StdEncoding.DecodeString(stripWSP(bh)); err != nil {
			return nil, parseFailed("%s: malformed bh= tag: %v", header, err)
		}
	}
	if l, ok := tags.get("l"); ok {
		if s.bodyLength, err = strconv.ParseInt(l, 10, 64); err != nil || s.bodyLength < 0 {
			return nil, parseFailed("%s: malformed l= tag %q", header, l)
		}
	}
	if t, ok := tags.get("t"); ok {
		if s.timestamp, err = parseTime(t); err != nil {
			return nil, parseFailed("%s: malformed t= tag %q", header, t)
		}
	}
	if x, ok := tags.get("x"); ok {
		if s.expiration, err = parseTime(x); err != nil {
			return nil, parseFailed("%s: malformed x= tag %q", header, x)
		}
	}
	return s, nil
}

func parseInstance(v string) (int, error) {
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || i < 1 || i > maxArcInstance {
		return 0, fmt.Errorf("invalid instance %q", v)
	}
	return i, nil
}

func parseTime(v string) (time.Time, error) {
	sec, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}

// computeBodyHash returns the SHA-256 hash of body canonicalized with c,
// truncated to limit bytes unless limit is negative.
func computeBodyHash(body []byte, c Canonicalization, limit int64) ([]byte, error) {
	var canon strings.Builder
	w := newBodyWriter(&canon, c)
	if _, err := w.Write(body); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	data := canon.String()
	if limit >= 0 {
		if int64(len(data)) < limit {
			return nil, cferr.Wrap(cferr.DKIMError, cferr.BodyHashMismatch,
				fmt.Errorf("l=%d exceeds the canonical body length %d", limit, len(data)))
		}
		data = data[:limit]
	}
	sum := sha256.Sum256([]byte(data))
	return sum[:], nil
}

// hashHeaders hashes the fields in order and then sig without its
// trailing CRLF.
func hashHeaders(h hash.Hash, fields []field, sig field, c Canonicalization) []byte {
	for _, f := range fields {
		h.Write([]byte(canonicalHeader(f, c)))
	}
	h.Write([]byte(strings.TrimSuffix(canonicalHeader(withoutSignature(sig), c), "\r\n")))
	return h.Sum(nil)
}

// writeTag appends "name=value; " to b, folding before the tag when the
// current line would grow too long.
func writeTag(b *strings.Builder, line *int, name, value string) {
	tag := name + "=" + value + ";"
	if *line > 0 && *line+len(tag) > 76 {
		b.WriteString("\r\n ")
		*line = 1
	} else if *line > 0 {
		b.WriteByte(' ')
		*line++
	}
	b.WriteString(tag)
	*line += len(tag)
}
