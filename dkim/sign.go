package dkim

import (
	"crypto"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	cferr "github.com/cloudflare/cfsmime/errors"
	"github.com/jmhodges/clock"
	"golang.org/x/net/idna"
)

// A Signer adds DKIM-Signature header fields to messages, using
// relaxed/relaxed canonicalization. It is safe for concurrent use once
// configured.
type Signer struct {
	Domain   string // d=
	Selector string // s=, the key is published at Selector._domainkey.Domain
	// Identifier is the optional i= tag, an address or subdomain of Domain.
	Identifier string
	// Key is an *rsa.PrivateKey or an ed25519.PrivateKey.
	Key crypto.Signer
	// Headers lists the fields to sign, DefaultHeaders when empty.
	// Fields absent from a message are left out of h=.
	Headers []string
	// Expiration sets x= this long after signing when positive.
	Expiration time.Duration
	Clock      clock.Clock
}

// NewSigner returns a Signer for domain and selector. The domain is
// converted to its ASCII form.
func NewSigner(domain, selector string, key crypto.Signer) (*Signer, error) {
	if domain == "" || selector == "" || key == nil {
		return nil, cferr.New(cferr.ArgumentError, cferr.NullArgument)
	}
	if _, err := algorithmFor(key.Public()); err != nil {
		return nil, err
	}
	d, err := idna.Lookup.ToASCII(strings.TrimSuffix(domain, "."))
	if err != nil {
		return nil, cferr.Wrap(cferr.ArgumentError, cferr.InvalidArgument, err)
	}
	return &Signer{
		Domain:   strings.ToLower(d),
		Selector: selector,
		Key:      key,
		Clock:    clock.New(),
	}, nil
}

type tag struct {
	name, value string
}

// Sign reads a message and returns the DKIM-Signature header field for
// it, terminated by CRLF.
func (s *Signer) Sign(r io.Reader) (string, error) {
	m, err := readMessage(r)
	if err != nil {
		return "", err
	}
	f, err := s.sign(m)
	if err != nil {
		return "", err
	}
	return f.raw + "\r\n", nil
}

// SignMessage reads a message from r and writes it to w with a
// DKIM-Signature header field prepended.
func (s *Signer) SignMessage(w io.Writer, r io.Reader) error {
	m, err := readMessage(r)
	if err != nil {
		return err
	}
	f, err := s.sign(m)
	if err != nil {
		return err
	}
	m.header = append([]field{f}, m.header...)
	return m.writeTo(w)
}

func (s *Signer) sign(m *message) (field, error) {
	lead := []tag{{"v", signatureVersion}}
	if s.Identifier != "" {
		lead = append(lead, tag{"i", s.Identifier})
	}
	return s.messageSignature(m, SignatureHeader, lead)
}

func (s *Signer) now() time.Time {
	if s.Clock == nil {
		return time.Now()
	}
	return s.Clock.Now()
}

// messageSignature signs the body and the selected header fields of m
// into a field named name, with lead as its first tags.
func (s *Signer) messageSignature(m *message, name string, lead []tag) (field, error) {
	if s.Key == nil || s.Domain == "" || s.Selector == "" {
		return field{}, cferr.New(cferr.ArgumentError, cferr.NullArgument)
	}
	alg, err := algorithmFor(s.Key.Public())
	if err != nil {
		return field{}, err
	}
	if len(m.all("from")) == 0 {
		return field{}, cferr.Wrap(cferr.DKIMError, cferr.SignFailed, fmt.Errorf("message has no From field"))
	}

	want := s.Headers
	if len(want) == 0 {
		want = DefaultHeaders
	}
	var keys []string
	for _, k := range want {
		if len(m.all(strings.ToLower(k))) > 0 {
			keys = append(keys, k)
		}
	}

	bh, err := computeBodyHash(m.body, Relaxed, -1)
	if err != nil {
		return field{}, err
	}

	now := s.now()
	tags := append(lead,
		tag{"a", alg},
		tag{"c", string(Relaxed) + "/" + string(Relaxed)},
		tag{"d", s.Domain},
		tag{"s", s.Selector},
		tag{"t", strconv.FormatInt(now.Unix(), 10)},
	)
	if s.Expiration > 0 {
		tags = append(tags, tag{"x", strconv.FormatInt(now.Add(s.Expiration).Unix(), 10)})
	}
	tags = append(tags,
		tag{"h", strings.Join(keys, ":")},
		tag{"bh", base64.StdEncoding.EncodeToString(bh)},
	)

	fields := pick(m.header, keys)
	return buildSignature(s.Key, name, tags, func(unsigned field) []byte {
		return hashHeaders(sha256.New(), fields, unsigned, Relaxed)
	})
}

// buildSignature formats a signature field named name from tags and
// signs the digest computed over the field with an empty b= tag.
func buildSignature(key crypto.Signer, name string, tags []tag, digest func(unsigned field) []byte) (field, error) {
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte(':')
	line := len(name) + 1
	for _, t := range tags {
		writeTag(&b, &line, t.name, t.value)
	}
	if line+3 > 76 {
		b.WriteString("\r\n b=")
	} else {
		b.WriteString(" b=")
	}

	sig, err := signDigest(key, digest(field{raw: b.String()}))
	if err != nil {
		return field{}, err
	}
	b.WriteString(foldBase64(base64.StdEncoding.EncodeToString(sig)))
	return field{raw: b.String()}, nil
}
