// Package certstore provides the certificate store abstraction shared by
// the in-memory store and the certificate database: selector queries,
// certificate chains and import/export of PEM, DER, PKCS #7 and PKCS #12
// data.
package certstore

import (
	"context"
	"crypto"
	"crypto/x509"
	"sync"

	cferr "github.com/cloudflare/cfsmime/errors"
	"github.com/cloudflare/cfsmime/helpers"
	"github.com/cloudflare/cfsmime/log"
)

// Store is a keyed index over certificates and their private keys.
// Certificates are identified by fingerprint; adding a certificate that
// is already present is not an error.
type Store interface {
	Add(ctx context.Context, cert *x509.Certificate) error
	// AddPrivateKey adds cert if needed and indexes key for it. The key
	// must correspond to the certificate's public key.
	AddPrivateKey(ctx context.Context, cert *x509.Certificate, key crypto.PrivateKey) error
	Remove(ctx context.Context, cert *x509.Certificate) error
	AddRange(ctx context.Context, certs []*x509.Certificate) error
	RemoveRange(ctx context.Context, certs []*x509.Certificate) error
	// Find returns the certificates matched by sel in insertion order.
	Find(ctx context.Context, sel *Selector) ([]*x509.Certificate, error)
	// PrivateKey returns the key of cert, or a not found error.
	PrivateKey(ctx context.Context, cert *x509.Certificate) (crypto.PrivateKey, error)
	// Import adds the entries decoded from data and returns their count.
	Import(ctx context.Context, data []byte, password string) (int, error)
	// Export encodes the certificates matched by sel.
	Export(ctx context.Context, sel *Selector, password string) ([]byte, error)
}

// MemoryStore is a Store held in memory. It is safe for concurrent use.
type MemoryStore struct {
	mu    sync.RWMutex
	order []string
	certs map[string]*x509.Certificate
	keys  map[string]crypto.PrivateKey
}

var _ Store = &MemoryStore{}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		certs: map[string]*x509.Certificate{},
		keys:  map[string]crypto.PrivateKey{},
	}
}

// Count returns the number of certificates in the store.
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

func (s *MemoryStore) add(cert *x509.Certificate) {
	fp := helpers.Fingerprint(cert)
	if _, ok := s.certs[fp]; ok {
		return
	}
	s.certs[fp] = cert
	s.order = append(s.order, fp)
}

func (s *MemoryStore) remove(cert *x509.Certificate) {
	fp := helpers.Fingerprint(cert)
	if _, ok := s.certs[fp]; !ok {
		return
	}
	delete(s.certs, fp)
	delete(s.keys, fp)
	for i, have := range s.order {
		if have == fp {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Add adds cert to the store.
func (s *MemoryStore) Add(ctx context.Context, cert *x509.Certificate) error {
	if cert == nil {
		return nullCertificate()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.add(cert)
	return nil
}

// AddPrivateKey adds cert and indexes key for it.
func (s *MemoryStore) AddPrivateKey(ctx context.Context, cert *x509.Certificate, key crypto.PrivateKey) error {
	if err := helpers.CheckKeyPair(cert, key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.add(cert)
	s.keys[helpers.Fingerprint(cert)] = key
	return nil
}

// Remove removes cert and its key, if present.
func (s *MemoryStore) Remove(ctx context.Context, cert *x509.Certificate) error {
	if cert == nil {
		return nullCertificate()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remove(cert)
	return nil
}

// AddRange adds every certificate of certs, or none if one is nil.
func (s *MemoryStore) AddRange(ctx context.Context, certs []*x509.Certificate) error {
	for _, cert := range certs {
		if cert == nil {
			return nullCertificate()
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cert := range certs {
		s.add(cert)
	}
	return nil
}

// RemoveRange removes every certificate of certs, or none if one is nil.
func (s *MemoryStore) RemoveRange(ctx context.Context, certs []*x509.Certificate) error {
	for _, cert := range certs {
		if cert == nil {
			return nullCertificate()
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cert := range certs {
		s.remove(cert)
	}
	return nil
}

// Find returns the certificates matched by sel.
func (s *MemoryStore) Find(ctx context.Context, sel *Selector) ([]*x509.Certificate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sel != nil && sel.Fingerprint != "" {
		for fp, cert := range s.certs {
			if helpers.FingerprintEqual(fp, sel.Fingerprint) && sel.Match(cert) {
				return []*x509.Certificate{cert}, nil
			}
		}
		return nil, nil
	}
	var out []*x509.Certificate
	for _, fp := range s.order {
		if cert := s.certs[fp]; sel.Match(cert) {
			out = append(out, cert)
		}
	}
	return out, nil
}

// PrivateKey returns the key indexed for cert.
func (s *MemoryStore) PrivateKey(ctx context.Context, cert *x509.Certificate) (crypto.PrivateKey, error) {
	if cert == nil {
		return nil, nullCertificate()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.keys[helpers.Fingerprint(cert)]
	if !ok {
		return nil, cferr.New(cferr.PrivateKeyError, cferr.KeyNotFound)
	}
	return key, nil
}

// Import decodes data and adds every entry. Either all entries are
// stored or, on error, none.
func (s *MemoryStore) Import(ctx context.Context, data []byte, password string) (int, error) {
	entries, err := Decode(data, password)
	if err != nil {
		return 0, err
	}
	return s.addEntries(ctx, entries)
}

func (s *MemoryStore) addEntries(ctx context.Context, entries []Entry) (int, error) {
	for _, e := range entries {
		if e.Certificate == nil {
			return 0, nullCertificate()
		}
		if e.Key != nil {
			if err := helpers.CheckKeyPair(e.Certificate, e.Key); err != nil {
				return 0, err
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		s.add(e.Certificate)
		if e.Key != nil {
			s.keys[helpers.Fingerprint(e.Certificate)] = e.Key
		}
	}
	log.Debugf("certstore: imported %d entries", len(entries))
	return len(entries), nil
}

// Export encodes the certificates matched by sel together with their
// keys.
func (s *MemoryStore) Export(ctx context.Context, sel *Selector, password string) ([]byte, error) {
	entries, err := FindEntries(ctx, s, sel)
	if err != nil {
		return nil, err
	}
	return Encode(entries, password)
}

// FindEntries returns the certificates matched by sel with the private
// key of each, when s holds one.
func FindEntries(ctx context.Context, s Store, sel *Selector) ([]Entry, error) {
	certs, err := s.Find(ctx, sel)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(certs))
	for _, cert := range certs {
		key, err := s.PrivateKey(ctx, cert)
		if err != nil && !cferr.IsNotFound(err) {
			return nil, err
		}
		entries = append(entries, Entry{Certificate: cert, Key: key})
	}
	return entries, nil
}
