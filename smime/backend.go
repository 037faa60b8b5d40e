package smime

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cloudflare/cfsmime/bundler"
	"github.com/cloudflare/cfsmime/certdb"
	certsql "github.com/cloudflare/cfsmime/certdb/sql"
	"github.com/cloudflare/cfsmime/certstore"
	"github.com/cloudflare/cfsmime/crl"
	"github.com/cloudflare/cfsmime/crypto/pkcs7"
	cferr "github.com/cloudflare/cfsmime/errors"
	"github.com/cloudflare/cfsmime/helpers"
	"github.com/cloudflare/cfsmime/log"
	"github.com/cloudflare/cfsmime/revoke"
	"github.com/jmoiron/sqlx"
)

// A Backend holds the certificates, keys, CRLs and peer capabilities a
// Context works with.
type Backend interface {
	certstore.Store
	revoke.Source

	// AddTrusted adds self-signed certificates as trust anchors.
	AddTrusted(ctx context.Context, certs []*x509.Certificate) error
	// Pools returns the trust anchors and the other CA certificates.
	Pools(ctx context.Context) (anchors, intermediates []*x509.Certificate, err error)
	// Capabilities returns the cached algorithms of cert and the time
	// they were recorded, certdb.Never when unknown.
	Capabilities(ctx context.Context, cert *x509.Certificate) ([]pkcs7.EncryptionAlgorithm, time.Time, error)
	UpdateCapabilities(ctx context.Context, cert *x509.Certificate, algorithms []pkcs7.EncryptionAlgorithm, updated time.Time) (bool, error)
	// ImportCRL stores a DER or PEM encoded CRL; importing a CRL twice
	// is not an error.
	ImportCRL(ctx context.Context, data []byte) (*certdb.CRLRecord, error)
	Close() error
}

type sqlBackend struct {
	*certsql.Accessor
	db *sqlx.DB
}

// NewSQLBackend returns a Backend over db, migrating its schema first.
func NewSQLBackend(ctx context.Context, db *sqlx.DB) (Backend, error) {
	if db == nil {
		return nil, cferr.New(cferr.ArgumentError, cferr.NullArgument)
	}
	acc, err := certsql.Open(ctx, db)
	if err != nil {
		return nil, err
	}
	return &sqlBackend{Accessor: acc, db: db}, nil
}

func (b *sqlBackend) Pools(ctx context.Context) (anchors, intermediates []*x509.Certificate, err error) {
	recs, err := b.FindCertificates(ctx, nil, false, certdb.FieldCertificate|certdb.FieldTrusted)
	if err != nil {
		return nil, nil, err
	}
	return bundler.FromRecords(recs)
}

func (b *sqlBackend) Capabilities(ctx context.Context, cert *x509.Certificate) ([]pkcs7.EncryptionAlgorithm, time.Time, error) {
	rec, err := b.GetCertificate(ctx, cert, certdb.FieldAlgorithms)
	if err != nil {
		if cferr.IsNotFound(err) {
			return nil, certdb.Never, nil
		}
		return nil, certdb.Never, err
	}
	return rec.Algorithms, rec.AlgorithmsUpdated, nil
}

func (b *sqlBackend) ImportCRL(ctx context.Context, data []byte) (*certdb.CRLRecord, error) {
	rl, err := crl.Parse(data)
	if err != nil {
		return nil, err
	}
	rec := crl.RecordFrom(rl)
	old, err := b.GetCRL(ctx, rl, certdb.FieldNone)
	switch {
	case err == nil:
		log.Debugf("smime: CRL of %s issued %s already stored", rec.Issuer, rec.ThisUpdate)
		return old, nil
	case !cferr.IsNotFound(err):
		return nil, err
	}
	if err := b.InsertCRL(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (b *sqlBackend) Close() error {
	return b.db.Close()
}

type capability struct {
	algorithms []pkcs7.EncryptionAlgorithm
	updated    time.Time
}

// memoryBackend keeps everything in process memory.
type memoryBackend struct {
	*certstore.MemoryStore
	crls *revoke.CRLSet

	mu      sync.Mutex
	anchors map[string]bool
	caps    map[string]capability
}

// NewMemoryBackend returns an empty in-memory Backend.
func NewMemoryBackend() Backend {
	return &memoryBackend{
		MemoryStore: certstore.NewMemoryStore(),
		crls:        revoke.NewCRLSet(),
		anchors:     map[string]bool{},
		caps:        map[string]capability{},
	}
}

func (b *memoryBackend) FindCRLs(ctx context.Context, issuer string, fields certdb.Fields) ([]*certdb.CRLRecord, error) {
	return b.crls.FindCRLs(ctx, issuer, fields)
}

func (b *memoryBackend) AddTrusted(ctx context.Context, certs []*x509.Certificate) error {
	for _, c := range certs {
		if c == nil {
			return cferr.New(cferr.ArgumentError, cferr.NullArgument)
		}
		if !helpers.IsSelfSigned(c) {
			return cferr.Wrap(cferr.RootError, cferr.Unknown, fmt.Errorf("%s is not self-signed", c.Subject))
		}
	}
	if err := b.AddRange(ctx, certs); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range certs {
		b.anchors[helpers.Fingerprint(c)] = true
	}
	return nil
}

func (b *memoryBackend) Remove(ctx context.Context, cert *x509.Certificate) error {
	if err := b.MemoryStore.Remove(ctx, cert); err != nil {
		return err
	}
	b.forget(cert)
	return nil
}

func (b *memoryBackend) RemoveRange(ctx context.Context, certs []*x509.Certificate) error {
	if err := b.MemoryStore.RemoveRange(ctx, certs); err != nil {
		return err
	}
	for _, c := range certs {
		b.forget(c)
	}
	return nil
}

func (b *memoryBackend) forget(cert *x509.Certificate) {
	fp := helpers.Fingerprint(cert)
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.anchors, fp)
	delete(b.caps, fp)
}

func (b *memoryBackend) Pools(ctx context.Context) (anchors, intermediates []*x509.Certificate, err error) {
	certs, err := b.Find(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range certs {
		switch {
		case b.anchors[helpers.Fingerprint(c)]:
			anchors = append(anchors, c)
		case c.IsCA:
			intermediates = append(intermediates, c)
		}
	}
	return anchors, intermediates, nil
}

func (b *memoryBackend) Capabilities(ctx context.Context, cert *x509.Certificate) ([]pkcs7.EncryptionAlgorithm, time.Time, error) {
	if cert == nil {
		return nil, certdb.Never, cferr.New(cferr.ArgumentError, cferr.NullArgument)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.caps[helpers.Fingerprint(cert)]
	if !ok {
		return nil, certdb.Never, nil
	}
	return append([]pkcs7.EncryptionAlgorithm(nil), c.algorithms...), c.updated, nil
}

func (b *memoryBackend) UpdateCapabilities(ctx context.Context, cert *x509.Certificate, algorithms []pkcs7.EncryptionAlgorithm, updated time.Time) (bool, error) {
	if cert == nil {
		return false, cferr.New(cferr.ArgumentError, cferr.NullArgument)
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	fp := helpers.Fingerprint(cert)
	if certs, err := b.Find(ctx, certstore.ByFingerprint(fp)); err != nil {
		return false, err
	} else if len(certs) == 0 {
		return false, cferr.Wrap(cferr.CertStoreError, cferr.RecordNotFound, fmt.Errorf("certificate %s not found", fp))
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	stored := certdb.Never
	if c, ok := b.caps[fp]; ok {
		stored = c.updated
	}
	if !updated.After(stored) {
		return false, nil
	}
	b.caps[fp] = capability{
		algorithms: append([]pkcs7.EncryptionAlgorithm(nil), algorithms...),
		updated:    updated.UTC(),
	}
	return true, nil
}

func (b *memoryBackend) ImportCRL(ctx context.Context, data []byte) (*certdb.CRLRecord, error) {
	if len(data) == 0 {
		return nil, cferr.Wrap(cferr.ArgumentError, cferr.NullArgument, errors.New("no CRL data"))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return b.crls.Add(data)
}

func (b *memoryBackend) Close() error {
	return nil
}
