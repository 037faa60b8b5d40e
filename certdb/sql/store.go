package sql

import (
	"context"
	"crypto"
	"crypto/x509"

	"github.com/cloudflare/cfsmime/certdb"
	"github.com/cloudflare/cfsmime/certstore"
	cferr "github.com/cloudflare/cfsmime/errors"
	"github.com/cloudflare/cfsmime/helpers"
	"github.com/cloudflare/cfsmime/log"
	"github.com/jmoiron/sqlx"
)

// putEntry inserts the certificate of e, or updates the key and trust
// flag of an existing record when e carries them.
func putEntry(ctx context.Context, tx *sqlx.Tx, e certstore.Entry, trusted bool) error {
	if e.Certificate == nil {
		return cferr.New(cferr.ArgumentError, cferr.NullArgument)
	}
	rec, err := certdb.NewCertificateRecord(e.Certificate, e.Key, trusted)
	if err != nil {
		return err
	}
	var n int
	if err := tx.GetContext(ctx, &n, tx.Rebind(countCertificatesSQL), rec.Fingerprint); err != nil {
		return wrapSQLError(err)
	}
	if n == 0 {
		return insertCertificate(ctx, tx, rec)
	}
	if e.Key != nil {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE certificates SET private_key = ? WHERE fingerprint = ?;`),
			rec.PrivateKey, rec.Fingerprint); err != nil {
			return wrapSQLError(err)
		}
	}
	if trusted {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE certificates SET trusted = ? WHERE fingerprint = ?;`),
			true, rec.Fingerprint); err != nil {
			return wrapSQLError(err)
		}
	}
	return nil
}

func (d *Accessor) putEntries(ctx context.Context, entries []certstore.Entry, trusted bool) error {
	for _, e := range entries {
		if e.Certificate == nil {
			return cferr.New(cferr.ArgumentError, cferr.NullArgument)
		}
	}
	return d.write(ctx, func(tx *sqlx.Tx) error {
		for _, e := range entries {
			if err := putEntry(ctx, tx, e, trusted); err != nil {
				return err
			}
		}
		return nil
	})
}

func entries(certs []*x509.Certificate) []certstore.Entry {
	out := make([]certstore.Entry, len(certs))
	for i, c := range certs {
		out[i].Certificate = c
	}
	return out
}

// Add adds cert if it is not already stored.
func (d *Accessor) Add(ctx context.Context, cert *x509.Certificate) error {
	return d.putEntries(ctx, entries([]*x509.Certificate{cert}), false)
}

// AddTrusted adds certs as trust anchors, marking already stored
// certificates as trusted.
func (d *Accessor) AddTrusted(ctx context.Context, certs []*x509.Certificate) error {
	return d.putEntries(ctx, entries(certs), true)
}

// AddPrivateKey adds cert if needed and stores key with it.
func (d *Accessor) AddPrivateKey(ctx context.Context, cert *x509.Certificate, key crypto.PrivateKey) error {
	if err := helpers.CheckKeyPair(cert, key); err != nil {
		return err
	}
	return d.putEntries(ctx, []certstore.Entry{{Certificate: cert, Key: key}}, false)
}

// AddRange adds every certificate of certs in one transaction.
func (d *Accessor) AddRange(ctx context.Context, certs []*x509.Certificate) error {
	return d.putEntries(ctx, entries(certs), false)
}

func (d *Accessor) removeAll(ctx context.Context, certs []*x509.Certificate) error {
	for _, c := range certs {
		if c == nil {
			return cferr.New(cferr.ArgumentError, cferr.NullArgument)
		}
	}
	return d.write(ctx, func(tx *sqlx.Tx) error {
		for _, c := range certs {
			err := deleteCertificate(ctx, tx, helpers.Fingerprint(c))
			if err != nil && !cferr.IsNotFound(err) {
				return err
			}
		}
		return nil
	})
}

// Remove removes cert, if stored.
func (d *Accessor) Remove(ctx context.Context, cert *x509.Certificate) error {
	return d.removeAll(ctx, []*x509.Certificate{cert})
}

// RemoveRange removes every stored certificate of certs in one transaction.
func (d *Accessor) RemoveRange(ctx context.Context, certs []*x509.Certificate) error {
	return d.removeAll(ctx, certs)
}

// Find returns the certificates matched by sel.
func (d *Accessor) Find(ctx context.Context, sel *certstore.Selector) ([]*x509.Certificate, error) {
	recs, err := d.FindCertificates(ctx, sel, false, certdb.FieldCertificate)
	if err != nil {
		return nil, err
	}
	certs := make([]*x509.Certificate, 0, len(recs))
	for _, rec := range recs {
		cert, err := rec.X509()
		if err != nil {
			return nil, err
		}
		certs = append(certs, cert)
	}
	return certs, nil
}

// PrivateKey returns the key stored with cert.
func (d *Accessor) PrivateKey(ctx context.Context, cert *x509.Certificate) (crypto.PrivateKey, error) {
	rec, err := d.GetCertificate(ctx, cert, certdb.FieldPrivateKey)
	if err != nil {
		if cferr.IsNotFound(err) {
			return nil, cferr.New(cferr.PrivateKeyError, cferr.KeyNotFound)
		}
		return nil, err
	}
	return rec.Key()
}

// Import decodes data and stores every entry in one transaction.
func (d *Accessor) Import(ctx context.Context, data []byte, password string) (int, error) {
	es, err := certstore.Decode(data, password)
	if err != nil {
		return 0, err
	}
	if err := d.putEntries(ctx, es, false); err != nil {
		return 0, err
	}
	log.Debugf("certdb: imported %d entries", len(es))
	return len(es), nil
}

// Export encodes the certificates matched by sel with their keys.
func (d *Accessor) Export(ctx context.Context, sel *certstore.Selector, password string) ([]byte, error) {
	es, err := certstore.FindEntries(ctx, d, sel)
	if err != nil {
		return nil, err
	}
	return certstore.Encode(es, password)
}
