// Package sql implements certdb.Accessor and certstore.Store on top of
// database/sql through sqlx, for the sqlite3, postgres and mysql drivers.
package sql

import (
	"context"
	"crypto"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/cloudflare/cfsmime/certdb"
	"github.com/cloudflare/cfsmime/certstore"
	"github.com/cloudflare/cfsmime/crypto/pkcs7"
	cferr "github.com/cloudflare/cfsmime/errors"
	"github.com/cloudflare/cfsmime/helpers"
	"github.com/cloudflare/cfsmime/log"
	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/jmoiron/sqlx"
	"github.com/kisielk/sqlstruct"
)

// Match to sqlx
func init() {
	sqlstruct.TagName = "db"
}

const (
	insertSQL = `
INSERT INTO certificates (trusted, fingerprint, subject, issuer_name, serial_number, subject_key_identifier,
	emails, not_before, not_after, key_usage, basic_constraints, certificate, private_key)
VALUES (:trusted, :fingerprint, :subject, :issuer_name, :serial_number, :subject_key_identifier,
	:emails, :not_before, :not_after, :key_usage, :basic_constraints, :certificate, :private_key);`

	selectSQL = `
SELECT %s FROM certificates c LEFT JOIN capabilities k ON k.fingerprint = c.fingerprint
	WHERE %s ORDER BY c.id;`

	deleteSQL = `
DELETE FROM certificates WHERE fingerprint = ?;`

	deleteCapabilitiesSQL = `
DELETE FROM capabilities WHERE fingerprint = ?;`

	updateCapabilitiesSQL = `
UPDATE capabilities SET algorithms = ?, updated = ?
	WHERE fingerprint = ? AND updated < ?;`

	insertCapabilitiesSQL = `
INSERT INTO capabilities (fingerprint, algorithms, updated) VALUES (?, ?, ?);`

	countCapabilitiesSQL = `
SELECT COUNT(*) FROM capabilities WHERE fingerprint = ?;`

	countCertificatesSQL = `
SELECT COUNT(*) FROM certificates WHERE fingerprint = ?;`

	insertCRLSQL = `
INSERT INTO crls (issuer_name, this_update, next_update, delta, crl)
VALUES (:issuer_name, :this_update, :next_update, :delta, :crl);`

	updateCRLSQL = `
UPDATE crls SET issuer_name = :issuer_name, this_update = :this_update, next_update = :next_update,
	delta = :delta, crl = :crl
	WHERE id = :id;`

	deleteCRLSQL = `
DELETE FROM crls WHERE id = ?;`

	selectCRLSQL = `
SELECT %s FROM crls WHERE %s ORDER BY this_update DESC, id DESC;`

	selectNextUpdateSQL = `
SELECT next_update FROM crls
	WHERE issuer_name = ? AND next_update IS NOT NULL
	ORDER BY next_update DESC LIMIT 1;`
)

// Accessor implements certdb.Accessor interface.
type Accessor struct {
	db *sqlx.DB
	// mu serializes writers; readers go straight to the database.
	mu sync.Mutex
}

var (
	_ certdb.Accessor = &Accessor{}
	_ certstore.Store = &Accessor{}
)

var sqliteUnique = regexp.MustCompile(`(^|\s)UNIQUE constraint failed .*`)

func wrapSQLError(err error) error {
	if err != nil {

		reason := cferr.Unknown

		// Unique constraint errors have different codes in different
		// DB engines so must be detected separately.

		// MySQL/MariaDB
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			reason = cferr.DuplicateEntry
		}

		// SQLite
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && (sqliteErr.Code == sqlite3.ErrConstraint) {
			// Parsing error message is probably the only way to detect duplicate key
			// errors in SQLite now...
			if sqliteUnique.MatchString(err.Error()) {
				reason = cferr.DuplicateEntry
			}
		}

		// PostgreSQL
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			reason = cferr.DuplicateEntry
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return cferr.Wrap(cferr.CertStoreError, reason, err)
	}
	return nil
}

func isDuplicate(err error) bool {
	var e *cferr.Error
	return errors.As(err, &e) && e.Category() == cferr.CertStoreError && e.Reason() == cferr.DuplicateEntry
}

func (d *Accessor) checkDB() error {
	if d.db == nil {
		return cferr.Wrap(cferr.CertStoreError, cferr.Unknown,
			errors.New("unknown db object, please check SetDB method"))
	}
	return nil
}

// NewAccessor returns a new Accessor. The schema is not touched; call
// Migrate, or use Open.
func NewAccessor(db *sqlx.DB) *Accessor {
	return &Accessor{db: db}
}

// Open returns an Accessor for db after migrating its schema to the
// current version.
func Open(ctx context.Context, db *sqlx.DB) (*Accessor, error) {
	d := NewAccessor(db)
	if err := d.Migrate(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

// SetDB changes the underlying sql.DB object Accessor is manipulating.
func (d *Accessor) SetDB(db *sqlx.DB) {
	d.db = db
}

// inTx runs fn in a transaction that is committed when fn succeeds and
// rolled back otherwise.
func (d *Accessor) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return wrapSQLError(err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Warningf("certdb: rollback failed: %v", rbErr)
		}
		return err
	}
	return wrapSQLError(tx.Commit())
}

// write serializes fn with the other writers and runs it in a transaction.
func (d *Accessor) write(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	if err := d.checkDB(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inTx(ctx, fn)
}

func checkRowsAffected(res interface{ RowsAffected() (int64, error) }, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return wrapSQLError(err)
	}
	if n == 0 {
		return cferr.Wrap(cferr.CertStoreError, cferr.RecordNotFound, fmt.Errorf("%s not found", what))
	}
	if n != 1 {
		return wrapSQLError(fmt.Errorf("%d rows are affected, should be 1 row", n))
	}
	return nil
}

func utcRecord(rec *certdb.CertificateRecord) *certdb.CertificateRecord {
	out := *rec
	out.NotBefore = rec.NotBefore.UTC()
	out.NotAfter = rec.NotAfter.UTC()
	return &out
}

func insertCertificate(ctx context.Context, tx *sqlx.Tx, rec *certdb.CertificateRecord) error {
	res, err := tx.NamedExecContext(ctx, insertSQL, utcRecord(rec))
	if err != nil {
		return wrapSQLError(err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return cferr.Wrap(cferr.CertStoreError, cferr.InsertionFailed, fmt.Errorf("failed to insert the certificate record"))
	}
	if len(rec.Algorithms) > 0 {
		_, err = tx.ExecContext(ctx, tx.Rebind(insertCapabilitiesSQL),
			rec.Fingerprint, formatAlgorithms(rec.Algorithms), rec.AlgorithmsUpdated.UnixNano())
		return wrapSQLError(err)
	}
	return nil
}

// InsertCertificate puts a certdb.CertificateRecord into db.
func (d *Accessor) InsertCertificate(ctx context.Context, rec *certdb.CertificateRecord) error {
	if rec == nil || len(rec.Certificate) == 0 || rec.Fingerprint == "" {
		return cferr.New(cferr.ArgumentError, cferr.NullArgument)
	}
	return d.write(ctx, func(tx *sqlx.Tx) error {
		return insertCertificate(ctx, tx, rec)
	})
}

// UpdateCertificate writes the trust flag, private key and capabilities
// of rec as selected by fields. The record is identified by fingerprint.
func (d *Accessor) UpdateCertificate(ctx context.Context, rec *certdb.CertificateRecord, fields certdb.Fields) error {
	if rec == nil || rec.Fingerprint == "" {
		return cferr.New(cferr.ArgumentError, cferr.NullArgument)
	}
	var set []string
	args := map[string]interface{}{"fingerprint": rec.Fingerprint}
	if fields.Has(certdb.FieldTrusted) {
		set = append(set, "trusted = :trusted")
		args["trusted"] = rec.Trusted
	}
	if fields.Has(certdb.FieldPrivateKey) {
		set = append(set, "private_key = :private_key")
		args["private_key"] = rec.PrivateKey
	}
	return d.write(ctx, func(tx *sqlx.Tx) error {
		if len(set) > 0 {
			res, err := tx.NamedExecContext(ctx,
				"UPDATE certificates SET "+strings.Join(set, ", ")+" WHERE fingerprint = :fingerprint;", args)
			if err != nil {
				return wrapSQLError(err)
			}
			if err := checkRowsAffected(res, "certificate "+rec.Fingerprint); err != nil {
				return err
			}
		}
		if fields.Has(certdb.FieldAlgorithms) {
			if _, err := tx.ExecContext(ctx, tx.Rebind(deleteCapabilitiesSQL), rec.Fingerprint); err != nil {
				return wrapSQLError(err)
			}
			_, err := tx.ExecContext(ctx, tx.Rebind(insertCapabilitiesSQL),
				rec.Fingerprint, formatAlgorithms(rec.Algorithms), rec.AlgorithmsUpdated.UnixNano())
			return wrapSQLError(err)
		}
		return nil
	})
}

func deleteCertificate(ctx context.Context, tx *sqlx.Tx, fingerprint string) error {
	res, err := tx.ExecContext(ctx, tx.Rebind(deleteSQL), fingerprint)
	if err != nil {
		return wrapSQLError(err)
	}
	if err := checkRowsAffected(res, "certificate "+fingerprint); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, tx.Rebind(deleteCapabilitiesSQL), fingerprint)
	return wrapSQLError(err)
}

// DeleteCertificate removes the record with the fingerprint of rec and
// its cached capabilities.
func (d *Accessor) DeleteCertificate(ctx context.Context, rec *certdb.CertificateRecord) error {
	if rec == nil || rec.Fingerprint == "" {
		return cferr.New(cferr.ArgumentError, cferr.NullArgument)
	}
	return d.write(ctx, func(tx *sqlx.Tx) error {
		return deleteCertificate(ctx, tx, rec.Fingerprint)
	})
}

// certificateRow is a certificates row joined with its capabilities.
type certificateRow struct {
	certdb.CertificateRecord
	Algorithms *string `db:"algorithms"`
	Updated    *int64  `db:"updated"`
}

func (r *certificateRow) record() (*certdb.CertificateRecord, error) {
	rec := r.CertificateRecord
	rec.NotBefore = rec.NotBefore.UTC()
	rec.NotAfter = rec.NotAfter.UTC()
	rec.AlgorithmsUpdated = certdb.Never
	if r.Updated != nil {
		rec.AlgorithmsUpdated = time.Unix(0, *r.Updated).UTC()
	}
	if r.Algorithms != nil {
		var err error
		if rec.Algorithms, err = parseAlgorithms(*r.Algorithms); err != nil {
			return nil, err
		}
	}
	return &rec, nil
}

// recordColumns returns the tagged columns of record, dropping the
// blob columns whose field is not in fields.
func recordColumns(record interface{}, fields certdb.Fields, alias string) []string {
	var cols []string
	for _, c := range strings.Split(sqlstruct.Columns(record), ", ") {
		if f, ok := blobColumns[c]; ok && !fields.Has(f) {
			continue
		}
		if alias != "" {
			c = alias + "." + c
		}
		cols = append(cols, c)
	}
	return cols
}

var blobColumns = map[string]certdb.Fields{
	"certificate": certdb.FieldCertificate,
	"private_key": certdb.FieldPrivateKey,
	"crl":         certdb.FieldCRL,
}

func certificateColumns(fields certdb.Fields) string {
	cols := recordColumns(certdb.CertificateRecord{}, fields, "c")
	if fields.Has(certdb.FieldAlgorithms) {
		cols = append(cols, "k.algorithms", "k.updated")
	}
	return strings.Join(cols, ", ")
}

// selectorWhere narrows a query by the indexed criteria of sel. Matches
// are confirmed with sel.Match afterwards, so the clause may be looser
// than the selector but never stricter.
func selectorWhere(sel *certstore.Selector, trustedOnly bool) (string, []interface{}) {
	where := []string{"1 = 1"}
	var args []interface{}
	add := func(clause string, vals ...interface{}) {
		where = append(where, clause)
		args = append(args, vals...)
	}
	if trustedOnly {
		add("c.trusted = ?", true)
	}
	if sel != nil {
		if sel.Fingerprint != "" {
			add("c.fingerprint = ?", strings.ToUpper(sel.Fingerprint))
		}
		if sel.Subject != "" {
			add("LOWER(c.subject) = ?", strings.ToLower(sel.Subject))
		}
		if sel.Issuer != "" {
			add("LOWER(c.issuer_name) = ?", strings.ToLower(sel.Issuer))
		}
		if sel.SerialNumber != nil {
			add("c.serial_number = ?", sel.SerialNumber.String())
		}
		if len(sel.SubjectKeyIdentifier) > 0 {
			add("c.subject_key_identifier = ?", strings.ToUpper(hex.EncodeToString(sel.SubjectKeyIdentifier)))
		}
		if sel.Email != "" {
			add("c.emails LIKE ?", "%,"+strings.ToLower(strings.TrimSpace(sel.Email))+",%")
		}
		if !sel.ValidAt.IsZero() {
			at := sel.ValidAt.UTC().Truncate(time.Second)
			add("c.not_before <= ? AND c.not_after >= ?", at.Add(time.Second), at)
		}
		if sel.BasicConstraints != nil {
			add("c.basic_constraints = ?", *sel.BasicConstraints)
		}
		if sel.KeyUsage != 0 {
			add("(c.key_usage = 0 OR (c.key_usage & ?) = ?)", int(sel.KeyUsage), int(sel.KeyUsage))
		}
	}
	return strings.Join(where, " AND "), args
}

func (d *Accessor) findCertificates(ctx context.Context, q sqlx.QueryerContext, sel *certstore.Selector, trustedOnly bool, fields certdb.Fields) ([]*certdb.CertificateRecord, error) {
	// The certificate is needed to confirm the selector match.
	queryFields := fields | certdb.FieldCertificate
	where, args := selectorWhere(sel, trustedOnly)
	var rows []certificateRow
	err := sqlx.SelectContext(ctx, q, &rows,
		d.db.Rebind(fmt.Sprintf(selectSQL, certificateColumns(queryFields), where)), args...)
	if err != nil {
		return nil, wrapSQLError(err)
	}

	var out []*certdb.CertificateRecord
	for i := range rows {
		rec, err := rows[i].record()
		if err != nil {
			return nil, err
		}
		cert, err := rec.X509()
		if err != nil {
			return nil, err
		}
		if !sel.Match(cert) {
			continue
		}
		if !fields.Has(certdb.FieldCertificate) {
			rec.Certificate = nil
		}
		out = append(out, rec)
	}
	return out, nil
}

// FindCertificates returns the records matched by sel.
func (d *Accessor) FindCertificates(ctx context.Context, sel *certstore.Selector, trustedOnly bool, fields certdb.Fields) ([]*certdb.CertificateRecord, error) {
	if err := d.checkDB(); err != nil {
		return nil, err
	}
	return d.findCertificates(ctx, d.db, sel, trustedOnly, fields)
}

// GetCertificate gets the certdb.CertificateRecord of cert.
func (d *Accessor) GetCertificate(ctx context.Context, cert *x509.Certificate, fields certdb.Fields) (*certdb.CertificateRecord, error) {
	if cert == nil {
		return nil, cferr.New(cferr.ArgumentError, cferr.NullArgument)
	}
	recs, err := d.FindCertificates(ctx, certstore.ByFingerprint(helpers.Fingerprint(cert)), false, fields)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, cferr.Wrap(cferr.CertStoreError, cferr.RecordNotFound, fmt.Errorf("certificate %s not found", helpers.Fingerprint(cert)))
	}
	return recs[0], nil
}

// FindPrivateKeys returns the private keys of the records matched by sel.
func (d *Accessor) FindPrivateKeys(ctx context.Context, sel *certstore.Selector) ([]crypto.PrivateKey, error) {
	recs, err := d.FindCertificates(ctx, sel, false, certdb.FieldPrivateKey)
	if err != nil {
		return nil, err
	}
	var keys []crypto.PrivateKey
	for _, rec := range recs {
		if len(rec.PrivateKey) == 0 {
			continue
		}
		key, err := rec.Key()
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// UpdateCapabilities replaces the cached capabilities of cert when
// updated is newer than the stored timestamp. The comparison is part of
// the UPDATE statement, so a concurrent writer holding an older
// timestamp cannot overwrite a newer one.
func (d *Accessor) UpdateCapabilities(ctx context.Context, cert *x509.Certificate, algorithms []pkcs7.EncryptionAlgorithm, updated time.Time) (bool, error) {
	if cert == nil {
		return false, cferr.New(cferr.ArgumentError, cferr.NullArgument)
	}
	fp := helpers.Fingerprint(cert)
	algs := formatAlgorithms(algorithms)
	ts := updated.UnixNano()

	applied := false
	err := d.write(ctx, func(tx *sqlx.Tx) error {
		var n int
		if err := tx.GetContext(ctx, &n, tx.Rebind(countCertificatesSQL), fp); err != nil {
			return wrapSQLError(err)
		}
		if n == 0 {
			return cferr.Wrap(cferr.CertStoreError, cferr.RecordNotFound, fmt.Errorf("certificate %s not found", fp))
		}

		res, err := tx.ExecContext(ctx, tx.Rebind(updateCapabilitiesSQL), algs, ts, fp, ts)
		if err != nil {
			return wrapSQLError(err)
		}
		if rows, _ := res.RowsAffected(); rows == 1 {
			applied = true
			return nil
		}
		if err := tx.GetContext(ctx, &n, tx.Rebind(countCapabilitiesSQL), fp); err != nil {
			return wrapSQLError(err)
		}
		if n > 0 {
			// A newer or equal timestamp is already stored.
			return nil
		}
		if ts <= certdb.Never.UnixNano() {
			return nil
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(insertCapabilitiesSQL), fp, algs, ts); err != nil {
			return wrapSQLError(err)
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	log.Debugf("certdb: capabilities of %s updated=%v (%s)", fp, applied, algs)
	return applied, nil
}

func formatAlgorithms(algs []pkcs7.EncryptionAlgorithm) string {
	names := make([]string, 0, len(algs))
	for _, a := range algs {
		names = append(names, a.String())
	}
	return strings.Join(names, ",")
}

func parseAlgorithms(s string) ([]pkcs7.EncryptionAlgorithm, error) {
	var algs []pkcs7.EncryptionAlgorithm
	for _, name := range strings.Split(s, ",") {
		if name = strings.TrimSpace(name); name == "" {
			continue
		}
		alg, err := pkcs7.ParseEncryptionAlgorithm(name)
		if err != nil {
			log.Warningf("certdb: skipping unknown cached capability %q", name)
			continue
		}
		algs = append(algs, alg)
	}
	return algs, nil
}

// InsertCRL puts a certdb.CRLRecord into db and sets its ID.
func (d *Accessor) InsertCRL(ctx context.Context, rec *certdb.CRLRecord) error {
	if rec == nil || len(rec.CRL) == 0 {
		return cferr.New(cferr.ArgumentError, cferr.NullArgument)
	}
	return d.write(ctx, func(tx *sqlx.Tx) error {
		row := *rec
		row.ThisUpdate = rec.ThisUpdate.UTC()
		row.NextUpdate.Time = rec.NextUpdate.Time.UTC()
		if _, err := tx.NamedExecContext(ctx, insertCRLSQL, &row); err != nil {
			return wrapSQLError(err)
		}
		// LastInsertId is not available with lib/pq.
		var id int64
		err := tx.GetContext(ctx, &id, tx.Rebind(`SELECT MAX(id) FROM crls WHERE issuer_name = ?`), rec.Issuer)
		if err != nil {
			return wrapSQLError(err)
		}
		rec.ID = id
		return nil
	})
}

// UpdateCRL rewrites the CRL record with the ID of rec.
func (d *Accessor) UpdateCRL(ctx context.Context, rec *certdb.CRLRecord) error {
	if rec == nil || rec.ID == 0 || len(rec.CRL) == 0 {
		return cferr.New(cferr.ArgumentError, cferr.NullArgument)
	}
	return d.write(ctx, func(tx *sqlx.Tx) error {
		row := *rec
		row.ThisUpdate = rec.ThisUpdate.UTC()
		row.NextUpdate.Time = rec.NextUpdate.Time.UTC()
		res, err := tx.NamedExecContext(ctx, updateCRLSQL, &row)
		if err != nil {
			return wrapSQLError(err)
		}
		return checkRowsAffected(res, fmt.Sprintf("crl %d", rec.ID))
	})
}

// DeleteCRL removes the CRL record with the ID of rec.
func (d *Accessor) DeleteCRL(ctx context.Context, rec *certdb.CRLRecord) error {
	if rec == nil || rec.ID == 0 {
		return cferr.New(cferr.ArgumentError, cferr.NullArgument)
	}
	return d.write(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, tx.Rebind(deleteCRLSQL), rec.ID)
		if err != nil {
			return wrapSQLError(err)
		}
		return checkRowsAffected(res, fmt.Sprintf("crl %d", rec.ID))
	})
}

func crlColumns(fields certdb.Fields) string {
	return strings.Join(recordColumns(certdb.CRLRecord{}, fields, ""), ", ")
}

func (d *Accessor) selectCRLs(ctx context.Context, where string, fields certdb.Fields, args ...interface{}) ([]*certdb.CRLRecord, error) {
	if err := d.checkDB(); err != nil {
		return nil, err
	}
	var rows []certdb.CRLRecord
	err := d.db.SelectContext(ctx, &rows, d.db.Rebind(fmt.Sprintf(selectCRLSQL, crlColumns(fields), where)), args...)
	if err != nil {
		return nil, wrapSQLError(err)
	}
	out := make([]*certdb.CRLRecord, len(rows))
	for i := range rows {
		rows[i].ThisUpdate = rows[i].ThisUpdate.UTC()
		rows[i].NextUpdate.Time = rows[i].NextUpdate.Time.UTC()
		out[i] = &rows[i]
	}
	return out, nil
}

// GetCRL returns the record whose stored CRL is byte-identical to crl.
func (d *Accessor) GetCRL(ctx context.Context, crl *x509.RevocationList, fields certdb.Fields) (*certdb.CRLRecord, error) {
	if crl == nil {
		return nil, cferr.New(cferr.ArgumentError, cferr.NullArgument)
	}
	recs, err := d.selectCRLs(ctx, "issuer_name = ? AND this_update = ?", fields|certdb.FieldCRL,
		crl.Issuer.String(), crl.ThisUpdate.UTC())
	if err != nil {
		return nil, err
	}
	for _, rec := range recs {
		if string(rec.CRL) == string(crl.Raw) {
			if !fields.Has(certdb.FieldCRL) {
				rec.CRL = nil
			}
			return rec, nil
		}
	}
	return nil, cferr.Wrap(cferr.CertStoreError, cferr.RecordNotFound, fmt.Errorf("crl of %s at %s not found", crl.Issuer, crl.ThisUpdate))
}

// FindCRLs returns the CRLs of issuer, most recent thisUpdate first.
func (d *Accessor) FindCRLs(ctx context.Context, issuer string, fields certdb.Fields) ([]*certdb.CRLRecord, error) {
	if issuer == "" {
		return nil, cferr.New(cferr.ArgumentError, cferr.NullArgument)
	}
	return d.selectCRLs(ctx, "issuer_name = ?", fields, issuer)
}

// GetNextUpdate returns the latest nextUpdate of the issuer's CRLs, or
// certdb.Never.
func (d *Accessor) GetNextUpdate(ctx context.Context, issuer string) (time.Time, error) {
	if issuer == "" {
		return time.Time{}, cferr.New(cferr.ArgumentError, cferr.NullArgument)
	}
	if err := d.checkDB(); err != nil {
		return time.Time{}, err
	}
	var next []time.Time
	if err := d.db.SelectContext(ctx, &next, d.db.Rebind(selectNextUpdateSQL), issuer); err != nil {
		return time.Time{}, wrapSQLError(err)
	}
	if len(next) == 0 {
		return certdb.Never, nil
	}
	return next[0].UTC(), nil
}
