package sql

import (
	"context"
	"crypto/x509"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cloudflare/cfsmime/certdb"
	"github.com/cloudflare/cfsmime/crl"
	cferr "github.com/cloudflare/cfsmime/errors"
	"github.com/cloudflare/cfsmime/log"
	"github.com/jmoiron/sqlx"
)

// SchemaVersion is the version of the schema written by Migrate.
const SchemaVersion = 2

// dialect holds the column types that differ between drivers.
type dialect struct {
	id   string
	blob string
}

func dialectFor(driver string) dialect {
	switch driver {
	case "postgres":
		return dialect{id: "SERIAL PRIMARY KEY", blob: "BYTEA"}
	case "mysql":
		return dialect{id: "INTEGER PRIMARY KEY AUTO_INCREMENT", blob: "LONGBLOB"}
	default:
		return dialect{id: "INTEGER PRIMARY KEY AUTOINCREMENT", blob: "BLOB"}
	}
}

func (d dialect) expand(ddl string) []string {
	ddl = strings.NewReplacer("{{id}}", d.id, "{{blob}}", d.blob).Replace(ddl)
	var stmts []string
	for _, s := range strings.Split(ddl, ";") {
		if s = strings.TrimSpace(s); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}

// Version 0: certificates with a trust flag and optional key, nothing
// else. There is no properties table.
const schemaV0 = `
CREATE TABLE certificates (
	id {{id}},
	trusted BOOLEAN NOT NULL DEFAULT FALSE,
	certificate {{blob}} NOT NULL,
	private_key {{blob}}
);`

type certificateV0 struct {
	ID          int64  `db:"id"`
	Trusted     bool   `db:"trusted"`
	Certificate []byte `db:"certificate"`
	PrivateKey  []byte `db:"private_key"`
}

// Version 1 adds the derived index columns, the capability columns
// inline with the certificate, CRLs and the properties table.
const schemaV1 = `
CREATE TABLE properties (
	name VARCHAR(64) NOT NULL PRIMARY KEY,
	value VARCHAR(255) NOT NULL
);
CREATE TABLE certificates_v1 (
	id {{id}},
	trusted BOOLEAN NOT NULL DEFAULT FALSE,
	fingerprint VARCHAR(64) NOT NULL UNIQUE,
	subject VARCHAR(512) NOT NULL,
	issuer_name VARCHAR(512) NOT NULL,
	serial_number VARCHAR(128) NOT NULL,
	subject_key_identifier VARCHAR(128) NOT NULL,
	emails VARCHAR(512) NOT NULL,
	not_before TIMESTAMP NOT NULL,
	not_after TIMESTAMP NOT NULL,
	key_usage INTEGER NOT NULL,
	basic_constraints INTEGER NOT NULL,
	algorithms VARCHAR(255) NOT NULL,
	algorithms_updated BIGINT NOT NULL,
	certificate {{blob}} NOT NULL,
	private_key {{blob}}
);
CREATE TABLE crls (
	id {{id}},
	issuer_name VARCHAR(512) NOT NULL,
	this_update TIMESTAMP NOT NULL,
	next_update TIMESTAMP NULL,
	crl {{blob}} NOT NULL
);`

const schemaV1Swap = `
DROP TABLE certificates;
ALTER TABLE certificates_v1 RENAME TO certificates;
INSERT INTO properties (name, value) VALUES ('version', '1');`

type certificateV1 struct {
	certdb.CertificateRecord
	Algorithms        string `db:"algorithms"`
	AlgorithmsUpdated int64  `db:"algorithms_updated"`
}

const insertV1SQL = `
INSERT INTO certificates_v1 (trusted, fingerprint, subject, issuer_name, serial_number, subject_key_identifier,
	emails, not_before, not_after, key_usage, basic_constraints, algorithms, algorithms_updated, certificate, private_key)
VALUES (:trusted, :fingerprint, :subject, :issuer_name, :serial_number, :subject_key_identifier,
	:emails, :not_before, :not_after, :key_usage, :basic_constraints, :algorithms, :algorithms_updated, :certificate, :private_key);`

// upgradeCertificateV0 derives the version 1 shape of a version 0 row.
func upgradeCertificateV0(old certificateV0) (certificateV1, error) {
	cert, err := x509.ParseCertificate(old.Certificate)
	if err != nil {
		return certificateV1{}, fmt.Errorf("certificate %d: %v", old.ID, err)
	}
	rec, err := certdb.NewCertificateRecord(cert, nil, old.Trusted)
	if err != nil {
		return certificateV1{}, err
	}
	rec.ID = old.ID
	rec.PrivateKey = old.PrivateKey
	return certificateV1{CertificateRecord: *rec, AlgorithmsUpdated: certdb.Never.UnixNano()}, nil
}

// Version 2 moves the capability columns to a side table keyed by
// fingerprint and flags delta CRLs.
const schemaV2 = `
CREATE TABLE capabilities (
	fingerprint VARCHAR(64) NOT NULL PRIMARY KEY,
	algorithms VARCHAR(255) NOT NULL,
	updated BIGINT NOT NULL
);
CREATE TABLE certificates_v2 (
	id {{id}},
	trusted BOOLEAN NOT NULL DEFAULT FALSE,
	fingerprint VARCHAR(64) NOT NULL UNIQUE,
	subject VARCHAR(512) NOT NULL,
	issuer_name VARCHAR(512) NOT NULL,
	serial_number VARCHAR(128) NOT NULL,
	subject_key_identifier VARCHAR(128) NOT NULL,
	emails VARCHAR(512) NOT NULL,
	not_before TIMESTAMP NOT NULL,
	not_after TIMESTAMP NOT NULL,
	key_usage INTEGER NOT NULL,
	basic_constraints INTEGER NOT NULL,
	certificate {{blob}} NOT NULL,
	private_key {{blob}}
);
CREATE TABLE crls_v2 (
	id {{id}},
	issuer_name VARCHAR(512) NOT NULL,
	this_update TIMESTAMP NOT NULL,
	next_update TIMESTAMP NULL,
	delta BOOLEAN NOT NULL DEFAULT FALSE,
	crl {{blob}} NOT NULL
);`

const schemaV2Swap = `
DROP TABLE certificates;
ALTER TABLE certificates_v2 RENAME TO certificates;
DROP TABLE crls;
ALTER TABLE crls_v2 RENAME TO crls;
CREATE INDEX certificates_emails ON certificates (emails);
CREATE INDEX crls_issuer ON crls (issuer_name);
UPDATE properties SET value = '2' WHERE name = 'version';`

const (
	insertCertificateV2SQL = `
INSERT INTO certificates_v2 (trusted, fingerprint, subject, issuer_name, serial_number, subject_key_identifier,
	emails, not_before, not_after, key_usage, basic_constraints, certificate, private_key)
VALUES (:trusted, :fingerprint, :subject, :issuer_name, :serial_number, :subject_key_identifier,
	:emails, :not_before, :not_after, :key_usage, :basic_constraints, :certificate, :private_key);`

	insertCapabilitiesV2SQL = `
INSERT INTO capabilities (fingerprint, algorithms, updated) VALUES (:fingerprint, :algorithms, :updated);`

	insertCRLV2SQL = `
INSERT INTO crls_v2 (issuer_name, this_update, next_update, delta, crl)
VALUES (:issuer_name, :this_update, :next_update, :delta, :crl);`
)

type crlV1 struct {
	ID         int64        `db:"id"`
	Issuer     string       `db:"issuer_name"`
	ThisUpdate time.Time    `db:"this_update"`
	NextUpdate sql.NullTime `db:"next_update"`
	CRL        []byte       `db:"crl"`
}

// capabilityRow is a row of the capabilities table.
type capabilityRow struct {
	Fingerprint string `db:"fingerprint"`
	Algorithms  string `db:"algorithms"`
	Updated     int64  `db:"updated"`
}

// upgradeCertificateV1 splits a version 1 row into the version 2
// certificate row and its capability row, if capabilities were cached.
func upgradeCertificateV1(old certificateV1) (certdb.CertificateRecord, *capabilityRow) {
	rec := old.CertificateRecord
	if old.Algorithms == "" && old.AlgorithmsUpdated <= certdb.Never.UnixNano() {
		return rec, nil
	}
	return rec, &capabilityRow{Fingerprint: rec.Fingerprint, Algorithms: old.Algorithms, Updated: old.AlgorithmsUpdated}
}

// upgradeCRLV1 derives the version 2 shape of a version 1 CRL row.
func upgradeCRLV1(old crlV1) (certdb.CRLRecord, error) {
	rl, err := x509.ParseRevocationList(old.CRL)
	if err != nil {
		return certdb.CRLRecord{}, fmt.Errorf("crl %d: %v", old.ID, err)
	}
	rec := certdb.CRLRecord{
		ID:         old.ID,
		Issuer:     old.Issuer,
		ThisUpdate: old.ThisUpdate,
		CRL:        old.CRL,
		Delta:      crl.IsDelta(rl),
	}
	if old.NextUpdate.Valid {
		rec.NextUpdate.Time, rec.NextUpdate.Valid = old.NextUpdate.Time, true
	}
	return rec, nil
}

// migration upgrades a database from version to version+1.
type migration struct {
	version int
	apply   func(ctx context.Context, tx *sqlx.Tx, d dialect) error
}

var migrations = []migration{
	{0, migrateV0},
	{1, migrateV1},
}

func execAll(ctx context.Context, tx *sqlx.Tx, stmts []string) error {
	for _, s := range stmts {
		if _, err := tx.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("%v: %s", err, s)
		}
	}
	return nil
}

func migrateV0(ctx context.Context, tx *sqlx.Tx, d dialect) error {
	var rows []certificateV0
	if err := tx.SelectContext(ctx, &rows, `SELECT id, trusted, certificate, private_key FROM certificates;`); err != nil {
		return err
	}
	if err := execAll(ctx, tx, d.expand(schemaV1)); err != nil {
		return err
	}
	for _, row := range rows {
		next, err := upgradeCertificateV0(row)
		if err != nil {
			return err
		}
		if _, err := tx.NamedExecContext(ctx, insertV1SQL, next); err != nil {
			return err
		}
	}
	return execAll(ctx, tx, d.expand(schemaV1Swap))
}

func migrateV1(ctx context.Context, tx *sqlx.Tx, d dialect) error {
	var certs []certificateV1
	if err := tx.SelectContext(ctx, &certs, `SELECT * FROM certificates;`); err != nil {
		return err
	}
	var crls []crlV1
	if err := tx.SelectContext(ctx, &crls, `SELECT id, issuer_name, this_update, next_update, crl FROM crls;`); err != nil {
		return err
	}
	if err := execAll(ctx, tx, d.expand(schemaV2)); err != nil {
		return err
	}
	for _, row := range certs {
		rec, capRow := upgradeCertificateV1(row)
		if _, err := tx.NamedExecContext(ctx, insertCertificateV2SQL, rec); err != nil {
			return err
		}
		if capRow != nil {
			if _, err := tx.NamedExecContext(ctx, insertCapabilitiesV2SQL, capRow); err != nil {
				return err
			}
		}
	}
	for _, row := range crls {
		rec, err := upgradeCRLV1(row)
		if err != nil {
			return err
		}
		if _, err := tx.NamedExecContext(ctx, insertCRLV2SQL, rec); err != nil {
			return err
		}
	}
	return execAll(ctx, tx, d.expand(schemaV2Swap))
}

func tableExists(ctx context.Context, db *sqlx.DB, table string) bool {
	rows, err := db.QueryContext(ctx, "SELECT 1 FROM "+table+" WHERE 1 = 0")
	if err != nil {
		return false
	}
	rows.Close()
	return true
}

// version returns the schema version of db, or -1 for an empty database.
func version(ctx context.Context, db *sqlx.DB) (int, error) {
	if !tableExists(ctx, db, "properties") {
		if tableExists(ctx, db, "certificates") {
			return 0, nil
		}
		return -1, nil
	}
	var v string
	err := db.GetContext(ctx, &v, db.Rebind(`SELECT value FROM properties WHERE name = ?`), "version")
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(v)
}

// Migrate brings the schema of the database up to SchemaVersion. Each
// step runs in its own transaction; a database that is already current
// is left untouched.
func (d *Accessor) Migrate(ctx context.Context) error {
	if err := d.checkDB(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	v, err := version(ctx, d.db)
	if err != nil {
		return cferr.Wrap(cferr.CertStoreError, cferr.MigrationFailed, err)
	}
	if v > SchemaVersion {
		return cferr.Wrap(cferr.CertStoreError, cferr.MigrationFailed,
			fmt.Errorf("database schema version %d is newer than %d", v, SchemaVersion))
	}
	dia := dialectFor(d.db.DriverName())
	if v < 0 {
		log.Infof("certdb: creating schema version %d", SchemaVersion)
		if err := d.inTx(ctx, func(tx *sqlx.Tx) error {
			return execAll(ctx, tx, dia.expand(schemaV0))
		}); err != nil {
			return cferr.Wrap(cferr.CertStoreError, cferr.DatabaseInitializationFailed, err)
		}
		v = 0
	}
	for _, m := range migrations {
		if m.version < v {
			continue
		}
		log.Infof("certdb: migrating schema from version %d to %d", m.version, m.version+1)
		if err := d.inTx(ctx, func(tx *sqlx.Tx) error {
			return m.apply(ctx, tx, dia)
		}); err != nil {
			return cferr.Wrap(cferr.CertStoreError, cferr.MigrationFailed, err)
		}
		v = m.version + 1
	}
	return nil
}
