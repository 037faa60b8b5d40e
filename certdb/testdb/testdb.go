// Package testdb opens throw-away databases for certdb tests.
package testdb

import (
	"os"

	"github.com/jmoiron/sqlx"

	_ "github.com/lib/pq"           // register postgresql driver
	_ "github.com/mattn/go-sqlite3" // register sqlite3 driver
)

const (
	pgTruncateTables = `
CREATE OR REPLACE FUNCTION truncate_tables() RETURNS void AS $$
DECLARE
    statements CURSOR FOR
        SELECT tablename FROM pg_tables
        WHERE tableowner = session_user
          AND schemaname = 'public';
BEGIN
    FOR stmt IN statements LOOP
        EXECUTE 'DROP TABLE ' || quote_ident(stmt.tablename) || ' CASCADE;';
    END LOOP;
END;
$$ LANGUAGE plpgsql;

SELECT truncate_tables();
`

	sqliteDropTables = `
DROP TABLE IF EXISTS certificates;
DROP TABLE IF EXISTS capabilities;
DROP TABLE IF EXISTS crls;
DROP TABLE IF EXISTS properties;
`
)

// PostgreSQLDB returns an empty PostgreSQL db instance for certdb
// testing. DATABASE_URL overrides the default connection string.
func PostgreSQLDB() *sqlx.DB {
	connStr := "dbname=certdb_development sslmode=disable"

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		connStr = dbURL
	}

	db, err := sqlx.Open("postgres", connStr)
	if err != nil {
		panic(err)
	}

	if _, err := db.Exec(pgTruncateTables); err != nil {
		panic(err)
	}

	return db
}

// SQLiteDB returns an empty SQLite db instance for certdb testing.
func SQLiteDB(dbpath string) *sqlx.DB {
	db, err := sqlx.Open("sqlite3", dbpath)
	if err != nil {
		panic(err)
	}

	if _, err := db.Exec(sqliteDropTables); err != nil {
		panic(err)
	}

	return db
}
