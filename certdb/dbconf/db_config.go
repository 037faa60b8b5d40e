// Package dbconf loads database configuration files and opens the
// database they describe.
package dbconf

import (
	"encoding/json"
	"errors"
	"os"

	cferr "github.com/cloudflare/cfsmime/errors"
	"github.com/cloudflare/cfsmime/log"
	"github.com/jmoiron/sqlx"

	_ "github.com/go-sql-driver/mysql" // register mysql driver
	_ "github.com/lib/pq"              // register postgresql driver
	_ "github.com/mattn/go-sqlite3"    // register sqlite3 driver
)

// DBConfig contains the database driver name and configuration to be passed to Open
type DBConfig struct {
	DriverName     string `json:"driver"`
	DataSourceName string `json:"data_source"`
}

// Valid reports whether the configuration names a supported driver
// and a data source.
func (c *DBConfig) Valid() bool {
	if c == nil || c.DataSourceName == "" {
		return false
	}
	switch c.DriverName {
	case "sqlite3", "postgres", "mysql":
		return true
	}
	return false
}

// LoadFile attempts to load the db configuration file stored at the path
// and returns the configuration. On error, it returns nil.
func LoadFile(path string) (cfg *DBConfig, err error) {
	log.Debugf("loading db configuration file from %s", path)
	if path == "" {
		return nil, cferr.Wrap(cferr.ArgumentError, cferr.NullArgument, errors.New("unspecified db config file"))
	}

	body, err := os.ReadFile(path)
	if err != nil {
		return nil, cferr.Wrap(cferr.ArgumentError, cferr.ReadFailed, err)
	}

	cfg = &DBConfig{}
	err = json.Unmarshal(body, cfg)
	if err != nil {
		return nil, cferr.Wrap(cferr.ArgumentError, cferr.ParseFailed, err)
	}

	if !cfg.Valid() {
		return nil, cferr.Wrap(cferr.ArgumentError, cferr.InvalidArgument, errors.New("db config requires a supported driver and a data source"))
	}

	return
}

// Open opens the database described by cfg. MySQL data sources need
// parseTime=true so timestamps scan into time.Time.
func Open(cfg *DBConfig) (*sqlx.DB, error) {
	if !cfg.Valid() {
		return nil, cferr.Wrap(cferr.ArgumentError, cferr.InvalidArgument, errors.New("invalid db config"))
	}
	db, err := sqlx.Open(cfg.DriverName, cfg.DataSourceName)
	if err != nil {
		return nil, cferr.Wrap(cferr.CertStoreError, cferr.DatabaseInitializationFailed, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, cferr.Wrap(cferr.CertStoreError, cferr.DatabaseInitializationFailed, err)
	}
	return db, nil
}

// DBFromConfig opens a db connection from a db config file.
func DBFromConfig(path string) (db *sqlx.DB, err error) {
	var dbCfg *DBConfig
	dbCfg, err = LoadFile(path)
	if err != nil {
		return nil, err
	}

	return Open(dbCfg)
}
