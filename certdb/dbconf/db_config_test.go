package dbconf

import (
	"testing"

	cferr "github.com/cloudflare/cfsmime/errors"
)

func TestLoadFile(t *testing.T) {
	config, err := LoadFile("testdata/db-config.json")
	if err != nil || config == nil {
		t.Fatal("Failed to load test db-config file ", err)
	}
	if config.DriverName != "sqlite3" {
		t.Fatalf("driver = %q, want sqlite3", config.DriverName)
	}

	config, err = LoadFile("nonexistent")
	if err == nil || config != nil {
		t.Fatal("Expected failure loading nonexistent configuration file")
	}

	_, err = LoadFile("")
	if !cferr.IsArgument(err) {
		t.Fatalf("expected an argument error, got %v", err)
	}

	_, err = LoadFile("testdata/bad-db-config.json")
	if !cferr.IsArgument(err) {
		t.Fatalf("expected an argument error for an unknown driver, got %v", err)
	}
}

func TestDBFromConfig(t *testing.T) {
	db, err := DBFromConfig("testdata/db-config.json")
	if err != nil || db == nil {
		t.Fatal("Failed to open db from test db-config file", err)
	}
	db.Close()

	db, err = DBFromConfig("testdata/bad-db-config.json")
	if err == nil || db != nil {
		t.Fatal("Expected failure opening invalid db")
	}
}

func TestOpenInvalid(t *testing.T) {
	if _, err := Open(nil); err == nil {
		t.Fatal("expected failure opening a nil config")
	}
	if _, err := Open(&DBConfig{DriverName: "sqlite3"}); err == nil {
		t.Fatal("expected failure opening a config without data source")
	}
}
