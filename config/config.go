// Package config contains the configuration logic for cfsmime.
package config

import (
	"crypto"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cloudflare/cfsmime/certdb/dbconf"
	"github.com/cloudflare/cfsmime/cms"
	"github.com/cloudflare/cfsmime/crypto/pkcs7"
	cferr "github.com/cloudflare/cfsmime/errors"
	"github.com/cloudflare/cfsmime/helpers"
	"github.com/cloudflare/cfsmime/log"
)

// MemoryDriver is the database driver name of the in-memory store.
const MemoryDriver = "memory"

// DefaultDKIMTimeout bounds a DKIM key lookup when no timeout is set.
const DefaultDKIMTimeout = 5 * time.Second

// DKIM stores the settings of DKIM public key lookups.
type DKIM struct {
	// Resolver is the host:port of the DNS server to query. The system
	// resolver is used when empty.
	Resolver      string        `json:"resolver"`
	TimeoutString string        `json:"timeout"`
	Timeout       time.Duration `json:"-"`
}

// parse, and the TimeoutString parameter, are needed to parse
// timeouts from JSON. The JSON decoder is not able to decode a
// string time duration to a time.Duration.
func (d *DKIM) parse() error {
	if d.TimeoutString == "" {
		d.Timeout = DefaultDKIMTimeout
		return nil
	}
	dur, err := time.ParseDuration(d.TimeoutString)
	if err != nil {
		return fmt.Errorf("dkim timeout: %w", err)
	}
	if dur <= 0 {
		return fmt.Errorf("dkim timeout must be positive, got %s", d.TimeoutString)
	}
	d.Timeout = dur
	return nil
}

// Config stores the configuration of a secure MIME context.
type Config struct {
	Database             *dbconf.DBConfig `json:"database"`
	Digest               string           `json:"digest"`
	EncryptionAlgorithms []string         `json:"encryption_algorithms"`
	SignerIdentifier     string           `json:"signer_identifier"`
	RecipientIdentifier  string           `json:"recipient_identifier"`
	RSASignaturePadding  string           `json:"rsa_signature_padding"`
	RSAEncryptionPadding string           `json:"rsa_encryption_padding"`
	DKIM                 *DKIM            `json:"dkim"`

	// Parsed forms of the fields above, set by LoadConfig.
	DigestAlgorithm         crypto.Hash               `json:"-"`
	Algorithms              []cms.EncryptionAlgorithm `json:"-"`
	SignerIdentifierType    cms.SubjectIdentifierType `json:"-"`
	RecipientIdentifierType cms.SubjectIdentifierType `json:"-"`
	SignaturePadding        *cms.RSASignaturePadding  `json:"-"`
	EncryptionPadding       *cms.RSAEncryptionPadding `json:"-"`
}

// DefaultConfig returns an in-memory configuration signing with
// SHA-256 and PKCS #1 padding and preferring the strongest algorithms.
func DefaultConfig() *Config {
	cfg := &Config{Database: &dbconf.DBConfig{DriverName: MemoryDriver}}
	if err := cfg.parse(); err != nil {
		panic(err)
	}
	return cfg
}

// UsesMemory reports whether the configuration selects the in-memory
// store.
func (c *Config) UsesMemory() bool {
	return c.Database == nil || c.Database.DriverName == MemoryDriver || c.Database.DriverName == ""
}

// Valid ensures that Config is a valid configuration. It should be
// called immediately after parsing a configuration file.
func (c *Config) Valid() bool {
	if c == nil {
		return false
	}
	if !c.UsesMemory() && !c.Database.Valid() {
		log.Debugf("invalid database configuration")
		return false
	}
	if err := c.parse(); err != nil {
		log.Debugf("invalid configuration: %v", err)
		return false
	}
	return true
}

func (c *Config) parse() (err error) {
	if c.Digest == "" {
		c.DigestAlgorithm = crypto.SHA256
	} else if c.DigestAlgorithm, err = helpers.ParseDigest(c.Digest); err != nil {
		return err
	}

	c.Algorithms = nil
	if len(c.EncryptionAlgorithms) == 0 {
		c.Algorithms = append(c.Algorithms, cms.StrongestFirst...)
	}
	for _, name := range c.EncryptionAlgorithms {
		alg, err := pkcs7.ParseEncryptionAlgorithm(name)
		if err != nil {
			return err
		}
		c.Algorithms = append(c.Algorithms, alg)
	}

	if c.SignerIdentifierType, err = cms.ParseSubjectIdentifierType(c.SignerIdentifier); err != nil {
		return err
	}
	if c.RecipientIdentifierType, err = cms.ParseSubjectIdentifierType(c.RecipientIdentifier); err != nil {
		return err
	}
	if c.SignaturePadding, err = cms.ParseRSASignaturePadding(c.RSASignaturePadding); err != nil {
		return err
	}
	if c.EncryptionPadding, err = cms.ParseRSAEncryptionPadding(c.RSAEncryptionPadding); err != nil {
		return err
	}

	if c.DKIM == nil {
		c.DKIM = &DKIM{}
	}
	return c.DKIM.parse()
}

// LoadConfig parses and validates a JSON configuration.
func LoadConfig(body []byte) (*Config, error) {
	cfg := &Config{}
	if err := json.Unmarshal(body, cfg); err != nil {
		return nil, cferr.Wrap(cferr.ArgumentError, cferr.ParseFailed, fmt.Errorf("failed to unmarshal configuration: %w", err))
	}
	if !cfg.UsesMemory() && !cfg.Database.Valid() {
		return nil, cferr.Wrap(cferr.ArgumentError, cferr.InvalidArgument, errors.New("database requires a supported driver and a data source"))
	}
	if err := cfg.parse(); err != nil {
		var e *cferr.Error
		if errors.As(err, &e) {
			return nil, err
		}
		return nil, cferr.Wrap(cferr.ArgumentError, cferr.InvalidArgument, err)
	}
	log.Debugf("configuration ok")
	return cfg, nil
}

// LoadFile attempts to load the configuration file stored at the path
// and returns the configuration.
func LoadFile(path string) (*Config, error) {
	log.Debugf("loading configuration file from %s", path)
	if path == "" {
		return nil, cferr.Wrap(cferr.ArgumentError, cferr.NullArgument, errors.New("unspecified configuration file"))
	}

	body, err := os.ReadFile(path)
	if err != nil {
		return nil, cferr.Wrap(cferr.ArgumentError, cferr.ReadFailed, err)
	}
	return LoadConfig(body)
}
