// Package config loads the tunnelca configuration from a YAML file, the
// environment (TUNNELCA_ prefix) and command line flags.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jmcleod/tunnelca/pki"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// TUNNELCA_BASE_DIR or TUNNELCA_LOGGING_LEVEL.
const EnvPrefix = "TUNNELCA"

// Serial and ledger backends.
const (
	BackendNone   = "none"
	BackendINI    = "ini"
	BackendBolt   = "bolt"
	BackendSQLite = "sqlite"

	// BackendMemory is a store that lives as long as the process. Config
	// files cannot select it; library callers pass one with
	// authority.WithLedger or authority.WithSerialStore.
	BackendMemory = "memory"
)

// Config is the complete tunnelca configuration.
type Config struct {
	BaseDir          string        `mapstructure:"base_dir" yaml:"base_dir" json:"base_dir"`
	KeyBits          int           `mapstructure:"key_bits" yaml:"key_bits" json:"key_bits"`
	AllowWeakKeys    bool          `mapstructure:"allow_weak_keys" yaml:"allow_weak_keys" json:"allow_weak_keys"`
	CAValidityDays   int           `mapstructure:"ca_validity_days" yaml:"ca_validity_days" json:"ca_validity_days"`
	LeafValidityDays int           `mapstructure:"leaf_validity_days" yaml:"leaf_validity_days" json:"leaf_validity_days"`
	Digest           string        `mapstructure:"digest" yaml:"digest" json:"digest"` // sha256, sha384, sha512
	CA               SubjectConfig `mapstructure:"ca" yaml:"ca" json:"ca"`
	Serial           SerialConfig  `mapstructure:"serial" yaml:"serial" json:"serial"`
	Ledger           LedgerConfig  `mapstructure:"ledger" yaml:"ledger" json:"ledger"`
	Logging          LoggingConfig `mapstructure:"logging" yaml:"logging" json:"logging"`
	Metrics          MetricsConfig `mapstructure:"metrics" yaml:"metrics" json:"metrics"`
}

// SubjectConfig holds the optional attributes added to every CA subject.
// The common name is always derived from the customer.
type SubjectConfig struct {
	Organization       string `mapstructure:"organization" yaml:"organization" json:"organization"`
	Country            string `mapstructure:"country" yaml:"country" json:"country"`
	Province           string `mapstructure:"province" yaml:"province" json:"province"`
	Locality           string `mapstructure:"locality" yaml:"locality" json:"locality"`
	OrganizationalUnit string `mapstructure:"organizational_unit" yaml:"organizational_unit" json:"organizational_unit"`
	Email              string `mapstructure:"email" yaml:"email" json:"email"`
}

// SerialConfig selects where serial counters live.
type SerialConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend" json:"backend"` // ini, bolt, sqlite
}

// LedgerConfig selects where issuance records live.
type LedgerConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend" json:"backend"` // none, bolt, sqlite, memory
}

// LoggingConfig defines logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level" json:"level"`    // debug, info, warn, error
	Format string `mapstructure:"format" yaml:"format" json:"format"` // text, json
	File   string `mapstructure:"file" yaml:"file" json:"file"`       // optional JSON log file
}

// MetricsConfig defines where issuance metrics are exported.
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile" yaml:"textfile" json:"textfile"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		BaseDir:          "/etc/tunnelca",
		KeyBits:          pki.DefaultKeyBits,
		CAValidityDays:   pki.DefaultValidityDays,
		LeafValidityDays: pki.DefaultValidityDays,
		Digest:           pki.SHA256.String(),
		Serial:           SerialConfig{Backend: BackendINI},
		Ledger:           LedgerConfig{Backend: BackendNone},
		Logging:          LoggingConfig{Level: "info", Format: "text"},
	}
}

// SetDefaults registers the values of Default with v so that environment
// variables and flags can override keys absent from the config file.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("base_dir", d.BaseDir)
	v.SetDefault("key_bits", d.KeyBits)
	v.SetDefault("allow_weak_keys", d.AllowWeakKeys)
	v.SetDefault("ca_validity_days", d.CAValidityDays)
	v.SetDefault("leaf_validity_days", d.LeafValidityDays)
	v.SetDefault("digest", d.Digest)
	v.SetDefault("ca.organization", "")
	v.SetDefault("ca.country", "")
	v.SetDefault("ca.province", "")
	v.SetDefault("ca.locality", "")
	v.SetDefault("ca.organizational_unit", "")
	v.SetDefault("ca.email", "")
	v.SetDefault("serial.backend", d.Serial.Backend)
	v.SetDefault("ledger.backend", d.Ledger.Backend)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.file", "")
	v.SetDefault("metrics.textfile", "")
}

// Load reads the configuration at path. An empty path uses defaults and the
// environment only.
func Load(path string) (*Config, error) {
	return LoadWith(viper.New(), path)
}

// LoadWith is Load on a caller-supplied viper instance, typically one with
// command line flags already bound.
func LoadWith(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if c.BaseDir == "" {
		return errors.New("base_dir is required")
	}
	if c.KeyBits <= 0 {
		return fmt.Errorf("invalid key_bits: %d", c.KeyBits)
	}
	if pki.WeakKeySize(c.KeyBits) && !c.AllowWeakKeys {
		return fmt.Errorf("key_bits %d is below %d (set allow_weak_keys to override)", c.KeyBits, pki.MinSafeKeyBits)
	}
	if _, err := pki.ParseDigest(c.Digest); err != nil {
		return fmt.Errorf("invalid digest: %s", c.Digest)
	}

	switch c.Serial.Backend {
	case BackendINI, BackendBolt, BackendSQLite:
		// valid
	default:
		return fmt.Errorf("invalid serial backend: %s (must be ini/bolt/sqlite)", c.Serial.Backend)
	}

	switch c.Ledger.Backend {
	case BackendNone, BackendBolt, BackendSQLite:
		// valid
	default:
		return fmt.Errorf("invalid ledger backend: %s (must be none/bolt/sqlite)", c.Ledger.Backend)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("invalid logging level: %s", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("invalid logging format: %s", c.Logging.Format)
	}

	return nil
}

// DigestValue returns the configured digest. Call Validate first.
func (c *Config) DigestValue() pki.Digest {
	d, _ := pki.ParseDigest(c.Digest)
	return d
}

// Subject builds the CA subject for commonName from the configured defaults.
func (c *Config) Subject(commonName string) (pki.Subject, error) {
	return pki.BuildSubject(commonName,
		pki.WithOrganization(c.CA.Organization),
		pki.WithCountry(c.CA.Country),
		pki.WithProvince(c.CA.Province),
		pki.WithLocality(c.CA.Locality),
		pki.WithOrganizationalUnit(c.CA.OrganizationalUnit),
		pki.WithEmail(c.CA.Email),
	)
}
