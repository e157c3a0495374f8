// Package config loads the server configuration from a YAML file, a .env
// file, and FASTPKI_* environment variables, in increasing order of
// precedence.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jsenecal/FastPKI/pki"
)

// Config holds all configuration for the server.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Issuance IssuanceConfig `yaml:"issuance"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig contains the HTTP listener configuration.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// DatabaseConfig selects the record store backend.
type DatabaseConfig struct {
	// Driver is one of "memory", "bbolt", "sqlite", or "postgres".
	Driver string `yaml:"driver"`
	// Path is the database file path for the bbolt and sqlite drivers.
	Path string `yaml:"path"`
	// DSN is the connection string for the postgres driver.
	DSN string `yaml:"dsn"`
}

// IssuanceConfig carries the issuance defaults handed to the engine.
type IssuanceConfig struct {
	AuthorityKeyBits     int `yaml:"authority_key_bits"`
	AuthorityValidDays   int `yaml:"authority_valid_days"`
	CertificateKeyBits   int `yaml:"certificate_key_bits"`
	CertificateValidDays int `yaml:"certificate_valid_days"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	eng := pki.DefaultConfig()
	return &Config{
		Server:   ServerConfig{ListenAddr: ":8000"},
		Database: DatabaseConfig{Driver: "sqlite", Path: "fastpki.db"},
		Issuance: IssuanceConfig{
			AuthorityKeyBits:     eng.AuthorityKeyBits,
			AuthorityValidDays:   eng.AuthorityValidDays,
			CertificateKeyBits:   eng.CertificateKeyBits,
			CertificateValidDays: eng.CertificateValidDays,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load reads configuration, starting from defaults, then the YAML file at
// path (if non-empty), then a .env file in the working directory (if
// present), then FASTPKI_* environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	// .env is optional; it only seeds variables not already exported.
	_ = godotenv.Load()

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("FASTPKI_LISTEN_ADDR"); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv("FASTPKI_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("FASTPKI_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("FASTPKI_DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("FASTPKI_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("FASTPKI_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	setIntEnv("FASTPKI_AUTHORITY_KEY_BITS", &cfg.Issuance.AuthorityKeyBits)
	setIntEnv("FASTPKI_AUTHORITY_VALID_DAYS", &cfg.Issuance.AuthorityValidDays)
	setIntEnv("FASTPKI_CERTIFICATE_KEY_BITS", &cfg.Issuance.CertificateKeyBits)
	setIntEnv("FASTPKI_CERTIFICATE_VALID_DAYS", &cfg.Issuance.CertificateValidDays)
}

func setIntEnv(name string, dst *int) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}

// Validate checks if the configuration is usable.
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}
	switch c.Database.Driver {
	case "memory":
	case "bbolt", "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for driver %q", c.Database.Driver)
		}
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for driver %q", c.Database.Driver)
		}
	default:
		return fmt.Errorf("database.driver must be 'memory', 'bbolt', 'sqlite', or 'postgres'")
	}
	if c.Issuance.AuthorityKeyBits < pki.MinKeyBits {
		return fmt.Errorf("issuance.authority_key_bits must be at least %d", pki.MinKeyBits)
	}
	if c.Issuance.CertificateKeyBits < pki.MinKeyBits {
		return fmt.Errorf("issuance.certificate_key_bits must be at least %d", pki.MinKeyBits)
	}
	if c.Issuance.AuthorityValidDays <= 0 || c.Issuance.CertificateValidDays <= 0 {
		return fmt.Errorf("issuance validity days must be positive")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be 'json' or 'text'")
	}
	return nil
}

// EngineConfig maps the issuance section onto the engine's configuration.
func (c *Config) EngineConfig() pki.Config {
	eng := pki.DefaultConfig()
	eng.AuthorityKeyBits = c.Issuance.AuthorityKeyBits
	eng.AuthorityValidDays = c.Issuance.AuthorityValidDays
	eng.CertificateKeyBits = c.Issuance.CertificateKeyBits
	eng.CertificateValidDays = c.Issuance.CertificateValidDays
	return eng
}
