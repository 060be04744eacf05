// Package config reads and writes the node's TOML configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the on-disk configuration of one node installation.
type Config struct {
	// ListenAddr is the address both HTTP surfaces bind to.
	ListenAddr string `toml:"listen_addr"`

	// EnablePprof switches the pprof debug endpoints on.
	EnablePprof bool `toml:"enable_pprof"`

	Node       NodeConfig       `toml:"node"`
	Database   DatabaseConfig   `toml:"database"`
	Storage    StorageConfig    `toml:"storage"`
	Federation FederationConfig `toml:"federation"`
}

// NodeConfig is the identity the install command writes into the store.
type NodeConfig struct {
	// Address is the owner's Ethereum address in checksum form. The
	// matching private key never touches this process.
	Address     string `toml:"address"`
	URL         string `toml:"url"`
	Title       string `toml:"title"`
	Description string `toml:"description"`
}

// DatabaseConfig selects the SQL backend.
type DatabaseConfig struct {
	Driver string `toml:"driver"` // "sqlite3" or "postgres"
	DSN    string `toml:"dsn"`
}

// StorageConfig locates the content blob directory.
type StorageConfig struct {
	BlobDir string `toml:"blob_dir"`
}

// FederationConfig tunes outbound peer calls and the orphan sweep.
type FederationConfig struct {
	PeerTimeoutSeconds     int `toml:"peer_timeout_seconds"`
	CleanupIntervalMinutes int `toml:"cleanup_interval_minutes"`
}

// Default returns a runnable configuration rooted under baseDir.
func Default(baseDir string) *Config {
	return &Config{
		ListenAddr: "127.0.0.1:8544",
		Database: DatabaseConfig{
			Driver: "sqlite3",
			DSN:    filepath.Join(baseDir, "epress.db"),
		},
		Storage: StorageConfig{
			BlobDir: filepath.Join(baseDir, "blobs"),
		},
		Federation: FederationConfig{
			PeerTimeoutSeconds:     10,
			CleanupIntervalMinutes: 60,
		},
	}
}

// ReadFromFile loads and validates a configuration file.
func ReadFromFile(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

// WriteToFile writes the configuration, creating parent directories.
func (c *Config) WriteToFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("writing config %s: %w", path, err)
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(c)
}

// Validate checks the fields every command needs.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	switch c.Database.Driver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("database.driver must be sqlite3 or postgres, got %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Storage.BlobDir == "" {
		return fmt.Errorf("storage.blob_dir is required")
	}
	return nil
}

// PeerTimeout returns the configured timeout as a duration; zero when
// unset so callers fall back to their default.
func (c *Config) PeerTimeout() time.Duration {
	return time.Duration(c.Federation.PeerTimeoutSeconds) * time.Second
}

// CleanupInterval returns the sweep period; zero when unset.
func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.Federation.CleanupIntervalMinutes) * time.Minute
}
