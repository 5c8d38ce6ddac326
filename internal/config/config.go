// Package config manages contentctl configuration.
// It handles loading, saving, and validating the TOML configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	// EnvConfig names the environment variable overriding the config location
	EnvConfig = "CONTENTCTL_CONFIG"
	// DefaultFile is the config location relative to the home directory
	DefaultFile = "etc/contentctl.toml"
	// LedgerFile is the default publish ledger name inside the content store
	LedgerFile = "publish.db"
)

// Config represents the contentctl configuration
type Config struct {
	Local          Local          `toml:"local"`
	Catalog        Catalog        `toml:"catalog"`
	Deployment     Deployment     `toml:"deployment"`
	Index          Index          `toml:"index"`
	Authentication Authentication `toml:"authentication"`
	path           string
}

// Local holds the on-disk locations of content
type Local struct {
	ContentStore   string `toml:"content_store"`
	ContentLibrary string `toml:"content_library"`
}

// Catalog tunes catalog behavior
type Catalog struct {
	States      []string `toml:"states"`
	Retention   string   `toml:"retention"` // Go duration
	PackageExt  string   `toml:"package_ext"`
	LockTimeout string   `toml:"lock_timeout"` // Go duration
}

// Deployment describes the publication target
type Deployment struct {
	PublicationBucket string `toml:"publication_bucket"`
	Region            string `toml:"region"`
	Endpoint          string `toml:"endpoint"`
	Ledger            string `toml:"ledger"`
}

// Index configures reindexing of testing content
type Index struct {
	// Command is run in the unpacked package with the title name appended;
	// empty only restamps the package
	Command []string `toml:"command"`
	// Indexer overrides the host name recorded as the package's indexer
	Indexer string `toml:"indexer"`
}

// Authentication holds optional static credentials for the bucket
type Authentication struct {
	AWSAccessKey string `toml:"aws_access_key"`
	AWSSecretKey string `toml:"aws_secret_key"`
}

// Default returns the configuration used when no file is present
func Default() *Config {
	return &Config{
		Catalog: Catalog{
			States:      []string{"testing", "release", "uat", "development"},
			Retention:   "48h",
			PackageExt:  ".tgz",
			LockTimeout: "10s",
		},
	}
}

// DefaultPath returns $CONTENTCTL_CONFIG or ~/etc/contentctl.toml
func DefaultPath() string {
	if p := os.Getenv(EnvConfig); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.FromSlash(DefaultFile)
	}
	return filepath.Join(home, filepath.FromSlash(DefaultFile))
}

// Load reads the configuration at path over the defaults. A missing file is
// not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg := Default()
		cfg.path = path
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	cfg.path = path

	cfg.Local.ContentStore = ExpandPath(cfg.Local.ContentStore)
	cfg.Local.ContentLibrary = ExpandPath(cfg.Local.ContentLibrary)
	cfg.Deployment.Ledger = ExpandPath(cfg.Deployment.Ledger)
	return &cfg, nil
}

// applyDefaults fills settings the file left unset
func (c *Config) applyDefaults() {
	def := Default().Catalog
	if len(c.Catalog.States) == 0 {
		c.Catalog.States = def.States
	}
	if c.Catalog.Retention == "" {
		c.Catalog.Retention = def.Retention
	}
	if c.Catalog.PackageExt == "" {
		c.Catalog.PackageExt = def.PackageExt
	}
	if c.Catalog.LockTimeout == "" {
		c.Catalog.LockTimeout = def.LockTimeout
	}
}

// Save saves the configuration to disk
func (c *Config) Save() error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return os.WriteFile(c.path, data, 0600)
}

// Path returns the file the configuration was loaded from
func (c *Config) Path() string {
	return c.path
}

// Validate checks the settings every command relies on
func (c *Config) Validate() error {
	if c.Local.ContentStore == "" {
		return errors.New("no content store configured (set local.content_store or pass --contentstore)")
	}
	if _, err := c.Retention(); err != nil {
		return err
	}
	if _, err := c.LockTimeout(); err != nil {
		return err
	}
	for _, s := range c.Catalog.States {
		if s == "" || strings.ContainsAny(s, `/\`) {
			return fmt.Errorf("invalid state name %q in catalog.states", s)
		}
	}
	return nil
}

// Retention returns catalog.retention as a duration
func (c *Config) Retention() (time.Duration, error) {
	return parseDuration("catalog.retention", c.Catalog.Retention)
}

// LockTimeout returns catalog.lock_timeout as a duration
func (c *Config) LockTimeout() (time.Duration, error) {
	return parseDuration("catalog.lock_timeout", c.Catalog.LockTimeout)
}

// LedgerPath returns the publish ledger location
func (c *Config) LedgerPath() string {
	if c.Deployment.Ledger != "" {
		return c.Deployment.Ledger
	}
	return filepath.Join(c.Local.ContentStore, LedgerFile)
}

func parseDuration(field, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, value, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s %q: negative duration", field, value)
	}
	return d, nil
}

// ExpandPath replaces a leading ~ with the home directory
func ExpandPath(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
