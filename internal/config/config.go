package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for jt.
type Config struct {
	HostID     string           `toml:"host_id"`
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	LogLevel   string           `toml:"log_level"` // debug, info, warn or error
	Collector  CollectorConfig  `toml:"collector"`
	Volumes    []VolumeConfig   `toml:"volumes"`
	Database   DatabaseConfig   `toml:"database"`
	HotTier    HotTierConfig    `toml:"hot_tier"`
	Scoring    ScoringConfig    `toml:"scoring"`
	Handoff    HandoffConfig    `toml:"handoff"`
	Encryption EncryptionConfig `toml:"encryption"`
}

// CollectorConfig controls journal collection.
type CollectorConfig struct {
	BatchSize       int      `toml:"batch_size"`        // max records per batch
	MaxBatches      int      `toml:"max_batches"`       // per volume and run; 0 drains the journal
	Parallelism     int      `toml:"parallelism"`       // concurrent volumes; 0 is unbounded
	LeaseDir        string   `toml:"lease_dir"`         // lock files, one per volume
	LeaseStaleAfter Duration `toml:"lease_stale_after"` // a lock older than this is broken
	PollInterval    Duration `toml:"poll_interval"`     // watch mode tick for live sources
	Debounce        Duration `toml:"debounce"`          // watch mode quiet period after dump changes
	Ignore          []string `toml:"ignore"`            // glob patterns on record names
}

// VolumeConfig represents one collected volume.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type VolumeConfig struct {
	Type string `toml:"type"` // "usn", "dump" or "memory"
	Name string `toml:"name"` // volume id recorded on every change record

	// USN-specific fields (only used when Type == "usn")
	Device string `toml:"device,omitempty"` // e.g. `\\.\C:`

	// Dump-specific fields (only used when Type == "dump")
	DumpDir string `toml:"dump_dir,omitempty"`

	// RootReference is the volatile id of the volume root directory.
	// Zero selects the NTFS default.
	RootReference uint64 `toml:"root_reference,omitempty"`
}

// DatabaseConfig represents configuration for the document store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite", "sqlite-pure" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for the sqlite types
}

// HotTierConfig controls retention and store write retries.
type HotTierConfig struct {
	Retention       Duration `toml:"retention"`
	RetryAttempts   int      `toml:"retry_attempts"`
	RetryBaseDelay  Duration `toml:"retry_base_delay"`
	RetryMaxDelay   Duration `toml:"retry_max_delay"`
	EntityCacheSize int      `toml:"entity_cache_size"`
}

// ScoringConfig lists what the importance scorer treats as significant.
type ScoringConfig struct {
	DocumentExtensions []string `toml:"document_extensions"`
	SignificantDirs    []string `toml:"significant_dirs"`
}

// HandoffConfig selects where expiring hot-tier records go.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type HandoffConfig struct {
	Type    string `toml:"type"`    // "none", "memory", "filesystem" or "s3"
	Encrypt bool   `toml:"encrypt"` // age-encrypt batches with the encryption public key

	// Filesystem-specific fields (only used when Type == "filesystem")
	Dir string `toml:"dir,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket          string `toml:"s3_bucket,omitempty"`
	S3Prefix          string `toml:"s3_prefix,omitempty"`
	S3Region          string `toml:"s3_region,omitempty"`
	S3Endpoint        string `toml:"s3_endpoint,omitempty"` // S3-compatible services
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`
}

// EncryptionConfig holds paths to the age key pair used for hand-off batches.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age" (default) or "none"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// Defaults applied to zero-valued settings.
const (
	DefaultBatchSize       = 1024
	DefaultRetention       = 96 * time.Hour
	DefaultLeaseStaleAfter = 10 * time.Minute
	DefaultPollInterval    = 30 * time.Second
	DefaultDebounce        = 500 * time.Millisecond
	DefaultRetryAttempts   = 3
	DefaultRetryBaseDelay  = 50 * time.Millisecond
	DefaultRetryMaxDelay   = 2 * time.Second
	DefaultEntityCacheSize = 65536
)

// DefaultIgnore skips Office lock files and temp files.
var DefaultIgnore = []string{"~$*", "*.tmp"}

// NewConfig creates a new Config with the provided values and defaults for
// everything else.
func NewConfig(hostID, baseDir string) *Config {
	return &Config{
		HostID:   hostID,
		BaseDir:  baseDir,
		LogDir:   filepath.Join(baseDir, "log"),
		LogLevel: "info",
		Collector: CollectorConfig{
			BatchSize:       DefaultBatchSize,
			LeaseDir:        filepath.Join(baseDir, "leases"),
			LeaseStaleAfter: Duration(DefaultLeaseStaleAfter),
			PollInterval:    Duration(DefaultPollInterval),
			Debounce:        Duration(DefaultDebounce),
			Ignore:          append([]string(nil), DefaultIgnore...),
		},
		Database: DatabaseConfig{Type: "sqlite", DataDir: filepath.Join(baseDir, "db")},
		HotTier: HotTierConfig{
			Retention:       Duration(DefaultRetention),
			RetryAttempts:   DefaultRetryAttempts,
			RetryBaseDelay:  Duration(DefaultRetryBaseDelay),
			RetryMaxDelay:   Duration(DefaultRetryMaxDelay),
			EntityCacheSize: DefaultEntityCacheSize,
		},
		Handoff: HandoffConfig{Type: "none"},
		Encryption: EncryptionConfig{
			Type:           "age",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "jt.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "jt.key"),
		},
	}
}

// ApplyDefaults fills zero-valued settings so a sparse config file behaves
// like one written by NewConfig.
func (c *Config) ApplyDefaults() {
	if c.LogDir == "" && c.BaseDir != "" {
		c.LogDir = filepath.Join(c.BaseDir, "log")
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	col := &c.Collector
	if col.BatchSize <= 0 {
		col.BatchSize = DefaultBatchSize
	}
	if col.LeaseDir == "" && c.BaseDir != "" {
		col.LeaseDir = filepath.Join(c.BaseDir, "leases")
	}
	if col.LeaseStaleAfter <= 0 {
		col.LeaseStaleAfter = Duration(DefaultLeaseStaleAfter)
	}
	if col.PollInterval <= 0 {
		col.PollInterval = Duration(DefaultPollInterval)
	}
	if col.Debounce <= 0 {
		col.Debounce = Duration(DefaultDebounce)
	}
	if col.Ignore == nil {
		col.Ignore = append([]string(nil), DefaultIgnore...)
	}
	if c.Database.Type == "" {
		c.Database.Type = "sqlite"
	}
	ht := &c.HotTier
	if ht.Retention <= 0 {
		ht.Retention = Duration(DefaultRetention)
	}
	if ht.RetryAttempts <= 0 {
		ht.RetryAttempts = DefaultRetryAttempts
	}
	if ht.RetryBaseDelay <= 0 {
		ht.RetryBaseDelay = Duration(DefaultRetryBaseDelay)
	}
	if ht.RetryMaxDelay <= 0 {
		ht.RetryMaxDelay = Duration(DefaultRetryMaxDelay)
	}
	if ht.EntityCacheSize <= 0 {
		ht.EntityCacheSize = DefaultEntityCacheSize
	}
	if c.Handoff.Type == "" {
		c.Handoff.Type = "none"
	}
	if c.Encryption.Type == "" {
		c.Encryption.Type = "age"
	}
}

// Volume returns the named volume's config.
func (c *Config) Volume(name string) (VolumeConfig, bool) {
	for _, v := range c.Volumes {
		if v.Name == name {
			return v, true
		}
	}
	return VolumeConfig{}, false
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path and applies defaults.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init writes cfg to path. It refuses to overwrite an existing file.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
