package config

import (
	"errors"
	"fmt"
	"os"
	"time"
)

const (
	BackendFS = "fs"
	BackendS3 = "s3"
)

// Config holds runtime settings for the gophbackup CLI.
type Config struct {
	// DataDir is the local data store being backed up or restored into.
	DataDir string
	// TempRoot holds per-job staging directories.
	TempRoot   string
	HistoryDSN string

	Parallelism int
	Compress    bool

	// ManifestName is the remote key of the encrypted manifest.
	ManifestName string

	StorageBackend string
	FSStorageDir   string

	S3Bucket       string
	S3Region       string
	S3BaseEndpoint string
	S3AccessKey    string
	S3SecretKey    string
	S3Prefix       string

	// Passphrase and KeySalt derive the manifest key. An empty passphrase
	// makes the CLI prompt for one.
	Passphrase string
	KeySalt    string

	LogLevel  string
	LogFormat string

	// OperationTimeout bounds a whole export or restore. Zero disables it.
	OperationTimeout time.Duration
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.DataDir = "gophbackup-data"
	c.TempRoot = os.TempDir()
	c.HistoryDSN = "gophbackup-history.db"
	c.Parallelism = 4
	c.Compress = true
	c.ManifestName = "manifest.enc"
	c.StorageBackend = BackendFS
	c.FSStorageDir = "gophbackup-remote"
	c.S3Bucket = "gophbackup"
	c.S3Region = "us-east-1"
	c.KeySalt = "gophbackup"
	c.LogLevel = "info"
	c.LogFormat = "text"
	c.OperationTimeout = 30 * time.Minute
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	var errs []error
	if c.DataDir == "" {
		errs = append(errs, errors.New("data dir is required"))
	}
	if c.Parallelism <= 0 {
		errs = append(errs, fmt.Errorf("parallelism must be positive, got %d", c.Parallelism))
	}
	if c.OperationTimeout < 0 {
		errs = append(errs, errors.New("operation timeout must not be negative"))
	}
	switch c.StorageBackend {
	case BackendFS:
		if c.FSStorageDir == "" {
			errs = append(errs, errors.New("fs storage dir is required"))
		}
	case BackendS3:
		if c.S3Bucket == "" {
			errs = append(errs, errors.New("s3 bucket is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend %q", c.StorageBackend))
	}
	return errors.Join(errs...)
}

// LoadConfig builds a Config from os.Args.
func LoadConfig() (*Config, error) {
	return LoadConfigFrom(os.Args[1:])
}

// LoadConfigFrom applies defaults, then the JSON file named by -c/-config in
// args (if any), then flags in args. Later sources take precedence.
func LoadConfigFrom(args []string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := parseJson(cfg, args); err != nil {
		return nil, err
	}
	if err := parseFlags(cfg, args); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
