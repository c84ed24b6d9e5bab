package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dmitrijs2005/gophbackup/internal/flagx"
	"github.com/dmitrijs2005/gophbackup/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Absent keys
// leave the current value alone.
type JsonConfig struct {
	DataDir          string          `json:"data_dir"`
	TempRoot         string          `json:"temp_root"`
	HistoryDSN       string          `json:"history_dsn"`
	Parallelism      int             `json:"parallelism"`
	Compress         *bool           `json:"compress"`
	ManifestName     string          `json:"manifest_name"`
	StorageBackend   string          `json:"storage_backend"`
	FSStorageDir     string          `json:"fs_storage_dir"`
	S3Bucket         string          `json:"s3_bucket"`
	S3Region         string          `json:"s3_region"`
	S3BaseEndpoint   string          `json:"s3_base_endpoint"`
	S3AccessKey      string          `json:"s3_access_key"`
	S3SecretKey      string          `json:"s3_secret_key"`
	S3Prefix         string          `json:"s3_prefix"`
	Passphrase       string          `json:"passphrase"`
	KeySalt          string          `json:"key_salt"`
	LogLevel         string          `json:"log_level"`
	LogFormat        string          `json:"log_format"`
	OperationTimeout *timex.Duration `json:"operation_timeout"`
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// parseJson overlays cfg with the JSON file named by -c or -config in args.
// Without either flag it does nothing.
func parseJson(cfg *Config, args []string) error {
	path := flagx.JsonConfigFlagsFrom(args)
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	setString(&cfg.DataDir, jc.DataDir)
	setString(&cfg.TempRoot, jc.TempRoot)
	setString(&cfg.HistoryDSN, jc.HistoryDSN)
	if jc.Parallelism != 0 {
		cfg.Parallelism = jc.Parallelism
	}
	if jc.Compress != nil {
		cfg.Compress = *jc.Compress
	}
	setString(&cfg.ManifestName, jc.ManifestName)
	setString(&cfg.StorageBackend, jc.StorageBackend)
	setString(&cfg.FSStorageDir, jc.FSStorageDir)
	setString(&cfg.S3Bucket, jc.S3Bucket)
	setString(&cfg.S3Region, jc.S3Region)
	setString(&cfg.S3BaseEndpoint, jc.S3BaseEndpoint)
	setString(&cfg.S3AccessKey, jc.S3AccessKey)
	setString(&cfg.S3SecretKey, jc.S3SecretKey)
	setString(&cfg.S3Prefix, jc.S3Prefix)
	setString(&cfg.Passphrase, jc.Passphrase)
	setString(&cfg.KeySalt, jc.KeySalt)
	setString(&cfg.LogLevel, jc.LogLevel)
	setString(&cfg.LogFormat, jc.LogFormat)
	if jc.OperationTimeout != nil {
		cfg.OperationTimeout = jc.OperationTimeout.Duration
	}
	return nil
}
