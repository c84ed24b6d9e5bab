// Package config loads runtime configuration for the gophbackup CLI.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file (see parseJson) selected via flags: -c or -config.
//  3. Command-line flags (see parseFlags), which override earlier values.
//
// # JSON schema
//
// Durations use timex.Duration, so values can be strings like "90s" or
// integer nanoseconds:
//
//	{
//	  "data_dir": "/var/lib/messenger",
//	  "storage_backend": "s3",
//	  "s3_bucket": "backups",
//	  "s3_base_endpoint": "http://127.0.0.1:9000",
//	  "compress": false,
//	  "operation_timeout": "10m"
//	}
//
// The package does not read environment variables; the AWS SDK still
// consults its own when no S3 access key is configured.
package config
