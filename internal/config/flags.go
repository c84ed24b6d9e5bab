package config

import (
	"flag"
	"io"
	"time"

	"github.com/dmitrijs2005/gophbackup/internal/flagx"
)

var (
	valueFlags = []string{
		"-d", "-t", "-history", "-p", "-m", "-s", "-fs-dir",
		"-bucket", "-region", "-endpoint", "-access-key", "-secret-key", "-prefix",
		"-passphrase", "-salt", "-log-level", "-log-format", "-timeout",
	}
	boolFlags = []string{"-z"}
)

// parseFlags populates Config fields from command-line flags. Arguments it
// does not know about are dropped with flagx.FilterArgs.
//
//	-d string        data store directory
//	-t string        staging root for job temp dirs
//	-history string  history database DSN
//	-p int           parallel transfers
//	-z bool          compress database snapshots (-z=false to disable)
//	-m string        manifest record name
//	-s string        storage backend: fs or s3
//	-fs-dir string   fs backend root
//	-bucket, -region, -endpoint, -access-key, -secret-key, -prefix   s3 backend
//	-passphrase string, -salt string   manifest key derivation
//	-log-level, -log-format            logging
//	-timeout int     operation timeout in seconds (0 disables)
func parseFlags(cfg *Config, args []string) error {
	args = flagx.FilterArgs(args, valueFlags, boolFlags...)

	fs := flag.NewFlagSet("gophbackup", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.DataDir, "d", cfg.DataDir, "data store directory")
	fs.StringVar(&cfg.TempRoot, "t", cfg.TempRoot, "staging root")
	fs.StringVar(&cfg.HistoryDSN, "history", cfg.HistoryDSN, "history database DSN")
	fs.IntVar(&cfg.Parallelism, "p", cfg.Parallelism, "parallel transfers")
	fs.BoolVar(&cfg.Compress, "z", cfg.Compress, "compress database snapshots")
	fs.StringVar(&cfg.ManifestName, "m", cfg.ManifestName, "manifest record name")
	fs.StringVar(&cfg.StorageBackend, "s", cfg.StorageBackend, "storage backend (fs|s3)")
	fs.StringVar(&cfg.FSStorageDir, "fs-dir", cfg.FSStorageDir, "fs backend root")
	fs.StringVar(&cfg.S3Bucket, "bucket", cfg.S3Bucket, "s3 bucket")
	fs.StringVar(&cfg.S3Region, "region", cfg.S3Region, "s3 region")
	fs.StringVar(&cfg.S3BaseEndpoint, "endpoint", cfg.S3BaseEndpoint, "s3 base endpoint")
	fs.StringVar(&cfg.S3AccessKey, "access-key", cfg.S3AccessKey, "s3 access key")
	fs.StringVar(&cfg.S3SecretKey, "secret-key", cfg.S3SecretKey, "s3 secret key")
	fs.StringVar(&cfg.S3Prefix, "prefix", cfg.S3Prefix, "s3 key prefix")
	fs.StringVar(&cfg.Passphrase, "passphrase", cfg.Passphrase, "backup passphrase")
	fs.StringVar(&cfg.KeySalt, "salt", cfg.KeySalt, "key derivation salt")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format (text|json)")
	timeout := fs.Int("timeout", int(cfg.OperationTimeout.Seconds()), "operation timeout (in seconds)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg.OperationTimeout = time.Duration(*timeout) * time.Second
	return nil
}
