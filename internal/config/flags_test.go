package config

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		mutate  func(c *Config)
		wantErr bool
	}{
		{
			name:   "paths and s3",
			args:   []string{"-d", "/srv/data", "-s", "s3", "-endpoint", "http://minio:9000", "-prefix", "dev1"},
			mutate: func(c *Config) { c.DataDir = "/srv/data"; c.StorageBackend = "s3"; c.S3BaseEndpoint = "http://minio:9000"; c.S3Prefix = "dev1" },
		},
		{
			name:   "bool flag does not swallow the subcommand",
			args:   []string{"-z=false", "restore"},
			mutate: func(c *Config) { c.Compress = false },
		},
		{
			name:   "timeout in seconds",
			args:   []string{"-timeout", "15"},
			mutate: func(c *Config) { c.OperationTimeout = 15 * time.Second },
		},
		{
			name:   "logging",
			args:   []string{"-log-level", "debug", "-log-format", "json"},
			mutate: func(c *Config) { c.LogLevel = "debug"; c.LogFormat = "json" },
		},
		{name: "bad timeout", args: []string{"-timeout", "soon"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := defaults()
			err := parseFlags(got, tt.args)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)

			want := defaults()
			tt.mutate(want)
			assert.Empty(t, cmp.Diff(want, got))
		})
	}
}
