package cli

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dmitrijs2005/gophbackup/internal/backup"
	"github.com/dmitrijs2005/gophbackup/internal/backupio"
	"github.com/dmitrijs2005/gophbackup/internal/common"
	"github.com/dmitrijs2005/gophbackup/internal/config"
	"github.com/dmitrijs2005/gophbackup/internal/datastore"
	"github.com/dmitrijs2005/gophbackup/internal/history"
	"github.com/dmitrijs2005/gophbackup/internal/logging"
	"github.com/dmitrijs2005/gophbackup/internal/services"
)

// App holds the components one CLI invocation works with.
type App struct {
	config  *config.Config
	logger  logging.Logger
	out     io.Writer
	store   *datastore.Store
	history *history.SQLiteRepository
	io      *backupio.Service

	// passphrase is a seam for the terminal prompt.
	passphrase func(w io.Writer, confirm bool) ([]byte, error)
}

// newRemoteStore picks the configured backend.
func newRemoteStore(ctx context.Context, c *config.Config) (backupio.RemoteStore, error) {
	switch c.StorageBackend {
	case config.BackendS3:
		return backupio.NewS3Store(ctx, backupio.S3Options{
			Bucket:       c.S3Bucket,
			Region:       c.S3Region,
			BaseEndpoint: c.S3BaseEndpoint,
			AccessKey:    c.S3AccessKey,
			SecretKey:    c.S3SecretKey,
			Prefix:       c.S3Prefix,
		})
	case config.BackendFS:
		return backupio.NewFSStore(c.FSStorageDir)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", c.StorageBackend)
	}
}

func NewApp(ctx context.Context, c *config.Config, out io.Writer) (*App, error) {
	logger, err := logging.New(c.LogLevel, c.LogFormat, os.Stderr)
	if err != nil {
		return nil, err
	}

	remote, err := newRemoteStore(ctx, c)
	if err != nil {
		return nil, err
	}

	store, err := datastore.Open(ctx, c.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open data store: %w", err)
	}

	hist, err := history.Open(ctx, c.HistoryDSN)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open history: %w", err)
	}

	return &App{
		config:     c,
		logger:     logger,
		out:        out,
		store:      store,
		history:    hist,
		io:         backupio.NewService(remote, c.ManifestName, logger),
		passphrase: GetPassphrase,
	}, nil
}

func (a *App) Close() error {
	return errors.Join(a.store.Close(), a.history.Close())
}

// key derives the manifest key, prompting when no passphrase is configured.
func (a *App) key(confirm bool) ([]byte, error) {
	if a.config.Passphrase != "" {
		return services.DeriveKey(a.config.Passphrase, a.config.KeySalt), nil
	}
	pw, err := a.passphrase(a.out, confirm)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(pw)
	return services.DeriveKey(string(pw), a.config.KeySalt), nil
}

func (a *App) service(key []byte, onProgress services.ProgressFunc) services.BackupService {
	return services.NewBackupService(services.Deps{
		Storage: a.store,
		IO:      a.io,
		History: a.history,
		Logger:  a.logger,
		Key:     key,
		Options: backup.Options{
			TempRoot:    a.config.TempRoot,
			Parallelism: a.config.Parallelism,
			Compress:    a.config.Compress,
			Logger:      a.logger,
		},
		OnProgress: onProgress,
	})
}

func (a *App) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.config.OperationTimeout > 0 {
		return context.WithTimeout(ctx, a.config.OperationTimeout)
	}
	return context.WithCancel(ctx)
}

func (a *App) run(ctx context.Context, title string, confirm bool, op func(services.BackupService, context.Context) (*services.Result, error)) (*services.Result, error) {
	key, err := a.key(confirm)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(key)

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	bar := newProgressBar(ctx, a.out, title)
	res, err := op(a.service(key, bar.update), ctx)
	bar.finish(err == nil)
	return res, err
}

// Export backs up the data store.
func (a *App) Export(ctx context.Context) error {
	res, err := a.run(ctx, "export", true, services.BackupService.Export)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "backup %s: %d database file(s), %d attachment(s), manifest %s, key %s\n",
		res.JobID, res.DatabaseItems, res.AttachmentItems, res.ManifestRecordName, res.KeyFingerprint)
	if res.GeneratedKey != nil {
		fmt.Fprintf(a.out, "generated key (store it safely): %s\n", hex.EncodeToString(res.GeneratedKey))
	}
	return nil
}

// Restore replaces the data store with the latest backup.
func (a *App) Restore(ctx context.Context) error {
	res, err := a.run(ctx, "restore", false, services.BackupService.Restore)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "restored %s: %d database file(s), %d attachment(s)\n",
		res.JobID, res.DatabaseItems, res.AttachmentItems)
	return nil
}

// History prints the most recent jobs.
func (a *App) History(ctx context.Context, limit int) error {
	recs, err := a.service(nil, nil).History(ctx, limit)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tSTATE\tSTARTED\tITEMS\tKEY\tERROR")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			r.ID, r.Kind, r.State, r.StartedAt.Local().Format(time.DateTime),
			r.DatabaseItems+r.AttachmentItems, r.KeyFingerprint, r.Error)
	}
	return tw.Flush()
}
