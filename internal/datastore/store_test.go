package datastore

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophbackup/internal/backup"
	"github.com/dmitrijs2005/gophbackup/internal/backupio"
	"github.com/dmitrijs2005/gophbackup/internal/cryptox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seed(t *testing.T, s *Store, messages ...string) {
	t.Helper()
	db, err := s.DB()
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS messages (id INTEGER PRIMARY KEY, body TEXT NOT NULL)`)
	require.NoError(t, err)
	for _, m := range messages {
		_, err = db.Exec(`INSERT INTO messages (body) VALUES (?)`, m)
		require.NoError(t, err)
	}
}

func messages(t *testing.T, db *sql.DB) []string {
	t.Helper()
	rows, err := db.Query(`SELECT body FROM messages ORDER BY id`)
	require.NoError(t, err)
	defer rows.Close()

	var out []string
	for rows.Next() {
		var b string
		require.NoError(t, rows.Scan(&b))
		out = append(out, b)
	}
	require.NoError(t, rows.Err())
	return out
}

func TestStore_DatabaseFilesSnapshot(t *testing.T) {
	s := openStore(t)
	seed(t, s, "hi", "there")

	staging := t.TempDir()
	files, err := s.DatabaseFiles(context.Background(), staging)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, staging, filepath.Dir(files[0].Path))
	assert.False(t, files[0].RelativePath.IsSet())

	snap, err := sql.Open("sqlite", files[0].Path)
	require.NoError(t, err)
	defer snap.Close()
	assert.Equal(t, []string{"hi", "there"}, messages(t, snap))
}

func TestStore_AttachmentFiles(t *testing.T) {
	s := openStore(t)
	require.NoError(t, s.WriteAttachment("b/2.png", []byte("2")))
	require.NoError(t, s.WriteAttachment("a/1.jpg", []byte("1")))

	files, err := s.AttachmentFiles(context.Background())
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "a/1.jpg", files[0].RelativePath.OrElse(""))
	assert.Equal(t, "b/2.png", files[1].RelativePath.OrElse(""))

	require.Error(t, s.WriteAttachment("../escape", nil))
}

func TestStore_SwapKeepsAttachmentsWhenInstallFails(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	seed(t, s, "kept")
	require.NoError(t, s.WriteAttachment("a/1.jpg", []byte("1")))

	files, err := s.DatabaseFiles(ctx, t.TempDir())
	require.NoError(t, err)
	require.Len(t, files, 1)

	s.mu.Lock()
	err = s.swap(files[0].Path, filepath.Join(t.TempDir(), "missing"))
	s.mu.Unlock()
	require.ErrorContains(t, err, "install attachments")

	got, err := os.ReadFile(filepath.Join(s.AttachmentsPath(), "a", "1.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "1", string(got))

	leftovers, err := filepath.Glob(s.AttachmentsPath() + ".old-*")
	require.NoError(t, err)
	assert.Empty(t, leftovers)

	s.mu.Lock()
	require.NoError(t, s.open(ctx))
	s.mu.Unlock()
	db, err := s.DB()
	require.NoError(t, err)
	assert.Equal(t, []string{"kept"}, messages(t, db))
}

func TestStore_ApplyRestoreRejectsBadManifest(t *testing.T) {
	s := openStore(t)
	err := s.ApplyRestore(context.Background(), &backup.ManifestContents{})
	require.ErrorIs(t, err, ErrUnexpectedDatabaseItems)

	_, err = s.DB()
	require.NoError(t, err, "store stays open")
}

func TestStore_ClosedStore(t *testing.T) {
	s := openStore(t)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.DB()
	require.Error(t, err)
	_, err = s.DatabaseFiles(context.Background(), t.TempDir())
	require.Error(t, err)
}

type delegate struct {
	key  []byte
	done chan error
}

func (d *delegate) BackupEncryptionKey() []byte     { return d.key }
func (d *delegate) BackupJobDidSucceed(*backup.Job) { d.done <- nil }
func (d *delegate) BackupJobDidFail(_ *backup.Job, err error) {
	d.done <- err
}
func (d *delegate) BackupJobDidUpdate(*backup.Job, backup.Optional[string], backup.Optional[float64]) {
}

func waitOutcome(t *testing.T, d *delegate) {
	t.Helper()
	select {
	case err := <-d.done:
		require.NoError(t, err)
	case <-time.After(20 * time.Second):
		t.Fatal("job did not finish")
	}
}

func TestStore_ExportRestoreEndToEnd(t *testing.T) {
	ctx := context.Background()
	remote, err := backupio.NewFSStore(t.TempDir())
	require.NoError(t, err)
	bio := backupio.NewService(remote, "", nil)
	key := cryptox.GenerateKey()
	opts := backup.Options{TempRoot: t.TempDir(), Compress: true}

	src := openStore(t)
	seed(t, src, "one", "two", "three")
	require.NoError(t, src.WriteAttachment("ab/photo.jpg", []byte("jpeg bytes")))
	require.NoError(t, src.WriteAttachment("cd/voice.m4a", []byte("audio bytes")))

	d := &delegate{key: key, done: make(chan error, 1)}
	exp := backup.NewExportJob(d, src, bio, opts)
	require.NoError(t, exp.Start(ctx))
	waitOutcome(t, d)

	dst := openStore(t)
	seed(t, dst, "stale")
	require.NoError(t, dst.WriteAttachment("old/gone.txt", []byte("x")))

	d = &delegate{key: key, done: make(chan error, 1)}
	res := backup.NewRestoreJob(d, dst, bio, opts)
	require.NoError(t, res.Start(ctx))
	waitOutcome(t, d)

	db, err := dst.DB()
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two", "three"}, messages(t, db))

	b, err := os.ReadFile(filepath.Join(dst.AttachmentsPath(), "ab", "photo.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "jpeg bytes", string(b))

	_, err = os.Stat(filepath.Join(dst.AttachmentsPath(), "old", "gone.txt"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
