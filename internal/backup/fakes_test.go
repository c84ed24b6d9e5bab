package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophbackup/internal/cryptox"
	"github.com/dmitrijs2005/gophbackup/internal/filex"
	"github.com/stretchr/testify/require"
)

// ---- fake BackupIO ----

// fakeIO keeps records in memory and uses the real AES-GCM helpers, so keys
// and manifests behave like production. Compression is a plain copy.
type fakeIO struct {
	mu       sync.Mutex
	records  map[string][]byte
	manifest []byte
	uploads  int

	// uploadHook runs before an upload is stored; n counts uploads from 1.
	uploadHook func(ctx context.Context, n int) error
	// downloadHook runs before a record is written out; n counts downloads
	// from 1.
	downloadHook func(ctx context.Context, n int) error
	// manifestHook runs before the manifest is written out.
	manifestHook func(ctx context.Context) error
	downloads    int

	downloadErr         error
	downloadManifestErr error
}

func newFakeIO() *fakeIO {
	return &fakeIO{records: make(map[string][]byte)}
}

func (f *fakeIO) EncryptFile(ctx context.Context, src, dst string, key []byte) error {
	return cryptox.EncryptFile(src, dst, key)
}

func (f *fakeIO) DecryptFile(ctx context.Context, src, dst string, key []byte) error {
	return cryptox.DecryptFile(src, dst, key)
}

func (f *fakeIO) CompressFile(ctx context.Context, src, dst string) (int64, error) {
	if err := filex.CopyFile(src, dst); err != nil {
		return 0, err
	}
	return filex.FileSize(src)
}

func (f *fakeIO) DecompressFile(ctx context.Context, src, dst string) error {
	return filex.CopyFile(src, dst)
}

func (f *fakeIO) UploadFile(ctx context.Context, path string) (string, error) {
	f.mu.Lock()
	f.uploads++
	n := f.uploads
	hook := f.uploadHook
	f.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, n); err != nil {
			return "", err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	name := fmt.Sprintf("rec-%03d", n)
	f.mu.Lock()
	f.records[name] = data
	f.mu.Unlock()
	return name, nil
}

func (f *fakeIO) DownloadFile(ctx context.Context, recordName, dst string) error {
	if f.downloadErr != nil {
		return f.downloadErr
	}
	f.mu.Lock()
	f.downloads++
	n := f.downloads
	hook := f.downloadHook
	f.mu.Unlock()
	if hook != nil {
		if err := hook(ctx, n); err != nil {
			return err
		}
	}
	f.mu.Lock()
	data, ok := f.records[recordName]
	f.mu.Unlock()
	if !ok {
		return fmt.Errorf("record %s not found", recordName)
	}
	return os.WriteFile(dst, data, 0o600)
}

func (f *fakeIO) UploadManifest(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	f.manifest = data
	f.mu.Unlock()
	return "manifest", nil
}

func (f *fakeIO) DownloadManifest(ctx context.Context, dst string) error {
	if f.downloadManifestErr != nil {
		return f.downloadManifestErr
	}
	if f.manifestHook != nil {
		if err := f.manifestHook(ctx); err != nil {
			return err
		}
	}
	f.mu.Lock()
	data := f.manifest
	f.mu.Unlock()
	if data == nil {
		return errors.New("no manifest")
	}
	return os.WriteFile(dst, data, 0o600)
}

func (f *fakeIO) uploadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploads
}

// ---- fake Storage ----

type fakeStorage struct {
	dbFiles  []SourceFile
	attFiles []SourceFile
	enumErr  error

	enumerated atomic.Bool

	mu       sync.Mutex
	applied  *ManifestContents
	restored map[string]string
}

// newFakeStorage writes nDB database files and nAtt attachments to a temp dir.
func newFakeStorage(t *testing.T, nDB, nAtt int) *fakeStorage {
	t.Helper()
	dir := t.TempDir()
	s := &fakeStorage{}

	for i := 0; i < nDB; i++ {
		p := filepath.Join(dir, fmt.Sprintf("db-%d.sqlite", i))
		require.NoError(t, os.WriteFile(p, []byte(fmt.Sprintf("database file %d", i)), 0o600))
		s.dbFiles = append(s.dbFiles, SourceFile{Path: p})
	}
	for i := 0; i < nAtt; i++ {
		rel := filepath.Join("ab", fmt.Sprintf("att-%d.jpg", i))
		p := filepath.Join(dir, "Attachments", rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o700))
		require.NoError(t, os.WriteFile(p, []byte(fmt.Sprintf("attachment %d", i)), 0o600))
		s.attFiles = append(s.attFiles, SourceFile{Path: p, RelativePath: Some(rel)})
	}
	return s
}

func (s *fakeStorage) DatabaseFiles(ctx context.Context, stagingDir string) ([]SourceFile, error) {
	s.enumerated.Store(true)
	if s.enumErr != nil {
		return nil, s.enumErr
	}
	return s.dbFiles, nil
}

func (s *fakeStorage) AttachmentFiles(ctx context.Context) ([]SourceFile, error) {
	return s.attFiles, nil
}

func (s *fakeStorage) ApplyRestore(ctx context.Context, contents *ManifestContents) error {
	restored := make(map[string]string)
	for i, it := range contents.DatabaseItems {
		p, ok := it.LocalStagingPath.Get()
		if !ok {
			return fmt.Errorf("database item %d not staged", i)
		}
		b, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		restored[fmt.Sprintf("db-%d", i)] = string(b)
	}
	for _, it := range contents.AttachmentItems {
		p, ok := it.LocalStagingPath.Get()
		if !ok {
			return fmt.Errorf("attachment %s not staged", it.RecordName)
		}
		b, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		restored[it.RelativeFilePath.OrElse("")] = string(b)
	}

	s.mu.Lock()
	s.applied = contents
	s.restored = restored
	s.mu.Unlock()
	return nil
}

// ---- fake Delegate ----

type progressEvent struct {
	description Optional[string]
	progress    Optional[float64]
}

type fakeDelegate struct {
	key []byte

	mu        sync.Mutex
	succeeded int
	failed    int
	failErr   error
	progress  []progressEvent
	events    []string
	inCall    atomic.Int32
	reentered atomic.Bool
}

func (d *fakeDelegate) enter() func() {
	if d.inCall.Add(1) > 1 {
		d.reentered.Store(true)
	}
	return func() { d.inCall.Add(-1) }
}

func (d *fakeDelegate) BackupEncryptionKey() []byte {
	return d.key
}

func (d *fakeDelegate) BackupJobDidSucceed(job *Job) {
	defer d.enter()()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.succeeded++
	d.events = append(d.events, "success")
}

func (d *fakeDelegate) BackupJobDidFail(job *Job, err error) {
	defer d.enter()()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failed++
	d.failErr = err
	d.events = append(d.events, "fail")
}

func (d *fakeDelegate) BackupJobDidUpdate(job *Job, description Optional[string], progress Optional[float64]) {
	defer d.enter()()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.progress = append(d.progress, progressEvent{description: description, progress: progress})
	d.events = append(d.events, "progress")
}

type delegateSnapshot struct {
	succeeded int
	failed    int
	failErr   error
	progress  []progressEvent
	events    []string
}

func (d *fakeDelegate) snapshot() delegateSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return delegateSnapshot{
		succeeded: d.succeeded,
		failed:    d.failed,
		failErr:   d.failErr,
		progress:  append([]progressEvent(nil), d.progress...),
		events:    append([]string(nil), d.events...),
	}
}

// ---- helpers ----

func testOptions(t *testing.T) (Options, *SerialDispatcher) {
	t.Helper()
	disp := NewSerialDispatcher()
	t.Cleanup(disp.Close)
	return Options{
		TempRoot:    t.TempDir(),
		Parallelism: 3,
		Dispatcher:  disp,
	}, disp
}

// waitJob waits for the job to wind down and for its callbacks to run.
func waitJob(t *testing.T, j *Job, disp *SerialDispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, j.Wait(ctx), "job did not finish in time")
	disp.Flush()
}
