package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophbackup/internal/cryptox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exportFixture runs a successful export and returns the populated fake IO.
func exportFixture(t *testing.T, key []byte, nDB, nAtt int, compress bool) *fakeIO {
	t.Helper()
	opts, disp := testOptions(t)
	opts.Compress = compress
	fio := newFakeIO()
	d := &fakeDelegate{key: key}

	job := NewExportJob(d, newFakeStorage(t, nDB, nAtt), fio, opts)
	require.NoError(t, job.Start(context.Background()))
	waitJob(t, job.Job, disp)
	require.Equal(t, 1, d.snapshot().succeeded)
	return fio
}

func TestRestoreJob_RoundTrip(t *testing.T) {
	for _, compress := range []bool{false, true} {
		t.Run(fmt.Sprintf("compress=%v", compress), func(t *testing.T) {
			key := cryptox.GenerateKey()
			fio := exportFixture(t, key, 3, 5, compress)

			opts, disp := testOptions(t)
			target := &fakeStorage{}
			d := &fakeDelegate{key: key}

			job := NewRestoreJob(d, target, fio, opts)
			require.NoError(t, job.Start(context.Background()))
			waitJob(t, job.Job, disp)

			s := d.snapshot()
			require.Equal(t, 1, s.succeeded, "fail: %v", s.failErr)
			assert.GreaterOrEqual(t, len(s.progress), 8)

			want := map[string]string{}
			for i := 0; i < 3; i++ {
				want[fmt.Sprintf("db-%d", i)] = fmt.Sprintf("database file %d", i)
			}
			for i := 0; i < 5; i++ {
				want[filepath.Join("ab", fmt.Sprintf("att-%d.jpg", i))] = fmt.Sprintf("attachment %d", i)
			}
			assert.Equal(t, want, target.restored)

			m := job.Manifest()
			require.NotNil(t, m)
			for _, items := range [][]*ManifestItem{m.DatabaseItems, m.AttachmentItems} {
				for _, it := range items {
					assert.False(t, it.IsStaged(), "%s still staged", it.RecordName)
				}
			}
		})
	}
}

func TestDownloadAndProcessManifest_WrongKey(t *testing.T) {
	fio := exportFixture(t, cryptox.GenerateKey(), 1, 1, false)

	opts, disp := testOptions(t)
	d := &fakeDelegate{key: cryptox.GenerateKey()}
	job := NewRestoreJob(d, &fakeStorage{}, fio, opts)

	ch := job.DownloadAndProcessManifest(context.Background(), fio)

	var res ManifestResult
	select {
	case res = <-ch:
	case <-time.After(10 * time.Second):
		t.Fatal("no manifest result")
	}
	require.ErrorIs(t, res.Err, ErrManifestDecodeFailed)
	assert.Nil(t, res.Contents)

	_, open := <-ch
	assert.False(t, open, "channel closed after one result")

	disp.Flush()
	assert.Equal(t, StateNotStarted, job.State())
	assert.Empty(t, d.snapshot().events)
}

func TestDownloadAndProcessManifest_Success(t *testing.T) {
	key := cryptox.GenerateKey()
	fio := exportFixture(t, key, 2, 3, false)

	opts, _ := testOptions(t)
	job := NewRestoreJob(&fakeDelegate{key: key}, &fakeStorage{}, fio, opts)

	res := <-job.DownloadAndProcessManifest(context.Background(), fio)
	require.NoError(t, res.Err)
	require.NotNil(t, res.Contents)
	assert.Len(t, res.Contents.DatabaseItems, 2)
	assert.Len(t, res.Contents.AttachmentItems, 3)
}

func TestDownloadAndProcessManifest_TransferFailure(t *testing.T) {
	fio := newFakeIO()
	fio.downloadManifestErr = errors.New("not reachable")

	opts, _ := testOptions(t)
	job := NewRestoreJob(&fakeDelegate{key: cryptox.GenerateKey()}, &fakeStorage{}, fio, opts)

	res := <-job.DownloadAndProcessManifest(context.Background(), fio)
	require.ErrorIs(t, res.Err, ErrTransferFailed)
	assert.Nil(t, res.Contents)
}

func TestRestoreJob_WrongKeyFails(t *testing.T) {
	fio := exportFixture(t, cryptox.GenerateKey(), 1, 1, false)

	opts, disp := testOptions(t)
	target := &fakeStorage{}
	d := &fakeDelegate{key: cryptox.GenerateKey()}

	job := NewRestoreJob(d, target, fio, opts)
	require.NoError(t, job.Start(context.Background()))
	waitJob(t, job.Job, disp)

	s := d.snapshot()
	assert.Equal(t, 0, s.succeeded)
	require.Equal(t, 1, s.failed)
	assert.ErrorIs(t, s.failErr, ErrManifestDecodeFailed)
	assert.Nil(t, target.applied)
}

func TestRestoreJob_MissingKeyFails(t *testing.T) {
	fio := exportFixture(t, cryptox.GenerateKey(), 1, 0, false)

	opts, disp := testOptions(t)
	d := &fakeDelegate{}

	job := NewRestoreJob(d, &fakeStorage{}, fio, opts)
	require.NoError(t, job.Start(context.Background()))
	waitJob(t, job.Job, disp)

	s := d.snapshot()
	require.Equal(t, 1, s.failed)
	assert.ErrorIs(t, s.failErr, ErrManifestDecodeFailed)
}

func TestRestoreJob_ItemDownloadFailure(t *testing.T) {
	key := cryptox.GenerateKey()
	fio := exportFixture(t, key, 2, 2, false)
	fio.downloadErr = errors.New("timeout")

	opts, disp := testOptions(t)
	target := &fakeStorage{}
	d := &fakeDelegate{key: key}

	job := NewRestoreJob(d, target, fio, opts)
	require.NoError(t, job.Start(context.Background()))
	waitJob(t, job.Job, disp)

	s := d.snapshot()
	require.Equal(t, 1, s.failed)
	assert.ErrorIs(t, s.failErr, ErrTransferFailed)
	assert.Nil(t, target.applied)
}

func TestRestoreJob_CancelledBeforeStart(t *testing.T) {
	key := cryptox.GenerateKey()
	fio := exportFixture(t, key, 1, 0, false)

	opts, disp := testOptions(t)
	target := &fakeStorage{}
	d := &fakeDelegate{key: key}

	job := NewRestoreJob(d, target, fio, opts)
	job.Cancel()
	require.ErrorIs(t, job.Start(context.Background()), ErrCancelled)
	waitJob(t, job.Job, disp)

	assert.Nil(t, target.applied)
	assert.Empty(t, d.snapshot().events)
}

func TestRestoreJob_CancelMidDownload(t *testing.T) {
	key := cryptox.GenerateKey()
	fio := exportFixture(t, key, 2, 4, true)

	started := make(chan struct{})
	fio.downloadHook = func(ctx context.Context, n int) error {
		if n != 2 {
			return nil
		}
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}

	opts, disp := testOptions(t)
	target := &fakeStorage{}
	d := &fakeDelegate{key: key}

	job := NewRestoreJob(d, target, fio, opts)
	require.NoError(t, job.Start(context.Background()))

	<-started
	job.Cancel()
	waitJob(t, job.Job, disp)

	s := d.snapshot()
	assert.Equal(t, 0, s.succeeded)
	assert.Equal(t, 0, s.failed)
	assert.Equal(t, StateCancelled, job.State())
	assert.Nil(t, target.applied)
	assert.Nil(t, job.Manifest())

	_, err := os.Stat(job.JobTempDirPath())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRestoreJob_CancelDuringManifestFetch(t *testing.T) {
	key := cryptox.GenerateKey()
	fio := exportFixture(t, key, 1, 1, false)

	started := make(chan struct{})
	fio.manifestHook = func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}

	opts, disp := testOptions(t)
	target := &fakeStorage{}
	d := &fakeDelegate{key: key}

	job := NewRestoreJob(d, target, fio, opts)
	require.NoError(t, job.Start(context.Background()))

	<-started
	job.Cancel()
	waitJob(t, job.Job, disp)

	s := d.snapshot()
	assert.Equal(t, 0, s.succeeded)
	assert.Equal(t, 0, s.failed)
	assert.Equal(t, StateCancelled, job.State())
	assert.Nil(t, target.applied)

	_, err := os.Stat(job.JobTempDirPath())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestDownloadAndProcessManifest_FinishedJob(t *testing.T) {
	key := cryptox.GenerateKey()
	fio := exportFixture(t, key, 1, 1, false)

	opts, disp := testOptions(t)
	job := NewRestoreJob(&fakeDelegate{key: key}, &fakeStorage{}, fio, opts)
	job.Cancel()
	waitJob(t, job.Job, disp)

	fetched := false
	fio.manifestHook = func(context.Context) error {
		fetched = true
		return nil
	}

	res := <-job.DownloadAndProcessManifest(context.Background(), fio)
	require.ErrorIs(t, res.Err, ErrJobComplete)
	assert.Nil(t, res.Contents)
	assert.False(t, fetched)

	_, err := os.Stat(job.JobTempDirPath())
	assert.ErrorIs(t, err, os.ErrNotExist)
}
