package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// ManifestResult is the outcome of DownloadAndProcessManifest: exactly one of
// Contents and Err is set.
type ManifestResult struct {
	Contents *ManifestContents
	Err      error
}

// DownloadAndProcessManifest downloads, decrypts and parses the manifest on
// a new goroutine. The returned channel yields one result and is then
// closed. Job state is not touched; callers decide whether a failure fails
// the job.
//
// Errors wrap ErrTransferFailed for download failures and
// ErrManifestDecodeFailed for a missing or mismatched key or a malformed
// document. A job that already reached a terminal state yields
// ErrJobComplete without touching the remote store.
func (j *Job) DownloadAndProcessManifest(ctx context.Context, bio BackupIO) <-chan ManifestResult {
	ch := make(chan ManifestResult, 1)
	go func() {
		defer close(ch)
		contents, err := j.fetchManifest(ctx, bio)
		if err != nil {
			ch <- ManifestResult{Err: err}
			return
		}
		ch <- ManifestResult{Contents: contents}
	}()
	return ch
}

func (j *Job) fetchManifest(ctx context.Context, bio BackupIO) (*ManifestContents, error) {
	if j.IsComplete() {
		return nil, ErrJobComplete
	}

	key, err := j.manifestKey(false)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrManifestDecodeFailed, err)
	}

	dir, err := j.EnsureJobTempDir()
	if err != nil {
		return nil, err
	}

	base := filepath.Join(dir, "manifest-"+uuid.NewString())
	encrypted, plain := base+".enc", base+".json"
	defer os.Remove(encrypted)
	defer os.Remove(plain)

	if err := bio.DownloadManifest(ctx, encrypted); err != nil {
		return nil, fmt.Errorf("%w: download manifest: %w", ErrTransferFailed, err)
	}
	if err := bio.DecryptFile(ctx, encrypted, plain, key); err != nil {
		return nil, fmt.Errorf("%w: decrypt manifest: %w", ErrManifestDecodeFailed, err)
	}

	data, err := os.ReadFile(plain)
	if err != nil {
		return nil, fmt.Errorf("%w: read manifest: %w", ErrManifestDecodeFailed, err)
	}

	contents, err := DecodeManifest(data)
	if err != nil {
		return nil, err
	}

	j.logger.Info(ctx, "manifest processed",
		"database_items", len(contents.DatabaseItems),
		"attachment_items", len(contents.AttachmentItems))
	return contents, nil
}
