package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dmitrijs2005/gophbackup/internal/filex"
	"github.com/google/uuid"
)

// RestoreJob downloads the latest manifest, materializes every item in the
// staging directory and hands them to Storage.ApplyRestore.
type RestoreJob struct {
	*Job

	resultMu sync.Mutex
	manifest *ManifestContents
}

func NewRestoreJob(delegate Delegate, storage Storage, bio BackupIO, opts Options) *RestoreJob {
	return &RestoreJob{Job: newJob(KindRestore, delegate, storage, bio, opts)}
}

// Start launches the restore. It returns an error, after failing the job,
// when the staging directory cannot be created.
func (r *RestoreJob) Start(ctx context.Context) error {
	return r.start(ctx, r.run)
}

// Manifest returns the restored manifest once the job succeeded.
func (r *RestoreJob) Manifest() *ManifestContents {
	r.resultMu.Lock()
	defer r.resultMu.Unlock()
	return r.manifest
}

func (r *RestoreJob) run(ctx context.Context) error {
	r.UpdateProgress(Some("Downloading manifest"), Some(0.0))

	result := <-r.DownloadAndProcessManifest(ctx, r.io)
	if result.Err != nil {
		return result.Err
	}
	contents := result.Contents
	// staged files are moved by ApplyRestore or removed with the temp dir
	defer unstage(contents)

	progress := &progressCounter{job: r.Job, description: "Restoring", total: contents.Len()}

	// database before attachments
	for _, items := range [][]*ManifestItem{contents.DatabaseItems, contents.AttachmentItems} {
		err := r.forEachItem(ctx, len(items), func(ctx context.Context, i int) error {
			if err := r.restoreItem(ctx, items[i]); err != nil {
				return err
			}
			progress.itemDone()
			return nil
		})
		if err != nil {
			return err
		}
	}

	if err := r.checkCancelled(ctx); err != nil {
		return err
	}

	r.UpdateProgress(Some("Applying restore"), None[float64]())

	if err := r.storage.ApplyRestore(ctx, contents); err != nil {
		return fmt.Errorf("apply restore: %w", err)
	}

	r.resultMu.Lock()
	r.manifest = contents
	r.resultMu.Unlock()

	r.logger.Info(ctx, "restore applied", "items", contents.Len())
	return nil
}

func unstage(contents *ManifestContents) {
	for _, items := range [][]*ManifestItem{contents.DatabaseItems, contents.AttachmentItems} {
		for _, it := range items {
			it.LocalStagingPath = None[string]()
		}
	}
}

// restoreItem downloads and decrypts one item (decompressing it when the
// manifest records an original size) and sets its LocalStagingPath.
func (r *RestoreJob) restoreItem(ctx context.Context, item *ManifestItem) error {
	base := filepath.Join(r.JobTempDirPath(), uuid.NewString())
	encrypted, decrypted := base+".enc", base+".dec"
	defer os.Remove(encrypted)

	if err := r.io.DownloadFile(ctx, item.RecordName, encrypted); err != nil {
		return fmt.Errorf("%w: download %s: %w", ErrTransferFailed, item.RecordName, err)
	}
	if err := r.io.DecryptFile(ctx, encrypted, decrypted, item.EncryptionKey); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrEncryptionFailed, item.RecordName, err)
	}

	staged := decrypted
	if size, ok := item.OriginalSize.Get(); ok {
		staged = base + ".bin"
		err := r.io.DecompressFile(ctx, decrypted, staged)
		_ = os.Remove(decrypted)
		if err != nil {
			return fmt.Errorf("%w: decompress %s: %w", ErrEncryptionFailed, item.RecordName, err)
		}

		actual, err := filex.FileSize(staged)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrTransferFailed, item.RecordName, err)
		}
		if actual != size {
			return fmt.Errorf("%w: %s: size %d, manifest says %d", ErrTransferFailed, item.RecordName, actual, size)
		}
	}

	item.LocalStagingPath = Some(staged)
	r.logger.Debug(ctx, "item restored", "record_name", item.RecordName)
	return nil
}
