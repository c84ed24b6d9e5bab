package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dmitrijs2005/gophbackup/internal/cryptox"
	"github.com/google/uuid"
)

// ExportJob backs up the data store: every database and attachment file is
// encrypted under its own key and uploaded, then an encrypted manifest
// listing them is uploaded last.
type ExportJob struct {
	*Job

	resultMu           sync.Mutex
	manifest           *ManifestContents
	manifestRecordName string
}

func NewExportJob(delegate Delegate, storage Storage, bio BackupIO, opts Options) *ExportJob {
	return &ExportJob{Job: newJob(KindExport, delegate, storage, bio, opts)}
}

// Start launches the export. It returns an error, after failing the job,
// when the staging directory cannot be created.
func (e *ExportJob) Start(ctx context.Context) error {
	return e.start(ctx, e.run)
}

// Manifest returns the uploaded manifest once the export succeeded.
func (e *ExportJob) Manifest() *ManifestContents {
	e.resultMu.Lock()
	defer e.resultMu.Unlock()
	return e.manifest
}

// ManifestRecordName returns the remote record of the uploaded manifest.
func (e *ExportJob) ManifestRecordName() string {
	e.resultMu.Lock()
	defer e.resultMu.Unlock()
	return e.manifestRecordName
}

func (e *ExportJob) run(ctx context.Context) error {
	e.UpdateProgress(Some("Preparing backup"), Some(0.0))

	stagingDir := e.JobTempDirPath()

	dbFiles, err := e.storage.DatabaseFiles(ctx, stagingDir)
	if err != nil {
		return fmt.Errorf("%w: database files: %w", ErrEnumerationFailed, err)
	}
	attFiles, err := e.storage.AttachmentFiles(ctx)
	if err != nil {
		return fmt.Errorf("%w: attachment files: %w", ErrEnumerationFailed, err)
	}

	e.logger.Info(ctx, "enumerated files", "database_files", len(dbFiles), "attachment_files", len(attFiles))

	contents := &ManifestContents{
		DatabaseItems:   make([]*ManifestItem, len(dbFiles)),
		AttachmentItems: make([]*ManifestItem, len(attFiles)),
	}
	progress := &progressCounter{job: e.Job, description: "Backing up", total: len(dbFiles) + len(attFiles)}

	err = e.forEachItem(ctx, progress.total, func(ctx context.Context, i int) error {
		if i < len(dbFiles) {
			item, err := e.exportItem(ctx, dbFiles[i], e.opts.Compress)
			if err != nil {
				return err
			}
			contents.DatabaseItems[i] = item
		} else {
			item, err := e.exportItem(ctx, attFiles[i-len(dbFiles)], false)
			if err != nil {
				return err
			}
			contents.AttachmentItems[i-len(dbFiles)] = item
		}
		progress.itemDone()
		return nil
	})
	if err != nil {
		return err
	}

	if err := e.checkCancelled(ctx); err != nil {
		return err
	}

	e.UpdateProgress(Some("Uploading manifest"), None[float64]())

	recordName, err := e.uploadManifest(ctx, contents)
	if err != nil {
		return err
	}

	e.resultMu.Lock()
	e.manifest = contents
	e.manifestRecordName = recordName
	e.resultMu.Unlock()

	e.logger.Info(ctx, "manifest uploaded", "record_name", recordName, "items", contents.Len())
	return nil
}

// exportItem compresses (optionally), encrypts and uploads one file under a
// fresh key. Intermediate files are removed before it returns.
func (e *ExportJob) exportItem(ctx context.Context, src SourceFile, compress bool) (*ManifestItem, error) {
	base := filepath.Join(e.JobTempDirPath(), uuid.NewString())
	item := &ManifestItem{
		EncryptionKey:    cryptox.GenerateKey(),
		RelativeFilePath: src.RelativePath,
	}

	var staged []string
	defer func() {
		for _, p := range staged {
			_ = os.Remove(p)
		}
		item.LocalStagingPath = None[string]()
	}()

	input := src.Path
	if compress {
		compressed := base + ".zst"
		staged = append(staged, compressed)
		size, err := e.io.CompressFile(ctx, input, compressed)
		if err != nil {
			return nil, fmt.Errorf("%w: compress %s: %w", ErrEncryptionFailed, src.Path, err)
		}
		item.OriginalSize = Some(size)
		input = compressed
	}

	encrypted := base + ".enc"
	staged = append(staged, encrypted)
	if err := e.io.EncryptFile(ctx, input, encrypted, item.EncryptionKey); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrEncryptionFailed, src.Path, err)
	}
	item.LocalStagingPath = Some(encrypted)

	if err := e.checkCancelled(ctx); err != nil {
		return nil, err
	}

	recordName, err := e.io.UploadFile(ctx, encrypted)
	if err != nil {
		return nil, fmt.Errorf("%w: upload %s: %w", ErrTransferFailed, src.Path, err)
	}
	if recordName == "" {
		return nil, fmt.Errorf("%w: upload %s: empty record name", ErrTransferFailed, src.Path)
	}
	item.RecordName = recordName

	e.logger.Debug(ctx, "item uploaded", "record_name", recordName, "compressed", item.OriginalSize.IsSet())
	return item, nil
}

func (e *ExportJob) uploadManifest(ctx context.Context, contents *ManifestContents) (string, error) {
	key, err := e.manifestKey(true)
	if err != nil {
		return "", fmt.Errorf("%w: manifest key: %w", ErrEncryptionFailed, err)
	}

	data, err := EncodeManifest(contents)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrEncryptionFailed, err)
	}

	base := filepath.Join(e.JobTempDirPath(), "manifest-"+uuid.NewString())
	plain, encrypted := base+".json", base+".enc"
	defer os.Remove(plain)
	defer os.Remove(encrypted)

	if err := os.WriteFile(plain, data, 0o600); err != nil {
		return "", fmt.Errorf("%w: stage manifest: %w", ErrEncryptionFailed, err)
	}
	if err := e.io.EncryptFile(ctx, plain, encrypted, key); err != nil {
		return "", fmt.Errorf("%w: manifest: %w", ErrEncryptionFailed, err)
	}

	if err := e.checkCancelled(ctx); err != nil {
		return "", err
	}

	recordName, err := e.io.UploadManifest(ctx, encrypted)
	if err != nil {
		return "", fmt.Errorf("%w: upload manifest: %w", ErrTransferFailed, err)
	}
	return recordName, nil
}
