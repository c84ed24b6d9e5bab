package backup

import "context"

// Delegate receives a job's outcome and progress. Calls are made on the
// job's Dispatcher, never concurrently with each other.
//
// Either BackupJobDidSucceed or BackupJobDidFail is called exactly once
// unless the job was never started or was cancelled.
type Delegate interface {
	// BackupEncryptionKey returns the key protecting the manifest, or nil to
	// let an export job generate its own (see Job.EncryptionKey). Restore
	// requires a key.
	BackupEncryptionKey() []byte

	BackupJobDidSucceed(job *Job)
	BackupJobDidFail(job *Job, err error)
	BackupJobDidUpdate(job *Job, description Optional[string], progress Optional[float64])
}

// BackupIO performs the byte-level work for a job: crypto, compression and
// transfers. Implementations must honor ctx cancellation.
type BackupIO interface {
	EncryptFile(ctx context.Context, src, dst string, key []byte) error
	DecryptFile(ctx context.Context, src, dst string, key []byte) error

	// CompressFile writes a compressed copy of src to dst and returns the
	// size of src.
	CompressFile(ctx context.Context, src, dst string) (int64, error)
	DecompressFile(ctx context.Context, src, dst string) error

	// UploadFile stores the file at path under a new record name.
	UploadFile(ctx context.Context, path string) (string, error)
	DownloadFile(ctx context.Context, recordName, dst string) error

	// UploadManifest stores the manifest blob under the well-known manifest
	// record, replacing any previous one, and returns that record's name.
	UploadManifest(ctx context.Context, path string) (string, error)
	DownloadManifest(ctx context.Context, dst string) error
}

// SourceFile is one file offered by Storage for export.
type SourceFile struct {
	// Path is where the file can be read for the duration of the job.
	Path string

	// RelativePath identifies attachments below the attachments root.
	RelativePath Optional[string]
}

// Storage is the data store being backed up. The job only reads from it
// during export; ApplyRestore is its single write step.
type Storage interface {
	// DatabaseFiles returns the database files to export. Implementations
	// may place consistent snapshots in stagingDir, which the job owns.
	DatabaseFiles(ctx context.Context, stagingDir string) ([]SourceFile, error)

	AttachmentFiles(ctx context.Context) ([]SourceFile, error)

	// ApplyRestore installs the staged files of a fully downloaded manifest.
	ApplyRestore(ctx context.Context, contents *ManifestContents) error
}
