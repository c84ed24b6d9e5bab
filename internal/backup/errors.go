package backup

import "errors"

var (
	// Failure kinds reported to BackupJobDidFail. Match with errors.Is.
	ErrTempDirCreationFailed = errors.New("temp dir creation failed")
	ErrEnumerationFailed     = errors.New("enumeration failed")
	ErrEncryptionFailed      = errors.New("encryption failed")
	ErrTransferFailed        = errors.New("transfer failed")
	ErrManifestDecodeFailed  = errors.New("manifest decode failed")
	ErrJobFailed             = errors.New("backup job failed")

	// ErrCancelled is returned by job steps once Cancel was called. It is
	// never delivered to the delegate.
	ErrCancelled = errors.New("backup job cancelled")

	ErrJobAlreadyStarted = errors.New("backup job already started")
	ErrJobComplete       = errors.New("backup job already complete")
)
