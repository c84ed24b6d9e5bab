// Package backupio is the byte-level side of a backup: it implements
// backup.BackupIO on top of a RemoteStore.
//
// Files are sealed with cryptox (AES-256-GCM), database snapshots may be
// zstd-compressed, and records are written under date-partitioned random
// keys. The manifest is kept under one well-known key so a restore can find
// the latest backup without listing the bucket.
package backupio
