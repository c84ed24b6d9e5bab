// Package datastore is the local data store a backup protects: one SQLite
// database plus an Attachments/ directory tree.
//
// Store implements backup.Storage. Export reads a consistent snapshot
// taken with VACUUM INTO, so the live database stays writable while a
// backup runs. ApplyRestore swaps in the restored database and attachment
// tree and reopens the connection.
package datastore
