// Package history records every backup job a host ran: kind, final state,
// manifest record, item counts, error text and the fingerprint of the key
// that protects the manifest.
//
// The schema lives in history/migrations and is applied with goose when
// the database is opened.
package history
