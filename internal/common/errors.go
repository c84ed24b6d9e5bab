// Package common defines shared sentinel errors and small helpers used across
// gophbackup packages. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Lookup errors.
	ErrorNotFound = errors.New("not found")

	// Validation errors.
	ErrorInvalidKeyLength = errors.New("invalid key length")
	ErrorUnsafePath       = errors.New("unsafe relative path")

	// Local data store errors.
	ErrorStoreClosed = errors.New("data store closed")
)
