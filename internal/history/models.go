package history

import "time"

// Record is one row of the history table.
type Record struct {
	ID              string
	Kind            string
	State           string
	ManifestRecord  string
	DatabaseItems   int
	AttachmentItems int
	Error           string
	KeyFingerprint  string
	StartedAt       time.Time
	FinishedAt      *time.Time
}
