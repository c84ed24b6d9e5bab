package backup

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/dmitrijs2005/gophbackup/internal/cryptox"
)

// Manifest document keys. Other tooling reads this format, so they must not
// change.
const (
	ManifestKeyDatabaseFiles    = "database_files"
	ManifestKeyAttachmentFiles  = "attachment_files"
	ManifestKeyRecordName       = "record_name"
	ManifestKeyEncryptionKey    = "encryption_key"
	ManifestKeyRelativeFilePath = "relative_file_path"
	ManifestKeyDataSize         = "data_size"
)

// ManifestItem describes one backed-up file.
type ManifestItem struct {
	// RecordName identifies the encrypted blob in remote storage.
	RecordName string

	// EncryptionKey is the key of this item alone.
	EncryptionKey []byte

	// RelativeFilePath is set for attachments: the file's path below the
	// attachments root.
	RelativeFilePath Optional[string]

	// LocalStagingPath is set only while the item is materialized on disk,
	// during export staging or after a restore download.
	LocalStagingPath Optional[string]

	// OriginalSize is set only when the remote blob is compressed.
	OriginalSize Optional[int64]
}

// IsStaged reports whether the item currently has a local file. Items that
// are not staged must be downloaded before their bytes can be used.
func (i *ManifestItem) IsStaged() bool {
	return i.LocalStagingPath.IsSet()
}

// ManifestContents lists the items of one backup. Database items are
// restored before attachment items and the two lists are never merged.
type ManifestContents struct {
	DatabaseItems   []*ManifestItem
	AttachmentItems []*ManifestItem
}

// Len returns the total number of items.
func (m *ManifestContents) Len() int {
	return len(m.DatabaseItems) + len(m.AttachmentItems)
}

type manifestItemDTO struct {
	RecordName       string  `json:"record_name"`
	EncryptionKey    []byte  `json:"encryption_key"`
	RelativeFilePath *string `json:"relative_file_path,omitempty"`
	DataSize         *int64  `json:"data_size,omitempty"`
}

type manifestDTO struct {
	DatabaseFiles   []manifestItemDTO `json:"database_files"`
	AttachmentFiles []manifestItemDTO `json:"attachment_files"`
}

func itemsToDTO(items []*ManifestItem) []manifestItemDTO {
	out := make([]manifestItemDTO, 0, len(items))
	for _, it := range items {
		out = append(out, manifestItemDTO{
			RecordName:       it.RecordName,
			EncryptionKey:    it.EncryptionKey,
			RelativeFilePath: it.RelativeFilePath.Ptr(),
			DataSize:         it.OriginalSize.Ptr(),
		})
	}
	return out
}

func itemsFromDTO(list string, dtos []manifestItemDTO) ([]*ManifestItem, error) {
	out := make([]*ManifestItem, 0, len(dtos))
	paths := make(map[string]struct{})
	for i, d := range dtos {
		if d.RecordName == "" {
			return nil, fmt.Errorf("%w: %s[%d]: empty %s", ErrManifestDecodeFailed, list, i, ManifestKeyRecordName)
		}
		if err := cryptox.ValidateKey(d.EncryptionKey); err != nil {
			return nil, fmt.Errorf("%w: %s[%d]: %s: %w", ErrManifestDecodeFailed, list, i, ManifestKeyEncryptionKey, err)
		}
		if d.DataSize != nil && *d.DataSize < 0 {
			return nil, fmt.Errorf("%w: %s[%d]: negative %s", ErrManifestDecodeFailed, list, i, ManifestKeyDataSize)
		}
		if d.RelativeFilePath != nil && !filepath.IsLocal(*d.RelativeFilePath) {
			return nil, fmt.Errorf("%w: %s[%d]: unsafe %s %q", ErrManifestDecodeFailed, list, i, ManifestKeyRelativeFilePath, *d.RelativeFilePath)
		}
		if d.RelativeFilePath != nil {
			clean := filepath.Clean(filepath.FromSlash(*d.RelativeFilePath))
			if _, dup := paths[clean]; dup {
				return nil, fmt.Errorf("%w: %s[%d]: duplicate %s %q", ErrManifestDecodeFailed, list, i, ManifestKeyRelativeFilePath, *d.RelativeFilePath)
			}
			paths[clean] = struct{}{}
		}

		out = append(out, &ManifestItem{
			RecordName:       d.RecordName,
			EncryptionKey:    d.EncryptionKey,
			RelativeFilePath: FromPtr(d.RelativeFilePath),
			OriginalSize:     FromPtr(d.DataSize),
		})
	}
	return out, nil
}

// EncodeManifest serializes m. Staging paths are local state and are not
// written.
func EncodeManifest(m *ManifestContents) ([]byte, error) {
	dto := manifestDTO{
		DatabaseFiles:   itemsToDTO(m.DatabaseItems),
		AttachmentFiles: itemsToDTO(m.AttachmentItems),
	}
	data, err := json.Marshal(dto)
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}
	return data, nil
}

// DecodeManifest parses and validates a manifest produced by EncodeManifest.
// Every failure wraps ErrManifestDecodeFailed.
func DecodeManifest(data []byte) (*ManifestContents, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrManifestDecodeFailed, err)
	}
	for _, key := range []string{ManifestKeyDatabaseFiles, ManifestKeyAttachmentFiles} {
		if _, ok := raw[key]; !ok {
			return nil, fmt.Errorf("%w: missing %s", ErrManifestDecodeFailed, key)
		}
	}

	var dto manifestDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrManifestDecodeFailed, err)
	}

	dbItems, err := itemsFromDTO(ManifestKeyDatabaseFiles, dto.DatabaseFiles)
	if err != nil {
		return nil, err
	}
	attItems, err := itemsFromDTO(ManifestKeyAttachmentFiles, dto.AttachmentFiles)
	if err != nil {
		return nil, err
	}

	return &ManifestContents{DatabaseItems: dbItems, AttachmentItems: attItems}, nil
}
