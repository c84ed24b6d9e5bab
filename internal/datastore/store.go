package datastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/dmitrijs2005/gophbackup/internal/backup"
	"github.com/dmitrijs2005/gophbackup/internal/common"
	"github.com/dmitrijs2005/gophbackup/internal/filex"
	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

const (
	DatabaseFileName = "data.sqlite"
	AttachmentsDir   = "Attachments"
)

var ErrUnexpectedDatabaseItems = errors.New("restore needs exactly one database item")

type Store struct {
	dir string

	mu sync.RWMutex
	db *sql.DB
}

var _ backup.Storage = (*Store)(nil)

// Open opens (creating if needed) the store rooted at dir.
func Open(ctx context.Context, dir string) (*Store, error) {
	if err := filex.EnsureDir(filepath.Join(dir, AttachmentsDir)); err != nil {
		return nil, err
	}
	s := &Store{dir: dir}
	if err := s.open(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) open(ctx context.Context) error {
	db, err := sql.Open("sqlite", s.DatabasePath())
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("open %s: %w", s.DatabasePath(), err)
	}
	s.db = db
	return nil
}

func (s *Store) DatabasePath() string {
	return filepath.Join(s.dir, DatabaseFileName)
}

func (s *Store) AttachmentsPath() string {
	return filepath.Join(s.dir, AttachmentsDir)
}

// DB returns the live connection. It changes after ApplyRestore.
func (s *Store) DB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, common.ErrorStoreClosed
	}
	return s.db, nil
}

// WriteAttachment stores data at rel below the attachments root.
func (s *Store) WriteAttachment(rel string, data []byte) error {
	p, err := filex.SafeJoin(s.AttachmentsPath(), filepath.FromSlash(rel))
	if err != nil {
		return err
	}
	if err := filex.EnsureDir(filepath.Dir(p)); err != nil {
		return err
	}
	return os.WriteFile(p, data, 0o600)
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// DatabaseFiles snapshots the database into stagingDir and returns the
// snapshot.
func (s *Store) DatabaseFiles(ctx context.Context, stagingDir string) ([]backup.SourceFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, common.ErrorStoreClosed
	}

	snapshot := filepath.Join(stagingDir, "snapshot-"+uuid.NewString()+".sqlite")
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, snapshot); err != nil {
		return nil, fmt.Errorf("snapshot database: %w", err)
	}
	return []backup.SourceFile{{Path: snapshot}}, nil
}

// AttachmentFiles lists every regular file below the attachments root in
// lexical order. Relative paths use forward slashes.
func (s *Store) AttachmentFiles(ctx context.Context) ([]backup.SourceFile, error) {
	root := s.AttachmentsPath()
	var files []backup.SourceFile

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		files = append(files, backup.SourceFile{Path: p, RelativePath: backup.Some(filepath.ToSlash(rel))})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk attachments: %w", err)
	}
	return files, nil
}

// ApplyRestore replaces the database and the attachment tree with the
// staged files of contents. The new tree is assembled next to the old one
// and swapped in by rename.
func (s *Store) ApplyRestore(ctx context.Context, contents *backup.ManifestContents) error {
	if len(contents.DatabaseItems) != 1 {
		return fmt.Errorf("%w: got %d", ErrUnexpectedDatabaseItems, len(contents.DatabaseItems))
	}
	dbPath, ok := contents.DatabaseItems[0].LocalStagingPath.Get()
	if !ok {
		return fmt.Errorf("database item %s is not staged", contents.DatabaseItems[0].RecordName)
	}

	incoming := filepath.Join(s.dir, AttachmentsDir+".restore-"+uuid.NewString())
	defer os.RemoveAll(incoming)
	if err := filex.EnsureDir(incoming); err != nil {
		return err
	}

	for _, it := range contents.AttachmentItems {
		if err := ctx.Err(); err != nil {
			return err
		}
		src, ok := it.LocalStagingPath.Get()
		if !ok {
			return fmt.Errorf("attachment %s is not staged", it.RecordName)
		}
		dst, err := filex.SafeJoin(incoming, filepath.FromSlash(it.RelativeFilePath.OrElse("")))
		if err != nil {
			return err
		}
		if err := filex.MoveFile(src, dst); err != nil {
			return fmt.Errorf("stage attachment %s: %w", it.RecordName, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.swap(dbPath, incoming); err != nil {
		// keep the store usable with whatever database is in place
		if s.db == nil {
			_ = s.open(ctx)
		}
		return err
	}
	return s.open(ctx)
}

// swap closes the connection and installs the restored files. Callers hold mu.
func (s *Store) swap(dbPath, attachments string) error {
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			return fmt.Errorf("close database: %w", err)
		}
		s.db = nil
	}

	for _, suffix := range []string{"-wal", "-shm", "-journal"} {
		_ = os.Remove(s.DatabasePath() + suffix)
	}
	if err := filex.MoveFile(dbPath, s.DatabasePath()); err != nil {
		return fmt.Errorf("install database: %w", err)
	}

	old := s.AttachmentsPath() + ".old-" + uuid.NewString()
	hadOld := true
	if err := os.Rename(s.AttachmentsPath(), old); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("move old attachments: %w", err)
		}
		hadOld = false
	}
	if err := os.Rename(attachments, s.AttachmentsPath()); err != nil {
		if hadOld {
			if rerr := os.Rename(old, s.AttachmentsPath()); rerr != nil {
				return fmt.Errorf("install attachments: %w (old attachments left in %s: %w)", err, old, rerr)
			}
		}
		return fmt.Errorf("install attachments: %w", err)
	}
	_ = os.RemoveAll(old)
	return nil
}
