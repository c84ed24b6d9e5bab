package backupio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dmitrijs2005/gophbackup/internal/common"
	"github.com/dmitrijs2005/gophbackup/internal/filex"
)

// FSStore keeps blobs as files below a root directory. Used for local
// backups and in tests.
type FSStore struct {
	root string
}

func NewFSStore(root string) (*FSStore, error) {
	if err := filex.EnsureDir(root); err != nil {
		return nil, err
	}
	return &FSStore{root: root}, nil
}

func (s *FSStore) path(key string) (string, error) {
	return filex.SafeJoin(s.root, filepath.FromSlash(key))
}

func (s *FSStore) Put(ctx context.Context, key string, body io.ReadSeeker, size int64) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := filex.EnsureDir(filepath.Dir(p)); err != nil {
		return err
	}

	// write next to the target and rename, so readers never see a partial blob
	tmp, err := os.CreateTemp(filepath.Dir(p), ".put-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, &ctxReader{ctx: ctx, r: body}); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), p)
}

func (s *FSStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", common.ErrorNotFound, key)
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}
