package backupio

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dmitrijs2005/gophbackup/internal/backup"
	"github.com/dmitrijs2005/gophbackup/internal/cryptox"
	"github.com/dmitrijs2005/gophbackup/internal/logging"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

// DefaultManifestName is the key the manifest is stored under.
const DefaultManifestName = "manifest.enc"

type Service struct {
	store        RemoteStore
	manifestName string
	logger       logging.Logger
	now          func() time.Time
}

var _ backup.BackupIO = (*Service)(nil)

func NewService(store RemoteStore, manifestName string, logger logging.Logger) *Service {
	if manifestName == "" {
		manifestName = DefaultManifestName
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Service{
		store:        store,
		manifestName: manifestName,
		logger:       logger,
		now:          time.Now,
	}
}

// newRecordName returns a fresh date-partitioned key, e.g.
// records/2025/3/14/<uuid>.
func (s *Service) newRecordName() string {
	d := s.now()
	return fmt.Sprintf("records/%d/%d/%d/%v", d.Year(), d.Month(), d.Day(), uuid.New())
}

func (s *Service) EncryptFile(ctx context.Context, src, dst string, key []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return cryptox.EncryptFile(src, dst, key)
}

func (s *Service) DecryptFile(ctx context.Context, src, dst string, key []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return cryptox.DecryptFile(src, dst, key)
}

// CompressFile writes a zstd stream of src to dst and returns src's size.
func (s *Service) CompressFile(ctx context.Context, src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	enc, err := zstd.NewWriter(out)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(enc, &ctxReader{ctx: ctx, r: in})
	if err != nil {
		enc.Close()
		return 0, fmt.Errorf("compress %s: %w", src, err)
	}
	if err := enc.Close(); err != nil {
		return 0, fmt.Errorf("compress %s: %w", src, err)
	}
	return n, out.Close()
}

func (s *Service) DecompressFile(ctx context.Context, src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	dec, err := zstd.NewReader(in)
	if err != nil {
		return fmt.Errorf("decompress %s: %w", src, err)
	}
	defer dec.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, &ctxReader{ctx: ctx, r: dec}); err != nil {
		return fmt.Errorf("decompress %s: %w", src, err)
	}
	return out.Close()
}

func (s *Service) put(ctx context.Context, key, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return err
	}
	return s.store.Put(ctx, key, f, fi.Size())
}

func (s *Service) get(ctx context.Context, key, dst string) error {
	body, err := s.store.Get(ctx, key)
	if err != nil {
		return err
	}
	defer body.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, &ctxReader{ctx: ctx, r: body}); err != nil {
		return fmt.Errorf("download %s: %w", key, err)
	}
	return out.Close()
}

func (s *Service) UploadFile(ctx context.Context, path string) (string, error) {
	name := s.newRecordName()
	if err := s.put(ctx, name, path); err != nil {
		return "", err
	}
	s.logger.Debug(ctx, "record uploaded", "record_name", name)
	return name, nil
}

func (s *Service) DownloadFile(ctx context.Context, recordName, dst string) error {
	return s.get(ctx, recordName, dst)
}

func (s *Service) UploadManifest(ctx context.Context, path string) (string, error) {
	if err := s.put(ctx, s.manifestName, path); err != nil {
		return "", err
	}
	s.logger.Info(ctx, "manifest uploaded", "record_name", s.manifestName)
	return s.manifestName, nil
}

func (s *Service) DownloadManifest(ctx context.Context, dst string) error {
	return s.get(ctx, s.manifestName, dst)
}
