// Package services contains the host-side application services of
// gophbackup. BackupService drives export and restore jobs: it acts as the
// jobs' delegate, supplies the manifest key, reports progress, and records
// every run in the history database.
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophbackup/internal/backup"
	"github.com/dmitrijs2005/gophbackup/internal/cryptox"
	"github.com/dmitrijs2005/gophbackup/internal/history"
	"github.com/dmitrijs2005/gophbackup/internal/logging"
)

// ProgressFunc receives job progress. It runs on the job dispatcher and
// must not block for long.
type ProgressFunc func(kind backup.Kind, description backup.Optional[string], progress backup.Optional[float64])

// Result summarizes a finished job.
type Result struct {
	JobID              string
	Kind               backup.Kind
	State              backup.State
	ManifestRecordName string
	DatabaseItems      int
	AttachmentItems    int
	KeyFingerprint     string

	// GeneratedKey is set when the export had no key configured and the job
	// created one. It is the only way to restore that backup.
	GeneratedKey []byte
}

// BackupService runs backups for one data store.
//
// Export and Restore block until the job is terminal. A cancelled job
// (including one whose ctx ended) returns backup.ErrCancelled.
type BackupService interface {
	Export(ctx context.Context) (*Result, error)
	Restore(ctx context.Context) (*Result, error)
	History(ctx context.Context, limit int) ([]*history.Record, error)
}

type backupService struct {
	storage    backup.Storage
	io         backup.BackupIO
	history    history.Repository
	logger     logging.Logger
	key        []byte
	opts       backup.Options
	onProgress ProgressFunc
	now        func() time.Time
}

// Deps groups what NewBackupService needs. Key may be nil for exports, in
// which case the job generates one.
type Deps struct {
	Storage    backup.Storage
	IO         backup.BackupIO
	History    history.Repository
	Logger     logging.Logger
	Key        []byte
	Options    backup.Options
	OnProgress ProgressFunc
}

func NewBackupService(d Deps) BackupService {
	logger := d.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	opts := d.Options
	if opts.Logger == nil {
		opts.Logger = logger
	}
	return &backupService{
		storage:    d.Storage,
		io:         d.IO,
		history:    d.History,
		logger:     logger,
		key:        d.Key,
		opts:       opts,
		onProgress: d.OnProgress,
		now:        time.Now,
	}
}

// DeriveKey turns a passphrase into the manifest key.
func DeriveKey(passphrase, salt string) []byte {
	return cryptox.DeriveMasterKey([]byte(passphrase), []byte(salt))
}

// jobDelegate adapts one job's callbacks to the service.
type jobDelegate struct {
	svc     *backupService
	kind    backup.Kind
	outcome chan error
}

func newJobDelegate(svc *backupService, kind backup.Kind) *jobDelegate {
	return &jobDelegate{svc: svc, kind: kind, outcome: make(chan error, 1)}
}

func (d *jobDelegate) BackupEncryptionKey() []byte {
	return d.svc.key
}

func (d *jobDelegate) BackupJobDidSucceed(job *backup.Job) {
	d.outcome <- nil
}

func (d *jobDelegate) BackupJobDidFail(job *backup.Job, err error) {
	d.outcome <- err
}

func (d *jobDelegate) BackupJobDidUpdate(job *backup.Job, description backup.Optional[string], progress backup.Optional[float64]) {
	d.svc.logger.Debug(context.Background(), "backup progress",
		"job_id", job.ID(), "description", description.OrElse(""), "progress", progress.OrElse(-1))
	if d.svc.onProgress != nil {
		d.svc.onProgress(d.kind, description, progress)
	}
}

// wait blocks until job is terminal and returns the delivered outcome.
func (d *jobDelegate) wait(job *backup.Job) error {
	var err error
	select {
	case err = <-d.outcome:
	case <-job.Done():
		if job.State() == backup.StateCancelled {
			return backup.ErrCancelled
		}
		// the terminal callback is queued behind Done
		err = <-d.outcome
	}
	<-job.Done()
	return err
}

func (s *backupService) keyFingerprint() string {
	if s.key == nil {
		return ""
	}
	return cryptox.Fingerprint(s.key)
}

func (s *backupService) begin(ctx context.Context, job *backup.Job) {
	if s.history == nil {
		return
	}
	rec := &history.Record{
		ID:             job.ID(),
		Kind:           string(job.Kind()),
		State:          backup.StateRunning.String(),
		KeyFingerprint: s.keyFingerprint(),
		StartedAt:      s.now(),
	}
	// recorded even when ctx is already cancelled
	if err := s.history.Start(context.WithoutCancel(ctx), rec); err != nil {
		s.logger.Warn(ctx, "failed to record job start", "job_id", job.ID(), "error", err)
	}
}

func (s *backupService) finish(res *Result, jobErr error) {
	if s.history == nil {
		return
	}
	rec := &history.Record{
		ID:              res.JobID,
		State:           res.State.String(),
		ManifestRecord:  res.ManifestRecordName,
		DatabaseItems:   res.DatabaseItems,
		AttachmentItems: res.AttachmentItems,
		KeyFingerprint:  res.KeyFingerprint,
	}
	if jobErr != nil {
		rec.Error = jobErr.Error()
	}
	finished := s.now()
	rec.FinishedAt = &finished

	// the caller's ctx may be the reason the job ended
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.history.Finish(ctx, rec); err != nil {
		s.logger.Warn(ctx, "failed to record job outcome", "job_id", res.JobID, "error", err)
	}
}

func countItems(res *Result, m *backup.ManifestContents) {
	if m == nil {
		return
	}
	res.DatabaseItems = len(m.DatabaseItems)
	res.AttachmentItems = len(m.AttachmentItems)
}

func (s *backupService) Export(ctx context.Context) (*Result, error) {
	d := newJobDelegate(s, backup.KindExport)
	job := backup.NewExportJob(d, s.storage, s.io, s.opts)

	s.begin(ctx, job.Job)
	s.logger.Info(ctx, "export starting", "job_id", job.ID())

	// start failures also surface through the delegate or as cancellation
	_ = job.Start(ctx)
	jobErr := d.wait(job.Job)

	res := &Result{
		JobID:              job.ID(),
		Kind:               backup.KindExport,
		State:              job.State(),
		ManifestRecordName: job.ManifestRecordName(),
		KeyFingerprint:     s.keyFingerprint(),
	}
	countItems(res, job.Manifest())
	if s.key == nil && jobErr == nil {
		res.GeneratedKey = job.EncryptionKey()
		res.KeyFingerprint = cryptox.Fingerprint(res.GeneratedKey)
	}
	s.finish(res, jobErr)

	if jobErr != nil {
		return res, fmt.Errorf("export %s: %w", job.ID(), jobErr)
	}
	s.logger.Info(ctx, "export finished", "job_id", job.ID(),
		"database_items", res.DatabaseItems, "attachment_items", res.AttachmentItems)
	return res, nil
}

func (s *backupService) Restore(ctx context.Context) (*Result, error) {
	d := newJobDelegate(s, backup.KindRestore)
	job := backup.NewRestoreJob(d, s.storage, s.io, s.opts)

	s.begin(ctx, job.Job)
	s.logger.Info(ctx, "restore starting", "job_id", job.ID())

	// start failures also surface through the delegate or as cancellation
	_ = job.Start(ctx)
	jobErr := d.wait(job.Job)

	res := &Result{
		JobID:          job.ID(),
		Kind:           backup.KindRestore,
		State:          job.State(),
		KeyFingerprint: s.keyFingerprint(),
	}
	countItems(res, job.Manifest())
	s.finish(res, jobErr)

	if jobErr != nil {
		return res, fmt.Errorf("restore %s: %w", job.ID(), jobErr)
	}
	s.logger.Info(ctx, "restore finished", "job_id", job.ID(),
		"database_items", res.DatabaseItems, "attachment_items", res.AttachmentItems)
	return res, nil
}

func (s *backupService) History(ctx context.Context, limit int) ([]*history.Record, error) {
	if s.history == nil {
		return nil, nil
	}
	return s.history.List(ctx, limit)
}
