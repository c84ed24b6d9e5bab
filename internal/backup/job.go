package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/dmitrijs2005/gophbackup/internal/common"
	"github.com/dmitrijs2005/gophbackup/internal/cryptox"
	"github.com/dmitrijs2005/gophbackup/internal/filex"
	"github.com/dmitrijs2005/gophbackup/internal/logging"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	defaultParallelism = 4
	tempDirPrefix      = "gophbackup-"
)

// State is a job's lifecycle state.
type State int32

const (
	StateNotStarted State = iota
	StateRunning
	StateSucceeded
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateRunning:
		return "running"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// IsTerminal reports whether s is Succeeded, Failed or Cancelled.
func (s State) IsTerminal() bool {
	return s >= StateSucceeded
}

// Kind tells export and restore jobs apart in logs and history.
type Kind string

const (
	KindExport  Kind = "export"
	KindRestore Kind = "restore"
)

// Options tune a job. The zero value is usable.
type Options struct {
	// TempRoot is the parent of the job's staging directory. Defaults to
	// os.TempDir().
	TempRoot string

	// Parallelism bounds concurrent item transfers. Defaults to 4.
	Parallelism int

	// Compress enables compression of database files on export.
	Compress bool

	// Dispatcher runs delegate callbacks. Defaults to DefaultDispatcher().
	Dispatcher Dispatcher

	Logger logging.Logger
}

// Job carries the lifecycle shared by ExportJob and RestoreJob.
type Job struct {
	id      string
	kind    Kind
	storage Storage
	io      BackupIO
	opts    Options
	logger  logging.Logger

	delegateMu sync.RWMutex
	delegate   Delegate

	// mu orders state transitions with the callbacks they enqueue, so no
	// progress callback can be queued behind a terminal one.
	mu    sync.Mutex
	state atomic.Int32
	err   error

	ctx    context.Context
	cancel context.CancelFunc

	tempMu      sync.Mutex
	tempDirPath string
	tempRemoved bool

	keyMu    sync.Mutex
	key      []byte
	keyOwned bool

	runner    sync.WaitGroup
	finalized sync.Once
	done      chan struct{}
}

func newJob(kind Kind, delegate Delegate, storage Storage, bio BackupIO, opts Options) *Job {
	if opts.TempRoot == "" {
		opts.TempRoot = os.TempDir()
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = defaultParallelism
	}
	if opts.Dispatcher == nil {
		opts.Dispatcher = DefaultDispatcher()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}

	id := uuid.NewString()
	j := &Job{
		id:          id,
		kind:        kind,
		storage:     storage,
		io:          bio,
		opts:        opts,
		logger:      opts.Logger.With("job_id", id, "kind", string(kind)),
		delegate:    delegate,
		tempDirPath: filex.UniqueSubDir(opts.TempRoot, tempDirPrefix),
		done:        make(chan struct{}),
	}
	j.ctx, j.cancel = context.WithCancel(context.Background())
	return j
}

func (j *Job) ID() string { return j.id }

func (j *Job) Kind() Kind { return j.kind }

func (j *Job) State() State {
	return State(j.state.Load())
}

// IsComplete reports whether the job succeeded, failed or was cancelled.
func (j *Job) IsComplete() bool {
	return j.State().IsTerminal()
}

// Err returns the error the job failed with, or nil.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// Done is closed once the job is terminal, its worker has exited and its
// staging directory has been removed.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until Done is closed or ctx ends.
func (j *Job) Wait(ctx context.Context) error {
	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Delegate returns the current delegate, or nil once it was detached.
func (j *Job) Delegate() Delegate {
	j.delegateMu.RLock()
	defer j.delegateMu.RUnlock()
	return j.delegate
}

// DetachDelegate drops the job's reference to its delegate. Callbacks that
// have not run yet become no-ops. Hosts call it when the delegate goes away
// before the job finishes.
func (j *Job) DetachDelegate() {
	j.delegateMu.Lock()
	j.delegate = nil
	j.delegateMu.Unlock()
}

// JobTempDirPath is the job's staging directory. It exists only between
// EnsureJobTempDir and the job's terminal transition.
func (j *Job) JobTempDirPath() string {
	j.tempMu.Lock()
	defer j.tempMu.Unlock()
	return j.tempDirPath
}

// EnsureJobTempDir creates the staging directory if needed. Once the job
// has finalized the directory is gone for good and ErrJobComplete is
// returned.
func (j *Job) EnsureJobTempDir() (string, error) {
	j.tempMu.Lock()
	defer j.tempMu.Unlock()

	if j.tempRemoved {
		return "", ErrJobComplete
	}
	if err := filex.EnsureDir(j.tempDirPath); err != nil {
		return "", fmt.Errorf("%w: %w", ErrTempDirCreationFailed, err)
	}
	return j.tempDirPath, nil
}

// EncryptionKey returns the manifest key: the delegate's key, or the one the
// job generated when the delegate had none. Nil before it is first needed.
func (j *Job) EncryptionKey() []byte {
	j.keyMu.Lock()
	defer j.keyMu.Unlock()
	return append([]byte(nil), j.key...)
}

func (j *Job) delegateKey() []byte {
	d := j.Delegate()
	if d == nil {
		return nil
	}
	return d.BackupEncryptionKey()
}

// manifestKey resolves the manifest key once per job. When generate is set
// and the delegate supplies none, a fresh key is created and owned by the job.
func (j *Job) manifestKey(generate bool) ([]byte, error) {
	j.keyMu.Lock()
	defer j.keyMu.Unlock()

	if j.key != nil {
		return j.key, nil
	}

	key := j.delegateKey()
	if key == nil {
		if !generate {
			return nil, errors.New("no backup encryption key")
		}
		key = cryptox.GenerateKey()
		j.keyOwned = true
		j.logger.Info(j.ctx, "generated backup encryption key", "fingerprint", cryptox.Fingerprint(key))
	}
	if err := cryptox.ValidateKey(key); err != nil {
		return nil, err
	}

	j.key = append([]byte(nil), key...)
	return j.key, nil
}

// start moves the job to Running, creates its staging directory and runs fn
// on a new goroutine. The parent context only bounds the job: when it ends
// the job is cancelled.
func (j *Job) start(parent context.Context, fn func(ctx context.Context) error) error {
	j.mu.Lock()
	if !j.state.CompareAndSwap(int32(StateNotStarted), int32(StateRunning)) {
		st := j.State()
		j.mu.Unlock()
		if st == StateCancelled {
			return ErrCancelled
		}
		return ErrJobAlreadyStarted
	}
	j.runner.Add(1)
	j.mu.Unlock()

	if parent.Err() != nil {
		j.Cancel()
		j.runner.Done()
		return ErrCancelled
	}

	j.logger.Info(j.ctx, "backup job started", "temp_dir", j.JobTempDirPath())

	if _, err := j.EnsureJobTempDir(); err != nil {
		j.FailWithError(err)
		j.runner.Done()
		return err
	}

	stop := context.AfterFunc(parent, j.Cancel)

	go func() {
		defer j.runner.Done()
		defer stop()

		err := fn(j.ctx)
		switch {
		case err == nil:
			j.Succeed()
		case j.ctx.Err() != nil || errors.Is(err, ErrCancelled):
			j.Cancel()
		default:
			j.FailWithError(err)
		}
	}()

	return nil
}

// transition moves a job into a terminal state. Only the first caller wins;
// the winner's notify runs on the dispatcher.
func (j *Job) transition(to State, err error, notify func(d Delegate)) bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	from := j.State()
	switch {
	case from == StateRunning:
	case from == StateNotStarted && to == StateCancelled:
	default:
		return false
	}
	if !j.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}

	j.err = err
	j.cancel()
	if notify != nil {
		j.dispatch(notify)
	}

	go j.finalize()
	return true
}

// finalize waits for the worker, then removes the staging directory.
func (j *Job) finalize() {
	j.finalized.Do(func() {
		j.runner.Wait()

		j.tempMu.Lock()
		if err := os.RemoveAll(j.tempDirPath); err != nil {
			j.logger.Warn(context.Background(), "failed to remove job temp dir", "path", j.tempDirPath, "error", err)
		}
		j.tempRemoved = true
		j.tempMu.Unlock()

		// a generated key stays readable through EncryptionKey; a copy of
		// the delegate's key is not needed past this point
		j.keyMu.Lock()
		if !j.keyOwned {
			common.WipeByteArray(j.key)
			j.key = nil
		}
		j.keyMu.Unlock()

		close(j.done)
	})
}

func (j *Job) dispatch(fn func(d Delegate)) {
	j.opts.Dispatcher.Dispatch(func() {
		d := j.Delegate()
		if d == nil {
			return
		}
		fn(d)
	})
}

// Succeed completes a running job and notifies the delegate once.
func (j *Job) Succeed() {
	if j.transition(StateSucceeded, nil, func(d Delegate) { d.BackupJobDidSucceed(j) }) {
		j.logger.Info(context.Background(), "backup job succeeded")
	}
}

// FailWithError completes a running job with err and notifies the delegate
// once.
func (j *Job) FailWithError(err error) {
	if err == nil {
		err = ErrJobFailed
	}
	if j.transition(StateFailed, err, func(d Delegate) { d.BackupJobDidFail(j, err) }) {
		j.logger.Error(context.Background(), "backup job failed", "error", err)
	}
}

// FailWithErrorDescription fails the job with a generic ErrJobFailed error
// carrying description.
func (j *Job) FailWithErrorDescription(description string) {
	j.FailWithError(fmt.Errorf("%w: %s", ErrJobFailed, description))
}

// Cancel stops the job without notifying the delegate. It is safe to call
// from any goroutine at any time, including before Start.
func (j *Job) Cancel() {
	if j.transition(StateCancelled, ErrCancelled, nil) {
		j.logger.Info(context.Background(), "backup job cancelled")
	}
}

// UpdateProgress forwards a progress report to the delegate while the job is
// running. progress is clamped to [0, 1].
func (j *Job) UpdateProgress(description Optional[string], progress Optional[float64]) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.State() != StateRunning {
		return
	}
	if p, ok := progress.Get(); ok {
		progress = Some(min(max(p, 0), 1))
	}
	j.dispatch(func(d Delegate) { d.BackupJobDidUpdate(j, description, progress) })
}

// checkCancelled samples cancellation at a step boundary.
func (j *Job) checkCancelled(ctx context.Context) error {
	if ctx.Err() != nil || j.State() == StateCancelled {
		return ErrCancelled
	}
	return nil
}

// forEachItem runs fn for indexes 0..n-1 with bounded parallelism and stops
// scheduling at the first error or cancellation.
func (j *Job) forEachItem(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.opts.Parallelism)

	for i := 0; i < n; i++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := j.checkCancelled(gctx); err != nil {
				return err
			}
			return fn(gctx, i)
		})
	}

	if err := g.Wait(); err != nil {
		if j.checkCancelled(ctx) != nil {
			return ErrCancelled
		}
		return err
	}
	return j.checkCancelled(ctx)
}

// progressCounter reports one progress update per finished item.
type progressCounter struct {
	job         *Job
	description string
	total       int
	done        atomic.Int64
}

func (p *progressCounter) itemDone() {
	n := p.done.Add(1)
	fraction := 1.0
	if p.total > 0 {
		fraction = float64(n) / float64(p.total)
	}
	p.job.UpdateProgress(Some(p.description), Some(fraction))
}
