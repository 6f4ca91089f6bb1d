// Package sync implements additive directory synchronization between a local
// tree and the remote store, in either direction. A walk only creates and
// updates entries on the destination, it never deletes anything that exists
// solely on one side.
//
// Each directory level costs one remote listing. Sibling subtrees are walked
// in parallel, bounded by the engine's concurrency, and a directory's children
// are only visited after the directory itself has been listed and created.
package sync

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/openmined/dropsync/internal/relpath"
	"github.com/openmined/dropsync/internal/transfer"
	"github.com/openmined/dropsync/internal/utils"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const DefaultConcurrency = 4

var (
	ErrLocked = errors.New("sync: another sync of this folder is running")
	// ErrSymlinkLoop is a local directory link that leads back to one of its
	// own ancestors.
	ErrSymlinkLoop = errors.New("symlink loops back to an ancestor directory")
	// ErrSymlinkKept is a local symlink that a pull would have to replace.
	ErrSymlinkKept = errors.New("local symlink left in place")
)

type Option func(*Engine)

func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithLockDir enables per local root locking using lock files in dir.
func WithLockDir(dir string) Option {
	return func(e *Engine) {
		e.lockDir = dir
	}
}

func WithReporter(r Reporter) Option {
	return func(e *Engine) {
		e.reporter = r
	}
}

type Engine struct {
	client      *transfer.Client
	concurrency int
	lockDir     string
	reporter    Reporter
}

func NewEngine(client *transfer.Client, opts ...Option) *Engine {
	e := &Engine{
		client:      client,
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// PushLocal adds the local tree at localRoot to the remote folder remoteRoot.
// The returned error is set only for failures that abort the walk: not being
// logged in, the store running out of space, or ctx ending. The report is
// returned in every case.
func (e *Engine) PushLocal(ctx context.Context, localRoot, remoteRoot string) (*Report, error) {
	return e.run(ctx, DirectionPush, localRoot, func(w *walker) error {
		return w.pushDir(w.ctx, localRoot, relpath.Remote(remoteRoot), "", nil)
	})
}

// PullRemote adds the remote folder remoteRoot to the local tree at
// localRoot, with the same error contract as PushLocal.
func (e *Engine) PullRemote(ctx context.Context, remoteRoot, localRoot string) (*Report, error) {
	return e.run(ctx, DirectionPull, localRoot, func(w *walker) error {
		if err := utils.EnsureDir(localRoot); err != nil {
			return &transfer.LocalIOError{Op: "mkdir", Path: localRoot, Err: err}
		}
		return w.pullDir(w.ctx, relpath.Remote(remoteRoot), localRoot, "")
	})
}

func (e *Engine) run(ctx context.Context, dir Direction, localRoot string, walk func(*walker) error) (*Report, error) {
	report := newReport(dir)
	defer report.finish()

	if !e.client.Session().LoggedIn() {
		return report, transfer.ErrNotAuthenticated
	}

	unlock, err := e.lock(localRoot)
	if err != nil {
		return report, err
	}
	defer unlock()

	ignore := NewIgnoreList(localRoot)
	ignore.Load()

	g, gctx := errgroup.WithContext(ctx)
	w := &walker{
		ctx:      gctx,
		client:   e.client,
		report:   report,
		reporter: e.reporter,
		ignore:   ignore,
		sem:      semaphore.NewWeighted(int64(e.concurrency)),
		group:    g,
	}

	slog.Info("sync start", "direction", dir, "local", localRoot, "concurrency", e.concurrency)
	g.Go(func() error { return walk(w) })
	err = g.Wait()

	report.finish()
	if err != nil {
		slog.Error("sync aborted", "direction", dir, "local", localRoot, "error", err)
		return report, err
	}
	slog.Info("sync done", "summary", report.Summary())
	return report, nil
}

// lock takes the lock file of localRoot. Without a lock dir it is a no-op.
func (e *Engine) lock(localRoot string) (func(), error) {
	if e.lockDir == "" {
		return func() {}, nil
	}
	if err := utils.EnsureDir(e.lockDir); err != nil {
		return nil, fmt.Errorf("sync: lock dir: %w", err)
	}

	abs, err := filepath.Abs(localRoot)
	if err != nil {
		return nil, err
	}
	sum := sha1.Sum([]byte(abs))
	fl := flock.New(filepath.Join(e.lockDir, hex.EncodeToString(sum[:])+".lock"))

	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("sync: lock %s: %w", localRoot, err)
	}
	if !locked {
		return nil, ErrLocked
	}

	return func() {
		if err := fl.Unlock(); err != nil {
			slog.Warn("sync unlock", "path", fl.Path(), "error", err)
		}
	}, nil
}

// walker is the state of one walk.
type walker struct {
	ctx      context.Context
	client   *transfer.Client
	report   *Report
	reporter Reporter
	ignore   *IgnoreList
	sem      *semaphore.Weighted
	group    *errgroup.Group
}

// subdir is a directory whose children are still to be visited.
type subdir struct {
	local  string
	remote string
	rel    string
	chain  []os.FileInfo
}

// record stores res and hands it to the reporter.
func (w *walker) record(res Result) {
	w.report.add(res)
	if w.reporter != nil {
		w.reporter(res)
	}
	if res.Outcome == OutcomeFailed {
		slog.Warn("sync entry failed", "path", res.Path, "error", res.Err)
	} else {
		slog.Debug("sync entry", "path", res.Path, "outcome", res.Outcome)
	}
}

// fail records a failed entry, or returns err when it must end the walk.
func (w *walker) fail(rel string, err error) error {
	if transfer.IsFatal(err) {
		return err
	}
	w.record(Result{Path: displayPath(rel), Outcome: OutcomeFailed, Err: err})
	return nil
}

// descend visits every subdirectory in its own goroutine.
func (w *walker) descend(dirs []subdir, visit func(context.Context, subdir) error) {
	for _, d := range dirs {
		w.group.Go(func() error { return visit(w.ctx, d) })
	}
}

func displayPath(rel string) string {
	if rel == "" {
		return "."
	}
	return rel
}
