package sync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/openmined/dropsync/internal/relpath"
	"github.com/openmined/dropsync/internal/remote"
	"github.com/openmined/dropsync/internal/transfer"
)

// catalog indexes one remote listing by lower-cased path.
type catalog struct {
	dirs  map[string]*remote.Entry
	files map[string]*remote.Entry
}

func newCatalog(listing *remote.Entry) *catalog {
	c := &catalog{
		dirs:  make(map[string]*remote.Entry),
		files: make(map[string]*remote.Entry),
	}
	if listing == nil {
		return c
	}
	for _, child := range listing.Contents {
		if child.IsDir {
			c.dirs[relpath.Key(child.Path)] = child
		} else {
			c.files[relpath.Key(child.Path)] = child
		}
	}
	return c
}

// pushDir pushes one local directory and schedules its subdirectories.
// chain holds the directories from the walk root down to localDir and is
// used to refuse symlinks that lead back into it.
func (w *walker) pushDir(ctx context.Context, localDir, remoteDir, rel string, chain []os.FileInfo) error {
	if err := w.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	dirs, err := w.pushLevel(ctx, localDir, remoteDir, rel, chain)
	w.sem.Release(1)
	if err != nil {
		return err
	}

	w.descend(dirs, func(ctx context.Context, d subdir) error {
		return w.pushDir(ctx, d.local, d.remote, d.rel, d.chain)
	})
	return nil
}

// loops reports whether info is one of the directories in chain.
func loops(chain []os.FileInfo, info os.FileInfo) bool {
	for _, dir := range chain {
		if os.SameFile(dir, info) {
			return true
		}
	}
	return false
}

// pushLevel handles the entries of one local directory and returns the
// subdirectories to descend into.
func (w *walker) pushLevel(ctx context.Context, localDir, remoteDir, rel string, chain []os.FileInfo) ([]subdir, error) {
	if len(chain) == 0 {
		info, err := os.Stat(localDir)
		if err != nil {
			return nil, w.fail(rel, &transfer.LocalIOError{Op: "stat", Path: localDir, Err: err})
		}
		chain = []os.FileInfo{info}
	}

	entries, err := os.ReadDir(localDir)
	if err != nil {
		return nil, w.fail(rel, &transfer.LocalIOError{Op: "readdir", Path: localDir, Err: err})
	}

	listing, err := w.client.List(ctx, remoteDir)
	switch {
	case errors.Is(err, remote.ErrNotFound) && rel == "":
		if _, err := w.client.Mkdir(ctx, remoteDir); err != nil && !errors.Is(err, remote.ErrAlreadyExists) {
			return nil, w.fail(rel, err)
		}
		listing = nil
	case errors.Is(err, remote.ErrNotFound):
		listing = nil
	case err != nil:
		return nil, w.fail(rel, err)
	}
	remoteFiles := newCatalog(listing)
	seen := mapset.NewThreadUnsafeSet[string]()

	var dirs []subdir
	for _, de := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		name := de.Name()
		childRel := path.Join(rel, name)
		if w.ignore.ShouldIgnore(childRel, de.IsDir()) {
			w.record(Result{Path: childRel, Outcome: OutcomeIgnored})
			continue
		}

		localPath := filepath.Join(localDir, name)
		remotePath := relpath.Remote(remoteDir, name)
		key := relpath.Key(remotePath)
		if !seen.Add(key) {
			w.record(Result{Path: childRel, Outcome: OutcomeFailed,
				Err: fmt.Errorf("%s differs from another local entry only by case", name)})
			continue
		}

		// follows symlinks
		info, err := os.Stat(localPath)
		if err != nil {
			if err := w.fail(childRel, &transfer.LocalIOError{Op: "stat", Path: localPath, Err: err}); err != nil {
				return nil, err
			}
			continue
		}

		if info.IsDir() {
			if loops(chain, info) {
				w.record(Result{Path: childRel, Outcome: OutcomeFailed,
					Err: &transfer.LocalIOError{Op: "stat", Path: localPath, Err: ErrSymlinkLoop}})
				continue
			}
			target, ok, err := w.pushFolder(ctx, remotePath, childRel, remoteFiles.dirs[key], remoteFiles.files[key])
			if err != nil {
				return nil, err
			}
			if ok {
				dirs = append(dirs, subdir{local: localPath, remote: target, rel: childRel,
					chain: append(chain[:len(chain):len(chain)], info)})
			}
			continue
		}

		if !info.Mode().IsRegular() {
			w.record(Result{Path: childRel, Outcome: OutcomeFailed,
				Err: &transfer.LocalIOError{Op: "stat", Path: localPath, Err: fs.ErrInvalid}})
			continue
		}

		if err := w.pushFile(ctx, localPath, remotePath, childRel, info, remoteFiles.files[key]); err != nil {
			return nil, err
		}
	}

	return dirs, nil
}

// pushFolder makes sure the remote folder exists. It returns the remote path
// to descend into and whether to descend at all.
func (w *walker) pushFolder(ctx context.Context, remotePath, rel string, existing, clash *remote.Entry) (string, bool, error) {
	if existing != nil {
		w.record(Result{Path: rel, Outcome: OutcomeExists})
		return existing.Path, true, nil
	}
	if clash != nil {
		w.record(Result{Path: rel, Outcome: OutcomeFailed,
			Err: fmt.Errorf("remote %s is a file", clash.Path)})
		return "", false, nil
	}

	created, err := w.client.Mkdir(ctx, remotePath)
	switch {
	case errors.Is(err, remote.ErrAlreadyExists):
		w.record(Result{Path: rel, Outcome: OutcomeExists})
		return remotePath, true, nil
	case err != nil:
		return "", false, w.fail(rel, err)
	}

	w.record(Result{Path: rel, Outcome: OutcomeCreated})
	return created.Path, true, nil
}

// pushFile applies the upload policy to one local file against its remote
// counterpart, if any.
func (w *walker) pushFile(ctx context.Context, localPath, remotePath, rel string, info os.FileInfo, existing *remote.Entry) error {
	size := info.Size()
	opts := remote.PutOptions{}

	if existing != nil {
		remotePath = existing.Path
		opts = remote.PutOptions{Overwrite: true, ParentRev: existing.Rev}

		remoteMod, err := existing.ModifiedUnix()
		if err != nil {
			// unparseable times never win over the local copy
			remoteMod = 0
		}
		if remoteMod > info.ModTime().Unix() {
			switch {
			case existing.Bytes == size:
				w.record(Result{Path: rel, Outcome: OutcomeSkippedNewerRemote})
				return nil
			case existing.Bytes > size:
				w.record(Result{Path: rel, Outcome: OutcomeSkippedIncomplete, Reason: "remote newer and larger"})
				return nil
			}
			// remote newer but smaller: an earlier upload did not finish
		}
	}

	entry, err := w.client.Upload(ctx, localPath, remotePath, opts)
	if err != nil {
		return w.fail(rel, err)
	}
	w.record(Result{Path: rel, Outcome: OutcomeTransferred, Bytes: entry.Bytes})
	return nil
}
