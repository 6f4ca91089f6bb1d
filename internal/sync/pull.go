package sync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/openmined/dropsync/internal/relpath"
	"github.com/openmined/dropsync/internal/remote"
	"github.com/openmined/dropsync/internal/transfer"
)

func (w *walker) pullDir(ctx context.Context, remoteDir, localDir, rel string) error {
	if err := w.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	dirs, err := w.pullLevel(ctx, remoteDir, localDir, rel)
	w.sem.Release(1)
	if err != nil {
		return err
	}

	w.descend(dirs, func(ctx context.Context, d subdir) error {
		return w.pullDir(ctx, d.remote, d.local, d.rel)
	})
	return nil
}

// localIndex maps lower-cased names of a local directory to their actual
// names.
func localIndex(dir string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	idx := make(map[string]string, len(entries))
	for _, de := range entries {
		idx[strings.ToLower(de.Name())] = de.Name()
	}
	return idx, nil
}

// pullLevel handles the children of one remote folder and returns the
// subdirectories to descend into.
func (w *walker) pullLevel(ctx context.Context, remoteDir, localDir, rel string) ([]subdir, error) {
	listing, err := w.client.List(ctx, remoteDir)
	if err != nil {
		if rel == "" {
			// nothing to pull from
			return nil, err
		}
		return nil, w.fail(rel, err)
	}

	local, err := localIndex(localDir)
	if err != nil {
		return nil, w.fail(rel, &transfer.LocalIOError{Op: "readdir", Path: localDir, Err: err})
	}

	children := append([]*remote.Entry(nil), listing.Contents...)
	sort.Slice(children, func(i, j int) bool { return children[i].Path < children[j].Path })

	var dirs []subdir
	for _, child := range children {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		name, ok := relpath.Rel(remoteDir, child.Path)
		if !ok || name == "" || strings.Contains(name, "/") {
			w.record(Result{Path: path.Join(rel, relpath.Base(child.Path)), Outcome: OutcomeFailed,
				Err: fmt.Errorf("listing of %s returned %s", remoteDir, child.Path)})
			continue
		}
		childRel := path.Join(rel, name)
		if w.ignore.ShouldIgnore(childRel, child.IsDir) {
			w.record(Result{Path: childRel, Outcome: OutcomeIgnored})
			continue
		}

		localName := name
		if actual, ok := local[strings.ToLower(name)]; ok {
			localName = actual
		}
		localPath := filepath.Join(localDir, localName)

		if child.IsDir {
			ok, err := w.pullFolder(localPath, childRel)
			if err != nil {
				return nil, err
			}
			if ok {
				dirs = append(dirs, subdir{local: localPath, remote: child.Path, rel: childRel})
			}
			continue
		}

		if err := w.pullFile(ctx, child, localPath, childRel); err != nil {
			return nil, err
		}
	}

	return dirs, nil
}

// isSymlink reports whether info describes a symbolic link.
func isSymlink(info os.FileInfo) bool {
	return info.Mode()&os.ModeSymlink != 0
}

// keepSymlink records a local symlink that the pull leaves untouched.
func (w *walker) keepSymlink(localPath, rel string) {
	w.record(Result{Path: rel, Outcome: OutcomeFailed,
		Err: &transfer.LocalIOError{Op: "stat", Path: localPath, Err: ErrSymlinkKept}})
}

// pullFolder makes sure localPath is a directory, replacing a plain file of
// the same name. Symlinks are never replaced or followed.
func (w *walker) pullFolder(localPath, rel string) (bool, error) {
	info, err := os.Lstat(localPath)
	switch {
	case err == nil && isSymlink(info):
		w.keepSymlink(localPath, rel)
		return false, nil
	case err == nil && info.IsDir():
		w.record(Result{Path: rel, Outcome: OutcomeExists})
		return true, nil
	case err == nil:
		if err := os.Remove(localPath); err != nil {
			return false, w.fail(rel, &transfer.LocalIOError{Op: "remove", Path: localPath, Err: err})
		}
	case !errors.Is(err, os.ErrNotExist):
		return false, w.fail(rel, &transfer.LocalIOError{Op: "stat", Path: localPath, Err: err})
	}

	if err := os.Mkdir(localPath, 0o755); err != nil {
		return false, w.fail(rel, &transfer.LocalIOError{Op: "mkdir", Path: localPath, Err: err})
	}
	w.record(Result{Path: rel, Outcome: OutcomeCreated})
	return true, nil
}

// pullFile applies the download policy to one remote file. A remote time
// that cannot be read never wins over an existing local file.
func (w *walker) pullFile(ctx context.Context, entry *remote.Entry, localPath, rel string) error {
	info, err := os.Lstat(localPath)
	switch {
	case err == nil && isSymlink(info):
		w.keepSymlink(localPath, rel)
		return nil
	case err == nil && info.IsDir():
		if err := os.RemoveAll(localPath); err != nil {
			return w.fail(rel, &transfer.LocalIOError{Op: "remove", Path: localPath, Err: err})
		}
	case err == nil:
		remoteMod, perr := entry.ModifiedUnix()
		if perr != nil {
			w.record(Result{Path: rel, Outcome: OutcomeSkippedNewerLocal,
				Reason: fmt.Sprintf("remote time %q unreadable", entry.Modified)})
			return nil
		}
		if info.ModTime().Unix() > remoteMod {
			if info.Size() >= entry.Bytes {
				w.record(Result{Path: rel, Outcome: OutcomeSkippedNewerLocal})
			} else {
				w.record(Result{Path: rel, Outcome: OutcomeSkippedIncomplete, Reason: "local newer but smaller"})
			}
			return nil
		}
	case !errors.Is(err, os.ErrNotExist):
		return w.fail(rel, &transfer.LocalIOError{Op: "stat", Path: localPath, Err: err})
	}

	got, err := w.client.Get(ctx, entry.Path, localPath)
	if err != nil {
		return w.fail(rel, err)
	}
	w.record(Result{Path: rel, Outcome: OutcomeTransferred, Bytes: got.Bytes})
	return nil
}
