package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/openmined/dropsync/internal/remote"
	"github.com/openmined/dropsync/internal/utils"
)

const minBuffer = 32 << 10

// Get downloads remotePath into localPath, replacing it. The file is written
// to a temporary sibling and renamed once its size matches the metadata.
// A short download fails with ErrIntegrityMismatch and is retried.
func (c *Client) Get(ctx context.Context, remotePath, localPath string) (*remote.Entry, error) {
	return Execute(ctx, c.session, c.idempotent, func(ctx context.Context, store remote.Store) (*remote.Entry, error) {
		return c.download(ctx, store, remotePath, localPath)
	})
}

func (c *Client) download(ctx context.Context, store remote.Store, remotePath, localPath string) (*remote.Entry, error) {
	body, entry, err := store.GetFile(ctx, remotePath)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	if err := utils.EnsureParent(localPath); err != nil {
		return nil, &LocalIOError{Op: "mkdir", Path: filepath.Dir(localPath), Err: err}
	}

	tmp, err := os.CreateTemp(filepath.Dir(localPath), "."+filepath.Base(localPath)+".dropsync-*")
	if err != nil {
		return nil, &LocalIOError{Op: "create", Path: localPath, Err: err}
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	written, err := c.copyBounded(ctx, tmp, body, entry.Bytes, remotePath, localPath)
	if err != nil {
		return nil, err
	}
	if written != entry.Bytes {
		return nil, fmt.Errorf("%w: %s got %d bytes, expected %d", ErrIntegrityMismatch, remotePath, written, entry.Bytes)
	}

	if err := tmp.Chmod(0o644); err != nil {
		return nil, &LocalIOError{Op: "chmod", Path: localPath, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return nil, &LocalIOError{Op: "write", Path: localPath, Err: err}
	}
	if err := os.Rename(tmpName, localPath); err != nil {
		return nil, &LocalIOError{Op: "rename", Path: localPath, Err: err}
	}
	committed = true

	slog.Debug("downloaded", "remote", remotePath, "local", localPath, "bytes", written)
	return entry, nil
}

// Cat writes the content of remotePath to dst. Output already written cannot
// be taken back, so the read is attempted once.
func (c *Client) Cat(ctx context.Context, remotePath string, dst io.Writer) (*remote.Entry, error) {
	once := c.single
	once.Attempts = 1
	return Execute(ctx, c.session, once, func(ctx context.Context, store remote.Store) (*remote.Entry, error) {
		body, entry, err := store.GetFile(ctx, remotePath)
		if err != nil {
			return nil, err
		}
		defer body.Close()

		written, err := c.copyBounded(ctx, dst, body, entry.Bytes, remotePath, "-")
		if err != nil {
			return nil, err
		}
		if written != entry.Bytes {
			return nil, fmt.Errorf("%w: %s got %d bytes, expected %d", ErrIntegrityMismatch, remotePath, written, entry.Bytes)
		}
		return entry, nil
	})
}

// copyBounded streams src to dst through a buffer no larger than the chunk
// size, checking ctx between reads.
func (c *Client) copyBounded(ctx context.Context, dst io.Writer, src io.Reader, size int64, remotePath, localPath string) (int64, error) {
	bufSize := c.chunkSize
	if size < bufSize {
		bufSize = max(size, minBuffer)
	}
	buf := make([]byte, bufSize)

	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return written, &LocalIOError{Op: "write", Path: localPath, Err: werr}
			}
			written += int64(n)
		}
		if errors.Is(rerr, io.EOF) {
			return written, nil
		}
		if rerr != nil {
			return written, &remote.Error{Op: "files", Path: remotePath, Err: rerr}
		}
	}
}
