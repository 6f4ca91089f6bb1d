package transfer

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/openmined/dropsync/internal/remote"
)

// Put uploads localPath as remotePath in a single request. With
// opts.ParentRev set the store only accepts the write if the remote file is
// still at that revision, otherwise it fails with remote.ErrConflict.
func (c *Client) Put(ctx context.Context, localPath, remotePath string, opts remote.PutOptions) (*remote.Entry, error) {
	return Execute(ctx, c.session, c.single, func(ctx context.Context, store remote.Store) (*remote.Entry, error) {
		f, size, err := openRegular(localPath)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		return store.PutFile(ctx, remotePath, f, size, opts)
	})
}

// Upload sends localPath with Put, or as a sequential chunked session
// followed by a commit when the file is larger than the chunk size.
func (c *Client) Upload(ctx context.Context, localPath, remotePath string, opts remote.PutOptions) (*remote.Entry, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return nil, &LocalIOError{Op: "stat", Path: localPath, Err: err}
	}
	if info.Size() <= c.chunkSize {
		return c.Put(ctx, localPath, remotePath, opts)
	}

	var uploadID string
	var offset int64
	for offset < info.Size() {
		res, err := c.PutChunk(ctx, localPath, remotePath, c.chunkSize, offset, uploadID)
		if err != nil {
			// the partial session is abandoned, the store expires it
			return nil, err
		}
		if res.Offset <= offset {
			return nil, fmt.Errorf("%w: store did not advance %s past offset %d", ErrOffsetMismatch, uploadID, offset)
		}
		uploadID, offset = res.UploadID, res.Offset
	}

	slog.Debug("chunked upload complete", "remote", remotePath, "upload_id", uploadID, "bytes", offset)
	return c.CommitChunks(ctx, remotePath, uploadID, opts)
}

func openRegular(localPath string) (*os.File, int64, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, 0, &LocalIOError{Op: "open", Path: localPath, Err: err}
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, &LocalIOError{Op: "stat", Path: localPath, Err: err}
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, 0, fmt.Errorf("%w: %s is not a regular file", ErrInvalidArgument, localPath)
	}
	return f, info.Size(), nil
}
