package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/openmined/dropsync/internal/remote"
)

// ChunkResult is where a chunked upload continues.
type ChunkResult struct {
	UploadID string
	Offset   int64
}

// PutChunk uploads length bytes of localPath starting at offset as the next
// chunk of uploadID, or of a new session when uploadID is empty. The length
// is clipped to the end of the file. When a ledger is configured, an offset
// other than the one the session last returned fails with ErrOffsetMismatch
// before anything is sent.
func (c *Client) PutChunk(ctx context.Context, localPath, remotePath string, length, offset int64, uploadID string) (*ChunkResult, error) {
	if length <= 0 || offset < 0 {
		return nil, fmt.Errorf("%w: length %d, offset %d", ErrInvalidArgument, length, offset)
	}
	if uploadID == "" && offset != 0 {
		return nil, fmt.Errorf("%w: a new upload starts at offset 0, got %d", ErrInvalidArgument, offset)
	}
	if err := c.checkOffset(ctx, uploadID, offset); err != nil {
		return nil, err
	}

	f, size, err := openRegular(localPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if offset >= size {
		return nil, fmt.Errorf("%w: offset %d is past the end of %s (%d bytes)", ErrInvalidArgument, offset, localPath, size)
	}
	n := min(length, size-offset)

	status, err := Execute(ctx, c.session, c.single, func(ctx context.Context, store remote.Store) (*remote.ChunkStatus, error) {
		return store.UploadChunk(ctx, io.NewSectionReader(f, offset, n), n, offset, uploadID)
	})
	if err != nil {
		return nil, err
	}
	if status.Offset != offset+n {
		slog.Warn("chunk offset drift", "upload_id", status.UploadID, "sent_to", offset+n, "store_at", status.Offset)
	}

	if c.ledger != nil {
		err := c.ledger.Save(ctx, ChunkSession{
			UploadID:   status.UploadID,
			LocalPath:  localPath,
			RemotePath: remotePath,
			Offset:     status.Offset,
		})
		if err != nil {
			slog.Warn("chunk ledger", "error", err)
		}
	}

	return &ChunkResult{UploadID: status.UploadID, Offset: status.Offset}, nil
}

// CommitChunks finalizes uploadID into remotePath. The id is invalid
// afterwards; committing it again fails with a non retriable store error.
func (c *Client) CommitChunks(ctx context.Context, remotePath, uploadID string, opts remote.PutOptions) (*remote.Entry, error) {
	if uploadID == "" {
		return nil, fmt.Errorf("%w: upload id missing", ErrInvalidArgument)
	}

	entry, err := Execute(ctx, c.session, c.single, func(ctx context.Context, store remote.Store) (*remote.Entry, error) {
		return store.CommitChunkedUpload(ctx, remotePath, uploadID, opts)
	})
	if err != nil {
		return nil, err
	}

	if c.ledger != nil {
		if err := c.ledger.Delete(ctx, uploadID); err != nil {
			slog.Warn("chunk ledger", "error", err)
		}
	}
	return entry, nil
}

// checkOffset compares offset against the ledger. Sessions the ledger does
// not know about are left for the store to validate.
func (c *Client) checkOffset(ctx context.Context, uploadID string, offset int64) error {
	if c.ledger == nil || uploadID == "" {
		return nil
	}

	s, err := c.ledger.Get(ctx, uploadID)
	if errors.Is(err, ErrUnknownUpload) {
		return nil
	}
	if err != nil {
		return err
	}
	if s.Offset != offset {
		return fmt.Errorf("%w: upload %s continues at %d, got %d", ErrOffsetMismatch, uploadID, s.Offset, offset)
	}
	return nil
}
