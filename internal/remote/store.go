// Package remote defines the contract dropsync needs from a cloud file store
// and the error and timestamp conventions shared by every backend.
package remote

import (
	"context"
	"io"
)

// Entry is file or folder metadata as reported by the store. Path is
// server canonical: case preserving, slash separated, rooted at "/".
type Entry struct {
	Path     string   `json:"path"`
	IsDir    bool     `json:"is_dir"`
	Bytes    int64    `json:"bytes"`
	Modified string   `json:"modified,omitempty"`
	Rev      string   `json:"rev,omitempty"`
	Contents []*Entry `json:"contents,omitempty"`
}

// ModifiedUnix is the entry's modification time as a POSIX epoch.
func (e *Entry) ModifiedUnix() (int64, error) {
	return ModifiedEpoch(e.Modified)
}

// PutOptions controls overwrite behaviour of a write.
type PutOptions struct {
	// Overwrite replaces an existing file instead of failing or renaming.
	Overwrite bool
	// ParentRev makes the write conditional on the remote file still being at
	// this revision. A stale revision fails with ErrConflict.
	ParentRev string
}

// ChunkStatus is the server's view of a chunked upload session after a chunk
// was accepted. The next chunk must start at Offset.
type ChunkStatus struct {
	UploadID string `json:"upload_id"`
	Offset   int64  `json:"offset"`
	Expires  string `json:"expires,omitempty"`
}

// Store is the remote file store.
type Store interface {
	// ListDirectory returns the folder entry at path with its direct
	// children in Contents.
	ListDirectory(ctx context.Context, path string) (*Entry, error)

	// GetFile opens the file content at path. The caller closes the reader.
	GetFile(ctx context.Context, path string) (io.ReadCloser, *Entry, error)

	// PutFile writes size bytes from r to path.
	PutFile(ctx context.Context, path string, r io.Reader, size int64, opts PutOptions) (*Entry, error)

	// CreateFolder creates a folder at path. It fails with ErrAlreadyExists
	// when something already lives there.
	CreateFolder(ctx context.Context, path string) (*Entry, error)

	// UploadChunk appends length bytes from r to the session uploadID at
	// offset. An empty uploadID starts a new session at offset 0.
	UploadChunk(ctx context.Context, r io.Reader, length, offset int64, uploadID string) (*ChunkStatus, error)

	// CommitChunkedUpload turns the session into a file at path. The
	// upload id is invalid afterwards.
	CommitChunkedUpload(ctx context.Context, path, uploadID string, opts PutOptions) (*Entry, error)
}
