package transfer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jmoiron/sqlx"
	"github.com/openmined/dropsync/internal/db"
)

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS chunk_sessions (
    upload_id TEXT PRIMARY KEY,
    local_path TEXT NOT NULL,
    remote_path TEXT NOT NULL,
    next_offset INTEGER NOT NULL,
    updated_at INTEGER NOT NULL -- unix seconds
);
`

const ledgerCacheSize = 128

// ChunkSession is the client side view of an open chunked upload.
type ChunkSession struct {
	UploadID   string `db:"upload_id"`
	LocalPath  string `db:"local_path"`
	RemotePath string `db:"remote_path"`
	Offset     int64  `db:"next_offset"`
	UpdatedAt  int64  `db:"updated_at"`
}

// ChunkLedger remembers the next expected offset of every open chunked
// upload, so put_chunk calls spread over separate invocations can be checked
// before they reach the store.
type ChunkLedger struct {
	db    *sqlx.DB
	cache *lru.Cache[string, ChunkSession]
}

// OpenLedger opens the ledger database at path. An empty path keeps the
// ledger in memory.
func OpenLedger(ctx context.Context, path string) (*ChunkLedger, error) {
	if path == "" {
		path = db.Memory
	}

	conn, err := db.Open(db.WithPath(path), db.WithMaxOpenConns(1))
	if err != nil {
		return nil, fmt.Errorf("open chunk ledger: %w", err)
	}
	if err := db.Migrate(ctx, conn, ledgerSchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("open chunk ledger: %w", err)
	}

	cache, err := lru.New[string, ChunkSession](ledgerCacheSize)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &ChunkLedger{db: conn, cache: cache}, nil
}

// Get returns the session of uploadID or ErrUnknownUpload.
func (l *ChunkLedger) Get(ctx context.Context, uploadID string) (ChunkSession, error) {
	if s, ok := l.cache.Get(uploadID); ok {
		return s, nil
	}

	var s ChunkSession
	err := l.db.GetContext(ctx, &s,
		`SELECT upload_id, local_path, remote_path, next_offset, updated_at FROM chunk_sessions WHERE upload_id = ?`,
		uploadID)
	if errors.Is(err, sql.ErrNoRows) {
		return ChunkSession{}, fmt.Errorf("%w: %s", ErrUnknownUpload, uploadID)
	}
	if err != nil {
		return ChunkSession{}, fmt.Errorf("query chunk session %s: %w", uploadID, err)
	}

	l.cache.Add(uploadID, s)
	return s, nil
}

// Save records the next expected offset of a session.
func (l *ChunkLedger) Save(ctx context.Context, s ChunkSession) error {
	s.UpdatedAt = time.Now().Unix()
	_, err := l.db.NamedExecContext(ctx, `
		INSERT INTO chunk_sessions (upload_id, local_path, remote_path, next_offset, updated_at)
		VALUES (:upload_id, :local_path, :remote_path, :next_offset, :updated_at)
		ON CONFLICT(upload_id) DO UPDATE SET
			local_path = excluded.local_path,
			remote_path = excluded.remote_path,
			next_offset = excluded.next_offset,
			updated_at = excluded.updated_at`, s)
	if err != nil {
		return fmt.Errorf("save chunk session %s: %w", s.UploadID, err)
	}
	l.cache.Add(s.UploadID, s)
	return nil
}

// Delete forgets a session. Unknown ids are not an error.
func (l *ChunkLedger) Delete(ctx context.Context, uploadID string) error {
	l.cache.Remove(uploadID)
	if _, err := l.db.ExecContext(ctx, `DELETE FROM chunk_sessions WHERE upload_id = ?`, uploadID); err != nil {
		return fmt.Errorf("delete chunk session %s: %w", uploadID, err)
	}
	return nil
}

// List returns every open session, most recently used first.
func (l *ChunkLedger) List(ctx context.Context) ([]ChunkSession, error) {
	var sessions []ChunkSession
	err := l.db.SelectContext(ctx, &sessions,
		`SELECT upload_id, local_path, remote_path, next_offset, updated_at FROM chunk_sessions ORDER BY updated_at DESC, upload_id`)
	if err != nil {
		return nil, fmt.Errorf("list chunk sessions: %w", err)
	}
	return sessions, nil
}

func (l *ChunkLedger) Close() error {
	l.cache.Purge()
	return l.db.Close()
}
