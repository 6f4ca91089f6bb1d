// Package transfer moves single files between the local filesystem and the
// remote store. Every call goes through Execute with a Policy suited to the
// operation: reads and folder creation are retried, writes are tried once
// unless configured otherwise.
package transfer

import (
	"context"
	"time"

	"github.com/openmined/dropsync/internal/remote"
)

const (
	// DefaultChunkSize is the download buffer bound and the size above which
	// Upload switches to a chunked session.
	DefaultChunkSize int64 = 4 << 20

	DefaultAttempts           = 1
	DefaultIdempotentAttempts = 5
)

type options struct {
	attempts           int
	idempotentAttempts int
	wait               time.Duration
	chunkSize          int64
	ledger             *ChunkLedger
}

type Option func(*options)

// WithAttempts sets the attempts of writes (put, put_chunk, commit_chunks).
func WithAttempts(n int) Option {
	return func(o *options) {
		o.attempts = n
	}
}

// WithIdempotentAttempts sets the attempts of listings, downloads and
// folder creation.
func WithIdempotentAttempts(n int) Option {
	return func(o *options) {
		o.idempotentAttempts = n
	}
}

func WithRetryWait(d time.Duration) Option {
	return func(o *options) {
		o.wait = d
	}
}

func WithChunkSize(n int64) Option {
	return func(o *options) {
		o.chunkSize = n
	}
}

// WithLedger enables offset checking of chunked uploads.
func WithLedger(l *ChunkLedger) Option {
	return func(o *options) {
		o.ledger = l
	}
}

type Client struct {
	session    *Session
	single     Policy
	idempotent Policy
	chunkSize  int64
	ledger     *ChunkLedger
}

func New(session *Session, opts ...Option) *Client {
	o := &options{
		attempts:           DefaultAttempts,
		idempotentAttempts: DefaultIdempotentAttempts,
		wait:               time.Second,
		chunkSize:          DefaultChunkSize,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.chunkSize <= 0 {
		o.chunkSize = DefaultChunkSize
	}

	return &Client{
		session:    session,
		single:     Policy{Attempts: o.attempts, LoginRequired: true, Wait: o.wait},
		idempotent: Policy{Attempts: o.idempotentAttempts, LoginRequired: true, Wait: o.wait},
		chunkSize:  o.chunkSize,
		ledger:     o.ledger,
	}
}

func (c *Client) Session() *Session {
	return c.session
}

func (c *Client) ChunkSize() int64 {
	return c.chunkSize
}

// List returns the folder at p with its children.
func (c *Client) List(ctx context.Context, p string) (*remote.Entry, error) {
	return Execute(ctx, c.session, c.idempotent, func(ctx context.Context, store remote.Store) (*remote.Entry, error) {
		return store.ListDirectory(ctx, p)
	})
}

// Mkdir creates the folder p. An existing folder is reported as
// remote.ErrAlreadyExists.
func (c *Client) Mkdir(ctx context.Context, p string) (*remote.Entry, error) {
	return Execute(ctx, c.session, c.idempotent, func(ctx context.Context, store remote.Store) (*remote.Entry, error) {
		return store.CreateFolder(ctx, p)
	})
}
