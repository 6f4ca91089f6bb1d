package transfer

import (
	"bytes"
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openmined/dropsync/internal/remote"
	"github.com/openmined/dropsync/internal/remote/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, opts ...Option) (*Client, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	ledger, err := OpenLedger(context.Background(), "")
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })

	opts = append([]Option{WithRetryWait(0), WithLedger(ledger)}, opts...)
	return New(NewSession(store), opts...), store
}

func writeLocal(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestGet(t *testing.T) {
	c, store := newTestClient(t, WithChunkSize(16))
	data := bytes.Repeat([]byte("0123456789"), 10)
	store.WriteFile("/dir/big.bin", data, time.Now())

	local := filepath.Join(t.TempDir(), "out", "big.bin")
	entry, err := c.Get(context.Background(), "/dir/big.bin", local)
	require.NoError(t, err)
	assert.EqualValues(t, len(data), entry.Bytes)

	got, err := os.ReadFile(local)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestGet_Overwrites(t *testing.T) {
	c, store := newTestClient(t)
	store.WriteFile("/a.txt", []byte("new"), time.Now())

	local := filepath.Join(t.TempDir(), "a.txt")
	writeLocal(t, local, []byte("old contents"))

	_, err := c.Get(context.Background(), "/a.txt", local)
	require.NoError(t, err)
	got, _ := os.ReadFile(local)
	assert.Equal(t, "new", string(got))
}

func TestGet_IntegrityMismatchRetried(t *testing.T) {
	c, store := newTestClient(t, WithIdempotentAttempts(3))
	store.WriteFile("/a.txt", []byte("hello"), time.Now())
	store.ShortReadNext(2)

	local := filepath.Join(t.TempDir(), "a.txt")
	_, err := c.Get(context.Background(), "/a.txt", local)
	require.NoError(t, err)
	assert.Equal(t, 3, store.Calls(memstore.OpGet))

	got, _ := os.ReadFile(local)
	assert.Equal(t, "hello", string(got))
}

func TestGet_IntegrityMismatchExhausted(t *testing.T) {
	c, store := newTestClient(t, WithIdempotentAttempts(2))
	store.WriteFile("/a.txt", []byte("hello"), time.Now())
	store.ShortReadNext(2)

	dir := t.TempDir()
	_, err := c.Get(context.Background(), "/a.txt", filepath.Join(dir, "a.txt"))
	assert.ErrorIs(t, err, ErrIntegrityMismatch)
	assert.Equal(t, 2, store.Calls(memstore.OpGet))

	// no partial or temporary file is left behind
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestGet_NotFound(t *testing.T) {
	c, store := newTestClient(t)
	_, err := c.Get(context.Background(), "/missing", filepath.Join(t.TempDir(), "x"))
	assert.ErrorIs(t, err, remote.ErrNotFound)
	assert.Equal(t, 1, store.Calls(memstore.OpGet))
}

func TestGet_NotAuthenticated(t *testing.T) {
	c := New(NewSession(nil))
	_, err := c.Get(context.Background(), "/a.txt", filepath.Join(t.TempDir(), "a.txt"))
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestCat(t *testing.T) {
	c, store := newTestClient(t, WithChunkSize(4))
	store.WriteFile("/notes/a.txt", []byte("hello world"), time.Now())

	var out bytes.Buffer
	entry, err := c.Cat(context.Background(), "/notes/a.txt", &out)
	require.NoError(t, err)
	assert.Equal(t, "hello world", out.String())
	assert.EqualValues(t, 11, entry.Bytes)
}

func TestCat_ShortReadNotRetried(t *testing.T) {
	c, store := newTestClient(t, WithAttempts(3))
	store.WriteFile("/a.txt", []byte("hello"), time.Now())
	store.ShortReadNext(1)

	var out bytes.Buffer
	_, err := c.Cat(context.Background(), "/a.txt", &out)
	assert.ErrorIs(t, err, ErrIntegrityMismatch)
	assert.Equal(t, 1, store.Calls(memstore.OpGet))
}

func TestPut(t *testing.T) {
	c, store := newTestClient(t)
	local := filepath.Join(t.TempDir(), "a.txt")
	writeLocal(t, local, []byte("payload"))

	entry, err := c.Put(context.Background(), local, "/docs/a.txt", remote.PutOptions{})
	require.NoError(t, err)
	assert.Equal(t, "/docs/a.txt", entry.Path)
	assert.NotEmpty(t, entry.Rev)

	data, _, ok := store.ReadFile("/docs/a.txt")
	require.True(t, ok)
	assert.Equal(t, "payload", string(data))
}

func TestPut_ParentRev(t *testing.T) {
	c, store := newTestClient(t)
	seeded := store.WriteFile("/a.txt", []byte("v1"), time.Now())

	local := filepath.Join(t.TempDir(), "a.txt")
	writeLocal(t, local, []byte("v2"))

	entry, err := c.Put(context.Background(), local, "/a.txt", remote.PutOptions{ParentRev: seeded.Rev})
	require.NoError(t, err)
	assert.NotEqual(t, seeded.Rev, entry.Rev)

	// the remote moved on since seeded.Rev was read
	_, err = c.Put(context.Background(), local, "/a.txt", remote.PutOptions{ParentRev: seeded.Rev})
	assert.ErrorIs(t, err, remote.ErrConflict)
	assert.False(t, IsFatal(err))

	data, _, _ := store.ReadFile("/a.txt")
	assert.Equal(t, "v2", string(data))
}

func TestPut_LocalErrors(t *testing.T) {
	c, _ := newTestClient(t)

	_, err := c.Put(context.Background(), filepath.Join(t.TempDir(), "missing"), "/x", remote.PutOptions{})
	var lerr *LocalIOError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, "open", lerr.Op)

	_, err = c.Put(context.Background(), t.TempDir(), "/x", remote.PutOptions{})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestPut_StorageExhausted(t *testing.T) {
	store := memstore.New(memstore.WithQuota(4))
	c := New(NewSession(store), WithRetryWait(0), WithAttempts(2))

	local := filepath.Join(t.TempDir(), "a.txt")
	writeLocal(t, local, []byte("too large"))

	_, err := c.Put(context.Background(), local, "/a.txt", remote.PutOptions{})
	assert.ErrorIs(t, err, remote.ErrStorageExhausted)
	assert.True(t, IsFatal(err))
	assert.Equal(t, 2, store.Calls(memstore.OpPut))
}

func TestPutChunk_Session(t *testing.T) {
	c, store := newTestClient(t)
	ctx := context.Background()
	local := filepath.Join(t.TempDir(), "big.bin")
	writeLocal(t, local, []byte("abcdefghij"))

	res, err := c.PutChunk(ctx, local, "/big.bin", 4, 0, "")
	require.NoError(t, err)
	assert.NotEmpty(t, res.UploadID)
	assert.EqualValues(t, 4, res.Offset)

	res, err = c.PutChunk(ctx, local, "/big.bin", 4, res.Offset, res.UploadID)
	require.NoError(t, err)
	assert.EqualValues(t, 8, res.Offset)

	// clipped to the end of the file
	res, err = c.PutChunk(ctx, local, "/big.bin", 100, res.Offset, res.UploadID)
	require.NoError(t, err)
	assert.EqualValues(t, 10, res.Offset)

	entry, err := c.CommitChunks(ctx, "/big.bin", res.UploadID, remote.PutOptions{})
	require.NoError(t, err)
	assert.EqualValues(t, 10, entry.Bytes)

	data, _, ok := store.ReadFile("/big.bin")
	require.True(t, ok)
	assert.Equal(t, "abcdefghij", string(data))

	_, err = c.ledger.Get(ctx, res.UploadID)
	assert.ErrorIs(t, err, ErrUnknownUpload)
}

func TestPutChunk_StaleOffsetRejectedLocally(t *testing.T) {
	c, store := newTestClient(t)
	ctx := context.Background()
	local := filepath.Join(t.TempDir(), "big.bin")
	writeLocal(t, local, []byte("abcdefghij"))

	res, err := c.PutChunk(ctx, local, "/big.bin", 4, 0, "")
	require.NoError(t, err)

	for _, offset := range []int64{0, 2, 8} {
		_, err = c.PutChunk(ctx, local, "/big.bin", 4, offset, res.UploadID)
		assert.ErrorIs(t, err, ErrOffsetMismatch, "offset %d", offset)
	}
	assert.Equal(t, 1, store.Calls(memstore.OpChunk))
}

func TestPutChunk_StoreRejectsUntrackedStaleOffset(t *testing.T) {
	store := memstore.New()
	c := New(NewSession(store), WithRetryWait(0), WithAttempts(3))
	ctx := context.Background()
	local := filepath.Join(t.TempDir(), "big.bin")
	writeLocal(t, local, []byte("abcdefghij"))

	res, err := c.PutChunk(ctx, local, "/big.bin", 4, 0, "")
	require.NoError(t, err)

	_, err = c.PutChunk(ctx, local, "/big.bin", 4, 2, res.UploadID)
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, remote.StatusOf(err))
	assert.Equal(t, 2, store.Calls(memstore.OpChunk))
}

func TestPutChunk_InvalidArguments(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	local := filepath.Join(t.TempDir(), "small.bin")
	writeLocal(t, local, []byte("abc"))

	_, err := c.PutChunk(ctx, local, "/s", 0, 0, "")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = c.PutChunk(ctx, local, "/s", 2, 1, "")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = c.PutChunk(ctx, local, "/s", 2, -1, "id")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	res, err := c.PutChunk(ctx, local, "/s", 3, 0, "")
	require.NoError(t, err)
	_, err = c.PutChunk(ctx, local, "/s", 3, 3, res.UploadID)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestCommitChunks_Twice(t *testing.T) {
	c, store := newTestClient(t, WithAttempts(3))
	ctx := context.Background()
	local := filepath.Join(t.TempDir(), "a.bin")
	writeLocal(t, local, []byte("abc"))

	res, err := c.PutChunk(ctx, local, "/a.bin", 3, 0, "")
	require.NoError(t, err)
	_, err = c.CommitChunks(ctx, "/a.bin", res.UploadID, remote.PutOptions{})
	require.NoError(t, err)

	_, err = c.CommitChunks(ctx, "/a.bin", res.UploadID, remote.PutOptions{Overwrite: true})
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, remote.StatusOf(err))
	assert.False(t, remote.IsTransient(err))
	assert.Equal(t, 2, store.Calls(memstore.OpCommit))

	_, err = c.CommitChunks(ctx, "/a.bin", "", remote.PutOptions{})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestUpload(t *testing.T) {
	ctx := context.Background()
	data := bytes.Repeat([]byte("x"), 50)

	t.Run("small file single put", func(t *testing.T) {
		c, store := newTestClient(t, WithChunkSize(64))
		local := filepath.Join(t.TempDir(), "a.bin")
		writeLocal(t, local, data)

		_, err := c.Upload(ctx, local, "/a.bin", remote.PutOptions{})
		require.NoError(t, err)
		assert.Equal(t, 1, store.Calls(memstore.OpPut))
		assert.Zero(t, store.Calls(memstore.OpChunk))
	})

	t.Run("large file chunked", func(t *testing.T) {
		c, store := newTestClient(t, WithChunkSize(16))
		local := filepath.Join(t.TempDir(), "a.bin")
		writeLocal(t, local, data)

		entry, err := c.Upload(ctx, local, "/a.bin", remote.PutOptions{})
		require.NoError(t, err)
		assert.EqualValues(t, 50, entry.Bytes)
		assert.Equal(t, 4, store.Calls(memstore.OpChunk))
		assert.Equal(t, 1, store.Calls(memstore.OpCommit))
		assert.Zero(t, store.Calls(memstore.OpPut))

		got, _, _ := store.ReadFile("/a.bin")
		assert.Equal(t, data, got)

		sessions, err := c.ledger.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, sessions)
	})

	t.Run("chunk failure abandons session", func(t *testing.T) {
		c, store := newTestClient(t, WithChunkSize(16))
		local := filepath.Join(t.TempDir(), "a.bin")
		writeLocal(t, local, data)
		store.FailNext(memstore.OpChunk, nil, &remote.Error{Status: http.StatusServiceUnavailable})

		_, err := c.Upload(ctx, local, "/a.bin", remote.PutOptions{})
		require.Error(t, err)
		assert.Zero(t, store.Calls(memstore.OpCommit))
		assert.False(t, store.Exists("/a.bin"))
	})
}

func TestListAndMkdir(t *testing.T) {
	c, store := newTestClient(t)
	ctx := context.Background()
	store.WriteFile("/docs/a.txt", []byte("a"), time.Now())

	_, err := c.Mkdir(ctx, "/docs/sub")
	require.NoError(t, err)

	_, err = c.Mkdir(ctx, "/DOCS")
	assert.ErrorIs(t, err, remote.ErrAlreadyExists)
	// 403 is not retried
	assert.Equal(t, 2, store.Calls(memstore.OpMkdir))

	dir, err := c.List(ctx, "/docs")
	require.NoError(t, err)
	assert.Len(t, dir.Contents, 2)

	store.FailNext(memstore.OpList, &remote.Error{Status: http.StatusBadGateway})
	_, err = c.List(ctx, "/docs")
	require.NoError(t, err)
}
