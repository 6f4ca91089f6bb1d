package s3store

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/openmined/dropsync/internal/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSpoolStore(t *testing.T, prefix string) *Store {
	t.Helper()
	return NewWithClient(nil, &Config{Bucket: "b", Prefix: prefix, SpoolDir: t.TempDir()})
}

func TestKeys(t *testing.T) {
	s := newSpoolStore(t, "")
	assert.Equal(t, "", s.key("/"))
	assert.Equal(t, "", s.dirPrefix("/"))
	assert.Equal(t, "docs/a.txt", s.key("/docs/a.txt"))
	assert.Equal(t, "docs/", s.dirPrefix("docs"))
	assert.Equal(t, "/docs/a.txt", s.remotePath("docs/a.txt"))
	assert.Equal(t, "/docs", s.remotePath("docs/"))

	p := newSpoolStore(t, "/users/alice/")
	assert.Equal(t, "users/alice", p.key("/"))
	assert.Equal(t, "users/alice/", p.dirPrefix(""))
	assert.Equal(t, "users/alice/docs/a.txt", p.key("docs/a.txt"))
	assert.Equal(t, "/docs/a.txt", p.remotePath("users/alice/docs/a.txt"))
	assert.Equal(t, "/docs", p.remotePath("users/alice/docs/"))
}

func TestSpoolPath(t *testing.T) {
	s := newSpoolStore(t, "")
	assert.Equal(t, "", s.spoolPath(""))
	assert.Equal(t, "", s.spoolPath("../escape"))
	assert.Equal(t, "", s.spoolPath(`a\b`))
	assert.Equal(t, filepath.Join(s.spool, "abc"+spoolExt), s.spoolPath("abc"))
}

func TestUploadChunk_Session(t *testing.T) {
	s := newSpoolStore(t, "")
	ctx := context.Background()

	st, err := s.UploadChunk(ctx, bytes.NewReader([]byte("hello ")), 6, 0, "")
	require.NoError(t, err)
	assert.NotEmpty(t, st.UploadID)
	assert.EqualValues(t, 6, st.Offset)

	st, err = s.UploadChunk(ctx, bytes.NewReader([]byte("world")), 5, 6, st.UploadID)
	require.NoError(t, err)
	assert.EqualValues(t, 11, st.Offset)

	data, err := os.ReadFile(s.spoolPath(st.UploadID))
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestUploadChunk_Errors(t *testing.T) {
	s := newSpoolStore(t, "")
	ctx := context.Background()

	_, err := s.UploadChunk(ctx, bytes.NewReader([]byte("x")), 1, 3, "")
	assert.Equal(t, http.StatusBadRequest, remote.StatusOf(err))

	_, err = s.UploadChunk(ctx, bytes.NewReader([]byte("x")), 1, 0, "nope")
	assert.Equal(t, http.StatusNotFound, remote.StatusOf(err))

	st, err := s.UploadChunk(ctx, bytes.NewReader([]byte("abc")), 3, 0, "")
	require.NoError(t, err)
	_, err = s.UploadChunk(ctx, bytes.NewReader([]byte("d")), 1, 1, st.UploadID)
	assert.Equal(t, http.StatusBadRequest, remote.StatusOf(err))
	assert.False(t, remote.IsTransient(err))
}

func TestCommitUnknownUpload(t *testing.T) {
	s := newSpoolStore(t, "")
	_, err := s.CommitChunkedUpload(context.Background(), "/a.txt", "missing", remote.PutOptions{})
	assert.Equal(t, http.StatusBadRequest, remote.StatusOf(err))
}

type statusErr struct{ code int }

func (e statusErr) Error() string       { return "status" }
func (e statusErr) HTTPStatusCode() int { return e.code }

func TestWrap(t *testing.T) {
	s := newSpoolStore(t, "")

	err := s.wrap("files", "/a", statusErr{code: http.StatusPreconditionFailed})
	assert.True(t, errors.Is(err, remote.ErrConflict))

	err = s.wrap("files", "/a", statusErr{code: http.StatusNotFound})
	assert.True(t, errors.Is(err, remote.ErrNotFound))

	err = s.wrap("files", "/a", errors.New("dial tcp: refused"))
	assert.Equal(t, 0, remote.StatusOf(err))
	assert.True(t, remote.IsTransient(err))
}

func TestTrimETag(t *testing.T) {
	assert.Equal(t, "abc", trimETag(aws.String(`"abc"`)))
	assert.Equal(t, "", trimETag(nil))
}

func TestConfigValidate(t *testing.T) {
	cfg := &Config{}
	assert.ErrorIs(t, cfg.Validate(), ErrNoBucket)

	cfg = &Config{Bucket: "b"}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "us-east-1", cfg.Region)
	assert.NotEmpty(t, cfg.SpoolDir)
}
