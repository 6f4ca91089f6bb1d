// Package memstore is an in-memory remote.Store. It keeps the store semantics
// the sync engine depends on (case-insensitive paths, revisions, conditional
// writes, server side chunk offsets, quota) and adds fault injection so tests
// can drive the retry policy.
package memstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"github.com/openmined/dropsync/internal/relpath"
	"github.com/openmined/dropsync/internal/remote"
)

// Op names a store operation for fault injection and call accounting.
type Op string

const (
	OpList   Op = "list"
	OpGet    Op = "get"
	OpPut    Op = "put"
	OpMkdir  Op = "mkdir"
	OpChunk  Op = "chunk"
	OpCommit Op = "commit"
)

type node struct {
	path     string
	isDir    bool
	data     []byte
	rev      string
	modified time.Time
}

type upload struct {
	data    []byte
	expires time.Time
}

type Store struct {
	mu        sync.Mutex
	nodes     map[string]*node
	uploads   map[string]*upload
	committed mapset.Set[string]
	revSeq    uint64
	used      int64
	quota     int64
	clock     func() time.Time
	faults    map[Op][]error
	calls     map[Op]int
	shortGets int
}

type Option func(*Store)

// WithClock sets the clock used to stamp modification times.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		s.clock = clock
	}
}

// WithQuota limits the total bytes stored. Writes past it fail with 507.
func WithQuota(bytes int64) Option {
	return func(s *Store) {
		s.quota = bytes
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		nodes:     make(map[string]*node),
		uploads:   make(map[string]*upload),
		committed: mapset.NewSet[string](),
		clock:     time.Now,
		faults:    make(map[Op][]error),
		calls:     make(map[Op]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.nodes[""] = &node{path: relpath.Root, isDir: true, modified: s.clock()}
	return s
}

var _ remote.Store = (*Store)(nil)

// FailNext queues errs to be returned, one per call, by the next calls of op.
func (s *Store) FailNext(op Op, errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = append(s.faults[op], errs...)
}

// ShortReadNext makes the next n GetFile calls deliver one byte less than the
// metadata reports.
func (s *Store) ShortReadNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shortGets += n
}

// Calls returns how many times op was invoked, failed calls included.
func (s *Store) Calls(op Op) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *Store) enter(op Op) error {
	s.calls[op]++
	if q := s.faults[op]; len(q) > 0 {
		s.faults[op] = q[1:]
		return q[0]
	}
	return nil
}

func (s *Store) ListDirectory(ctx context.Context, p string) (*remote.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpList); err != nil {
		return nil, err
	}

	key := relpath.Key(p)
	dir, ok := s.nodes[key]
	if !ok || !dir.isDir {
		return nil, &remote.Error{Status: http.StatusNotFound, Op: "metadata", Path: p, Message: "path not found"}
	}

	entry := s.entry(dir)
	for k, n := range s.nodes {
		if k != "" && parentKey(k) == key {
			entry.Contents = append(entry.Contents, s.entry(n))
		}
	}
	sort.Slice(entry.Contents, func(i, j int) bool {
		return entry.Contents[i].Path < entry.Contents[j].Path
	})
	return entry, nil
}

func (s *Store) GetFile(ctx context.Context, p string) (io.ReadCloser, *remote.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpGet); err != nil {
		return nil, nil, err
	}

	n, ok := s.nodes[relpath.Key(p)]
	if !ok || n.isDir {
		return nil, nil, &remote.Error{Status: http.StatusNotFound, Op: "files", Path: p, Message: "file not found"}
	}

	data := bytes.Clone(n.data)
	if s.shortGets > 0 && len(data) > 0 {
		s.shortGets--
		data = data[:len(data)-1]
	}
	return io.NopCloser(bytes.NewReader(data)), s.entry(n), nil
}

func (s *Store) PutFile(ctx context.Context, p string, r io.Reader, size int64, opts remote.PutOptions) (*remote.Entry, error) {
	data, err := io.ReadAll(io.LimitReader(r, size+1))
	if err != nil {
		return nil, &remote.Error{Op: "files_put", Path: p, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpPut); err != nil {
		return nil, err
	}

	if int64(len(data)) != size {
		return nil, &remote.Error{Status: http.StatusBadRequest, Op: "files_put", Path: p,
			Message: fmt.Sprintf("expected %d bytes, got %d", size, len(data))}
	}
	return s.write("files_put", p, data, opts)
}

func (s *Store) CreateFolder(ctx context.Context, p string) (*remote.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpMkdir); err != nil {
		return nil, err
	}

	key := relpath.Key(p)
	if key == "" {
		return nil, &remote.Error{Status: http.StatusForbidden, Op: "create_folder", Path: p, Message: "root already exists"}
	}
	if _, ok := s.nodes[key]; ok {
		return nil, &remote.Error{Status: http.StatusForbidden, Op: "create_folder", Path: p, Message: "a file or folder already exists at this path"}
	}
	if err := s.ensureParents("create_folder", p); err != nil {
		return nil, err
	}

	n := &node{path: relpath.Remote(p), isDir: true, modified: s.clock()}
	s.nodes[key] = n
	return s.entry(n), nil
}

func (s *Store) UploadChunk(ctx context.Context, r io.Reader, length, offset int64, uploadID string) (*remote.ChunkStatus, error) {
	data, err := io.ReadAll(io.LimitReader(r, length))
	if err != nil {
		return nil, &remote.Error{Op: "chunked_upload", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpChunk); err != nil {
		return nil, err
	}

	var up *upload
	if uploadID == "" {
		if offset != 0 {
			return nil, &remote.Error{Status: http.StatusBadRequest, Op: "chunked_upload",
				Message: fmt.Sprintf("new upload must start at offset 0, got %d", offset)}
		}
		uploadID = uuid.NewString()
		up = &upload{}
		s.uploads[uploadID] = up
	} else {
		if s.committed.Contains(uploadID) {
			return nil, &remote.Error{Status: http.StatusBadRequest, Op: "chunked_upload", Message: "upload already committed"}
		}
		var ok bool
		if up, ok = s.uploads[uploadID]; !ok {
			return nil, &remote.Error{Status: http.StatusNotFound, Op: "chunked_upload", Message: "unknown upload id"}
		}
		if offset != int64(len(up.data)) {
			return nil, &remote.Error{Status: http.StatusBadRequest, Op: "chunked_upload",
				Message: fmt.Sprintf("offset mismatch: expected %d, got %d", len(up.data), offset)}
		}
	}

	up.data = append(up.data, data...)
	up.expires = s.clock().Add(48 * time.Hour)
	return &remote.ChunkStatus{
		UploadID: uploadID,
		Offset:   int64(len(up.data)),
		Expires:  remote.FormatModified(up.expires),
	}, nil
}

func (s *Store) CommitChunkedUpload(ctx context.Context, p, uploadID string, opts remote.PutOptions) (*remote.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpCommit); err != nil {
		return nil, err
	}

	if s.committed.Contains(uploadID) {
		return nil, &remote.Error{Status: http.StatusBadRequest, Op: "commit_chunked_upload", Path: p, Message: "upload already committed"}
	}
	up, ok := s.uploads[uploadID]
	if !ok {
		return nil, &remote.Error{Status: http.StatusBadRequest, Op: "commit_chunked_upload", Path: p, Message: "invalid upload id"}
	}

	entry, err := s.write("commit_chunked_upload", p, up.data, opts)
	if err != nil {
		return nil, err
	}
	delete(s.uploads, uploadID)
	s.committed.Add(uploadID)
	return entry, nil
}

// WriteFile seeds a file, creating parents. It bypasses faults and quota.
func (s *Store) WriteFile(p string, data []byte, modified time.Time) *remote.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, dir := range ancestors(relpath.Canonical(p)) {
		if _, ok := s.nodes[strings.ToLower(dir)]; !ok {
			s.nodes[strings.ToLower(dir)] = &node{path: relpath.Remote(dir), isDir: true, modified: modified}
		}
	}
	key := relpath.Key(p)
	if old, ok := s.nodes[key]; ok {
		s.used -= int64(len(old.data))
	}
	n := &node{path: relpath.Remote(p), data: bytes.Clone(data), rev: s.nextRev(), modified: modified}
	s.nodes[key] = n
	s.used += int64(len(data))
	return s.entry(n)
}

// ReadFile returns the content and metadata of a stored file.
func (s *Store) ReadFile(p string) ([]byte, *remote.Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[relpath.Key(p)]
	if !ok || n.isDir {
		return nil, nil, false
	}
	return bytes.Clone(n.data), s.entry(n), true
}

// Exists reports whether anything is stored at p.
func (s *Store) Exists(p string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.nodes[relpath.Key(p)]
	return ok
}

// write stores data at p honouring overwrite and parent revision rules.
// Callers hold s.mu.
func (s *Store) write(op, p string, data []byte, opts remote.PutOptions) (*remote.Entry, error) {
	key := relpath.Key(p)
	if key == "" {
		return nil, &remote.Error{Status: http.StatusBadRequest, Op: op, Path: p, Message: "cannot write to root"}
	}

	old, exists := s.nodes[key]
	if exists && old.isDir {
		return nil, &remote.Error{Status: http.StatusConflict, Op: op, Path: p, Message: "a folder exists at this path"}
	}
	switch {
	case opts.ParentRev != "" && !exists:
		return nil, &remote.Error{Status: http.StatusConflict, Op: op, Path: p, Message: "parent revision no longer exists"}
	case opts.ParentRev != "" && old.rev != opts.ParentRev:
		return nil, &remote.Error{Status: http.StatusConflict, Op: op, Path: p,
			Message: fmt.Sprintf("parent revision %s is stale, current is %s", opts.ParentRev, old.rev)}
	case exists && opts.ParentRev == "" && !opts.Overwrite:
		return nil, &remote.Error{Status: http.StatusConflict, Op: op, Path: p, Message: "file exists and overwrite is disabled"}
	}

	used := s.used + int64(len(data))
	if exists {
		used -= int64(len(old.data))
	}
	if s.quota > 0 && used > s.quota {
		return nil, &remote.Error{Status: remote.StatusInsufficientStorage, Op: op, Path: p, Message: "over quota"}
	}

	if err := s.ensureParents(op, p); err != nil {
		return nil, err
	}

	name := relpath.Remote(p)
	if exists {
		// the server keeps the case of the first write
		name = old.path
	}
	n := &node{path: name, data: bytes.Clone(data), rev: s.nextRev(), modified: s.clock()}
	s.nodes[key] = n
	s.used = used
	return s.entry(n), nil
}

// ensureParents creates missing folders above p. Callers hold s.mu.
func (s *Store) ensureParents(op, p string) error {
	for _, dir := range ancestors(relpath.Canonical(p)) {
		n, ok := s.nodes[strings.ToLower(dir)]
		if !ok {
			s.nodes[strings.ToLower(dir)] = &node{path: relpath.Remote(dir), isDir: true, modified: s.clock()}
			continue
		}
		if !n.isDir {
			return &remote.Error{Status: http.StatusConflict, Op: op, Path: p, Message: "parent is a file: " + n.path}
		}
	}
	return nil
}

func (s *Store) nextRev() string {
	s.revSeq++
	return fmt.Sprintf("%x", s.revSeq+0x100)
}

func (s *Store) entry(n *node) *remote.Entry {
	return &remote.Entry{
		Path:     n.path,
		IsDir:    n.isDir,
		Bytes:    int64(len(n.data)),
		Modified: remote.FormatModified(n.modified),
		Rev:      n.rev,
	}
}

func parentKey(key string) string {
	dir := path.Dir(key)
	if dir == "." {
		return ""
	}
	return dir
}

// ancestors returns the proper ancestor directories of rel, outermost first.
func ancestors(rel string) []string {
	var dirs []string
	for dir := path.Dir(rel); dir != "." && dir != "/" && dir != ""; dir = path.Dir(dir) {
		dirs = append([]string{dir}, dirs...)
	}
	return dirs
}
