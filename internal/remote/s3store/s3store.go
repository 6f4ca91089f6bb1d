// Package s3store maps the remote.Store contract onto an S3 compatible bucket.
// Folders are zero byte "name/" marker objects (or implicit key prefixes),
// revisions are object ETags, and conditional writes use If-Match and
// If-None-Match. S3 has no offset based chunked upload, so chunk sessions are
// spooled to local files and committed with a single PutObject.
package s3store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
	"github.com/openmined/dropsync/internal/relpath"
	"github.com/openmined/dropsync/internal/remote"
	"github.com/openmined/dropsync/internal/utils"
)

const spoolExt = ".part"

type Store struct {
	client *s3.Client
	bucket string
	prefix string
	spool  string
}

var _ remote.Store = (*Store)(nil)

// New builds an S3 client from cfg. Static keys are used when given,
// otherwise the default AWS credential chain applies.
func New(ctx context.Context, cfg *Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          32,
			MaxIdleConnsPerHost:   16,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ForceAttemptHTTP2:     true,
		},
	}

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
		config.WithHTTPClient(httpClient),
		// retries are decided by the transfer policy
		config.WithRetryMaxAttempts(1),
	}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("s3store: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
			// compatible servers often reject aws-chunked trailing checksums
			o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
			o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
		}
	})

	return NewWithClient(client, cfg), nil
}

func NewWithClient(client *s3.Client, cfg *Config) *Store {
	return &Store{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		spool:  cfg.SpoolDir,
	}
}

func (s *Store) ListDirectory(ctx context.Context, p string) (*remote.Entry, error) {
	dirPrefix := s.dirPrefix(p)
	dir := &remote.Entry{Path: relpath.Remote(p), IsDir: true}
	found := dirPrefix == "" || dirPrefix == s.prefix+"/"

	pager := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    &s.bucket,
		Prefix:    aws.String(dirPrefix),
		Delimiter: aws.String("/"),
	})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, s.wrap("metadata", p, err)
		}
		for _, cp := range page.CommonPrefixes {
			found = true
			dir.Contents = append(dir.Contents, &remote.Entry{
				Path:  s.remotePath(aws.ToString(cp.Prefix)),
				IsDir: true,
			})
		}
		for _, obj := range page.Contents {
			found = true
			key := aws.ToString(obj.Key)
			if key == dirPrefix {
				dir.Modified = remote.FormatModified(aws.ToTime(obj.LastModified))
				continue
			}
			dir.Contents = append(dir.Contents, &remote.Entry{
				Path:     s.remotePath(key),
				Bytes:    aws.ToInt64(obj.Size),
				Modified: remote.FormatModified(aws.ToTime(obj.LastModified)),
				Rev:      trimETag(obj.ETag),
			})
		}
	}

	if !found {
		return nil, &remote.Error{Status: http.StatusNotFound, Op: "metadata", Path: p, Message: "path not found"}
	}
	return dir, nil
}

func (s *Store) GetFile(ctx context.Context, p string) (io.ReadCloser, *remote.Entry, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    aws.String(s.key(p)),
	})
	if err != nil {
		return nil, nil, s.wrap("files", p, err)
	}

	return resp.Body, &remote.Entry{
		Path:     relpath.Remote(p),
		Bytes:    aws.ToInt64(resp.ContentLength),
		Modified: remote.FormatModified(aws.ToTime(resp.LastModified)),
		Rev:      trimETag(resp.ETag),
	}, nil
}

func (s *Store) PutFile(ctx context.Context, p string, r io.Reader, size int64, opts remote.PutOptions) (*remote.Entry, error) {
	key := s.key(p)
	input := &s3.PutObjectInput{
		Bucket:        &s.bucket,
		Key:           aws.String(key),
		Body:          r,
		ContentLength: aws.Int64(size),
	}
	switch {
	case opts.ParentRev != "":
		input.IfMatch = aws.String(`"` + opts.ParentRev + `"`)
	case !opts.Overwrite:
		input.IfNoneMatch = aws.String("*")
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return nil, s.wrap("files_put", p, err)
	}

	// PutObject does not report LastModified
	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &s.bucket,
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, s.wrap("files_put", p, err)
	}

	return &remote.Entry{
		Path:     relpath.Remote(p),
		Bytes:    aws.ToInt64(head.ContentLength),
		Modified: remote.FormatModified(aws.ToTime(head.LastModified)),
		Rev:      trimETag(head.ETag),
	}, nil
}

func (s *Store) CreateFolder(ctx context.Context, p string) (*remote.Entry, error) {
	exists := &remote.Error{Status: http.StatusForbidden, Op: "create_folder", Path: p, Message: "a file or folder already exists at this path"}

	if relpath.Canonical(p) == "" {
		return nil, exists
	}
	if _, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &s.bucket, Key: aws.String(s.key(p))}); err == nil {
		return nil, exists
	}
	listed, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  &s.bucket,
		Prefix:  aws.String(s.dirPrefix(p)),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return nil, s.wrap("create_folder", p, err)
	}
	if len(listed.Contents) > 0 {
		return nil, exists
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        &s.bucket,
		Key:           aws.String(s.dirPrefix(p)),
		Body:          strings.NewReader(""),
		ContentLength: aws.Int64(0),
		IfNoneMatch:   aws.String("*"),
	})
	if err != nil {
		err = s.wrap("create_folder", p, err)
		if remote.StatusOf(err) == http.StatusPreconditionFailed {
			return nil, exists
		}
		return nil, err
	}

	return &remote.Entry{
		Path:     relpath.Remote(p),
		IsDir:    true,
		Modified: remote.FormatModified(time.Now()),
	}, nil
}

func (s *Store) UploadChunk(ctx context.Context, r io.Reader, length, offset int64, uploadID string) (*remote.ChunkStatus, error) {
	if err := utils.EnsureDir(s.spool); err != nil {
		return nil, &remote.Error{Op: "chunked_upload", Err: err}
	}

	flags := os.O_WRONLY | os.O_APPEND
	if uploadID == "" {
		if offset != 0 {
			return nil, &remote.Error{Status: http.StatusBadRequest, Op: "chunked_upload",
				Message: fmt.Sprintf("new upload must start at offset 0, got %d", offset)}
		}
		uploadID = uuid.NewString()
		flags |= os.O_CREATE | os.O_EXCL
	}

	name := s.spoolPath(uploadID)
	if name == "" {
		return nil, &remote.Error{Status: http.StatusBadRequest, Op: "chunked_upload", Message: "invalid upload id"}
	}
	f, err := os.OpenFile(name, flags, 0o600)
	if errors.Is(err, os.ErrNotExist) {
		return nil, &remote.Error{Status: http.StatusNotFound, Op: "chunked_upload", Message: "unknown upload id"}
	}
	if err != nil {
		return nil, &remote.Error{Op: "chunked_upload", Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, &remote.Error{Op: "chunked_upload", Err: err}
	}
	if info.Size() != offset {
		return nil, &remote.Error{Status: http.StatusBadRequest, Op: "chunked_upload",
			Message: fmt.Sprintf("offset mismatch: expected %d, got %d", info.Size(), offset)}
	}

	n, err := io.CopyN(f, r, length)
	if err != nil && !errors.Is(err, io.EOF) {
		// drop the partial write so the session stays at a known offset
		_ = f.Truncate(offset)
		return nil, &remote.Error{Op: "chunked_upload", Err: err}
	}

	return &remote.ChunkStatus{
		UploadID: uploadID,
		Offset:   offset + n,
		Expires:  remote.FormatModified(time.Now().Add(24 * time.Hour)),
	}, nil
}

func (s *Store) CommitChunkedUpload(ctx context.Context, p, uploadID string, opts remote.PutOptions) (*remote.Entry, error) {
	name := s.spoolPath(uploadID)
	invalid := &remote.Error{Status: http.StatusBadRequest, Op: "commit_chunked_upload", Path: p, Message: "invalid upload id"}
	if name == "" {
		return nil, invalid
	}

	f, err := os.Open(name)
	if errors.Is(err, os.ErrNotExist) {
		return nil, invalid
	}
	if err != nil {
		return nil, &remote.Error{Op: "commit_chunked_upload", Path: p, Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, &remote.Error{Op: "commit_chunked_upload", Path: p, Err: err}
	}

	entry, err := s.PutFile(ctx, p, f, info.Size(), opts)
	if err != nil {
		return nil, err
	}
	_ = os.Remove(name)
	return entry, nil
}

// key maps a remote path to an object key.
func (s *Store) key(p string) string {
	rel := relpath.Canonical(p)
	if s.prefix == "" {
		return rel
	}
	if rel == "" {
		return s.prefix
	}
	return s.prefix + "/" + rel
}

// dirPrefix is the key prefix of everything inside folder p.
func (s *Store) dirPrefix(p string) string {
	k := s.key(p)
	if k == "" {
		return ""
	}
	return k + "/"
}

// remotePath maps an object key (or common prefix) back to a remote path.
func (s *Store) remotePath(key string) string {
	key = strings.TrimSuffix(key, "/")
	if s.prefix != "" {
		key = strings.TrimPrefix(strings.TrimPrefix(key, s.prefix), "/")
	}
	return relpath.Remote(key)
}

// spoolPath returns the spool file of an upload, or "" for ids that are not
// plain file names.
func (s *Store) spoolPath(uploadID string) string {
	if uploadID == "" || uploadID != filepath.Base(uploadID) || strings.ContainsAny(uploadID, `/\`) {
		return ""
	}
	return filepath.Join(s.spool, uploadID+spoolExt)
}

// wrap converts SDK errors into *remote.Error keeping the HTTP status.
func (s *Store) wrap(op, p string, err error) error {
	rerr := &remote.Error{Op: op, Path: p, Err: err}

	var status interface{ HTTPStatusCode() int }
	if errors.As(err, &status) {
		rerr.Status = status.HTTPStatusCode()
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		rerr.Message = apiErr.ErrorCode() + ": " + apiErr.ErrorMessage()
	}
	return rerr
}

func trimETag(etag *string) string {
	return strings.Trim(aws.ToString(etag), `"`)
}
