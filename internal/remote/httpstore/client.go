// Package httpstore is a remote.Store speaking the Dropbox v1 style REST API:
// metadata listing, whole file get/put, folder creation and chunked uploads.
package httpstore

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/imroc/req/v3"
	"github.com/openmined/dropsync/internal/relpath"
	"github.com/openmined/dropsync/internal/remote"
	"github.com/openmined/dropsync/internal/utils"
	"github.com/openmined/dropsync/internal/version"
)

const (
	v1Metadata      = "/1/metadata/auto"
	v1Files         = "/1/files/auto"
	v1FilesPut      = "/1/files_put/auto"
	v1CreateFolder  = "/1/fileops/create_folder"
	v1ChunkedUpload = "/1/chunked_upload"
	v1CommitChunked = "/1/commit_chunked_upload/auto"

	HeaderMetadata = "X-Dropbox-Metadata"
	HeaderDeviceID = "X-Dropsync-Device-Id"
	HeaderVersion  = "X-Dropsync-Version"

	defaultTimeout = 5 * time.Minute
)

// Config is the configuration for a Client.
type Config struct {
	BaseURL     string        // BaseURL is required
	AccessToken string        // AccessToken is required
	Timeout     time.Duration // Timeout is optional
}

func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return ErrNoBaseURL
	}
	if _, err := url.ParseRequestURI(c.BaseURL); err != nil {
		return fmt.Errorf("httpstore: invalid base url: %w", err)
	}
	if c.AccessToken == "" {
		return ErrNoToken
	}
	return nil
}

// Client implements remote.Store over HTTP. Retries are left to the caller's
// policy, the underlying client never retries on its own.
type Client struct {
	client *req.Client
}

var _ remote.Store = (*Client)(nil)

func New(cfg *Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	client := req.C().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetCommonRetryCount(0).
		SetUserAgent(version.UserAgent()).
		SetCommonHeader(HeaderVersion, version.Version).
		SetCommonBearerAuthToken(cfg.AccessToken).
		SetCommonErrorResult(&apiError{}).
		SetJsonMarshal(jsonMarshal).
		SetJsonUnmarshal(jsonUnmarshal)

	if utils.HWID != "" {
		client.SetCommonHeader(HeaderDeviceID, utils.HWID)
	}

	return &Client{client: client}, nil
}

func (c *Client) ListDirectory(ctx context.Context, path string) (*remote.Entry, error) {
	var entry *remote.Entry
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("list", "true").
		SetSuccessResult(&entry).
		Get(v1Metadata + escapePath(path))

	if err := handleAPIError(resp, err, "metadata", path); err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, &remote.Error{Status: resp.StatusCode, Op: "metadata", Path: path, Message: "empty response"}
	}
	if !entry.IsDir {
		return nil, &remote.Error{Status: 404, Op: "metadata", Path: path, Message: "not a folder"}
	}
	return entry, nil
}

func (c *Client) GetFile(ctx context.Context, path string) (io.ReadCloser, *remote.Entry, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		DisableAutoReadResponse().
		Get(v1Files + escapePath(path))
	if err != nil {
		return nil, nil, &remote.Error{Op: "files", Path: path, Err: err}
	}
	if resp.IsErrorState() {
		return nil, nil, streamError(resp, "files", path)
	}

	var entry remote.Entry
	if err := jsonUnmarshal([]byte(resp.Header.Get(HeaderMetadata)), &entry); err != nil {
		resp.Body.Close()
		return nil, nil, &remote.Error{Status: resp.StatusCode, Op: "files", Path: path,
			Message: "bad metadata header", Err: err}
	}
	return resp.Body, &entry, nil
}

func (c *Client) PutFile(ctx context.Context, path string, r io.Reader, size int64, opts remote.PutOptions) (*remote.Entry, error) {
	var entry *remote.Entry
	request := c.client.R().
		SetContext(ctx).
		SetQueryParam("overwrite", strconv.FormatBool(opts.Overwrite)).
		SetHeader("Content-Type", "application/octet-stream").
		SetBody(r).
		SetSuccessResult(&entry)
	if opts.ParentRev != "" {
		request.SetQueryParam("parent_rev", opts.ParentRev)
	}

	resp, err := request.Put(v1FilesPut + escapePath(path))
	if err := handleAPIError(resp, err, "files_put", path); err != nil {
		return nil, err
	}
	return entry, nil
}

func (c *Client) CreateFolder(ctx context.Context, path string) (*remote.Entry, error) {
	var entry *remote.Entry
	resp, err := c.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"root": "auto",
			"path": relpath.Remote(path),
		}).
		SetSuccessResult(&entry).
		Post(v1CreateFolder)

	if err := handleAPIError(resp, err, "create_folder", path); err != nil {
		return nil, err
	}
	return entry, nil
}

func (c *Client) UploadChunk(ctx context.Context, r io.Reader, length, offset int64, uploadID string) (*remote.ChunkStatus, error) {
	var status *remote.ChunkStatus
	request := c.client.R().
		SetContext(ctx).
		SetQueryParam("offset", strconv.FormatInt(offset, 10)).
		SetHeader("Content-Type", "application/octet-stream").
		SetBody(io.LimitReader(r, length)).
		SetSuccessResult(&status)
	if uploadID != "" {
		request.SetQueryParam("upload_id", uploadID)
	}

	resp, err := request.Put(v1ChunkedUpload)
	if err := handleAPIError(resp, err, "chunked_upload", ""); err != nil {
		return nil, err
	}
	return status, nil
}

func (c *Client) CommitChunkedUpload(ctx context.Context, path, uploadID string, opts remote.PutOptions) (*remote.Entry, error) {
	form := map[string]string{
		"upload_id": uploadID,
		"overwrite": strconv.FormatBool(opts.Overwrite),
	}
	if opts.ParentRev != "" {
		form["parent_rev"] = opts.ParentRev
	}

	var entry *remote.Entry
	resp, err := c.client.R().
		SetContext(ctx).
		SetFormData(form).
		SetSuccessResult(&entry).
		Post(v1CommitChunked + escapePath(path))

	if err := handleAPIError(resp, err, "commit_chunked_upload", path); err != nil {
		return nil, err
	}
	return entry, nil
}

// escapePath escapes each segment of a remote path, keeping the separators.
func escapePath(path string) string {
	rel := relpath.Canonical(path)
	if rel == "" {
		return "/"
	}
	segments := strings.Split(rel, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return "/" + strings.Join(segments, "/")
}
