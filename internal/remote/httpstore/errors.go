package httpstore

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/imroc/req/v3"
	"github.com/openmined/dropsync/internal/remote"
)

var (
	ErrNoBaseURL = errors.New("httpstore: base url missing")
	ErrNoToken   = errors.New("httpstore: access token missing")
)

// apiError is the error body returned by the API.
type apiError struct {
	Message string `json:"error"`
	Summary string `json:"error_summary,omitempty"`
}

func (e *apiError) text() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Summary
}

// handleAPIError turns a transport failure or an error status into a *remote.Error.
func handleAPIError(resp *req.Response, requestErr error, op, path string) error {
	if requestErr != nil {
		return &remote.Error{Op: op, Path: path, Err: requestErr}
	}

	if !resp.IsErrorState() {
		return nil
	}

	msg := http.StatusText(resp.StatusCode)
	if apiErr, ok := resp.ErrorResult().(*apiError); ok && apiErr.text() != "" {
		msg = apiErr.text()
	}
	return &remote.Error{Status: resp.StatusCode, Op: op, Path: path, Message: msg}
}

// streamError reads the error body of a response whose body was not
// consumed by req.
func streamError(resp *req.Response, op, path string) error {
	defer resp.Body.Close()

	msg := http.StatusText(resp.StatusCode)
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err == nil && len(body) > 0 {
		var apiErr apiError
		if jsonUnmarshal(body, &apiErr) == nil && apiErr.text() != "" {
			msg = apiErr.text()
		} else {
			msg = fmt.Sprintf("%s: %s", msg, body)
		}
	}
	return &remote.Error{Status: resp.StatusCode, Op: op, Path: path, Message: msg}
}
