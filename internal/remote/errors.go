package remote

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound         = errors.New("remote: not found")
	ErrConflict         = errors.New("remote: revision conflict")
	ErrAlreadyExists    = errors.New("remote: already exists")
	ErrStorageExhausted = errors.New("remote: out of space")
)

// StatusInsufficientStorage is reported by the store when the account quota
// is exhausted. Some deployments report a bare 500 for the same condition.
const StatusInsufficientStorage = http.StatusInsufficientStorage

// Error is an error returned by the store. Status is the numeric status the
// store reported, 0 when the request never got a response.
type Error struct {
	Status  int
	Op      string
	Path    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Path != "" {
		return fmt.Sprintf("remote %s %q: %d %s", e.Op, e.Path, e.Status, msg)
	}
	return fmt.Sprintf("remote %s: %d %s", e.Op, e.Status, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is maps the status code onto the package sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrConflict:
		return e.Status == http.StatusConflict || e.Status == http.StatusPreconditionFailed
	case ErrAlreadyExists:
		return e.Status == http.StatusForbidden
	case ErrStorageExhausted:
		return e.Status == StatusInsufficientStorage || e.Status == http.StatusInternalServerError
	}
	return false
}

// Transient reports whether the failure may go away on retry: transport
// failures, throttling and server side errors.
func (e *Error) Transient() bool {
	return e.Status == 0 || e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// StatusOf returns the store status carried by err, or 0.
func StatusOf(err error) int {
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.Status
	}
	return 0
}

// IsTransient reports whether err is a store error worth retrying.
func IsTransient(err error) bool {
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.Transient()
	}
	return false
}
