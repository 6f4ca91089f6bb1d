package transfer

import (
	"context"
	"errors"
	"fmt"

	"github.com/openmined/dropsync/internal/remote"
)

var (
	ErrNotAuthenticated  = errors.New("transfer: not logged in")
	ErrIntegrityMismatch = errors.New("transfer: downloaded size does not match metadata")
	ErrInvalidArgument   = errors.New("transfer: invalid argument")
	ErrOffsetMismatch    = errors.New("transfer: chunk offset does not match upload session")
	ErrUnknownUpload     = errors.New("transfer: unknown upload id")
)

// LocalIOError is a failure reading or writing the local filesystem.
type LocalIOError struct {
	Op   string
	Path string
	Err  error
}

func (e *LocalIOError) Error() string {
	return fmt.Sprintf("local %s %q: %v", e.Op, e.Path, e.Err)
}

func (e *LocalIOError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err must abort a whole sync walk rather than
// just the entry that produced it.
func IsFatal(err error) bool {
	return errors.Is(err, ErrNotAuthenticated) ||
		errors.Is(err, remote.ErrStorageExhausted) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
