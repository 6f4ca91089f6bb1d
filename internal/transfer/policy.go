package transfer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/openmined/dropsync/internal/remote"
)

// Session holds the authenticated store. A session without a store is
// logged out.
type Session struct {
	mu    sync.RWMutex
	store remote.Store
}

func NewSession(store remote.Store) *Session {
	return &Session{store: store}
}

func (s *Session) Login(store remote.Store) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store = store
}

func (s *Session) Logout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store = nil
}

func (s *Session) LoggedIn() bool {
	return s.Store() != nil
}

func (s *Session) Store() remote.Store {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store
}

// Policy decides how an operation against the store is run.
type Policy struct {
	// Attempts is the maximum number of tries, at least 1.
	Attempts int
	// LoginRequired fails the operation without trying when logged out.
	LoginRequired bool
	// Retriable reports whether a failed attempt may be tried again.
	// Nil means DefaultRetriable.
	Retriable func(error) bool
	// Wait is multiplied by the attempt number between tries.
	Wait time.Duration
}

// DefaultRetriable retries transient store failures and short downloads.
func DefaultRetriable(err error) bool {
	return remote.IsTransient(err) || errors.Is(err, ErrIntegrityMismatch)
}

// Execute runs fn under policy p. The error of the last attempt is returned
// unchanged so callers can classify it with IsFatal and errors.Is.
func Execute[T any](ctx context.Context, s *Session, p Policy, fn func(context.Context, remote.Store) (T, error)) (T, error) {
	var zero T

	store := s.Store()
	if p.LoginRequired && store == nil {
		return zero, ErrNotAuthenticated
	}

	attempts := max(p.Attempts, 1)
	retriable := p.Retriable
	if retriable == nil {
		retriable = DefaultRetriable
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		res, err := fn(ctx, store)
		if err == nil {
			return res, nil
		}
		lastErr = err

		if ctx.Err() != nil || !retriable(err) {
			return zero, err
		}
		if attempt == attempts {
			break
		}

		slog.Debug("retrying", "attempt", attempt, "of", attempts, "error", err)
		if p.Wait > 0 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(p.Wait * time.Duration(attempt)):
			}
		}
	}

	return zero, lastErr
}
