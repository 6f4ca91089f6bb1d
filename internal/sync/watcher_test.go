package sync

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openmined/dropsync/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebounceLoop_CoalescesBursts(t *testing.T) {
	changes := make(chan string, 8)
	var calls atomic.Int32
	done := make(chan error, 1)

	go func() {
		done <- debounceLoop(context.Background(), changes, 30*time.Millisecond, func() error {
			calls.Add(1)
			return nil
		})
	}()

	for _, p := range []string{"a", "b", "c"} {
		changes <- p
	}
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	changes <- "d"
	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, 5*time.Millisecond)

	close(changes)
	assert.NoError(t, <-done)
}

func TestDebounceLoop_StopsOnFatal(t *testing.T) {
	changes := make(chan string, 1)
	changes <- "a"

	err := debounceLoop(context.Background(), changes, time.Millisecond, func() error {
		return transfer.ErrNotAuthenticated
	})
	assert.ErrorIs(t, err, transfer.ErrNotAuthenticated)
}

func TestDebounceLoop_KeepsGoingOnEntryErrors(t *testing.T) {
	changes := make(chan string, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	changes <- "a"
	done := make(chan error, 1)
	go func() {
		done <- debounceLoop(ctx, changes, time.Millisecond, func() error {
			calls.Add(1)
			return ErrLocked
		})
	}()

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	cancel()
	assert.True(t, errors.Is(<-done, context.Canceled))
}
