package sync

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/openmined/dropsync/internal/transfer"
	"github.com/rjeczalik/notify"
)

const (
	DefaultDebounce = 2 * time.Second
	eventBufferSize = 64
)

// Watch pushes localRoot to remoteRoot once, then again every time the local
// tree changes and has been quiet for debounce. It returns when ctx ends or a
// push fails with an error that aborts the walk.
func (e *Engine) Watch(ctx context.Context, localRoot, remoteRoot string, debounce time.Duration) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	abs, err := filepath.Abs(localRoot)
	if err != nil {
		return err
	}

	raw := make(chan notify.EventInfo, eventBufferSize)
	if err := notify.Watch(filepath.Join(abs, "..."), raw, notify.Create, notify.Write, notify.Rename); err != nil {
		return err
	}
	defer notify.Stop(raw)

	ignore := NewIgnoreList(abs)
	ignore.Load()

	changes := make(chan string, eventBufferSize)
	go func() {
		defer close(changes)
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-raw:
				rel, err := filepath.Rel(abs, ev.Path())
				if err != nil || ignore.ShouldIgnore(filepath.ToSlash(rel), false) {
					continue
				}
				select {
				case changes <- ev.Path():
				default:
					// one queued change is enough to trigger a push
				}
			}
		}
	}()

	push := func() error {
		report, err := e.PushLocal(ctx, localRoot, remoteRoot)
		if err != nil {
			return err
		}
		slog.Info("watch push", "summary", report.Summary())
		return nil
	}

	slog.Info("watch start", "local", abs, "remote", remoteRoot, "debounce", debounce)
	if err := push(); err != nil {
		return err
	}

	err = debounceLoop(ctx, changes, debounce, push)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// debounceLoop calls fn once changes has been quiet for wait after at least
// one change. It returns when ctx ends, changes is closed, or fn fails with
// a fatal error.
func debounceLoop(ctx context.Context, changes <-chan string, wait time.Duration, fn func() error) error {
	timer := time.NewTimer(wait)
	timer.Stop()
	pending := false

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case p, ok := <-changes:
			if !ok {
				return nil
			}
			slog.Debug("watch change", "path", p)
			pending = true
			timer.Reset(wait)
		case <-timer.C:
			if !pending {
				continue
			}
			pending = false
			if err := fn(); err != nil {
				slog.Error("watch push", "error", err)
				if transfer.IsFatal(err) {
					return err
				}
			}
		}
	}
}
