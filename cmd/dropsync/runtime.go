package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/openmined/dropsync/internal/config"
	"github.com/openmined/dropsync/internal/remote"
	"github.com/openmined/dropsync/internal/remote/httpstore"
	"github.com/openmined/dropsync/internal/remote/s3store"
	dsync "github.com/openmined/dropsync/internal/sync"
	"github.com/openmined/dropsync/internal/transfer"
	"github.com/openmined/dropsync/internal/utils"
	"github.com/spf13/cobra"
)

// runtime is everything a command needs to talk to the store.
type runtime struct {
	cfg     *config.Config
	session *transfer.Session
	client  *transfer.Client
	ledger  *transfer.ChunkLedger
}

func newStore(ctx context.Context, cfg *config.Config) (remote.Store, error) {
	switch cfg.Backend {
	case config.BackendS3:
		return s3store.New(ctx, cfg.S3)
	default:
		return httpstore.New(&httpstore.Config{
			BaseURL:     cfg.ServerURL,
			AccessToken: cfg.AccessToken,
		})
	}
}

// newRuntime loads the config, sets up logging and opens the chunk ledger.
// Without credentials the session starts logged out.
func newRuntime(cmd *cobra.Command) (*runtime, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if err := setupLogging(cmd, cfg); err != nil {
		return nil, err
	}

	ctx := cmd.Context()
	session := transfer.NewSession(nil)
	if cfg.HasCredentials() {
		store, err := newStore(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("store: %w", err)
		}
		session.Login(store)
	}

	if err := utils.EnsureParent(cfg.LedgerPath()); err != nil {
		return nil, err
	}
	ledger, err := transfer.OpenLedger(ctx, cfg.LedgerPath())
	if err != nil {
		return nil, fmt.Errorf("chunk ledger: %w", err)
	}

	client := transfer.New(session,
		transfer.WithAttempts(cfg.Attempts),
		transfer.WithIdempotentAttempts(cfg.IdempotentAttempts),
		transfer.WithRetryWait(cfg.RetryWait),
		transfer.WithChunkSize(cfg.ChunkSize),
		transfer.WithLedger(ledger),
	)

	slog.Debug("dropsync runtime",
		"config", cfg.Path,
		"datadir", cfg.DataDir,
		"backend", cfg.Backend,
		"token", utils.MaskSecret(cfg.AccessToken),
		"loggedIn", session.LoggedIn(),
	)

	return &runtime{cfg: cfg, session: session, client: client, ledger: ledger}, nil
}

func (rt *runtime) engineOptions(reporter dsync.Reporter) []dsync.Option {
	opts := []dsync.Option{
		dsync.WithConcurrency(rt.cfg.Concurrency),
		dsync.WithLockDir(rt.cfg.LockDir()),
	}
	if reporter != nil {
		opts = append(opts, dsync.WithReporter(reporter))
	}
	return opts
}

func (rt *runtime) engine(reporter dsync.Reporter) *dsync.Engine {
	return dsync.NewEngine(rt.client, rt.engineOptions(reporter)...)
}

func (rt *runtime) Close() error {
	return rt.ledger.Close()
}

// withRuntime wraps a command body with runtime setup and teardown.
func withRuntime(fn func(cmd *cobra.Command, rt *runtime, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd)
		if err != nil {
			return err
		}
		defer rt.Close()
		return fn(cmd, rt, args)
	}
}
