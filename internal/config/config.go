package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/openmined/dropsync/internal/remote/s3store"
	"github.com/openmined/dropsync/internal/utils"
)

const (
	BackendHTTP = "http"
	BackendS3   = "s3"

	DefaultConcurrency        = 4
	DefaultChunkSize    int64 = 4 << 20
	DefaultAttempts           = 1
	DefaultIdempotent         = 5
	DefaultRetryWait          = time.Second
)

var (
	home, _           = os.UserHomeDir()
	DefaultDataDir    = filepath.Join(home, ".dropsync")
	DefaultConfigPath = filepath.Join(DefaultDataDir, "config.json")
	DefaultServerURL  = "http://127.0.0.1:8080"
)

var (
	ErrInvalidServerURL = errors.New("invalid server url")
	ErrUnknownBackend   = errors.New("unknown backend")
	ErrNoS3Config       = errors.New("s3 backend needs an s3 block")
)

type Config struct {
	DataDir            string          `json:"data_dir" mapstructure:"data_dir"`
	ServerURL          string          `json:"server_url" mapstructure:"server_url"`
	AccessToken        string          `json:"access_token,omitempty" mapstructure:"access_token"`
	Backend            string          `json:"backend" mapstructure:"backend"`
	S3                 *s3store.Config `json:"s3,omitempty" mapstructure:"s3"`
	Concurrency        int             `json:"concurrency" mapstructure:"concurrency"`
	ChunkSize          int64           `json:"chunk_size" mapstructure:"chunk_size"`
	Attempts           int             `json:"attempts" mapstructure:"attempts"`
	IdempotentAttempts int             `json:"idempotent_attempts" mapstructure:"idempotent_attempts"`
	RetryWait          time.Duration   `json:"retry_wait" mapstructure:"retry_wait"`
	Path               string          `json:"-" mapstructure:"-"`
}

func Default() *Config {
	return &Config{
		DataDir:            DefaultDataDir,
		ServerURL:          DefaultServerURL,
		Backend:            BackendHTTP,
		Concurrency:        DefaultConcurrency,
		ChunkSize:          DefaultChunkSize,
		Attempts:           DefaultAttempts,
		IdempotentAttempts: DefaultIdempotent,
		RetryWait:          DefaultRetryWait,
		Path:               DefaultConfigPath,
	}
}

// Validate fills defaults for unset tunables, resolves the data dir and
// checks the backend settings.
func (c *Config) Validate() error {
	var err error

	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	if c.DataDir, err = utils.ResolvePath(c.DataDir); err != nil {
		return fmt.Errorf("data dir: %w", err)
	}

	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.Attempts <= 0 {
		c.Attempts = DefaultAttempts
	}
	if c.IdempotentAttempts <= 0 {
		c.IdempotentAttempts = DefaultIdempotent
	}
	if c.RetryWait < 0 {
		c.RetryWait = DefaultRetryWait
	}

	switch c.Backend {
	case "", BackendHTTP:
		c.Backend = BackendHTTP
		u, err := url.Parse(c.ServerURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: %q", ErrInvalidServerURL, c.ServerURL)
		}
	case BackendS3:
		if c.S3 == nil {
			return ErrNoS3Config
		}
		if c.S3.SpoolDir == "" {
			c.S3.SpoolDir = filepath.Join(c.DataDir, "spool")
		}
		if err := c.S3.Validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.Backend)
	}

	return nil
}

// HasCredentials reports whether the backend can be used without logging in.
func (c *Config) HasCredentials() bool {
	return c.Backend == BackendS3 || c.AccessToken != ""
}

func (c *Config) LogFilePath() string {
	return filepath.Join(c.DataDir, "logs", "dropsync.log")
}

func (c *Config) LedgerPath() string {
	return filepath.Join(c.DataDir, "state", "chunks.db")
}

func (c *Config) LockDir() string {
	return filepath.Join(c.DataDir, "locks")
}

// Save writes the config as JSON. The file may hold a token so it is only
// readable by the owner.
func (c *Config) Save(path string) error {
	if path == "" {
		path = c.Path
	}
	if err := utils.EnsureParent(path); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return err
	}
	c.Path = path
	return nil
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	cfg.Path = path
	return cfg, nil
}
