package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openmined/dropsync/internal/config"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "dropsync"}
	addGlobalFlags(cmd.Flags())
	require.NoError(t, cmd.ParseFlags(args))
	return cmd
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_File(t *testing.T) {
	dataDir := t.TempDir()
	path := writeConfig(t, `{
		"data_dir": "`+filepath.ToSlash(dataDir)+`",
		"server_url": "https://files.example.com",
		"access_token": "tok",
		"chunk_size": 1024,
		"retry_wait": "250ms"
	}`)

	cfg, err := loadConfig(newTestCmd(t, "--config", path))
	require.NoError(t, err)

	assert.Equal(t, path, cfg.Path)
	assert.Equal(t, "https://files.example.com", cfg.ServerURL)
	assert.Equal(t, "tok", cfg.AccessToken)
	assert.Equal(t, int64(1024), cfg.ChunkSize)
	assert.Equal(t, 250*time.Millisecond, cfg.RetryWait)
	assert.Equal(t, config.DefaultConcurrency, cfg.Concurrency)
	assert.True(t, cfg.HasCredentials())
	assert.Nil(t, cfg.S3)
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.json")

	cfg, err := loadConfig(newTestCmd(t, "--config", path))
	require.NoError(t, err)

	assert.Equal(t, config.DefaultServerURL, cfg.ServerURL)
	assert.Equal(t, config.BackendHTTP, cfg.Backend)
	assert.False(t, cfg.HasCredentials())
}

func TestLoadConfig_Precedence(t *testing.T) {
	path := writeConfig(t, `{"server_url": "https://file.example.com", "concurrency": 2}`)
	t.Setenv("DROPSYNC_SERVER_URL", "https://env.example.com")
	t.Setenv("DROPSYNC_ACCESS_TOKEN", "from-env")

	cfg, err := loadConfig(newTestCmd(t, "--config", path, "--concurrency", "8"))
	require.NoError(t, err)

	assert.Equal(t, "https://env.example.com", cfg.ServerURL)
	assert.Equal(t, "from-env", cfg.AccessToken)
	assert.Equal(t, 8, cfg.Concurrency)

	cfg, err = loadConfig(newTestCmd(t, "--config", path, "--server", "https://flag.example.com"))
	require.NoError(t, err)
	assert.Equal(t, "https://flag.example.com", cfg.ServerURL)
}

func TestLoadConfig_S3FromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.json")
	t.Setenv("DROPSYNC_BACKEND", "s3")
	t.Setenv("DROPSYNC_S3_BUCKET", "files")
	t.Setenv("DROPSYNC_S3_ENDPOINT", "http://127.0.0.1:9000")

	cfg, err := loadConfig(newTestCmd(t, "--config", path))
	require.NoError(t, err)

	require.NotNil(t, cfg.S3)
	assert.Equal(t, config.BackendS3, cfg.Backend)
	assert.Equal(t, "files", cfg.S3.Bucket)
	assert.Equal(t, "http://127.0.0.1:9000", cfg.S3.Endpoint)
	assert.True(t, cfg.HasCredentials())
}

func TestLoadConfig_Invalid(t *testing.T) {
	path := writeConfig(t, `{"server_url": "ftp://nope"}`)
	_, err := loadConfig(newTestCmd(t, "--config", path))
	assert.ErrorIs(t, err, config.ErrInvalidServerURL)

	path = writeConfig(t, `{"backend": "s3"}`)
	_, err = loadConfig(newTestCmd(t, "--config", path))
	assert.ErrorIs(t, err, config.ErrNoS3Config)

	path = writeConfig(t, `{not json`)
	_, err = loadConfig(newTestCmd(t, "--config", path))
	assert.Error(t, err)
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv("DROPSYNC_CONFIG_PATH", "/tmp/env-config.json")
	assert.Equal(t, "/tmp/env-config.json", resolveConfigPath(newTestCmd(t)))
	assert.Equal(t, "/tmp/flag.json", resolveConfigPath(newTestCmd(t, "--config", "/tmp/flag.json")))
}
