package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/openmined/dropsync/internal/config"
	"github.com/openmined/dropsync/internal/utils"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "DROPSYNC"

var home, _ = os.UserHomeDir()

// resolveConfigPath picks the config file: the --config flag, then
// DROPSYNC_CONFIG_PATH, then the first existing default location.
func resolveConfigPath(cmd *cobra.Command) string {
	if f := cmd.Flag("config"); f != nil && f.Changed {
		return f.Value.String()
	}
	if envPath := os.Getenv(envPrefix + "_CONFIG_PATH"); envPath != "" {
		return envPath
	}

	candidates := []string{
		config.DefaultConfigPath,
		filepath.Join(home, ".config", "dropsync", "config.json"),
	}
	for _, c := range candidates {
		if utils.FileExists(c) {
			return c
		}
	}
	return config.DefaultConfigPath
}

// loadConfig merges defaults, the config file, DROPSYNC_* environment
// variables and flags, in increasing precedence.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := viper.New()

	defaults := config.Default()
	v.SetDefault("data_dir", defaults.DataDir)
	v.SetDefault("server_url", defaults.ServerURL)
	v.SetDefault("access_token", "")
	v.SetDefault("backend", defaults.Backend)
	v.SetDefault("concurrency", defaults.Concurrency)
	v.SetDefault("chunk_size", defaults.ChunkSize)
	v.SetDefault("attempts", defaults.Attempts)
	v.SetDefault("idempotent_attempts", defaults.IdempotentAttempts)
	v.SetDefault("retry_wait", defaults.RetryWait)

	path, err := utils.ResolvePath(resolveConfigPath(cmd))
	if err != nil {
		return nil, err
	}
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config read %q: %w", path, err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range []string{"s3.bucket", "s3.region", "s3.endpoint", "s3.access_key", "s3.secret_key", "s3.prefix"} {
		_ = v.BindEnv(key)
	}

	flags := cmd.Flags()
	for key, flag := range map[string]string{
		"data_dir":    "datadir",
		"server_url":  "server",
		"backend":     "backend",
		"concurrency": "concurrency",
	} {
		if f := flags.Lookup(flag); f != nil {
			_ = v.BindPFlag(key, f)
		}
	}

	cfg := &config.Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config decode: %w", err)
	}
	if cfg.S3 != nil && cfg.S3.Bucket == "" && cfg.Backend != config.BackendS3 {
		cfg.S3 = nil
	}
	cfg.Path = path

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
