package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/openmined/dropsync/internal/config"
	"github.com/openmined/dropsync/internal/utils"
	"github.com/openmined/dropsync/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var rootCmd = &cobra.Command{
	Use:           "dropsync",
	Short:         "Additive folder sync with a remote file store",
	Version:       version.Detailed(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// closeLog flushes the log file once the command is done.
var closeLog = func() {}

func init() {
	addGlobalFlags(rootCmd.PersistentFlags())
}

func addGlobalFlags(flags *pflag.FlagSet) {
	flags.SortFlags = false
	flags.StringP("config", "c", config.DefaultConfigPath, "config file")
	flags.StringP("datadir", "d", config.DefaultDataDir, "state, lock and log directory")
	flags.StringP("server", "s", config.DefaultServerURL, "file store API url")
	flags.String("backend", config.BackendHTTP, "store backend: http or s3")
	flags.Int("concurrency", config.DefaultConcurrency, "parallel directory walkers")
	flags.BoolP("verbose", "v", false, "debug logging")
}

func main() {
	// a missing .env is fine
	_ = godotenv.Load()

	slog.SetDefault(slog.New(newConsoleHandler(slog.LevelInfo)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	closeLog()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s\n", red.Render("ERROR"), err)
		os.Exit(1)
	}
}

func newConsoleHandler(level slog.Level) slog.Handler {
	return tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05.000",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	})
}

// setupLogging tees logs to the console and to the data dir log file.
func setupLogging(cmd *cobra.Command, cfg *config.Config) error {
	level := slog.LevelInfo
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}

	logFile := cfg.LogFilePath()
	if err := utils.EnsureParent(logFile); err != nil {
		return fmt.Errorf("log dir: %w", err)
	}
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("log file: %w", err)
	}

	interceptor := utils.NewLogInterceptor(file)
	fileHandler := slog.NewTextHandler(interceptor, &slog.HandlerOptions{
		Level: slog.LevelDebug,
		// the interceptor stamps each line
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		},
	})

	slog.SetDefault(slog.New(utils.NewFanoutHandler(newConsoleHandler(level), fileHandler)))
	closeLog = func() {
		interceptor.Close()
		file.Close()
	}
	return nil
}
