package main

import (
	"fmt"

	"github.com/openmined/dropsync/internal/relpath"
	dsync "github.com/openmined/dropsync/internal/sync"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newPushCmd(), newPullCmd(), newWatchCmd())
}

func newPushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "push <local_dir> [remote_dir]",
		Short: "Upload new and newer local files to the store",
		Args:  cobra.RangeArgs(1, 2),
		RunE: withRuntime(func(cmd *cobra.Command, rt *runtime, args []string) error {
			report, err := rt.engine(printResult(cmd)).PushLocal(cmd.Context(), args[0], argOr(args, 1, relpath.Root))
			return finishReport(cmd, report, err)
		}),
	}
}

func newPullCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pull <remote_dir> [local_dir]",
		Short: "Download new and newer remote files",
		Args:  cobra.RangeArgs(1, 2),
		RunE: withRuntime(func(cmd *cobra.Command, rt *runtime, args []string) error {
			report, err := rt.engine(printResult(cmd)).PullRemote(cmd.Context(), args[0], argOr(args, 1, "."))
			return finishReport(cmd, report, err)
		}),
	}
}

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <local_dir> [remote_dir]",
		Short: "Push local changes to the store as they happen",
		Args:  cobra.RangeArgs(1, 2),
		RunE: withRuntime(func(cmd *cobra.Command, rt *runtime, args []string) error {
			debounce, _ := cmd.Flags().GetDuration("debounce")
			remoteDir := argOr(args, 1, relpath.Root)
			fmt.Fprintf(cmd.OutOrStdout(), "watching %s -> %s\n", cyan.Render(args[0]), cyan.Render(remoteDir))
			return rt.engine(printResult(cmd)).Watch(cmd.Context(), args[0], remoteDir, debounce)
		}),
	}
	cmd.Flags().Duration("debounce", dsync.DefaultDebounce, "quiet period before a push")
	return cmd
}

// argOr returns args[i], or def when it was not given.
func argOr(args []string, i int, def string) string {
	if i < len(args) {
		return args[i]
	}
	return def
}

func printResult(cmd *cobra.Command) dsync.Reporter {
	out := cmd.OutOrStdout()
	return func(r dsync.Result) {
		fmt.Fprintln(out, outcomeStyle(r.Outcome).Render(r.String()))
	}
}

func finishReport(cmd *cobra.Command, report *dsync.Report, err error) error {
	if report != nil {
		fmt.Fprintln(cmd.OutOrStdout(), report.Summary())
	}
	if err != nil || report == nil {
		return err
	}
	if n := report.Count(dsync.OutcomeFailed); n > 0 {
		return fmt.Errorf("%d item(s) failed", n)
	}
	return nil
}

