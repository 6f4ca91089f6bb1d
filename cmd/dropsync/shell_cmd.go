package main

import (
	"fmt"
	"os"

	"github.com/openmined/dropsync/internal/shell"
	"github.com/openmined/dropsync/internal/version"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newShellCmd())
}

func newShellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive file store shell",
		Args:  cobra.NoArgs,
		RunE: withRuntime(func(cmd *cobra.Command, rt *runtime, _ []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s, type %s for commands\n", cyan.Bold(true).Render("dropsync"), version.Short(), green.Render("help"))
			if !rt.session.LoggedIn() {
				fmt.Fprintln(out, gray.Render("not logged in, run `dropsync login` first"))
			}
			sh := shell.New(rt.client, out, rt.engineOptions(nil)...)
			return sh.Run(cmd.Context(), os.Stdin)
		}),
	}
}
