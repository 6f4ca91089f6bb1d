package main

import (
	"fmt"

	"github.com/openmined/dropsync/internal/version"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newVersionCmd())
}

func newVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print dropsync version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			short, _ := cmd.Flags().GetBool("short")
			userAgent, _ := cmd.Flags().GetBool("user-agent")

			out := cmd.OutOrStdout()
			switch {
			case short:
				fmt.Fprintln(out, version.Short())
			case userAgent:
				fmt.Fprintln(out, version.UserAgent())
			default:
				fmt.Fprintf(out, "%s %s\n", version.AppName, version.Detailed())
				fmt.Fprintf(out, "http backend user agent: %s\n", version.UserAgent())
			}
			return nil
		},
	}
	cmd.Flags().Bool("short", false, "print only the version and revision")
	cmd.Flags().Bool("user-agent", false, "print the User-Agent sent to the http backend")
	cmd.MarkFlagsMutuallyExclusive("short", "user-agent")
	return cmd
}
