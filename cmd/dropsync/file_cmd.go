package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/openmined/dropsync/internal/relpath"
	"github.com/openmined/dropsync/internal/remote"
	"github.com/openmined/dropsync/internal/transfer"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(
		newLsCmd(),
		newMkdirCmd(),
		newGetCmd(),
		newCatCmd(),
		newPutCmd(),
		newPutChunkCmd(),
		newCommitChunksCmd(),
		newChunksCmd(),
	)
}

func newLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls [remote_dir]",
		Short: "List a remote folder",
		Args:  cobra.MaximumNArgs(1),
		RunE: withRuntime(func(cmd *cobra.Command, rt *runtime, args []string) error {
			dir := relpath.Root
			if len(args) == 1 {
				dir = relpath.Remote(args[0])
			}
			entry, err := rt.client.List(cmd.Context(), dir)
			if err != nil {
				return err
			}
			printListing(cmd.OutOrStdout(), entry)
			return nil
		}),
	}
}

func newMkdirCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <remote_dir>",
		Short: "Create a remote folder",
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(func(cmd *cobra.Command, rt *runtime, args []string) error {
			entry, err := rt.client.Mkdir(cmd.Context(), relpath.Remote(args[0]))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", green.Render(entry.Path))
			return nil
		}),
	}
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <remote_file> <local_file>",
		Short: "Download a file",
		Args:  cobra.ExactArgs(2),
		RunE: withRuntime(func(cmd *cobra.Command, rt *runtime, args []string) error {
			entry, err := rt.client.Get(cmd.Context(), relpath.Remote(args[0]), args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s (%s)\n", entry.Path, args[1], humanize.IBytes(uint64(entry.Bytes)))
			return nil
		}),
	}
}

func newCatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cat <remote_file>",
		Short: "Print a remote file",
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(func(cmd *cobra.Command, rt *runtime, args []string) error {
			_, err := rt.client.Cat(cmd.Context(), relpath.Remote(args[0]), cmd.OutOrStdout())
			return err
		}),
	}
}

func newPutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "put <local_file> <remote_file>",
		Short: "Upload a file, in chunks when it is large",
		Args:  cobra.ExactArgs(2),
		RunE: withRuntime(func(cmd *cobra.Command, rt *runtime, args []string) error {
			overwrite, _ := cmd.Flags().GetBool("overwrite")
			parentRev, _ := cmd.Flags().GetString("parent-rev")
			opts := remote.PutOptions{Overwrite: overwrite, ParentRev: parentRev}

			entry, err := rt.client.Upload(cmd.Context(), args[0], relpath.Remote(args[1]), opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s rev %s (%s)\n", args[0], entry.Path, entry.Rev, humanize.IBytes(uint64(entry.Bytes)))
			return nil
		}),
	}
	cmd.Flags().Bool("overwrite", false, "replace an existing remote file")
	cmd.Flags().String("parent-rev", "", "only replace the remote file at this revision")
	return cmd
}

func newPutChunkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put-chunk <local_file> <remote_file> <length> [offset] [upload_id]",
		Short: "Send one chunk of a file to an upload session",
		Args:  cobra.RangeArgs(3, 5),
		RunE: withRuntime(func(cmd *cobra.Command, rt *runtime, args []string) error {
			length, err := strconv.ParseInt(args[2], 10, 64)
			if err != nil {
				return fmt.Errorf("length: %w", err)
			}
			offset, err := strconv.ParseInt(argOr(args, 3, "0"), 10, 64)
			if err != nil {
				return fmt.Errorf("offset: %w", err)
			}
			uploadID := argOr(args, 4, "")

			res, err := rt.client.PutChunk(cmd.Context(), args[0], relpath.Remote(args[1]), length, offset, uploadID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "upload %s: bytes [%d-%d)\n", res.UploadID, offset, res.Offset)
			return nil
		}),
	}
}

func newCommitChunksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "commit-chunks <remote_file> <upload_id>",
		Short: "Finish an upload session",
		Args:  cobra.ExactArgs(2),
		RunE: withRuntime(func(cmd *cobra.Command, rt *runtime, args []string) error {
			overwrite, _ := cmd.Flags().GetBool("overwrite")
			entry, err := rt.client.CommitChunks(cmd.Context(), relpath.Remote(args[0]), args[1], remote.PutOptions{Overwrite: overwrite})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "committed %s rev %s (%s)\n", entry.Path, entry.Rev, humanize.IBytes(uint64(entry.Bytes)))
			return nil
		}),
	}
	cmd.Flags().Bool("overwrite", false, "replace an existing remote file")
	return cmd
}

func newChunksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chunks",
		Short: "List unfinished upload sessions",
		Args:  cobra.NoArgs,
		RunE: withRuntime(func(cmd *cobra.Command, rt *runtime, _ []string) error {
			sessions, err := rt.ledger.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), gray.Render("no open uploads"))
				return nil
			}
			printSessions(cmd.OutOrStdout(), sessions)
			return nil
		}),
	}
}

func printListing(out io.Writer, entry *remote.Entry) {
	t := plainTable()
	for _, child := range entry.Contents {
		name := relpath.Base(child.Path)
		if child.IsDir {
			t.Row(cyan.Render(name+"/"), "-", child.Modified)
			continue
		}
		t.Row(name, humanize.IBytes(uint64(child.Bytes)), child.Modified)
	}
	fmt.Fprintln(out, t.String())
}

func printSessions(out io.Writer, sessions []transfer.ChunkSession) {
	t := plainTable().
		Headers("UPLOAD ID", "LOCAL", "REMOTE", "SENT", "UPDATED").
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return bold
			}
			return lipgloss.NewStyle()
		})
	for _, s := range sessions {
		t.Row(s.UploadID, s.LocalPath, s.RemotePath,
			humanize.IBytes(uint64(s.Offset)), humanize.Time(time.Unix(s.UpdatedAt, 0)))
	}
	fmt.Fprintln(out, t.String())
}
