package shell

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/openmined/dropsync/internal/relpath"
	"github.com/openmined/dropsync/internal/remote"
	"github.com/openmined/dropsync/internal/utils"
)

func commandTable() []Command {
	return []Command{
		{Name: "help", Description: "list commands", Run: (*Shell).help},
		{Name: "pwd", Description: "print the current remote directory", Run: (*Shell).pwd},
		{Name: "cd", Args: "[path]", Description: "change the current remote directory", MaxArgs: 1, Run: (*Shell).cd},
		{Name: "ls", Args: "[path]", Description: "list a remote directory", MaxArgs: 1, Run: (*Shell).ls},
		{Name: "cat", Args: "<path>", Description: "print a remote file", MinArgs: 1, MaxArgs: 1, Run: (*Shell).cat},
		{Name: "mkdir", Args: "<path>", Description: "create a remote directory", MinArgs: 1, MaxArgs: 1, Run: (*Shell).mkdir},
		{Name: "get", Args: "<remote> <local>", Description: "download a file", MinArgs: 2, MaxArgs: 2, Run: (*Shell).get},
		{Name: "put", Args: "<local> <remote> [parent_rev]", Description: "upload a file, overwriting only the given revision", MinArgs: 2, MaxArgs: 3, Run: (*Shell).put},
		{Name: "put_chunk", Args: "<local> <remote> <length> [offset] [upload_id]", Description: "upload one chunk of a file", MinArgs: 3, MaxArgs: 5, Run: (*Shell).putChunk},
		{Name: "commit_chunks", Args: "<remote> <upload_id>", Description: "finish a chunked upload", MinArgs: 2, MaxArgs: 2, Run: (*Shell).commitChunks},
		{Name: "sync_local_folder_to_dropbox", Args: "[local_dir]", Description: "add a local folder to the current remote directory", MaxArgs: 1, Run: (*Shell).syncToRemote},
		{Name: "sync_dropbox_folder_to_local", Args: "[local_dir]", Description: "add the current remote directory to a local folder", MaxArgs: 1, Run: (*Shell).syncToLocal},
		{Name: "exit", Description: "leave the shell", Run: func(*Shell, context.Context, []string) error { return nil }},
	}
}

func (sh *Shell) help(_ context.Context, _ []string) error {
	sh.outMu.Lock()
	defer sh.outMu.Unlock()

	t := table.New().
		Border(lipgloss.HiddenBorder()).
		BorderTop(false).
		BorderBottom(false).
		BorderLeft(false).
		BorderRight(false).
		BorderHeader(false)
	for i := range sh.commands {
		t.Row(sh.commands[i].usage(), sh.commands[i].Description)
	}
	_, err := fmt.Fprintln(sh.out, t.String())
	return err
}

func (sh *Shell) pwd(_ context.Context, _ []string) error {
	sh.println(sh.cursor)
	return nil
}

func (sh *Shell) cd(ctx context.Context, args []string) error {
	target := relpath.Root
	if len(args) == 1 {
		target = sh.remotePath(args[0])
	}

	dir, err := sh.client.List(ctx, target)
	if err != nil {
		return err
	}
	if !dir.IsDir {
		return fmt.Errorf("%s is not a directory", target)
	}
	if dir.Path != "" {
		target = relpath.Remote(dir.Path)
	}
	sh.cursor = target
	return nil
}

func (sh *Shell) ls(ctx context.Context, args []string) error {
	target := sh.cursor
	if len(args) == 1 {
		target = sh.remotePath(args[0])
	}

	dir, err := sh.client.List(ctx, target)
	if err != nil {
		return err
	}

	children := append([]*remote.Entry(nil), dir.Contents...)
	sort.Slice(children, func(i, j int) bool { return children[i].Path < children[j].Path })
	for _, c := range children {
		name := relpath.Base(c.Path)
		if c.IsDir {
			name += "/"
		}
		sh.println(name)
	}
	return nil
}

func (sh *Shell) cat(ctx context.Context, args []string) error {
	sh.outMu.Lock()
	defer sh.outMu.Unlock()

	_, err := sh.client.Cat(ctx, sh.remotePath(args[0]), sh.out)
	return err
}

func (sh *Shell) mkdir(ctx context.Context, args []string) error {
	entry, err := sh.client.Mkdir(ctx, sh.remotePath(args[0]))
	if err != nil {
		return err
	}
	sh.println("created " + entry.Path)
	return nil
}

func (sh *Shell) get(ctx context.Context, args []string) error {
	local, err := utils.ResolvePath(args[1])
	if err != nil {
		return err
	}

	entry, err := sh.client.Get(ctx, sh.remotePath(args[0]), local)
	if err != nil {
		return err
	}
	sh.printEntry(entry)
	return nil
}

func (sh *Shell) put(ctx context.Context, args []string) error {
	local, err := utils.ResolvePath(args[0])
	if err != nil {
		return err
	}

	opts := remote.PutOptions{}
	if len(args) == 3 {
		opts = remote.PutOptions{Overwrite: true, ParentRev: args[2]}
	}

	sh.printf("uploading %s... ", args[0])
	entry, err := sh.client.Put(ctx, local, sh.remotePath(args[1]), opts)
	if err != nil {
		sh.println("failed")
		return err
	}
	sh.println("done")
	sh.printEntry(entry)
	return nil
}

func (sh *Shell) putChunk(ctx context.Context, args []string) error {
	local, err := utils.ResolvePath(args[0])
	if err != nil {
		return err
	}
	length, err := parseSize("length", args[2])
	if err != nil {
		return err
	}

	var offset int64
	if len(args) > 3 {
		if offset, err = parseSize("offset", args[3]); err != nil {
			return err
		}
	}
	var uploadID string
	if len(args) > 4 {
		uploadID = args[4]
	}

	res, err := sh.client.PutChunk(ctx, local, sh.remotePath(args[1]), length, offset, uploadID)
	if err != nil {
		return err
	}
	sh.printf("upload %s: bytes [%d-%d)\n", res.UploadID, offset, res.Offset)
	return nil
}

func (sh *Shell) commitChunks(ctx context.Context, args []string) error {
	entry, err := sh.client.CommitChunks(ctx, sh.remotePath(args[0]), args[1], remote.PutOptions{})
	if err != nil {
		return err
	}
	sh.printEntry(entry)
	return nil
}

func (sh *Shell) syncToRemote(ctx context.Context, args []string) error {
	local, err := localDirArg(args)
	if err != nil {
		return err
	}
	if !utils.DirExists(local) {
		return fmt.Errorf("%s is not a directory", local)
	}

	report, err := sh.engine.PushLocal(ctx, local, sh.cursor)
	sh.println(report.Summary())
	return err
}

func (sh *Shell) syncToLocal(ctx context.Context, args []string) error {
	local, err := localDirArg(args)
	if err != nil {
		return err
	}

	report, err := sh.engine.PullRemote(ctx, sh.cursor, local)
	sh.println(report.Summary())
	return err
}

func (sh *Shell) printEntry(e *remote.Entry) {
	sh.printf("%s  %s  rev %s  modified %s\n", e.Path, humanize.IBytes(uint64(e.Bytes)), e.Rev, e.Modified)
}

func localDirArg(args []string) (string, error) {
	dir := "."
	if len(args) == 1 {
		dir = args[0]
	}
	return utils.ResolvePath(dir)
}

func parseSize(name, s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer, got %q", ErrUsage, name, s)
	}
	return n, nil
}
