// Package shell is the interactive front end. It owns the remote cursor and
// dispatches each input line through a static command table.
package shell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	gosync "sync"

	"github.com/openmined/dropsync/internal/relpath"
	dsync "github.com/openmined/dropsync/internal/sync"
	"github.com/openmined/dropsync/internal/transfer"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrUsage          = errors.New("usage")
)

// Command is one entry of the command table.
type Command struct {
	Name        string
	Args        string
	Description string
	MinArgs     int
	MaxArgs     int
	Run         func(sh *Shell, ctx context.Context, args []string) error
}

func (c *Command) usage() string {
	if c.Args == "" {
		return c.Name
	}
	return c.Name + " " + c.Args
}

type Shell struct {
	client   *transfer.Client
	engine   *dsync.Engine
	commands []Command
	index    map[string]*Command

	outMu gosync.Mutex
	out   io.Writer

	cursor string
}

// New creates a shell writing to out. The sync options configure the engine
// behind the sync commands.
func New(client *transfer.Client, out io.Writer, opts ...dsync.Option) *Shell {
	sh := &Shell{
		client:   client,
		out:      out,
		cursor:   relpath.Root,
		commands: commandTable(),
	}

	opts = append(opts, dsync.WithReporter(func(r dsync.Result) { sh.println(r.String()) }))
	sh.engine = dsync.NewEngine(client, opts...)

	sh.index = make(map[string]*Command, len(sh.commands))
	for i := range sh.commands {
		sh.index[sh.commands[i].Name] = &sh.commands[i]
	}
	return sh
}

func (sh *Shell) Cursor() string {
	return sh.cursor
}

func (sh *Shell) Prompt() string {
	return "dropsync:" + sh.cursor + "> "
}

// Exec runs one input line. exit is true once the user asked to leave.
func (sh *Shell) Exec(ctx context.Context, line string) (exit bool, err error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}

	name, args := fields[0], fields[1:]
	if name == "exit" || name == "quit" {
		return true, nil
	}

	cmd, ok := sh.index[name]
	if !ok {
		return false, fmt.Errorf("%w: %s (try help)", ErrUnknownCommand, name)
	}
	if len(args) < cmd.MinArgs || len(args) > cmd.MaxArgs {
		return false, fmt.Errorf("%w: %s", ErrUsage, cmd.usage())
	}
	return false, cmd.Run(sh, ctx, args)
}

// Run reads lines from in until EOF, exit or ctx ends. Command errors are
// printed and do not end the session.
func (sh *Shell) Run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for {
		sh.print(sh.Prompt())
		if !scanner.Scan() {
			sh.println("")
			return scanner.Err()
		}

		exit, err := sh.Exec(ctx, scanner.Text())
		if err != nil {
			sh.println("error: " + err.Error())
		}
		if exit {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// remotePath resolves a path argument against the cursor.
func (sh *Shell) remotePath(arg string) string {
	return relpath.Cd(sh.cursor, arg)
}

func (sh *Shell) print(s string) {
	sh.outMu.Lock()
	defer sh.outMu.Unlock()
	fmt.Fprint(sh.out, s)
}

func (sh *Shell) println(s string) {
	sh.outMu.Lock()
	defer sh.outMu.Unlock()
	fmt.Fprintln(sh.out, s)
}

func (sh *Shell) printf(format string, args ...any) {
	sh.outMu.Lock()
	defer sh.outMu.Unlock()
	fmt.Fprintf(sh.out, format, args...)
}
