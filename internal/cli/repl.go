package cli

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"
)

const replHistoryName = ".shmcache_history"

// ReplCmd returns the repl command.
func ReplCmd(a *app, in io.Reader) *Command {
	return &Command{
		Flags: flag.NewFlagSet("repl", flag.ContinueOnError),
		Usage: "repl",
		Short: "Interactive shell over one cache handle",
		Long: "Read commands line by line: get, set, del, has, stat, clear, destroy, help, exit.\n" +
			"On a terminal, line editing and history (~/" + replHistoryName + ") are available.",
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			r := &repl{app: a, io: o}

			if f, ok := in.(*os.File); ok && f == os.Stdin && liner.TerminalSupported() {
				return r.runTerminal(ctx)
			}

			return r.runLines(ctx, in)
		},
	}
}

type repl struct {
	app *app
	io  *IO
}

// historyFile returns the path to the history file, or "" without a home
// directory.
func (r *repl) historyFile() string {
	home := r.app.env["HOME"]
	if home == "" {
		return ""
	}

	return filepath.Join(home, replHistoryName)
}

func (r *repl) runTerminal(ctx context.Context) error {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)
	line.SetCompleter(r.complete)

	if path := r.historyFile(); path != "" {
		if data, err := r.app.fs.ReadFile(path); err == nil {
			_, _ = line.ReadHistory(bytes.NewReader(data))
		}
	}

	defer r.saveHistory(line)

	r.io.Println("shmcache repl - type 'help' for commands")

	for ctx.Err() == nil {
		input, err := line.Prompt("shmcache> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				return nil
			}

			return err
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		line.AppendHistory(input)

		if r.exec(input) {
			return nil
		}
	}

	return ctx.Err()
}

// runLines reads commands from a non-terminal input such as a pipe.
func (r *repl) runLines(ctx context.Context, in io.Reader) error {
	if in == nil {
		return nil
	}

	scanner := bufio.NewScanner(in)

	for ctx.Err() == nil && scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input == "" || strings.HasPrefix(input, "#") {
			continue
		}

		if r.exec(input) {
			return nil
		}
	}

	return scanner.Err()
}

// saveHistory writes the history file atomically.
func (r *repl) saveHistory(line *liner.State) {
	path := r.historyFile()
	if path == "" {
		return
	}

	var buf bytes.Buffer

	if _, err := line.WriteHistory(&buf); err != nil {
		return
	}

	if err := r.app.fs.WriteFileAtomic(path, buf.Bytes()); err != nil {
		r.app.logger.Warn("saving repl history", "path", path, "error", err)
	}
}

var replCommands = []string{"get", "set", "del", "has", "stat", "clear", "destroy", "help", "exit"}

func (r *repl) complete(line string) []string {
	var out []string

	for _, c := range replCommands {
		if strings.HasPrefix(c, strings.ToLower(line)) {
			out = append(out, c)
		}
	}

	return out
}

// exec runs one line and reports whether the loop should stop. Errors are
// printed and do not end the session.
func (r *repl) exec(input string) bool {
	parts := strings.Fields(input)
	cmd, args := strings.ToLower(parts[0]), parts[1:]

	var err error

	switch cmd {
	case "exit", "quit", "q":
		return true
	case "help", "?":
		r.printHelp()
	case "get":
		if err = wantArgs(args, 1, 1, "get <key>"); err == nil {
			err = execGet(r.app, r.io, args[0])
		}
	case "set":
		err = r.set(args)
	case "del", "delete":
		if err = wantArgs(args, 1, -1, "del <key>..."); err == nil {
			err = execDel(r.app, r.io, args)
		}
	case "has":
		if err = wantArgs(args, 1, 1, "has <key>"); err == nil {
			if err = execHas(r.app, r.io, args[0]); errors.Is(err, ErrMiss) {
				err = nil
			}
		}
	case "stat":
		err = execStat(r.app, r.io)
	case "clear":
		var c cacheHandle

		if c, err = r.app.open(); err == nil {
			err = c.Clear()
		}
	case "destroy":
		var c cacheHandle

		if c, err = r.app.open(); err == nil {
			err = c.Destroy()
		}

		if err == nil {
			// The handle is unusable after destroy; reopen lazily.
			err = r.app.close()
		}
	default:
		r.io.Println("unknown command:", cmd, "(type 'help' for commands)")

		return false
	}

	switch {
	case errors.Is(err, ErrMiss):
		r.io.Println("(nil)")
	case err != nil:
		r.io.Println("error:", err)
	}

	return false
}

// set accepts "set [ttl=T] <key> <value...>"; the value may contain spaces.
func (r *repl) set(args []string) error {
	ttl := ""

	if len(args) > 0 && strings.HasPrefix(args[0], "ttl=") {
		ttl = strings.TrimPrefix(args[0], "ttl=")
		args = args[1:]
	}

	if err := wantArgs(args, 2, -1, "set [ttl=T] <key> <value>"); err != nil {
		return err
	}

	return execSet(r.app, args[0], strings.Join(args[1:], " "), ttl)
}

func (r *repl) printHelp() {
	r.io.Println(`Commands:
  get <key>                   Print the value (or (nil))
  set [ttl=T] <key> <value>   Store a value; T is seconds or a duration
  del <key>...                Delete keys, print how many were removed
  has <key>                   Print true or false
  stat                        Show segment usage
  clear                       Remove every entry
  destroy                     Remove the segment
  help                        Show this help
  exit                        Leave the shell`)
}
