package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/shmcache/internal/config"
	"github.com/calvinalkan/shmcache/internal/fs"
)

type globalFlags struct {
	workDir     string
	configPath  string
	key         string
	size        string
	hash        string
	serializer  string
	compression string
	level       int
	lockDir     string
	verbose     bool
	help        bool

	levelSet  bool
	remaining []string
}

func newGlobalFlagSet(g *globalFlags) *flag.FlagSet {
	fset := flag.NewFlagSet("shmcache", flag.ContinueOnError)
	fset.SetInterspersed(false)
	fset.SetOutput(io.Discard)

	fset.StringVarP(&g.workDir, "cwd", "C", "", "Run as if started in `dir`")
	fset.StringVarP(&g.configPath, "config", "c", "", "Use specified config `file`")
	fset.StringVar(&g.key, "key", "", "Segment key (decimal, 0x hex, 0o octal)")
	fset.StringVar(&g.size, "size", "", "Segment size when created (e.g. 1M, 512K)")
	fset.StringVar(&g.hash, "hash", "", "Key hash: crc32, xxh64, fnv1a64, sha256")
	fset.StringVar(&g.serializer, "serializer", "", "Value encoding: native, compact-binary")
	fset.StringVar(&g.compression, "compression", "", "Compressor: none, zlib, zstd, lz4")
	fset.IntVar(&g.level, "level", 0, "Compression level 0..9 (0 disables)")
	fset.StringVar(&g.lockDir, "lock-dir", "", "Directory for lock files")
	fset.BoolVarP(&g.verbose, "verbose", "v", false, "Log debug events to stderr")
	fset.BoolVarP(&g.help, "help", "h", false, "Show help")

	return fset
}

func parseGlobalFlags(args []string) (globalFlags, error) {
	var g globalFlags

	fset := newGlobalFlagSet(&g)

	if err := fset.Parse(args); err != nil {
		return globalFlags{}, err
	}

	g.levelSet = fset.Changed("level")
	g.remaining = fset.Args()

	return g, nil
}

func (g globalFlags) overrides() (config.Config, error) {
	cfg := config.Config{
		Size:          g.size,
		HashAlgorithm: g.hash,
		Serializer:    g.serializer,
		Compression:   g.compression,
		LockDir:       g.lockDir,
	}

	if g.key != "" {
		key, err := config.ParseKey(g.key)
		if err != nil {
			return config.Config{}, err
		}

		cfg.Key = config.Key(key)
	}

	if g.levelSet {
		level := g.level
		cfg.CompressionLevel = &level
	}

	return cfg, nil
}

// Run is the main entry point. Returns exit code.
func Run(in io.Reader, out io.Writer, errOut io.Writer, args []string, env map[string]string) int {
	if len(args) < 2 {
		printUsage(out)

		return exitOK
	}

	flags, err := parseGlobalFlags(args[1:])
	if err != nil {
		fprintln(errOut, "error:", err)
		printUsage(errOut)

		return exitError
	}

	if flags.help || len(flags.remaining) == 0 {
		printUsage(out)

		return exitOK
	}

	overrides, err := flags.overrides()
	if err != nil {
		fprintln(errOut, "error:", err)

		return exitError
	}

	cfg, err := config.Load(config.LoadInput{
		WorkDirOverride: flags.workDir,
		ConfigPath:      flags.configPath,
		Overrides:       overrides,
		Env:             env,
	})
	if err != nil {
		fprintln(errOut, "error:", err)

		return exitError
	}

	a := &app{
		cfg:    cfg,
		logger: newLogger(errOut, flags.verbose),
		fs:     fs.NewReal(),
		env:    env,
	}

	defer func() { _ = a.close() }()

	commands := allCommands(a, in)

	name := flags.remaining[0]

	cmd, ok := commands[name]
	if !ok {
		fprintln(errOut, "error: unknown command:", name)
		printUsage(errOut)

		return exitError
	}

	o := NewIO(out, errOut)

	code := cmd.Run(context.Background(), o, flags.remaining[1:])

	if err := a.close(); err != nil && code == exitOK {
		fprintln(errOut, "error:", err)

		return exitError
	}

	return code
}

// newLogger logs warnings to stderr, or everything with verbose.
func newLogger(errOut io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}

	return slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: level}))
}

func allCommands(a *app, in io.Reader) map[string]*Command {
	list := commandList(a, in)

	m := make(map[string]*Command, len(list))
	for _, c := range list {
		m[c.Name()] = c
	}

	return m
}

func commandList(a *app, in io.Reader) []*Command {
	return []*Command{
		GetCmd(a),
		MGetCmd(a),
		SetCmd(a),
		MSetCmd(a),
		DelCmd(a),
		HasCmd(a),
		ClearCmd(a),
		DestroyCmd(a),
		StatCmd(a),
		DumpCmd(a),
		ReplCmd(a, in),
		PrintConfigCmd(a),
	}
}

func fprintln(w io.Writer, a ...any) {
	_, _ = fmt.Fprintln(w, a...)
}

func printUsage(w io.Writer) {
	fprintln(w, `shmcache - key/value cache in System V shared memory

Usage: shmcache [options] <command> [args]

Options:`)

	var g globalFlags

	var buf strings.Builder

	fset := newGlobalFlagSet(&g)
	fset.SetOutput(&buf)
	fset.PrintDefaults()
	_, _ = io.WriteString(w, buf.String())

	fprintln(w)
	fprintln(w, "Commands:")

	for _, c := range commandList(&app{}, nil) {
		fprintln(w, c.HelpLine())
	}
}
