package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	flag "github.com/spf13/pflag"
)

// Exit codes.
const (
	exitOK    = 0
	exitError = 1
	exitMiss  = 2
)

// ErrMiss signals a lookup that found nothing. Commands return it to exit
// with code 2 without printing an error.
var ErrMiss = errors.New("not found")

// Command defines a CLI command with unified help generation.
type Command struct {
	// Flags defines command-specific flags.
	// The FlagSet name is not used - command identity comes from Usage.
	Flags *flag.FlagSet

	// Usage is the freeform usage string shown after "shmcache" in help.
	// Includes the command name and arguments/flags.
	// Examples: "get <key>", "set [--ttl T] <key> <value>"
	Usage string

	// Short is a one-line description for the global help listing.
	Short string

	// Long is the full description shown in command help.
	// If empty, Short is used instead.
	Long string

	// Exec runs the command after flags are parsed.
	Exec func(ctx context.Context, o *IO, args []string) error
}

// Name returns the command name (first word of Usage).
func (c *Command) Name() string {
	name, _, _ := strings.Cut(c.Usage, " ")

	return name
}

// HelpLine returns the short help line for the main usage display.
func (c *Command) HelpLine() string {
	return fmt.Sprintf("  %-30s %s", c.Usage, c.Short)
}

// PrintHelp prints the full help output for "shmcache <cmd> --help".
func (c *Command) PrintHelp(o *IO) {
	o.Println("Usage: shmcache", c.Usage)
	o.Println()

	desc := c.Long
	if desc == "" {
		desc = c.Short
	}

	o.Println(desc)

	if c.Flags != nil && c.Flags.HasFlags() {
		o.Println()
		o.Println("Flags:")

		var buf strings.Builder
		c.Flags.SetOutput(&buf)
		c.Flags.PrintDefaults()
		o.Printf("%s", buf.String())
	}
}

// Run parses flags and executes the command. Returns exit code.
// Handles error printing internally for consistent output ordering.
func (c *Command) Run(ctx context.Context, o *IO, args []string) int {
	c.Flags.SetOutput(&strings.Builder{}) // discard pflag output

	err := c.Flags.Parse(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			c.PrintHelp(o)

			return exitOK
		}

		o.ErrPrintln("error:", err)
		o.ErrPrintln()
		c.PrintHelp(o)

		return exitError
	}

	err = c.Exec(ctx, o, c.Flags.Args())
	if errors.Is(err, ErrMiss) {
		return exitMiss
	}

	if err != nil {
		o.ErrPrintln("error:", err)

		return exitError
	}

	return o.Finish()
}

// wantArgs checks the positional argument count.
func wantArgs(args []string, minN, maxN int, usage string) error {
	if len(args) < minN || (maxN >= 0 && len(args) > maxN) {
		return fmt.Errorf("usage: shmcache %s", usage)
	}

	return nil
}
