package cli

import (
	"context"
	"fmt"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/shmcache/pkg/shmcache"
)

// SetCmd returns the set command.
func SetCmd(a *app) *Command {
	fset := flag.NewFlagSet("set", flag.ContinueOnError)
	ttl := fset.StringP("ttl", "t", "", "Time to live: seconds (60) or duration (1m30s)")

	return &Command{
		Flags: fset,
		Usage: "set [--ttl T] <key> <value>",
		Short: "Store a value",
		Long:  "Store value under key, replacing any previous value. Without --ttl the value never expires.",
		Exec: func(_ context.Context, _ *IO, args []string) error {
			if err := wantArgs(args, 2, 2, "set [--ttl T] <key> <value>"); err != nil {
				return err
			}

			return execSet(a, args[0], args[1], *ttl)
		},
	}
}

func execSet(a *app, key, value, ttlArg string) error {
	ttl, err := shmcache.ParseTTL(ttlArg)
	if err != nil {
		return err
	}

	c, err := a.open()
	if err != nil {
		return err
	}

	return c.Set(key, value, ttl)
}

// MSetCmd returns the mset command.
func MSetCmd(a *app) *Command {
	fset := flag.NewFlagSet("mset", flag.ContinueOnError)
	ttl := fset.StringP("ttl", "t", "", "Time to live for every entry")

	return &Command{
		Flags: fset,
		Usage: "mset [--ttl T] <key=value>...",
		Short: "Store several values",
		Long: "Store each key=value pair with the same TTL. Every pair is attempted;\n" +
			"failures are logged and the command exits with code 1.",
		Exec: func(_ context.Context, o *IO, args []string) error {
			if err := wantArgs(args, 1, -1, "mset [--ttl T] <key=value>..."); err != nil {
				return err
			}

			return execMSet(a, o, args, *ttl)
		},
	}
}

func execMSet(a *app, o *IO, args []string, ttlArg string) error {
	ttl, err := shmcache.ParseTTL(ttlArg)
	if err != nil {
		return err
	}

	items := make([]shmcache.Item[string], 0, len(args))

	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			return fmt.Errorf("invalid pair %q: want key=value", arg)
		}

		items = append(items, shmcache.Item[string]{Key: key, Value: value})
	}

	c, err := a.open()
	if err != nil {
		return err
	}

	ok, err := c.SetMultiple(items, ttl)
	if err != nil {
		return err
	}

	if !ok {
		o.Warn("not every entry was stored")
	}

	return nil
}

// DelCmd returns the del command.
func DelCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("del", flag.ContinueOnError),
		Usage: "del <key>...",
		Short: "Delete keys",
		Long:  "Delete every key and print how many entries were removed.",
		Exec: func(_ context.Context, o *IO, args []string) error {
			if err := wantArgs(args, 1, -1, "del <key>..."); err != nil {
				return err
			}

			return execDel(a, o, args)
		},
	}
}

func execDel(a *app, o *IO, keys []string) error {
	c, err := a.open()
	if err != nil {
		return err
	}

	removed := 0

	for _, key := range keys {
		ok, err := c.Delete(key)
		if err != nil {
			return err
		}

		if ok {
			removed++
		}
	}

	o.Println(removed)

	return nil
}
