package cli

import (
	"context"
	"fmt"

	flag "github.com/spf13/pflag"
)

// GetCmd returns the get command.
func GetCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("get", flag.ContinueOnError),
		Usage: "get <key>",
		Short: "Print the value stored under key",
		Long:  "Print the value stored under key. Exits with code 2 if the key is missing or expired.",
		Exec: func(_ context.Context, o *IO, args []string) error {
			if err := wantArgs(args, 1, 1, "get <key>"); err != nil {
				return err
			}

			return execGet(a, o, args[0])
		},
	}
}

func execGet(a *app, o *IO, key string) error {
	c, err := a.open()
	if err != nil {
		return err
	}

	v, found, err := c.Get(key)
	if err != nil {
		return err
	}

	if !found {
		return ErrMiss
	}

	o.Println(v)

	return nil
}

// MGetCmd returns the mget command.
func MGetCmd(a *app) *Command {
	fset := flag.NewFlagSet("mget", flag.ContinueOnError)
	def := fset.StringP("default", "d", "", "Value printed for missing keys")

	return &Command{
		Flags: fset,
		Usage: "mget [-d default] <key>...",
		Short: "Print key=value for each key",
		Long:  "Print key=value for each key, in order. Missing or expired keys print the default.",
		Exec: func(_ context.Context, o *IO, args []string) error {
			if err := wantArgs(args, 1, -1, "mget [-d default] <key>..."); err != nil {
				return err
			}

			c, err := a.open()
			if err != nil {
				return err
			}

			items, err := c.GetMultiple(args, *def)
			if err != nil {
				return err
			}

			for _, item := range items {
				o.Printf("%s=%s\n", item.Key, item.Value)
			}

			return nil
		},
	}
}

// HasCmd returns the has command.
func HasCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("has", flag.ContinueOnError),
		Usage: "has <key>",
		Short: "Check whether key holds an unexpired value",
		Long:  "Print true or false. Exits with code 2 when false.",
		Exec: func(_ context.Context, o *IO, args []string) error {
			if err := wantArgs(args, 1, 1, "has <key>"); err != nil {
				return err
			}

			return execHas(a, o, args[0])
		},
	}
}

func execHas(a *app, o *IO, key string) error {
	c, err := a.open()
	if err != nil {
		return err
	}

	found, err := c.Has(key)
	if err != nil {
		return err
	}

	o.Println(fmt.Sprint(found))

	if !found {
		return ErrMiss
	}

	return nil
}
