package cli

import (
	"context"
	"fmt"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/shmcache/pkg/segment"
	"github.com/calvinalkan/shmcache/pkg/shmcache/codec"
)

// ClearCmd returns the clear command.
func ClearCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("clear", flag.ContinueOnError),
		Usage: "clear",
		Short: "Remove every entry",
		Long:  "Remove every entry by recreating the segment. Other processes see an empty cache.",
		Exec: func(_ context.Context, _ *IO, args []string) error {
			if err := wantArgs(args, 0, 0, "clear"); err != nil {
				return err
			}

			c, err := a.open()
			if err != nil {
				return err
			}

			return c.Clear()
		},
	}
}

// DestroyCmd returns the destroy command.
func DestroyCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("destroy", flag.ContinueOnError),
		Usage: "destroy",
		Short: "Remove the segment from the OS",
		Long: "Remove the shared memory segment. Processes still attached re-create an\n" +
			"empty segment on their next operation.",
		Exec: func(_ context.Context, _ *IO, args []string) error {
			if err := wantArgs(args, 0, 0, "destroy"); err != nil {
				return err
			}

			c, err := a.open()
			if err != nil {
				return err
			}

			return c.Destroy()
		},
	}
}

// StatCmd returns the stat command.
func StatCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("stat", flag.ContinueOnError),
		Usage: "stat",
		Short: "Show segment usage",
		Exec: func(_ context.Context, o *IO, args []string) error {
			if err := wantArgs(args, 0, 0, "stat"); err != nil {
				return err
			}

			return execStat(a, o)
		},
	}
}

func execStat(a *app, o *IO) error {
	c, err := a.open()
	if err != nil {
		return err
	}

	st, err := c.Stat()
	if err != nil {
		return err
	}

	o.Printf("key=0x%08x\n", uint32(st.Key))
	o.Printf("segment_id=%d\n", st.SegmentID)
	o.Printf("capacity=%d\n", st.Capacity)
	o.Printf("used=%d\n", st.Used)
	o.Printf("free=%d\n", st.Free)
	o.Printf("entries=%d\n", st.Entries)
	o.Printf("attachments=%d\n", st.Attachments)
	o.Printf("permissions=%04o\n", uint32(st.Permissions))
	o.Printf("hash_algorithm=%s\n", st.HashAlgorithm)
	o.Printf("serializer=%s\n", st.Serializer)
	o.Printf("compression=%s\n", st.Compression)
	o.Printf("compression_level=%d\n", st.CompressionLevel)

	return nil
}

// PrintConfigCmd returns the print-config command.
func PrintConfigCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("print-config", flag.ContinueOnError),
		Usage: "print-config",
		Short: "Show resolved configuration",
		Long:  "Display the effective configuration and which files it was loaded from.",
		Exec: func(_ context.Context, o *IO, _ []string) error {
			return execPrintConfig(a, o)
		},
	}
}

func execPrintConfig(a *app, o *IO) error {
	cfg := a.cfg

	opts, err := cfg.Options(nil)
	if err != nil {
		return err
	}

	key := opts.Key
	if key == 0 {
		key = segment.DefaultKey()
	}

	level := codec.DefaultLevel
	if opts.CompressionLevel != nil {
		level = *opts.CompressionLevel
	}

	o.Println("effective_cwd=" + cfg.EffectiveCwd)
	o.Println("size=" + cfg.Size)
	o.Printf("key=0x%08x\n", uint32(key))

	if cfg.KeyPath != "" {
		o.Println("key_path=" + cfg.KeyPath)
	}

	o.Println("hash_algorithm=" + opts.HashAlgorithm.String())
	o.Println("serializer=" + opts.Serializer.String())
	o.Println("compression=" + opts.Compression.String())
	o.Println("compression_level=" + fmt.Sprint(level))
	o.Printf("permissions=%04o\n", uint32(opts.Permissions))

	if cfg.LockDir != "" {
		o.Println("lock_dir=" + cfg.LockDir)
	}

	o.Println("")
	o.Println("# sources")

	if cfg.Sources.Global == "" && cfg.Sources.Project == "" && cfg.Sources.Explicit == "" {
		o.Println("(defaults only)")

		return nil
	}

	if cfg.Sources.Global != "" {
		o.Println("global_config=" + cfg.Sources.Global)
	}

	if cfg.Sources.Project != "" {
		o.Println("project_config=" + cfg.Sources.Project)
	}

	if cfg.Sources.Explicit != "" {
		o.Println("explicit_config=" + cfg.Sources.Explicit)
	}

	return nil
}
