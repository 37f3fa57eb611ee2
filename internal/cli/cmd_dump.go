package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	flag "github.com/spf13/pflag"
)

// snapshot is the JSON document written by dump.
type snapshot struct {
	Key     string             `json:"key"`
	TakenAt time.Time          `json:"taken_at"`
	Entries map[string]*string `json:"entries"`
}

// DumpCmd returns the dump command.
func DumpCmd(a *app) *Command {
	fset := flag.NewFlagSet("dump", flag.ContinueOnError)
	output := fset.StringP("output", "o", "", "Write to `file` atomically instead of stdout")

	return &Command{
		Flags: fset,
		Usage: "dump [-o file] <key>...",
		Short: "Write a JSON snapshot of keys",
		Long: "Write a JSON object mapping each key to its value, or null when missing.\n" +
			"With -o the file is replaced atomically; readers never see a partial snapshot.",
		Exec: func(_ context.Context, o *IO, args []string) error {
			if err := wantArgs(args, 1, -1, "dump [-o file] <key>..."); err != nil {
				return err
			}

			return execDump(a, o, args, *output)
		},
	}
}

func execDump(a *app, o *IO, keys []string, output string) error {
	c, err := a.open()
	if err != nil {
		return err
	}

	snap := snapshot{
		Key:     fmt.Sprintf("0x%08x", uint32(c.Key())),
		TakenAt: time.Now().UTC(),
		Entries: make(map[string]*string, len(keys)),
	}

	for _, key := range keys {
		v, found, err := c.Get(key)
		if err != nil {
			return err
		}

		if found {
			snap.Entries[key] = &v
		} else {
			snap.Entries[key] = nil
		}
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	data = append(data, '\n')

	if output == "" {
		o.Printf("%s", data)

		return nil
	}

	if !filepath.IsAbs(output) {
		output = filepath.Join(a.cfg.EffectiveCwd, output)
	}

	if err := a.fs.WriteFileAtomic(output, data); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}

	o.Println(output)

	return nil
}
