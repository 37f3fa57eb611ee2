// Package main provides shmcache, a command line client for the shared
// memory key/value cache.
package main

import (
	"os"
	"strings"

	"github.com/calvinalkan/shmcache/internal/cli"
)

func main() {
	environ := os.Environ()
	env := make(map[string]string, len(environ))

	for _, e := range environ {
		if k, v, ok := strings.Cut(e, "="); ok {
			env[k] = v
		}
	}

	os.Exit(cli.Run(os.Stdin, os.Stdout, os.Stderr, os.Args, env))
}
