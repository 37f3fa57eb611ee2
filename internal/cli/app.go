package cli

import (
	"log/slog"

	"github.com/calvinalkan/shmcache/internal/config"
	"github.com/calvinalkan/shmcache/internal/fs"
	"github.com/calvinalkan/shmcache/pkg/shmcache"
)

type cacheHandle = *shmcache.Cache[string]

// app is the state shared by commands of one invocation. The cache is
// opened on first use so commands like print-config never attach.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	fs     fs.FS
	env    map[string]string

	cache cacheHandle
}

func (a *app) open() (cacheHandle, error) {
	if a.cache != nil {
		return a.cache, nil
	}

	opts, err := a.cfg.Options(a.logger)
	if err != nil {
		return nil, err
	}

	c, err := shmcache.Open[string](opts)
	if err != nil {
		return nil, err
	}

	a.cache = c

	return c, nil
}

func (a *app) close() error {
	if a.cache == nil {
		return nil
	}

	err := a.cache.Close()
	a.cache = nil

	return err
}
