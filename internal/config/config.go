// Package config loads shmcache settings from layered JSONC files and turns
// them into [shmcache.Options].
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tailscale/hujson"

	"github.com/calvinalkan/shmcache/pkg/segment"
	"github.com/calvinalkan/shmcache/pkg/shmcache"
	"github.com/calvinalkan/shmcache/pkg/shmcache/codec"
)

// Errors returned while loading configuration.
var (
	ErrConfigInvalid      = errors.New("invalid config")
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrConfigFileRead     = errors.New("cannot read config file")
)

// FileName is the project config file looked up in the working directory.
const FileName = ".shmcache.json"

// Config holds all configuration options. String fields keep the file
// representation; [Config.Options] resolves them.
type Config struct {
	Size             string `json:"size,omitempty"`
	Key              Key    `json:"key,omitempty"`
	KeyPath          string `json:"key_path,omitempty"`
	HashAlgorithm    string `json:"hash_algorithm,omitempty"`
	Serializer       string `json:"serializer,omitempty"`
	Compression      string `json:"compression,omitempty"`
	CompressionLevel *int   `json:"compression_level,omitempty"`
	Permissions      string `json:"permissions,omitempty"`
	LockDir          string `json:"lock_dir,omitempty"`

	// Resolved (not serialized)
	EffectiveCwd string  `json:"-"`
	Sources      Sources `json:"-"`
}

// Sources tracks which config files were loaded.
type Sources struct {
	Global   string // Path to global config if loaded, empty otherwise
	Project  string // Path to .shmcache.json if loaded, empty otherwise
	Explicit string // Path to --config file if given
}

// Key is a segment key. In files it may be a JSON number or a string in any
// Go integer syntax ("0x53000001").
type Key int

// UnmarshalJSON accepts numbers and integer strings.
func (k *Key) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)

	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}

		n, err := ParseKey(s)
		if err != nil {
			return err
		}

		*k = Key(n)

		return nil
	}

	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("key: %w", err)
	}

	*k = Key(n)

	return nil
}

// ParseKey parses a segment key in decimal, hex (0x), or octal (0o).
func ParseKey(s string) (int, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 0, 64)
	if err != nil {
		return 0, fmt.Errorf("key %q: %w", s, err)
	}

	return int(n), nil
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Size:             shmcache.DefaultSize,
		HashAlgorithm:    shmcache.HashCRC32.String(),
		Serializer:       codec.SerializerNative.String(),
		Compression:      codec.CompressionZlib.String(),
		CompressionLevel: shmcache.Level(codec.DefaultLevel),
		Permissions:      "0666",
	}
}

// LoadInput holds the inputs for [Load].
type LoadInput struct {
	WorkDirOverride string            // -C/--cwd flag value; if empty, os.Getwd() is used
	ConfigPath      string            // -c/--config flag value
	Overrides       Config            // CLI flag values; zero fields are ignored
	Env             map[string]string // environment variables
}

// Load loads configuration with the following precedence (highest wins):
// 1. Defaults
// 2. Global user config ($XDG_CONFIG_HOME/shmcache/config.json or ~/.config/shmcache/config.json)
// 3. Project config file (.shmcache.json in the working directory, if it exists)
// 4. Explicit config file via ConfigPath (must exist)
// 5. CLI overrides.
//
// Relative paths in the result are resolved against the working directory.
func Load(input LoadInput) (Config, error) {
	workDir := input.WorkDirOverride
	if workDir == "" {
		var err error

		workDir, err = os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("cannot get working directory: %w", err)
		}
	}

	cfg := Default()

	if globalPath := globalConfigPath(input.Env); globalPath != "" {
		fileCfg, loaded, err := loadFile(globalPath, false)
		if err != nil {
			return Config{}, err
		}

		if loaded {
			cfg = merge(cfg, fileCfg)
			cfg.Sources.Global = globalPath
		}
	}

	projectPath := filepath.Join(workDir, FileName)

	fileCfg, loaded, err := loadFile(projectPath, false)
	if err != nil {
		return Config{}, err
	}

	if loaded {
		cfg = merge(cfg, fileCfg)
		cfg.Sources.Project = projectPath
	}

	if input.ConfigPath != "" {
		explicitPath := input.ConfigPath
		if !filepath.IsAbs(explicitPath) {
			explicitPath = filepath.Join(workDir, explicitPath)
		}

		if _, statErr := os.Stat(explicitPath); statErr != nil {
			return Config{}, fmt.Errorf("%w: %s", ErrConfigFileNotFound, input.ConfigPath)
		}

		fileCfg, _, err := loadFile(explicitPath, true)
		if err != nil {
			return Config{}, err
		}

		cfg = merge(cfg, fileCfg)
		cfg.Sources.Explicit = explicitPath
	}

	cfg = merge(cfg, input.Overrides)
	cfg.EffectiveCwd = workDir

	if cfg.LockDir != "" && !filepath.IsAbs(cfg.LockDir) {
		cfg.LockDir = filepath.Join(workDir, cfg.LockDir)
	}

	if cfg.KeyPath != "" && !filepath.IsAbs(cfg.KeyPath) {
		cfg.KeyPath = filepath.Join(workDir, cfg.KeyPath)
	}

	if _, err := cfg.Options(nil); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrConfigInvalid, err)
	}

	return cfg, nil
}

// Options resolves cfg into cache options. logger may be nil.
func (c Config) Options(logger *slog.Logger) (shmcache.Options, error) {
	opts := shmcache.Options{
		Size:             c.Size,
		Key:              int(c.Key),
		CompressionLevel: c.CompressionLevel,
		LockDir:          c.LockDir,
		Logger:           logger,
	}

	if _, err := shmcache.SizeBytes(c.Size); err != nil {
		return shmcache.Options{}, err
	}

	if c.Key == 0 && c.KeyPath != "" {
		key, err := segment.KeyFromPath(c.KeyPath, segment.DefaultProject)
		if err != nil {
			return shmcache.Options{}, fmt.Errorf("key_path: %w", err)
		}

		opts.Key = key
	}

	var err error

	if opts.HashAlgorithm, err = shmcache.ParseHashAlgorithm(c.HashAlgorithm); err != nil {
		return shmcache.Options{}, err
	}

	if opts.Serializer, err = codec.ParseSerializer(c.Serializer); err != nil {
		return shmcache.Options{}, err
	}

	if opts.Compression, err = codec.ParseCompression(c.Compression); err != nil {
		return shmcache.Options{}, err
	}

	if c.CompressionLevel != nil && (*c.CompressionLevel < codec.MinLevel || *c.CompressionLevel > codec.MaxLevel) {
		return shmcache.Options{}, fmt.Errorf("compression_level %d outside %d..%d", *c.CompressionLevel, codec.MinLevel, codec.MaxLevel)
	}

	if opts.Permissions, err = ParsePermissions(c.Permissions); err != nil {
		return shmcache.Options{}, err
	}

	return opts, nil
}

// ParsePermissions parses an octal permission string such as "0666" or "640".
func ParsePermissions(s string) (os.FileMode, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0o")

	n, err := strconv.ParseUint(s, 8, 32)
	if err != nil || n > 0o777 {
		return 0, fmt.Errorf("permissions %q: want octal 000..777", s)
	}

	return os.FileMode(n), nil
}

// globalConfigPath returns $XDG_CONFIG_HOME/shmcache/config.json if set,
// otherwise ~/.config/shmcache/config.json, or "" without a home directory.
func globalConfigPath(env map[string]string) string {
	if xdgConfig := env["XDG_CONFIG_HOME"]; xdgConfig != "" {
		return filepath.Join(xdgConfig, "shmcache", "config.json")
	}

	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".config", "shmcache", "config.json")
	}

	return ""
}

// loadFile loads a config file. If mustExist is false, a missing file returns
// a zero config and loaded=false.
func loadFile(path string, mustExist bool) (Config, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return Config{}, false, nil
		}

		return Config{}, false, fmt.Errorf("%w: %s: %w", ErrConfigFileRead, path, err)
	}

	cfg, err := parse(data)
	if err != nil {
		return Config{}, false, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
	}

	return cfg, true, nil
}

func parse(data []byte) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(standardized))
	dec.DisallowUnknownFields()

	var cfg Config

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", err)
	}

	return cfg, nil
}

func merge(base, overlay Config) Config {
	if overlay.Size != "" {
		base.Size = overlay.Size
	}

	if overlay.Key != 0 {
		base.Key = overlay.Key
		base.KeyPath = ""
	}

	if overlay.KeyPath != "" && overlay.Key == 0 {
		base.KeyPath = overlay.KeyPath
		base.Key = 0
	}

	if overlay.HashAlgorithm != "" {
		base.HashAlgorithm = overlay.HashAlgorithm
	}

	if overlay.Serializer != "" {
		base.Serializer = overlay.Serializer
	}

	if overlay.Compression != "" {
		base.Compression = overlay.Compression
	}

	if overlay.CompressionLevel != nil {
		base.CompressionLevel = overlay.CompressionLevel
	}

	if overlay.Permissions != "" {
		base.Permissions = overlay.Permissions
	}

	if overlay.LockDir != "" {
		base.LockDir = overlay.LockDir
	}

	return base
}
