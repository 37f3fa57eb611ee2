package shmcache

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/docker/go-units"

	"github.com/calvinalkan/shmcache/pkg/segment"
	"github.com/calvinalkan/shmcache/pkg/shmcache/codec"
)

// Defaults applied by [Open] to zero-valued [Options] fields.
const (
	DefaultSize        = "1M"
	DefaultPermissions = os.FileMode(0o666)
)

// Options configure [Open]. Every field is optional.
type Options struct {
	// Size is the segment capacity as a human-readable quantity ("1M",
	// "512KiB", "65536"). Binary units: "1M" is 1048576 bytes. Only used
	// when the segment is created; an existing segment keeps its size.
	Size string

	// Key identifies the segment. Processes using the same key share the
	// cache. Default: [segment.DefaultKey].
	Key int

	// HashAlgorithm maps keys to slots. Default: [HashCRC32].
	HashAlgorithm HashAlgorithm

	// Serializer encodes values. Default: [codec.SerializerNative].
	Serializer codec.Serializer

	// Compression compresses encoded entries. Default: [codec.CompressionZlib].
	Compression codec.Compression

	// CompressionLevel is 0..9; 0 disables compression. Nil means
	// [codec.DefaultLevel]. See [Level].
	CompressionLevel *int

	// Permissions are the segment's permission bits. Default: 0o666.
	Permissions os.FileMode

	// LockDir holds the writer and advisory lock files. Default: [os.TempDir].
	LockDir string

	// Logger receives cache events. Default: discard.
	Logger *slog.Logger

	// now overrides the clock in tests.
	now func() time.Time
}

// Level returns a pointer to n for [Options.CompressionLevel].
func Level(n int) *int {
	return &n
}

func (o Options) withDefaults() Options {
	if o.Size == "" {
		o.Size = DefaultSize
	}

	if o.Key == 0 {
		o.Key = segment.DefaultKey()
	}

	if o.HashAlgorithm == 0 {
		o.HashAlgorithm = HashCRC32
	}

	if o.Serializer == 0 {
		o.Serializer = codec.SerializerNative
	}

	if o.Compression == 0 {
		o.Compression = codec.CompressionZlib
	}

	if o.CompressionLevel == nil {
		o.CompressionLevel = Level(codec.DefaultLevel)
	}

	if o.Permissions == 0 {
		o.Permissions = DefaultPermissions
	}

	if o.LockDir == "" {
		o.LockDir = os.TempDir()
	}

	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if o.now == nil {
		o.now = time.Now
	}

	return o
}

// SizeBytes parses a size quantity the way [Options.Size] does.
func SizeBytes(size string) (int64, error) {
	n, err := units.RAMInBytes(size)
	if err != nil {
		return 0, fmt.Errorf("%w: size %q: %w", ErrInvalidInput, size, err)
	}

	if n < segment.MinSize {
		return 0, fmt.Errorf("%w: size %q is below the minimum of %d bytes", ErrInvalidInput, size, segment.MinSize)
	}

	return n, nil
}

func (o Options) validate() error {
	if !o.HashAlgorithm.valid() {
		return fmt.Errorf("%w: %s", ErrInvalidHashAlgorithm, o.HashAlgorithm)
	}

	if o.Permissions&^os.ModePerm != 0 {
		return fmt.Errorf("%w: permissions %o has non-permission bits", ErrInvalidInput, o.Permissions)
	}

	return nil
}
