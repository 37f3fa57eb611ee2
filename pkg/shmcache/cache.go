package shmcache

import (
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/calvinalkan/shmcache/pkg/segment"
	"github.com/calvinalkan/shmcache/pkg/shmcache/codec"
)

// Cache is a key/value cache shared by every process that opens the same
// segment key. Values of type V are serialized and optionally compressed.
//
// A Cache is safe for concurrent use by multiple goroutines. Call
// [Cache.Close] when done; the cached data outlives the handle.
type Cache[V any] struct {
	seg   *segment.Segment
	codec *codec.Codec

	opts         Options
	logger       *slog.Logger
	advisoryPath string

	closed atomic.Bool
}

// Stats describes the cache and its segment.
type Stats struct {
	Key              int
	SegmentID        int
	Capacity         uint64
	Used             uint64
	Free             uint64
	Entries          uint64
	Attachments      uint64
	Permissions      os.FileMode
	HashAlgorithm    HashAlgorithm
	Serializer       codec.Serializer
	Compression      codec.Compression
	CompressionLevel int
}

// Open attaches to the cache segment for opts.Key, creating it if absent.
//
// Options are validated and the codec resolved before anything is attached;
// on any error nothing stays attached.
//
// Possible errors: [ErrInvalidInput], [ErrInvalidHashAlgorithm],
// [ErrInvalidSerializer], [ErrCompression], [ErrSegment] and its refinements.
func Open[V any](opts Options) (*Cache[V], error) {
	opts = opts.withDefaults()

	if err := opts.validate(); err != nil {
		return nil, err
	}

	size, err := SizeBytes(opts.Size)
	if err != nil {
		return nil, err
	}

	cd, err := codec.New(opts.Serializer, opts.Compression, *opts.CompressionLevel)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger.With("component", "shmcache")

	seg, err := segment.Open(segment.Options{
		Key:     opts.Key,
		Size:    size,
		Perm:    opts.Permissions,
		LockDir: opts.LockDir,
		Logger:  logger,
	})
	if err != nil {
		cd.Close()

		return nil, err
	}

	logger.Debug("cache opened",
		"shm_key", fmt.Sprintf("0x%08x", uint32(opts.Key)),
		"size", size,
		"hash", opts.HashAlgorithm.String(),
		"serializer", opts.Serializer.String(),
		"compression", cd.Compression().String(),
	)

	return &Cache[V]{
		seg:          seg,
		codec:        cd,
		opts:         opts,
		logger:       logger,
		advisoryPath: AdvisoryLockPath(opts.LockDir, opts.Key),
	}, nil
}

// Key returns the segment key.
func (c *Cache[V]) Key() int { return c.opts.Key }

// Get returns the value for key. A missing or expired entry returns
// (zero, false, nil); an expired entry is removed.
//
// Possible errors: [ErrEmptyKey], [ErrCompression], [ErrEncoding],
// [ErrClosed], [ErrSegment].
func (c *Cache[V]) Get(key string) (V, bool, error) {
	var zero V

	env, found, err := c.load(key)
	if err != nil || !found {
		return zero, false, err
	}

	var v V
	if err := c.codec.Unmarshal(env.Payload, &v); err != nil {
		return zero, false, fmt.Errorf("get %q: %w", key, err)
	}

	return v, true, nil
}

// GetOr is [Cache.Get] returning def on a miss.
func (c *Cache[V]) GetOr(key string, def V) (V, error) {
	v, found, err := c.Get(key)
	if err != nil {
		return def, err
	}

	if !found {
		return def, nil
	}

	return v, nil
}

// Set stores value under key. ttl is validated before anything is written.
// If the write fails, the previous value for key is left in place.
//
// Possible errors: [ErrEmptyKey], [ErrInvalidTTL], [ErrEncoding],
// [ErrCompression], [ErrFull], [ErrClosed], [ErrSegment].
func (c *Cache[V]) Set(key string, value V, ttl TTL) error {
	slot, err := c.slot(key)
	if err != nil {
		return err
	}

	expires, err := resolveExpiration(ttl, c.opts.now())
	if err != nil {
		return err
	}

	payload, err := c.codec.Marshal(value)
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}

	data, err := c.codec.Encode(newEnvelope(payload, expires))
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}

	if err := c.seg.Put(slot, data); err != nil {
		return fmt.Errorf("set %q (%d bytes): %w", key, len(data), err)
	}

	return nil
}

// Delete removes key and reports whether an entry was removed.
func (c *Cache[V]) Delete(key string) (bool, error) {
	slot, err := c.slot(key)
	if err != nil {
		return false, err
	}

	removed, err := c.seg.Remove(slot)
	if err != nil {
		return false, fmt.Errorf("delete %q: %w", key, err)
	}

	return removed, nil
}

// Has reports whether key holds an unexpired entry. Like [Cache.Get], it
// removes an expired entry it finds.
func (c *Cache[V]) Has(key string) (bool, error) {
	_, found, err := c.load(key)

	return found, err
}

// Clear removes every entry for every process by recreating the segment.
// It is not atomic: other processes may briefly see the segment missing.
func (c *Cache[V]) Clear() error {
	if err := c.usable(); err != nil {
		return err
	}

	if err := c.seg.Recreate(); err != nil {
		return fmt.Errorf("clear: %w", err)
	}

	c.logger.Info("cache cleared")

	return nil
}

// Destroy removes the segment from the OS. Other processes re-attach to a
// fresh, empty segment on their next operation; this handle returns
// [ErrDestroyed] from then on. Close must still be called.
func (c *Cache[V]) Destroy() error {
	if err := c.usable(); err != nil {
		return err
	}

	if err := c.seg.Destroy(); err != nil {
		return fmt.Errorf("destroy: %w", err)
	}

	c.logger.Info("cache destroyed")

	return nil
}

// Stat reports segment usage and the cache configuration.
func (c *Cache[V]) Stat() (Stats, error) {
	if err := c.usable(); err != nil {
		return Stats{}, err
	}

	st, err := c.seg.Stat()
	if err != nil {
		return Stats{}, fmt.Errorf("stat: %w", err)
	}

	return Stats{
		Key:              st.Key,
		SegmentID:        st.ID,
		Capacity:         st.Capacity,
		Used:             st.Used,
		Free:             st.Capacity - st.Used,
		Entries:          st.Count,
		Attachments:      st.Attachments,
		Permissions:      st.Perm,
		HashAlgorithm:    c.opts.HashAlgorithm,
		Serializer:       c.codec.Serializer(),
		Compression:      c.codec.Compression(),
		CompressionLevel: c.codec.Level(),
	}, nil
}

// Close detaches from the segment. Entries stay available to other
// processes. Close is idempotent.
func (c *Cache[V]) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	err := c.seg.Close()
	c.codec.Close()

	return err
}

// load reads and decodes the envelope for key, removing it if expired.
func (c *Cache[V]) load(key string) (envelope, bool, error) {
	slot, err := c.slot(key)
	if err != nil {
		return envelope{}, false, err
	}

	raw, found, err := c.seg.Get(slot)
	if err != nil {
		return envelope{}, false, fmt.Errorf("get %q: %w", key, err)
	}

	if !found {
		return envelope{}, false, nil
	}

	var env envelope
	if err := c.codec.Decode(raw, &env); err != nil {
		return envelope{}, false, fmt.Errorf("get %q: %w", key, err)
	}

	if !env.expired(c.opts.now()) {
		return env, true, nil
	}

	removed, err := c.seg.CompareAndRemove(slot, raw)
	if err != nil {
		return envelope{}, false, fmt.Errorf("expire %q: %w", key, err)
	}

	c.logger.Debug("expired entry", "key", key, "expired_at", env.expiresAt(), "removed", removed)

	return envelope{}, false, nil
}

func (c *Cache[V]) slot(key string) (uint64, error) {
	if err := c.usable(); err != nil {
		return 0, err
	}

	if key == "" {
		return 0, ErrEmptyKey
	}

	return Slot(key, c.opts.HashAlgorithm), nil
}

func (c *Cache[V]) usable() error {
	if c.closed.Load() {
		return ErrClosed
	}

	return nil
}
