package shmcache

import (
	"errors"

	"github.com/calvinalkan/shmcache/pkg/segment"
	"github.com/calvinalkan/shmcache/pkg/shmcache/codec"
)

// Sentinel errors returned by cache operations.
//
// Callers should use [errors.Is] to check error types:
//
//	if errors.Is(err, shmcache.ErrFull) {
//	    // value too large; the previous value is still stored
//	}
var (
	// ErrInvalidTTL indicates a negative time-to-live. Nothing is written.
	ErrInvalidTTL = errors.New("shmcache: invalid ttl")

	// ErrEmptyKey indicates an empty cache key.
	//
	// This is a programming error.
	ErrEmptyKey = errors.New("shmcache: empty key")

	// ErrInvalidHashAlgorithm indicates an unknown key hash algorithm.
	ErrInvalidHashAlgorithm = errors.New("shmcache: invalid hash algorithm")

	// ErrInvalidInput indicates invalid [Options].
	//
	// This is a programming error.
	ErrInvalidInput = errors.New("shmcache: invalid input")

	// ErrClosed indicates the [Cache] has already been closed.
	ErrClosed = segment.ErrClosed

	// ErrInvalidSerializer indicates an unknown serializer.
	ErrInvalidSerializer = codec.ErrInvalidSerializer

	// ErrCompression indicates stored bytes failed to decompress, or the
	// compressor rejected its level.
	ErrCompression = codec.ErrCompression

	// ErrEncoding indicates a value could not be serialized or deserialized.
	ErrEncoding = codec.ErrEncoding

	// ErrSegment matches every shared memory failure, including all of the
	// segment refinements below.
	ErrSegment = segment.ErrSegment

	// ErrFull indicates the segment has no room for the value. The previous
	// value for the key is kept.
	ErrFull = segment.ErrFull

	// ErrCorrupt indicates a damaged segment. Recovery: [Cache.Clear].
	ErrCorrupt = segment.ErrCorrupt

	// ErrIncompatible indicates the key is used by a foreign segment.
	ErrIncompatible = segment.ErrIncompatible

	// ErrBusy indicates readers kept overlapping with writers.
	ErrBusy = segment.ErrBusy

	// ErrDestroyed indicates use after [Cache.Destroy].
	ErrDestroyed = segment.ErrDestroyed

	// ErrUnsupported indicates the platform has no System V shared memory.
	ErrUnsupported = segment.ErrUnsupported
)
