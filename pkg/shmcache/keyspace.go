package shmcache

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"hash/fnv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// HashAlgorithm maps cache keys to segment slots.
//
// Distinct keys that hash to the same slot share it: the later write
// replaces the earlier one. There is no collision resolution.
type HashAlgorithm int

const (
	// HashCRC32 is CRC-32 (IEEE). The default.
	HashCRC32 HashAlgorithm = iota + 1

	// HashXXH64 is 64-bit xxHash.
	HashXXH64

	// HashFNV1a64 is 64-bit FNV-1a.
	HashFNV1a64

	// HashSHA256 uses the first 8 bytes of the SHA-256 digest.
	HashSHA256
)

func (a HashAlgorithm) String() string {
	switch a {
	case HashCRC32:
		return "crc32"
	case HashXXH64:
		return "xxh64"
	case HashFNV1a64:
		return "fnv1a64"
	case HashSHA256:
		return "sha256"
	default:
		return fmt.Sprintf("HashAlgorithm(%d)", int(a))
	}
}

func (a HashAlgorithm) valid() bool {
	return a >= HashCRC32 && a <= HashSHA256
}

// ParseHashAlgorithm resolves a configuration name.
func ParseHashAlgorithm(name string) (HashAlgorithm, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "crc32", "crc32b":
		return HashCRC32, nil
	case "xxh64", "xxhash":
		return HashXXH64, nil
	case "fnv1a64", "fnv":
		return HashFNV1a64, nil
	case "sha256":
		return HashSHA256, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidHashAlgorithm, name)
	}
}

// Slot returns the slot for key: the digest read as a big-endian unsigned
// integer, truncated to its first 8 bytes. The result is the same in every
// process and every run.
//
// Slot panics on an unknown algorithm; [Open] rejects those up front.
func Slot(key string, alg HashAlgorithm) uint64 {
	switch alg {
	case HashCRC32:
		return uint64(crc32.ChecksumIEEE([]byte(key)))
	case HashXXH64:
		return xxhash.Sum64String(key)
	case HashFNV1a64:
		h := fnv.New64a()
		_, _ = h.Write([]byte(key))

		return h.Sum64()
	case HashSHA256:
		sum := sha256.Sum256([]byte(key))

		return binary.BigEndian.Uint64(sum[:8])
	default:
		panic(fmt.Sprintf("shmcache: slot for unknown %s", alg))
	}
}
