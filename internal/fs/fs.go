// Package fs provides the small filesystem surface shmcache needs: lock files
// for cross-process coordination and atomic writes for CLI snapshots.
//
// The main types are:
//   - [FS]: interface for the filesystem operations used by [Locker]
//   - [Real]: production implementation using the [os] package
//   - [Locker]: flock(2)-based exclusive locks on stable lock files
package fs

import (
	"io"
	"os"
)

// File represents an OS-backed open file descriptor.
//
// Implementations must behave like [os.File]; in particular [File.Fd] must
// return a descriptor usable with flock(2) until the file is closed.
type File interface {
	io.ReadWriteCloser

	// Fd returns the file descriptor. See [os.File.Fd].
	Fd() uintptr

	// Stat returns the [os.FileInfo] for this file. See [os.File.Stat].
	Stat() (os.FileInfo, error)
}

// FS defines the filesystem operations used by this module.
//
// Implementations must be safe for concurrent use by multiple goroutines.
type FS interface {
	// OpenFile opens a file with specified flags and permissions. See [os.OpenFile].
	OpenFile(path string, flag int, perm os.FileMode) (File, error)

	// ReadFile reads an entire file into memory. See [os.ReadFile].
	ReadFile(path string) ([]byte, error)

	// WriteFileAtomic replaces the file at path with data. Readers observe
	// either the old or the new content, never a partial write.
	WriteFileAtomic(path string, data []byte) error

	// MkdirAll creates a directory and all parents. See [os.MkdirAll].
	MkdirAll(path string, perm os.FileMode) error

	// Stat returns file info. See [os.Stat].
	Stat(path string) (os.FileInfo, error)
}

// Compile-time interface checks.
var (
	_ File = (*os.File)(nil)
	_ FS   = (*Real)(nil)
)
