package shmcache

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/calvinalkan/shmcache/internal/fs"
)

// locker is the package-level file locker for advisory locks.
var locker = fs.NewLocker(fs.NewReal())

// Unlocker releases an advisory lock.
type Unlocker interface {
	Unlock() error
}

type advisoryLock struct {
	lk *fs.Lock
}

func (a advisoryLock) Unlock() error {
	return a.lk.Close()
}

// AdvisoryLockPath returns the advisory lock file for key inside dir.
func AdvisoryLockPath(dir string, key int) string {
	return filepath.Join(dir, fmt.Sprintf("shmcache-%08x.advisory.lock", uint32(key)))
}

// Lock blocks until this process holds the cache's advisory lock.
//
// The cache itself never takes this lock. Cooperating processes use it to
// make composite operations such as [Cache.Clear] followed by a refill, or
// a batch of writes, exclusive among themselves.
func (c *Cache[V]) Lock() (Unlocker, error) {
	if err := c.usable(); err != nil {
		return nil, err
	}

	lk, err := locker.Lock(c.advisoryPath)
	if err != nil {
		return nil, fmt.Errorf("shmcache: advisory lock: %w", err)
	}

	return advisoryLock{lk: lk}, nil
}

// TryLock is [Cache.Lock] without waiting. It returns [ErrBusy] if another
// process holds the lock.
func (c *Cache[V]) TryLock() (Unlocker, error) {
	return c.lockWith(func(path string) (*fs.Lock, error) {
		return locker.TryLock(path)
	})
}

// LockTimeout is [Cache.Lock] giving up after timeout with [ErrBusy].
func (c *Cache[V]) LockTimeout(timeout time.Duration) (Unlocker, error) {
	return c.lockWith(func(path string) (*fs.Lock, error) {
		return locker.LockWithTimeout(path, timeout)
	})
}

func (c *Cache[V]) lockWith(acquire func(path string) (*fs.Lock, error)) (Unlocker, error) {
	if err := c.usable(); err != nil {
		return nil, err
	}

	lk, err := acquire(c.advisoryPath)
	if errors.Is(err, fs.ErrWouldBlock) {
		return nil, fmt.Errorf("%w: advisory lock held by another process", ErrBusy)
	}

	if err != nil {
		return nil, fmt.Errorf("shmcache: advisory lock: %w", err)
	}

	return advisoryLock{lk: lk}, nil
}
