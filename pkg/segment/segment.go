package segment

import (
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/calvinalkan/shmcache/internal/fs"
)

const (
	// readMaxRetries is the maximum number of seqlock read attempts before
	// returning ErrBusy.
	readMaxRetries = 10

	// readInitialBackoff is the initial sleep duration between retry attempts.
	readInitialBackoff = 50 * time.Microsecond

	// readMaxBackoff caps the exponential backoff growth.
	readMaxBackoff = 1 * time.Millisecond
)

// defaultKeyToken seeds [DefaultKey]. Changing it orphans every segment
// created with the default key.
const defaultKeyToken = "github.com/calvinalkan/shmcache"

// DefaultProject is the ftok project byte used by [DefaultKey].
const DefaultProject = 'S'

// lock is the package-level file locker for cross-process writer coordination.
var lock = fs.NewLocker(fs.NewReal())

// removeSegment issues IPC_RMID. Tests replace it to simulate failures.
var removeSegment = shmRemove

// Options configure attaching to (or creating) a segment.
type Options struct {
	// Key is the System V IPC key identifying the segment. Must be non-zero
	// (zero is IPC_PRIVATE, which cannot be shared) and fit in 32 bits.
	Key int

	// Size is the capacity in bytes requested when the segment is created.
	// Attaching to an existing segment keeps its original capacity, whether
	// smaller or larger.
	Size int64

	// Perm holds the owner/group/other permission bits (for example 0o666).
	Perm os.FileMode

	// LockDir holds the writer lock files. Defaults to [os.TempDir].
	LockDir string

	// Logger receives debug events (create, re-attach, destroy).
	// Defaults to a logger that discards everything.
	Logger *slog.Logger
}

// Segment is one process's attachment to a shared memory segment holding a
// table of integer-addressed slots.
//
// Single-slot operations are atomic across processes: writers serialize on
// a flock'd lock file and publish a seqlock generation, readers copy under a
// stable generation. Nothing spans more than one slot.
//
// A Segment is safe for concurrent use by multiple goroutines. It must be
// closed exactly once with [Segment.Close].
type Segment struct {
	mu sync.RWMutex

	opts     Options
	lockPath string
	logger   *slog.Logger

	id   int
	data []byte // nil while detached

	closed    bool
	destroyed bool
}

// Stat describes a segment at one point in time.
type Stat struct {
	Key         int
	ID          int
	Capacity    uint64
	Used        uint64
	Count       uint64
	Attachments uint64
	Perm        os.FileMode
}

// Open attaches to the segment identified by opts.Key, creating and
// initializing it if absent.
//
// On error nothing stays attached.
//
// Possible errors: [ErrInvalidInput], [ErrSegment], [ErrIncompatible],
// [ErrUnsupported].
func Open(opts Options) (*Segment, error) {
	if err := validateOptions(opts); err != nil {
		return nil, err
	}

	if opts.LockDir == "" {
		opts.LockDir = os.TempDir()
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	s := &Segment{
		opts:     opts,
		lockPath: LockPath(opts.LockDir, opts.Key),
		logger:   logger.With("shm_key", fmt.Sprintf("0x%08x", uint32(opts.Key))),
		id:       -1,
	}

	if err := s.attachInitLocked(); err != nil {
		return nil, err
	}

	return s, nil
}

func validateOptions(opts Options) error {
	if opts.Key == 0 || int64(opts.Key) < math.MinInt32 || int64(opts.Key) > math.MaxUint32 {
		return fmt.Errorf("key %d must be a non-zero 32-bit value: %w", opts.Key, ErrInvalidInput)
	}

	if opts.Size < MinSize {
		return fmt.Errorf("size %d < minimum %d: %w", opts.Size, MinSize, ErrInvalidInput)
	}

	if opts.Size > math.MaxInt {
		return fmt.Errorf("size %d overflows int: %w", opts.Size, ErrInvalidInput)
	}

	if opts.Perm&^os.ModePerm != 0 {
		return fmt.Errorf("perm %o has non-permission bits: %w", opts.Perm, ErrInvalidInput)
	}

	return nil
}

// LockPath returns the writer lock file used for key inside dir.
func LockPath(dir string, key int) string {
	return filepath.Join(dir, fmt.Sprintf("shmcache-%08x.lock", uint32(key)))
}

// DefaultKey returns the key used when callers do not configure one. It is
// derived from a fixed token so every process and every run agrees on it.
func DefaultKey() int {
	sum := crc32.ChecksumIEEE([]byte(defaultKeyToken))

	return int(int32(uint32(DefaultProject)<<24 | sum&0x00ffffff))
}

// KeyFromPath derives a key from an existing file, like ftok(3). Processes
// that agree on a path and project byte agree on the segment.
func KeyFromPath(path string, proj byte) (int, error) {
	key, err := ftok(path, proj)
	if err != nil {
		return 0, err
	}

	if key == 0 {
		return 0, fmt.Errorf("ftok %s produced IPC_PRIVATE: %w", path, ErrInvalidInput)
	}

	return key, nil
}

// Close detaches from the segment. The segment and its slots stay in the OS
// for other processes. Close is idempotent.
func (s *Segment) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true

	return s.detachLocked()
}

// Get returns a copy of the bytes stored at slot.
//
// A missing slot returns (nil, false, nil).
//
// Possible errors: [ErrClosed], [ErrDestroyed], [ErrBusy], [ErrCorrupt], [ErrSegment].
func (s *Segment) Get(slot uint64) ([]byte, bool, error) {
	var (
		out   []byte
		found bool
	)

	err := s.read(func(t table) error {
		var err error
		out, found, err = t.get(slot)

		return err
	})

	return out, found, err
}

// Has reports whether slot exists.
//
// Possible errors: [ErrClosed], [ErrDestroyed], [ErrBusy], [ErrCorrupt], [ErrSegment].
func (s *Segment) Has(slot uint64) (bool, error) {
	var found bool

	err := s.read(func(t table) error {
		var err error
		found, err = t.has(slot)

		return err
	})

	return found, err
}

// Put creates or overwrites slot. If the data does not fit, Put returns
// [ErrFull] and the previous value stays in place.
//
// Possible errors: [ErrClosed], [ErrDestroyed], [ErrFull], [ErrCorrupt], [ErrSegment].
func (s *Segment) Put(slot uint64, data []byte) error {
	return s.write(func(t table) error {
		return t.put(slot, data)
	})
}

// Remove deletes slot and reports whether it existed.
//
// Possible errors: [ErrClosed], [ErrDestroyed], [ErrCorrupt], [ErrSegment].
func (s *Segment) Remove(slot uint64) (bool, error) {
	var removed bool

	err := s.write(func(t table) error {
		var err error
		removed, err = t.remove(slot)

		return err
	})

	return removed, err
}

// CompareAndRemove deletes slot only if it still holds exactly old, and
// reports whether it did. Lazy expiry uses it so a value rewritten by another
// process between the read and the removal survives.
//
// Possible errors: [ErrClosed], [ErrDestroyed], [ErrCorrupt], [ErrSegment].
func (s *Segment) CompareAndRemove(slot uint64, old []byte) (bool, error) {
	var removed bool

	err := s.write(func(t table) error {
		var err error
		removed, err = t.removeIf(slot, old)

		return err
	})

	return removed, err
}

// Destroy removes the segment from the OS. All slots are lost. Handles in
// other processes notice on their next operation and re-attach to a fresh
// segment; this handle returns [ErrDestroyed] from then on. If the OS
// refuses the removal, the segment stays live and Destroy may be retried.
//
// Possible errors: [ErrClosed], [ErrDestroyed], [ErrSegment].
func (s *Segment) Destroy() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.usableLocked(); err != nil {
		return err
	}

	lk, err := lock.Lock(s.lockPath)
	if err != nil {
		return fmt.Errorf("%w: acquire writer lock: %w", ErrSegment, err)
	}
	defer lk.Close()

	if err := s.removeLocked(); err != nil {
		return err
	}

	s.destroyed = true

	s.logger.Info("segment destroyed")

	return nil
}

// Recreate destroys the segment and immediately attaches to a new empty one
// with the same key, size, and permissions.
//
// Recreate is not atomic for other processes: they may briefly see the
// segment missing and create it themselves. Either way every process ends up
// on the same empty segment.
//
// Possible errors: [ErrClosed], [ErrDestroyed], [ErrSegment].
func (s *Segment) Recreate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.usableLocked(); err != nil {
		return err
	}

	lk, err := lock.Lock(s.lockPath)
	if err != nil {
		return fmt.Errorf("%w: acquire writer lock: %w", ErrSegment, err)
	}
	defer lk.Close()

	if err := s.removeLocked(); err != nil {
		return err
	}

	if err := s.attachLocked(); err != nil {
		return err
	}

	s.logger.Info("segment recreated", "shm_id", s.id)

	return s.ensureInitLocked()
}

// Stat reports capacity and usage.
//
// Possible errors: [ErrClosed], [ErrDestroyed], [ErrBusy], [ErrCorrupt], [ErrSegment].
func (s *Segment) Stat() (Stat, error) {
	var st Stat

	err := s.read(func(t table) error {
		st = Stat{Key: s.opts.Key, ID: s.id, Capacity: uint64(len(t))}
		if !t.initialized() {
			st.Used = headerSize

			return nil
		}

		limit, end, err := t.bounds()
		if err != nil {
			return err
		}

		st.Capacity, st.Used, st.Count = limit, end, t.count()

		return nil
	})
	if err != nil {
		return Stat{}, err
	}

	info, err := shmStat(st.ID)
	if err != nil {
		return Stat{}, err
	}

	st.Attachments = info.attachments
	st.Perm = os.FileMode(info.mode)

	return st, nil
}

// read runs fn under a stable even generation, retrying with backoff when a
// writer overlaps. fn must copy anything it keeps.
func (s *Segment) read(fn func(t table) error) error {
	for attempt := range readMaxRetries {
		readBackoff(attempt)

		s.mu.RLock()

		if err := s.usableLocked(); err != nil {
			s.mu.RUnlock()

			return err
		}

		t := table(s.data)
		if s.data == nil || t.state() == stateRemoved {
			s.mu.RUnlock()

			if err := s.reattach(); err != nil {
				return err
			}

			continue
		}

		g1 := t.generation()
		if g1%2 == 1 {
			s.mu.RUnlock()

			continue
		}

		err := fn(t)
		g2 := t.generation()
		s.mu.RUnlock()

		if g1 != g2 {
			continue
		}

		if errors.Is(err, errTorn) {
			return fmt.Errorf("%w: invalid layout under stable generation %d", ErrCorrupt, g1)
		}

		return err
	}

	return ErrBusy
}

// write runs fn with the in-process mutex and the cross-process writer lock
// held, bracketed by an odd generation.
func (s *Segment) write(fn func(t table) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.usableLocked(); err != nil {
		return err
	}

	lk, err := lock.Lock(s.lockPath)
	if err != nil {
		return fmt.Errorf("%w: acquire writer lock: %w", ErrSegment, err)
	}
	defer lk.Close()

	if s.data == nil || table(s.data).state() == stateRemoved {
		s.logger.Debug("segment removed by another process, re-attaching")

		if err := s.detachLocked(); err != nil {
			return err
		}

		if err := s.attachLocked(); err != nil {
			return err
		}
	}

	if err := s.ensureInitLocked(); err != nil {
		return err
	}

	t := table(s.data)

	gen := t.generation()
	if gen%2 == 1 {
		return fmt.Errorf("%w: odd generation %d, a writer died mid-write", ErrCorrupt, gen)
	}

	t.setGeneration(gen + 1)
	err = fn(t)
	t.setGeneration(gen + 2)

	if errors.Is(err, errTorn) {
		return fmt.Errorf("%w: invalid layout under writer lock", ErrCorrupt)
	}

	return err
}

// reattach swaps a stale attachment for the segment the key currently
// resolves to, creating it if needed.
func (s *Segment) reattach() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.usableLocked(); err != nil {
		return err
	}

	if s.data != nil && table(s.data).state() != stateRemoved {
		return nil
	}

	s.logger.Debug("segment removed by another process, re-attaching")

	if err := s.detachLocked(); err != nil {
		return err
	}

	return s.attachInitLocked()
}

// attachInitLocked attaches and initializes under the writer lock. Used when
// the caller does not already hold the lock.
func (s *Segment) attachInitLocked() error {
	if err := s.attachLocked(); err != nil {
		return err
	}

	lk, err := lock.Lock(s.lockPath)
	if err != nil {
		_ = s.detachLocked()

		return fmt.Errorf("%w: acquire writer lock: %w", ErrSegment, err)
	}
	defer lk.Close()

	if err := s.ensureInitLocked(); err != nil {
		_ = s.detachLocked()

		return err
	}

	return nil
}

func (s *Segment) attachLocked() error {
	id, err := shmGet(s.opts.Key, s.opts.Size, uint32(s.opts.Perm), true)
	if err != nil {
		return err
	}

	data, err := shmAttach(id)
	if err != nil {
		return err
	}

	if len(data) < MinSize {
		_ = shmDetach(data)

		return fmt.Errorf("existing segment id=%d is %d bytes, below minimum %d: %w", id, len(data), MinSize, ErrIncompatible)
	}

	s.id, s.data = id, data

	s.logger.Debug("segment attached", "shm_id", id, "size", len(data))

	return nil
}

// ensureInitLocked writes the header into a fresh segment. The caller holds
// the writer lock.
func (s *Segment) ensureInitLocked() error {
	t := table(s.data)

	if !t.initialized() {
		t.initialize()
		s.logger.Debug("segment initialized", "shm_id", s.id, "capacity", len(t))

		return nil
	}

	if !t.compatible() {
		return fmt.Errorf("segment id=%d has foreign header: %w", s.id, ErrIncompatible)
	}

	return nil
}

// removeLocked marks the current segment removed, removes it from the OS and
// detaches. The caller holds the writer lock.
func (s *Segment) removeLocked() error {
	if s.data == nil || table(s.data).state() == stateRemoved {
		if err := s.detachLocked(); err != nil {
			return err
		}

		if err := s.attachLocked(); err != nil {
			return err
		}
	}

	t := table(s.data)
	t.markRemoved()

	if err := removeSegment(s.id); err != nil {
		// The segment still exists; other handles must keep using it.
		t.markLive()

		return err
	}

	return s.detachLocked()
}

func (s *Segment) detachLocked() error {
	if s.data == nil {
		return nil
	}

	data := s.data
	s.data = nil
	s.id = -1

	return shmDetach(data)
}

func (s *Segment) usableLocked() error {
	if s.closed {
		return ErrClosed
	}

	if s.destroyed {
		return ErrDestroyed
	}

	return nil
}

// readBackoff waits for an exponentially increasing duration based on the
// attempt number (0-indexed).
func readBackoff(attempt int) {
	if attempt == 0 {
		return
	}

	backoff := min(readInitialBackoff<<(attempt-1), readMaxBackoff)

	time.Sleep(backoff)
}
