package segment

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by segment operations.
//
// Every OS-level failure matches [ErrSegment]; the refinements below match
// both themselves and [ErrSegment]:
//
//	if errors.Is(err, segment.ErrFull) {
//	    // value too large for the remaining capacity
//	}
var (
	// ErrSegment indicates the OS could not create, attach, remove, or write
	// the shared memory segment.
	ErrSegment = errors.New("segment")

	// ErrFull indicates the segment has no room for the variable.
	//
	// Nothing is evicted; the previous value at the slot is kept.
	ErrFull = fmt.Errorf("%w: full", ErrSegment)

	// ErrCorrupt indicates the segment layout is damaged, for example because
	// a writer died while holding an odd generation.
	//
	// Recovery: [Segment.Recreate].
	ErrCorrupt = fmt.Errorf("%w: corrupt", ErrSegment)

	// ErrIncompatible indicates an existing segment with the same key was not
	// created by this package (foreign magic or format version).
	ErrIncompatible = fmt.Errorf("%w: incompatible", ErrSegment)

	// ErrBusy indicates readers kept overlapping with writers.
	//
	// Recovery: retry after a short delay.
	ErrBusy = fmt.Errorf("%w: busy", ErrSegment)

	// ErrDestroyed indicates the handle was used after [Segment.Destroy].
	ErrDestroyed = fmt.Errorf("%w: destroyed", ErrSegment)

	// ErrUnsupported indicates the platform has no System V shared memory.
	ErrUnsupported = fmt.Errorf("%w: unsupported platform", ErrSegment)

	// ErrClosed indicates the handle has already been closed.
	//
	// This is a programming error.
	ErrClosed = errors.New("segment: closed")

	// ErrInvalidInput indicates invalid [Options].
	//
	// This is a programming error.
	ErrInvalidInput = errors.New("segment: invalid input")
)
