// Package segment manages one System V shared memory segment holding a table
// of integer-addressed slots (variables).
//
// A segment is identified by an IPC key. [Open] attaches to the segment with
// that key, creating and initializing it when absent. Every process that opens
// the same key sees the same slots.
//
// # Basic Usage
//
//	seg, err := segment.Open(segment.Options{
//	    Key:  segment.DefaultKey(),
//	    Size: 1 << 20,
//	    Perm: 0o666,
//	})
//	if err != nil {
//	    return err
//	}
//	defer seg.Close()
//
//	err = seg.Put(42, []byte("hello"))
//	data, found, err := seg.Get(42)
//
// # Concurrency
//
// Each slot operation is atomic with respect to every attached process:
//   - Writers serialize on a flock'd lock file next to [Options.LockDir]
//   - Readers never take the lock; they copy under a seqlock generation
//     and retry on overlap, returning [ErrBusy] after repeated overlaps
//
// Nothing spans more than one slot. [Segment.Recreate] in particular is two
// steps (remove, create) that other processes can observe in between.
//
// # Lifetime
//
// [Segment.Close] detaches and never removes data. [Segment.Destroy] removes
// the segment from the OS; other processes' handles notice on their next
// operation and re-attach to a fresh, empty segment with the same key.
package segment
