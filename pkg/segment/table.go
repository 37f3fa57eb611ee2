package segment

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"sync/atomic"
	"unsafe"
)

// Segment layout (little endian):
//
//	0x00  magic "SHMC"                    [4]byte
//	0x04  format version                  uint32
//	0x08  generation (seqlock)            uint64, atomic
//	0x10  capacity in bytes               uint64
//	0x18  end offset of last variable     uint64
//	0x20  variable count                  uint64
//	0x28  state (live/removed)            uint64, atomic
//	0x30  reserved                        16 bytes
//
// Variables follow the header back to back:
//
//	slot uint64 | length uint32 | reserved uint32 | data[length] | pad to 8
//
// A variable never straddles another; removal compacts the tail down.
const (
	headerSize    = 0x40
	varHeaderSize = 16

	offMagic      = 0x00
	offVersion    = 0x04
	offGeneration = 0x08
	offCapacity   = 0x10
	offEnd        = 0x18
	offCount      = 0x20
	offState      = 0x28

	formatVersion = 1

	stateLive    = 0
	stateRemoved = 1
)

var magic = [4]byte{'S', 'H', 'M', 'C'}

// MinSize is the smallest usable segment: the header plus one empty variable.
const MinSize = headerSize + 4*varHeaderSize

// errTorn reports a layout that is impossible under a stable generation.
// Readers treat it as overlap with a writer and retry; if the generation is
// stable it is real corruption.
var errTorn = errors.New("segment: torn read")

// table is a view over the raw segment bytes. All offsets are bounds checked:
// readers run concurrently with writers in other processes and must never
// panic on a half-written layout.
type table []byte

func (t table) initialized() bool {
	return [4]byte(t[offMagic:offMagic+4]) != [4]byte{}
}

func (t table) compatible() bool {
	return [4]byte(t[offMagic:offMagic+4]) == magic &&
		binary.LittleEndian.Uint32(t[offVersion:]) == formatVersion
}

// initialize writes an empty header. The caller holds the writer lock.
func (t table) initialize() {
	clear(t[:headerSize])
	copy(t[offMagic:], magic[:])
	binary.LittleEndian.PutUint32(t[offVersion:], formatVersion)
	binary.LittleEndian.PutUint64(t[offCapacity:], uint64(len(t)))
	binary.LittleEndian.PutUint64(t[offEnd:], headerSize)
	binary.LittleEndian.PutUint64(t[offCount:], 0)
}

func (t table) generation() uint64 {
	return atomicLoadUint64(t[offGeneration:])
}

func (t table) setGeneration(gen uint64) {
	atomicStoreUint64(t[offGeneration:], gen)
}

func (t table) state() uint64 {
	return atomicLoadUint64(t[offState:])
}

func (t table) markRemoved() {
	atomicStoreUint64(t[offState:], stateRemoved)
}

func (t table) markLive() {
	atomicStoreUint64(t[offState:], stateLive)
}

func (t table) capacity() uint64 {
	return binary.LittleEndian.Uint64(t[offCapacity:])
}

func (t table) end() uint64 {
	return binary.LittleEndian.Uint64(t[offEnd:])
}

func (t table) count() uint64 {
	return binary.LittleEndian.Uint64(t[offCount:])
}

// bounds returns the usable limit and the end offset, or errTorn if the
// header values are impossible.
func (t table) bounds() (limit, end uint64, err error) {
	limit = t.capacity()
	if limit > uint64(len(t)) || limit < headerSize {
		return 0, 0, errTorn
	}

	end = t.end()
	if end < headerSize || end > limit {
		return 0, 0, errTorn
	}

	return limit, end, nil
}

// find returns the offset of the variable holding slot.
func (t table) find(slot uint64) (off uint64, length uint32, found bool, err error) {
	_, end, err := t.bounds()
	if err != nil {
		return 0, 0, false, err
	}

	for off = headerSize; off < end; {
		if end-off < varHeaderSize {
			return 0, 0, false, errTorn
		}

		id := binary.LittleEndian.Uint64(t[off:])
		length = binary.LittleEndian.Uint32(t[off+8:])

		size := entrySize(uint64(length))
		if size > end-off {
			return 0, 0, false, errTorn
		}

		if id == slot {
			return off, length, true, nil
		}

		off += size
	}

	return 0, 0, false, nil
}

// get copies the bytes stored at slot. The copy is required: the caller keeps
// the result after the generation check and after the segment is detached.
func (t table) get(slot uint64) ([]byte, bool, error) {
	if !t.initialized() {
		return nil, false, nil
	}

	off, length, found, err := t.find(slot)
	if err != nil || !found {
		return nil, false, err
	}

	start := off + varHeaderSize
	out := make([]byte, length)
	copy(out, t[start:start+uint64(length)])

	return out, true, nil
}

func (t table) has(slot uint64) (bool, error) {
	if !t.initialized() {
		return false, nil
	}

	_, _, found, err := t.find(slot)

	return found, err
}

// put stores data at slot, replacing any previous variable. Space is checked
// before anything is modified, so a failed put leaves the table untouched.
// The caller holds the writer lock and has published an odd generation.
func (t table) put(slot uint64, data []byte) error {
	if uint64(len(data)) > math.MaxUint32 {
		return ErrFull
	}

	limit, end, err := t.bounds()
	if err != nil {
		return err
	}

	off, oldLen, found, err := t.find(slot)
	if err != nil {
		return err
	}

	need := entrySize(uint64(len(data)))

	reclaim := uint64(0)
	if found {
		reclaim = entrySize(uint64(oldLen))
	}

	if need > limit-end+reclaim {
		return ErrFull
	}

	if found {
		end = t.cut(off, reclaim, end)
	}

	binary.LittleEndian.PutUint64(t[end:], slot)
	binary.LittleEndian.PutUint32(t[end+8:], uint32(len(data)))
	binary.LittleEndian.PutUint32(t[end+12:], 0)
	copy(t[end+varHeaderSize:], data)
	clear(t[end+varHeaderSize+uint64(len(data)) : end+need])

	binary.LittleEndian.PutUint64(t[offEnd:], end+need)
	binary.LittleEndian.PutUint64(t[offCount:], t.count()+1)

	return nil
}

// remove deletes the variable holding slot. The caller holds the writer lock
// and has published an odd generation.
func (t table) remove(slot uint64) (bool, error) {
	if !t.initialized() {
		return false, nil
	}

	_, end, err := t.bounds()
	if err != nil {
		return false, err
	}

	off, length, found, err := t.find(slot)
	if err != nil || !found {
		return false, err
	}

	t.cut(off, entrySize(uint64(length)), end)

	return true, nil
}

// removeIf deletes the variable holding slot only if its bytes equal want.
func (t table) removeIf(slot uint64, want []byte) (bool, error) {
	if !t.initialized() {
		return false, nil
	}

	_, end, err := t.bounds()
	if err != nil {
		return false, err
	}

	off, length, found, err := t.find(slot)
	if err != nil || !found {
		return false, err
	}

	start := off + varHeaderSize
	if !bytes.Equal(t[start:start+uint64(length)], want) {
		return false, nil
	}

	t.cut(off, entrySize(uint64(length)), end)

	return true, nil
}

// cut removes size bytes at off by moving the tail down, updates end and
// count, and returns the new end.
func (t table) cut(off, size, end uint64) uint64 {
	copy(t[off:], t[off+size:end])

	newEnd := end - size
	clear(t[newEnd:end])

	binary.LittleEndian.PutUint64(t[offEnd:], newEnd)
	binary.LittleEndian.PutUint64(t[offCount:], t.count()-1)

	return newEnd
}

// entrySize is the space a variable with n data bytes occupies.
func entrySize(n uint64) uint64 {
	return varHeaderSize + (n+7)&^7
}

// atomicLoadUint64 performs an atomic 64-bit load from an 8-byte aligned
// position. Attached segments are page aligned and every atomic field sits
// at an 8-byte offset.
func atomicLoadUint64(buf []byte) uint64 {
	_ = buf[7]

	return atomic.LoadUint64((*uint64)(unsafe.Pointer(&buf[0])))
}

// atomicStoreUint64 is the store counterpart of [atomicLoadUint64].
func atomicStoreUint64(buf []byte, val uint64) {
	_ = buf[7]

	atomic.StoreUint64((*uint64)(unsafe.Pointer(&buf[0])), val)
}
