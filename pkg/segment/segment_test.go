package segment_test

import (
	"bytes"
	"errors"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/calvinalkan/shmcache/pkg/segment"
)

const testSize = 4096

// randomKey returns a key unlikely to collide with anything else on the host.
func randomKey() int {
	return int(int32(0x54000000 | (rand.Uint32N(0x00fffffe) + 1)))
}

func skipIfNoSysV(t *testing.T, err error) {
	t.Helper()

	if errors.Is(err, segment.ErrUnsupported) ||
		errors.Is(err, unix.ENOSYS) ||
		errors.Is(err, unix.EPERM) ||
		errors.Is(err, unix.EACCES) {
		t.Skipf("System V shared memory unavailable: %v", err)
	}
}

func openSegment(t *testing.T, opts segment.Options) *segment.Segment {
	t.Helper()

	if opts.Key == 0 {
		opts.Key = randomKey()
	}

	if opts.Size == 0 {
		opts.Size = testSize
	}

	if opts.Perm == 0 {
		opts.Perm = 0o600
	}

	if opts.LockDir == "" {
		opts.LockDir = t.TempDir()
	}

	seg, err := segment.Open(opts)
	skipIfNoSysV(t, err)
	require.NoError(t, err, "open segment")

	t.Cleanup(func() {
		_ = seg.Destroy()
		_ = seg.Close()
	})

	return seg
}

// secondHandle attaches another handle to the same segment, as a second
// process would.
func secondHandle(t *testing.T, first segment.Options) *segment.Segment {
	t.Helper()

	return openSegment(t, first)
}

func Test_Open_Returns_ErrInvalidInput_When_Options_Invalid(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		opts segment.Options
	}{
		{name: "ZeroKey", opts: segment.Options{Key: 0, Size: testSize, Perm: 0o600}},
		{name: "SizeBelowMinimum", opts: segment.Options{Key: 1, Size: segment.MinSize - 1, Perm: 0o600}},
		{name: "NonPermissionBits", opts: segment.Options{Key: 1, Size: testSize, Perm: os.ModeDir | 0o600}},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			seg, err := segment.Open(testCase.opts)
			require.ErrorIs(t, err, segment.ErrInvalidInput)
			assert.Nil(t, seg)
		})
	}
}

func Test_Segment_Get_Returns_Value_When_Put_Succeeded(t *testing.T) {
	t.Parallel()

	seg := openSegment(t, segment.Options{})

	require.NoError(t, seg.Put(42, []byte("hello")))

	got, found, err := seg.Get(42)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("hello"), got)

	has, err := seg.Has(42)
	require.NoError(t, err)
	assert.True(t, has)

	_, found, err = seg.Get(43)
	require.NoError(t, err)
	assert.False(t, found, "unknown slot is a miss")
}

func Test_Segment_Remove_Reports_Existence_When_Called_Twice(t *testing.T) {
	t.Parallel()

	seg := openSegment(t, segment.Options{})
	require.NoError(t, seg.Put(1, []byte("x")))

	removed, err := seg.Remove(1)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = seg.Remove(1)
	require.NoError(t, err)
	assert.False(t, removed)

	has, err := seg.Has(1)
	require.NoError(t, err)
	assert.False(t, has)
}

func Test_Segment_Put_Returns_ErrFull_And_Keeps_Old_Value_When_Too_Large(t *testing.T) {
	t.Parallel()

	seg := openSegment(t, segment.Options{})
	require.NoError(t, seg.Put(1, []byte("old")))

	err := seg.Put(1, bytes.Repeat([]byte{'x'}, testSize))
	require.ErrorIs(t, err, segment.ErrFull)

	got, found, err := seg.Get(1)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("old"), got)
}

func Test_Segment_Values_Are_Visible_Across_Handles_When_Key_Matches(t *testing.T) {
	t.Parallel()

	opts := segment.Options{Key: randomKey(), LockDir: t.TempDir()}
	a := openSegment(t, opts)
	b := secondHandle(t, opts)

	require.NoError(t, a.Put(7, []byte("from a")))

	got, found, err := b.Get(7)
	require.NoError(t, err)
	require.True(t, found, "b must see a's write")
	assert.Equal(t, []byte("from a"), got)

	removed, err := b.Remove(7)
	require.NoError(t, err)
	assert.True(t, removed)

	has, err := a.Has(7)
	require.NoError(t, err)
	assert.False(t, has, "a must see b's removal")
}

func Test_Segment_Reattaches_To_Fresh_Segment_When_Other_Handle_Destroyed(t *testing.T) {
	t.Parallel()

	opts := segment.Options{Key: randomKey(), LockDir: t.TempDir()}
	a := openSegment(t, opts)
	b := secondHandle(t, opts)

	require.NoError(t, a.Put(1, []byte("before")))
	require.NoError(t, a.Destroy())

	_, _, err := a.Get(1)
	require.ErrorIs(t, err, segment.ErrDestroyed, "destroyed handle is unusable")

	_, found, err := b.Get(1)
	require.NoError(t, err, "b re-attaches transparently")
	assert.False(t, found, "values do not survive destroy")

	require.NoError(t, b.Put(2, []byte("after")))

	c := secondHandle(t, opts)

	got, found, err := c.Get(2)
	require.NoError(t, err)
	require.True(t, found, "new handle sees the fresh segment b created")
	assert.Equal(t, []byte("after"), got)
}

func Test_Segment_Recreate_Empties_Segment_When_Called(t *testing.T) {
	t.Parallel()

	seg := openSegment(t, segment.Options{})
	require.NoError(t, seg.Put(1, []byte("a")))
	require.NoError(t, seg.Put(2, []byte("b")))

	require.NoError(t, seg.Recreate())

	st, err := seg.Stat()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), st.Count)

	require.NoError(t, seg.Put(3, []byte("c")), "segment stays usable after recreate")
}

func Test_Segment_Stat_Reports_Usage_When_Slots_Stored(t *testing.T) {
	t.Parallel()

	seg := openSegment(t, segment.Options{Perm: 0o640})

	before, err := seg.Stat()
	require.NoError(t, err)

	require.NoError(t, seg.Put(1, []byte("12345678")))

	after, err := seg.Stat()
	require.NoError(t, err)

	assert.Equal(t, uint64(1), after.Count)
	assert.Equal(t, before.Used+24, after.Used)
	assert.GreaterOrEqual(t, after.Capacity, uint64(testSize))
	assert.Equal(t, os.FileMode(0o640), after.Perm)
	assert.GreaterOrEqual(t, after.Attachments, uint64(1))
}

func Test_Segment_Returns_ErrClosed_When_Used_After_Close(t *testing.T) {
	t.Parallel()

	seg := openSegment(t, segment.Options{})

	require.NoError(t, seg.Close())
	require.NoError(t, seg.Close(), "close is idempotent")

	_, _, err := seg.Get(1)
	require.ErrorIs(t, err, segment.ErrClosed)

	err = seg.Put(1, nil)
	require.ErrorIs(t, err, segment.ErrClosed)
}

func Test_Segment_Creates_Lock_File_When_Writing(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	key := randomKey()
	seg := openSegment(t, segment.Options{Key: key, LockDir: dir})

	require.NoError(t, seg.Put(1, []byte("v")))

	_, err := os.Stat(segment.LockPath(dir, key))
	require.NoError(t, err, "writer lock file should exist")
	assert.Equal(t, dir, filepath.Dir(segment.LockPath(dir, key)))
}

func Test_Segment_Keeps_Every_Write_When_Handles_Write_Concurrently(t *testing.T) {
	t.Parallel()

	opts := segment.Options{Key: randomKey(), LockDir: t.TempDir(), Size: 64 * 1024}
	handles := []*segment.Segment{openSegment(t, opts), secondHandle(t, opts), secondHandle(t, opts)}

	const perHandle = 50

	var wg sync.WaitGroup

	for h, seg := range handles {
		wg.Go(func() {
			for i := range perHandle {
				slot := uint64(h*perHandle + i)
				assert.NoError(t, seg.Put(slot, []byte{byte(h), byte(i)}))
			}
		})
	}

	wg.Wait()

	st, err := handles[0].Stat()
	require.NoError(t, err)
	assert.Equal(t, uint64(len(handles)*perHandle), st.Count)

	for h := range handles {
		for i := range perHandle {
			got, found, err := handles[0].Get(uint64(h*perHandle + i))
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, []byte{byte(h), byte(i)}, got)
		}
	}
}

func Test_DefaultKey_Is_Stable_And_NonZero(t *testing.T) {
	t.Parallel()

	assert.Equal(t, segment.DefaultKey(), segment.DefaultKey())
	assert.NotZero(t, segment.DefaultKey())
	assert.Equal(t, uint32('S'), uint32(segment.DefaultKey())>>24)
}

func Test_KeyFromPath_Returns_Same_Key_When_Path_Unchanged(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "anchor")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	k1, err := segment.KeyFromPath(path, 'x')
	skipIfNoSysV(t, err)
	require.NoError(t, err)

	k2, err := segment.KeyFromPath(path, 'x')
	require.NoError(t, err)

	assert.Equal(t, k1, k2)
	assert.Equal(t, uint32('x'), uint32(k1)>>24)

	_, err = segment.KeyFromPath(filepath.Join(t.TempDir(), "missing"), 'x')
	require.Error(t, err)
}

func Test_Open_Attaches_Existing_Segment_When_Requested_Size_Differs(t *testing.T) {
	t.Parallel()

	opts := segment.Options{Key: randomKey(), LockDir: t.TempDir(), Size: testSize}
	small := openSegment(t, opts)
	require.NoError(t, small.Put(1, []byte("kept")))

	opts.Size = 4 * testSize
	larger := openSegment(t, opts)

	st, err := larger.Stat()
	require.NoError(t, err)
	assert.Equal(t, uint64(testSize), st.Capacity, "existing segment keeps its size")

	got, found, err := larger.Get(1)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("kept"), got)
}
