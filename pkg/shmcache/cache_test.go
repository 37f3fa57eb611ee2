package shmcache_test

import (
	"bytes"
	"crypto/rand"
	"errors"
	"log/slog"
	mrand "math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/calvinalkan/shmcache/pkg/shmcache"
	"github.com/calvinalkan/shmcache/pkg/shmcache/codec"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

func randomKey() int {
	return int(int32(0x43000000 | (mrand.Uint32N(0x00fffffe) + 1)))
}

func skipIfNoSysV(t *testing.T, err error) {
	t.Helper()

	if errors.Is(err, shmcache.ErrUnsupported) ||
		errors.Is(err, unix.ENOSYS) ||
		errors.Is(err, unix.EPERM) ||
		errors.Is(err, unix.EACCES) {
		t.Skipf("System V shared memory unavailable: %v", err)
	}
}

// testOptions returns options for a private segment: random key, lock files
// in a temp dir, small size.
func testOptions(t *testing.T) shmcache.Options {
	t.Helper()

	return shmcache.Options{
		Key:         randomKey(),
		Size:        "64K",
		Permissions: 0o600,
		LockDir:     t.TempDir(),
	}
}

func openCache[V any](t *testing.T, opts shmcache.Options) *shmcache.Cache[V] {
	t.Helper()

	c, err := shmcache.Open[V](opts)
	skipIfNoSysV(t, err)
	require.NoError(t, err, "open cache")

	t.Cleanup(func() {
		_ = c.Destroy()
		_ = c.Close()
	})

	return c
}

func Test_Cache_Get_Returns_Value_When_Set_Without_TTL(t *testing.T) {
	t.Parallel()

	c := openCache[string](t, testOptions(t))

	require.NoError(t, c.Set("greeting", "hello", shmcache.NoExpiry))

	got, found, err := c.Get("greeting")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "hello", got)
}

func Test_Cache_Get_Returns_Zero_And_False_When_Key_Missing(t *testing.T) {
	t.Parallel()

	c := openCache[int](t, testOptions(t))

	got, found, err := c.Get("absent")
	require.NoError(t, err, "absence is not an error")
	assert.False(t, found)
	assert.Zero(t, got)

	v, err := c.GetOr("absent", 17)
	require.NoError(t, err)
	assert.Equal(t, 17, v)
}

func Test_Cache_Returns_ErrEmptyKey_When_Key_Empty(t *testing.T) {
	t.Parallel()

	c := openCache[string](t, testOptions(t))

	_, _, err := c.Get("")
	require.ErrorIs(t, err, shmcache.ErrEmptyKey)

	err = c.Set("", "v", shmcache.NoExpiry)
	require.ErrorIs(t, err, shmcache.ErrEmptyKey)

	_, err = c.Delete("")
	require.ErrorIs(t, err, shmcache.ErrEmptyKey)

	_, err = c.Has("")
	require.ErrorIs(t, err, shmcache.ErrEmptyKey)
}

func Test_Cache_Set_Returns_ErrInvalidTTL_And_Keeps_Old_Value_When_TTL_Negative(t *testing.T) {
	t.Parallel()

	c := openCache[string](t, testOptions(t))
	require.NoError(t, c.Set("k", "old", shmcache.NoExpiry))

	err := c.Set("k", "new", shmcache.Seconds(-1))
	require.ErrorIs(t, err, shmcache.ErrInvalidTTL)

	got, _, err := c.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "old", got)
}

func Test_Cache_Get_Returns_Miss_And_Removes_Entry_When_Expired(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	c := openCache[string](t, shmcache.WithClockForTesting(testOptions(t), clock.Now))

	require.NoError(t, c.Set("session", "abc", shmcache.Seconds(10)))

	clock.Advance(9 * time.Second)

	got, found, err := c.Get("session")
	require.NoError(t, err)
	require.True(t, found, "entry is valid before its deadline")
	assert.Equal(t, "abc", got)

	clock.Advance(2 * time.Second)

	_, found, err = c.Get("session")
	require.NoError(t, err)
	assert.False(t, found, "entry is gone after its deadline")

	st, err := c.Stat()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), st.Entries, "expired entry is removed lazily on read")
}

func Test_Cache_Has_Returns_False_And_Removes_Entry_When_Expired(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	c := openCache[string](t, shmcache.WithClockForTesting(testOptions(t), clock.Now))

	require.NoError(t, c.Set("k", "v", shmcache.Duration(time.Minute)))

	has, err := c.Has("k")
	require.NoError(t, err)
	assert.True(t, has)

	clock.Advance(time.Minute)

	has, err = c.Has("k")
	require.NoError(t, err)
	assert.False(t, has)

	removed, err := c.Delete("k")
	require.NoError(t, err)
	assert.False(t, removed, "has already removed the expired entry")
}

func Test_Cache_Treats_Entry_As_Expired_When_TTL_Zero(t *testing.T) {
	t.Parallel()

	c := openCache[string](t, testOptions(t))

	require.NoError(t, c.Set("k", "v", shmcache.Seconds(0)))

	_, found, err := c.Get("k")
	require.NoError(t, err)
	assert.False(t, found)
}

func Test_Cache_Delete_Reports_Whether_Entry_Existed(t *testing.T) {
	t.Parallel()

	c := openCache[string](t, testOptions(t))
	require.NoError(t, c.Set("k", "v", shmcache.NoExpiry))

	removed, err := c.Delete("k")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = c.Delete("k")
	require.NoError(t, err)
	assert.False(t, removed)

	has, err := c.Has("k")
	require.NoError(t, err)
	assert.False(t, has)
}

func Test_Cache_Set_Returns_ErrFull_And_Keeps_Old_Value_When_Value_Too_Large(t *testing.T) {
	t.Parallel()

	opts := testOptions(t)
	opts.Size = "4K"

	c := openCache[[]byte](t, opts)
	require.NoError(t, c.Set("blob", []byte("small"), shmcache.NoExpiry))

	// Random bytes do not compress.
	big := make([]byte, 16*1024)
	_, _ = rand.Read(big)

	err := c.Set("blob", big, shmcache.NoExpiry)
	require.ErrorIs(t, err, shmcache.ErrFull)
	require.ErrorIs(t, err, shmcache.ErrSegment, "full is a segment error")

	got, found, err := c.Get("blob")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("small"), got)
}

func Test_Cache_Round_Trips_Struct_When_Codec_Varies(t *testing.T) {
	t.Parallel()

	type user struct {
		ID    int
		Name  string
		Roles []string
	}

	want := user{ID: 7, Name: "grace", Roles: []string{"admin", "ops"}}

	for _, s := range []codec.Serializer{codec.SerializerNative, codec.SerializerCompactBinary} {
		for _, comp := range []codec.Compression{codec.CompressionNone, codec.CompressionZlib, codec.CompressionZstd, codec.CompressionLZ4} {
			t.Run(s.String()+"/"+comp.String(), func(t *testing.T) {
				t.Parallel()

				opts := testOptions(t)
				opts.Serializer = s
				opts.Compression = comp

				c := openCache[user](t, opts)
				require.NoError(t, c.Set("u", want, shmcache.Seconds(60)))

				got, found, err := c.Get("u")
				require.NoError(t, err)
				require.True(t, found)

				if diff := cmp.Diff(want, got); diff != "" {
					t.Fatalf("value mismatch (-want +got):\n%s", diff)
				}
			})
		}
	}
}

func Test_Cache_Get_Returns_ErrCompression_When_Reader_Codec_Differs(t *testing.T) {
	t.Parallel()

	opts := testOptions(t)
	opts.Compression = codec.CompressionNone

	writer := openCache[string](t, opts)
	require.NoError(t, writer.Set("k", "plain", shmcache.NoExpiry))

	opts.Compression = codec.CompressionZlib
	reader := openCache[string](t, opts)

	_, _, err := reader.Get("k")
	require.ErrorIs(t, err, shmcache.ErrCompression)
}

func Test_Cache_Writes_Are_Visible_When_Second_Handle_Shares_Key(t *testing.T) {
	t.Parallel()

	opts := testOptions(t)
	a := openCache[string](t, opts)
	b := openCache[string](t, opts)

	require.NoError(t, a.Set("shared", "from-a", shmcache.NoExpiry))

	got, found, err := b.Get("shared")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "from-a", got)

	require.NoError(t, b.Set("shared", "from-b", shmcache.NoExpiry))

	got, _, err = a.Get("shared")
	require.NoError(t, err)
	assert.Equal(t, "from-b", got)
}

func Test_Cache_Clear_Removes_All_Entries_When_Called(t *testing.T) {
	t.Parallel()

	opts := testOptions(t)
	a := openCache[string](t, opts)
	b := openCache[string](t, opts)

	require.NoError(t, a.Set("x", "1", shmcache.NoExpiry))
	require.NoError(t, a.Set("y", "2", shmcache.NoExpiry))

	require.NoError(t, a.Clear())

	for _, c := range []*shmcache.Cache[string]{a, b} {
		has, err := c.Has("x")
		require.NoError(t, err)
		assert.False(t, has, "clear is visible to every handle")
	}

	require.NoError(t, b.Set("z", "3", shmcache.NoExpiry), "cache stays usable after clear")

	got, _, err := a.Get("z")
	require.NoError(t, err)
	assert.Equal(t, "3", got)
}

func Test_Cache_Destroy_Invalidates_Handle_And_Others_Start_Fresh(t *testing.T) {
	t.Parallel()

	opts := testOptions(t)
	a := openCache[string](t, opts)
	b := openCache[string](t, opts)

	require.NoError(t, a.Set("k", "v", shmcache.NoExpiry))
	require.NoError(t, a.Destroy())

	_, _, err := a.Get("k")
	require.ErrorIs(t, err, shmcache.ErrDestroyed)

	_, found, err := b.Get("k")
	require.NoError(t, err)
	assert.False(t, found, "data does not survive destroy")
}

func Test_Cache_Returns_ErrClosed_When_Used_After_Close(t *testing.T) {
	t.Parallel()

	c := openCache[string](t, testOptions(t))

	require.NoError(t, c.Close())
	require.NoError(t, c.Close(), "close is idempotent")

	_, _, err := c.Get("k")
	require.ErrorIs(t, err, shmcache.ErrClosed)

	err = c.Set("k", "v", shmcache.NoExpiry)
	require.ErrorIs(t, err, shmcache.ErrClosed)

	err = c.Clear()
	require.ErrorIs(t, err, shmcache.ErrClosed)
}

func Test_Cache_Stat_Reports_Configuration_And_Usage(t *testing.T) {
	t.Parallel()

	opts := testOptions(t)
	opts.HashAlgorithm = shmcache.HashXXH64
	opts.Serializer = codec.SerializerCompactBinary
	opts.Compression = codec.CompressionLZ4
	opts.CompressionLevel = shmcache.Level(3)

	c := openCache[string](t, opts)
	require.NoError(t, c.Set("a", "1", shmcache.NoExpiry))
	require.NoError(t, c.Set("b", "2", shmcache.NoExpiry))

	st, err := c.Stat()
	require.NoError(t, err)

	assert.Equal(t, opts.Key, st.Key)
	assert.Equal(t, uint64(2), st.Entries)
	assert.Equal(t, uint64(64*1024), st.Capacity)
	assert.Equal(t, st.Capacity-st.Used, st.Free)
	assert.Equal(t, shmcache.HashXXH64, st.HashAlgorithm)
	assert.Equal(t, codec.SerializerCompactBinary, st.Serializer)
	assert.Equal(t, codec.CompressionLZ4, st.Compression)
	assert.Equal(t, 3, st.CompressionLevel)
}

func Test_Open_Returns_Error_When_Options_Invalid(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		mutate  func(o *shmcache.Options)
		wantErr error
	}{
		{name: "BadSize", mutate: func(o *shmcache.Options) { o.Size = "lots" }, wantErr: shmcache.ErrInvalidInput},
		{name: "TinySize", mutate: func(o *shmcache.Options) { o.Size = "16" }, wantErr: shmcache.ErrInvalidInput},
		{name: "BadHash", mutate: func(o *shmcache.Options) { o.HashAlgorithm = 99 }, wantErr: shmcache.ErrInvalidHashAlgorithm},
		{name: "BadSerializer", mutate: func(o *shmcache.Options) { o.Serializer = 99 }, wantErr: shmcache.ErrInvalidSerializer},
		{name: "BadLevel", mutate: func(o *shmcache.Options) { o.CompressionLevel = shmcache.Level(12) }, wantErr: shmcache.ErrCompression},
		{name: "BadPermissions", mutate: func(o *shmcache.Options) { o.Permissions = 0o1777 }, wantErr: shmcache.ErrInvalidInput},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			opts := testOptions(t)
			testCase.mutate(&opts)

			c, err := shmcache.Open[string](opts)
			require.ErrorIs(t, err, testCase.wantErr)
			assert.Nil(t, c)
		})
	}
}

func Test_Cache_Logs_Debug_Event_When_Entry_Expires(t *testing.T) {
	t.Parallel()

	var buf syncBuffer

	clock := newFakeClock()
	opts := shmcache.WithClockForTesting(testOptions(t), clock.Now)
	opts.Logger = slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	c := openCache[string](t, opts)
	require.NoError(t, c.Set("k", "v", shmcache.Seconds(1)))

	clock.Advance(time.Hour)

	_, _, err := c.Get("k")
	require.NoError(t, err)

	assert.Contains(t, buf.String(), "expired entry")
	assert.Contains(t, buf.String(), "key=k")
}

func Test_Cache_Keeps_Every_Write_When_Goroutines_Write_Concurrently(t *testing.T) {
	t.Parallel()

	c := openCache[int](t, testOptions(t))

	var wg sync.WaitGroup

	for w := range 4 {
		wg.Go(func() {
			for i := range 25 {
				assert.NoError(t, c.Set(keyFor(w, i), w*100+i, shmcache.NoExpiry))
			}
		})
	}

	wg.Wait()

	for w := range 4 {
		for i := range 25 {
			got, found, err := c.Get(keyFor(w, i))
			require.NoError(t, err)
			require.True(t, found, "key %s", keyFor(w, i))
			assert.Equal(t, w*100+i, got)
		}
	}
}

func keyFor(w, i int) string {
	return string(rune('a'+w)) + ":" + string(rune('A'+i))
}

// syncBuffer is a bytes.Buffer safe for concurrent writes from slog.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.String()
}
