package cli_test

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/calvinalkan/shmcache/internal/cli"
	"github.com/calvinalkan/shmcache/pkg/shmcache"
)

// CLI runs shmcache commands against a private segment: a random key, lock
// files and HOME in temp directories. A library handle on the same segment
// is available for assertions.
type CLI struct {
	t       *testing.T
	Dir     string
	Env     map[string]string
	Key     int
	LockDir string
	Cache   *shmcache.Cache[string]
}

// NewCLI creates a CLI harness, skipping the test when System V shared
// memory is unavailable.
func NewCLI(t *testing.T) *CLI {
	t.Helper()

	key := int(int32(0x4c000000 | (rand.Uint32N(0x00fffffe) + 1)))
	lockDir := t.TempDir()

	c, err := shmcache.Open[string](shmcache.Options{Key: key, LockDir: lockDir, Size: "64K", Permissions: 0o600})
	if errors.Is(err, shmcache.ErrUnsupported) || errors.Is(err, unix.ENOSYS) ||
		errors.Is(err, unix.EPERM) || errors.Is(err, unix.EACCES) {
		t.Skipf("System V shared memory unavailable: %v", err)
	}

	require.NoError(t, err, "open probe cache")

	t.Cleanup(func() {
		_ = c.Destroy()
		_ = c.Close()
	})

	return &CLI{
		t:       t,
		Dir:     t.TempDir(),
		Env:     map[string]string{"HOME": t.TempDir()},
		Key:     key,
		LockDir: lockDir,
		Cache:   c,
	}
}

func (r *CLI) args(args []string) []string {
	return append([]string{
		"shmcache",
		"--cwd", r.Dir,
		"--key", fmt.Sprintf("0x%08x", uint32(r.Key)),
		"--lock-dir", r.LockDir,
	}, args...)
}

// Run executes the CLI with the given args and returns stdout, stderr, and exit code.
func (r *CLI) Run(args ...string) (string, string, int) {
	return r.RunWithInput("", args...)
}

// RunWithInput executes the CLI with stdin and returns stdout, stderr, and exit code.
func (r *CLI) RunWithInput(stdin string, args ...string) (string, string, int) {
	var outBuf, errBuf bytes.Buffer

	code := cli.Run(strings.NewReader(stdin), &outBuf, &errBuf, r.args(args), r.Env)

	return outBuf.String(), errBuf.String(), code
}

// MustRun executes the CLI and fails the test if the command returns non-zero.
// Returns trimmed stdout on success.
func (r *CLI) MustRun(args ...string) string {
	r.t.Helper()

	stdout, stderr, code := r.Run(args...)
	if code != 0 {
		r.t.Fatalf("command %v failed with exit code %d\nstderr: %s", args, code, stderr)
	}

	return strings.TrimSpace(stdout)
}

// MustFail executes the CLI and fails the test if the command succeeds.
// Returns trimmed stderr.
func (r *CLI) MustFail(args ...string) string {
	r.t.Helper()

	stdout, stderr, code := r.Run(args...)
	if code == 0 {
		r.t.Fatalf("command %v should have failed but succeeded\nstdout: %s", args, stdout)
	}

	return strings.TrimSpace(stderr)
}

// AssertContains fails the test if content doesn't contain substr.
func AssertContains(t *testing.T, content, substr string) {
	t.Helper()

	if !strings.Contains(content, substr) {
		t.Errorf("content should contain %q\ncontent:\n%s", substr, content)
	}
}
