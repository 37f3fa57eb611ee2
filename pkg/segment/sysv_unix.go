//go:build linux || (darwin && !ios)

package segment

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

func shmGet(key int, size int64, perm uint32, create bool) (int, error) {
	flag := int(perm & 0o777)
	if create {
		flag |= unix.IPC_CREAT
	}

	id, err := unix.SysvShmGet(key, int(size), flag)
	if errors.Is(err, unix.EINVAL) && create {
		// An existing segment smaller than size: attach it as is.
		if existing, retryErr := unix.SysvShmGet(key, 0, int(perm&0o777)); retryErr == nil {
			return existing, nil
		}
	}

	if err != nil {
		return -1, fmt.Errorf("%w: shmget key=0x%08x size=%d: %w", ErrSegment, uint32(key), size, err)
	}

	return id, nil
}

func shmAttach(id int) ([]byte, error) {
	data, err := unix.SysvShmAttach(id, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: shmat id=%d: %w", ErrSegment, id, err)
	}

	return data, nil
}

func shmDetach(data []byte) error {
	err := unix.SysvShmDetach(data)
	if err != nil {
		return fmt.Errorf("%w: shmdt: %w", ErrSegment, err)
	}

	return nil
}

// shmRemove marks the segment for removal. The kernel frees it once the last
// process detaches; until then the key no longer resolves to it.
func shmRemove(id int) error {
	_, err := unix.SysvShmCtl(id, unix.IPC_RMID, nil)
	if err != nil && !errors.Is(err, unix.EINVAL) && !errors.Is(err, unix.EIDRM) {
		return fmt.Errorf("%w: shmctl IPC_RMID id=%d: %w", ErrSegment, id, err)
	}

	return nil
}

type shmInfo struct {
	size        uint64
	mode        uint32
	attachments uint64
}

func shmStat(id int) (shmInfo, error) {
	var desc unix.SysvShmDesc

	_, err := unix.SysvShmCtl(id, unix.IPC_STAT, &desc)
	if err != nil {
		return shmInfo{}, fmt.Errorf("%w: shmctl IPC_STAT id=%d: %w", ErrSegment, id, err)
	}

	return shmInfo{
		size:        uint64(desc.Segsz),
		mode:        uint32(desc.Perm.Mode) & 0o777,
		attachments: uint64(desc.Nattch),
	}, nil
}

// ftok mirrors ftok(3): the low byte of proj, the low byte of the device
// number and the low 16 bits of the inode.
func ftok(path string, proj byte) (int, error) {
	var st unix.Stat_t

	err := unix.Stat(path, &st)
	if err != nil {
		return 0, fmt.Errorf("ftok %s: %w", path, err)
	}

	key := uint32(proj)<<24 | (uint32(uint64(st.Dev))&0xff)<<16 | uint32(uint64(st.Ino))&0xffff

	return int(int32(key)), nil
}
