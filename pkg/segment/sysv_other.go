//go:build !(linux || (darwin && !ios))

package segment

func shmGet(int, int64, uint32, bool) (int, error) { return -1, ErrUnsupported }

func shmAttach(int) ([]byte, error) { return nil, ErrUnsupported }

func shmDetach([]byte) error { return ErrUnsupported }

func shmRemove(int) error { return ErrUnsupported }

type shmInfo struct {
	size        uint64
	mode        uint32
	attachments uint64
}

func shmStat(int) (shmInfo, error) { return shmInfo{}, ErrUnsupported }

func ftok(string, byte) (int, error) { return 0, ErrUnsupported }
