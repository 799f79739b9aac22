package lifecycle

import (
	"fmt"
	"os"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/maksimkurb/hosts-redirect/src/internal/errors"
)

// InstanceLock keeps a second service from running against the same state file.
type InstanceLock struct {
	file *os.File
}

// AcquireInstanceLock takes an exclusive lock on path. The lock is released
// by the kernel when the process dies, so a crashed service never blocks the next one.
func AcquireInstanceLock(path string) (*InstanceLock, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK {
			return nil, errors.NewStateError("another instance is already running (lock " + path + ")")
		}
		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}

	f.Truncate(0)
	f.WriteString(strconv.Itoa(os.Getpid()) + "\n")

	return &InstanceLock{file: f}, nil
}

func (l *InstanceLock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	err := l.file.Close()
	l.file = nil
	return err
}
