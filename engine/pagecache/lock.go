package pagecache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	lockSuffix = ".lock"
	// unreadable lock files younger than this may still be mid-write by their owner
	lockSettleAge = time.Minute
)

// ErrNamespaceLocked is returned when another live session already owns the namespace
var ErrNamespaceLocked = errors.New("page cache namespace is in use")

// NamespaceLock is an exclusive claim on a namespace for the life of one session.
// The lock file sits next to the namespace directory so wiping the namespace keeps it.
type NamespaceLock struct {
	path string
	once sync.Once
	err  error
}

// LockNamespace claims ns for this process. A lock left behind by a process that is no
// longer running is taken over.
func LockNamespace(ns Namespace) (*NamespaceLock, error) {
	path := ns.Dir + lockSuffix
	if err := os.MkdirAll(filepath.Dir(ns.Dir), dirMode); err != nil {
		return nil, fmt.Errorf("failed to create cache root for %s: %w", ns.Dir, err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		err := createLockFile(path)
		if err == nil {
			return &NamespaceLock{path: path}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("failed to lock %s: %w", ns.Dir, err)
		}

		pid, stale := inspectLock(path)
		if !stale {
			return nil, fmt.Errorf("%w: %s is held by process %d", ErrNamespaceLocked, ns.Dir, pid)
		}
		logger().Warn("Taking over stale page cache lock", "namespace", ns.Dir, "pid", pid)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to remove stale lock %s: %w", path, err)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNamespaceLocked, ns.Dir)
}

// Unlock releases the namespace. Only the first call removes the lock file.
func (l *NamespaceLock) Unlock() error {
	l.once.Do(func() {
		if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
			l.err = fmt.Errorf("failed to release lock %s: %w", l.path, err)
		}
	})
	return l.err
}

func createLockFile(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	_, werr := f.WriteString(strconv.Itoa(os.Getpid()))
	cerr := f.Close()
	if err := errors.Join(werr, cerr); err != nil {
		os.Remove(path)
		return err
	}
	return nil
}

// inspectLock reports the owner pid and whether the lock can be taken over
func inspectLock(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0, true
	}
	pid, perr := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || perr != nil || pid <= 0 {
		info, serr := os.Stat(path)
		if serr != nil {
			return 0, os.IsNotExist(serr)
		}
		return 0, time.Since(info.ModTime()) > lockSettleAge
	}
	return pid, !processAlive(pid)
}
