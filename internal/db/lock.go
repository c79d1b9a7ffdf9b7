package db

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	writeLockFile  = "kv.lock"
	daemonLockFile = "plate.lock"
	defaultTimeout = 500 * time.Millisecond
	initialBackoff = 5 * time.Millisecond
	maxBackoff     = 50 * time.Millisecond
)

// ErrDaemonRunning is returned when another watch daemon holds the data dir.
var ErrDaemonRunning = errors.New("another plate watch daemon is running")

// writeLocker manages exclusive access to the data directory using OS file locks.
// The lock is automatically released when the process exits (including crashes).
type writeLocker struct {
	lockPath string
	lockFile *os.File
}

func newWriteLocker(dir, name string) *writeLocker {
	return &writeLocker{
		lockPath: filepath.Join(dir, name),
	}
}

// acquire attempts to get an exclusive lock with the given timeout.
// Returns an error with diagnostic info if the lock cannot be acquired.
func (l *writeLocker) acquire(timeout time.Duration) error {
	f, err := os.OpenFile(l.lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	l.lockFile = f

	deadline := time.Now().Add(timeout)
	backoff := initialBackoff

	for {
		err := l.tryLock()
		if err == nil {
			l.writeHolder()
			return nil
		}

		if time.Now().After(deadline) {
			holder := l.readHolder()
			l.lockFile.Close()
			l.lockFile = nil
			return &lockTimeoutError{path: l.lockPath, timeout: timeout, holder: holder}
		}

		time.Sleep(backoff)
		if backoff < maxBackoff {
			backoff = min(backoff*2, maxBackoff)
		}
	}
}

// release releases the lock.
func (l *writeLocker) release() error {
	if l.lockFile == nil {
		return nil
	}

	l.lockFile.Truncate(0)
	l.unlock()

	err := l.lockFile.Close()
	l.lockFile = nil
	return err
}

// writeHolder writes current process info to the lock file for debugging.
func (l *writeLocker) writeHolder() {
	if l.lockFile == nil {
		return
	}
	l.lockFile.Truncate(0)
	l.lockFile.Seek(0, 0)
	fmt.Fprintf(l.lockFile, "pid:%d\ntime:%s\n", os.Getpid(), time.Now().Format(time.RFC3339))
	l.lockFile.Sync()
}

// readHolder reads the current holder info from the lock file.
func (l *writeLocker) readHolder() string {
	data, err := os.ReadFile(l.lockPath)
	if err != nil {
		return "unknown"
	}

	var pid, timestamp string
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if v, ok := strings.CutPrefix(line, "pid:"); ok {
			pid = v
		} else if v, ok := strings.CutPrefix(line, "time:"); ok {
			timestamp = v
		}
	}

	if pid == "" {
		return "unknown"
	}

	pidInt, err := strconv.Atoi(pid)
	if err == nil && !isProcessAlive(pidInt) {
		return fmt.Sprintf("pid:%s since %s (STALE - process dead)", pid, timestamp)
	}

	return fmt.Sprintf("pid:%s since %s", pid, timestamp)
}

type lockTimeoutError struct {
	path    string
	timeout time.Duration
	holder  string
}

func (e *lockTimeoutError) Error() string {
	return fmt.Sprintf("lock %s timeout after %v\n  holder: %s\n  try again or check if holder process is stuck",
		filepath.Base(e.path), e.timeout, e.holder)
}

// DaemonLock is held by `plate watch` for its whole lifetime so two
// detectors never capture into the same history.
type DaemonLock struct {
	locker *writeLocker
}

// AcquireDaemonLock takes the single-writer daemon lock in dir. It fails with
// ErrDaemonRunning if another live process holds it.
func AcquireDaemonLock(dir string) (*DaemonLock, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	locker := newWriteLocker(dir, daemonLockFile)
	if err := locker.acquire(defaultTimeout); err != nil {
		var timeout *lockTimeoutError
		if errors.As(err, &timeout) {
			return nil, fmt.Errorf("%w (%s)", ErrDaemonRunning, timeout.holder)
		}
		return nil, err
	}
	return &DaemonLock{locker: locker}, nil
}

// Release releases the daemon lock. Safe to call more than once.
func (d *DaemonLock) Release() error {
	if d == nil {
		return nil
	}
	return d.locker.release()
}

// tryLock and unlock are implemented in platform-specific files:
// - lock_unix.go for Unix systems (flock)
// - lock_windows.go for Windows (LockFileEx)
