package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/mcops/masterclaw/internal/errkind"
)

// staleLockAge is how old a lock file's PID record can be before a new
// acquirer assumes the holder crashed and breaks the lock (spec.md
// section 4.2 / section 5: "stale advisory locks are broken, not
// honored forever").
const staleLockAge = 5 * time.Minute

// lockAcquireTimeout bounds how long AcquireLock blocks waiting for a
// contended lock before giving up.
const lockAcquireTimeout = 10 * time.Second

const lockPollInterval = 50 * time.Millisecond

// Lock is an advisory, flock(2)-based lock on one state file, held on a
// sibling "<file>.lock" file.
// It serializes concurrent AtomicUpdate calls across processes; within a
// single process, callers must still serialize their own goroutines.
type Lock struct {
	file *os.File
	path string
}

// AcquireLock takes an exclusive advisory lock keyed on the containing
// directory of stateFile plus that file's base name (so rate-limits.json
// and circuits.json lock independently). It polls until lockAcquireTimeout
// elapses, breaking the lock if the lock file was last written more than
// staleLockAge ago.
func AcquireLock(stateFile string) (*Lock, error) {
	lockPath := stateFile + ".lock"

	deadline := timeNow().Add(lockAcquireTimeout)
	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o600)
		if err != nil {
			return nil, errkind.Wrap(errkind.Generic, "failed to open lock file", err)
		}

		flockErr := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if flockErr == nil {
			if err := f.Truncate(0); err == nil {
				f.Seek(0, 0)
				fmt.Fprintf(f, "%d\n", os.Getpid())
				f.Sync()
			}
			return &Lock{file: f, path: lockPath}, nil
		}
		f.Close()

		if flockErr != syscall.EWOULDBLOCK {
			return nil, errkind.Wrap(errkind.Generic, "failed to acquire lock", flockErr)
		}

		if breakIfStale(lockPath) {
			continue
		}

		if timeNow().After(deadline) {
			return nil, errkind.New(errkind.Generic, "timed out waiting for state lock: "+filepath.Base(lockPath))
		}
		time.Sleep(lockPollInterval)
	}
}

// breakIfStale removes lockPath if it was last written longer ago than
// staleLockAge, on the assumption the holder crashed without releasing
// it (the OS only releases flock on process exit, not on our own
// schedule, so a crashed holder's lock is otherwise held forever).
func breakIfStale(lockPath string) bool {
	info, err := os.Stat(lockPath)
	if err != nil {
		return false
	}
	if timeNow().Sub(info.ModTime()) < staleLockAge {
		return false
	}
	os.Remove(lockPath)
	return true
}

// Release unlocks and closes the lock file. Safe to call once; calling
// it more than once is a programming error but will not panic.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	l.file.Close()
	l.file = nil
	if err != nil {
		return errkind.Wrap(errkind.Generic, "failed to release lock", err)
	}
	return nil
}

// HolderPID reads the PID recorded in a lock file, for diagnostics. It
// returns 0 when the lock file is missing or unreadable.
func HolderPID(stateFile string) int {
	data, err := os.ReadFile(stateFile + ".lock")
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(trimNewline(data))
	if err != nil {
		return 0
	}
	return pid
}

func trimNewline(b []byte) string {
	s := string(b)
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

// timeNow is overridable in tests.
var timeNow = time.Now
