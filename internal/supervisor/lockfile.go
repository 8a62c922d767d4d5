package supervisor

import (
	"fmt"
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

// Lockfile is a single-instance guard: one process may hold the lock at a
// time, enforced with an advisory flock rather than the original's fcntl
// byte-range lock (original_source/src/tail2kafka.cc's initSingleton), the
// idiomatic Go substitute for the same purpose. It records the holder's pid
// so an operator can tell which process owns it, matching the original's
// "pidfile may stale" comment: the pid written there is informational, the
// flock is the actual exclusion mechanism.
type Lockfile struct {
	f *os.File
}

// Acquire opens (creating if needed) path and takes a non-blocking exclusive
// flock on it, writing the current pid. It returns an error if another
// process already holds the lock.
func Acquire(path string) (*Lockfile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("supervisor: open lockfile %s: %w", path, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("supervisor: lock %s failed, another instance running: %w", path, err)
	}

	if err := f.Truncate(0); err != nil {
		f.Close()
		return nil, fmt.Errorf("supervisor: truncate lockfile %s: %w", path, err)
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())), 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("supervisor: write pid to lockfile %s: %w", path, err)
	}

	return &Lockfile{f: f}, nil
}

// Release unlocks and closes the lockfile.
func (l *Lockfile) Release() error {
	if err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN); err != nil {
		l.f.Close()
		return fmt.Errorf("supervisor: unlock failed: %w", err)
	}
	return l.f.Close()
}
