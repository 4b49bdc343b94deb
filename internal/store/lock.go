package store

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	initialBackoff = 5 * time.Millisecond
	maxBackoff     = 50 * time.Millisecond
)

// fileLocker holds an OS advisory lock on the data dir's lock file. The lock
// is dropped by the kernel if the process dies.
type fileLocker struct {
	path string
	f    *os.File
}

func newWriteLocker(path string) *fileLocker {
	return &fileLocker{path: path}
}

// acquire retries a non-blocking lock with capped exponential backoff until
// timeout, then reports who holds it.
func (l *fileLocker) acquire(timeout time.Duration) error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	l.f = f

	deadline := time.Now().Add(timeout)
	backoff := initialBackoff
	for {
		if err := l.tryLock(); err == nil {
			l.stamp()
			return nil
		}
		if time.Now().After(deadline) {
			holder := l.holder()
			l.f.Close()
			l.f = nil
			return fmt.Errorf("write lock timeout after %v (holder %s)", timeout, holder)
		}
		time.Sleep(backoff)
		backoff = min(backoff*2, maxBackoff)
	}
}

func (l *fileLocker) release() {
	if l.f == nil {
		return
	}
	l.f.Truncate(0)
	l.unlock()
	l.f.Close()
	l.f = nil
}

// stamp records the holder pid for diagnostics.
func (l *fileLocker) stamp() {
	l.f.Truncate(0)
	l.f.Seek(0, 0)
	fmt.Fprintf(l.f, "pid:%d\ntime:%s\n", os.Getpid(), time.Now().Format(time.RFC3339))
}

func (l *fileLocker) holder() string {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return "unknown"
	}
	var pid, since string
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if v, ok := strings.CutPrefix(line, "pid:"); ok {
			pid = v
		} else if v, ok := strings.CutPrefix(line, "time:"); ok {
			since = v
		}
	}
	if pid == "" {
		return "unknown"
	}
	if n, err := strconv.Atoi(pid); err == nil && !processAlive(n) {
		return fmt.Sprintf("pid:%s since %s, stale", pid, since)
	}
	return fmt.Sprintf("pid:%s since %s", pid, since)
}
