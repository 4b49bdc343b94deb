//go:build unix

package store

import (
	"os"
	"syscall"
)

func (l *fileLocker) tryLock() error {
	return syscall.Flock(int(l.f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
}

func (l *fileLocker) unlock() {
	syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
}

// processAlive probes pid with signal 0.
func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}
