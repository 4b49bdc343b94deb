// Package watch turns file system modifications of the event store into a
// debounced change signal.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// maxDelayFactor bounds how long a continuous stream of writes can postpone
// the callback, as a multiple of the debounce interval.
const maxDelayFactor = 10

// ErrClosed is returned by Run when the underlying watcher shuts down while
// the context is still live.
var ErrClosed = errors.New("watcher closed")

// SetupError means the watch on the store could not be established.
type SetupError struct {
	Path string
	Err  error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("watch %s: %v", e.Path, e.Err)
}

func (e *SetupError) Unwrap() error { return e.Err }

// Notifier calls a callback once per burst of modifications to a file.
//
// SQLite in WAL mode appends to "<file>-wal" rather than the main file, so the
// parent directory is watched and events for the file and its -wal/-journal
// siblings all count.
type Notifier struct {
	path     string
	base     string
	debounce time.Duration
	w        *fsnotify.Watcher
}

// New starts watching path. The file must exist.
func New(path string, debounce time.Duration) (*Notifier, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, &SetupError{Path: path, Err: err}
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, &SetupError{Path: path, Err: err}
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, &SetupError{Path: path, Err: err}
	}
	return &Notifier{
		path:     path,
		base:     filepath.Base(path),
		debounce: debounce,
		w:        w,
	}, nil
}

// Close releases the watch. A running Run returns ErrClosed.
func (n *Notifier) Close() error {
	return n.w.Close()
}

func (n *Notifier) relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
		return false
	}
	name := filepath.Base(ev.Name)
	return name == n.base || strings.HasPrefix(name, n.base+"-")
}

// Run delivers coalesced change signals to fn until ctx is done, returning
// nil, or the watcher is closed, returning ErrClosed. fn runs on the Run
// goroutine.
func (n *Notifier) Run(ctx context.Context, fn func()) error {
	defer n.w.Close()

	timer := time.NewTimer(n.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	var pendingSince time.Time

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil

		case ev, ok := <-n.w.Events:
			if !ok {
				return ErrClosed
			}
			if !n.relevant(ev) {
				continue
			}
			now := time.Now()
			if pendingSince.IsZero() {
				pendingSince = now
			}
			wait := n.debounce
			if deadline := pendingSince.Add(maxDelayFactor * n.debounce); now.Add(wait).After(deadline) {
				wait = max(deadline.Sub(now), 0)
			}
			timer.Reset(wait)

		case err, ok := <-n.w.Errors:
			if !ok {
				return ErrClosed
			}
			slog.Warn("watch: notifier error", "path", n.path, "err", err)

		case <-timer.C:
			pendingSince = time.Time{}
			fn()
		}
	}
}
