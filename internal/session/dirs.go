package session

import (
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/kataras/golog"

	"github.com/replay-capture/replay-capture/internal/replay"
)

var logger = golog.Child("[replay-session]")

// Directory names under the replay root.
const (
	RootName     = "replay"
	CurrentName  = "current"
	LastName     = "last"
	SegmentsName = "segments"
)

// Dirs owns the replay directory tree:
//
//	replay/
//	  current/               frames and crashInfo of the running session
//	  last/                  previous session, pending recovery
//	  <sessionId>/segments/  working directory for in-flight encodes
type Dirs struct {
	root string

	// purging serializes stale directory removal.
	purging sync.Mutex
}

// NewDirs returns a manager rooted at <base>/replay.
func NewDirs(base string) *Dirs {
	return &Dirs{root: filepath.Join(base, RootName)}
}

// Root returns the replay root directory.
func (d *Dirs) Root() string { return d.root }

// Current returns the running session's directory.
func (d *Dirs) Current() string { return filepath.Join(d.root, CurrentName) }

// Last returns the previous session's directory.
func (d *Dirs) Last() string { return filepath.Join(d.root, LastName) }

// Segments returns the encode working directory of a session.
func (d *Dirs) Segments(replayID string) string {
	return filepath.Join(d.root, replayID, SegmentsName)
}

// Resolve returns the absolute directory named by Info.Path.
func (d *Dirs) Resolve(info *Info) string {
	return filepath.Join(d.root, info.Path)
}

// Begin rotates the current session into last and prepares a fresh current
// directory holding info. It returns the new current directory.
func (d *Dirs) Begin(info Info) (string, error) {
	if err := d.Rotate(); err != nil {
		return "", err
	}

	current := d.Current()
	if err := os.MkdirAll(current, 0750); err != nil {
		return "", replay.DirectoryError("create", current, err)
	}

	info.Path = CurrentName
	if err := WriteInfo(current, &info); err != nil {
		return "", replay.DirectoryError("write session info in", current, err)
	}

	logger.Infof("session %s: started in %s", info.ReplayID, current)
	return current, nil
}

// Rotate moves current to last, replacing any previous last directory. The
// moved session's info is rewritten to point at its new location. It is a
// no-op when there is no current directory.
func (d *Dirs) Rotate() error {
	current := d.Current()
	if _, err := os.Stat(current); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	last := d.Last()
	if err := os.RemoveAll(last); err != nil {
		return replay.DirectoryError("remove", last, err)
	}
	if err := os.Rename(current, last); err != nil {
		return replay.DirectoryError("rotate", current, err)
	}

	info, err := ReadInfo(last)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil
	case err != nil:
		logger.Warnf("rotated session has unreadable info: %v", err)
		return nil
	}
	info.Path = LastName
	if err := WriteInfo(last, info); err != nil {
		return replay.DirectoryError("rewrite session info in", last, err)
	}
	return nil
}

// ReadLast returns the info of the previous session.
// Returns an error matching os.ErrNotExist if there is none.
func (d *Dirs) ReadLast() (*Info, error) {
	return ReadInfo(d.Last())
}

// Remove deletes a session directory together with its segments directory.
func (d *Dirs) Remove(info *Info) error {
	var errs []error
	if err := os.RemoveAll(d.Resolve(info)); err != nil {
		errs = append(errs, replay.DirectoryError("remove", d.Resolve(info), err))
	}
	if info.ReplayID != "" {
		dir := filepath.Join(d.root, info.ReplayID)
		if err := os.RemoveAll(dir); err != nil {
			errs = append(errs, replay.DirectoryError("remove", dir, err))
		}
	}
	return errors.Join(errs...)
}

// Stale lists the directories under the root other than current, last and
// the session ids in keep.
func (d *Dirs) Stale(keep ...string) ([]string, error) {
	entries, err := os.ReadDir(d.root)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, replay.DirectoryError("read", d.root, err)
	}

	skip := map[string]bool{CurrentName: true, LastName: true}
	for _, k := range keep {
		skip[k] = true
	}

	var stale []string
	for _, e := range entries {
		if !e.IsDir() || skip[e.Name()] {
			continue
		}
		stale = append(stale, filepath.Join(d.root, e.Name()))
	}
	return stale, nil
}

// PurgeStale removes every stale directory. Failures are logged and do not
// stop the purge. It returns the directories actually removed.
func (d *Dirs) PurgeStale(keep ...string) []string {
	d.purging.Lock()
	defer d.purging.Unlock()

	stale, err := d.Stale(keep...)
	if err != nil {
		logger.Warnf("stale purge: %v", err)
		return nil
	}

	var removed []string
	for _, dir := range stale {
		if err := os.RemoveAll(dir); err != nil {
			logger.Warnf("stale purge: %v", replay.DirectoryError("remove", dir, err))
			continue
		}
		removed = append(removed, dir)
	}
	if len(removed) > 0 {
		logger.Debugf("stale purge: removed %d directories", len(removed))
	}
	return removed
}

// PurgeStaleAsync runs PurgeStale on its own goroutine. The returned channel
// is closed when the purge finishes.
func (d *Dirs) PurgeStaleAsync(keep ...string) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.PurgeStale(keep...)
	}()
	return done
}

