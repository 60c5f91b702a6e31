// Package frames implements the disk-backed, time-ordered frame store that
// sits between the capture scheduler and the segment encoder.
package frames

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kataras/golog"
)

// Ext is the file extension of stored frame images.
const Ext = ".png"

var logger = golog.Child("[replay-frames]")

// Frame is one captured screenshot persisted on disk.
type Frame struct {
	ImagePath  string
	Time       time.Time
	ScreenName string
}

// Store is an append-only, time-ordered buffer of frames. Each frame is backed
// by a file in the store directory named after its capture time.
type Store struct {
	dir      string
	capacity int

	mu     sync.Mutex
	frames []Frame
}

// NewStore creates a store writing into dir. A capacity above zero caps the
// number of retained frames; zero means unbounded.
func NewStore(dir string, capacity int) (*Store, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create frame directory: %w", err)
	}
	return &Store{dir: dir, capacity: capacity}, nil
}

// Load rebuilds a store from the frame files already present in dir, sorted
// by the timestamp encoded in each file name. Files that do not carry a
// timestamp are ignored.
func Load(dir string) (*Store, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read frame directory: %w", err)
	}

	s := &Store{dir: dir}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		at, ok := ParseFileName(entry.Name())
		if !ok {
			continue
		}
		s.frames = append(s.frames, Frame{
			ImagePath: filepath.Join(dir, entry.Name()),
			Time:      at,
		})
	}
	sort.SliceStable(s.frames, func(i, j int) bool {
		return s.frames[i].Time.Before(s.frames[j].Time)
	})

	logger.Debugf("loaded %d frames from %s", len(s.frames), dir)
	return s, nil
}

// Dir returns the directory backing the store.
func (s *Store) Dir() string {
	return s.dir
}

// Append writes img to a new file named by at and records the frame. Frames
// must be appended in capture order.
func (s *Store) Append(img image.Image, at time.Time, screenName string) (Frame, error) {
	path := filepath.Join(s.dir, FileName(at))
	if err := writePNG(path, img); err != nil {
		return Frame{}, err
	}

	frame := Frame{ImagePath: path, Time: at, ScreenName: screenName}

	s.mu.Lock()
	s.frames = append(s.frames, frame)
	var evicted []Frame
	if s.capacity > 0 && len(s.frames) > s.capacity {
		n := len(s.frames) - s.capacity
		evicted = append(evicted, s.frames[:n]...)
		s.frames = append([]Frame(nil), s.frames[n:]...)
	}
	s.mu.Unlock()

	removeFiles(evicted)
	return frame, nil
}

// ReleaseUntil removes every frame captured before cutoff and deletes its file.
func (s *Store) ReleaseUntil(cutoff time.Time) {
	s.mu.Lock()
	i := sort.Search(len(s.frames), func(i int) bool {
		return !s.frames[i].Time.Before(cutoff)
	})
	released := append([]Frame(nil), s.frames[:i]...)
	s.frames = append([]Frame(nil), s.frames[i:]...)
	s.mu.Unlock()

	removeFiles(released)
}

// OldestFrameTime returns the capture time of the oldest frame.
func (s *Store) OldestFrameTime() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return time.Time{}, false
	}
	return s.frames[0].Time, true
}

// Range returns a copy of the frames captured in [start, end).
func (s *Store) Range(start, end time.Time) []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Frame
	for _, f := range s.frames {
		if f.Time.Before(start) {
			continue
		}
		if !f.Time.Before(end) {
			break
		}
		out = append(out, f)
	}
	return out
}

// Frames returns a copy of every frame in the store.
func (s *Store) Frames() []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Frame(nil), s.frames...)
}

// Len returns the number of frames in the store.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

// FileName returns the frame file name for a capture time.
func FileName(at time.Time) string {
	return strconv.FormatInt(at.UnixMilli(), 10) + Ext
}

// ParseFileName extracts the capture time from a frame file name.
func ParseFileName(name string) (time.Time, bool) {
	if !strings.HasSuffix(name, Ext) {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(strings.TrimSuffix(name, Ext), 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

// ReadImage decodes the frame's image file.
func ReadImage(f Frame) (image.Image, error) {
	file, err := os.Open(f.ImagePath)
	if err != nil {
		return nil, err
	}
	defer file.Close() //nolint:errcheck // read-only file close

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", filepath.Base(f.ImagePath), err)
	}
	return img, nil
}

func writePNG(path string, img image.Image) error {
	tmp := path + ".tmp"
	file, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600) //nolint:gosec // path built from store dir
	if err != nil {
		return fmt.Errorf("failed to create frame file: %w", err)
	}
	if err := png.Encode(file, img); err != nil {
		_ = file.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to close frame file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to rename frame file: %w", err)
	}
	return nil
}

func removeFiles(frames []Frame) {
	for _, f := range frames {
		if err := os.Remove(f.ImagePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warnf("failed to remove frame %s: %v", f.ImagePath, err)
		}
	}
}
