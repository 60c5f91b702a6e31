// Package testutil provides configurable test doubles for the capture and
// encoding backends.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"sync"
	"time"

	"github.com/replay-capture/replay-capture/internal/capture"
	"github.com/replay-capture/replay-capture/internal/encoder"
)

// FakeScreenshotProvider returns solid images of a configurable size.
// Test authors set the fields to control behavior per test case.
type FakeScreenshotProvider struct {
	mu sync.Mutex

	// Size of the returned image. Default: 8x8.
	Size image.Point
	// ScreenName reported with every screenshot.
	ScreenName string
	// Err, when set, is returned instead of an image.
	Err error
	// Block, when non-nil, makes Capture wait until it is closed.
	Block chan struct{}

	calls    int
	redacted int
}

// NewFakeScreenshotProvider returns a provider with sensible defaults.
func NewFakeScreenshotProvider() *FakeScreenshotProvider {
	return &FakeScreenshotProvider{Size: image.Pt(8, 8), ScreenName: "main"}
}

// Capture returns a solid image or the configured error.
func (f *FakeScreenshotProvider) Capture(ctx context.Context, redact bool) (capture.Screenshot, error) {
	f.mu.Lock()
	f.calls++
	if redact {
		f.redacted++
	}
	block := f.Block
	size := f.Size
	name := f.ScreenName
	err := f.Err
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return capture.Screenshot{}, ctx.Err()
		}
	}
	if err != nil {
		return capture.Screenshot{}, err
	}
	return capture.Screenshot{Image: Solid(size.X, size.Y), ScreenName: name}, nil
}

// SetSize changes the size of subsequent screenshots.
func (f *FakeScreenshotProvider) SetSize(size image.Point) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Size = size
}

// SetScreenName changes the screen name of subsequent screenshots.
func (f *FakeScreenshotProvider) SetScreenName(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ScreenName = name
}

// Calls returns the number of Capture calls.
func (f *FakeScreenshotProvider) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Redacted returns the number of Capture calls that asked for redaction.
func (f *FakeScreenshotProvider) Redacted() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.redacted
}

// Solid returns an opaque grey RGBA image.
func Solid(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0x7f
	}
	return img
}

// FakeMediaEncoder is a pull-driven encoder that writes a placeholder file
// with one byte per appended frame.
type FakeMediaEncoder struct {
	mu sync.Mutex

	// OpenErr is returned by Open.
	OpenErr error
	// AppendErrAt makes the n-th Append (1-based, across all sessions) fail.
	AppendErrAt int
	// FinishErr is passed to Finish callbacks.
	FinishErr error
	// Stall makes sessions never request data, so they never finish.
	Stall bool

	appends  int
	Sessions []*FakeMediaSession
}

// NewFakeMediaEncoder returns an encoder that succeeds at everything.
func NewFakeMediaEncoder() *FakeMediaEncoder {
	return &FakeMediaEncoder{}
}

// Open creates a session writing to path.
func (f *FakeMediaEncoder) Open(path string, cfg encoder.Config) (encoder.MediaSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.OpenErr != nil {
		return nil, f.OpenErr
	}
	s := &FakeMediaSession{Path: path, Config: cfg, enc: f}
	f.Sessions = append(f.Sessions, s)
	return s, nil
}

// Opened returns the sessions opened so far.
func (f *FakeMediaEncoder) Opened() []*FakeMediaSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeMediaSession(nil), f.Sessions...)
}

func (f *FakeMediaEncoder) nextAppend() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appends++
	if f.AppendErrAt > 0 && f.appends == f.AppendErrAt {
		return errors.New("fake append failure")
	}
	return nil
}

// FakeMediaSession records everything appended to it.
type FakeMediaSession struct {
	Path   string
	Config encoder.Config

	enc *FakeMediaEncoder

	mu        sync.Mutex
	pts       []time.Duration
	finished  bool
	cancelled bool
}

// RequestMediaData calls ready on a worker goroutine until the session ends.
func (s *FakeMediaSession) RequestMediaData(ready func()) {
	if s.enc.Stall {
		return
	}
	go func() {
		for !s.ended() {
			ready()
		}
	}()
}

// Ready reports whether the session accepts input.
func (s *FakeMediaSession) Ready() bool {
	return !s.ended()
}

// Append records the presentation timestamp.
func (s *FakeMediaSession) Append(img image.Image, pts time.Duration) error {
	if img.Bounds().Dx() != s.Config.SourceWidth || img.Bounds().Dy() != s.Config.SourceHeight {
		return fmt.Errorf("image %v does not match session %dx%d", img.Bounds().Size(), s.Config.SourceWidth, s.Config.SourceHeight)
	}
	if err := s.enc.nextAppend(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pts = append(s.pts, pts)
	return nil
}

// Finish writes the placeholder file and reports the configured error.
func (s *FakeMediaSession) Finish(done func(error)) {
	s.mu.Lock()
	s.finished = true
	n := len(s.pts)
	s.mu.Unlock()

	if s.enc.FinishErr != nil {
		done(s.enc.FinishErr)
		return
	}
	if err := os.WriteFile(s.Path, make([]byte, n), 0600); err != nil {
		done(err)
		return
	}
	done(nil)
}

// Cancel ends the session without output.
func (s *FakeMediaSession) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = true
}

// PTS returns the presentation timestamps appended so far.
func (s *FakeMediaSession) PTS() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.pts...)
}

// Cancelled reports whether Cancel was called.
func (s *FakeMediaSession) Cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

func (s *FakeMediaSession) ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished || s.cancelled
}

// ManualTicker is a Ticker driven by the test.
type ManualTicker struct {
	mu      sync.Mutex
	tick    func(time.Time)
	running bool
	stops   int
}

// Start registers the tick function.
func (t *ManualTicker) Start(tick func(now time.Time)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tick = tick
	t.running = true
}

// Stop unregisters the tick function.
func (t *ManualTicker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = false
	t.stops++
}

// Tick fires one tick at now if the ticker is running.
func (t *ManualTicker) Tick(now time.Time) {
	t.mu.Lock()
	tick := t.tick
	running := t.running
	t.mu.Unlock()
	if running && tick != nil {
		tick(now)
	}
}

// Running reports whether the ticker is started.
func (t *ManualTicker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Stops returns how many times Stop was called.
func (t *ManualTicker) Stops() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stops
}

// Verify compile-time interface compliance.
var (
	_ capture.ScreenshotProvider = (*FakeScreenshotProvider)(nil)
	_ capture.Ticker             = (*ManualTicker)(nil)
	_ encoder.MediaEncoder       = (*FakeMediaEncoder)(nil)
	_ encoder.MediaSession       = (*FakeMediaSession)(nil)
)
