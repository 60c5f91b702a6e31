package capture

import (
	"context"
	"image"
	"sync"
	"time"
)

// Screenshot is one captured image of the application's UI.
type Screenshot struct {
	Image      image.Image
	ScreenName string
}

// ScreenshotProvider renders the UI root it was built for into an image,
// redacting sensitive content when asked to.
type ScreenshotProvider interface {
	Capture(ctx context.Context, redact bool) (Screenshot, error)
}

// Ticker drives the scheduler. Start calls tick periodically with the current
// time until Stop is called.
type Ticker interface {
	Start(tick func(now time.Time))
	Stop()
}

// RateHint bounds how often a Ticker should fire, in ticks per second.
type RateHint struct {
	Min int
	Max int
}

// TimeTicker is a Ticker backed by time.Ticker that fires at the maximum
// rate of its hint.
type TimeTicker struct {
	hint RateHint
	now  func() time.Time

	mu   sync.Mutex
	stop chan struct{}
}

// NewTimeTicker returns a ticker firing hint.Max times per second, or
// hint.Min when no maximum is given.
func NewTimeTicker(hint RateHint) *TimeTicker {
	return &TimeTicker{hint: hint, now: time.Now}
}

// Interval returns the tick period.
func (t *TimeTicker) Interval() time.Duration {
	rate := t.hint.Max
	if rate <= 0 {
		rate = t.hint.Min
	}
	if rate <= 0 {
		rate = 1
	}
	return time.Second / time.Duration(rate)
}

// Start begins ticking on a new goroutine. Calling Start on a running ticker
// restarts it.
func (t *TimeTicker) Start(tick func(now time.Time)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stop != nil {
		close(t.stop)
	}
	stop := make(chan struct{})
	t.stop = stop

	ticker := time.NewTicker(t.Interval())
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				tick(t.now())
			}
		}
	}()
}

// Stop halts the ticker. It does not wait for a running tick, so it is safe
// to call from inside one.
func (t *TimeTicker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stop != nil {
		close(t.stop)
		t.stop = nil
	}
}
