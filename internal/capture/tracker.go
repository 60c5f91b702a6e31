package capture

import (
	"sync"
	"time"

	"github.com/replay-capture/replay-capture/internal/assembler"
)

// NavigationDebounce is the window inside which a navigation breadcrumb
// following another one is dropped.
const NavigationDebounce = 50 * time.Millisecond

// CategoryNavigation marks breadcrumbs that record a screen change.
const CategoryNavigation = "navigation"

// Breadcrumb is a host application breadcrumb.
type Breadcrumb struct {
	Time     time.Time
	Category string
	Message  string
	Data     map[string]any
}

// TouchPhase is the stage of a touch gesture.
type TouchPhase string

// Touch phases.
const (
	TouchDown TouchPhase = "down"
	TouchMove TouchPhase = "move"
	TouchUp   TouchPhase = "up"
)

// Touch is one pointer sample.
type Touch struct {
	Time      time.Time
	PointerID int
	Phase     TouchPhase
	X, Y      float64
}

// Tracker collects breadcrumbs and touches for the replay timeline. It has
// its own lock and never touches the frame store.
type Tracker struct {
	mu      sync.Mutex
	crumbs  []Breadcrumb
	touches []Touch
	lastNav time.Time
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// AddBreadcrumb records b. A navigation breadcrumb arriving within
// NavigationDebounce of the previous navigation is dropped.
func (t *Tracker) AddBreadcrumb(b Breadcrumb) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if b.Category == CategoryNavigation {
		if !t.lastNav.IsZero() && b.Time.Sub(t.lastNav) < NavigationDebounce {
			return false
		}
		t.lastNav = b.Time
	}
	t.crumbs = append(t.crumbs, b)
	return true
}

// AddTouch records a pointer sample.
func (t *Tracker) AddTouch(touch Touch) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.touches = append(t.touches, touch)
}

// Events converts everything recorded in [start, end) to timeline events,
// breadcrumbs first, each kind in arrival order.
func (t *Tracker) Events(start, end time.Time) []assembler.Event {
	t.mu.Lock()
	defer t.mu.Unlock()

	var events []assembler.Event
	for _, b := range t.crumbs {
		if !inWindow(b.Time, start, end) {
			continue
		}
		payload := map[string]any{
			"category":  b.Category,
			"message":   b.Message,
			"timestamp": float64(b.Time.UnixMilli()) / 1000,
		}
		if len(b.Data) > 0 {
			payload["data"] = b.Data
		}
		events = append(events, assembler.Custom(b.Time, assembler.TagBreadcrumb, payload))
	}
	for _, touch := range t.touches {
		if !inWindow(touch.Time, start, end) {
			continue
		}
		events = append(events, assembler.Custom(touch.Time, assembler.TagTouch, map[string]any{
			"pointerId": touch.PointerID,
			"phase":     string(touch.Phase),
			"x":         touch.X,
			"y":         touch.Y,
		}))
	}
	return events
}

// Prune drops breadcrumbs older than cutoff and the samples of gestures
// that ended before it. Samples of pointers still down are kept.
func (t *Tracker) Prune(cutoff time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	crumbs := t.crumbs[:0]
	for _, b := range t.crumbs {
		if !b.Time.Before(cutoff) {
			crumbs = append(crumbs, b)
		}
	}
	clear(t.crumbs[len(crumbs):])
	t.crumbs = crumbs

	down := map[int]bool{}
	for _, touch := range t.touches {
		if touch.Time.Before(cutoff) {
			down[touch.PointerID] = touch.Phase != TouchUp
		}
	}
	touches := t.touches[:0]
	for _, touch := range t.touches {
		if !touch.Time.Before(cutoff) || down[touch.PointerID] {
			touches = append(touches, touch)
		}
	}
	clear(t.touches[len(touches):])
	t.touches = touches
}

// Len returns the number of breadcrumbs and touches held.
func (t *Tracker) Len() (breadcrumbs, touches int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.crumbs), len(t.touches)
}

func inWindow(at, start, end time.Time) bool {
	return !at.Before(start) && at.Before(end)
}
