package capture

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replay-capture/replay-capture/internal/assembler"
)

var base = time.UnixMilli(1_700_000_000_000)

func ms(n int) time.Time { return base.Add(time.Duration(n) * time.Millisecond) }

func TestTracker_NavigationDebounce(t *testing.T) {
	tr := NewTracker()

	tests := []struct {
		at       int
		category string
		want     bool
	}{
		{at: 0, category: CategoryNavigation, want: true},
		{at: 30, category: CategoryNavigation, want: false},
		{at: 40, category: "ui.click", want: true},
		{at: 50, category: CategoryNavigation, want: true},
		{at: 99, category: CategoryNavigation, want: false},
		{at: 100, category: CategoryNavigation, want: true},
	}
	for _, tt := range tests {
		got := tr.AddBreadcrumb(Breadcrumb{Time: ms(tt.at), Category: tt.category})
		assert.Equal(t, tt.want, got, "breadcrumb at %dms", tt.at)
	}

	crumbs, _ := tr.Len()
	assert.Equal(t, 4, crumbs)
}

func TestTracker_EventsWindow(t *testing.T) {
	tr := NewTracker()
	tr.AddBreadcrumb(Breadcrumb{Time: ms(0), Category: "ui.click", Message: "button", Data: map[string]any{"id": "ok"}})
	tr.AddBreadcrumb(Breadcrumb{Time: ms(1000), Category: "ui.click"})
	tr.AddTouch(Touch{Time: ms(500), PointerID: 1, Phase: TouchDown, X: 10, Y: 20})
	tr.AddTouch(Touch{Time: ms(1500), PointerID: 1, Phase: TouchUp, X: 10, Y: 20})

	events := tr.Events(ms(0), ms(1000))
	require.Len(t, events, 2)
	assert.Equal(t, assembler.TagBreadcrumb, events[0].Tag())
	assert.Equal(t, assembler.EventCustom, events[0].Type)
	assert.Equal(t, ms(0).UnixMilli(), events[0].Timestamp)
	payload := events[0].Data["payload"].(map[string]any)
	assert.Equal(t, "button", payload["message"])
	assert.Equal(t, map[string]any{"id": "ok"}, payload["data"])

	assert.Equal(t, assembler.TagTouch, events[1].Tag())
	touch := events[1].Data["payload"].(map[string]any)
	assert.Equal(t, "down", touch["phase"])
	assert.Equal(t, 10.0, touch["x"])
}

func TestTracker_PruneKeepsOngoingGestures(t *testing.T) {
	tr := NewTracker()
	tr.AddBreadcrumb(Breadcrumb{Time: ms(0)})
	tr.AddBreadcrumb(Breadcrumb{Time: ms(2000)})
	// Pointer 1 finished before the cutoff, pointer 2 is still down.
	tr.AddTouch(Touch{Time: ms(100), PointerID: 1, Phase: TouchDown})
	tr.AddTouch(Touch{Time: ms(200), PointerID: 1, Phase: TouchUp})
	tr.AddTouch(Touch{Time: ms(300), PointerID: 2, Phase: TouchDown})
	tr.AddTouch(Touch{Time: ms(400), PointerID: 2, Phase: TouchMove})
	tr.AddTouch(Touch{Time: ms(1500), PointerID: 2, Phase: TouchUp})

	tr.Prune(ms(1000))

	crumbs, touches := tr.Len()
	assert.Equal(t, 1, crumbs)
	assert.Equal(t, 3, touches)

	tr.Prune(ms(3000))
	crumbs, touches = tr.Len()
	assert.Zero(t, crumbs)
	assert.Zero(t, touches)
}

func TestQueue_RunsInOrder(t *testing.T) {
	q := newQueue()
	var got []int
	for i := 0; i < 100; i++ {
		i := i
		require.True(t, q.Submit(func() { got = append(got, i) }))
	}
	q.Sync()
	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
	q.Close()
	assert.False(t, q.Submit(func() {}))
	q.Sync()
}

func TestQueue_CloseDrains(t *testing.T) {
	q := newQueue()
	var ran atomic.Int32
	var wg sync.WaitGroup
	wg.Add(10)
	for i := 0; i < 10; i++ {
		go func() {
			defer wg.Done()
			q.Submit(func() { ran.Add(1) })
		}()
	}
	wg.Wait()
	q.Close()
	assert.Equal(t, int32(10), ran.Load())
}

func TestTimeTicker_Interval(t *testing.T) {
	tests := []struct {
		hint RateHint
		want time.Duration
	}{
		{RateHint{Min: 1, Max: 10}, 100 * time.Millisecond},
		{RateHint{Min: 2}, 500 * time.Millisecond},
		{RateHint{}, time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NewTimeTicker(tt.hint).Interval())
	}
}

func TestTimeTicker_StopFromInsideTick(t *testing.T) {
	tk := NewTimeTicker(RateHint{Max: 1000})
	done := make(chan struct{})
	var once sync.Once
	tk.Start(func(time.Time) {
		tk.Stop()
		once.Do(func() { close(done) })
	})
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("ticker never fired")
	}
}
