// Package assembler packages finished videos and interaction events into
// recordings ready for upload.
package assembler

import (
	"sort"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// EventType is the numeric kind of a recording event.
type EventType int

const (
	// EventMeta describes the viewport.
	EventMeta EventType = 4
	// EventCustom carries a tagged payload: video, options, breadcrumb, touch.
	EventCustom EventType = 5
)

// Custom event tags.
const (
	TagVideo      = "video"
	TagOptions    = "options"
	TagBreadcrumb = "breadcrumb"
	TagTouch      = "touch"
)

// Event is one entry of a recording timeline.
type Event struct {
	Type EventType `json:"type"`
	// Timestamp is in milliseconds since the Unix epoch.
	Timestamp int64          `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Time returns the event timestamp as a time.Time.
func (e Event) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// Tag returns the tag of a custom event, or "".
func (e Event) Tag() string {
	tag, _ := e.Data["tag"].(string)
	return tag
}

// Custom builds a type 5 event.
func Custom(at time.Time, tag string, payload map[string]any) Event {
	return Event{
		Type:      EventCustom,
		Timestamp: at.UnixMilli(),
		Data: map[string]any{
			"tag":     tag,
			"payload": payload,
		},
	}
}

// Meta builds a type 4 viewport event.
func Meta(at time.Time, width, height int) Event {
	return Event{
		Type:      EventMeta,
		Timestamp: at.UnixMilli(),
		Data: map[string]any{
			"href":   "",
			"height": height,
			"width":  width,
		},
	}
}

// SortEvents orders events by timestamp, keeping the relative order of
// events that share one.
func SortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp < events[j].Timestamp
	})
}

// MarshalEvents encodes the timeline as a JSON array.
func MarshalEvents(events []Event) ([]byte, error) {
	if events == nil {
		events = []Event{}
	}
	return json.Marshal(events)
}

// UnmarshalEvents decodes a JSON array written by MarshalEvents.
func UnmarshalEvents(data []byte) ([]Event, error) {
	var events []Event
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, err
	}
	return events, nil
}
