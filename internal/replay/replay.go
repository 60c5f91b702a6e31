// Package replay holds the types shared by the capture, encoding and recovery
// stages of the session replay pipeline.
package replay

import (
	"fmt"
	"sync"
)

// Mode is the capture mode of a running session.
type Mode int

const (
	// ModeBuffered keeps a rolling window of frames and only produces a video
	// when an error is captured.
	ModeBuffered Mode = iota
	// ModeFull produces a segment every segment duration for the whole session.
	ModeFull
)

func (m Mode) String() string {
	switch m {
	case ModeFull:
		return "full"
	case ModeBuffered:
		return "buffered"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Type is the replay type reported with every segment.
type Type string

const (
	// TypeSession marks a segment produced by a full session.
	TypeSession Type = "session"
	// TypeBuffer marks a segment materialized from the error buffer.
	TypeBuffer Type = "buffer"
)

// TypeFor returns the replay type of a segment produced in the given mode.
func TypeFor(m Mode) Type {
	if m == ModeBuffered {
		return TypeBuffer
	}
	return TypeSession
}

// ContextKey is the key under which the replay id is attached to an error
// event's context.
const ContextKey = "replay"

// ErrorEvent is the subset of a host error or crash event that the replay
// pipeline reads and annotates.
type ErrorEvent struct {
	ID string

	mu      sync.Mutex
	context map[string]map[string]any
}

// NewErrorEvent returns an event with the given id and an empty context.
func NewErrorEvent(id string) *ErrorEvent {
	return &ErrorEvent{ID: id, context: map[string]map[string]any{}}
}

// AttachReplayID records the replay id in the event's "replay" context.
func (e *ErrorEvent) AttachReplayID(replayID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.context == nil {
		e.context = map[string]map[string]any{}
	}
	e.context[ContextKey] = map[string]any{"replay_id": replayID}
}

// ReplayID returns the replay id attached to the event, if any.
func (e *ErrorEvent) ReplayID() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ctx, ok := e.context[ContextKey]
	if !ok {
		return "", false
	}
	id, ok := ctx["replay_id"].(string)
	return id, ok
}
