package assembler

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kataras/golog"

	"github.com/replay-capture/replay-capture/internal/encoder"
	"github.com/replay-capture/replay-capture/internal/options"
	"github.com/replay-capture/replay-capture/internal/replay"
)

var logger = golog.Child("[replay-assembler]")

// Metadata describes one recording to the backend.
type Metadata struct {
	ReplayID       string      `json:"replay_id"`
	SegmentID      int         `json:"segment_id"`
	ReplayType     replay.Type `json:"replay_type"`
	ReplayStart    int64       `json:"replay_start_timestamp"`
	Start          int64       `json:"start_timestamp"`
	Timestamp      int64       `json:"timestamp"`
	URLs           []string    `json:"urls"`
	ErrorEventIDs  []string    `json:"error_ids,omitempty"`
	FrameCount     int         `json:"frame_count"`
	DurationMillis int64       `json:"duration_ms"`
}

// Recording is a finished segment: its metadata, its event timeline and the
// bytes of the video it references.
type Recording struct {
	Metadata Metadata `json:"metadata"`
	Events   []Event  `json:"events"`
	Video    []byte   `json:"-"`
}

// Input is everything needed to assemble one segment.
type Input struct {
	ReplayID    string
	Type        replay.Type
	Segment     int
	ReplayStart time.Time
	Video       encoder.VideoInfo
	// Events must already be limited to the video's time window.
	Events   []Event
	ErrorIDs []string
}

// Assembler builds recordings. Options, when set, is described in the
// options event of segment 0.
type Assembler struct {
	Options *options.ReplayOptions
}

// New returns an Assembler describing opts.
func New(opts *options.ReplayOptions) *Assembler {
	return &Assembler{Options: opts}
}

// Assemble reads the video into memory, builds its recording and deletes the
// video file. The file is kept if it cannot be read.
func (a *Assembler) Assemble(in Input) (*Recording, error) {
	data, err := os.ReadFile(in.Video.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read video %s: %w", in.Video.Path, err)
	}

	rec := a.Build(in)
	rec.Video = data

	if err := os.Remove(in.Video.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warnf("%v", replay.DirectoryError("remove", in.Video.Path, err))
	}
	logger.Debugf("replay %s: assembled segment %d (%d events, %d bytes)",
		in.ReplayID, in.Segment, len(rec.Events), len(data))
	return rec, nil
}

// Build creates the recording without touching the video file.
func (a *Assembler) Build(in Input) *Recording {
	v := in.Video
	events := make([]Event, 0, len(in.Events)+3)
	if in.Segment == 0 && a.Options != nil {
		events = append(events, optionsEvent(v.Start, a.Options))
	}
	events = append(events, Meta(v.Start, v.Width, v.Height), videoEvent(in.Segment, v))
	events = append(events, in.Events...)
	SortEvents(events)

	replayStart := in.ReplayStart
	if replayStart.IsZero() {
		replayStart = v.Start
	}

	return &Recording{
		Metadata: Metadata{
			ReplayID:       in.ReplayID,
			SegmentID:      in.Segment,
			ReplayType:     in.Type,
			ReplayStart:    replayStart.UnixMilli(),
			Start:          v.Start.UnixMilli(),
			Timestamp:      v.End.UnixMilli(),
			URLs:           append([]string{}, v.Screens...),
			ErrorEventIDs:  in.ErrorIDs,
			FrameCount:     v.FrameCount,
			DurationMillis: v.Duration.Milliseconds(),
		},
		Events: events,
	}
}

func videoEvent(segment int, v encoder.VideoInfo) Event {
	return Custom(v.Start, TagVideo, map[string]any{
		"segmentId":     segment,
		"size":          v.FileSize,
		"duration":      v.Duration.Milliseconds(),
		"encoding":      encoder.CodecH264,
		"container":     encoder.ContainerMP4,
		"height":        v.Height,
		"width":         v.Width,
		"frameCount":    v.FrameCount,
		"frameRateType": "constant",
		"frameRate":     v.FrameRate,
		"left":          0,
		"top":           0,
	})
}

func optionsEvent(at time.Time, opts *options.ReplayOptions) Event {
	return Custom(at, TagOptions, map[string]any{
		"sessionSampleRate":   opts.SessionSampleRate,
		"errorSampleRate":     opts.OnErrorSampleRate,
		"frameRate":           opts.FrameRate,
		"segmentDuration":     opts.SegmentDuration.Milliseconds(),
		"errorBufferDuration": opts.ErrorBufferDuration.Milliseconds(),
		"maximumDuration":     opts.MaximumDuration.Milliseconds(),
		"bitRate":             opts.Quality.BitRate,
		"resolutionScale":     opts.Quality.ResolutionScale,
		"redact":              opts.Redact,
	})
}

// MarshalJSON encodes the recording without its video bytes.
func (r *Recording) MarshalJSON() ([]byte, error) {
	type plain Recording
	if r.Events == nil {
		cp := *r
		cp.Events = []Event{}
		return json.Marshal((*plain)(&cp))
	}
	return json.Marshal((*plain)(r))
}
