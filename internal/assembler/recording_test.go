package assembler

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replay-capture/replay-capture/internal/encoder"
	"github.com/replay-capture/replay-capture/internal/options"
	"github.com/replay-capture/replay-capture/internal/replay"
)

var epoch = time.UnixMilli(1_700_000_000_000)

func videoAt(t *testing.T, start time.Time, frames int) encoder.VideoInfo {
	t.Helper()
	path := filepath.Join(t.TempDir(), "0.mp4")
	require.NoError(t, os.WriteFile(path, []byte("mp4 bytes"), 0600))
	d := time.Duration(frames) * time.Second
	return encoder.VideoInfo{
		Path:       path,
		Start:      start,
		End:        start.Add(d),
		Duration:   d,
		FrameCount: frames,
		FrameRate:  1,
		Width:      320,
		Height:     240,
		FileSize:   9,
		Screens:    []string{"home", "settings"},
	}
}

func TestAssemble_FirstSegment(t *testing.T) {
	opts := options.Default()
	v := videoAt(t, epoch, 5)
	touch := Custom(epoch.Add(2*time.Second), TagTouch, map[string]any{"x": 1})
	crumb := Custom(epoch.Add(time.Second), TagBreadcrumb, map[string]any{"category": "navigation"})

	rec, err := New(&opts).Assemble(Input{
		ReplayID: "r1",
		Type:     replay.TypeBuffer,
		Segment:  0,
		Video:    v,
		Events:   []Event{touch, crumb},
		ErrorIDs: []string{"e1"},
	})
	require.NoError(t, err)

	assert.Equal(t, []byte("mp4 bytes"), rec.Video)
	assert.NoFileExists(t, v.Path)

	require.Len(t, rec.Events, 5)
	assert.Equal(t, TagOptions, rec.Events[0].Tag())
	assert.Equal(t, EventMeta, rec.Events[1].Type)
	assert.Equal(t, TagVideo, rec.Events[2].Tag())
	assert.Equal(t, TagBreadcrumb, rec.Events[3].Tag())
	assert.Equal(t, TagTouch, rec.Events[4].Tag())

	meta := rec.Events[1]
	assert.Equal(t, epoch.UnixMilli(), meta.Timestamp)
	assert.Equal(t, map[string]any{"href": "", "height": 240, "width": 320}, meta.Data)

	payload := rec.Events[2].Data["payload"].(map[string]any)
	assert.Equal(t, 0, payload["segmentId"])
	assert.Equal(t, int64(9), payload["size"])
	assert.Equal(t, int64(5000), payload["duration"])
	assert.Equal(t, "h264", payload["encoding"])
	assert.Equal(t, "mp4", payload["container"])
	assert.Equal(t, 5, payload["frameCount"])
	assert.Equal(t, "constant", payload["frameRateType"])
	assert.Equal(t, 1, payload["frameRate"])
	assert.Equal(t, 0, payload["left"])
	assert.Equal(t, 0, payload["top"])

	md := rec.Metadata
	assert.Equal(t, "r1", md.ReplayID)
	assert.Equal(t, 0, md.SegmentID)
	assert.Equal(t, replay.TypeBuffer, md.ReplayType)
	assert.Equal(t, epoch.UnixMilli(), md.ReplayStart)
	assert.Equal(t, epoch.Add(5*time.Second).UnixMilli(), md.Timestamp)
	assert.Equal(t, []string{"home", "settings"}, md.URLs)
	assert.Equal(t, []string{"e1"}, md.ErrorEventIDs)
}

func TestAssemble_LaterSegmentHasNoOptions(t *testing.T) {
	opts := options.Default()
	rec, err := New(&opts).Assemble(Input{
		ReplayID:    "r1",
		Type:        replay.TypeSession,
		Segment:     3,
		ReplayStart: epoch,
		Video:       videoAt(t, epoch.Add(15*time.Second), 5),
	})
	require.NoError(t, err)

	require.Len(t, rec.Events, 2)
	assert.Equal(t, EventMeta, rec.Events[0].Type)
	assert.Equal(t, TagVideo, rec.Events[1].Tag())
	assert.Equal(t, epoch.UnixMilli(), rec.Metadata.ReplayStart)
}

func TestAssemble_MissingVideo(t *testing.T) {
	v := videoAt(t, epoch, 1)
	require.NoError(t, os.Remove(v.Path))

	_, err := New(nil).Assemble(Input{ReplayID: "r1", Video: v})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read video")
}

func TestRecording_JSON(t *testing.T) {
	rec := New(nil).Build(Input{ReplayID: "r1", Type: replay.TypeSession, Segment: 1, Video: videoAt(t, epoch, 2)})
	rec.Video = []byte("not serialized")

	data, err := rec.MarshalJSON()
	require.NoError(t, err)
	assert.NotContains(t, string(data), "not serialized")
	assert.Contains(t, string(data), `"replay_type":"session"`)
	assert.Contains(t, string(data), `"tag":"video"`)
}

func TestEvents_RoundTrip(t *testing.T) {
	events := []Event{
		Custom(epoch.Add(time.Second), TagTouch, map[string]any{"x": 3}),
		Meta(epoch, 10, 20),
	}
	SortEvents(events)
	assert.Equal(t, EventMeta, events[0].Type)

	data, err := MarshalEvents(events)
	require.NoError(t, err)

	decoded, err := UnmarshalEvents(data)
	require.NoError(t, err)
	require.Len(t, decoded, 2)
	assert.Equal(t, epoch.UnixMilli(), decoded[0].Timestamp)
	assert.Equal(t, TagTouch, decoded[1].Tag())
	assert.True(t, decoded[1].Time().Equal(epoch.Add(time.Second)))

	empty, err := MarshalEvents(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(empty))
}
