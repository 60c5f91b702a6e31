package encoder_test

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replay-capture/replay-capture/internal/encoder"
	"github.com/replay-capture/replay-capture/internal/frames"
	"github.com/replay-capture/replay-capture/internal/platform/testutil"
	"github.com/replay-capture/replay-capture/internal/replay"
)

var epoch = time.UnixMilli(1_700_000_000_000)

func at(sec int) time.Time {
	return epoch.Add(time.Duration(sec) * time.Second)
}

// storeWith fills a store with one frame per second, sized by sizes[i].
func storeWith(t *testing.T, sizes ...image.Point) *frames.Store {
	t.Helper()
	s, err := frames.NewStore(t.TempDir(), 0)
	require.NoError(t, err)
	for i, size := range sizes {
		_, err := s.Append(testutil.Solid(size.X, size.Y), at(i), "screen")
		require.NoError(t, err)
	}
	return s
}

func repeat(size image.Point, n int) []image.Point {
	out := make([]image.Point, n)
	for i := range out {
		out[i] = size
	}
	return out
}

func newEncoder(media encoder.MediaEncoder) *encoder.SegmentEncoder {
	return encoder.New(media, encoder.Settings{
		FrameRate:       1,
		BitRate:         20_000,
		ResolutionScale: 1,
		WriteTimeout:    5 * time.Second,
	})
}

func TestEncode_RoundTrip(t *testing.T) {
	store := storeWith(t, repeat(image.Pt(8, 8), 10)...)
	media := testutil.NewFakeMediaEncoder()
	dir := t.TempDir()

	videos, err := newEncoder(media).Encode(context.Background(), store, encoder.Request{
		Start: at(0), End: at(5), Dir: dir, Segment: 0,
	})
	require.NoError(t, err)
	require.Len(t, videos, 1)

	v := videos[0]
	assert.Equal(t, 5*time.Second, v.Duration)
	assert.Equal(t, 5.0, v.DurationSeconds())
	assert.Equal(t, 5, v.FrameCount)
	assert.Equal(t, 1, v.FrameRate)
	assert.True(t, v.Start.Equal(at(0)))
	assert.True(t, v.End.Equal(at(5)))
	assert.Equal(t, 8, v.Width)
	assert.Equal(t, 8, v.Height)
	assert.Equal(t, int64(5), v.FileSize)
	assert.Equal(t, []string{"screen"}, v.Screens)
	assert.Equal(t, filepath.Join(dir, "0.mp4"), v.Path)
	assert.FileExists(t, v.Path)
}

func TestEncode_PresentationTimesAndConfig(t *testing.T) {
	store := storeWith(t, repeat(image.Pt(100, 60), 4)...)
	media := testutil.NewFakeMediaEncoder()
	enc := encoder.New(media, encoder.Settings{FrameRate: 3, BitRate: 40_000, ResolutionScale: 0.5})

	videos, err := enc.Encode(context.Background(), store, encoder.Request{
		Start: at(0), End: at(10), Dir: t.TempDir(), Segment: 2,
	})
	require.NoError(t, err)
	require.Len(t, videos, 1)
	assert.Equal(t, 50, videos[0].Width, "videos report the encoded size, not the source size")
	assert.Equal(t, 30, videos[0].Height)

	sessions := media.Opened()
	require.Len(t, sessions, 1)
	assert.Equal(t, []time.Duration{0, 333333333, 666666666, time.Second}, sessions[0].PTS())

	cfg := sessions[0].Config
	assert.Equal(t, 100, cfg.SourceWidth)
	assert.Equal(t, 60, cfg.SourceHeight)
	assert.Equal(t, 50, cfg.Width)
	assert.Equal(t, 30, cfg.Height)
	assert.Equal(t, 3, cfg.KeyframeInterval)
	assert.Equal(t, encoder.CodecH264, cfg.Codec)
	assert.Equal(t, encoder.ProfileBaseline, cfg.Profile)
	assert.Equal(t, encoder.ColorSpaceBT709, cfg.ColorSpace)
}

func TestEncode_ResolutionChangeSplits(t *testing.T) {
	sizes := append(repeat(image.Pt(8, 8), 3), repeat(image.Pt(16, 8), 4)...)
	store := storeWith(t, sizes...)

	for run := 0; run < 2; run++ {
		media := testutil.NewFakeMediaEncoder()
		dir := t.TempDir()
		videos, err := newEncoder(media).Encode(context.Background(), store, encoder.Request{
			Start: at(0), End: at(7), Dir: dir, Segment: 4,
		})
		require.NoError(t, err)
		require.Len(t, videos, 2)

		assert.Equal(t, 3, videos[0].FrameCount)
		assert.Equal(t, 8, videos[0].Width)
		assert.True(t, videos[0].Start.Equal(at(0)))
		assert.True(t, videos[0].End.Equal(at(3)))
		assert.Equal(t, filepath.Join(dir, "4.mp4"), videos[0].Path)

		assert.Equal(t, 4, videos[1].FrameCount)
		assert.Equal(t, 16, videos[1].Width)
		assert.True(t, videos[1].Start.Equal(at(3)))
		assert.Equal(t, filepath.Join(dir, "4-1.mp4"), videos[1].Path)

		require.Len(t, media.Opened(), 2)
		assert.Equal(t, []time.Duration{0, time.Second, 2 * time.Second, 3 * time.Second}, media.Opened()[1].PTS())
	}
}

func TestEncode_SkipsUnreadableFrames(t *testing.T) {
	store := storeWith(t, repeat(image.Pt(8, 8), 5)...)
	all := store.Frames()
	require.NoError(t, os.Remove(all[0].ImagePath))
	require.NoError(t, os.WriteFile(all[2].ImagePath, []byte("garbage"), 0600))

	videos, err := newEncoder(testutil.NewFakeMediaEncoder()).Encode(context.Background(), store, encoder.Request{
		Start: at(0), End: at(5), Dir: t.TempDir(),
	})
	require.NoError(t, err)
	require.Len(t, videos, 1)
	assert.Equal(t, 3, videos[0].FrameCount)
	assert.True(t, videos[0].Start.Equal(at(1)))
}

func TestEncode_EmptyRange(t *testing.T) {
	store := storeWith(t, repeat(image.Pt(8, 8), 3)...)
	media := testutil.NewFakeMediaEncoder()

	videos, err := newEncoder(media).Encode(context.Background(), store, encoder.Request{
		Start: at(10), End: at(15), Dir: t.TempDir(),
	})
	require.NoError(t, err)
	assert.Empty(t, videos)
	assert.Empty(t, media.Opened())
}

func TestEncode_OpenFailure(t *testing.T) {
	store := storeWith(t, repeat(image.Pt(8, 8), 3)...)
	media := testutil.NewFakeMediaEncoder()
	media.OpenErr = errors.New("no codec")

	videos, err := newEncoder(media).Encode(context.Background(), store, encoder.Request{
		Start: at(0), End: at(3), Dir: t.TempDir(),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, replay.ErrEncoderOpenFailed)
	assert.Empty(t, videos)
}

func TestEncode_AppendFailureKeepsFinishedVideos(t *testing.T) {
	sizes := append(repeat(image.Pt(8, 8), 2), repeat(image.Pt(4, 4), 3)...)
	store := storeWith(t, sizes...)
	media := testutil.NewFakeMediaEncoder()
	media.AppendErrAt = 4

	videos, err := newEncoder(media).Encode(context.Background(), store, encoder.Request{
		Start: at(0), End: at(5), Dir: t.TempDir(), Segment: 1,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, replay.ErrAppendFailed)

	var encErr *replay.EncodeError
	require.ErrorAs(t, err, &encErr)
	assert.Equal(t, 1, encErr.Segment)
	assert.Equal(t, 1, encErr.Video)

	require.Len(t, videos, 1)
	assert.Equal(t, 2, videos[0].FrameCount)

	sessions := media.Opened()
	require.Len(t, sessions, 2)
	assert.True(t, sessions[1].Cancelled())
	assert.NoFileExists(t, sessions[1].Path)
}

func TestEncode_WriteTimeout(t *testing.T) {
	store := storeWith(t, repeat(image.Pt(8, 8), 2)...)
	media := testutil.NewFakeMediaEncoder()
	media.Stall = true
	enc := encoder.New(media, encoder.Settings{FrameRate: 1, WriteTimeout: 50 * time.Millisecond})

	videos, err := enc.Encode(context.Background(), store, encoder.Request{
		Start: at(0), End: at(2), Dir: t.TempDir(),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, replay.ErrWriteTimeout)
	assert.ErrorIs(t, err, replay.ErrAppendFailed)
	assert.Empty(t, videos)
	assert.True(t, media.Opened()[0].Cancelled())
}

func TestEncode_FinishFailure(t *testing.T) {
	store := storeWith(t, repeat(image.Pt(8, 8), 2)...)
	media := testutil.NewFakeMediaEncoder()
	media.FinishErr = errors.New("mux failed")

	videos, err := newEncoder(media).Encode(context.Background(), store, encoder.Request{
		Start: at(0), End: at(2), Dir: t.TempDir(),
	})
	assert.ErrorIs(t, err, replay.ErrAppendFailed)
	assert.Empty(t, videos)
}

func TestEncode_ScreensCollapseRepeats(t *testing.T) {
	s, err := frames.NewStore(t.TempDir(), 0)
	require.NoError(t, err)
	for i, name := range []string{"home", "home", "", "settings", "home"} {
		_, err := s.Append(testutil.Solid(8, 8), at(i), name)
		require.NoError(t, err)
	}

	videos, err := newEncoder(testutil.NewFakeMediaEncoder()).Encode(context.Background(), s, encoder.Request{
		Start: at(0), End: at(5), Dir: t.TempDir(),
	})
	require.NoError(t, err)
	require.Len(t, videos, 1)
	assert.Equal(t, []string{"home", "settings", "home"}, videos[0].Screens)
}

func TestPresentationTime(t *testing.T) {
	for i := 0; i <= 3000; i++ {
		want := time.Duration(i) * time.Second / 30
		require.Equal(t, want, encoder.PresentationTime(i, 30))
	}
	assert.Equal(t, 100*time.Second, encoder.PresentationTime(3000, 30))
}
