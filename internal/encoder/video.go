package encoder

import (
	"time"

	"github.com/replay-capture/replay-capture/internal/frames"
)

// VideoInfo describes one finished video file.
type VideoInfo struct {
	Path       string
	Start      time.Time
	End        time.Time
	Duration   time.Duration
	FrameCount int
	FrameRate  int
	Width      int
	Height     int
	FileSize   int64
	Screens    []string
}

// DurationSeconds returns the video duration in seconds.
func (v VideoInfo) DurationSeconds() float64 {
	return v.Duration.Seconds()
}

// PresentationTime returns the timestamp of the index-th frame of a video at
// the given frame rate, computed without accumulating rounding error.
func PresentationTime(index, frameRate int) time.Duration {
	return time.Duration(index) * time.Second / time.Duration(frameRate)
}

// screens returns the screen names of the frames with consecutive repeats
// collapsed.
func screens(used []frames.Frame) []string {
	var out []string
	for _, f := range used {
		if f.ScreenName == "" {
			continue
		}
		if len(out) > 0 && out[len(out)-1] == f.ScreenName {
			continue
		}
		out = append(out, f.ScreenName)
	}
	return out
}

// scaled returns a dimension multiplied by scale, rounded down to an even
// value as required by 4:2:0 chroma subsampling.
func scaled(v int, scale float64) int {
	s := int(float64(v) * scale)
	s &^= 1
	if s < 2 {
		return 2
	}
	return s
}
