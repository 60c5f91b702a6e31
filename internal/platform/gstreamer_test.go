//go:build cgo

package platform

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/replay-capture/replay-capture/internal/encoder"
)

func TestGStreamerSession_CancelEndsPendingFinish(t *testing.T) {
	enc, err := NewGStreamerEncoder()
	require.NoError(t, err)

	sess, err := enc.Open(filepath.Join(t.TempDir(), "0.mp4"), encoder.Config{
		SourceWidth:      16,
		SourceHeight:     16,
		Width:            16,
		Height:           16,
		BitRate:          20_000,
		FrameRate:        1,
		KeyframeInterval: 1,
		Codec:            encoder.CodecH264,
		Profile:          encoder.ProfileBaseline,
		ColorSpace:       encoder.ColorSpaceBT709,
	})
	if err != nil {
		t.Skipf("gstreamer pipeline unavailable: %v", err)
	}

	done := make(chan error, 1)
	sess.Finish(func(err error) { done <- err })
	sess.Cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Finish did not complete after Cancel")
	}
}
