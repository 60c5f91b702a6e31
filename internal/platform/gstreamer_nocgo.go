//go:build !cgo

package platform

import (
	"github.com/replay-capture/replay-capture/internal/encoder"
)

// GStreamerEncoder is unavailable without cgo.
type GStreamerEncoder struct{}

// NewGStreamerEncoder reports that GStreamer needs a cgo build.
func NewGStreamerEncoder() (*GStreamerEncoder, error) {
	return nil, ErrNotImplemented
}

// Open always fails in builds without cgo.
func (g *GStreamerEncoder) Open(_ string, _ encoder.Config) (encoder.MediaSession, error) {
	return nil, ErrNotImplemented
}
