// Package encoder turns a time range of stored frames into finished video
// files through a pull-driven media encoder.
package encoder

import (
	"image"
	"time"
)

// Encoder contract defaults.
const (
	CodecH264       = "h264"
	ContainerMP4    = "mp4"
	ProfileBaseline = "baseline"
	ColorSpaceBT709 = "bt709"
)

// Config is the output configuration of one video.
type Config struct {
	// SourceWidth and SourceHeight are the dimensions of the appended images.
	SourceWidth  int
	SourceHeight int
	// Width and Height are the encoded dimensions.
	Width  int
	Height int

	BitRate          int
	FrameRate        int
	KeyframeInterval int
	Codec            string
	Profile          string
	ColorSpace       string
}

// MediaEncoder opens encoding sessions that write a container file at path.
type MediaEncoder interface {
	Open(path string, cfg Config) (MediaSession, error)
}

// MediaSession is a single pull-driven encoding pass.
//
// The session calls the function registered with RequestMediaData on its own
// worker whenever it can accept more input, until Finish or Cancel is called.
// Append, Finish and Cancel may be called from that worker.
type MediaSession interface {
	RequestMediaData(ready func())
	Ready() bool
	Append(img image.Image, pts time.Duration) error
	// Finish ends the input and finalizes the container. done is called once.
	Finish(done func(error))
	// Cancel aborts the pass and removes any partial output.
	Cancel()
}
