// Package platform provides the concrete capture and encoding backends used
// by the replay pipeline: a display screenshot provider and a GStreamer
// H.264/MP4 media encoder. Backends that need cgo are selected at compile
// time via build tags.
package platform

import (
	"errors"

	"github.com/kataras/golog"
)

var logger = golog.Child("[replay-platform]")

// ErrNotImplemented is returned by backends unavailable in this build.
var ErrNotImplemented = errors.New("backend is not available in this build")

// ErrNoDisplay is returned when the configured display does not exist.
var ErrNoDisplay = errors.New("display not found")
