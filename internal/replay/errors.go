package replay

import (
	"errors"
	"fmt"
)

// Error taxonomy. None of these ever reach the host application; they are
// absorbed by the scheduler and the recovery coordinator and only logged.
var (
	// ErrCaptureFailed means no screenshot was available for a tick.
	ErrCaptureFailed = errors.New("capture failed")
	// ErrEncoderOpenFailed is fatal for a whole encode call.
	ErrEncoderOpenFailed = errors.New("encoder open failed")
	// ErrAppendFailed is fatal for the video being written only.
	ErrAppendFailed = errors.New("append failed")
	// ErrWriteTimeout is reported when a video does not finish in time.
	// It matches ErrAppendFailed with errors.Is.
	ErrWriteTimeout = fmt.Errorf("write timeout: %w", ErrAppendFailed)
	// ErrNoFramesAvailable means a recovered session had nothing to encode.
	ErrNoFramesAvailable = errors.New("no frames available")
	// ErrDirectoryIO wraps best-effort filesystem failures.
	ErrDirectoryIO = errors.New("directory io failed")
)

// EncodeError describes a failed video within an encode call.
type EncodeError struct {
	Segment int
	Video   int
	Err     error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("segment %d video %d: %v", e.Segment, e.Video, e.Err)
}

func (e *EncodeError) Unwrap() error {
	return e.Err
}

// DirectoryError wraps a filesystem failure on a replay directory.
func DirectoryError(op, path string, err error) error {
	return fmt.Errorf("%s %s: %w: %w", op, path, ErrDirectoryIO, err)
}
