// Package upload hands finished recordings to a transport.
package upload

import (
	"context"
	"sync"

	"github.com/kataras/golog"

	"github.com/replay-capture/replay-capture/internal/assembler"
)

var logger = golog.Child("[replay-upload]")

// Uploader receives recordings in non-decreasing segment order.
type Uploader interface {
	Upload(ctx context.Context, rec *assembler.Recording) error
}

// Func adapts a function to Uploader.
type Func func(ctx context.Context, rec *assembler.Recording) error

// Upload calls f.
func (f Func) Upload(ctx context.Context, rec *assembler.Recording) error {
	return f(ctx, rec)
}

// Memory keeps every recording it receives. Schedulers and coordinators
// built without an uploader default to it.
type Memory struct {
	mu         sync.Mutex
	recordings []*assembler.Recording
}

// Upload stores rec.
func (m *Memory) Upload(_ context.Context, rec *assembler.Recording) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordings = append(m.recordings, rec)
	return nil
}

// Recordings returns what was uploaded so far.
func (m *Memory) Recordings() []*assembler.Recording {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*assembler.Recording(nil), m.recordings...)
}

// Multi uploads to every uploader in order and returns the first error.
type Multi []Uploader

// Upload sends rec to all uploaders even if one of them fails.
func (m Multi) Upload(ctx context.Context, rec *assembler.Recording) error {
	var first error
	for _, u := range m {
		if err := u.Upload(ctx, rec); err != nil {
			logger.Warnf("replay %s segment %d: upload failed: %v", rec.Metadata.ReplayID, rec.Metadata.SegmentID, err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}
