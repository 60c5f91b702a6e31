package encoder

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kataras/golog"

	"github.com/replay-capture/replay-capture/internal/frames"
	"github.com/replay-capture/replay-capture/internal/replay"
)

var logger = golog.Child("[replay-encoder]")

// Settings configures a SegmentEncoder.
type Settings struct {
	FrameRate       int
	BitRate         int
	ResolutionScale float64
	WriteTimeout    time.Duration
}

// SegmentEncoder drains a time range of frames through a MediaEncoder. A
// change of image size inside the range splits the output into several
// videos.
type SegmentEncoder struct {
	media    MediaEncoder
	settings Settings

	// ReadImage loads a frame's image. Overridable for tests.
	ReadImage func(frames.Frame) (image.Image, error)
}

// New returns a SegmentEncoder writing through media.
func New(media MediaEncoder, settings Settings) *SegmentEncoder {
	if settings.FrameRate < 1 {
		settings.FrameRate = 1
	}
	if settings.ResolutionScale <= 0 {
		settings.ResolutionScale = 1
	}
	return &SegmentEncoder{
		media:     media,
		settings:  settings,
		ReadImage: frames.ReadImage,
	}
}

// Request selects the frames to encode and where the videos go.
type Request struct {
	Start time.Time
	End   time.Time
	// Dir receives the output files, named after Segment.
	Dir     string
	Segment int
}

// Encode encodes every frame of store captured in [req.Start, req.End).
//
// It returns the videos produced in order. If opening the encoder fails no
// videos are returned. If a video fails while being written, the videos that
// finished before it are returned together with an *replay.EncodeError.
func (e *SegmentEncoder) Encode(ctx context.Context, store *frames.Store, req Request) ([]VideoInfo, error) {
	return e.EncodeFrames(ctx, store.Range(req.Start, req.End), req)
}

// EncodeFrames encodes the given frames, which must be in capture order.
func (e *SegmentEncoder) EncodeFrames(ctx context.Context, list []frames.Frame, req Request) ([]VideoInfo, error) {
	if err := os.MkdirAll(req.Dir, 0750); err != nil {
		return nil, replay.DirectoryError("create", req.Dir, err)
	}

	var videos []VideoInfo
	index := 0
	for index < len(list) {
		j := e.newJob(list, index, e.outputPath(req, len(videos)))
		res := e.run(ctx, j)

		if res.err != nil {
			if errors.Is(res.err, replay.ErrEncoderOpenFailed) {
				removeVideos(videos)
				return nil, res.err
			}
			logger.Errorf("segment %d: video %d failed: %v", req.Segment, len(videos), res.err)
			return videos, &replay.EncodeError{Segment: req.Segment, Video: len(videos), Err: res.err}
		}
		if res.info != nil {
			videos = append(videos, *res.info)
		}
		if res.next <= index {
			break
		}
		index = res.next
	}

	logger.Debugf("segment %d: %d frames encoded into %d videos", req.Segment, len(list), len(videos))
	return videos, nil
}

func (e *SegmentEncoder) outputPath(req Request, video int) string {
	if video == 0 {
		return filepath.Join(req.Dir, fmt.Sprintf("%d.%s", req.Segment, ContainerMP4))
	}
	return filepath.Join(req.Dir, fmt.Sprintf("%d-%d.%s", req.Segment, video, ContainerMP4))
}

func (e *SegmentEncoder) config(size image.Point) Config {
	return Config{
		SourceWidth:      size.X,
		SourceHeight:     size.Y,
		Width:            scaled(size.X, e.settings.ResolutionScale),
		Height:           scaled(size.Y, e.settings.ResolutionScale),
		BitRate:          e.settings.BitRate,
		FrameRate:        e.settings.FrameRate,
		KeyframeInterval: e.settings.FrameRate,
		Codec:            CodecH264,
		Profile:          ProfileBaseline,
		ColorSpace:       ColorSpaceBT709,
	}
}

// run drives one video from its first readable frame to completion and waits
// for the result, bounded by the write timeout.
func (e *SegmentEncoder) run(ctx context.Context, j *job) result {
	first, ok := j.seekReadable()
	if !ok {
		return result{next: len(j.frames)}
	}

	j.lastImageSize = first.Bounds().Size()
	j.pending = first

	cfg := e.config(j.lastImageSize)
	j.videoSize = image.Pt(cfg.Width, cfg.Height)

	session, err := e.media.Open(j.path, cfg)
	if err != nil {
		return result{err: fmt.Errorf("%w: %w", replay.ErrEncoderOpenFailed, err)}
	}
	j.session = session
	session.RequestMediaData(j.processNextBatch)

	timeout := e.settings.WriteTimeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-j.done:
		return res
	case <-timer.C:
		if !j.abort() {
			return <-j.done
		}
		return result{err: replay.ErrWriteTimeout}
	case <-ctx.Done():
		if !j.abort() {
			return <-j.done
		}
		return result{err: fmt.Errorf("%w: %w", replay.ErrAppendFailed, ctx.Err())}
	}
}

func (e *SegmentEncoder) newJob(list []frames.Frame, start int, path string) *job {
	return &job{
		frames:     list,
		frameIndex: start,
		path:       path,
		frameRate:  e.settings.FrameRate,
		readImage:  e.ReadImage,
		done:       make(chan result, 1),
	}
}

type result struct {
	info *VideoInfo
	next int
	err  error
}

// job is the state of one video being written. processNextBatch is the only
// entry point on the encoder's worker; the job holds everything it needs to
// complete even when nobody waits for it anymore.
type job struct {
	frames        []frames.Frame
	frameIndex    int
	usedFrames    []frames.Frame
	lastImageSize image.Point
	videoSize     image.Point
	pending       image.Image

	path      string
	frameRate int
	readImage func(frames.Frame) (image.Image, error)
	session   MediaSession

	mu        sync.Mutex
	finishing bool
	closed    bool
	done      chan result
}

// seekReadable advances to the first frame whose image loads.
func (j *job) seekReadable() (image.Image, bool) {
	for j.frameIndex < len(j.frames) {
		img, err := j.readImage(j.frames[j.frameIndex])
		if err == nil {
			return img, true
		}
		logger.Warnf("skipping unreadable frame %s: %v", j.frames[j.frameIndex].ImagePath, err)
		j.frameIndex++
	}
	return nil, false
}

func (j *job) processNextBatch() {
	for j.session.Ready() {
		if j.stopped() {
			return
		}
		if j.frameIndex >= len(j.frames) {
			j.finish()
			return
		}

		frame := j.frames[j.frameIndex]
		img := j.pending
		j.pending = nil
		if img == nil {
			var err error
			img, err = j.readImage(frame)
			if err != nil {
				logger.Warnf("skipping unreadable frame %s: %v", frame.ImagePath, err)
				j.frameIndex++
				continue
			}
		}

		if img.Bounds().Size() != j.lastImageSize {
			j.finish()
			return
		}

		pts := PresentationTime(len(j.usedFrames), j.frameRate)
		if err := j.session.Append(img, pts); err != nil {
			j.session.Cancel()
			j.complete(result{err: fmt.Errorf("%w: %w", replay.ErrAppendFailed, err)})
			return
		}
		j.usedFrames = append(j.usedFrames, frame)
		j.frameIndex++
	}
}

// finish finalizes the current video. The frame at frameIndex, if any, starts
// the next one.
func (j *job) finish() {
	j.mu.Lock()
	if j.finishing || j.closed {
		j.mu.Unlock()
		return
	}
	j.finishing = true
	j.mu.Unlock()

	next := j.frameIndex
	used := j.usedFrames
	j.session.Finish(func(err error) {
		if err != nil {
			_ = os.Remove(j.path)
			j.complete(result{err: fmt.Errorf("%w: %w", replay.ErrAppendFailed, err)})
			return
		}
		if len(used) == 0 {
			_ = os.Remove(j.path)
			j.complete(result{next: next})
			return
		}
		info := j.videoInfo(used)
		j.complete(result{info: &info, next: next})
	})
}

func (j *job) videoInfo(used []frames.Frame) VideoInfo {
	var size int64
	if st, err := os.Stat(j.path); err == nil {
		size = st.Size()
	}
	duration := PresentationTime(len(used), j.frameRate)
	start := used[0].Time
	return VideoInfo{
		Path:       j.path,
		Start:      start,
		End:        start.Add(duration),
		Duration:   duration,
		FrameCount: len(used),
		FrameRate:  j.frameRate,
		Width:      j.videoSize.X,
		Height:     j.videoSize.Y,
		FileSize:   size,
		Screens:    screens(used),
	}
}

func (j *job) stopped() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.finishing || j.closed
}

func (j *job) complete(res result) {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		if res.info != nil {
			_ = os.Remove(res.info.Path)
		}
		return
	}
	j.closed = true
	j.mu.Unlock()
	j.done <- res
}

// abort gives up on the job. It reports false when the job completed first,
// in which case its result is already on the done channel.
func (j *job) abort() bool {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return false
	}
	j.closed = true
	j.mu.Unlock()
	j.session.Cancel()
	_ = os.Remove(j.path)
	return true
}

func removeVideos(videos []VideoInfo) {
	for _, v := range videos {
		if err := os.Remove(v.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warnf("failed to remove video %s: %v", v.Path, err)
		}
	}
}
