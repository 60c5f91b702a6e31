//go:build cgo

package platform

import (
	"errors"
	"fmt"
	"image"
	"os"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/replay-capture/replay-capture/internal/encoder"
)

var gstInit sync.Once

// GStreamerEncoder writes H.264 in MP4 through a GStreamer pipeline:
//
//	appsrc → videoconvert → videoscale → capsfilter → x264enc → h264parse → mp4mux → filesink
//
// appsrc's need-data/enough-data signals implement the pull protocol.
type GStreamerEncoder struct{}

// NewGStreamerEncoder initializes GStreamer and returns an encoder.
func NewGStreamerEncoder() (*GStreamerEncoder, error) {
	gstInit.Do(func() { gst.Init(nil) })
	return &GStreamerEncoder{}, nil
}

// Open builds and starts a pipeline writing to path.
func (g *GStreamerEncoder) Open(path string, cfg encoder.Config) (encoder.MediaSession, error) {
	pipeline, err := gst.NewPipelineFromString(launchLine(path, cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	elem, err := pipeline.GetElementByName("src")
	if err != nil {
		return nil, fmt.Errorf("failed to find appsrc: %w", err)
	}
	src := app.SrcFromElement(elem)
	src.SetCaps(gst.NewCapsFromString(fmt.Sprintf(
		"video/x-raw,format=RGBA,width=%d,height=%d,framerate=%d/1",
		cfg.SourceWidth, cfg.SourceHeight, cfg.FrameRate)))

	s := &gstSession{
		path:     path,
		cfg:      cfg,
		pipeline: pipeline,
		src:      src,
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		abort:    make(chan struct{}),
	}
	src.SetCallbacks(&app.SourceCallbacks{
		NeedDataFunc: func(_ *app.Source, _ uint) {
			s.setReady(true)
		},
		EnoughDataFunc: func(_ *app.Source) {
			s.setReady(false)
		},
	})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		_ = pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("failed to start pipeline: %w", err)
	}

	logger.Debugf("gstreamer: opened %s (%dx%d -> %dx%d @ %dfps)",
		path, cfg.SourceWidth, cfg.SourceHeight, cfg.Width, cfg.Height, cfg.FrameRate)
	return s, nil
}

func launchLine(path string, cfg encoder.Config) string {
	kbps := cfg.BitRate / 1000
	if kbps < 1 {
		kbps = 1
	}
	return fmt.Sprintf("appsrc name=src format=time is-live=false block=false ! "+
		"videoconvert ! videoscale ! "+
		"video/x-raw,format=I420,width=%d,height=%d,colorimetry=%s ! "+
		"x264enc bitrate=%d key-int-max=%d bframes=0 b-adapt=false speed-preset=veryfast ! "+
		"video/x-h264,profile=constrained-%s ! h264parse ! mp4mux ! filesink location=%q",
		cfg.Width, cfg.Height, cfg.ColorSpace,
		kbps, cfg.KeyframeInterval,
		cfg.Profile, path)
}

// gstSession is one running pipeline. Its worker goroutine is the only caller
// of the readiness callback, so appends never run on GStreamer's threads.
type gstSession struct {
	path     string
	cfg      encoder.Config
	pipeline *gst.Pipeline
	src      *app.Source

	mu      sync.Mutex
	ready   bool
	ended   bool
	started bool

	wake chan struct{}
	stop chan struct{}

	// abort is closed by Cancel. It also ends a Finish still waiting for EOS.
	abort     chan struct{}
	abortOnce sync.Once
}

func (s *gstSession) setReady(ready bool) {
	s.mu.Lock()
	s.ready = ready
	s.mu.Unlock()
	if ready {
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
}

func (s *gstSession) RequestMediaData(ready func()) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	go func() {
		for {
			select {
			case <-s.stop:
				return
			case <-s.wake:
				if s.isEnded() {
					return
				}
				ready()
			}
		}
	}()
}

func (s *gstSession) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready && !s.ended
}

func (s *gstSession) Append(img image.Image, pts time.Duration) error {
	rgba := toRGBA(img)
	buffer := gst.NewBufferFromBytes(rgba.Pix)
	buffer.SetPresentationTimestamp(pts)
	buffer.SetDuration(time.Second / time.Duration(s.cfg.FrameRate))

	if ret := s.src.PushBuffer(buffer); ret != gst.FlowOK {
		return fmt.Errorf("push buffer: %v", ret)
	}
	return nil
}

func (s *gstSession) Finish(done func(error)) {
	if !s.end() {
		done(errors.New("session already ended"))
		return
	}
	if ret := s.src.EndStream(); ret != gst.FlowOK {
		_ = s.pipeline.SetState(gst.StateNull)
		done(fmt.Errorf("end stream: %v", ret))
		return
	}

	go func() {
		err := s.waitEOS()
		_ = s.pipeline.SetState(gst.StateNull)
		done(err)
	}()
}

func (s *gstSession) Cancel() {
	s.abortOnce.Do(func() { close(s.abort) })
	if !s.end() {
		return
	}
	_ = s.pipeline.SetState(gst.StateNull)
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warnf("gstreamer: failed to remove cancelled output %s: %v", s.path, err)
	}
}

// end marks the session ended and stops the worker. It reports whether this
// call did so.
func (s *gstSession) end() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return false
	}
	s.ended = true
	close(s.stop)
	return true
}

func (s *gstSession) isEnded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// waitEOS polls the bus so that Cancel can interrupt a pipeline that never
// drains.
func (s *gstSession) waitEOS() error {
	bus := s.pipeline.GetPipelineBus()
	for {
		select {
		case <-s.abort:
			return errors.New("cancelled before end of stream")
		default:
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageEOS:
			return nil
		case gst.MessageError:
			gerr := msg.ParseError()
			return fmt.Errorf("pipeline error: %s", gerr.Error())
		}
	}
}
