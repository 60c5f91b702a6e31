// Package capture drives screenshot capture for a replay session and turns
// the captured frames into segments.
package capture

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kataras/golog"

	"github.com/replay-capture/replay-capture/internal/assembler"
	"github.com/replay-capture/replay-capture/internal/encoder"
	"github.com/replay-capture/replay-capture/internal/frames"
	"github.com/replay-capture/replay-capture/internal/options"
	"github.com/replay-capture/replay-capture/internal/replay"
	"github.com/replay-capture/replay-capture/internal/session"
	"github.com/replay-capture/replay-capture/internal/upload"
)

var logger = golog.Child("[replay-capture]")

// UpgradePolicy decides whether an error captured during a buffered session
// turns it into a full session.
type UpgradePolicy func(event *replay.ErrorEvent) bool

// SampleRatePolicy upgrades with probability rate. A nil rnd uses the
// global source.
func SampleRatePolicy(rate float64, rnd *rand.Rand) UpgradePolicy {
	var mu sync.Mutex
	return func(*replay.ErrorEvent) bool {
		mu.Lock()
		defer mu.Unlock()
		if rnd == nil {
			return rand.Float64() < rate //nolint:gosec // sampling, not security
		}
		return rnd.Float64() < rate
	}
}

// Config wires a Scheduler to its collaborators.
type Config struct {
	Options  options.ReplayOptions
	Dirs     *session.Dirs
	Provider ScreenshotProvider
	Encoder  *encoder.SegmentEncoder
	Uploader upload.Uploader

	// Ticker defaults to a TimeTicker at ten times the frame rate.
	Ticker Ticker
	// Policy defaults to sampling at Options.OnErrorSampleRate.
	Policy UpgradePolicy
	// Tracker defaults to an empty tracker.
	Tracker *Tracker
	// Now defaults to time.Now.
	Now func() time.Time
	// NewID defaults to NewReplayID.
	NewID func() string
}

// State is a snapshot of the running session.
type State struct {
	ID                 string
	Mode               replay.Mode
	Running            bool
	Paused             bool
	ReachedMaxDuration bool
	SessionStart       time.Time
	SegmentStart       time.Time
	Dir                string
}

// segmentJob is one window to encode on the processing queue.
type segmentJob struct {
	start, end time.Time
	typ        replay.Type
	errorIDs   []string
}

// pendingFrame is a screenshot waiting to be appended to the store.
type pendingFrame struct {
	at   time.Time
	shot Screenshot
}

// Scheduler decides when to capture, when a segment ends and which mode the
// session is in.
//
// Three contexts cooperate: the tick context never blocks and only
// dispatches captures and jobs; each capture runs on its own goroutine; the
// processing queue owns all frame store mutations and runs encodes one at a
// time, waiting for each to finish before the next starts.
type Scheduler struct {
	cfg     Config
	opts    options.ReplayOptions
	tracker *Tracker

	// lifecycle serializes Start and Stop.
	lifecycle sync.Mutex

	mu            sync.Mutex
	captureDone   *sync.Cond
	state         State
	lastCapture   time.Time
	inFlight      bool
	inFlightAt    time.Time
	pending       []pendingFrame
	captureCtx    context.Context
	cancelCapture context.CancelFunc
	store         *frames.Store
	queue         *queue

	// Owned by the processing queue.
	nextSegment int
}

// New returns a stopped scheduler.
func New(cfg Config) *Scheduler {
	opts := cfg.Options
	opts.ApplyDefaults()

	if cfg.Ticker == nil {
		cfg.Ticker = NewTimeTicker(RateHint{Min: opts.FrameRate, Max: opts.FrameRate * 10})
	}
	if cfg.Policy == nil {
		cfg.Policy = SampleRatePolicy(opts.OnErrorSampleRate, nil)
	}
	if cfg.Tracker == nil {
		cfg.Tracker = NewTracker()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = NewReplayID
	}
	if cfg.Uploader == nil {
		cfg.Uploader = &upload.Memory{}
	}

	s := &Scheduler{cfg: cfg, opts: opts, tracker: cfg.Tracker}
	s.captureDone = sync.NewCond(&s.mu)
	return s
}

// NewReplayID returns a random 32 character hex id.
func NewReplayID() string {
	id := uuid.New()
	return fmt.Sprintf("%x", id[:])
}

// Tracker returns the breadcrumb and touch tracker feeding the timeline.
func (s *Scheduler) Tracker() *Tracker {
	return s.tracker
}

// State returns a snapshot of the session state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start begins a new session, stopping the running one first. A full
// session produces a segment every segment duration; a buffered one keeps
// a rolling window until an error upgrades it.
func (s *Scheduler) Start(fullSession bool) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.stopLocked()

	now := s.cfg.Now()
	id := s.cfg.NewID()
	mode := replay.ModeBuffered
	if fullSession {
		mode = replay.ModeFull
	}

	dir, err := s.cfg.Dirs.Begin(session.Info{ReplayID: id, ErrorSampleRate: s.opts.OnErrorSampleRate})
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}

	// The rotated session keeps its segments directory for recovery.
	keep := []string{id}
	if last, err := s.cfg.Dirs.ReadLast(); err == nil {
		keep = append(keep, last.ReplayID)
	}
	s.cfg.Dirs.PurgeStaleAsync(keep...)

	store, err := frames.NewStore(dir, s.opts.FrameCapacity)
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.state = State{
		ID:           id,
		Mode:         mode,
		Running:      true,
		SessionStart: now,
		SegmentStart: now,
		Dir:          dir,
	}
	s.lastCapture = time.Time{}
	s.inFlight = false
	s.pending = nil
	s.captureCtx, s.cancelCapture = ctx, cancel
	s.store = store
	s.queue = newQueue()
	s.nextSegment = 0
	s.mu.Unlock()

	logger.Infof("replay %s: started %s session", id, mode)
	s.cfg.Ticker.Start(s.tick)
	return nil
}

// tick runs on the ticker's context and must not block.
func (s *Scheduler) tick(now time.Time) {
	s.mu.Lock()
	st := &s.state
	if !st.Running || (st.Paused && st.Mode == replay.ModeFull) {
		s.mu.Unlock()
		return
	}

	if st.Mode == replay.ModeFull && now.Sub(st.SessionStart) > s.opts.MaximumDuration {
		st.Running = false
		st.ReachedMaxDuration = true
		job := segmentJob{start: st.SegmentStart, end: now, typ: replay.TypeSession}
		q := s.queue
		cancel := s.cancelCapture
		id := st.ID
		s.mu.Unlock()

		logger.Infof("replay %s: maximum duration of %s reached", id, s.opts.MaximumDuration)
		s.cfg.Ticker.Stop()
		cancel()
		if !job.start.IsZero() {
			q.Submit(func() { s.encodeSegment(job) })
		}
		return
	}

	if st.SegmentStart.IsZero() {
		st.SegmentStart = now
	}

	if s.lastCapture.IsZero() || now.Sub(s.lastCapture) >= s.opts.FrameInterval() {
		if !s.inFlight {
			s.inFlight = true
			s.inFlightAt = now
			s.lastCapture = now
			go s.capture(s.captureCtx, s.queue, now)
		}
	}

	if st.Mode == replay.ModeFull && now.Sub(st.SegmentStart) >= s.opts.SegmentDuration {
		job := segmentJob{start: st.SegmentStart, end: now, typ: replay.TypeSession}
		st.SegmentStart = now
		q := s.queue
		s.mu.Unlock()
		q.Submit(func() { s.encodeSegment(job) })
		return
	}
	s.mu.Unlock()
}

// capture takes one screenshot and hands it to the processing queue.
func (s *Scheduler) capture(ctx context.Context, q *queue, at time.Time) {
	shot, err := s.cfg.Provider.Capture(ctx, s.opts.Redact)
	if err == nil && shot.Image == nil {
		err = errors.New("provider returned no image")
	}

	if err != nil {
		logger.Warnf("%v", fmt.Errorf("%w: %w", replay.ErrCaptureFailed, err))
	} else {
		s.mu.Lock()
		s.pending = append(s.pending, pendingFrame{at: at, shot: shot})
		s.mu.Unlock()
		q.Submit(s.drainPending)
	}

	s.mu.Lock()
	s.inFlight = false
	s.captureDone.Broadcast()
	s.mu.Unlock()
}

// drainPending appends captured screenshots to the store. Runs on the
// processing queue.
func (s *Scheduler) drainPending() {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	store := s.store
	mode := s.state.Mode
	s.mu.Unlock()

	var latest time.Time
	for _, p := range pending {
		if _, err := store.Append(p.shot.Image, p.at, p.shot.ScreenName); err != nil {
			logger.Warnf("failed to store frame: %v", err)
			continue
		}
		latest = p.at
	}

	if mode == replay.ModeBuffered && !latest.IsZero() {
		store.ReleaseUntil(latest.Add(-s.opts.ErrorBufferDuration - s.opts.FrameInterval()))
	}
}

// waitCaptures blocks until no capture dispatched before end is in flight.
func (s *Scheduler) waitCaptures(end time.Time) {
	s.mu.Lock()
	for s.inFlight && s.inFlightAt.Before(end) {
		s.captureDone.Wait()
	}
	s.mu.Unlock()
}

// encodeSegment encodes one window, uploads its recordings and releases the
// frames it consumed. Runs on the processing queue.
func (s *Scheduler) encodeSegment(job segmentJob) {
	s.waitCaptures(job.end)
	s.drainPending()

	s.mu.Lock()
	id := s.state.ID
	sessionStart := s.state.SessionStart
	store := s.store
	s.mu.Unlock()

	first := s.nextSegment
	videos, err := s.cfg.Encoder.Encode(context.Background(), store, encoder.Request{
		Start:   job.start,
		End:     job.end,
		Dir:     s.cfg.Dirs.Segments(id),
		Segment: first,
	})
	if err != nil {
		logger.Errorf("replay %s: segment %d: %v", id, first, err)
	}

	a := assembler.New(&s.opts)
	for i, v := range videos {
		typ := replay.TypeSession
		if i == 0 {
			typ = job.typ
		}
		rec, err := a.Assemble(assembler.Input{
			ReplayID:    id,
			Type:        typ,
			Segment:     s.nextSegment,
			ReplayStart: sessionStart,
			Video:       v,
			Events:      s.tracker.Events(v.Start, v.End),
			ErrorIDs:    job.errorIDs,
		})
		if err != nil {
			logger.Errorf("replay %s: segment %d: %v", id, s.nextSegment, err)
			continue
		}
		if err := s.cfg.Uploader.Upload(context.Background(), rec); err != nil {
			logger.Warnf("replay %s: segment %d: upload failed: %v", id, s.nextSegment, err)
		}
		logger.Infof("replay %s: segment %d %s (%d frames)", id, s.nextSegment, typ, v.FrameCount)

		crash := session.CrashInfo{LastSegmentIndex: uint32(s.nextSegment), LastSegmentEnd: v.End}
		if err := session.WriteCrashInfo(store.Dir(), crash); err != nil {
			logger.Warnf("replay %s: %v", id, err)
		}
		s.nextSegment++
	}

	store.ReleaseUntil(job.end)
	s.tracker.Prune(job.end)
}

// Pause flushes the segment in progress and suspends capture. It only
// applies to full sessions.
func (s *Scheduler) Pause() {
	now := s.cfg.Now()

	s.mu.Lock()
	st := &s.state
	if !st.Running || st.Paused || st.Mode != replay.ModeFull {
		s.mu.Unlock()
		return
	}
	st.Paused = true
	job := segmentJob{start: st.SegmentStart, end: now, typ: replay.TypeSession}
	st.SegmentStart = time.Time{}
	q := s.queue
	id := st.ID
	s.mu.Unlock()

	logger.Debugf("replay %s: paused", id)
	if !job.start.IsZero() {
		q.Submit(func() { s.encodeSegment(job) })
	}
}

// Resume continues a paused full session with a fresh segment window.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.Running || !s.state.Paused {
		return
	}
	s.state.Paused = false
	s.state.SegmentStart = time.Time{}
	logger.Debugf("replay %s: resumed", s.state.ID)
}

// CaptureForEvent links an error event to the replay. A buffered session is
// upgraded to a full one when the policy agrees, and the error buffer
// becomes its first segment. It reports whether the event now carries a
// replay id.
func (s *Scheduler) CaptureForEvent(event *replay.ErrorEvent) bool {
	s.mu.Lock()
	if !s.state.Running {
		s.mu.Unlock()
		return false
	}
	if s.state.Mode == replay.ModeFull {
		id := s.state.ID
		s.mu.Unlock()
		event.AttachReplayID(id)
		return true
	}
	s.mu.Unlock()

	if !s.cfg.Policy(event) {
		logger.Debugf("error %s: buffered replay not sampled", event.ID)
		return false
	}

	now := s.cfg.Now()
	s.mu.Lock()
	st := &s.state
	if !st.Running {
		s.mu.Unlock()
		return false
	}
	if st.Mode == replay.ModeFull {
		id := st.ID
		s.mu.Unlock()
		event.AttachReplayID(id)
		return true
	}
	st.Mode = replay.ModeFull
	st.SessionStart = now
	st.SegmentStart = now
	id := st.ID
	job := segmentJob{
		start:    s.opts.ErrorWindowStart(now),
		end:      now,
		typ:      replay.TypeBuffer,
		errorIDs: []string{event.ID},
	}
	q := s.queue
	s.mu.Unlock()

	event.AttachReplayID(id)
	logger.Infof("replay %s: upgraded to full session by error %s", id, event.ID)
	q.Submit(func() { s.encodeSegment(job) })
	return true
}

// Flush waits until every capture dispatched so far is stored and every
// queued segment is encoded.
func (s *Scheduler) Flush() {
	s.mu.Lock()
	for s.inFlight {
		s.captureDone.Wait()
	}
	q := s.queue
	s.mu.Unlock()

	if q != nil {
		q.Sync()
	}
}

// Stop ends the session. A full session flushes its pending window first.
// Stop waits for the processing queue to drain and then removes the
// session's directories, since a cleanly stopped session has nothing left
// to recover.
func (s *Scheduler) Stop() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	s.stopLocked()
}

func (s *Scheduler) stopLocked() {
	now := s.cfg.Now()

	s.mu.Lock()
	q := s.queue
	if q == nil {
		s.mu.Unlock()
		return
	}
	st := &s.state
	wasRunning := st.Running
	st.Running = false
	job := segmentJob{start: st.SegmentStart, end: now, typ: replay.TypeSession}
	flush := wasRunning && st.Mode == replay.ModeFull && !st.Paused && !job.start.IsZero()
	id := st.ID
	dir := st.Dir
	s.queue = nil
	cancel := s.cancelCapture
	s.mu.Unlock()

	s.cfg.Ticker.Stop()
	cancel()

	// A capture still running belongs to this session. Let it land in this
	// session's store before the next Start resets the pending list.
	s.mu.Lock()
	for s.inFlight {
		s.captureDone.Wait()
	}
	s.mu.Unlock()

	if flush {
		q.Submit(func() { s.encodeSegment(job) })
	}
	q.Close()

	info := &session.Info{ReplayID: id, Path: filepath.Base(dir)}
	if err := s.cfg.Dirs.Remove(info); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warnf("replay %s: %v", id, err)
	}
	logger.Infof("replay %s: stopped", id)
}
