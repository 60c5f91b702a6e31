// Package recovery finishes a replay session interrupted by the termination
// of the previous process.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/kataras/golog"

	"github.com/replay-capture/replay-capture/internal/assembler"
	"github.com/replay-capture/replay-capture/internal/encoder"
	"github.com/replay-capture/replay-capture/internal/frames"
	"github.com/replay-capture/replay-capture/internal/options"
	"github.com/replay-capture/replay-capture/internal/replay"
	"github.com/replay-capture/replay-capture/internal/session"
	"github.com/replay-capture/replay-capture/internal/upload"
)

var logger = golog.Child("[replay-recovery]")

// Config wires a Coordinator.
type Config struct {
	Options  options.ReplayOptions
	Dirs     *session.Dirs
	Encoder  *encoder.SegmentEncoder
	Uploader upload.Uploader
	// Float64 returns a sample in [0, 1). Defaults to math/rand.
	Float64 func() float64
}

// Outcome says what happened to the previous session.
type Outcome string

// Outcomes of a recovery run.
const (
	OutcomeNone      Outcome = "none"
	OutcomeRecovered Outcome = "recovered"
	OutcomeNotSample Outcome = "not_sampled"
	OutcomeNoFrames  Outcome = "no_frames"
	OutcomeFailed    Outcome = "failed"
)

// Result describes one recovery run.
type Result struct {
	Outcome      Outcome     `json:"outcome"`
	ReplayID     string      `json:"replay_id,omitempty"`
	Type         replay.Type `json:"replay_type,omitempty"`
	FirstSegment int         `json:"first_segment"`
	Start        time.Time   `json:"start"`
	End          time.Time   `json:"end"`
	Segments     []int       `json:"segments"`
	Frames       int         `json:"frames"`
	Error        string      `json:"error,omitempty"`
}

// Coordinator recovers the "last" session.
type Coordinator struct {
	cfg  Config
	opts options.ReplayOptions
}

// New returns a Coordinator.
func New(cfg Config) *Coordinator {
	opts := cfg.Options
	opts.ApplyDefaults()
	if cfg.Float64 == nil {
		cfg.Float64 = rand.Float64 //nolint:gosec // sampling, not security
	}
	if cfg.Uploader == nil {
		cfg.Uploader = &upload.Memory{}
	}
	return &Coordinator{cfg: cfg, opts: opts}
}

// RunAsync runs Recover on its own goroutine so the caller is never
// blocked. The channel receives exactly one result.
func (c *Coordinator) RunAsync(ctx context.Context, event *replay.ErrorEvent) <-chan *Result {
	out := make(chan *Result, 1)
	go func() {
		out <- c.Recover(ctx, event)
	}()
	return out
}

// RecoverAll recovers every session a dead process left behind: the
// previous session in "last", then the one still in "current", which is
// rotated into "last" first. Only call it when no scheduler owns "current".
// It always returns at least one result.
func (c *Coordinator) RecoverAll(ctx context.Context, event *replay.ErrorEvent) []*Result {
	var results []*Result
	if res := c.Recover(ctx, event); res.Outcome != OutcomeNone {
		results = append(results, res)
	}

	if _, err := os.Stat(c.cfg.Dirs.Current()); err == nil {
		if err := c.cfg.Dirs.Rotate(); err != nil {
			logger.Warnf("%v", err)
			results = append(results, &Result{Outcome: OutcomeFailed, Error: err.Error()})
			return results
		}
		if res := c.Recover(ctx, event); res.Outcome != OutcomeNone {
			results = append(results, res)
		}
	}

	if len(results) == 0 {
		results = append(results, &Result{Outcome: OutcomeNone})
	}
	return results
}

// Recover encodes and uploads what is left of the previous session, then
// deletes its directory. When a replay was produced its id is attached to
// event, which may be nil. Failures never escape: they are logged and
// reported in the result.
func (c *Coordinator) Recover(ctx context.Context, event *replay.ErrorEvent) *Result {
	info, err := c.cfg.Dirs.ReadLast()
	if errors.Is(err, os.ErrNotExist) {
		return &Result{Outcome: OutcomeNone}
	}
	if err != nil {
		logger.Warnf("previous session unreadable, discarding: %v", err)
		c.removeLast()
		return &Result{Outcome: OutcomeFailed, Error: err.Error()}
	}

	res := &Result{ReplayID: info.ReplayID}
	defer func() {
		if err := c.cfg.Dirs.Remove(info); err != nil {
			logger.Warnf("replay %s: %v", info.ReplayID, err)
		}
	}()

	dir := c.cfg.Dirs.Resolve(info)
	store, err := frames.Load(dir)
	if err != nil {
		err = replay.DirectoryError("load frames from", dir, err)
		logger.Warnf("replay %s: %v", info.ReplayID, err)
		res.Outcome, res.Error = OutcomeFailed, err.Error()
		return res
	}

	plan, outcome := c.plan(info, dir, store)
	if outcome != "" {
		res.Outcome = outcome
		return res
	}
	res.Type = plan.typ
	res.FirstSegment = plan.segment
	res.Start = plan.start
	res.End = plan.start.Add(plan.duration)

	videos, err := c.cfg.Encoder.Encode(ctx, store, encoder.Request{
		Start:   res.Start,
		End:     res.End,
		Dir:     c.cfg.Dirs.Segments(info.ReplayID),
		Segment: plan.segment,
	})
	if err != nil {
		logger.Errorf("replay %s: %v", info.ReplayID, err)
		res.Error = err.Error()
	}

	a := assembler.New(&c.opts)
	for i, v := range videos {
		typ := replay.TypeSession
		if i == 0 {
			typ = plan.typ
		}
		segment := plan.segment + i
		rec, err := a.Assemble(assembler.Input{
			ReplayID: info.ReplayID,
			Type:     typ,
			Segment:  segment,
			Video:    v,
			ErrorIDs: errorIDs(event),
		})
		if err != nil {
			logger.Errorf("replay %s: segment %d: %v", info.ReplayID, segment, err)
			continue
		}
		if err := c.cfg.Uploader.Upload(ctx, rec); err != nil {
			logger.Warnf("replay %s: segment %d: upload failed: %v", info.ReplayID, segment, err)
		}
		res.Segments = append(res.Segments, segment)
		res.Frames += v.FrameCount
	}

	if len(res.Segments) == 0 {
		if res.Error == "" {
			res.Outcome = OutcomeNoFrames
			logger.Infof("replay %s: %v in [%s, %s)", info.ReplayID, replay.ErrNoFramesAvailable,
				res.Start.Format(time.RFC3339), res.End.Format(time.RFC3339))
		} else {
			res.Outcome = OutcomeFailed
		}
		return res
	}

	if event != nil {
		event.AttachReplayID(info.ReplayID)
	}
	res.Outcome = OutcomeRecovered
	logger.Infof("replay %s: recovered %d segments from %d", info.ReplayID, len(res.Segments), plan.segment)
	return res
}

type plan struct {
	segment  int
	typ      replay.Type
	start    time.Time
	duration time.Duration
}

// plan picks the window to encode. A crash info file means the session was
// full; otherwise it was buffered and is only kept when sampled.
func (c *Coordinator) plan(info *session.Info, dir string, store *frames.Store) (plan, Outcome) {
	crash, err := session.ReadCrashInfo(dir)
	switch {
	case err == nil:
		return plan{
			segment:  int(crash.LastSegmentIndex) + 1,
			typ:      replay.TypeSession,
			start:    crash.LastSegmentEnd,
			duration: c.opts.SegmentDuration,
		}, ""
	case !errors.Is(err, os.ErrNotExist):
		logger.Warnf("replay %s: ignoring crash info: %v", info.ReplayID, err)
	}

	if sample := c.cfg.Float64(); sample >= info.ErrorSampleRate {
		logger.Debugf("replay %s: buffered session not sampled (%.3f >= %.3f)", info.ReplayID, sample, info.ErrorSampleRate)
		return plan{}, OutcomeNotSample
	}

	oldest, ok := store.OldestFrameTime()
	if !ok {
		logger.Infof("replay %s: %v", info.ReplayID, replay.ErrNoFramesAvailable)
		return plan{}, OutcomeNoFrames
	}
	return plan{
		segment:  0,
		typ:      replay.TypeBuffer,
		start:    oldest,
		duration: c.opts.ErrorBufferDuration,
	}, ""
}

func (c *Coordinator) removeLast() {
	if err := os.RemoveAll(c.cfg.Dirs.Last()); err != nil {
		logger.Warnf("%v", replay.DirectoryError("remove", c.cfg.Dirs.Last(), err))
	}
}

func errorIDs(event *replay.ErrorEvent) []string {
	if event == nil || event.ID == "" {
		return nil
	}
	return []string{event.ID}
}

// String implements fmt.Stringer.
func (r *Result) String() string {
	switch r.Outcome {
	case OutcomeRecovered:
		return fmt.Sprintf("replay %s recovered: %d segments (%s)", r.ReplayID, len(r.Segments), r.Type)
	case OutcomeNone:
		return "no previous session"
	default:
		return fmt.Sprintf("replay %s %s", r.ReplayID, r.Outcome)
	}
}
