// Package report provides structured summaries of replay directories and
// recovery runs, as JSON or colored text.
package report

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/term"

	"github.com/replay-capture/replay-capture/internal/frames"
	"github.com/replay-capture/replay-capture/internal/recovery"
	"github.com/replay-capture/replay-capture/internal/replay"
	"github.com/replay-capture/replay-capture/internal/session"
)

// SessionReport describes one session directory.
type SessionReport struct {
	Name            string     `json:"name"`
	Path            string     `json:"path"`
	ReplayID        string     `json:"replay_id,omitempty"`
	Mode            string     `json:"mode"`
	ErrorSampleRate float64    `json:"error_sample_rate"`
	Frames          int        `json:"frames"`
	Oldest          *time.Time `json:"oldest_frame,omitempty"`
	Newest          *time.Time `json:"newest_frame,omitempty"`
	LastSegment     *uint32    `json:"last_segment,omitempty"`
	LastSegmentEnd  *time.Time `json:"last_segment_end,omitempty"`
	Error           string     `json:"error,omitempty"`
}

// InspectResult describes the whole replay root.
type InspectResult struct {
	Root     string          `json:"root"`
	Sessions []SessionReport `json:"sessions"`
	Stale    []string        `json:"stale"`
}

// Inspect reads the current and last sessions and lists stale directories.
func Inspect(dirs *session.Dirs) (*InspectResult, error) {
	res := &InspectResult{Root: dirs.Root(), Sessions: []SessionReport{}, Stale: []string{}}

	for _, name := range []string{session.CurrentName, session.LastName} {
		dir := filepath.Join(dirs.Root(), name)
		if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
			continue
		}
		res.Sessions = append(res.Sessions, inspectSession(name, dir))
	}

	keep := make([]string, 0, len(res.Sessions))
	for _, s := range res.Sessions {
		if s.ReplayID != "" {
			keep = append(keep, s.ReplayID)
		}
	}
	stale, err := dirs.Stale(keep...)
	if err != nil {
		return nil, err
	}
	for _, dir := range stale {
		res.Stale = append(res.Stale, filepath.Base(dir))
	}
	sort.Strings(res.Stale)
	return res, nil
}

func inspectSession(name, dir string) SessionReport {
	rep := SessionReport{Name: name, Path: dir, Mode: replay.ModeBuffered.String()}

	var problems []string
	if info, err := session.ReadInfo(dir); err == nil {
		rep.ReplayID = info.ReplayID
		rep.ErrorSampleRate = info.ErrorSampleRate
	} else {
		problems = append(problems, err.Error())
	}

	if crash, err := session.ReadCrashInfo(dir); err == nil {
		rep.Mode = replay.ModeFull.String()
		rep.LastSegment = &crash.LastSegmentIndex
		end := crash.LastSegmentEnd
		rep.LastSegmentEnd = &end
	} else if !errors.Is(err, os.ErrNotExist) {
		problems = append(problems, err.Error())
	}

	if store, err := frames.Load(dir); err == nil {
		all := store.Frames()
		rep.Frames = len(all)
		if len(all) > 0 {
			oldest, newest := all[0].Time, all[len(all)-1].Time
			rep.Oldest, rep.Newest = &oldest, &newest
		}
	} else {
		problems = append(problems, err.Error())
	}

	rep.Error = strings.Join(problems, "; ")
	return rep
}

// FormatJSON writes v as compact JSON followed by a newline.
func FormatJSON(w io.Writer, v any) error {
	enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// FormatInspect writes a human readable summary of res.
func FormatInspect(w io.Writer, res *InspectResult, color bool) {
	fmt.Fprintf(w, "%s\n", bold("replay root: "+res.Root, color))
	if len(res.Sessions) == 0 {
		fmt.Fprintln(w, "  no sessions")
	}
	for _, s := range res.Sessions {
		status := green("ok", color)
		if s.Error != "" {
			status = red("error: "+s.Error, color)
		}
		fmt.Fprintf(w, "  %-8s %s  mode=%s frames=%d  %s\n", s.Name, s.ReplayID, s.Mode, s.Frames, status)
		if s.Oldest != nil {
			fmt.Fprintf(w, "           frames %s .. %s\n", s.Oldest.Format(time.RFC3339), s.Newest.Format(time.RFC3339))
		}
		if s.LastSegment != nil {
			fmt.Fprintf(w, "           last segment %d ended %s\n", *s.LastSegment, s.LastSegmentEnd.Format(time.RFC3339))
		}
	}
	if len(res.Stale) > 0 {
		fmt.Fprintf(w, "  stale: %s\n", red(strings.Join(res.Stale, ", "), color))
	}
}

// FormatRecovery writes a one line summary of a recovery run.
func FormatRecovery(w io.Writer, res *recovery.Result, color bool) {
	line := res.String()
	switch res.Outcome {
	case recovery.OutcomeRecovered:
		line = green(line, color)
	case recovery.OutcomeFailed:
		line = red(line+": "+res.Error, color)
	}
	fmt.Fprintln(w, line)
}

// ColorEnabled reports whether ANSI colors should be written to f.
// Priority: REPLAY_CAPTURE_COLOR env > NO_COLOR env > TTY detection.
func ColorEnabled(f *os.File) bool {
	if v := os.Getenv("REPLAY_CAPTURE_COLOR"); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

func red(s string, on bool) string {
	if on {
		return "\033[31m" + s + "\033[0m"
	}
	return s
}

func green(s string, on bool) string {
	if on {
		return "\033[32m" + s + "\033[0m"
	}
	return s
}

func bold(s string, on bool) string {
	if on {
		return "\033[1m" + s + "\033[0m"
	}
	return s
}
